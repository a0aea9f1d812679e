package config

import (
	"net"
	"net/url"
	"strconv"
	"time"

	"zproxy/internal/compression"
)

// Mode 运行模式，启动时确定，分发时按值匹配
type Mode int

const (
	ModeProxy Mode = iota + 1
	ModeServe
)

func (m Mode) String() string {
	switch m {
	case ModeProxy:
		return "proxy"
	case ModeServe:
		return "serve"
	}
	return "unknown"
}

// ServerConfig 启动时构建的只读配置，所有连接共享
type ServerConfig struct {
	Bind string
	Port int

	Mode    Mode
	Forward *url.URL // ModeProxy
	Root    string   // ModeServe，已解析符号链接的绝对路径
	SPA     bool     // 仅 ModeServe 有效

	ZstdLevel int
	GzipLevel int
	Bypass    *compression.BypassRuleSet
	SkipMedia bool

	CacheMaxAge    time.Duration
	HeaderTimeout  time.Duration
	MaxHeaderBytes int
	ConnectTimeout time.Duration
	BackendTimeout time.Duration
	BackendRetries int

	ArtifactCacheBytes int64
	MetricsListen      string
	S3Sync             bool
}

// ListenAddr 返回监听地址
func (c *ServerConfig) ListenAddr() string {
	return net.JoinHostPort(c.Bind, strconv.Itoa(c.Port))
}

// BackendAddr 返回后端 host:port，用于隧道直连
func (c *ServerConfig) BackendAddr() string {
	if c.Forward == nil {
		return ""
	}
	host := c.Forward.Host
	if c.Forward.Port() == "" {
		host = net.JoinHostPort(c.Forward.Hostname(), "80")
	}
	return host
}

// NegotiatorConfig 派生压缩协商配置
func (c *ServerConfig) NegotiatorConfig() compression.NegotiatorConfig {
	return compression.NegotiatorConfig{
		Bypass:    c.Bypass,
		ZstdLevel: c.ZstdLevel,
		GzipLevel: c.GzipLevel,
		SkipMedia: c.SkipMedia,
	}
}

// Target 描述当前模式的目标，用于日志
func (c *ServerConfig) Target() string {
	switch c.Mode {
	case ModeProxy:
		return c.Forward.String()
	case ModeServe:
		return c.Root
	}
	return ""
}
