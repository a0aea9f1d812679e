package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"zproxy/internal/compression"
	apperrors "zproxy/internal/errors"
)

// Options 命令行参数的原始值
type Options struct {
	Bind      string
	Port      int
	Forward   string
	Serve     string
	ZstdLevel int
	GzipLevel int
	Bypass    []string
	SPA       bool

	CacheMaxAge    time.Duration
	HeaderTimeout  time.Duration
	MaxHeaderBytes int
	ConnectTimeout time.Duration
	BackendTimeout time.Duration
	BackendRetries int
	SkipMedia      bool
	ArtifactCache  int
	MetricsListen  string
	S3Sync         bool
}

// DefaultOptions 默认参数
func DefaultOptions() Options {
	return Options{
		Bind:           "127.0.0.1",
		Port:           9866,
		ZstdLevel:      3,
		GzipLevel:      6,
		CacheMaxAge:    time.Hour,
		HeaderTimeout:  10 * time.Second,
		MaxHeaderBytes: 64 * 1024,
		ConnectTimeout: 5 * time.Second,
		BackendTimeout: 60 * time.Second,
		BackendRetries: 2,
		ArtifactCache:  32,
	}
}

// BindFlags 将参数注册到 FlagSet
func BindFlags(fs *pflag.FlagSet, o *Options) {
	d := DefaultOptions()
	fs.StringVarP(&o.Bind, "bind", "b", d.Bind, "Listening address")
	fs.IntVarP(&o.Port, "port", "p", d.Port, "Listening port")
	fs.StringVarP(&o.Forward, "forward", "f", "", "Backend to forward to (host:port or http://host:port/prefix)")
	fs.StringVarP(&o.Serve, "serve", "s", "", "Directory to serve")
	fs.IntVarP(&o.ZstdLevel, "zstd-level", "z", d.ZstdLevel, "On-the-fly zstd level (1-22)")
	fs.IntVarP(&o.GzipLevel, "gzip-level", "g", d.GzipLevel, "On-the-fly gzip level (1-9)")
	fs.StringArrayVarP(&o.Bypass, "bypass", "i", nil, "Regex of request paths that skip compression (repeatable)")
	fs.BoolVar(&o.SPA, "spa", false, "Serve /index.html for unmatched non-asset routes (serve mode only)")
	fs.DurationVar(&o.CacheMaxAge, "cache-max-age", d.CacheMaxAge, "Cache-Control max-age for served assets")
	fs.DurationVar(&o.HeaderTimeout, "header-timeout", d.HeaderTimeout, "Time budget for reading a request head")
	fs.IntVar(&o.MaxHeaderBytes, "max-header-bytes", d.MaxHeaderBytes, "Size budget for a request head")
	fs.DurationVar(&o.ConnectTimeout, "connect-timeout", d.ConnectTimeout, "Backend connect timeout")
	fs.DurationVar(&o.BackendTimeout, "backend-timeout", d.BackendTimeout, "Time to wait for the backend response head")
	fs.IntVar(&o.BackendRetries, "backend-retries", d.BackendRetries, "Retries on backend dial failure for requests without a body")
	fs.BoolVar(&o.SkipMedia, "skip-media", false, "Do not compress already-compressed media types (images, audio, video, archives) on the fly")
	fs.IntVar(&o.ArtifactCache, "artifact-cache", d.ArtifactCache, "MiB of memory for compressed file artifacts (0 disables)")
	fs.StringVar(&o.MetricsListen, "metrics-listen", "", "Address for the Prometheus /metrics listener")
	fs.BoolVar(&o.S3Sync, "s3-sync", false, "Pull the serve root from S3 before listening (SYNC_S3_* env)")
}

// Build 校验参数并构建只读配置
func (o Options) Build() (*ServerConfig, error) {
	cfg := &ServerConfig{
		Bind:               o.Bind,
		Port:               o.Port,
		ZstdLevel:          o.ZstdLevel,
		GzipLevel:          o.GzipLevel,
		SkipMedia:          o.SkipMedia,
		CacheMaxAge:        o.CacheMaxAge,
		HeaderTimeout:      o.HeaderTimeout,
		MaxHeaderBytes:     o.MaxHeaderBytes,
		ConnectTimeout:     o.ConnectTimeout,
		BackendTimeout:     o.BackendTimeout,
		BackendRetries:     o.BackendRetries,
		ArtifactCacheBytes: int64(o.ArtifactCache) << 20,
		MetricsListen:      o.MetricsListen,
		S3Sync:             o.S3Sync,
	}

	hasForward := strings.TrimSpace(o.Forward) != ""
	hasServe := strings.TrimSpace(o.Serve) != ""
	switch {
	case hasForward && hasServe:
		return nil, invalid("--forward and --serve are mutually exclusive", nil)
	case !hasForward && !hasServe:
		return nil, invalid("exactly one of --forward or --serve is required", nil)
	case hasForward:
		target, err := ParseForward(o.Forward)
		if err != nil {
			return nil, invalid("invalid --forward", err)
		}
		cfg.Mode = ModeProxy
		cfg.Forward = target
		if o.SPA {
			logrus.Warnf("[Config] --spa has no effect with --forward")
		}
		if o.S3Sync {
			return nil, invalid("--s3-sync requires --serve", nil)
		}
	default:
		root, err := resolveRoot(o.Serve)
		if err != nil {
			return nil, invalid("invalid --serve", err)
		}
		cfg.Mode = ModeServe
		cfg.Root = root
		cfg.SPA = o.SPA
	}

	if strings.TrimSpace(o.Bind) == "" {
		return nil, invalid("--bind is required", nil)
	}
	if o.Port < 1 || o.Port > 65535 {
		return nil, invalid(fmt.Sprintf("--port %d out of range", o.Port), nil)
	}
	if o.ZstdLevel < 1 || o.ZstdLevel > 22 {
		return nil, invalid(fmt.Sprintf("--zstd-level %d out of range 1-22", o.ZstdLevel), nil)
	}
	if o.GzipLevel < 1 || o.GzipLevel > 9 {
		return nil, invalid(fmt.Sprintf("--gzip-level %d out of range 1-9", o.GzipLevel), nil)
	}
	if o.HeaderTimeout <= 0 || o.ConnectTimeout <= 0 || o.BackendTimeout <= 0 {
		return nil, invalid("timeouts must be positive", nil)
	}
	if o.MaxHeaderBytes < 1024 {
		return nil, invalid("--max-header-bytes must be at least 1024", nil)
	}
	if o.BackendRetries < 0 || o.ArtifactCache < 0 || o.CacheMaxAge < 0 {
		return nil, invalid("retries, cache sizes and ages cannot be negative", nil)
	}

	bypass, err := compression.NewBypassRuleSet(o.Bypass)
	if err != nil {
		return nil, invalid("invalid --bypass", err)
	}
	cfg.Bypass = bypass

	return cfg, nil
}

// ParseForward 解析后端地址，缺省协议时按 http 处理
func ParseForward(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("missing host in %q", raw)
	}
	if u.RawQuery != "" || u.Fragment != "" || u.User != nil {
		return nil, fmt.Errorf("target must not carry userinfo, query or fragment")
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	u.RawPath = ""
	return u, nil
}

func resolveRoot(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", dir)
	}
	return resolved, nil
}

func invalid(msg string, err error) error {
	return apperrors.New(apperrors.ErrInvalidConfig, msg, err)
}
