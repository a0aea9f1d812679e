package handler

import (
	"fmt"
	"net/http"

	"zproxy/internal/cache"
	"zproxy/internal/compression"
	"zproxy/internal/config"
	"zproxy/internal/metrics"
	"zproxy/internal/middleware"
	"zproxy/internal/service"
)

// Route 请求的处理路径
type Route int

const (
	RouteProxy Route = iota + 1
	RouteTunnel
	RouteFile
)

func (r Route) String() string {
	switch r {
	case RouteProxy:
		return "proxy"
	case RouteTunnel:
		return "tunnel"
	case RouteFile:
		return "file"
	}
	return "unknown"
}

// Dispatcher 按启动时确定的模式分发请求，模式在运行期间不变
type Dispatcher struct {
	mode      config.Mode
	proxy     http.Handler
	tunnel    http.Handler
	files     http.Handler
	artifacts *cache.ArtifactCache
}

// NewDispatcher 根据配置构建对应模式的处理器
func NewDispatcher(cfg *config.ServerConfig, collector *metrics.Collector) (*Dispatcher, error) {
	negotiator := compression.NewNegotiator(cfg.NegotiatorConfig())
	compressors := compression.NewManager(compression.Config{
		ZstdLevel: cfg.ZstdLevel,
		GzipLevel: cfg.GzipLevel,
	})

	d := &Dispatcher{mode: cfg.Mode}
	switch cfg.Mode {
	case config.ModeProxy:
		d.proxy = service.NewProxyService(service.ProxyServiceConfig{
			Target:         cfg.Forward,
			ConnectTimeout: cfg.ConnectTimeout,
			BackendTimeout: cfg.BackendTimeout,
			Retry:          service.DefaultRetryConfig.WithRetries(cfg.BackendRetries),
			Negotiator:     negotiator,
			Compressors:    compressors,
			Metrics:        collector,
		})
		d.tunnel = service.NewTunnelService(service.TunnelServiceConfig{
			BackendAddr:      cfg.BackendAddr(),
			PathPrefix:       cfg.Forward.Path,
			ConnectTimeout:   cfg.ConnectTimeout,
			HandshakeTimeout: cfg.BackendTimeout,
			Metrics:          collector,
		})
	case config.ModeServe:
		d.artifacts = cache.NewArtifactCache(cfg.ArtifactCacheBytes)
		d.files = middleware.SecurityHeaders(service.NewFileService(service.FileServiceConfig{
			Root:        cfg.Root,
			SPA:         cfg.SPA,
			CacheMaxAge: cfg.CacheMaxAge,
			Negotiator:  negotiator,
			Compressors: compressors,
			Artifacts:   d.artifacts,
			Metrics:     collector,
		}))
	default:
		return nil, fmt.Errorf("unknown mode %v", cfg.Mode)
	}
	return d, nil
}

// Artifacts 返回静态模式的压缩缓存，其他模式为nil
func (d *Dispatcher) Artifacts() *cache.ArtifactCache {
	return d.artifacts
}

// Classify 判断请求由哪个引擎处理。升级请求只在代理模式下走隧道。
func (d *Dispatcher) Classify(r *http.Request) Route {
	if d.mode == config.ModeServe {
		return RouteFile
	}
	if service.IsWebSocketUpgrade(r) {
		return RouteTunnel
	}
	return RouteProxy
}

func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch d.Classify(r) {
	case RouteTunnel:
		d.tunnel.ServeHTTP(w, r)
	case RouteProxy:
		d.proxy.ServeHTTP(w, r)
	case RouteFile:
		d.files.ServeHTTP(w, r)
	}
}
