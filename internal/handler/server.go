package handler

import (
	"net/http"
	"time"

	"zproxy/internal/config"
	"zproxy/internal/metrics"
	"zproxy/internal/middleware"
	"zproxy/internal/utils"
)

const idleTimeout = 120 * time.Second

// NewServer 创建主监听的 http.Server。
// 请求头超过时间预算时连接直接关闭；超过大小预算返回 431，无法解析返回 400。
func NewServer(cfg *config.ServerConfig, collector *metrics.Collector, d *Dispatcher) *http.Server {
	return &http.Server{
		Handler:           middleware.AccessLog(cfg.Mode.String(), collector, d),
		ReadHeaderTimeout: cfg.HeaderTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
		IdleTimeout:       idleTimeout,
		ErrorLog:          utils.NewServerErrorLog(),
	}
}
