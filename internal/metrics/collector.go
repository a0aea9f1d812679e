package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "zproxy"

// Collector 网关指标收集器，方法在nil接收者上为空操作
type Collector struct {
	registry      *prometheus.Registry
	requests      *prometheus.CounterVec
	responseBytes *prometheus.CounterVec
	decisions     *prometheus.CounterVec
	backendErrors *prometheus.CounterVec
	tunnelsActive prometheus.Gauge
	tunnels       *prometheus.CounterVec
}

// NewCollector 创建收集器并注册到独立的 Registry
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Requests handled, by mode and status code.",
		}, []string{"mode", "code"}),
		responseBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "response_bytes_total",
			Help:      "Response bytes written to clients, after encoding.",
		}, []string{"mode"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compression_decisions_total",
			Help:      "Compression decisions, by output encoding and source.",
		}, []string{"encoding", "source"}),
		backendErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_errors_total",
			Help:      "Backend failures, by kind.",
		}, []string{"kind"}),
		tunnelsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tunnels_active",
			Help:      "WebSocket tunnels currently open.",
		}),
		tunnels: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tunnels_total",
			Help:      "WebSocket upgrade attempts, by result.",
		}, []string{"result"}),
	}

	c.registry.MustRegister(
		c.requests,
		c.responseBytes,
		c.decisions,
		c.backendErrors,
		c.tunnelsActive,
		c.tunnels,
	)
	return c
}

// RecordRequest 记录一次完成的请求
func (c *Collector) RecordRequest(mode string, status int, bytes int64) {
	if c == nil {
		return
	}
	c.requests.WithLabelValues(mode, strconv.Itoa(status)).Inc()
	if bytes > 0 {
		c.responseBytes.WithLabelValues(mode).Add(float64(bytes))
	}
}

// RecordDecision 记录压缩决策
func (c *Collector) RecordDecision(encoding, source string) {
	if c == nil {
		return
	}
	if encoding == "" {
		encoding = "identity"
	}
	c.decisions.WithLabelValues(encoding, source).Inc()
}

// RecordBackendError 记录后端错误
func (c *Collector) RecordBackendError(kind string) {
	if c == nil {
		return
	}
	c.backendErrors.WithLabelValues(kind).Inc()
}

// TunnelOpened 隧道建立
func (c *Collector) TunnelOpened() {
	if c == nil {
		return
	}
	c.tunnelsActive.Inc()
	c.tunnels.WithLabelValues("established").Inc()
}

// TunnelClosed 隧道关闭
func (c *Collector) TunnelClosed() {
	if c == nil {
		return
	}
	c.tunnelsActive.Dec()
}

// TunnelRejected 后端拒绝升级
func (c *Collector) TunnelRejected() {
	if c == nil {
		return
	}
	c.tunnels.WithLabelValues("rejected").Inc()
}

// Handler 返回 /metrics 处理器
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
