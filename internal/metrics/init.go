package metrics

import (
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// Serve 在独立地址上暴露 /metrics 和可选的 /healthz，addr 为空时不启动
func Serve(addr string, c *Collector, health http.Handler) (*http.Server, error) {
	if addr == "" || c == nil {
		return nil, nil
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	if health != nil {
		mux.Handle("/healthz", health)
	}
	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Errorf("[Metrics] listener stopped: %v", err)
		}
	}()
	logrus.Infof("[Metrics] serving /metrics on %s", ln.Addr())
	return server, nil
}
