package middleware

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/woodchen-ink/go-web-utils/iputil"

	"zproxy/internal/metrics"
	"zproxy/internal/utils"
)

// Hijack 透传给底层连接，隧道依赖它接管客户端连接
func (rw *responseWrapper) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	conn, brw, err := hj.Hijack()
	if err == nil {
		rw.hijacked = true
	}
	return conn, brw, err
}

// AccessLog 记录每个请求的访问日志并统计请求指标
func AccessLog(mode string, collector *metrics.Collector, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &responseWrapper{ResponseWriter: w}

		defer func() {
			status := wrapper.status()
			if wrapper.hijacked {
				status = http.StatusSwitchingProtocols
			}
			collector.RecordRequest(mode, status, wrapper.written)
			logrus.Infof("| %-6s | %3d | %12s | %15s | %10s | %-30s | %s",
				r.Method, status, time.Since(start).Round(time.Microsecond),
				iputil.GetClientIP(r), utils.FormatBytes(wrapper.written),
				utils.GetRequestSource(r), r.URL.RequestURI())
		}()

		next.ServeHTTP(wrapper, r)
	})
}
