package service

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// RetryConfig 重试配置
type RetryConfig struct {
	MaxRetries   int           // 最大重试次数
	InitialDelay time.Duration // 初始延迟
	MaxDelay     time.Duration // 最大延迟
	Multiplier   float64       // 延迟倍增因子
}

// DefaultRetryConfig 默认重试配置
var DefaultRetryConfig = RetryConfig{
	MaxRetries:   2,                      // 最多重试2次 (总共3次请求)
	InitialDelay: 100 * time.Millisecond, // 初始延迟100ms
	MaxDelay:     2 * time.Second,        // 最大延迟2s
	Multiplier:   2.0,                    // 指数退避因子
}

// WithRetries 返回修改了重试次数的配置
func (c RetryConfig) WithRetries(n int) RetryConfig {
	if n < 0 {
		n = 0
	}
	c.MaxRetries = n
	return c
}

// isDialError 判断错误是否发生在建立连接阶段
func isDialError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Op == "dial"
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

// isRetriable 只有连接失败且请求没有请求体时才重试，
// 此时后端一定没有收到任何字节
func isRetriable(req *http.Request, err error) bool {
	if err == nil || !isDialError(err) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return req.Body == nil || req.Body == http.NoBody
}

// ExecuteWithRetry 执行带重试的后端请求，不跟随重定向，也不按状态码重试
func ExecuteWithRetry(rt http.RoundTripper, req *http.Request, config RetryConfig) (*http.Response, error) {
	var lastErr error
	delay := config.InitialDelay

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		// 第一次不延迟
		if attempt > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-req.Context().Done():
				timer.Stop()
				return nil, lastErr
			}

			logrus.Debugf("[Retry] Attempt %d/%d for %s (delay: %v, last error: %v)",
				attempt+1, config.MaxRetries+1, req.URL.String(), delay, lastErr)

			// 指数退避
			delay = time.Duration(float64(delay) * config.Multiplier)
			if delay > config.MaxDelay {
				delay = config.MaxDelay
			}
		}

		resp, err := rt.RoundTrip(req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !isRetriable(req, err) {
			return nil, err
		}
		logrus.Debugf("[Retry] Retriable error for %s: %v", req.URL.String(), err)
	}

	logrus.Warnf("[Retry] Max retries exceeded for %s: %v", req.URL.String(), lastErr)
	return nil, lastErr
}
