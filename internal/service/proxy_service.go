package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"zproxy/internal/compression"
	apperrors "zproxy/internal/errors"
	"zproxy/internal/metrics"
	"zproxy/internal/utils"
)

// ProxyServiceConfig 反向代理配置
type ProxyServiceConfig struct {
	Target         *url.URL
	ConnectTimeout time.Duration
	BackendTimeout time.Duration
	Retry          RetryConfig
	Negotiator     *compression.Negotiator
	Compressors    *compression.Manager
	Metrics        *metrics.Collector
	Transport      http.RoundTripper // 为空时按超时配置创建
}

// ProxyResult 代理处理结果
type ProxyResult struct {
	StatusCode   int
	BytesWritten int64 // 压缩前的字节数
	Decision     compression.Decision
	Duration     time.Duration
}

// ProxyService 将请求转发到唯一的后端，并按协商结果压缩响应
type ProxyService struct {
	target      *url.URL
	transport   http.RoundTripper
	retry       RetryConfig
	negotiator  *compression.Negotiator
	compressors *compression.Manager
	metrics     *metrics.Collector
}

// NewTransport 创建后端连接池，不自动解压，也不读取代理环境变量
func NewTransport(connectTimeout, backendTimeout time.Duration) *http.Transport {
	return &http.Transport{
		Proxy: nil,
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ResponseHeaderTimeout: backendTimeout,
		DisableCompression:    true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

func NewProxyService(cfg ProxyServiceConfig) *ProxyService {
	rt := cfg.Transport
	if rt == nil {
		rt = NewTransport(cfg.ConnectTimeout, cfg.BackendTimeout)
	}
	return &ProxyService{
		target:      cfg.Target,
		transport:   rt,
		retry:       cfg.Retry,
		negotiator:  cfg.Negotiator,
		compressors: cfg.Compressors,
		metrics:     cfg.Metrics,
	}
}

// ServeHTTP 转发一次请求
func (s *ProxyService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	proxyReq, err := s.CreateProxyRequest(r)
	if err != nil {
		logrus.Errorf("[Proxy] %s %s: %v", r.Method, r.URL.Path, err)
		apperrors.WriteHTTP(w, err)
		return
	}

	resp, err := s.ExecuteRequest(proxyReq)
	if err != nil {
		if errors.Is(r.Context().Err(), context.Canceled) {
			logrus.Debugf("[Proxy] %s %s: client went away", r.Method, r.URL.Path)
			return
		}
		logrus.Errorf("[Proxy] %s %s -> %s: %v", r.Method, r.URL.Path, s.target.Host, err)
		apperrors.WriteHTTP(w, err)
		return
	}
	defer resp.Body.Close()

	result, err := s.ProcessResponse(w, r, resp)
	result.Duration = time.Since(start)
	if err != nil {
		if apperrors.CodeOf(err) == apperrors.ErrUpstreamProtocol && r.Context().Err() == nil {
			logrus.Errorf("[Proxy] %s %s: %v", r.Method, r.URL.Path, err)
			// 响应头已发出，只能中断连接让客户端感知截断
			panic(http.ErrAbortHandler)
		}
		logrus.Debugf("[Proxy] %s %s: %v", r.Method, r.URL.Path, err)
		return
	}

	logrus.Debugf("[Proxy] %s %s -> %d %s (%s, %s)",
		r.Method, r.URL.Path, result.StatusCode, result.Decision,
		utils.FormatBytes(result.BytesWritten), result.Duration)
}

// CreateProxyRequest 创建代理请求，保留客户端的 Host 和 Accept-Encoding
func (s *ProxyService) CreateProxyRequest(r *http.Request) (*http.Request, error) {
	targetURL := *s.target
	targetURL.Path = strings.TrimSuffix(s.target.Path, "/") + r.URL.Path
	if r.URL.RawPath != "" {
		targetURL.RawPath = strings.TrimSuffix(s.target.Path, "/") + r.URL.RawPath
	}
	targetURL.RawQuery = r.URL.RawQuery

	var body io.Reader = r.Body
	if r.ContentLength == 0 {
		body = http.NoBody
	}

	proxyReq, err := http.NewRequestWithContext(r.Context(), r.Method, targetURL.String(), body)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrMalformedRequest, "failed to create proxy request", err)
	}
	if r.ContentLength != 0 {
		proxyReq.ContentLength = r.ContentLength
	}

	copyHeaders(proxyReq.Header, r.Header)
	setForwardedHeaders(proxyReq.Header, r)
	proxyReq.Host = r.Host

	// 客户端没有 User-Agent 时不要让 Transport 补上默认值
	if _, ok := proxyReq.Header["User-Agent"]; !ok {
		proxyReq.Header.Set("User-Agent", "")
	}

	return proxyReq, nil
}

// ExecuteRequest 执行代理请求并将失败归类为网关错误
func (s *ProxyService) ExecuteRequest(proxyReq *http.Request) (*http.Response, error) {
	resp, err := ExecuteWithRetry(s.transport, proxyReq, s.retry)
	if err != nil {
		gerr := classifyBackendError(err)
		s.metrics.RecordBackendError(gerr.Code.String())
		return nil, gerr
	}
	return resp, nil
}

// classifyBackendError 超时返回504，其余连接或协议错误返回502
func classifyBackendError(err error) *apperrors.GatewayError {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return apperrors.New(apperrors.ErrBackendTimeout, "backend timed out", err)
	}
	if isDialError(err) {
		return apperrors.New(apperrors.ErrBackendUnreachable, "backend unreachable", err)
	}
	return apperrors.New(apperrors.ErrUpstreamProtocol, "backend request failed", err)
}

// compressible 判断后端响应能否由代理重新编码
func compressible(r *http.Request, resp *http.Response) bool {
	if r.Method == http.MethodHead || !bodyAllowed(resp.StatusCode) {
		return false
	}
	if resp.StatusCode == http.StatusPartialContent || resp.Header.Get("Content-Range") != "" {
		return false
	}
	return !compression.IsEncoded(resp.Header)
}

// ProcessResponse 处理代理响应，边读边写，不缓冲整个响应体
func (s *ProxyService) ProcessResponse(w http.ResponseWriter, r *http.Request, resp *http.Response) (ProxyResult, error) {
	result := ProxyResult{StatusCode: resp.StatusCode, Decision: compression.None()}

	header := w.Header()
	copyHeaders(header, resp.Header)
	header.Del("Content-Length")

	var enc compression.Encoder
	if compressible(r, resp) {
		accepted := compression.ParseAcceptEncoding(r.Header.Values("Accept-Encoding")...)
		decision := s.negotiator.Decide(r.URL.Path, accepted, resp.Header.Get("Content-Type"), compression.Sidecars{})
		enc, result.Decision = s.compressors.Prepare(decision, w)
		if !s.negotiator.Bypass().Match(r.URL.Path) {
			compression.AddVary(header, "Accept-Encoding")
		}
		s.metrics.RecordDecision(string(result.Decision.Encoding), result.Decision.Source())
	}

	if enc != nil {
		compression.SetEncodingHeaders(header, result.Decision.Encoding)
	} else if resp.ContentLength >= 0 && bodyAllowed(resp.StatusCode) {
		header.Set("Content-Length", strconv.FormatInt(resp.ContentLength, 10))
	}

	w.WriteHeader(resp.StatusCode)
	if r.Method == http.MethodHead || !bodyAllowed(resp.StatusCode) {
		return result, nil
	}

	bw := compression.NewBodyWriter(w, enc)
	// 未知长度的响应通常是流式的，每次读取后立即刷新
	streaming := resp.ContentLength < 0
	written, err := s.stream(bw, resp.Body, streaming)
	result.BytesWritten = written
	if err != nil {
		return result, err
	}
	if err := bw.Close(); err != nil {
		return result, fmt.Errorf("error finishing %s stream: %w", result.Decision.Encoding, err)
	}
	return result, nil
}

// stream 复制响应体，读错误与写错误分开返回
func (s *ProxyService) stream(bw *compression.BodyWriter, body io.Reader, flushEach bool) (int64, error) {
	buf := make([]byte, compression.BufferSize())
	var written int64
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			m, werr := bw.Write(buf[:n])
			written += int64(m)
			if werr != nil {
				if utils.IsConnectionClosed(werr) {
					return written, fmt.Errorf("client closed connection: %w", werr)
				}
				return written, fmt.Errorf("error writing response: %w", werr)
			}
			if flushEach {
				if ferr := bw.Flush(); ferr != nil {
					return written, fmt.Errorf("error flushing response: %w", ferr)
				}
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			s.metrics.RecordBackendError(apperrors.ErrUpstreamProtocol.String())
			return written, apperrors.New(apperrors.ErrUpstreamProtocol, "backend body read failed", rerr)
		}
	}
}
