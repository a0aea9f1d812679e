package service

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	apperrors "zproxy/internal/errors"
	"zproxy/internal/metrics"
	"zproxy/internal/utils"
)

// TunnelServiceConfig 隧道配置
type TunnelServiceConfig struct {
	BackendAddr      string // host:port
	PathPrefix       string // 后端URL的路径前缀
	ConnectTimeout   time.Duration
	HandshakeTimeout time.Duration
	Metrics          *metrics.Collector
}

// TunnelService 在客户端与后端之间建立原始字节隧道，不解析 WebSocket 帧
type TunnelService struct {
	backendAddr      string
	pathPrefix       string
	connectTimeout   time.Duration
	handshakeTimeout time.Duration
	metrics          *metrics.Collector
}

func NewTunnelService(cfg TunnelServiceConfig) *TunnelService {
	return &TunnelService{
		backendAddr:      cfg.BackendAddr,
		pathPrefix:       strings.TrimSuffix(cfg.PathPrefix, "/"),
		connectTimeout:   cfg.ConnectTimeout,
		handshakeTimeout: cfg.HandshakeTimeout,
		metrics:          cfg.Metrics,
	}
}

// TunnelSession 一条已建立的隧道，两个方向各自独立复制
type TunnelSession struct {
	client        net.Conn
	clientReader  io.Reader
	backend       net.Conn
	backendReader io.Reader

	closeOnce  sync.Once
	upstream   atomic.Int64 // 客户端到后端
	downstream atomic.Int64 // 后端到客户端
	started    time.Time
}

func (s *TunnelService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	session, err := s.Establish(w, r)
	if err != nil {
		switch apperrors.CodeOf(err) {
		case apperrors.ErrTunnelRejected:
			logrus.Infof("[Tunnel] %s %s: %v", r.Method, r.URL.Path, err)
		default:
			logrus.Errorf("[Tunnel] %s %s: %v", r.Method, r.URL.Path, err)
		}
		return
	}

	s.metrics.TunnelOpened()
	defer s.metrics.TunnelClosed()

	logrus.Debugf("[Tunnel] %s opened to %s", r.URL.Path, s.backendAddr)
	if err := session.Run(); err != nil {
		logrus.Debugf("[Tunnel] %s closed: %v", r.URL.Path, err)
	}
	up, down := session.Bytes()
	logrus.Debugf("[Tunnel] %s finished after %s (up %s, down %s)", r.URL.Path,
		time.Since(session.started).Round(time.Millisecond), utils.FormatBytes(up), utils.FormatBytes(down))
}

// Establish 向后端转发升级请求并等待应答。
// 返回错误时客户端已经收到了相应的响应。
func (s *TunnelService) Establish(w http.ResponseWriter, r *http.Request) (*TunnelSession, error) {
	dialer := net.Dialer{Timeout: s.connectTimeout}
	backend, err := dialer.DialContext(r.Context(), "tcp", s.backendAddr)
	if err != nil {
		return nil, s.fail(w, err)
	}

	if s.handshakeTimeout > 0 {
		backend.SetDeadline(time.Now().Add(s.handshakeTimeout))
	}
	if err := s.writeUpgradeRequest(backend, r); err != nil {
		backend.Close()
		return nil, s.fail(w, err)
	}

	backendReader := bufio.NewReader(backend)
	resp, err := http.ReadResponse(backendReader, r)
	if err != nil {
		backend.Close()
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, s.fail(w, classifyBackendError(err))
		}
		return nil, s.fail(w, apperrors.New(apperrors.ErrUpstreamProtocol, "invalid upgrade response", err))
	}
	backend.SetDeadline(time.Time{})

	hj, ok := w.(http.Hijacker)
	if !ok {
		resp.Body.Close()
		backend.Close()
		err := apperrors.New(apperrors.ErrIO, "response writer does not support hijacking", nil)
		apperrors.WriteHTTP(w, err)
		return nil, err
	}
	client, clientRW, err := hj.Hijack()
	if err != nil {
		resp.Body.Close()
		backend.Close()
		return nil, apperrors.New(apperrors.ErrIO, "hijack failed", err)
	}
	client.SetDeadline(time.Time{})

	if !isUpgradeResponse(resp) {
		// 后端拒绝升级，原样转发后关闭两端
		s.metrics.TunnelRejected()
		werr := resp.Write(client)
		resp.Body.Close()
		client.Close()
		backend.Close()
		if werr != nil && !utils.IsConnectionClosed(werr) {
			return nil, apperrors.New(apperrors.ErrIO, "relaying declined upgrade", werr)
		}
		return nil, apperrors.New(apperrors.ErrTunnelRejected,
			fmt.Sprintf("backend answered %d", resp.StatusCode), nil)
	}

	if err := writeResponseHead(clientRW.Writer, resp); err != nil {
		client.Close()
		backend.Close()
		return nil, apperrors.New(apperrors.ErrIO, "writing 101 to client", err)
	}

	return &TunnelSession{
		client:        client,
		clientReader:  clientRW.Reader,
		backend:       backend,
		backendReader: backendReader,
		started:       time.Now(),
	}, nil
}

// fail 在劫持之前返回错误响应
func (s *TunnelService) fail(w http.ResponseWriter, err error) error {
	gerr := err
	if apperrors.CodeOf(err) == 0 {
		gerr = classifyBackendError(err)
	}
	s.metrics.RecordBackendError(apperrors.CodeOf(gerr).String())
	s.metrics.TunnelRejected()
	apperrors.WriteHTTP(w, gerr)
	return gerr
}

// writeUpgradeRequest 按原始请求行、Host 和头部写出升级请求
func (s *TunnelService) writeUpgradeRequest(conn net.Conn, r *http.Request) error {
	uri := r.RequestURI
	if !strings.HasPrefix(uri, "/") {
		uri = r.URL.RequestURI()
	}

	bw := bufio.NewWriter(conn)
	fmt.Fprintf(bw, "%s %s%s %s\r\n", r.Method, s.pathPrefix, uri, r.Proto)
	if r.Host != "" {
		fmt.Fprintf(bw, "Host: %s\r\n", r.Host)
	}
	if err := r.Header.Write(bw); err != nil {
		return err
	}
	if _, err := bw.WriteString("\r\n"); err != nil {
		return err
	}
	if r.ContentLength > 0 {
		if _, err := io.CopyN(bw, r.Body, r.ContentLength); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// writeResponseHead 写出 101 响应头，不附加任何头部
func writeResponseHead(bw *bufio.Writer, resp *http.Response) error {
	status := resp.Status
	if status == "" {
		status = fmt.Sprintf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	fmt.Fprintf(bw, "HTTP/%d.%d %s\r\n", resp.ProtoMajor, resp.ProtoMinor, status)
	if err := resp.Header.Write(bw); err != nil {
		return err
	}
	if _, err := bw.WriteString("\r\n"); err != nil {
		return err
	}
	return bw.Flush()
}

// Run 双向复制直到任意一端结束，随后关闭两端
func (t *TunnelSession) Run() error {
	var g errgroup.Group
	g.Go(func() error {
		defer t.close()
		n, err := io.Copy(t.backend, t.clientReader)
		t.upstream.Add(n)
		return err
	})
	g.Go(func() error {
		defer t.close()
		n, err := io.Copy(t.client, t.backendReader)
		t.downstream.Add(n)
		return err
	})

	err := g.Wait()
	if err != nil && (errors.Is(err, net.ErrClosed) || utils.IsConnectionClosed(err) || errors.Is(err, context.Canceled)) {
		return nil
	}
	return err
}

func (t *TunnelSession) close() {
	t.closeOnce.Do(func() {
		t.client.Close()
		t.backend.Close()
	})
}

// Bytes 返回两个方向已复制的字节数
func (t *TunnelSession) Bytes() (up, down int64) {
	return t.upstream.Load(), t.downstream.Load()
}
