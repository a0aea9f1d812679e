package service

import (
	"net"
	"net/http"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// 基础 hop-by-hop 头部
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// copyHeaders 复制HTTP头部，过滤hop-by-hop头部以及 Connection 中列出的头部
func copyHeaders(dst, src http.Header) {
	skip := make(map[string]bool, len(hopHeaders))
	for _, h := range hopHeaders {
		skip[h] = true
	}
	for _, v := range src.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				skip[http.CanonicalHeaderKey(name)] = true
			}
		}
	}

	for name, values := range src {
		if skip[name] {
			continue
		}
		dst[name] = append([]string(nil), values...)
	}
}

// setForwardedHeaders 设置代理头部
func setForwardedHeaders(dst http.Header, r *http.Request) {
	// 两个头都只取直连对端地址，客户端自带的 X-Real-IP 被覆盖
	if peer, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && peer != "" {
		dst.Set("X-Real-IP", peer)
		if prior := dst.Values("X-Forwarded-For"); len(prior) > 0 {
			dst.Set("X-Forwarded-For", strings.Join(prior, ", ")+", "+peer)
		} else {
			dst.Set("X-Forwarded-For", peer)
		}
	}

	if dst.Get("X-Forwarded-Host") == "" && r.Host != "" {
		dst.Set("X-Forwarded-Host", r.Host)
	}
	proto := "http"
	if r.TLS != nil {
		proto = "https"
	}
	if dst.Get("X-Forwarded-Proto") == "" {
		dst.Set("X-Forwarded-Proto", proto)
	}
}

// IsWebSocketUpgrade 判断请求是否为 WebSocket 升级请求
func IsWebSocketUpgrade(r *http.Request) bool {
	return httpguts.HeaderValuesContainsToken(r.Header.Values("Connection"), "upgrade") &&
		httpguts.HeaderValuesContainsToken(r.Header.Values("Upgrade"), "websocket")
}

// isUpgradeResponse 判断后端是否同意切换到 WebSocket
func isUpgradeResponse(resp *http.Response) bool {
	return resp.StatusCode == http.StatusSwitchingProtocols &&
		httpguts.HeaderValuesContainsToken(resp.Header.Values("Upgrade"), "websocket")
}

// bodyAllowed 判断状态码是否允许响应体
func bodyAllowed(status int) bool {
	switch {
	case status >= 100 && status <= 199:
		return false
	case status == http.StatusNoContent, status == http.StatusNotModified:
		return false
	}
	return true
}
