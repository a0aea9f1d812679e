package compression

import (
	"net/http"
	"strings"

	"golang.org/x/net/http/httpguts"
)

const (
	defaultBufferSize = 32 * 1024 // 32KB
)

// SetEncodingHeaders 为即将编码的响应设置头部
func SetEncodingHeaders(h http.Header, e Encoding) {
	if e == EncodingIdentity {
		return
	}
	h.Set("Content-Encoding", string(e))
	// 压缩后原长度不再有效
	h.Del("Content-Length")
	h.Del("Accept-Ranges")
}

// AddVary 追加 Vary 值，已存在时不重复
func AddVary(h http.Header, value string) {
	if httpguts.HeaderValuesContainsToken(h.Values("Vary"), value) ||
		httpguts.HeaderValuesContainsToken(h.Values("Vary"), "*") {
		return
	}
	h.Add("Vary", value)
}

// BodyWriter 将响应体写入压缩器，未压缩时直接写入客户端
type BodyWriter struct {
	dst     http.ResponseWriter
	enc     Encoder
	flusher http.Flusher
	written int64
}

func NewBodyWriter(w http.ResponseWriter, enc Encoder) *BodyWriter {
	bw := &BodyWriter{dst: w, enc: enc}
	if f, ok := w.(http.Flusher); ok {
		bw.flusher = f
	}
	return bw
}

func (bw *BodyWriter) Write(p []byte) (int, error) {
	var n int
	var err error
	if bw.enc != nil {
		n, err = bw.enc.Write(p)
	} else {
		n, err = bw.dst.Write(p)
	}
	bw.written += int64(n)
	return n, err
}

// Flush 先刷新压缩器，再刷新底层连接
func (bw *BodyWriter) Flush() error {
	if bw.enc != nil {
		if err := bw.enc.Flush(); err != nil {
			return err
		}
	}
	if bw.flusher != nil {
		bw.flusher.Flush()
	}
	return nil
}

// Close 结束压缩流，不关闭底层连接
func (bw *BodyWriter) Close() error {
	if bw.enc == nil {
		return nil
	}
	return bw.enc.Close()
}

// Written 返回写入的原始字节数（压缩前）
func (bw *BodyWriter) Written() int64 {
	return bw.written
}

// BufferSize 流式复制使用的缓冲区大小
func BufferSize() int {
	return defaultBufferSize
}

// IsEncoded 判断头部是否已经带有非 identity 的 Content-Encoding
func IsEncoded(h http.Header) bool {
	ce := strings.TrimSpace(h.Get("Content-Encoding"))
	return ce != "" && !strings.EqualFold(ce, "identity")
}
