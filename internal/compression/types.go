package compression

import (
	"fmt"
	"io"
)

// Encoding 表示 Content-Encoding 的取值
type Encoding string

const (
	EncodingIdentity Encoding = ""
	EncodingZstd     Encoding = "zstd"
	EncodingGzip     Encoding = "gzip"
)

// Extension 返回预压缩文件的后缀
func (e Encoding) Extension() string {
	switch e {
	case EncodingZstd:
		return ".zst"
	case EncodingGzip:
		return ".gz"
	}
	return ""
}

// DecisionKind 压缩决策类型
type DecisionKind int

const (
	DecisionNone DecisionKind = iota
	DecisionZstd
	DecisionGzip
	DecisionPrecompressed
)

// Decision 一次响应的压缩决策，计算后不再改变
type Decision struct {
	Kind     DecisionKind
	Level    int      // 仅对 DecisionZstd / DecisionGzip 有效
	Path     string   // 仅对 DecisionPrecompressed 有效
	Encoding Encoding // 输出的 Content-Encoding
}

var noneDecision = Decision{Kind: DecisionNone}

// None 返回不压缩的决策
func None() Decision { return noneDecision }

// OnTheFly 表示需要在传输时实时压缩
func (d Decision) OnTheFly() bool {
	return d.Kind == DecisionZstd || d.Kind == DecisionGzip
}

// Source 返回决策来源，用于日志和指标
func (d Decision) Source() string {
	switch d.Kind {
	case DecisionPrecompressed:
		return "precompressed"
	case DecisionZstd, DecisionGzip:
		return "on-the-fly"
	}
	return "none"
}

func (d Decision) String() string {
	switch d.Kind {
	case DecisionZstd:
		return fmt.Sprintf("zstd(%d)", d.Level)
	case DecisionGzip:
		return fmt.Sprintf("gzip(%d)", d.Level)
	case DecisionPrecompressed:
		return fmt.Sprintf("precompressed(%s, %s)", d.Path, d.Encoding)
	}
	return "none"
}

// Encoder 流式压缩写入器
type Encoder interface {
	io.WriteCloser
	Flush() error
}

// Compressor 定义压缩器接口
type Compressor interface {
	Compress(w io.Writer) (Encoder, error)
	Encoding() Encoding
	Level() int
}

// Config 压缩配置结构体
type Config struct {
	ZstdLevel int
	GzipLevel int
}
