package compression

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

// Manager 持有各编码的压缩器，启动后只读
type Manager struct {
	zstd *ZstdCompressor
	gzip *GzipCompressor
}

// NewManager 创建新的压缩管理器
func NewManager(config Config) *Manager {
	return &Manager{
		zstd: NewZstdCompressor(config.ZstdLevel),
		gzip: NewGzipCompressor(config.GzipLevel),
	}
}

// Compressor 返回决策对应的压缩器，不需要实时压缩时返回nil
func (m *Manager) Compressor(d Decision) Compressor {
	switch d.Kind {
	case DecisionZstd:
		return m.zstd
	case DecisionGzip:
		return m.gzip
	}
	return nil
}

// NewEncoder 为实时压缩决策创建写入器
func (m *Manager) NewEncoder(d Decision, w io.Writer) (Encoder, error) {
	c := m.Compressor(d)
	if c == nil {
		return nil, fmt.Errorf("decision %s does not need an encoder", d)
	}
	return c.Compress(w)
}

// Prepare 创建写入器，失败时降级为不压缩并记录日志
func (m *Manager) Prepare(d Decision, w io.Writer) (Encoder, Decision) {
	if !d.OnTheFly() {
		return nil, d
	}
	enc, err := m.NewEncoder(d, w)
	if err != nil {
		logrus.Warnf("[Compression] failed to initialise %s encoder, sending identity: %v", d, err)
		return nil, None()
	}
	return enc, d
}
