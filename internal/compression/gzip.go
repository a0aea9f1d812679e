package compression

import (
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"
)

type GzipCompressor struct {
	level int
	pool  sync.Pool
}

func NewGzipCompressor(level int) *GzipCompressor {
	// 确保level在有效范围内
	if level < gzip.BestSpeed || level > gzip.BestCompression {
		level = 6
	}
	return &GzipCompressor{level: level}
}

func (g *GzipCompressor) Compress(w io.Writer) (Encoder, error) {
	if gw, ok := g.pool.Get().(*gzip.Writer); ok {
		gw.Reset(w)
		return &pooledGzipWriter{Writer: gw, pool: &g.pool}, nil
	}
	gw, err := gzip.NewWriterLevel(w, g.level)
	if err != nil {
		return nil, err
	}
	return &pooledGzipWriter{Writer: gw, pool: &g.pool}, nil
}

func (g *GzipCompressor) Encoding() Encoding { return EncodingGzip }

func (g *GzipCompressor) Level() int { return g.level }

type pooledGzipWriter struct {
	*gzip.Writer
	pool *sync.Pool
}

func (p *pooledGzipWriter) Close() error {
	if p.Writer == nil {
		return nil
	}
	err := p.Writer.Close()
	p.pool.Put(p.Writer)
	p.Writer = nil
	return err
}
