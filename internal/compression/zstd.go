package compression

import (
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
)

type ZstdCompressor struct {
	level int
	pool  sync.Pool
}

func NewZstdCompressor(level int) *ZstdCompressor {
	// 确保level在有效范围内 (1-22)
	if level < 1 || level > 22 {
		level = 3
	}
	return &ZstdCompressor{level: level}
}

func (z *ZstdCompressor) Compress(w io.Writer) (Encoder, error) {
	if enc, ok := z.pool.Get().(*zstd.Encoder); ok {
		enc.Reset(w)
		return &pooledZstdEncoder{Encoder: enc, pool: &z.pool}, nil
	}
	enc, err := zstd.NewWriter(w,
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(z.level)),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		return nil, err
	}
	return &pooledZstdEncoder{Encoder: enc, pool: &z.pool}, nil
}

func (z *ZstdCompressor) Encoding() Encoding { return EncodingZstd }

func (z *ZstdCompressor) Level() int { return z.level }

type pooledZstdEncoder struct {
	*zstd.Encoder
	pool *sync.Pool
}

func (p *pooledZstdEncoder) Close() error {
	if p.Encoder == nil {
		return nil
	}
	err := p.Encoder.Close()
	p.pool.Put(p.Encoder)
	p.Encoder = nil
	return err
}
