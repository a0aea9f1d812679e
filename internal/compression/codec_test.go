package compression

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeZstd(t *testing.T, data []byte) []byte {
	t.Helper()
	dec, err := zstd.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer dec.Close()
	out, err := io.ReadAll(dec)
	require.NoError(t, err)
	return out
}

func decodeGzip(t *testing.T, data []byte) []byte {
	t.Helper()
	r, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	return out
}

func TestManagerEncodersReusePool(t *testing.T) {
	m := NewManager(Config{ZstdLevel: 3, GzipLevel: 6})
	payload := []byte(strings.Repeat("compress me please ", 500))

	for i := 0; i < 3; i++ {
		var zbuf bytes.Buffer
		enc, err := m.NewEncoder(Decision{Kind: DecisionZstd, Level: 3}, &zbuf)
		require.NoError(t, err)
		_, err = enc.Write(payload)
		require.NoError(t, err)
		require.NoError(t, enc.Close())
		assert.Equal(t, payload, decodeZstd(t, zbuf.Bytes()))

		var gbuf bytes.Buffer
		enc, err = m.NewEncoder(Decision{Kind: DecisionGzip, Level: 6}, &gbuf)
		require.NoError(t, err)
		_, err = enc.Write(payload)
		require.NoError(t, err)
		require.NoError(t, enc.Close())
		assert.Equal(t, payload, decodeGzip(t, gbuf.Bytes()))
	}
}

func TestManagerPrepareNone(t *testing.T) {
	m := NewManager(Config{ZstdLevel: 3, GzipLevel: 6})
	enc, d := m.Prepare(None(), io.Discard)
	assert.Nil(t, enc)
	assert.Equal(t, DecisionNone, d.Kind)

	_, err := m.NewEncoder(Decision{Kind: DecisionPrecompressed}, io.Discard)
	assert.Error(t, err)
}

func TestLevelsAreClamped(t *testing.T) {
	assert.Equal(t, 3, NewZstdCompressor(0).Level())
	assert.Equal(t, 19, NewZstdCompressor(19).Level())
	assert.Equal(t, 6, NewGzipCompressor(42).Level())
	assert.Equal(t, 1, NewGzipCompressor(1).Level())
}

func TestBodyWriterFlushesThroughEncoder(t *testing.T) {
	m := NewManager(Config{ZstdLevel: 3, GzipLevel: 6})
	rec := httptest.NewRecorder()
	SetEncodingHeaders(rec.Header(), EncodingGzip)
	AddVary(rec.Header(), "Accept-Encoding")
	AddVary(rec.Header(), "Accept-Encoding")

	enc, d := m.Prepare(Decision{Kind: DecisionGzip, Level: 6, Encoding: EncodingGzip}, rec)
	require.NotNil(t, enc)
	bw := NewBodyWriter(rec, enc)

	_, err := bw.Write([]byte("first "))
	require.NoError(t, err)
	require.NoError(t, bw.Flush())
	assert.True(t, rec.Flushed)
	_, err = bw.Write([]byte("second"))
	require.NoError(t, err)
	require.NoError(t, bw.Close())

	assert.Equal(t, EncodingGzip, d.Encoding)
	assert.Equal(t, int64(12), bw.Written())
	assert.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
	assert.Equal(t, []string{"Accept-Encoding"}, rec.Header().Values("Vary"))
	assert.Equal(t, "first second", string(decodeGzip(t, rec.Body.Bytes())))
}

func TestIsEncoded(t *testing.T) {
	h := http.Header{}
	assert.False(t, IsEncoded(h))
	h.Set("Content-Encoding", "identity")
	assert.False(t, IsEncoded(h))
	h.Set("Content-Encoding", "br")
	assert.True(t, IsEncoded(h))
}
