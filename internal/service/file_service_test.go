package service

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zproxy/internal/cache"
	"zproxy/internal/compression"
)

func newNegotiator(t *testing.T, patterns ...string) *compression.Negotiator {
	return newMediaNegotiator(t, false, patterns...)
}

func newMediaNegotiator(t *testing.T, skipMedia bool, patterns ...string) *compression.Negotiator {
	t.Helper()
	rules, err := compression.NewBypassRuleSet(patterns)
	require.NoError(t, err)
	return compression.NewNegotiator(compression.NegotiatorConfig{
		Bypass:    rules,
		ZstdLevel: 3,
		GzipLevel: 6,
		SkipMedia: skipMedia,
	})
}

func newCompressors() *compression.Manager {
	return compression.NewManager(compression.Config{ZstdLevel: 3, GzipLevel: 6})
}

func tempRoot(t *testing.T) string {
	t.Helper()
	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	return root
}

func writeFile(t *testing.T, root, rel string, data []byte) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
	require.NoError(t, os.WriteFile(p, data, 0644))
}

func zstdBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	return enc.EncodeAll(data, nil)
}

func unzstd(t *testing.T, data []byte) []byte {
	t.Helper()
	dec, err := zstd.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer dec.Close()
	out, err := io.ReadAll(dec)
	require.NoError(t, err)
	return out
}

func gunzip(t *testing.T, data []byte) []byte {
	t.Helper()
	r, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	return out
}

type fileOption func(*FileServiceConfig)

func withSPA(c *FileServiceConfig) { c.SPA = true }

func withArtifacts(c *FileServiceConfig) { c.Artifacts = cache.NewArtifactCache(1 << 20) }

func withSkipMedia(t *testing.T) fileOption {
	return func(c *FileServiceConfig) { c.Negotiator = newMediaNegotiator(t, true, "^/raw/") }
}

func newFileService(t *testing.T, root string, opts ...fileOption) *FileService {
	cfg := FileServiceConfig{
		Root:        root,
		CacheMaxAge: time.Hour,
		Negotiator:  newNegotiator(t, "^/raw/"),
		Compressors: newCompressors(),
	}
	for _, o := range opts {
		o(&cfg)
	}
	return NewFileService(cfg)
}

func get(s http.Handler, method, target, acceptEncoding string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if acceptEncoding != "" {
		req.Header.Set("Accept-Encoding", acceptEncoding)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestFileServicePrefersSidecars(t *testing.T) {
	root := tempRoot(t)
	raw := []byte(strings.Repeat("console.log('hello');\n", 50))
	zst := zstdBytes(t, raw)
	gz := []byte("pretend-gzip-sidecar")
	writeFile(t, root, "app.js", raw)
	writeFile(t, root, "app.js.zst", zst)
	writeFile(t, root, "app.js.gz", gz)

	s := newFileService(t, root)

	rec := get(s, http.MethodGet, "/app.js", "gzip, zstd")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "zstd", rec.Header().Get("Content-Encoding"))
	assert.Equal(t, zst, rec.Body.Bytes(), "sidecar bytes must be sent unchanged")
	assert.Contains(t, rec.Header().Get("Content-Type"), "javascript")
	assert.Equal(t, "Accept-Encoding", rec.Header().Get("Vary"))

	rec = get(s, http.MethodGet, "/app.js", "gzip")
	assert.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
	assert.Equal(t, gz, rec.Body.Bytes())

	rec = get(s, http.MethodGet, "/app.js", "")
	assert.Empty(t, rec.Header().Get("Content-Encoding"))
	assert.Equal(t, raw, rec.Body.Bytes())
}

func TestFileServiceSidecarWithoutOriginal(t *testing.T) {
	root := tempRoot(t)
	raw := []byte(strings.Repeat("export const x = 1;\n", 30))
	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	_, err := zw.Write(raw)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	writeFile(t, root, "app.js.gz", gz.Bytes())
	writeFile(t, root, "docs/index.html.zst", zstdBytes(t, []byte("<html>docs</html>")))

	s := newFileService(t, root, withSPA)

	rec := get(s, http.MethodGet, "/app.js", "gzip")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
	assert.Contains(t, rec.Header().Get("Content-Type"), "javascript")
	assert.Equal(t, "Accept-Encoding", rec.Header().Get("Vary"))
	assert.Equal(t, raw, gunzip(t, rec.Body.Bytes()))

	// 不接受 gzip 时没有可发送的表示
	for _, accept := range []string{"", "zstd"} {
		rec = get(s, http.MethodGet, "/app.js", accept)
		assert.Equal(t, http.StatusNotFound, rec.Code, accept)
		assert.Empty(t, rec.Header().Get("Content-Encoding"), accept)
	}

	rec = get(s, http.MethodGet, "/docs/", "zstd")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "zstd", rec.Header().Get("Content-Encoding"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "<html>docs</html>", string(unzstd(t, rec.Body.Bytes())))
}

func TestFileServiceSidecarWinsOverOnTheFly(t *testing.T) {
	root := tempRoot(t)
	raw := []byte(strings.Repeat("body { color: red }\n", 40))
	gz := []byte("gzip-sidecar-bytes")
	writeFile(t, root, "site.css", raw)
	writeFile(t, root, "site.css.gz", gz)

	// 只有 gzip 预压缩文件时，即使客户端更偏好 zstd 也使用预压缩文件
	rec := get(newFileService(t, root), http.MethodGet, "/site.css", "zstd, gzip")
	assert.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
	assert.Equal(t, gz, rec.Body.Bytes())
}

func TestFileServiceCompressesOnTheFly(t *testing.T) {
	for name, opts := range map[string][]fileOption{
		"streaming": nil,
		"artifact":  {withArtifacts},
	} {
		t.Run(name, func(t *testing.T) {
			root := tempRoot(t)
			raw := []byte(strings.Repeat("<p>paragraph</p>\n", 200))
			writeFile(t, root, "page.css", raw)
			s := newFileService(t, root, opts...)

			rec := get(s, http.MethodGet, "/page.css", "zstd")
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "zstd", rec.Header().Get("Content-Encoding"))
			assert.Equal(t, raw, unzstd(t, rec.Body.Bytes()))
			assert.Empty(t, rec.Header().Get("Accept-Ranges"))

			rec = get(s, http.MethodGet, "/page.css", "gzip;q=1, zstd;q=0")
			assert.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
			assert.Equal(t, raw, gunzip(t, rec.Body.Bytes()))

			// 第二次请求命中缓存时内容一致
			rec = get(s, http.MethodGet, "/page.css", "gzip")
			assert.Equal(t, raw, gunzip(t, rec.Body.Bytes()))
		})
	}
}

func TestFileServiceHeadCompressed(t *testing.T) {
	root := tempRoot(t)
	writeFile(t, root, "a.txt", []byte(strings.Repeat("a", 4096)))

	rec := get(newFileService(t, root), http.MethodHead, "/a.txt", "gzip")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
	assert.Zero(t, rec.Body.Len())
}

func TestFileServiceBypassIsAbsolute(t *testing.T) {
	root := tempRoot(t)
	raw := []byte(strings.Repeat("x", 2048))
	writeFile(t, root, "raw/data.txt", raw)
	writeFile(t, root, "raw/data.txt.zst", zstdBytes(t, raw))

	rec := get(newFileService(t, root), http.MethodGet, "/raw/data.txt", "zstd, gzip")
	assert.Empty(t, rec.Header().Get("Content-Encoding"))
	assert.Equal(t, raw, rec.Body.Bytes())
	assert.Empty(t, rec.Header().Get("Vary"))
}

func TestFileServiceCompressedMedia(t *testing.T) {
	root := tempRoot(t)
	png := []byte("\x89PNG\r\n\x1a\n-not-really-a-png")
	writeFile(t, root, "logo.png", png)

	// 默认照常实时压缩
	rec := get(newFileService(t, root), http.MethodGet, "/logo.png", "zstd, gzip")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "zstd", rec.Header().Get("Content-Encoding"))
	assert.Equal(t, png, unzstd(t, rec.Body.Bytes()))
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))

	rec = get(newFileService(t, root, withSkipMedia(t)), http.MethodGet, "/logo.png", "zstd, gzip")
	assert.Empty(t, rec.Header().Get("Content-Encoding"))
	assert.Equal(t, png, rec.Body.Bytes())
}

func TestFileServiceTraversal(t *testing.T) {
	root := tempRoot(t)
	outside := tempRoot(t)
	writeFile(t, outside, "secret.txt", []byte("secret"))
	writeFile(t, root, "index.html", []byte("<html></html>"))
	require.NoError(t, os.Symlink(filepath.Join(outside, "secret.txt"), filepath.Join(root, "leak.txt")))
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "linked")))

	s := newFileService(t, root, withSPA)
	for _, target := range []string{"/../secret.txt", "/a/../../secret.txt", "/leak.txt", "/linked/secret.txt", "/..%2fsecret.txt"} {
		rec := get(s, http.MethodGet, target, "")
		assert.Equal(t, http.StatusForbidden, rec.Code, target)
		assert.NotContains(t, rec.Body.String(), "secret", target)
	}
}

func TestFileServiceSidecarMustStayInRoot(t *testing.T) {
	root := tempRoot(t)
	outside := tempRoot(t)
	raw := []byte(strings.Repeat("data ", 100))
	writeFile(t, root, "app.js", raw)
	writeFile(t, outside, "evil.zst", []byte("evil"))
	require.NoError(t, os.Symlink(filepath.Join(outside, "evil.zst"), filepath.Join(root, "app.js.zst")))

	rec := get(newFileService(t, root), http.MethodGet, "/app.js", "zstd")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, raw, unzstd(t, rec.Body.Bytes()))
}

func TestFileServiceSPAFallback(t *testing.T) {
	root := tempRoot(t)
	index := []byte("<html>spa</html>")
	writeFile(t, root, "index.html", index)
	writeFile(t, root, "assets/app.css", []byte("body{}"))

	spa := newFileService(t, root, withSPA)

	rec := get(spa, http.MethodGet, "/dashboard/settings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, index, rec.Body.Bytes())
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")

	rec = get(spa, http.MethodGet, "/assets/missing.js", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = get(spa, http.MethodGet, "/assets/app.css", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "public, max-age=3600", rec.Header().Get("Cache-Control"))

	plain := newFileService(t, root)
	rec = get(plain, http.MethodGet, "/dashboard/settings", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFileServiceDirectories(t *testing.T) {
	root := tempRoot(t)
	writeFile(t, root, "index.html", []byte("root"))
	writeFile(t, root, "docs/index.html", []byte("docs"))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "empty"), 0755))

	s := newFileService(t, root)

	rec := get(s, http.MethodGet, "/", "")
	assert.Equal(t, "root", rec.Body.String())
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))

	rec = get(s, http.MethodGet, "/docs?x=1", "")
	assert.Equal(t, http.StatusMovedPermanently, rec.Code)
	assert.Equal(t, "/docs/?x=1", rec.Header().Get("Location"))

	rec = get(s, http.MethodGet, "/docs/", "")
	assert.Equal(t, "docs", rec.Body.String())

	rec = get(s, http.MethodGet, "/empty/", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFileServiceMethods(t *testing.T) {
	root := tempRoot(t)
	writeFile(t, root, "index.html", []byte("root"))

	rec := get(newFileService(t, root), http.MethodPost, "/index.html", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "GET, HEAD", rec.Header().Get("Allow"))
}

func TestFileServiceConditionalCompressed(t *testing.T) {
	root := tempRoot(t)
	writeFile(t, root, "a.txt", []byte(strings.Repeat("a", 4096)))
	s := newFileService(t, root)

	rec := get(s, http.MethodGet, "/a.txt", "gzip")
	lastModified := rec.Header().Get("Last-Modified")
	require.NotEmpty(t, lastModified)

	req := httptest.NewRequest(http.MethodGet, "/a.txt", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	req.Header.Set("If-Modified-Since", lastModified)
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotModified, rec.Code)
	assert.Zero(t, rec.Body.Len())
}

func TestIsAssetLike(t *testing.T) {
	assert.True(t, IsAssetLike("/static/app.JS"))
	assert.True(t, IsAssetLike("/fonts/x.woff2"))
	assert.False(t, IsAssetLike("/users/42"))
	assert.False(t, IsAssetLike("/about.html"))
}
