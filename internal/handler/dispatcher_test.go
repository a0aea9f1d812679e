package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zproxy/internal/config"
)

func upgradeRequest() *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Connection", "Upgrade")
	r.Header.Set("Upgrade", "websocket")
	return r
}

func baseConfig() *config.ServerConfig {
	return &config.ServerConfig{
		ZstdLevel:      3,
		GzipLevel:      6,
		CacheMaxAge:    time.Hour,
		ConnectTimeout: time.Second,
		BackendTimeout: time.Second,
	}
}

func TestClassifyProxyMode(t *testing.T) {
	cfg := baseConfig()
	cfg.Mode = config.ModeProxy
	cfg.Forward = &url.URL{Scheme: "http", Host: "127.0.0.1:1"}

	d, err := NewDispatcher(cfg, nil)
	require.NoError(t, err)

	assert.Equal(t, RouteTunnel, d.Classify(upgradeRequest()))
	assert.Equal(t, RouteProxy, d.Classify(httptest.NewRequest(http.MethodGet, "/", nil)))
}

func TestServeModeIgnoresUpgrade(t *testing.T) {
	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.html"), []byte("home"), 0644))

	cfg := baseConfig()
	cfg.Mode = config.ModeServe
	cfg.Root = root

	d, err := NewDispatcher(cfg, nil)
	require.NoError(t, err)

	r := upgradeRequest()
	r.URL.Path = "/"
	assert.Equal(t, RouteFile, d.Classify(r))

	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "home", rec.Body.String())
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", rec.Header().Get("Referrer-Policy"))

	rec = httptest.NewRecorder()
	d.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestProxyModeUnreachableBackend(t *testing.T) {
	cfg := baseConfig()
	cfg.Mode = config.ModeProxy
	cfg.Forward = &url.URL{Scheme: "http", Host: "127.0.0.1:1"}

	d, err := NewDispatcher(cfg, nil)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestUnknownMode(t *testing.T) {
	_, err := NewDispatcher(baseConfig(), nil)
	assert.Error(t, err)
}

func TestHealthHandler(t *testing.T) {
	cfg := baseConfig()
	cfg.Mode = config.ModeProxy
	cfg.Forward = &url.URL{Scheme: "http", Host: "backend:8080"}

	rec := httptest.NewRecorder()
	NewHealthHandler(cfg, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body HealthStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "proxy", body.Mode)
	assert.Equal(t, "http://backend:8080", body.Target)
	assert.Nil(t, body.ArtifactCache)

	rec = httptest.NewRecorder()
	NewHealthHandler(cfg, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
