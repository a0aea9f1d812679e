package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"zproxy/internal/cache"
	"zproxy/internal/config"
)

// HealthHandler 运维监听地址上的健康检查接口
type HealthHandler struct {
	mode      string
	target    string
	started   time.Time
	artifacts *cache.ArtifactCache
}

// NewHealthHandler 创建健康检查处理器
func NewHealthHandler(cfg *config.ServerConfig, artifacts *cache.ArtifactCache) *HealthHandler {
	return &HealthHandler{
		mode:      cfg.Mode.String(),
		target:    cfg.Target(),
		started:   time.Now(),
		artifacts: artifacts,
	}
}

// HealthStatusResponse 健康状态响应
type HealthStatusResponse struct {
	Status        string            `json:"status"`
	Mode          string            `json:"mode"`
	Target        string            `json:"target"`
	Uptime        string            `json:"uptime"`
	ArtifactCache *cache.CacheStats `json:"artifact_cache,omitempty"`
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := HealthStatusResponse{
		Status: "ok",
		Mode:   h.mode,
		Target: h.target,
		Uptime: time.Since(h.started).Round(time.Second).String(),
	}
	if h.artifacts != nil {
		stats := h.artifacts.GetStats()
		resp.ArtifactCache = &stats
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logrus.Debugf("[Health] write failed: %v", err)
	}
}
