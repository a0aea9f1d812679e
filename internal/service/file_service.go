package service

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"zproxy/internal/cache"
	"zproxy/internal/compression"
	apperrors "zproxy/internal/errors"
	"zproxy/internal/metrics"
	"zproxy/internal/utils"
)

// FileServiceConfig 静态文件服务配置
type FileServiceConfig struct {
	Root        string
	SPA         bool
	CacheMaxAge time.Duration
	Negotiator  *compression.Negotiator
	Compressors *compression.Manager
	Artifacts   *cache.ArtifactCache // 可为nil
	Metrics     *metrics.Collector
}

// FileService 提供根目录下的静态文件，优先使用预压缩文件
type FileService struct {
	resolver    *PathResolver
	cacheMaxAge time.Duration
	negotiator  *compression.Negotiator
	compressors *compression.Manager
	artifacts   *cache.ArtifactCache
	metrics     *metrics.Collector
}

func NewFileService(cfg FileServiceConfig) *FileService {
	return &FileService{
		resolver:    NewPathResolver(cfg.Root, cfg.SPA),
		cacheMaxAge: cfg.CacheMaxAge,
		negotiator:  cfg.Negotiator,
		compressors: cfg.Compressors,
		artifacts:   cfg.Artifacts,
		metrics:     cfg.Metrics,
	}
}

// ContentType 按扩展名推断类型，未知类型返回 application/octet-stream
func ContentType(name string) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func isHTML(contentType string) bool {
	return strings.HasPrefix(contentType, "text/html")
}

func (s *FileService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		apperrors.WriteHTTP(w, apperrors.New(apperrors.ErrMethodNotAllowed, r.Method, nil))
		return
	}

	entry, err := s.resolver.Resolve(r.URL.Path)
	if err != nil {
		switch apperrors.CodeOf(err) {
		case apperrors.ErrNotFound:
			logrus.Debugf("[FileService] %s: %v", r.URL.Path, err)
		case apperrors.ErrPathTraversal:
			logrus.Warnf("[FileService] Rejected %s from %s: %v", r.URL.Path, utils.GetRequestSource(r), err)
		default:
			logrus.Errorf("[FileService] %s: %v", r.URL.Path, err)
		}
		apperrors.WriteHTTP(w, err)
		return
	}

	if entry.RedirectTo != "" {
		target := entry.RedirectTo
		if r.URL.RawQuery != "" {
			target += "?" + r.URL.RawQuery
		}
		http.Redirect(w, r, target, http.StatusMovedPermanently)
		return
	}

	s.serveEntry(w, r, entry)
}

func (s *FileService) serveEntry(w http.ResponseWriter, r *http.Request, entry *FileEntry) {
	contentType := ContentType(entry.Path)
	header := w.Header()
	header.Set("Content-Type", contentType)
	if entry.Fallback || isHTML(contentType) {
		header.Set("Cache-Control", "no-cache")
	} else {
		header.Set("Cache-Control", fmt.Sprintf("public, max-age=%d", int64(s.cacheMaxAge/time.Second)))
	}

	accepted := compression.ParseAcceptEncoding(r.Header.Values("Accept-Encoding")...)
	decision := s.negotiator.Decide(entry.RequestPath, accepted, contentType, entry.Sidecars)
	if !s.negotiator.Bypass().Match(entry.RequestPath) {
		compression.AddVary(header, "Accept-Encoding")
	}

	if entry.SidecarOnly {
		s.serveSidecarOnly(w, r, entry, decision)
		return
	}

	switch {
	case decision.Kind == compression.DecisionPrecompressed:
		err := s.serveFile(w, r, decision.Path, decision.Encoding)
		if err == nil {
			s.metrics.RecordDecision(string(decision.Encoding), decision.Source())
			return
		}
		logrus.Warnf("[FileService] Sidecar %s unusable, falling back: %v", decision.Path, err)
		decision = compression.None()
	case decision.OnTheFly():
		if s.serveCompressed(w, r, entry, decision) {
			s.metrics.RecordDecision(string(decision.Encoding), decision.Source())
			return
		}
		decision = compression.None()
	}

	s.metrics.RecordDecision(string(decision.Encoding), decision.Source())
	if err := s.serveFile(w, r, entry.Path, compression.EncodingIdentity); err != nil {
		logrus.Errorf("[FileService] %s: %v", r.URL.Path, err)
		apperrors.WriteHTTP(w, err)
	}
}

// serveSidecarOnly 没有原文件可回退，客户端不接受任何预压缩编码时返回404
func (s *FileService) serveSidecarOnly(w http.ResponseWriter, r *http.Request, entry *FileEntry, d compression.Decision) {
	if d.Kind != compression.DecisionPrecompressed {
		w.Header().Del("Cache-Control")
		apperrors.WriteHTTP(w, apperrors.New(apperrors.ErrNotFound, "no acceptable sidecar for "+entry.RequestPath, nil))
		return
	}
	if err := s.serveFile(w, r, d.Path, d.Encoding); err != nil {
		logrus.Errorf("[FileService] %s: %v", r.URL.Path, err)
		w.Header().Del("Content-Encoding")
		apperrors.WriteHTTP(w, err)
		return
	}
	s.metrics.RecordDecision(string(d.Encoding), d.Source())
}

// serveFile 原样发送磁盘文件，支持条件请求和 Range
func (s *FileService) serveFile(w http.ResponseWriter, r *http.Request, name string, enc compression.Encoding) error {
	f, err := os.Open(name)
	if err != nil {
		return apperrors.New(apperrors.ErrIO, "open", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return apperrors.New(apperrors.ErrIO, "stat", err)
	}

	if enc != compression.EncodingIdentity {
		w.Header().Set("Content-Encoding", string(enc))
	}
	// name 为空时 ServeContent 不会按文件名推断类型
	http.ServeContent(w, r, "", info.ModTime(), f)
	return nil
}

// serveCompressed 实时压缩文件。返回 false 表示尚未写出任何内容，调用方应改为原样发送。
func (s *FileService) serveCompressed(w http.ResponseWriter, r *http.Request, entry *FileEntry, d compression.Decision) bool {
	modTime := entry.Info.ModTime()
	if notModified(r, modTime) {
		w.Header().Del("Content-Type")
		w.WriteHeader(http.StatusNotModified)
		return true
	}

	if s.artifacts != nil && entry.Info.Size() <= cache.MaxEntrySize {
		return s.serveArtifact(w, r, entry, d)
	}

	f, err := os.Open(entry.Path)
	if err != nil {
		logrus.Errorf("[FileService] open %s: %v", entry.Path, err)
		return false
	}
	defer f.Close()

	header := w.Header()
	if r.Method == http.MethodHead {
		compression.SetEncodingHeaders(header, d.Encoding)
		header.Set("Last-Modified", modTime.UTC().Format(http.TimeFormat))
		w.WriteHeader(http.StatusOK)
		return true
	}

	enc, d := s.compressors.Prepare(d, w)
	if enc == nil {
		return false
	}
	compression.SetEncodingHeaders(header, d.Encoding)
	header.Set("Last-Modified", modTime.UTC().Format(http.TimeFormat))
	w.WriteHeader(http.StatusOK)

	bw := compression.NewBodyWriter(w, enc)
	buf := make([]byte, compression.BufferSize())
	if _, err := io.CopyBuffer(bw, f, buf); err != nil {
		if !utils.IsConnectionClosed(err) {
			logrus.Errorf("[FileService] Streaming %s: %v", r.URL.Path, err)
		}
		panic(http.ErrAbortHandler)
	}
	if err := bw.Close(); err != nil && !utils.IsConnectionClosed(err) {
		logrus.Errorf("[FileService] Finishing %s stream for %s: %v", d.Encoding, r.URL.Path, err)
	}
	return true
}

// serveArtifact 小文件整体压缩后缓存，按路径、大小、修改时间和编码命中
func (s *FileService) serveArtifact(w http.ResponseWriter, r *http.Request, entry *FileEntry, d compression.Decision) bool {
	key := cache.NewArtifactKey(entry.Path, entry.Info.Size(), entry.Info.ModTime(), string(d.Encoding), d.Level)
	data, ok := s.artifacts.Get(key)
	if !ok {
		raw, err := os.ReadFile(entry.Path)
		if err != nil {
			logrus.Errorf("[FileService] read %s: %v", entry.Path, err)
			return false
		}
		var buf bytes.Buffer
		enc, _ := s.compressors.Prepare(d, &buf)
		if enc == nil {
			return false
		}
		if _, err := enc.Write(raw); err != nil {
			logrus.Warnf("[FileService] Compressing %s: %v", entry.Path, err)
			return false
		}
		if err := enc.Close(); err != nil {
			logrus.Warnf("[FileService] Compressing %s: %v", entry.Path, err)
			return false
		}
		data = buf.Bytes()
		s.artifacts.Put(key, data)
	}

	header := w.Header()
	compression.SetEncodingHeaders(header, d.Encoding)
	header.Set("Content-Length", strconv.Itoa(len(data)))
	header.Set("Last-Modified", entry.Info.ModTime().UTC().Format(http.TimeFormat))
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		w.Write(data)
	}
	return true
}

// notModified 处理 If-Modified-Since，精度为秒
func notModified(r *http.Request, modTime time.Time) bool {
	ims := r.Header.Get("If-Modified-Since")
	if ims == "" || modTime.IsZero() || modTime.Equal(time.Unix(0, 0)) {
		return false
	}
	t, err := http.ParseTime(ims)
	if err != nil {
		return false
	}
	return !modTime.Truncate(time.Second).After(t)
}
