package service

import (
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"syscall"

	"zproxy/internal/compression"
	apperrors "zproxy/internal/errors"
)

const indexFile = "index.html"

// FileEntry 解析后的静态文件
type FileEntry struct {
	Path        string // 已解析符号链接的绝对路径，SidecarOnly 时为原文件名，只用于推断类型
	Info        fs.FileInfo
	Sidecars    compression.Sidecars
	SidecarOnly bool   // 原文件不存在，只能发送预压缩文件
	Fallback    bool   // SPA 回退到根 index.html
	RedirectTo  string // 非空时需要301到带斜杠的目录地址
	RequestPath string // 清理后的请求路径
}

// PathResolver 将请求路径映射到根目录下的文件，结果保证不越出根目录
type PathResolver struct {
	root string
	spa  bool
}

// NewPathResolver root 必须是已解析符号链接的绝对路径
func NewPathResolver(root string, spa bool) *PathResolver {
	return &PathResolver{root: root, spa: spa}
}

// Root 返回根目录
func (p *PathResolver) Root() string {
	return p.root
}

// hasDotDot 判断路径中是否含有 .. 段
func hasDotDot(p string) bool {
	if !strings.Contains(p, "..") {
		return false
	}
	for _, seg := range strings.FieldsFunc(p, func(r rune) bool { return r == '/' || r == '\\' }) {
		if seg == ".." {
			return true
		}
	}
	return false
}

// Resolve 解析请求路径。越界返回 ErrPathTraversal，不存在返回 ErrNotFound。
func (p *PathResolver) Resolve(requestPath string) (*FileEntry, error) {
	if requestPath == "" {
		requestPath = "/"
	}
	if hasDotDot(requestPath) || strings.ContainsRune(requestPath, 0) {
		return nil, apperrors.New(apperrors.ErrPathTraversal, "parent segment in "+requestPath, nil)
	}

	clean := path.Clean("/" + requestPath)
	resolved, info, err := p.confine(filepath.Join(p.root, filepath.FromSlash(clean)))
	switch {
	case err == nil:
	case apperrors.CodeOf(err) == apperrors.ErrNotFound:
		if entry := p.sidecarOnly(filepath.Join(p.root, filepath.FromSlash(clean)), clean); entry != nil {
			return entry, nil
		}
		return p.fallback(clean, err)
	default:
		return nil, err
	}

	entry := &FileEntry{Path: resolved, Info: info, RequestPath: clean}
	if info.IsDir() {
		if !strings.HasSuffix(requestPath, "/") {
			entry.RedirectTo = clean + "/"
			return entry, nil
		}
		indexPath, indexInfo, err := p.confine(filepath.Join(resolved, indexFile))
		if err != nil {
			if apperrors.CodeOf(err) == apperrors.ErrNotFound {
				if entry := p.sidecarOnly(filepath.Join(resolved, indexFile), clean); entry != nil {
					return entry, nil
				}
				return p.fallback(clean, err)
			}
			return nil, err
		}
		entry.Path, entry.Info = indexPath, indexInfo
	}

	if !entry.Info.Mode().IsRegular() {
		return nil, apperrors.New(apperrors.ErrNotFound, clean+" is not a regular file", nil)
	}
	entry.Sidecars = p.sidecars(entry.Path)
	return entry, nil
}

// fallback 单页应用模式下，非资源路径回退到根 index.html
func (p *PathResolver) fallback(clean string, cause error) (*FileEntry, error) {
	if !p.spa || IsAssetLike(clean) {
		return nil, cause
	}
	resolved, info, err := p.confine(filepath.Join(p.root, indexFile))
	if err != nil {
		return nil, cause
	}
	if !info.Mode().IsRegular() {
		return nil, cause
	}
	return &FileEntry{
		Path:        resolved,
		Info:        info,
		Sidecars:    p.sidecars(resolved),
		Fallback:    true,
		RequestPath: clean,
	}, nil
}

// sidecarOnly 原文件缺失时查找预压缩文件，两者都没有返回 nil
func (p *PathResolver) sidecarOnly(name, clean string) *FileEntry {
	sc := p.sidecars(name)
	if sc.Zstd == "" && sc.Gzip == "" {
		return nil
	}
	return &FileEntry{Path: name, Sidecars: sc, SidecarOnly: true, RequestPath: clean}
}

// sidecars 查找同目录下的 .zst / .gz 预压缩文件
func (p *PathResolver) sidecars(filePath string) compression.Sidecars {
	var sc compression.Sidecars
	for _, e := range []compression.Encoding{compression.EncodingZstd, compression.EncodingGzip} {
		resolved, info, err := p.confine(filePath + e.Extension())
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		switch e {
		case compression.EncodingZstd:
			sc.Zstd = resolved
		case compression.EncodingGzip:
			sc.Gzip = resolved
		}
	}
	return sc
}

// confine 解析符号链接并确认最终路径仍位于根目录下
func (p *PathResolver) confine(candidate string) (string, fs.FileInfo, error) {
	resolved, err := filepath.EvalSymlinks(candidate)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) {
			return "", nil, apperrors.New(apperrors.ErrNotFound, "no such file", err)
		}
		return "", nil, apperrors.New(apperrors.ErrIO, "resolving path", err)
	}
	if !within(p.root, resolved) {
		return "", nil, apperrors.New(apperrors.ErrPathTraversal, "symlink escapes root", nil)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil, apperrors.New(apperrors.ErrNotFound, "no such file", err)
		}
		return "", nil, apperrors.New(apperrors.ErrIO, "stat", err)
	}
	return resolved, info, nil
}

// within 判断 target 是否位于 root 之内（含 root 本身）
func within(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// 单页应用模式下这些扩展名视为静态资源，缺失时直接404
var assetExtensions = map[string]bool{
	".css": true, ".js": true, ".mjs": true, ".map": true, ".json": true,
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".svg": true,
	".ico": true, ".webp": true, ".avif": true,
	".woff": true, ".woff2": true, ".ttf": true, ".eot": true, ".otf": true,
	".pdf": true, ".txt": true, ".xml": true, ".wasm": true,
	".mp4": true, ".webm": true, ".mp3": true,
}

// IsAssetLike 判断路径是否像静态资源
func IsAssetLike(p string) bool {
	return assetExtensions[strings.ToLower(path.Ext(p))]
}
