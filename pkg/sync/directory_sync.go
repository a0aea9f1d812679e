package sync

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// DirectorySync 启动时将远程对象拉取到静态根目录
type DirectorySync struct {
	storage RemoteStorage
	root    string // 本地根目录，绝对路径
	prefix  string // 远程路径前缀
}

// NewDirectorySync 创建目录同步器
func NewDirectorySync(storage RemoteStorage, root, prefix string) *DirectorySync {
	return &DirectorySync{
		storage: storage,
		root:    root,
		prefix:  strings.Trim(prefix, "/"),
	}
}

// PullFromEnv 按 SYNC_S3_* 环境变量从S3拉取到 root
func PullFromEnv(ctx context.Context, root string) (PullResult, error) {
	cfg, err := NewConfigFromEnv()
	if err != nil {
		return PullResult{}, err
	}
	client, err := NewS3Client(ctx, cfg)
	if err != nil {
		return PullResult{}, err
	}
	return NewDirectorySync(client, root, cfg.Prefix).Pull(ctx)
}

// Pull 下载本地缺失或比远程旧的文件，单个文件失败不会中断整个过程
func (ds *DirectorySync) Pull(ctx context.Context) (PullResult, error) {
	var result PullResult
	logrus.Infof("[DirectorySync] Pulling s3 prefix %q into %s", ds.prefix, ds.root)

	remoteFiles, err := ds.storage.ListObjects(ctx, ds.prefix)
	if err != nil {
		return result, fmt.Errorf("failed to list remote files: %w", err)
	}

	for _, remote := range remoteFiles {
		// 跳过目录标记文件（以/结尾）
		if remote.RelativePath == "" || strings.HasSuffix(remote.RelativePath, "/") {
			continue
		}

		localPath, err := ds.LocalPath(remote.RelativePath)
		if err != nil {
			logrus.Warnf("[DirectorySync] Skipping %s: %v", remote.RelativePath, err)
			result.Rejected++
			continue
		}

		local, err := os.Stat(localPath)
		if err == nil && !shouldDownload(local, remote) {
			result.Skipped++
			continue
		}

		n, err := ds.downloadFile(ctx, remote, localPath)
		if err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			logrus.Errorf("[DirectorySync] Failed to download %s: %v", remote.RelativePath, err)
			result.Failed++
			continue
		}
		result.Downloaded++
		result.Bytes += n
	}

	logrus.Infof("[DirectorySync] Pull completed: downloaded %d, skipped %d, rejected %d, failed %d",
		result.Downloaded, result.Skipped, result.Rejected, result.Failed)
	return result, nil
}

// LocalPath 将远程相对路径映射到根目录下，越界的键返回错误
func (ds *DirectorySync) LocalPath(rel string) (string, error) {
	if strings.ContainsRune(rel, 0) || strings.Contains(rel, "\\") {
		return "", fmt.Errorf("invalid key %q", rel)
	}
	for _, seg := range strings.Split(rel, "/") {
		if seg == ".." {
			return "", fmt.Errorf("key %q escapes root", rel)
		}
	}

	clean := path.Clean("/" + rel)
	if clean == "/" {
		return "", fmt.Errorf("invalid key %q", rel)
	}
	target := filepath.Join(ds.root, filepath.FromSlash(clean))

	relToRoot, err := filepath.Rel(ds.root, target)
	if err != nil || relToRoot == ".." || strings.HasPrefix(relToRoot, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("key %q escapes root", rel)
	}
	return target, nil
}

// shouldDownload 本地文件比远程旧时需要下载，目录等非普通文件不覆盖
func shouldDownload(local os.FileInfo, remote FileInfo) bool {
	if !local.Mode().IsRegular() {
		return false
	}
	if remote.ModTime.IsZero() {
		return local.Size() != remote.Size
	}
	return local.ModTime().Before(remote.ModTime.Truncate(time.Second))
}

// downloadFile 先写临时文件再重命名，避免留下半个文件
func (ds *DirectorySync) downloadFile(ctx context.Context, remote FileInfo, localPath string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return 0, fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(localPath), ".sync-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := ds.storage.DownloadTo(ctx, remoteKey(remote.RelativePath, ds.prefix), tmp)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return n, err
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return n, err
	}
	if err := os.Rename(tmp.Name(), localPath); err != nil {
		return n, fmt.Errorf("failed to write file: %w", err)
	}

	// 保留远程修改时间，下次启动可以跳过
	if !remote.ModTime.IsZero() {
		if err := os.Chtimes(localPath, remote.ModTime, remote.ModTime); err != nil {
			logrus.Warnf("[DirectorySync] Failed to set mtime on %s: %v", localPath, err)
		}
	}

	logrus.Debugf("[DirectorySync] Downloaded %s (%d bytes)", remote.RelativePath, n)
	return n, nil
}
