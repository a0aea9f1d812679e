package sync

import (
	"context"
	"io"
	"time"
)

// Config S3 同步配置
type Config struct {
	Endpoint        string
	Bucket          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
	Prefix          string // 远程路径前缀，为空表示整个桶
}

// FileInfo 文件信息
type FileInfo struct {
	Size         int64     `json:"size"`
	ModTime      time.Time `json:"mod_time"`
	RelativePath string    `json:"relative_path"`
}

// RemoteStorage 远程存储接口
type RemoteStorage interface {
	// ListObjects 列出前缀下的所有对象，RelativePath 已去掉前缀
	ListObjects(ctx context.Context, prefix string) ([]FileInfo, error)

	// DownloadTo 将对象内容写入 w
	DownloadTo(ctx context.Context, key string, w io.Writer) (int64, error)
}

// PullResult 一次拉取的统计
type PullResult struct {
	Downloaded int   `json:"downloaded"`
	Skipped    int   `json:"skipped"`
	Rejected   int   `json:"rejected"`
	Failed     int   `json:"failed"`
	Bytes      int64 `json:"bytes"`
}
