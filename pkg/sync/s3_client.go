package sync

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Client S3客户端实现
type S3Client struct {
	client *s3.Client
	config *Config
}

// NewS3Client 创建新的S3客户端
func NewS3Client(ctx context.Context, cfg *Config) (*S3Client, error) {
	// 创建AWS配置
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
		config.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// 创建S3客户端选项
	options := func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}

	return &S3Client{
		client: s3.NewFromConfig(awsCfg, options),
		config: cfg,
	}, nil
}

// DownloadTo 从S3下载对象并写入 w，不在内存中缓冲整个对象
func (c *S3Client) DownloadTo(ctx context.Context, key string, w io.Writer) (int64, error) {
	result, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.config.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to download from S3: %w", err)
	}
	defer result.Body.Close()

	n, err := io.Copy(w, result.Body)
	if err != nil {
		return n, fmt.Errorf("failed to read response body: %w", err)
	}
	return n, nil
}

// ListObjects 列出对象（使用ListObjectsV2）
func (c *S3Client) ListObjects(ctx context.Context, prefix string) ([]FileInfo, error) {
	var allFiles []FileInfo

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(c.config.Bucket),
	}
	if prefix != "" {
		input.Prefix = aws.String(prefix + "/")
	}

	// 处理分页
	for {
		result, err := c.client.ListObjectsV2(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}

		for _, obj := range result.Contents {
			if obj.Key == nil {
				continue
			}
			fileInfo := FileInfo{
				RelativePath: relativeKey(*obj.Key, prefix),
				Size:         aws.ToInt64(obj.Size),
			}
			if obj.LastModified != nil {
				fileInfo.ModTime = *obj.LastModified
			}
			allFiles = append(allFiles, fileInfo)
		}

		// 检查是否还有更多页
		if !aws.ToBool(result.IsTruncated) {
			break
		}

		// 设置下一页的令牌
		input.ContinuationToken = result.NextContinuationToken
	}

	return allFiles, nil
}

// TestConnection 测试S3连接
func (c *S3Client) TestConnection(ctx context.Context) error {
	_, err := c.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(c.config.Bucket),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to S3 bucket: %w", err)
	}
	return nil
}

// relativeKey 去掉远程前缀
func relativeKey(key, prefix string) string {
	if prefix == "" {
		return key
	}
	return strings.TrimPrefix(key, prefix+"/")
}

// remoteKey relativeKey 的逆操作
func remoteKey(rel, prefix string) string {
	if prefix == "" {
		return rel
	}
	return prefix + "/" + rel
}
