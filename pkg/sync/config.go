package sync

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

const (
	envEndpoint     = "SYNC_S3_ENDPOINT"
	envBucket       = "SYNC_S3_BUCKET"
	envRegion       = "SYNC_S3_REGION"
	envAccessKeyID  = "SYNC_S3_ACCESS_KEY_ID"
	envSecretKey    = "SYNC_S3_SECRET_ACCESS_KEY"
	envPathStyle    = "SYNC_S3_USE_PATH_STYLE"
	envPrefix       = "SYNC_S3_PREFIX"
	defaultS3Region = "us-east-1"
)

// NewConfigFromEnv 读取 SYNC_S3_* 环境变量。缺失的必填项会一次性全部列出。
func NewConfigFromEnv() (*Config, error) {
	cfg := &Config{
		Endpoint:        strings.TrimSpace(os.Getenv(envEndpoint)),
		Bucket:          strings.TrimSpace(os.Getenv(envBucket)),
		Region:          strings.TrimSpace(os.Getenv(envRegion)),
		AccessKeyID:     os.Getenv(envAccessKeyID),
		SecretAccessKey: os.Getenv(envSecretKey),
		Prefix:          strings.Trim(os.Getenv(envPrefix), "/"),
	}
	if cfg.Region == "" {
		cfg.Region = defaultS3Region
	}

	if raw := strings.TrimSpace(os.Getenv(envPathStyle)); raw != "" {
		pathStyle, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("%s=%q is not a boolean", envPathStyle, raw)
		}
		cfg.UsePathStyle = pathStyle
	}

	var missing []string
	for _, required := range []struct{ env, value string }{
		{envBucket, cfg.Bucket},
		{envAccessKeyID, cfg.AccessKeyID},
		{envSecretKey, cfg.SecretAccessKey},
	} {
		if required.value == "" {
			missing = append(missing, required.env)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("s3 sync needs %s", strings.Join(missing, ", "))
	}
	return cfg, nil
}
