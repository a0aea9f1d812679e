package compression

import (
	"mime"
	"strings"

	"github.com/sirupsen/logrus"
)

// Sidecars 磁盘上可用的预压缩文件，空字符串表示不存在
type Sidecars struct {
	Zstd string
	Gzip string
}

// NegotiatorConfig 协商器配置
type NegotiatorConfig struct {
	Bypass    *BypassRuleSet
	ZstdLevel int
	GzipLevel int
	SkipMedia bool // 为true时已压缩的媒体类型不做实时压缩
}

// Negotiator 根据客户端能力、跳过规则和预压缩文件决定响应编码
type Negotiator struct {
	bypass    *BypassRuleSet
	zstdLevel int
	gzipLevel int
	skipMedia bool
}

func NewNegotiator(cfg NegotiatorConfig) *Negotiator {
	return &Negotiator{
		bypass:    cfg.Bypass,
		zstdLevel: cfg.ZstdLevel,
		gzipLevel: cfg.GzipLevel,
		skipMedia: cfg.SkipMedia,
	}
}

// Decide 按固定优先级计算压缩决策：
// 跳过规则 > 预压缩文件(zstd优先) > 实时压缩(zstd优先) > 不压缩。
// path 为空表示没有可匹配的路径。
func (n *Negotiator) Decide(path string, accepted Accepted, contentType string, sidecars Sidecars) Decision {
	if path != "" && n.bypass.Match(path) {
		logrus.Tracef("[Negotiator] %s matches bypass rule", path)
		return None()
	}

	if sidecars.Zstd != "" && accepted.Zstd {
		return Decision{Kind: DecisionPrecompressed, Path: sidecars.Zstd, Encoding: EncodingZstd}
	}
	if sidecars.Gzip != "" && accepted.Gzip {
		return Decision{Kind: DecisionPrecompressed, Path: sidecars.Gzip, Encoding: EncodingGzip}
	}

	if !accepted.Any() {
		return None()
	}
	if n.skipMedia && IsCompressedMedia(contentType) {
		logrus.Tracef("[Negotiator] %s: content type %q is already compressed", path, contentType)
		return None()
	}

	if accepted.Zstd {
		return Decision{Kind: DecisionZstd, Level: n.zstdLevel, Encoding: EncodingZstd}
	}
	return Decision{Kind: DecisionGzip, Level: n.gzipLevel, Encoding: EncodingGzip}
}

// Bypass 返回跳过规则集合
func (n *Negotiator) Bypass() *BypassRuleSet {
	return n.bypass
}

var compressedMediaTypes = map[string]bool{
	"application/zip":              true,
	"application/gzip":             true,
	"application/x-gzip":           true,
	"application/zstd":             true,
	"application/x-7z-compressed":  true,
	"application/x-rar-compressed": true,
	"application/x-bzip2":          true,
	"application/x-xz":             true,
	"application/pdf":              true,
	"font/woff":                    true,
	"font/woff2":                   true,
}

// IsCompressedMedia 判断内容类型本身是否已压缩（图片、音视频、归档文件等）
func IsCompressedMedia(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}

	switch {
	case mediaType == "image/svg+xml", mediaType == "image/bmp", mediaType == "image/x-icon":
		return false
	case strings.HasPrefix(mediaType, "image/"),
		strings.HasPrefix(mediaType, "audio/"),
		strings.HasPrefix(mediaType, "video/"):
		return true
	}
	return compressedMediaTypes[mediaType]
}
