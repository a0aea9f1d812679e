package compression

import (
	"strconv"
	"strings"
)

// Accepted 客户端通过 Accept-Encoding 声明可接受的编码
type Accepted struct {
	Zstd bool
	Gzip bool
}

// Any 是否接受任意一种压缩编码
func (a Accepted) Any() bool {
	return a.Zstd || a.Gzip
}

// Accepts 判断是否接受指定编码
func (a Accepted) Accepts(e Encoding) bool {
	switch e {
	case EncodingZstd:
		return a.Zstd
	case EncodingGzip:
		return a.Gzip
	}
	return false
}

// ParseAcceptEncoding 解析 Accept-Encoding 头。
// q 值不参与排序，只有 q=0 表示不可接受。
func ParseAcceptEncoding(values ...string) Accepted {
	explicit := make(map[string]bool, 4)
	wildcard := false

	for _, value := range values {
		for _, token := range strings.Split(value, ",") {
			name, params, _ := strings.Cut(token, ";")
			name = strings.ToLower(strings.TrimSpace(name))
			if name == "" {
				continue
			}
			ok := qualityNonZero(params)
			switch name {
			case "*":
				wildcard = ok
			case "x-gzip":
				explicit["gzip"] = ok
			default:
				explicit[name] = ok
			}
		}
	}

	lookup := func(name string) bool {
		if ok, found := explicit[name]; found {
			return ok
		}
		return wildcard
	}

	return Accepted{
		Zstd: lookup(string(EncodingZstd)),
		Gzip: lookup(string(EncodingGzip)),
	}
}

func qualityNonZero(params string) bool {
	for _, param := range strings.Split(params, ";") {
		key, value, found := strings.Cut(strings.TrimSpace(param), "=")
		if !found || !strings.EqualFold(strings.TrimSpace(key), "q") {
			continue
		}
		q, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			// 无法解析的q值按可接受处理
			return true
		}
		return q > 0
	}
	return true
}
