package cache

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/groupcache/lru"
	"github.com/sirupsen/logrus"
)

// MaxEntrySize 单个缓存项的上限，更大的文件直接流式压缩
const MaxEntrySize = 1 << 20

// ArtifactKey 压缩产物的缓存键：文件身份、修改时间和编码共同决定
type ArtifactKey struct {
	Path     string
	Size     int64
	ModTime  int64 // UnixNano
	Encoding string
	Level    int
}

// String 实现 Stringer 接口
func (k ArtifactKey) String() string {
	return fmt.Sprintf("%s|%d|%d|%s|%d", k.Path, k.Size, k.ModTime, k.Encoding, k.Level)
}

// NewArtifactKey 由文件信息生成缓存键
func NewArtifactKey(path string, size int64, modTime time.Time, encoding string, level int) ArtifactKey {
	return ArtifactKey{
		Path:     path,
		Size:     size,
		ModTime:  modTime.UnixNano(),
		Encoding: encoding,
		Level:    level,
	}
}

// CacheStats 缓存统计信息
type CacheStats struct {
	TotalItems int     `json:"total_items"` // 缓存项数量
	TotalSize  int64   `json:"total_size"`  // 总大小
	MaxSize    int64   `json:"max_size"`    // 容量
	HitCount   int64   `json:"hit_count"`   // 命中次数
	MissCount  int64   `json:"miss_count"`  // 未命中次数
	HitRate    float64 `json:"hit_rate"`    // 命中率
}

// ArtifactCache 按总字节数限制的LRU缓存，nil表示禁用
type ArtifactCache struct {
	mu        sync.Mutex
	items     *lru.Cache
	maxBytes  int64
	curBytes  int64
	hitCount  atomic.Int64
	missCount atomic.Int64
}

// NewArtifactCache 创建缓存，maxBytes<=0时返回nil
func NewArtifactCache(maxBytes int64) *ArtifactCache {
	if maxBytes <= 0 {
		return nil
	}
	c := &ArtifactCache{
		items:    lru.New(0),
		maxBytes: maxBytes,
	}
	c.items.OnEvicted = func(key lru.Key, value interface{}) {
		c.curBytes -= int64(len(value.([]byte)))
	}
	return c
}

// Get 获取压缩产物
func (c *ArtifactCache) Get(key ArtifactKey) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.Lock()
	v, ok := c.items.Get(key)
	c.mu.Unlock()
	if !ok {
		c.missCount.Add(1)
		return nil, false
	}
	c.hitCount.Add(1)
	return v.([]byte), true
}

// Put 存入压缩产物，超过单项上限或总容量的数据不缓存
func (c *ArtifactCache) Put(key ArtifactKey, data []byte) {
	if c == nil || len(data) > MaxEntrySize || int64(len(data)) > c.maxBytes {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.items.Get(key); ok {
		c.curBytes -= int64(len(old.([]byte)))
	}
	c.items.Add(key, data)
	c.curBytes += int64(len(data))

	for c.curBytes > c.maxBytes && c.items.Len() > 0 {
		c.items.RemoveOldest()
	}
	logrus.Tracef("[ArtifactCache] PUT %s (%d bytes, total %d)", key, len(data), c.curBytes)
}

// GetStats 获取缓存统计信息
func (c *ArtifactCache) GetStats() CacheStats {
	if c == nil {
		return CacheStats{}
	}
	c.mu.Lock()
	stats := CacheStats{
		TotalItems: c.items.Len(),
		TotalSize:  c.curBytes,
		MaxSize:    c.maxBytes,
	}
	c.mu.Unlock()

	stats.HitCount = c.hitCount.Load()
	stats.MissCount = c.missCount.Load()
	if total := stats.HitCount + stats.MissCount; total > 0 {
		stats.HitRate = float64(stats.HitCount) / float64(total)
	}
	return stats
}
