// Package searchcache 实现搜索结果缓存：带 TTL 过期、按大小和条目数的 LRU 淘汰、
// 大负载后台压缩，以及基于调用方取数函数的预取。
package searchcache

import (
	"context"
	"encoding/json"
	"reflect"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"mestore/pkg/compress"
	"mestore/pkg/core"
	"mestore/pkg/logger"
)

// FetchFunc 预取时用于获取单个键数据的函数
type FetchFunc func(ctx context.Context, key string) (any, error)

// Cache 搜索结果缓存。
// mu 同时保护条目映射、访问顺序和统计信息，两种结构在每次增删时同步更新。
type Cache struct {
	mu       sync.Mutex
	entries  map[string]*CacheEntry
	order    *accessOrder
	memoryKB float64
	stats    Stats
	inflight map[string]struct{}

	config Config
	pool   *compress.Pool
	cron   *cron.Cron
	logger *logrus.Entry
	now    func() time.Time

	closeOnce sync.Once
}

// New 创建搜索结果缓存并启动后台清理任务
func New(opts ...Option) *Cache {
	o := &options{config: DefaultConfig()}
	for _, opt := range opts {
		opt(o)
	}

	log := o.logger
	if log == nil {
		log = logger.WithComponent("searchcache")
	}

	codec := o.codec
	if codec == nil {
		var err error
		codec, err = compress.NewCodec(o.config.Codec)
		if err != nil {
			log.WithError(err).Warn("压缩算法无效，改用 brotli")
			codec, _ = compress.NewCodec(compress.CodecBrotli)
		}
	}

	c := &Cache{
		entries:  make(map[string]*CacheEntry),
		order:    newAccessOrder(),
		inflight: make(map[string]struct{}),
		config:   o.config,
		pool:     compress.NewPool(codec, o.config.CompressionWorkers),
		logger:   log,
		now:      time.Now,
	}

	if c.config.BackgroundSync {
		c.logger.Debug("background_sync 已开启，该选项目前没有任何行为")
	}

	c.startJanitor()
	return c
}

// Config 返回生效的配置
func (c *Cache) Config() Config {
	return c.config
}

// Get 获取缓存值，键不存在、已过期或解压失败时返回 false。
// 压缩条目按写入时记录的类型解码，返回值与写入值类型一致。
func (c *Cache) Get(ctx context.Context, key string) (any, bool) {
	var decoded any
	value, compressed, ok := c.lookup(ctx, key, func(raw []byte, typ reflect.Type) error {
		if typ == nil {
			return json.Unmarshal(raw, &decoded)
		}
		ptr := reflect.New(typ)
		if err := json.Unmarshal(raw, ptr.Interface()); err != nil {
			return err
		}
		decoded = ptr.Elem().Interface()
		return nil
	})
	if !ok {
		return nil, false
	}
	if compressed {
		return decoded, true
	}
	return value, true
}

// GetAs 以具体类型读取缓存值。
// 未压缩的值先做类型断言，断言失败时经 JSON 转换；压缩的负载直接解码到 T。
func GetAs[T any](ctx context.Context, c *Cache, key string) (T, bool) {
	var out T
	value, compressed, ok := c.lookup(ctx, key, func(raw []byte, _ reflect.Type) error {
		return json.Unmarshal(raw, &out)
	})
	if !ok {
		return out, false
	}
	if compressed {
		return out, true
	}

	if typed, ok := value.(T); ok {
		return typed, true
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return out, false
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, false
	}
	return out, true
}

// lookup 命中检查与统计。压缩条目在锁外解压，decode 失败等同于未命中并淘汰该条目；
// 解压期间条目被删除或替换时同样按未命中处理。
func (c *Cache) lookup(ctx context.Context, key string, decode decodeFunc) (any, bool, bool) {
	start := c.now()

	c.mu.Lock()
	entry, ok := c.entries[key]
	if !ok {
		c.stats.recordMiss()
		c.mu.Unlock()
		return nil, false, false
	}
	if entry.expired(start, c.config.TTL) {
		c.removeLocked(key)
		c.stats.recordMiss()
		c.mu.Unlock()
		return nil, false, false
	}
	if !entry.Compressed {
		c.hitLocked(key, entry, start)
		value := entry.Data
		c.mu.Unlock()
		return value, false, true
	}
	payload, typ := entry.Payload, entry.valueType
	c.mu.Unlock()

	err := c.decompress(ctx, payload, typ, decode)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		c.stats.DecompressionFailures++
		c.stats.recordMiss()
		if c.entries[key] == entry {
			c.removeLocked(key)
		}
		c.logger.WithError(err).WithField("key", key).Warn("压缩条目无法还原，按未命中处理")
		return nil, false, false
	}
	if c.entries[key] != entry {
		c.stats.recordMiss()
		return nil, false, false
	}

	c.hitLocked(key, entry, start)
	return nil, true, true
}

// decodeFunc 把解压后的 JSON 还原为调用方需要的值，typ 为写入时记录的类型
type decodeFunc func(raw []byte, typ reflect.Type) error

func (c *Cache) decompress(ctx context.Context, payload []byte, typ reflect.Type, decode decodeFunc) error {
	dctx, cancel := context.WithTimeout(ctx, c.config.CodecTimeout)
	defer cancel()

	raw, err := c.pool.Decompress(dctx, payload)
	if err != nil {
		return err
	}
	if err := decode(raw, typ); err != nil {
		return core.WrapError(core.ErrDecompressionFailed, "decoded payload is not valid json", err)
	}
	return nil
}

// hitLocked 更新命中统计，调用方保证 entry 仍是 key 的当前条目
func (c *Cache) hitLocked(key string, entry *CacheEntry, start time.Time) {
	now := c.now()
	entry.Hits++
	entry.LastAccessed = now
	c.order.touch(key)
	c.stats.recordHit(now.Sub(start))
}

// Set 写入缓存值。超过压缩阈值的负载尝试压缩，压缩失败时按原值存储。
func (c *Cache) Set(ctx context.Context, key string, value any) {
	now := c.now()
	entry := &CacheEntry{
		Data:         value,
		Timestamp:    now,
		LastAccessed: now,
	}

	compressionFailed := false
	raw, err := json.Marshal(value)
	if err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("值无法序列化，按0KB记账且不压缩")
	} else {
		entry.Size = float64(len(raw)) / 1024
		if entry.Size > c.config.CompressionThreshold {
			if compressed, err := c.compress(ctx, raw); err != nil {
				compressionFailed = true
				c.logger.WithError(err).WithField("key", key).Warn("压缩失败，按未压缩存储")
			} else {
				entry.Data = nil
				entry.Payload = compressed
				entry.Compressed = true
				entry.valueType = reflect.TypeOf(value)
			}
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if compressionFailed {
		c.stats.CompressionFailures++
	}
	c.installLocked(key, entry)
}

func (c *Cache) compress(ctx context.Context, raw []byte) ([]byte, error) {
	cctx, cancel := context.WithTimeout(ctx, c.config.CodecTimeout)
	defer cancel()
	return c.pool.Compress(cctx, raw)
}

// installLocked 安装条目并在超出预算时执行清理
func (c *Cache) installLocked(key string, entry *CacheEntry) {
	if err := c.admitLocked(key, entry.Size); err != nil {
		c.stats.QuotaDrops++
		c.logger.WithError(err).WithFields(logrus.Fields{
			"key":     key,
			"size_kb": entry.Size,
		}).Warn("超出存储硬上限，写入被丢弃")
		return
	}

	if prev, ok := c.entries[key]; ok {
		c.memoryKB -= prev.Size
	}
	c.entries[key] = entry
	c.memoryKB += entry.Size
	c.order.touch(key)

	if c.overBudgetLocked() {
		c.cleanupLocked(c.now())
	}
}

// Delete 删除指定键，返回是否确实删除了条目
func (c *Cache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; !ok {
		return false
	}
	c.removeLocked(key)
	return true
}

// Clear 清空所有条目，累计统计保持不变
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*CacheEntry)
	c.order.reset()
	c.memoryKB = 0
}

// removeLocked 同时从条目映射和访问顺序中移除键
func (c *Cache) removeLocked(key string) {
	entry, ok := c.entries[key]
	if !ok {
		return
	}
	delete(c.entries, key)
	c.order.remove(key)
	c.memoryKB -= entry.Size
	if len(c.entries) == 0 || c.memoryKB < 0 {
		c.memoryKB = 0
	}
}

// Contains 判断键是否存在且未过期，不影响统计和访问顺序
func (c *Cache) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	return ok && !entry.expired(c.now(), c.config.TTL)
}

// Len 返回当前条目数
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats 返回统计快照
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats.snapshot(c.memoryKB)
}

// Info 返回缓存内容的诊断快照
func (c *Cache) Info() Info {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	keys := c.order.keys()
	entries := make([]EntryInfo, 0, len(keys))
	for _, key := range keys {
		e := c.entries[key]
		entries = append(entries, EntryInfo{
			Key:        key,
			Size:       e.Size,
			Hits:       e.Hits,
			Age:        now.Sub(e.Timestamp),
			Compressed: e.Compressed,
		})
	}

	return Info{
		Size:        len(c.entries),
		MemoryUsage: c.memoryKB / 1024,
		MaxSize:     c.config.MaxSize,
		MaxEntries:  c.config.MaxEntries,
		TTL:         c.config.TTL,
		Entries:     entries,
	}
}

// Close 停止后台清理任务和压缩工作池，可重复调用
func (c *Cache) Close() error {
	c.closeOnce.Do(func() {
		c.stopJanitor()
		c.pool.Close()
	})
	return nil
}
