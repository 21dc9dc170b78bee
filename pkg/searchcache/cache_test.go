package searchcache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// payloadKB 返回 JSON 序列化后恰好 n KB 的字符串
func payloadKB(n int) string {
	return strings.Repeat("a", n*1024-2)
}

// fakeClock 可手动推进的时钟
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

type failingCodec struct {
	encodeErr error
	decodeErr error
	delay     time.Duration
}

func (f *failingCodec) Name() string { return "failing" }

func (f *failingCodec) Encode(data []byte) ([]byte, error) {
	if f.encodeErr != nil {
		return nil, f.encodeErr
	}
	return append([]byte(nil), data...), nil
}

func (f *failingCodec) Decode(data []byte) ([]byte, error) {
	time.Sleep(f.delay)
	if f.decodeErr != nil {
		return nil, f.decodeErr
	}
	return data, nil
}

// assertConsistent 校验条目映射与访问顺序的键集合一致
func assertConsistent(t *testing.T, c *Cache) {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	assert.Equal(t, len(c.entries), c.order.len())
	for key := range c.entries {
		assert.True(t, c.order.has(key), "key %s missing from access order", key)
	}
}

func TestCache_BasicOperations(t *testing.T) {
	cache := New()
	defer cache.Close()

	ctx := context.Background()

	cache.Set(ctx, "search:zapatos", []string{"p1", "p2"})
	value, ok := cache.Get(ctx, "search:zapatos")
	require.True(t, ok)
	assert.Equal(t, []string{"p1", "p2"}, value)

	assert.True(t, cache.Delete("search:zapatos"))
	assert.False(t, cache.Delete("search:zapatos"))

	_, ok = cache.Get(ctx, "search:zapatos")
	assert.False(t, ok)
	assertConsistent(t, cache)
}

// TestCache_TTLExpiry 过期条目即使被频繁访问也必须未命中
func TestCache_TTLExpiry(t *testing.T) {
	cache := New(WithTTL(100 * time.Millisecond))
	defer cache.Close()

	ctx := context.Background()
	cache.Set(ctx, "k", "v")

	for i := 0; i < 3; i++ {
		_, ok := cache.Get(ctx, "k")
		require.True(t, ok)
	}

	time.Sleep(150 * time.Millisecond)

	_, ok := cache.Get(ctx, "k")
	assert.False(t, ok)

	cache.mu.Lock()
	_, exists := cache.entries["k"]
	cache.mu.Unlock()
	assert.False(t, exists, "expired entry should be deleted on Get")
	assertConsistent(t, cache)
}

func TestCache_LRUOrder(t *testing.T) {
	cache := New(WithMaxEntries(2))
	defer cache.Close()

	ctx := context.Background()
	cache.Set(ctx, "a", 1)
	cache.Set(ctx, "b", 2)
	_, ok := cache.Get(ctx, "a")
	require.True(t, ok)
	cache.Set(ctx, "c", 3)

	assert.False(t, cache.Contains("b"))
	assert.True(t, cache.Contains("a"))
	assert.True(t, cache.Contains("c"))
	assert.Equal(t, int64(1), cache.Stats().Evictions)

	cache.mu.Lock()
	assert.False(t, cache.order.has("b"))
	assert.Equal(t, []string{"a", "c"}, cache.order.keys())
	cache.mu.Unlock()
}

func TestCache_LRUTieBreakIsInsertionOrder(t *testing.T) {
	clock := newFakeClock()
	cache := New(WithMaxEntries(3))
	cache.now = clock.Now
	defer cache.Close()

	ctx := context.Background()
	for _, key := range []string{"x", "y", "z"} {
		cache.Set(ctx, key, key)
	}
	cache.Set(ctx, "w", "w")

	assert.False(t, cache.Contains("x"))
	assert.Equal(t, []string{"y", "z", "w"}, keysOf(cache.Info()))
}

func TestCache_OverwriteDoesNotDoubleCount(t *testing.T) {
	cache := New()
	defer cache.Close()

	ctx := context.Background()
	cache.Set(ctx, "k", payloadKB(10))
	cache.Set(ctx, "k", payloadKB(10))

	info := cache.Info()
	assert.Equal(t, 1, info.Size)
	assert.InDelta(t, 10.0/1024, info.MemoryUsage, 1e-9)
	assert.InDelta(t, 10.0/1024, cache.Stats().MemoryUsage, 1e-9)

	cache.Set(ctx, "k", payloadKB(4))
	assert.InDelta(t, 4.0/1024, cache.Info().MemoryUsage, 1e-9)
}

func searchResult(n int) map[string]any {
	items := make([]any, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, map[string]any{
			"id":       float64(i),
			"name":     fmt.Sprintf("Zapatos deportivos talla %d", i),
			"price":    float64(129900 + i),
			"vendor":   "MeStocker Bogotá",
			"in_stock": i%2 == 0,
		})
	}
	return map[string]any{
		"query": "zapatos",
		"total": float64(n),
		"items": items,
	}
}

func TestCache_CompressedRoundTrip(t *testing.T) {
	cache := New(WithCompressionThreshold(1))
	defer cache.Close()

	ctx := context.Background()
	value := searchResult(200)
	cache.Set(ctx, "search:zapatos", value)

	cache.mu.Lock()
	entry := cache.entries["search:zapatos"]
	cache.mu.Unlock()
	require.NotNil(t, entry)
	assert.True(t, entry.Compressed)
	assert.Nil(t, entry.Data)
	assert.Less(t, float64(len(entry.Payload))/1024, entry.Size)

	got, ok := cache.Get(ctx, "search:zapatos")
	require.True(t, ok)
	assert.Equal(t, value, got)

	info := cache.Info()
	require.Len(t, info.Entries, 1)
	assert.True(t, info.Entries[0].Compressed)
	assert.Equal(t, int64(1), info.Entries[0].Hits)
}

func TestCache_CompressedRoundTripGzip(t *testing.T) {
	cache := New(WithConfig(Config{CompressionThreshold: 1, Codec: "gzip", PrefetchEnabled: true}))
	defer cache.Close()

	ctx := context.Background()
	value := searchResult(100)
	cache.Set(ctx, "k", value)

	got, ok := cache.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, value, got)
}

type product struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Price int    `json:"price"`
}

func TestGetAs_TypedValues(t *testing.T) {
	cache := New(WithCompressionThreshold(1))
	defer cache.Close()

	ctx := context.Background()

	small := []product{{ID: 1, Name: "Camiseta", Price: 45000}}
	cache.Set(ctx, "small", small)
	gotSmall, ok := GetAs[[]product](ctx, cache, "small")
	require.True(t, ok)
	assert.Equal(t, small, gotSmall)

	large := make([]product, 0, 100)
	for i := 0; i < 100; i++ {
		large = append(large, product{ID: i, Name: fmt.Sprintf("Producto %d", i), Price: 1000 * i})
	}
	cache.Set(ctx, "large", large)
	gotLarge, ok := GetAs[[]product](ctx, cache, "large")
	require.True(t, ok)
	assert.Equal(t, large, gotLarge)

	// 未压缩的 map 也可以经 JSON 转换成结构体
	cache.Set(ctx, "map", map[string]any{"id": 7, "name": "Gorra", "price": 30000})
	gotMap, ok := GetAs[product](ctx, cache, "map")
	require.True(t, ok)
	assert.Equal(t, product{ID: 7, Name: "Gorra", Price: 30000}, gotMap)

	_, ok = GetAs[product](ctx, cache, "absent")
	assert.False(t, ok)
}

// TestCache_CompressedKeepsValueType 压缩与否不影响 Get 返回值的类型
func TestCache_CompressedKeepsValueType(t *testing.T) {
	cache := New(WithCompressionThreshold(1))
	defer cache.Close()

	ctx := context.Background()

	small := []product{{ID: 1, Name: "Camiseta", Price: 45000}}
	large := make([]product, 0, 200)
	for i := 0; i < 200; i++ {
		large = append(large, product{ID: i, Name: fmt.Sprintf("Tenis running %d", i), Price: 99900 + i})
	}
	cache.Set(ctx, "search:small", small)
	cache.Set(ctx, "search:large", large)
	cache.Set(ctx, "search:ptr", &product{ID: 9, Name: payloadKB(2), Price: 1})

	info := cache.Info()
	compressed := make(map[string]bool, len(info.Entries))
	for _, e := range info.Entries {
		compressed[e.Key] = e.Compressed
	}
	assert.False(t, compressed["search:small"])
	assert.True(t, compressed["search:large"])
	assert.True(t, compressed["search:ptr"])

	got, ok := cache.Get(ctx, "search:small")
	require.True(t, ok)
	assert.Equal(t, small, got)

	got, ok = cache.Get(ctx, "search:large")
	require.True(t, ok)
	assert.Equal(t, large, got)
	typed, ok := got.([]product)
	require.True(t, ok, "compressed value came back as %T", got)
	assert.Len(t, typed, 200)

	got, ok = cache.Get(ctx, "search:ptr")
	require.True(t, ok)
	assert.Equal(t, &product{ID: 9, Name: payloadKB(2), Price: 1}, got)
}

func TestCache_MissNeverPanics(t *testing.T) {
	cache := New()
	defer cache.Close()

	assert.NotPanics(t, func() {
		value, ok := cache.Get(context.Background(), "nonexistent")
		assert.Nil(t, value)
		assert.False(t, ok)
	})
}

func TestCache_Stats(t *testing.T) {
	cache := New()
	defer cache.Close()

	stats := cache.Stats()
	assert.Equal(t, int64(0), stats.TotalRequests)
	assert.Equal(t, 0.0, stats.HitRate)

	ctx := context.Background()
	cache.Set(ctx, "a", 1)
	cache.Get(ctx, "a")
	cache.Get(ctx, "a")
	cache.Get(ctx, "a")
	cache.Get(ctx, "missing")

	stats = cache.Stats()
	assert.Equal(t, int64(4), stats.TotalRequests)
	assert.Equal(t, int64(3), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, stats.TotalRequests, stats.Hits+stats.Misses)
	assert.Equal(t, 0.75, stats.HitRate)
}

func TestStats_IncrementalMean(t *testing.T) {
	var s Stats
	s.recordHit(10 * time.Millisecond)
	s.recordHit(20 * time.Millisecond)
	s.recordMiss()
	s.recordHit(30 * time.Millisecond)

	assert.Equal(t, 20*time.Millisecond, s.AvgResponseTime)
	assert.Equal(t, int64(4), s.TotalRequests)
}

func TestCache_EvictionClearsBothStructures(t *testing.T) {
	cache := New(WithMaxEntries(5))
	defer cache.Close()

	ctx := context.Background()
	for i := 0; i < 20; i++ {
		cache.Set(ctx, fmt.Sprintf("key-%d", i), i)
		assertConsistent(t, cache)
	}

	assert.Equal(t, 5, cache.Len())
	assert.Equal(t, int64(15), cache.Stats().Evictions)

	cache.mu.Lock()
	defer cache.mu.Unlock()
	for i := 0; i < 15; i++ {
		key := fmt.Sprintf("key-%d", i)
		_, inMap := cache.entries[key]
		assert.False(t, inMap)
		assert.False(t, cache.order.has(key))
	}
}

func TestCache_MemoryPressureScenario(t *testing.T) {
	cache := New(WithMaxSize(1), WithMaxEntries(100), WithTTL(5000*time.Millisecond))
	defer cache.Close()

	ctx := context.Background()
	last := ""
	for i := 0; i < 50; i++ {
		last = fmt.Sprintf("search:%d", i)
		cache.Set(ctx, last, payloadKB(30))
	}

	stats := cache.Stats()
	assert.LessOrEqual(t, cache.Len(), 100)
	assert.LessOrEqual(t, stats.MemoryUsage, 1.0)
	assert.GreaterOrEqual(t, stats.Evictions, int64(1))
	assert.True(t, cache.Contains(last))
	assert.Equal(t, 34, cache.Len())
	assertConsistent(t, cache)
}

func TestCache_CleanupRemovesExpiredFirst(t *testing.T) {
	clock := newFakeClock()
	cache := New(WithTTL(time.Minute), WithMaxEntries(3))
	cache.now = clock.Now
	defer cache.Close()

	ctx := context.Background()
	cache.Set(ctx, "old-1", 1)
	cache.Set(ctx, "old-2", 2)
	clock.Advance(2 * time.Minute)
	cache.Set(ctx, "fresh-1", 3)

	// 超出条目预算时应先移除过期条目，而不是淘汰新条目
	cache.Get(ctx, "fresh-1")
	cache.Set(ctx, "fresh-2", 4)
	cache.Set(ctx, "fresh-3", 5)

	assert.Equal(t, 3, cache.Len())
	assert.False(t, cache.Contains("old-1"))
	assert.True(t, cache.Contains("fresh-1"))
	assert.True(t, cache.Contains("fresh-3"))
	assertConsistent(t, cache)
}

func TestCache_SweepRemovesExpired(t *testing.T) {
	clock := newFakeClock()
	cache := New(WithTTL(time.Minute), WithCleanupInterval(0))
	cache.now = clock.Now
	defer cache.Close()

	ctx := context.Background()
	cache.Set(ctx, "a", 1)
	cache.Set(ctx, "b", 2)
	clock.Advance(30 * time.Second)
	cache.Set(ctx, "c", 3)
	clock.Advance(45 * time.Second)

	cache.sweep()

	assert.Equal(t, 1, cache.Len())
	assert.True(t, cache.Contains("c"))
	assert.Equal(t, int64(0), cache.Stats().Evictions)
	assertConsistent(t, cache)
}

func TestCache_BackgroundJanitor(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping janitor timing test in short mode")
	}

	cache := New(WithTTL(100*time.Millisecond), WithCleanupInterval(time.Second))
	defer cache.Close()

	cache.Set(context.Background(), "k", "v")
	require.Equal(t, 1, cache.Len())

	assert.Eventually(t, func() bool {
		return cache.Len() == 0
	}, 3*time.Second, 100*time.Millisecond)
}

func TestCache_ClearKeepsCounters(t *testing.T) {
	cache := New()
	defer cache.Close()

	ctx := context.Background()
	cache.Set(ctx, "a", payloadKB(2))
	cache.Get(ctx, "a")
	cache.Get(ctx, "b")

	cache.Clear()

	assert.Equal(t, 0, cache.Len())
	stats := cache.Stats()
	assert.Equal(t, 0.0, stats.MemoryUsage)
	assert.Equal(t, int64(2), stats.TotalRequests)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Empty(t, cache.Info().Entries)
}

func TestCache_CompressionFailureFallsBack(t *testing.T) {
	codec := &failingCodec{encodeErr: errors.New("worker unavailable")}
	cache := New(WithCompressionThreshold(1), WithCodec(codec))
	defer cache.Close()

	ctx := context.Background()
	value := payloadKB(5)
	cache.Set(ctx, "k", value)

	got, ok := cache.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, value, got)
	assert.Equal(t, int64(1), cache.Stats().CompressionFailures)
	assert.False(t, cache.Info().Entries[0].Compressed)
}

func TestCache_CompressionAfterCloseFallsBack(t *testing.T) {
	cache := New(WithCompressionThreshold(1))
	require.NoError(t, cache.Close())
	require.NoError(t, cache.Close())

	ctx := context.Background()
	cache.Set(ctx, "k", payloadKB(3))

	got, ok := cache.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, payloadKB(3), got)
}

func TestCache_DecompressionFailureIsMiss(t *testing.T) {
	codec := &failingCodec{decodeErr: errors.New("corrupt payload")}
	cache := New(WithCompressionThreshold(1), WithCodec(codec))
	defer cache.Close()

	ctx := context.Background()
	cache.Set(ctx, "k", payloadKB(5))
	require.True(t, cache.Contains("k"))

	_, ok := cache.Get(ctx, "k")
	assert.False(t, ok)
	assert.False(t, cache.Contains("k"))

	stats := cache.Stats()
	assert.Equal(t, int64(1), stats.DecompressionFailures)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 0.0, stats.MemoryUsage)
	assertConsistent(t, cache)
}

func TestCache_DecompressionTimeoutIsMiss(t *testing.T) {
	codec := &failingCodec{delay: 300 * time.Millisecond}
	cache := New(WithCompressionThreshold(1), WithCodec(codec), WithCodecTimeout(30*time.Millisecond))
	defer cache.Close()

	ctx := context.Background()
	cache.Set(ctx, "k", payloadKB(5))

	start := time.Now()
	_, ok := cache.Get(ctx, "k")
	assert.False(t, ok)
	assert.Less(t, time.Since(start), 250*time.Millisecond)
	assert.Equal(t, int64(1), cache.Stats().DecompressionFailures)
}

// TestCache_DeleteDuringDecompressionIsMiss 解压期间条目被删除或清空时不能返回旧值
func TestCache_DeleteDuringDecompressionIsMiss(t *testing.T) {
	for name, remove := range map[string]func(c *Cache){
		"delete": func(c *Cache) { c.Delete("k") },
		"clear":  func(c *Cache) { c.Clear() },
	} {
		t.Run(name, func(t *testing.T) {
			codec := &failingCodec{delay: 200 * time.Millisecond}
			cache := New(WithCompressionThreshold(1), WithCodec(codec))
			defer cache.Close()

			ctx := context.Background()
			cache.Set(ctx, "k", payloadKB(5))

			type result struct {
				value any
				ok    bool
			}
			done := make(chan result, 1)
			go func() {
				value, ok := cache.Get(ctx, "k")
				done <- result{value, ok}
			}()

			time.Sleep(50 * time.Millisecond)
			remove(cache)

			res := <-done
			assert.False(t, res.ok)
			assert.Nil(t, res.value)

			stats := cache.Stats()
			assert.Equal(t, int64(0), stats.Hits)
			assert.Equal(t, int64(1), stats.Misses)
			assert.Equal(t, int64(0), stats.DecompressionFailures)
			assert.Equal(t, 0, cache.Len())
			assertConsistent(t, cache)
		})
	}
}

func TestCache_HardLimitDropsUnrelatedEntries(t *testing.T) {
	cache := New(WithHardLimit(20.0 / 1024))
	defer cache.Close()

	ctx := context.Background()
	cache.Set(ctx, "a", payloadKB(10))
	cache.Set(ctx, "b", payloadKB(8))
	cache.Set(ctx, "c", payloadKB(10))

	assert.False(t, cache.Contains("a"))
	assert.True(t, cache.Contains("b"))
	assert.True(t, cache.Contains("c"))
	assert.Equal(t, int64(0), cache.Stats().QuotaDrops)

	// 单条写入超过硬上限时被静默丢弃并计数
	cache.Set(ctx, "d", payloadKB(30))
	assert.False(t, cache.Contains("d"))
	assert.True(t, cache.Contains("b"))
	assert.Equal(t, int64(1), cache.Stats().QuotaDrops)

	// 覆盖同一个键不需要为旧值腾空间
	cache.Set(ctx, "c", payloadKB(12))
	assert.True(t, cache.Contains("b"))
	assert.True(t, cache.Contains("c"))
	assertConsistent(t, cache)
}

func TestCache_ConcurrentAccess(t *testing.T) {
	cache := New(WithMaxEntries(50), WithCompressionThreshold(2))
	defer cache.Close()

	ctx := context.Background()
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				key := fmt.Sprintf("k-%d", (g*31+i)%80)
				if i%3 == 0 {
					cache.Set(ctx, key, payloadKB(i%4+1))
				} else {
					cache.Get(ctx, key)
				}
				if i%17 == 0 {
					cache.Delete(key)
				}
			}
		}(g)
	}
	wg.Wait()

	stats := cache.Stats()
	assert.Equal(t, stats.TotalRequests, stats.Hits+stats.Misses)
	assert.LessOrEqual(t, cache.Len(), 50)
	assertConsistent(t, cache)
}

func keysOf(info Info) []string {
	keys := make([]string, 0, len(info.Entries))
	for _, e := range info.Entries {
		keys = append(keys, e.Key)
	}
	return keys
}
