package searchcache

import (
	"context"
	"fmt"
	"sync"

	"mestore/pkg/core"
)

// Prefetch 为尚未缓存的键并发调用 fetch 并写入缓存。
// 已缓存或正在预取的键会被跳过；单个键失败只记录日志，不影响其他键。
// 所有尝试结束后返回。
func (c *Cache) Prefetch(ctx context.Context, keys []string, fetch FetchFunc) {
	if !c.config.PrefetchEnabled || fetch == nil {
		return
	}

	var wg sync.WaitGroup
	for _, key := range keys {
		if !c.claimPrefetch(key) {
			continue
		}

		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			defer c.releasePrefetch(key)
			c.prefetchOne(ctx, key, fetch)
		}(key)
	}
	wg.Wait()
}

// claimPrefetch 将键登记为预取中，已缓存或已在预取时返回 false
func (c *Cache) claimPrefetch(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[key]; ok && !entry.expired(c.now(), c.config.TTL) {
		return false
	}
	if _, busy := c.inflight[key]; busy {
		return false
	}
	c.inflight[key] = struct{}{}
	return true
}

func (c *Cache) releasePrefetch(key string) {
	c.mu.Lock()
	delete(c.inflight, key)
	c.mu.Unlock()
}

func (c *Cache) prefetchOne(ctx context.Context, key string, fetch FetchFunc) {
	value, err := safeFetch(ctx, key, fetch)
	if err != nil {
		c.mu.Lock()
		c.stats.PrefetchFailures++
		c.mu.Unlock()

		c.logger.WithError(core.WrapError(core.ErrPrefetchFailed, "prefetch failed", err)).
			WithField("key", key).
			Warn("预取失败，跳过该键")
		return
	}

	c.Set(ctx, key, value)

	c.mu.Lock()
	c.stats.PrefetchSuccess++
	c.mu.Unlock()
}

// safeFetch 调用 fetch 并把 panic 转换为错误
func safeFetch(ctx context.Context, key string, fetch FetchFunc) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			value = nil
			err = fmt.Errorf("fetch panic: %v", r)
		}
	}()
	return fetch(ctx, key)
}
