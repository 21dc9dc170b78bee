package searchcache

import (
	"time"

	"mestore/pkg/core"
)

func (c *Cache) maxKB() float64 {
	return c.config.MaxSize * 1024
}

func (c *Cache) overBudgetLocked() bool {
	return c.memoryKB > c.maxKB() || len(c.entries) > c.config.MaxEntries
}

// cleanupLocked 清理过程：
//  1. 按创建时间移除所有过期条目，与内存压力无关；
//  2. 仍超出任一预算时，反复淘汰访问顺序队首的键。
func (c *Cache) cleanupLocked(now time.Time) (expired, evicted int) {
	for key, entry := range c.entries {
		if entry.expired(now, c.config.TTL) {
			c.removeLocked(key)
			expired++
		}
	}

	for c.overBudgetLocked() {
		key, ok := c.order.oldest()
		if !ok {
			break
		}
		c.removeLocked(key)
		c.stats.Evictions++
		evicted++
	}

	return expired, evicted
}

// sweep 后台定期清理
func (c *Cache) sweep() {
	c.mu.Lock()
	expired, evicted := c.cleanupLocked(c.now())
	size := len(c.entries)
	c.mu.Unlock()

	if expired > 0 || evicted > 0 {
		c.logger.WithField("expired", expired).
			WithField("evicted", evicted).
			WithField("entries", size).
			Debug("后台清理完成")
	}
}

// admitLocked 检查写入是否超出存储硬上限。
// 超出时先丢弃与本次写入无关的最久未访问条目，再重试一次。
func (c *Cache) admitLocked(key string, sizeKB float64) error {
	if c.config.HardLimit <= 0 {
		return nil
	}

	limitKB := c.config.HardLimit * 1024
	if sizeKB > limitKB {
		return core.NewCacheError(core.ErrQuotaExceeded, "entry larger than hard limit").
			WithContext("size_kb", sizeKB)
	}

	fits := func() bool {
		used := c.memoryKB
		if prev, ok := c.entries[key]; ok {
			used -= prev.Size
		}
		return used+sizeKB <= limitKB
	}
	if fits() {
		return nil
	}

	for _, candidate := range c.order.keys() {
		if fits() {
			break
		}
		if candidate == key {
			continue
		}
		c.removeLocked(candidate)
		c.stats.Evictions++
	}

	if fits() {
		return nil
	}
	return core.NewCacheError(core.ErrQuotaExceeded, "write does not fit after dropping other entries").
		WithContext("size_kb", sizeKB)
}
