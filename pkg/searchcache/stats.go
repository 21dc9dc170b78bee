package searchcache

import "time"

// Stats 缓存生命周期内的累计统计，Clear 不会重置这些计数
type Stats struct {
	TotalRequests   int64         `json:"total_requests"`
	Hits            int64         `json:"hits"`
	Misses          int64         `json:"misses"`
	Evictions       int64         `json:"evictions"`
	MemoryUsage     float64       `json:"memory_usage_mb"`
	AvgResponseTime time.Duration `json:"avg_response_time"` // 命中请求的平均响应时间
	PrefetchSuccess int64         `json:"prefetch_success"`
	HitRate         float64       `json:"hit_rate"` // Hits / TotalRequests，无请求时为0

	PrefetchFailures      int64 `json:"prefetch_failures"`
	CompressionFailures   int64 `json:"compression_failures"`
	DecompressionFailures int64 `json:"decompression_failures"`
	QuotaDrops            int64 `json:"quota_drops"` // 因存储硬上限被静默丢弃的写入
}

func (s *Stats) recordMiss() {
	s.TotalRequests++
	s.Misses++
}

// recordHit 记录一次命中，并按增量公式更新平均响应时间
func (s *Stats) recordHit(sample time.Duration) {
	s.TotalRequests++
	s.Hits++

	n := float64(s.Hits)
	avg := float64(s.AvgResponseTime)
	s.AvgResponseTime = time.Duration((avg*(n-1) + float64(sample)) / n)
}

func (s Stats) snapshot(memoryKB float64) Stats {
	s.MemoryUsage = memoryKB / 1024
	if s.TotalRequests > 0 {
		s.HitRate = float64(s.Hits) / float64(s.TotalRequests)
	}
	return s
}
