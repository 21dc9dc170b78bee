// Package reporter 将搜索缓存的统计信息导出到 Prometheus 和 InfluxDB。
package reporter

import (
	"github.com/prometheus/client_golang/prometheus"

	"mestore/pkg/searchcache"
)

// StatsSource 提供统计快照的数据源，*searchcache.Cache 满足该接口
type StatsSource interface {
	Stats() searchcache.Stats
	Len() int
}

// Collector 在每次抓取时读取缓存统计快照，实现 prometheus.Collector
type Collector struct {
	source StatsSource

	requests        *prometheus.Desc
	hits            *prometheus.Desc
	misses          *prometheus.Desc
	evictions       *prometheus.Desc
	memoryUsage     *prometheus.Desc
	hitRate         *prometheus.Desc
	avgResponse     *prometheus.Desc
	prefetchSuccess *prometheus.Desc
	failures        *prometheus.Desc
	entries         *prometheus.Desc
}

// NewCollector 创建收集器，namespace 为指标前缀（如 "mestore"）
func NewCollector(namespace string, source StatsSource) *Collector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "search_cache", name), help, labels, nil)
	}

	return &Collector{
		source:          source,
		requests:        desc("requests_total", "Total number of cache lookups"),
		hits:            desc("hits_total", "Total number of cache hits"),
		misses:          desc("misses_total", "Total number of cache misses"),
		evictions:       desc("evictions_total", "Total number of entries removed by LRU or quota pressure"),
		memoryUsage:     desc("memory_usage_megabytes", "Accounted size of cached entries in MB"),
		hitRate:         desc("hit_rate", "Ratio of hits to total lookups"),
		avgResponse:     desc("avg_response_seconds", "Running mean of hit response time"),
		prefetchSuccess: desc("prefetch_success_total", "Total number of keys stored by prefetch"),
		failures:        desc("failures_total", "Total number of failed cache operations", "operation"),
		entries:         desc("entries", "Current number of cached entries"),
	}
}

// Describe 实现 prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.requests
	ch <- c.hits
	ch <- c.misses
	ch <- c.evictions
	ch <- c.memoryUsage
	ch <- c.hitRate
	ch <- c.avgResponse
	ch <- c.prefetchSuccess
	ch <- c.failures
	ch <- c.entries
}

// Collect 实现 prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	stats := c.source.Stats()

	ch <- prometheus.MustNewConstMetric(c.requests, prometheus.CounterValue, float64(stats.TotalRequests))
	ch <- prometheus.MustNewConstMetric(c.hits, prometheus.CounterValue, float64(stats.Hits))
	ch <- prometheus.MustNewConstMetric(c.misses, prometheus.CounterValue, float64(stats.Misses))
	ch <- prometheus.MustNewConstMetric(c.evictions, prometheus.CounterValue, float64(stats.Evictions))
	ch <- prometheus.MustNewConstMetric(c.memoryUsage, prometheus.GaugeValue, stats.MemoryUsage)
	ch <- prometheus.MustNewConstMetric(c.hitRate, prometheus.GaugeValue, stats.HitRate)
	ch <- prometheus.MustNewConstMetric(c.avgResponse, prometheus.GaugeValue, stats.AvgResponseTime.Seconds())
	ch <- prometheus.MustNewConstMetric(c.prefetchSuccess, prometheus.CounterValue, float64(stats.PrefetchSuccess))

	ch <- prometheus.MustNewConstMetric(c.failures, prometheus.CounterValue, float64(stats.PrefetchFailures), "prefetch")
	ch <- prometheus.MustNewConstMetric(c.failures, prometheus.CounterValue, float64(stats.CompressionFailures), "compress")
	ch <- prometheus.MustNewConstMetric(c.failures, prometheus.CounterValue, float64(stats.DecompressionFailures), "decompress")
	ch <- prometheus.MustNewConstMetric(c.failures, prometheus.CounterValue, float64(stats.QuotaDrops), "quota")

	ch <- prometheus.MustNewConstMetric(c.entries, prometheus.GaugeValue, float64(c.source.Len()))
}
