package reporter

import (
	"context"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sirupsen/logrus"

	"mestore/pkg/logger"
)

// Measurement InfluxDB 中的度量名
const Measurement = "search_cache"

// InfluxConfig InfluxDB 连接配置
type InfluxConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	URL      string        `mapstructure:"url"`
	Token    string        `mapstructure:"token"`
	Org      string        `mapstructure:"org"`
	Bucket   string        `mapstructure:"bucket"`
	Interval time.Duration `mapstructure:"interval"` // 上报间隔
}

// PointWriter 同步写入数据点，api.WriteAPIBlocking 满足该接口
type PointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// NewInfluxClient 创建 InfluxDB 客户端并做健康检查
func NewInfluxClient(ctx context.Context, cfg InfluxConfig) (influxdb2.Client, PointWriter, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to connect to InfluxDB: %w", err)
	}
	if health.Status != "pass" {
		client.Close()
		return nil, nil, fmt.Errorf("InfluxDB health check failed: %s", health.Status)
	}

	return client, client.WriteAPIBlocking(cfg.Org, cfg.Bucket), nil
}

// InfluxReporter 按固定间隔把统计快照写入 InfluxDB
type InfluxReporter struct {
	writer   PointWriter
	source   StatsSource
	interval time.Duration
	tags     map[string]string
	logger   *logrus.Entry
	now      func() time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	written int64
}

// NewInfluxReporter 创建上报器，tags 会附加到每个数据点（如 instance、env）
func NewInfluxReporter(writer PointWriter, source StatsSource, interval time.Duration, tags map[string]string) *InfluxReporter {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &InfluxReporter{
		writer:   writer,
		source:   source,
		interval: interval,
		tags:     tags,
		logger:   logger.WithComponent("reporter").WithField("sink", "influxdb"),
		now:      time.Now,
	}
}

// Point 根据当前统计快照构造数据点
func (r *InfluxReporter) Point() *write.Point {
	stats := r.source.Stats()

	point := influxdb2.NewPointWithMeasurement(Measurement).
		AddField("total_requests", stats.TotalRequests).
		AddField("hits", stats.Hits).
		AddField("misses", stats.Misses).
		AddField("evictions", stats.Evictions).
		AddField("memory_usage_mb", stats.MemoryUsage).
		AddField("hit_rate", stats.HitRate).
		AddField("avg_response_ms", float64(stats.AvgResponseTime)/float64(time.Millisecond)).
		AddField("prefetch_success", stats.PrefetchSuccess).
		AddField("prefetch_failures", stats.PrefetchFailures).
		AddField("quota_drops", stats.QuotaDrops).
		AddField("entries", r.source.Len()).
		SetTime(r.now())

	for k, v := range r.tags {
		point.AddTag(k, v)
	}
	return point
}

// Report 立即写入一个数据点
func (r *InfluxReporter) Report(ctx context.Context) error {
	if err := r.writer.WritePoint(ctx, r.Point()); err != nil {
		return fmt.Errorf("write %s point: %w", Measurement, err)
	}

	r.mu.Lock()
	r.written++
	r.mu.Unlock()
	return nil
}

// Written 返回成功写入的数据点数量
func (r *InfluxReporter) Written() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.written
}

// Start 启动周期上报，重复调用无效果
func (r *InfluxReporter) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}

	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	go r.loop(ctx, r.done)

	r.logger.WithField("interval", r.interval).Info("InfluxDB 上报已启动")
}

func (r *InfluxReporter) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Report(ctx); err != nil {
				r.logger.WithError(err).Warn("写入统计数据失败")
			}
		}
	}
}

// Stop 停止周期上报并等待后台协程退出
func (r *InfluxReporter) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	r.logger.Info("InfluxDB 上报已停止")
}
