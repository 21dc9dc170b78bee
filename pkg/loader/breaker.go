package loader

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"mestore/pkg/core"
	"mestore/pkg/logger"
	"mestore/pkg/searchcache"
)

// BreakerConfig 熔断器配置
type BreakerConfig struct {
	Name        string        `mapstructure:"name"`          // 熔断器名称
	MaxRequests uint32        `mapstructure:"max_requests"`  // 半开状态下的最大请求数
	Interval    time.Duration `mapstructure:"interval"`      // 统计窗口时间
	Timeout     time.Duration `mapstructure:"timeout"`       // 熔断器打开后的超时时间
	ReadyToTrip uint32        `mapstructure:"ready_to_trip"` // 触发熔断的连续失败次数
	Enabled     bool          `mapstructure:"enabled"`       // 是否启用熔断器
}

// DefaultBreakerConfig 默认熔断器配置
func DefaultBreakerConfig() *BreakerConfig {
	return &BreakerConfig{
		Name:        "SearchPrefetch",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: 5,
		Enabled:     true,
	}
}

// BreakerStats 熔断器统计信息
type BreakerStats struct {
	TotalRequests int64     `json:"total_requests"`
	Successful    int64     `json:"successful_requests"`
	Failed        int64     `json:"failed_requests"`
	Rejected      int64     `json:"rejected_requests"` // 熔断打开期间直接拒绝的请求
	LastFailure   time.Time `json:"last_failure"`
	State         string    `json:"state"`
}

// Breaker 为取数函数加上熔断能力。
// 上游连续失败后直接拒绝预取请求，避免预取风暴压垮已经出问题的上游。
// NOT_FOUND 不计为失败。
type Breaker struct {
	fetch  searchcache.FetchFunc
	cb     *gobreaker.CircuitBreaker
	config *BreakerConfig
	logger *logrus.Entry

	mu    sync.Mutex
	stats BreakerStats
}

// NewBreaker 创建熔断装饰器
func NewBreaker(fetch searchcache.FetchFunc, config *BreakerConfig) *Breaker {
	if config == nil {
		config = DefaultBreakerConfig()
	}

	b := &Breaker{
		fetch:  fetch,
		config: config,
		logger: logger.WithComponent("loader").WithField("breaker", config.Name),
	}

	settings := gobreaker.Settings{
		Name:        config.Name,
		MaxRequests: config.MaxRequests,
		Interval:    config.Interval,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.ReadyToTrip
		},
		IsSuccessful: func(err error) bool {
			return err == nil || core.CodeOf(err) == core.ErrNotFound
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.logger.WithFields(logrus.Fields{
				"from": from.String(),
				"to":   to.String(),
			}).Warn("熔断器状态变更")
		},
	}
	b.cb = gobreaker.NewCircuitBreaker(settings)

	return b
}

// Fetch 通过熔断器调用上游，签名与 searchcache.FetchFunc 一致
func (b *Breaker) Fetch(ctx context.Context, key string) (any, error) {
	if !b.config.Enabled {
		return b.fetch(ctx, key)
	}

	value, err := b.cb.Execute(func() (interface{}, error) {
		return b.fetch(ctx, key)
	})

	b.mu.Lock()
	defer b.mu.Unlock()

	b.stats.TotalRequests++
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		b.stats.Rejected++
		return nil, core.WrapError(core.ErrUpstreamUnavailable, "circuit breaker rejected request", err).
			WithContext("key", key)
	case err != nil:
		b.stats.Failed++
		b.stats.LastFailure = time.Now()
		return nil, err
	default:
		b.stats.Successful++
		return value, nil
	}
}

// State 返回熔断器当前状态
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

// Stats 返回熔断器统计信息
func (b *Breaker) Stats() BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	stats := b.stats
	stats.State = b.cb.State().String()
	return stats
}
