package searchcache

import (
	"time"

	"github.com/sirupsen/logrus"

	"mestore/pkg/compress"
)

// Config 搜索结果缓存配置
type Config struct {
	MaxSize              float64       `json:"max_size" mapstructure:"max_size"`                           // 总负载预算（MB）
	MaxEntries           int           `json:"max_entries" mapstructure:"max_entries"`                     // 最大条目数
	TTL                  time.Duration `json:"ttl" mapstructure:"ttl"`                                     // 条目自创建起的生存时间
	CompressionThreshold float64       `json:"compression_threshold" mapstructure:"compression_threshold"` // 超过该大小（KB）的负载尝试压缩
	PrefetchEnabled      bool          `json:"prefetch_enabled" mapstructure:"prefetch_enabled"`           // 是否允许预取
	BackgroundSync       bool          `json:"background_sync" mapstructure:"background_sync"`             // 保留字段，当前没有任何行为

	CleanupInterval    time.Duration `json:"cleanup_interval" mapstructure:"cleanup_interval"`       // 后台清理间隔，<=0 表示不启动
	CodecTimeout       time.Duration `json:"codec_timeout" mapstructure:"codec_timeout"`             // 单次压缩/解压的等待上限
	Codec              string        `json:"codec" mapstructure:"codec"`                             // 压缩算法: brotli, gzip
	CompressionWorkers int           `json:"compression_workers" mapstructure:"compression_workers"` // 压缩工作协程数
	HardLimit          float64       `json:"hard_limit" mapstructure:"hard_limit"`                   // 底层存储硬上限（MB），0 表示不限制
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		MaxSize:              50,
		MaxEntries:           1000,
		TTL:                  5 * time.Minute,
		CompressionThreshold: 100,
		PrefetchEnabled:      true,
		BackgroundSync:       false,
		CleanupInterval:      60 * time.Second,
		CodecTimeout:         5 * time.Second,
		Codec:                compress.CodecBrotli,
		CompressionWorkers:   2,
		HardLimit:            0,
	}
}

// Option 用于在构造时覆盖默认配置
type Option func(*options)

type options struct {
	config Config
	codec  compress.Codec
	logger *logrus.Entry
}

// WithConfig 用一份完整配置覆盖默认值。
// 数值字段只有非零时才生效，布尔字段按原值采用。
func WithConfig(cfg Config) Option {
	return func(o *options) {
		if cfg.MaxSize > 0 {
			o.config.MaxSize = cfg.MaxSize
		}
		if cfg.MaxEntries > 0 {
			o.config.MaxEntries = cfg.MaxEntries
		}
		if cfg.TTL > 0 {
			o.config.TTL = cfg.TTL
		}
		if cfg.CompressionThreshold > 0 {
			o.config.CompressionThreshold = cfg.CompressionThreshold
		}
		if cfg.CleanupInterval != 0 {
			o.config.CleanupInterval = cfg.CleanupInterval
		}
		if cfg.CodecTimeout > 0 {
			o.config.CodecTimeout = cfg.CodecTimeout
		}
		if cfg.Codec != "" {
			o.config.Codec = cfg.Codec
		}
		if cfg.CompressionWorkers > 0 {
			o.config.CompressionWorkers = cfg.CompressionWorkers
		}
		if cfg.HardLimit > 0 {
			o.config.HardLimit = cfg.HardLimit
		}
		o.config.PrefetchEnabled = cfg.PrefetchEnabled
		o.config.BackgroundSync = cfg.BackgroundSync
	}
}

// WithMaxSize 设置总负载预算（MB）
func WithMaxSize(mb float64) Option {
	return func(o *options) { o.config.MaxSize = mb }
}

// WithMaxEntries 设置最大条目数
func WithMaxEntries(n int) Option {
	return func(o *options) { o.config.MaxEntries = n }
}

// WithTTL 设置条目生存时间
func WithTTL(ttl time.Duration) Option {
	return func(o *options) { o.config.TTL = ttl }
}

// WithCompressionThreshold 设置压缩阈值（KB）
func WithCompressionThreshold(kb float64) Option {
	return func(o *options) { o.config.CompressionThreshold = kb }
}

// WithPrefetch 启用或禁用预取
func WithPrefetch(enabled bool) Option {
	return func(o *options) { o.config.PrefetchEnabled = enabled }
}

// WithBackgroundSync 设置保留的 backgroundSync 标志
func WithBackgroundSync(enabled bool) Option {
	return func(o *options) { o.config.BackgroundSync = enabled }
}

// WithCleanupInterval 设置后台清理间隔
func WithCleanupInterval(d time.Duration) Option {
	return func(o *options) { o.config.CleanupInterval = d }
}

// WithCodecTimeout 设置压缩/解压等待上限
func WithCodecTimeout(d time.Duration) Option {
	return func(o *options) { o.config.CodecTimeout = d }
}

// WithHardLimit 设置底层存储硬上限（MB）
func WithHardLimit(mb float64) Option {
	return func(o *options) { o.config.HardLimit = mb }
}

// WithCodec 直接指定编解码器，优先于 Config.Codec
func WithCodec(codec compress.Codec) Option {
	return func(o *options) { o.codec = codec }
}

// WithLogger 指定日志入口
func WithLogger(entry *logrus.Entry) Option {
	return func(o *options) { o.logger = entry }
}
