// Package config 负责加载 searchcached 的配置：默认值、配置文件与环境变量覆盖。
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"mestore/pkg/api"
	"mestore/pkg/compress"
	"mestore/pkg/core"
	"mestore/pkg/loader"
	"mestore/pkg/logger"
	"mestore/pkg/reporter"
	"mestore/pkg/searchcache"
)

// EnvPrefix 环境变量前缀，例如 MESTORE_CACHE_MAX_SIZE
const EnvPrefix = "MESTORE"

// Config 主配置结构
type Config struct {
	// 缓存配置
	Cache searchcache.Config `mapstructure:"cache"`

	// 日志配置
	Logging logger.Config `mapstructure:"logging"`

	// 预取数据源
	Redis   loader.RedisConfig   `mapstructure:"redis"`
	Breaker loader.BreakerConfig `mapstructure:"breaker"`

	// 诊断服务与指标上报
	Server   api.ServerConfig      `mapstructure:"server"`
	InfluxDB reporter.InfluxConfig `mapstructure:"influxdb"`
}

// Default 返回默认配置
func Default() *Config {
	return &Config{
		Cache: searchcache.DefaultConfig(),
		Logging: logger.Config{
			Level:  "info",
			Format: "text",
		},
		Redis: loader.RedisConfig{
			Addr:      "localhost:6379",
			Password:  "",
			DB:        0,
			KeyPrefix: "search:results:",
		},
		Breaker: *loader.DefaultBreakerConfig(),
		Server: api.ServerConfig{
			Port:            "8080",
			Mode:            "release",
			ShutdownTimeout: 10 * time.Second,
		},
		InfluxDB: reporter.InfluxConfig{
			Enabled:  false,
			URL:      "http://localhost:8086",
			Token:    "",
			Org:      "mestore",
			Bucket:   "search_cache",
			Interval: 30 * time.Second,
		},
	}
}

// Load 读取配置。path 为空时在 ./config 和当前目录查找 searchcached.yaml，
// 文件不存在时只使用默认值和环境变量。
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("searchcached")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults 注册所有键的默认值，AutomaticEnv 只会覆盖已知的键
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("cache.max_size", d.Cache.MaxSize)
	v.SetDefault("cache.max_entries", d.Cache.MaxEntries)
	v.SetDefault("cache.ttl", d.Cache.TTL)
	v.SetDefault("cache.compression_threshold", d.Cache.CompressionThreshold)
	v.SetDefault("cache.prefetch_enabled", d.Cache.PrefetchEnabled)
	v.SetDefault("cache.background_sync", d.Cache.BackgroundSync)
	v.SetDefault("cache.cleanup_interval", d.Cache.CleanupInterval)
	v.SetDefault("cache.codec_timeout", d.Cache.CodecTimeout)
	v.SetDefault("cache.codec", d.Cache.Codec)
	v.SetDefault("cache.compression_workers", d.Cache.CompressionWorkers)
	v.SetDefault("cache.hard_limit", d.Cache.HardLimit)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)

	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.key_prefix", d.Redis.KeyPrefix)

	v.SetDefault("breaker.name", d.Breaker.Name)
	v.SetDefault("breaker.max_requests", d.Breaker.MaxRequests)
	v.SetDefault("breaker.interval", d.Breaker.Interval)
	v.SetDefault("breaker.timeout", d.Breaker.Timeout)
	v.SetDefault("breaker.ready_to_trip", d.Breaker.ReadyToTrip)
	v.SetDefault("breaker.enabled", d.Breaker.Enabled)

	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.mode", d.Server.Mode)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)

	v.SetDefault("influxdb.enabled", d.InfluxDB.Enabled)
	v.SetDefault("influxdb.url", d.InfluxDB.URL)
	v.SetDefault("influxdb.token", d.InfluxDB.Token)
	v.SetDefault("influxdb.org", d.InfluxDB.Org)
	v.SetDefault("influxdb.bucket", d.InfluxDB.Bucket)
	v.SetDefault("influxdb.interval", d.InfluxDB.Interval)
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Cache.MaxSize <= 0 {
		return invalid("cache.max_size must be positive")
	}

	if c.Cache.MaxEntries <= 0 {
		return invalid("cache.max_entries must be positive")
	}

	if c.Cache.TTL <= 0 {
		return invalid("cache.ttl must be positive")
	}

	if c.Cache.CompressionThreshold <= 0 {
		return invalid("cache.compression_threshold must be positive")
	}

	if c.Cache.CodecTimeout <= 0 {
		return invalid("cache.codec_timeout must be positive")
	}

	if c.Cache.CompressionWorkers <= 0 {
		return invalid("cache.compression_workers must be positive")
	}

	if c.Cache.HardLimit < 0 {
		return invalid("cache.hard_limit cannot be negative")
	}

	if _, err := compress.NewCodec(c.Cache.Codec); err != nil {
		return core.WrapError(core.ErrConfigInvalid, "cache.codec is not supported", err)
	}

	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		return core.WrapError(core.ErrConfigInvalid, "logging.level is not a valid level", err)
	}

	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return invalid("logging.format must be text or json")
	}

	if c.Server.Port == "" {
		return invalid("server.port cannot be empty")
	}

	if c.Breaker.Enabled && c.Breaker.ReadyToTrip == 0 {
		return invalid("breaker.ready_to_trip must be positive when the breaker is enabled")
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" || c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "" {
			return invalid("influxdb url, org and bucket are required when enabled")
		}
		if c.InfluxDB.Interval <= 0 {
			return invalid("influxdb.interval must be positive")
		}
	}

	return nil
}

// CacheOptions 将缓存配置转换为 searchcache 构造选项
func (c *Config) CacheOptions() []searchcache.Option {
	opts := []searchcache.Option{
		searchcache.WithConfig(c.Cache),
		searchcache.WithLogger(logger.WithComponent("searchcache")),
	}
	if codec, err := compress.NewCodec(c.Cache.Codec); err == nil {
		opts = append(opts, searchcache.WithCodec(codec))
	}
	return opts
}

func invalid(message string) error {
	return core.NewCacheError(core.ErrConfigInvalid, message)
}
