// Package loader 提供预取所用的上游取数函数：Redis 读取器和熔断装饰器。
package loader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"mestore/pkg/core"
	"mestore/pkg/logger"
)

// StringGetter 是 RedisLoader 依赖的最小客户端能力，*redis.Client 满足该接口
type StringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// RedisConfig Redis 连接配置
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"` // 搜索结果在 Redis 中的键前缀
}

// NewRedisClient 创建 Redis 客户端并检查连通性
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// RedisLoader 从 Redis 读取其他服务预先发布的搜索结果（JSON）
type RedisLoader struct {
	client StringGetter
	prefix string
	logger *logrus.Entry
}

// NewRedisLoader 创建 Redis 读取器
func NewRedisLoader(client StringGetter, prefix string) *RedisLoader {
	return &RedisLoader{
		client: client,
		prefix: prefix,
		logger: logger.WithComponent("loader").WithField("source", "redis"),
	}
}

// Fetch 读取并解码单个键，签名与 searchcache.FetchFunc 一致
func (l *RedisLoader) Fetch(ctx context.Context, key string) (any, error) {
	redisKey := l.prefix + key

	raw, err := l.client.Get(ctx, redisKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, core.WrapError(core.ErrNotFound, "search result not published", err).
			WithContext("redis_key", redisKey)
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", redisKey, err)
	}

	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		l.logger.WithError(err).WithField("redis_key", redisKey).Warn("搜索结果不是合法的JSON")
		return nil, core.WrapError(core.ErrSerializeFailed, "invalid search payload", err)
	}
	return value, nil
}
