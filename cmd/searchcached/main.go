// searchcached 运行搜索结果缓存及其诊断服务：
// 从 Redis 预取搜索结果，通过 HTTP 暴露统计、内容与运维操作。
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"mestore/pkg/api"
	"mestore/pkg/config"
	"mestore/pkg/loader"
	"mestore/pkg/logger"
	"mestore/pkg/reporter"
	"mestore/pkg/searchcache"
)

var (
	configPath = flag.String("config", "", "配置文件路径 (例如 ./config/searchcached.yaml)")
	logLevel   = flag.String("log-level", "", "日志级别 (debug, info, warn, error)，覆盖配置文件")
	logFormat  = flag.String("log-format", "", "日志格式 (json or text)，覆盖配置文件")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.InitFromEnv()
		logger.WithComponent("main").WithError(err).Fatal("Failed to load configuration")
	}

	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Logging.Format = *logFormat
	}
	logger.Init(cfg.Logging)
	log := logger.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cache := searchcache.New(cfg.CacheOptions()...)
	defer cache.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		reporter.NewCollector("mestore", cache),
	)

	var (
		fetch   searchcache.FetchFunc
		breaker *loader.Breaker
	)
	redisClient, err := loader.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		log.WithError(err).Warn("Redis 不可用，预取接口已禁用")
	} else {
		defer redisClient.Close()
		breaker = loader.NewBreaker(loader.NewRedisLoader(redisClient, cfg.Redis.KeyPrefix).Fetch, &cfg.Breaker)
		fetch = breaker.Fetch
	}

	server := api.NewServer(cache, fetch, registry)
	if breaker != nil {
		server.AddHealthCheck("redis", func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
		server.AddStats("breaker", func() interface{} { return breaker.Stats() })
	}

	var influxClient influxdb2.Client
	if cfg.InfluxDB.Enabled {
		var writer reporter.PointWriter
		influxClient, writer, err = reporter.NewInfluxClient(ctx, cfg.InfluxDB)
		if err != nil {
			log.WithError(err).Warn("InfluxDB 不可用，跳过统计上报")
		} else {
			defer influxClient.Close()

			hostname, _ := os.Hostname()
			r := reporter.NewInfluxReporter(writer, cache, cfg.InfluxDB.Interval, map[string]string{"instance": hostname})
			r.Start(ctx)
			defer r.Stop()
		}
	}

	if err := server.Start(cfg.Server); err != nil {
		log.WithError(err).Fatal("Failed to start API server")
	}

	log.WithFields(logrus.Fields{
		"max_size_mb": cfg.Cache.MaxSize,
		"max_entries": cfg.Cache.MaxEntries,
		"ttl":         cfg.Cache.TTL,
		"codec":       cfg.Cache.Codec,
		"prefetch":    fetch != nil,
	}).Info("searchcached started")

	<-ctx.Done()
	log.Info("Shutting down searchcached...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Failed to gracefully shutdown server")
	}
}
