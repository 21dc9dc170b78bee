// Package api 提供搜索缓存的诊断与运维 HTTP 接口。
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"mestore/pkg/logger"
	"mestore/pkg/searchcache"
)

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`             // gin 运行模式：debug、release、test
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"` // 优雅关闭等待时间
}

// HealthCheck 依赖项健康检查
type HealthCheck func(ctx context.Context) error

// ErrorResponse 错误响应
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// PrefetchRequest 预取请求体
type PrefetchRequest struct {
	Keys []string `json:"keys" binding:"required"`
}

// PrefetchResponse 预取结果
type PrefetchResponse struct {
	Requested int      `json:"requested"`
	Cached    int      `json:"cached"`
	Missing   []string `json:"missing"`
}

// Server 诊断 HTTP 服务
type Server struct {
	cache    *searchcache.Cache
	fetch    searchcache.FetchFunc
	gatherer prometheus.Gatherer
	checks   map[string]HealthCheck
	extra    map[string]func() interface{}
	logger   *logrus.Entry

	server *http.Server
}

// NewServer 创建诊断服务。fetch 为空时预取接口返回 503。
func NewServer(cache *searchcache.Cache, fetch searchcache.FetchFunc, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		cache:    cache,
		fetch:    fetch,
		gatherer: gatherer,
		checks:   make(map[string]HealthCheck),
		extra:    make(map[string]func() interface{}),
		logger:   logger.WithComponent("api"),
	}
}

// AddHealthCheck 注册依赖项检查，失败时 /health 返回 503
func (s *Server) AddHealthCheck(name string, check HealthCheck) {
	s.checks[name] = check
}

// AddStats 为 /api/v1/cache/stats 附加额外的统计来源（如熔断器）
func (s *Server) AddStats(name string, source func() interface{}) {
	s.extra[name] = source
}

// Router 构建路由
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(s.requestLogger())

	router.GET("/health", s.healthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	v1 := router.Group("/api/v1/cache")
	{
		v1.GET("/stats", s.getStats)
		v1.GET("/info", s.getInfo)
		v1.DELETE("/:key", s.deleteKey)
		v1.DELETE("", s.clear)
		v1.POST("/prefetch", s.prefetch)
	}

	return router
}

// Start 在后台监听端口
func (s *Server) Start(cfg ServerConfig) error {
	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}

	s.server = &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.WithField("port", cfg.Port).Info("诊断服务启动")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.WithError(err).Error("HTTP 服务异常退出")
		}
	}()
	return nil
}

// Shutdown 优雅关闭 HTTP 服务
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		s.logger.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start),
		}).Debug("request")
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	services := make(map[string]string, len(s.checks))
	status := "ok"
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			services[name] = "error: " + err.Error()
			status = "degraded"
		} else {
			services[name] = "ok"
		}
	}

	health := map[string]interface{}{
		"status":    status,
		"timestamp": time.Now(),
		"entries":   s.cache.Len(),
		"services":  services,
	}

	if status == "ok" {
		c.JSON(http.StatusOK, health)
	} else {
		c.JSON(http.StatusServiceUnavailable, health)
	}
}

func (s *Server) getStats(c *gin.Context) {
	if len(s.extra) == 0 {
		c.JSON(http.StatusOK, s.cache.Stats())
		return
	}

	response := map[string]interface{}{"cache": s.cache.Stats()}
	for name, source := range s.extra {
		response[name] = source()
	}
	c.JSON(http.StatusOK, response)
}

func (s *Server) getInfo(c *gin.Context) {
	c.JSON(http.StatusOK, s.cache.Info())
}

func (s *Server) deleteKey(c *gin.Context) {
	key := c.Param("key")
	if !s.cache.Delete(key) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "key is not cached"})
		return
	}
	c.JSON(http.StatusOK, map[string]interface{}{"deleted": key})
}

func (s *Server) clear(c *gin.Context) {
	removed := s.cache.Len()
	s.cache.Clear()
	s.logger.WithField("removed", removed).Info("缓存已清空")
	c.JSON(http.StatusOK, map[string]interface{}{"removed": removed})
}

func (s *Server) prefetch(c *gin.Context) {
	if s.fetch == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "unavailable", Message: "no upstream loader configured"})
		return
	}
	if !s.cache.Config().PrefetchEnabled {
		c.JSON(http.StatusConflict, ErrorResponse{Error: "disabled", Message: "prefetch is disabled"})
		return
	}

	var req PrefetchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "bad_request", Message: err.Error()})
		return
	}

	s.cache.Prefetch(c.Request.Context(), req.Keys, s.fetch)

	resp := PrefetchResponse{Requested: len(req.Keys), Missing: []string{}}
	for _, key := range req.Keys {
		if s.cache.Contains(key) {
			resp.Cached++
		} else {
			resp.Missing = append(resp.Missing, key)
		}
	}
	c.JSON(http.StatusOK, resp)
}
