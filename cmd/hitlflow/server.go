package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/hitlflow/api/handlers"
	"github.com/BaSui01/hitlflow/config"
	"github.com/BaSui01/hitlflow/executor"
	"github.com/BaSui01/hitlflow/hitl"
	"github.com/BaSui01/hitlflow/hitl/persistence"
	"github.com/BaSui01/hitlflow/internal/database"
	"github.com/BaSui01/hitlflow/internal/metrics"
	"github.com/BaSui01/hitlflow/internal/migration"
	"github.com/BaSui01/hitlflow/internal/server"
	"github.com/BaSui01/hitlflow/internal/telemetry"
	"github.com/BaSui01/hitlflow/internal/tlsutil"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 HITLFlow 的主服务器
type Server struct {
	cfg    *config.Config
	logger *zap.Logger
	otel   *telemetry.Providers

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager

	// 存储后端
	redisClient redis.UniversalClient
	db          *database.PoolManager
	store       hitl.Store

	// HITL 引擎
	executor hitl.Executor
	manager  *hitl.Manager

	// Handlers
	healthHandler *handlers.HealthHandler
	hitlHandler   *handlers.HITLHandler

	// 指标收集器
	metricsCollector *metrics.Collector

	// 后台任务（清扫、限流器清理）
	bgCancel context.CancelFunc
	wg       sync.WaitGroup
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, logger *zap.Logger, otel *telemetry.Providers) *Server {
	return &Server{
		cfg:    cfg,
		logger: logger,
		otel:   otel,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动所有服务
func (s *Server) Start() error {
	bgCtx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	// 1. 指标收集器
	s.metricsCollector = metrics.NewCollector("hitlflow", s.logger)

	// 2. 存储
	if err := s.initStore(bgCtx); err != nil {
		return fmt.Errorf("failed to init store: %w", err)
	}

	// 3. 任务执行器
	if err := s.initExecutor(); err != nil {
		return fmt.Errorf("failed to init executor: %w", err)
	}

	// 4. HITL 引擎
	if err := s.initManager(bgCtx); err != nil {
		return fmt.Errorf("failed to init hitl manager: %w", err)
	}

	// 5. Handlers
	s.initHandlers()

	// 6. HTTP 服务器
	if err := s.startHTTPServer(bgCtx); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	// 7. Metrics 服务器
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.String("store", s.cfg.Store.Type),
		zap.String("executor", s.cfg.Executor.Type),
	)
	return nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

// initStore 按配置创建挂起登记存储
func (s *Server) initStore(ctx context.Context) error {
	storeType, err := persistence.ParseStoreType(s.cfg.Store.Type)
	if err != nil {
		return err
	}

	var backends persistence.Backends
	switch storeType {
	case persistence.StoreTypeRedis:
		s.redisClient = newRedisClient(s.cfg.Redis)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := s.redisClient.Ping(pingCtx).Err(); err != nil {
			return fmt.Errorf("redis ping %s: %w", s.cfg.Redis.Addr, err)
		}
		backends.Redis = s.redisClient

	case persistence.StoreTypeDatabase:
		if s.cfg.Store.AutoMigrate {
			// 版本化迁移优先于 GORM AutoMigrate，表结构由 migrations 目录维护
			if err := migration.UpFromConfig(ctx, s.cfg.Database, s.logger); err != nil {
				return fmt.Errorf("apply migrations: %w", err)
			}
		}
		s.db, err = database.Open(s.cfg.Database, s.metricsCollector, s.logger)
		if err != nil {
			return err
		}
		backends.DB = s.db.DB()
	}

	s.store, err = persistence.NewStore(persistence.Config{
		Type:      storeType,
		KeyPrefix: s.cfg.Store.KeyPrefix,
	}, backends)
	if err != nil {
		return err
	}
	s.logger.Info("suspension store ready", zap.String("type", string(storeType)))
	return nil
}

// newRedisClient 创建 Redis 客户端
func newRedisClient(cfg config.RedisConfig) redis.UniversalClient {
	var tlsCfg *tls.Config
	if cfg.TLS {
		tlsCfg = tlsutil.ForAddr(cfg.Addr)
	}
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		TLSConfig:    tlsCfg,
	})
}

// initExecutor 创建任务执行器
func (s *Server) initExecutor() error {
	switch s.cfg.Executor.Type {
	case "webhook":
		retry := executor.DefaultRetryConfig()
		retry.MaxRetries = s.cfg.Executor.MaxRetries
		wh, err := executor.NewWebhook(executor.WebhookConfig{
			URL:     s.cfg.Executor.WebhookURL,
			Token:   s.cfg.Executor.WebhookToken,
			Timeout: s.cfg.Executor.Timeout,
			Retry:   retry,
		}, nil, s.logger)
		if err != nil {
			return err
		}
		s.executor = wh
	default:
		// 独立部署时进程内没有注册续体，非阻塞请求的恢复会失败并可通过 /resume 重试
		s.logger.Warn("local executor selected, only in-process continuations can be resumed")
		s.executor = executor.NewLocal(s.logger)
	}
	return nil
}

// initManager 创建 HITL 引擎，处理残留条目并启动过期清扫
func (s *Server) initManager(ctx context.Context) error {
	hcfg := s.cfg.HITL
	registry := hitl.NewRegistry(s.store, s.logger)
	hub := hitl.NewHub(hcfg.ChannelBuffer, s.logger)
	instanceID := hcfg.ResolvedInstanceID()
	s.logger.Info("hitl instance", zap.String("instance_id", instanceID))

	// Prometheus 指标始终记录；OTel 指标随遥测配置导出
	var recorder hitl.MetricsRecorder = s.metricsCollector
	if otelMetrics, err := telemetry.NewHITLMetrics(s.otel.Meter()); err != nil {
		s.logger.Warn("failed to create otel hitl metrics", zap.Error(err))
	} else {
		recorder = hitl.TeeMetrics(s.metricsCollector, otelMetrics)
	}

	opts := []hitl.ManagerOption{
		hitl.WithLogger(s.logger),
		hitl.WithMetrics(recorder),
		hitl.WithTimeouts(hcfg.DefaultTimeout, hcfg.MaxTimeout),
		hitl.WithNonBlockingTTL(hcfg.NonBlockingTTL),
		hitl.WithInstanceID(instanceID),
		hitl.WithChannelIdleTTL(hcfg.ChannelIdleTTL),
	}
	if s.otel != nil {
		opts = append(opts, hitl.WithTracer(s.otel.Tracer()))
	}
	s.manager = hitl.NewManager(registry, hub, s.executor, opts...)

	if hcfg.RecoverOnStart {
		n, err := s.manager.Recover(ctx)
		if err != nil {
			return fmt.Errorf("recover leftover suspensions: %w", err)
		}
		if n > 0 {
			s.logger.Info("expired leftover suspensions", zap.Int("count", n))
		}
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.manager.Run(ctx, hcfg.SweepInterval)
	}()
	return nil
}

// initHandlers 初始化所有 handlers
func (s *Server) initHandlers() {
	s.healthHandler = handlers.NewHealthHandler(s.manager.Stats, s.logger)
	// store 检查对 redis 后端即 Redis PING
	s.healthHandler.RegisterCheck(handlers.NewPingCheck("store", s.store.Ping))
	if s.db != nil {
		s.healthHandler.RegisterCheck(handlers.NewPingCheck("database", s.db.Ping))
	}

	s.hitlHandler = handlers.NewHITLHandler(s.manager, s.logger,
		handlers.WithHeartbeat(s.cfg.HITL.HeartbeatInterval),
		handlers.WithStreamRecorder(s.metricsCollector),
	)
	s.logger.Info("Handlers initialized")
}

// userAuth 选择终端用户认证方式：配置了 JWT 时校验 token，否则信任网关传递的用户 header
func (s *Server) userAuth() Middleware {
	if s.cfg.JWT.Enabled() {
		return JWTAuth(s.cfg.JWT, s.logger)
	}
	header := s.cfg.Server.TrustedUserHeader
	if header == "" {
		header = "X-User-ID"
	}
	s.logger.Warn("JWT not configured, trusting user id header from gateway", zap.String("header", header))
	return GatewayUserAuth(header, s.cfg.Server.APIKeys, s.cfg.Server.AllowQueryAPIKey, s.logger)
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// buildHandler 组装路由与中间件链
func (s *Server) buildHandler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()

	// 健康检查端点
	mux.HandleFunc("GET /health", s.healthHandler.HandleHealth)
	mux.HandleFunc("GET /healthz", s.healthHandler.HandleHealthz)
	mux.HandleFunc("GET /ready", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /readyz", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	// HITL 路由，认证按路由区分
	s.hitlHandler.Routes(mux,
		s.userAuth(),
		APIKeyAuth(s.cfg.Server.APIKeys, s.cfg.Server.AllowQueryAPIKey, s.logger),
	)

	return Chain(mux,
		Recovery(s.logger),
		RequestID(),
		OTelTracing(),
		MetricsMiddleware(s.metricsCollector),
		SecurityHeaders(),
		RequestLogger(s.logger),
		CORS(s.cfg.Server.CORSAllowedOrigins, s.cfg.Server.TrustedUserHeader),
		RateLimiter(ctx, float64(s.cfg.Server.RateLimitRPS), s.cfg.Server.RateLimitBurst, s.logger),
	)
}

// startHTTPServer 启动 HTTP 服务器
func (s *Server) startHTTPServer(ctx context.Context) error {
	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout, // 0: 事件流与阻塞挂起需要长连接
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
		MaxConnections:  s.cfg.Server.MaxConnections,
	}

	s.httpManager = server.NewManager(s.buildHandler(ctx), serverConfig, s.logger)
	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.Int("port", s.cfg.Server.HTTPPort))
	return nil
}

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

// startMetricsServer 启动 Metrics 服务器，端口为 0 时不启动
func (s *Server) startMetricsServer() error {
	if s.cfg.Server.MetricsPort == 0 {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager(mux, serverConfig, s.logger)
	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("Metrics server started", zap.Int("port", s.cfg.Server.MetricsPort))
	return nil
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待关闭信号或服务异常退出，然后优雅关闭
func (s *Server) WaitForShutdown() error {
	managers := make([]*server.Manager, 0, 2)
	for _, m := range []*server.Manager{s.httpManager, s.metricsManager} {
		if m != nil {
			managers = append(managers, m)
		}
	}
	cause := server.WaitForShutdown(s.logger, managers...)
	return errors.Join(cause, s.Shutdown())
}

// Shutdown 优雅关闭所有服务
func (s *Server) Shutdown() error {
	s.logger.Info("Starting graceful shutdown...")
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout+5*time.Second)
	defer cancel()

	// 1. 停止清扫与限流器清理
	if s.bgCancel != nil {
		s.bgCancel()
	}

	// 2. 并行关闭 HTTP 与 Metrics 服务器；HTTP 先取消事件流与阻塞等待
	var g errgroup.Group
	for _, m := range []*server.Manager{s.httpManager, s.metricsManager} {
		if m == nil {
			continue
		}
		g.Go(func() error { return m.Shutdown(ctx) })
	}
	errs := []error{g.Wait()}

	// 3. 等待后台 goroutine
	s.wg.Wait()

	// 4. 关闭存储与连接；RedisStore 持有 Redis 客户端，SQLStore 不持有连接池
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	if s.db != nil {
		errs = append(errs, s.db.Close())
	}

	// 5. 刷新遥测
	if s.otel != nil {
		errs = append(errs, s.otel.Shutdown(ctx))
	}

	err := errors.Join(errs...)
	if err != nil {
		s.logger.Error("shutdown completed with errors", zap.Error(err))
		return err
	}
	s.logger.Info("Graceful shutdown completed")
	return nil
}
