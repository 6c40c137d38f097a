package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/hitlflow/api"
	"github.com/BaSui01/hitlflow/hitl"
)

// =============================================================================
// 🏥 健康检查 Handler
// =============================================================================

// HealthCheck 健康检查接口
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// StatsFunc 返回挂起请求与事件通道的统计
type StatsFunc func(ctx context.Context) (hitl.Stats, error)

// HealthHandler 健康检查处理器
type HealthHandler struct {
	logger *zap.Logger
	stats  StatsFunc
	checks []HealthCheck
	mu     sync.RWMutex
}

// NewHealthHandler 创建健康检查处理器，stats 可为 nil
func NewHealthHandler(stats StatsFunc, logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{
		logger: logger,
		stats:  stats,
	}
}

// RegisterCheck 注册就绪检查
func (h *HealthHandler) RegisterCheck(check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, check)
}

// =============================================================================
// 🎯 HTTP 处理程序
// =============================================================================

// HandleHealth 处理 /health 请求，附带活跃通道与待处理数量
// @Summary 健康检查
// @Tags 健康
// @Produce json
// @Success 200 {object} api.HealthResponse "服务正常"
// @Failure 503 {object} api.HealthResponse "存储不可用"
// @Router /health [get]
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := api.HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
	}
	if h.stats != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		s, err := h.stats(ctx)
		if err != nil {
			h.logger.Warn("health stats unavailable", zap.Error(err))
			status.Status = "unhealthy"
			WriteJSON(w, http.StatusServiceUnavailable, status)
			return
		}
		status.ActiveChannels = s.ActiveChannels
		status.Pending = s.Pending
	}
	WriteJSON(w, http.StatusOK, status)
}

// HandleHealthz 处理 /healthz 请求（Kubernetes 活跃度探针，只确认进程在运行）
// @Summary Kubernetes 活跃度探针
// @Tags 健康
// @Produce json
// @Success 200 {object} api.HealthResponse "服务处于活动状态"
// @Router /healthz [get]
func (h *HealthHandler) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, api.HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
	})
}

// HandleReady 处理 /ready 或 /readyz 请求（就绪检查）
// @Summary 准备情况检查
// @Tags 健康
// @Produce json
// @Success 200 {object} api.HealthResponse "服务已准备就绪"
// @Failure 503 {object} api.HealthResponse "服务尚未准备好"
// @Router /ready [get]
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	h.mu.RLock()
	checks := make([]HealthCheck, len(h.checks))
	copy(checks, h.checks)
	h.mu.RUnlock()

	status := api.HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Checks:    make(map[string]api.CheckResult, len(checks)),
	}

	// 各检查并发执行，单个慢检查不拖累其它结果
	var (
		resMu      sync.Mutex
		allHealthy = true
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, check := range checks {
		g.Go(func() error {
			start := time.Now()
			err := check.Check(gctx)
			latency := time.Since(start)

			result := api.CheckResult{Status: "pass", Latency: latency.String()}
			if err != nil {
				result.Status = "fail"
				result.Message = err.Error()
				h.logger.Warn("readiness check failed",
					zap.String("check", check.Name()),
					zap.Error(err),
					zap.Duration("latency", latency),
				)
			}

			resMu.Lock()
			defer resMu.Unlock()
			status.Checks[check.Name()] = result
			if err != nil {
				allHealthy = false
			}
			return nil
		})
	}
	_ = g.Wait()

	if !allHealthy {
		status.Status = "unhealthy"
		WriteJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	WriteJSON(w, http.StatusOK, status)
}

// HandleVersion 处理 /version 请求
// @Summary 版本信息
// @Tags 健康
// @Produce json
// @Success 200 {object} map[string]string "版本信息"
// @Router /version [get]
func (h *HealthHandler) HandleVersion(version, buildTime, gitCommit string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteSuccess(w, map[string]string{
			"version":    version,
			"build_time": buildTime,
			"git_commit": gitCommit,
		})
	}
}

// =============================================================================
// 🔧 内置健康检查实现
// =============================================================================

// PingCheck 以 ping 函数实现的检查，用于存储、Redis 与数据库
type PingCheck struct {
	name string
	ping func(ctx context.Context) error
}

// NewPingCheck 创建 ping 检查
func NewPingCheck(name string, ping func(ctx context.Context) error) *PingCheck {
	return &PingCheck{name: name, ping: ping}
}

func (c *PingCheck) Name() string { return c.name }

func (c *PingCheck) Check(ctx context.Context) error { return c.ping(ctx) }
