// =============================================================================
// HITLFlow 主入口
// =============================================================================
// 人工确认挂起/恢复服务：HTTP API、事件流、健康检查、Prometheus 指标
//
// 使用方法:
//
//	hitlflow serve                       # 启动服务
//	hitlflow serve --config config.yaml  # 指定配置文件
//	hitlflow version                     # 显示版本信息
//	hitlflow health                      # 健康检查
//	hitlflow migrate up                  # 运行数据库迁移
//	hitlflow migrate down                # 回滚最后一次迁移
//	hitlflow migrate status              # 查看迁移状态
// =============================================================================

// @title HITLFlow API
// @version 1.0.0
// @description HITLFlow suspends agent tool calls that need a human decision, streams
// @description confirmation requests to the owning user and resumes the task once a
// @description decision arrives.
// @description
// @description ## Features
// @description - Blocking and non-blocking suspensions with timeouts
// @description - Per-user event streams over SSE and WebSocket
// @description - Memory, Redis and SQL registries
// @description - Webhook or in-process task resumption

// @contact.name HITLFlow Team
// @contact.url https://github.com/BaSui01/hitlflow

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /
// @schemes http https

// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key
// @description API key for service-to-service calls

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description JWT bearer token carrying a user_id claim

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/hitlflow/api"
	"github.com/BaSui01/hitlflow/config"
	"github.com/BaSui01/hitlflow/internal/telemetry"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "migrate":
		runMigrate(os.Args[2:])
	case "version":
		printVersion()
	case "health":
		runHealthCheck(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	_ = fs.Parse(args)

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}

	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("Starting HITLFlow",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	otelProviders, err := telemetry.Init(cfg.Telemetry, Version, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}

	srv := NewServer(cfg, logger, otelProviders)
	if err := srv.Start(); err != nil {
		_ = srv.Shutdown()
		logger.Fatal("Failed to start server", zap.Error(err))
	}

	if err := srv.WaitForShutdown(); err != nil {
		logger.Error("HITLFlow stopped with error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("HITLFlow stopped")
}

// =============================================================================
// 🏥 健康检查命令
// =============================================================================

// runHealthCheck 供容器探针使用：--ready 时检查 /ready（含存储 ping）
func runHealthCheck(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "Server address")
	ready := fs.Bool("ready", false, "Check readiness (store reachable) instead of liveness")
	timeout := fs.Duration("timeout", 5*time.Second, "Request timeout")
	_ = fs.Parse(args)

	path := "/health"
	if *ready {
		path = "/ready"
	}

	client := &http.Client{Timeout: *timeout}
	resp, err := client.Get(strings.TrimRight(*addr, "/") + path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	var status api.HealthResponse
	_ = json.NewDecoder(resp.Body).Decode(&status)
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: status %d (%s)\n", resp.StatusCode, status.Status)
		for name, c := range status.Checks {
			if c.Status != "pass" {
				fmt.Fprintf(os.Stderr, "  %s: %s\n", name, c.Message)
			}
		}
		os.Exit(1)
	}

	if *ready {
		fmt.Println("READY")
		return
	}
	fmt.Printf("OK active_channels=%d pending=%d\n", status.ActiveChannels, status.Pending)
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("HITLFlow %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`HITLFlow - human-in-the-loop suspend/resume service

Usage:
  hitlflow <command> [options]

Commands:
  serve     Start the HITLFlow server
  migrate   Database migration commands
  version   Show version information
  health    Check server health
  help      Show this help message

Options for 'serve':
  --config <path>   Path to configuration file (YAML)

Environment variables prefixed with HITLFLOW_ override the file,
for example HITLFLOW_STORE_TYPE=redis or HITLFLOW_HITL_DEFAULT_TIMEOUT=120s.

Examples:
  hitlflow serve
  hitlflow serve --config /etc/hitlflow/config.yaml
  hitlflow migrate up
  hitlflow health --addr http://localhost:8080
  hitlflow health --ready
  hitlflow version`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	zapConfig := zap.NewProductionConfig()
	zapConfig.Level = zap.NewAtomicLevelAt(level)
	zapConfig.EncoderConfig.TimeKey = "timestamp"
	zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if cfg.Format == "console" {
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.Level = zap.NewAtomicLevelAt(level)
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	if len(cfg.OutputPaths) > 0 {
		zapConfig.OutputPaths = cfg.OutputPaths
	}
	zapConfig.DisableCaller = !cfg.EnableCaller
	zapConfig.DisableStacktrace = !cfg.EnableStacktrace

	logger, err := zapConfig.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger, falling back to default: %v\n", err)
		logger, _ = zap.NewProduction()
	}
	return logger.With(zap.String("service", "hitlflow"), zap.String("version", Version))
}
