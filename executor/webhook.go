package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/hitlflow/hitl"
	"github.com/BaSui01/hitlflow/internal/tlsutil"
)

// maxResponseBytes 续接响应体的读取上限.
const maxResponseBytes = 1 << 20

// RetryConfig holds retry configuration for the webhook executor.
type RetryConfig struct {
	MaxRetries    int           `json:"max_retries"`    // Maximum retry attempts, default 3
	InitialDelay  time.Duration `json:"initial_delay"`  // Initial backoff delay, default 500ms
	MaxDelay      time.Duration `json:"max_delay"`      // Maximum backoff delay, default 10s
	BackoffFactor float64       `json:"backoff_factor"` // Exponential backoff factor, default 2.0
}

// DefaultRetryConfig returns sensible retry defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      10 * time.Second,
		BackoffFactor: 2.0,
	}
}

func (c RetryConfig) delay(attempt int) time.Duration {
	factor := c.BackoffFactor
	if factor < 1 {
		factor = 1
	}
	d := float64(c.InitialDelay) * math.Pow(factor, float64(attempt-1))
	if c.MaxDelay > 0 && d > float64(c.MaxDelay) {
		d = float64(c.MaxDelay)
	}
	return time.Duration(d)
}

// WebhookConfig 续接 webhook 配置.
type WebhookConfig struct {
	URL     string
	Token   string
	Timeout time.Duration
	Retry   RetryConfig
}

// StatusError 续接服务返回的非 2xx 响应.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("continuation endpoint returned %d: %s", e.StatusCode, e.Body)
}

// Retryable 只重试表示请求未被处理的状态：429、502、503、504。
// 500 等其他错误可能已经执行了续接，不再重发.
func (e *StatusError) Retryable() bool {
	switch e.StatusCode {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// Webhook 通过 HTTP 把 Handoff 交给外部任务编排服务.
type Webhook struct {
	cfg    WebhookConfig
	client *http.Client
	logger *zap.Logger
}

// NewWebhook 创建 webhook 执行器，client 为 nil 时按配置超时创建.
func NewWebhook(cfg WebhookConfig, client *http.Client, logger *zap.Logger) (*Webhook, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook executor requires a url")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if client == nil {
		client = tlsutil.SecureHTTPClient(cfg.Timeout)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Webhook{
		cfg:    cfg,
		client: client,
		logger: logger.With(zap.String("component", "webhook_executor")),
	}, nil
}

// Continue POST Handoff。410 Gone 映射为 ErrSessionGone，不重试.
func (w *Webhook) Continue(ctx context.Context, h hitl.Handoff) (any, error) {
	body, err := json.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("marshal handoff: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= w.cfg.Retry.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := w.cfg.Retry.delay(attempt)
			w.logger.Debug("retrying continuation",
				zap.String("event_id", h.EventID),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		out, err := w.post(ctx, h.EventID, body)
		if err == nil {
			return out, nil
		}
		lastErr = err

		if errors.Is(err, ErrSessionGone) {
			return nil, err
		}
		var se *StatusError
		if errors.As(err, &se) && !se.Retryable() {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		w.logger.Warn("continuation failed, will retry",
			zap.String("event_id", h.EventID),
			zap.Int("attempt", attempt),
			zap.Error(err))
	}
	return nil, fmt.Errorf("continuation failed after %d retries: %w", w.cfg.Retry.MaxRetries, lastErr)
}

func (w *Webhook) post(ctx context.Context, eventID string, body []byte) (any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-HITL-Event-ID", eventID)
	// 重试与网络错误后的重发使用同一个键，接收方据此去重
	req.Header.Set("Idempotency-Key", eventID)
	if w.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+w.cfg.Token)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read continuation response: %w", err)
	}

	if resp.StatusCode == http.StatusGone {
		return nil, fmt.Errorf("%w: %s", ErrSessionGone, bytes.TrimSpace(data))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(data))}
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return string(data), nil
	}
	return out, nil
}

var _ hitl.Executor = (*Webhook)(nil)
