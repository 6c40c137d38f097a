package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/BaSui01/hitlflow/api"
	"github.com/BaSui01/hitlflow/hitl"
	"github.com/BaSui01/hitlflow/types"
)

// =============================================================================
// 🙋 HITL Handler
// =============================================================================

// HITLService 是 hitl.Manager 上 HTTP 层用到的操作.
type HITLService interface {
	Suspend(ctx context.Context, p hitl.SuspendParams) (*hitl.SuspensionRequest, error)
	SuspendAndWait(ctx context.Context, p hitl.SuspendParams) (*hitl.Resolution, error)
	Decide(ctx context.Context, eventID string, d hitl.Decision) (hitl.Outcome, error)
	RetryResume(ctx context.Context, eventID, submitter string) (hitl.Outcome, error)
	Pending(ctx context.Context, userID string) ([]*hitl.SuspensionRequest, error)
	Subscribe(userID string) *hitl.Subscription
	Unsubscribe(sub *hitl.Subscription)
}

// StreamRecorder 记录打开的事件流，metrics.Collector 实现该接口.
type StreamRecorder interface {
	StreamOpened(transport string)
	StreamClosed(transport string)
}

type nopStreams struct{}

func (nopStreams) StreamOpened(string) {}
func (nopStreams) StreamClosed(string) {}

// DefaultHeartbeat 事件流的默认心跳间隔
const DefaultHeartbeat = 30 * time.Second

// HITLHandler 处理事件流、决策与挂起请求.
type HITLHandler struct {
	svc       HITLService
	heartbeat time.Duration
	streams   StreamRecorder
	logger    *zap.Logger
}

// HITLOption 配置 HITLHandler
type HITLOption func(*HITLHandler)

// WithHeartbeat 设置心跳间隔
func WithHeartbeat(d time.Duration) HITLOption {
	return func(h *HITLHandler) {
		if d > 0 {
			h.heartbeat = d
		}
	}
}

// WithStreamRecorder 设置事件流指标
func WithStreamRecorder(r StreamRecorder) HITLOption {
	return func(h *HITLHandler) {
		if r != nil {
			h.streams = r
		}
	}
}

// NewHITLHandler 创建 HITL 处理器
func NewHITLHandler(svc HITLService, logger *zap.Logger, opts ...HITLOption) *HITLHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &HITLHandler{
		svc:       svc,
		heartbeat: DefaultHeartbeat,
		streams:   nopStreams{},
		logger:    logger.With(zap.String("component", "hitl_handler")),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes 在 mux 上注册 /api/v1/hitl 下的路由。
// userAuth 保护面向终端用户的路由，serviceAuth 保护服务间调用的 POST /suspensions.
func (h *HITLHandler) Routes(mux *http.ServeMux, userAuth, serviceAuth func(http.Handler) http.Handler) {
	if userAuth == nil {
		userAuth = func(next http.Handler) http.Handler { return next }
	}
	if serviceAuth == nil {
		serviceAuth = func(next http.Handler) http.Handler { return next }
	}
	mux.Handle("GET /api/v1/hitl/events", userAuth(http.HandlerFunc(h.HandleEvents)))
	mux.Handle("GET /api/v1/hitl/events/ws", userAuth(http.HandlerFunc(h.HandleEventsWS)))
	mux.Handle("GET /api/v1/hitl/pending", userAuth(http.HandlerFunc(h.HandlePending)))
	mux.Handle("POST /api/v1/hitl/{event_id}/decision", userAuth(http.HandlerFunc(h.HandleDecision)))
	mux.Handle("POST /api/v1/hitl/{event_id}/resume", userAuth(http.HandlerFunc(h.HandleResume)))
	mux.Handle("POST /api/v1/hitl/suspensions", serviceAuth(http.HandlerFunc(h.HandleCreateSuspension)))
}

// requireUser 取出认证中间件写入的用户 ID
func (h *HITLHandler) requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := types.UserID(r.Context())
	if !ok || userID == "" {
		WriteErrorMessage(w, http.StatusUnauthorized, types.ErrUnauthorized, "authenticated user required", h.logger)
		return "", false
	}
	return userID, true
}

// =============================================================================
// 📡 事件流
// =============================================================================

// HandleEvents 以 SSE 推送当前用户的事件
// @Summary HITL 事件流
// @Description 推送 connected、ping、confirmation_required 与 confirmation_resolved 事件
// @Tags HITL
// @Produce text/event-stream
// @Success 200 {object} hitl.Event
// @Router /api/v1/hitl/events [get]
func (h *HITLHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, types.NewError(types.ErrInternalError, "streaming not supported"), h.logger)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // 禁用 nginx 缓冲
	w.WriteHeader(http.StatusOK)

	h.stream(r.Context(), userID, "sse", func(ev hitl.Event) error {
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
}

// HandleEventsWS 以 WebSocket 推送与 SSE 相同的事件，每条事件一帧 JSON 文本
// @Summary HITL 事件流（WebSocket）
// @Tags HITL
// @Router /api/v1/hitl/events/ws [get]
func (h *HITLHandler) HandleEventsWS(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		// Accept 已写出错误响应
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	// 只推不收；CloseRead 在对端关闭时取消 ctx
	ctx := conn.CloseRead(r.Context())
	h.stream(ctx, userID, "websocket", func(ev hitl.Event) error {
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return conn.Write(writeCtx, websocket.MessageText, data)
	})
	conn.Close(websocket.StatusNormalClosure, "stream closed")
}

// stream 订阅用户通道并逐条写出事件，直到 ctx 结束或写失败。
// 每个打开的流都会收到 connected 事件；空闲超过心跳间隔时发送 ping.
func (h *HITLHandler) stream(ctx context.Context, userID, transport string, write func(hitl.Event) error) {
	sub := h.svc.Subscribe(userID)
	defer h.svc.Unsubscribe(sub)
	h.streams.StreamOpened(transport)
	defer h.streams.StreamClosed(transport)

	log := h.logger.With(zap.String("user_id", userID), zap.String("transport", transport))
	log.Info("client connected to HITL events stream")
	defer log.Info("client disconnected from HITL events stream")

	if err := write(hitl.Event{Type: hitl.EventConnected, Timestamp: time.Now()}); err != nil {
		return
	}
	for {
		ev, err := sub.Next(ctx, h.heartbeat)
		if err != nil {
			return
		}
		if err := write(ev); err != nil {
			// 已出队的事件在写失败时丢失，客户端可通过 /pending 补齐
			if ev.Type == hitl.EventConfirmationRequired {
				log.Warn("event lost on broken stream", zap.String("event_id", ev.EventID), zap.Error(err))
			}
			return
		}
	}
}

// =============================================================================
// ✅ 决策
// =============================================================================

// HandleDecision 提交决策
// @Summary 提交 HITL 决策
// @Tags HITL
// @Accept json
// @Produce json
// @Param event_id path string true "事件 ID"
// @Param request body api.DecisionRequest true "决策"
// @Success 200 {object} Response{data=api.DecisionResponse}
// @Failure 400 {object} Response "输入无效"
// @Failure 403 {object} Response "不是请求的所有者"
// @Failure 404 {object} Response "事件不存在或已处理"
// @Failure 502 {object} Response "决策已记录但任务恢复失败"
// @Router /api/v1/hitl/{event_id}/decision [post]
func (h *HITLHandler) HandleDecision(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req api.DecisionRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	eventID := r.PathValue("event_id")
	h.logger.Info("HITL decision received",
		zap.String("event_id", eventID),
		zap.String("user_id", userID),
		zap.Bool("approved", req.Approved))

	out, err := h.svc.Decide(r.Context(), eventID, hitl.Decision{
		EventID:   eventID,
		Approved:  req.Approved,
		Input:     req.EffectiveInput(),
		Submitter: userID,
	})
	h.writeOutcome(w, eventID, out, err)
}

// HandleResume 重试此前失败的恢复
// @Summary 重试任务恢复
// @Tags HITL
// @Produce json
// @Param event_id path string true "事件 ID"
// @Success 200 {object} Response{data=api.DecisionResponse}
// @Failure 404 {object} Response "没有待重试的恢复"
// @Failure 502 {object} Response "恢复再次失败"
// @Router /api/v1/hitl/{event_id}/resume [post]
func (h *HITLHandler) HandleResume(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	eventID := r.PathValue("event_id")
	out, err := h.svc.RetryResume(r.Context(), eventID, userID)
	h.writeOutcome(w, eventID, out, err)
}

// writeOutcome 把 Outcome 映射为 HTTP 响应
func (h *HITLHandler) writeOutcome(w http.ResponseWriter, eventID string, out hitl.Outcome, err error) {
	if err != nil {
		WriteError(w, mapHITLError(err), h.logger)
		return
	}

	switch out.Status {
	case hitl.OutcomeAccepted, hitl.OutcomeAcceptedAndResumed:
		WriteSuccess(w, api.DecisionResponse{
			EventID: eventID,
			Status:  string(out.Status),
			Message: "Decision received successfully",
			Result:  out.Result,
			Output:  out.Output,
		})
	case hitl.OutcomeNotFound:
		WriteErrorMessage(w, http.StatusNotFound, types.ErrNotFound, "HITL event not found", h.logger)
	case hitl.OutcomeForbidden:
		WriteErrorMessage(w, http.StatusForbidden, types.ErrForbidden, "Not authorized to decide on this event", h.logger)
	case hitl.OutcomeInvalidInput:
		WriteError(w, types.NewError(types.ErrInvalidDecision, "decision input is invalid for this request").
			WithCause(out.Err).
			WithHTTPStatus(http.StatusBadRequest), h.logger)
	case hitl.OutcomeResumeFailed:
		WriteError(w, types.NewError(types.ErrResumeFailed, "decision recorded but the task could not be resumed").
			WithCause(out.Err).
			WithHTTPStatus(http.StatusBadGateway).
			WithRetryable(true), h.logger)
	default:
		WriteError(w, types.NewError(types.ErrInternalError, "unexpected decision outcome "+string(out.Status)), h.logger)
	}
}

// =============================================================================
// 📋 待处理列表
// =============================================================================

// HandlePending 返回当前用户尚未决策的请求
// @Summary 待处理的 HITL 请求
// @Tags HITL
// @Produce json
// @Success 200 {object} Response{data=api.PendingResponse}
// @Router /api/v1/hitl/pending [get]
func (h *HITLHandler) HandlePending(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	reqs, err := h.svc.Pending(r.Context(), userID)
	if err != nil {
		WriteError(w, mapHITLError(err), h.logger)
		return
	}
	resp := api.PendingResponse{Requests: make([]api.SuspensionResponse, 0, len(reqs)), Count: len(reqs)}
	for _, req := range reqs {
		resp.Requests = append(resp.Requests, api.NewSuspensionResponse(req))
	}
	WriteSuccess(w, resp)
}

// =============================================================================
// ⏸️ 创建挂起请求
// =============================================================================

// HandleCreateSuspension 服务间调用创建挂起请求。
// non_blocking 立即返回 201；blocking 等到决策或超时后返回 200.
// @Summary 创建 HITL 挂起请求
// @Tags HITL
// @Accept json
// @Produce json
// @Param request body api.SuspensionCreateRequest true "挂起请求"
// @Success 200 {object} Response{data=api.ResolutionResponse} "阻塞模式的决策"
// @Success 201 {object} Response{data=api.SuspensionResponse} "非阻塞模式"
// @Failure 409 {object} Response "event_id 已存在"
// @Router /api/v1/hitl/suspensions [post]
func (h *HITLHandler) HandleCreateSuspension(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req api.SuspensionCreateRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.UserID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "user_id is required", h.logger)
		return
	}
	params, err := req.Params()
	if err != nil {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "invalid suspension request").WithCause(err), h.logger)
		return
	}

	if params.Mode == hitl.ModeBlocking {
		res, err := h.svc.SuspendAndWait(r.Context(), params)
		if err != nil {
			WriteError(w, mapHITLError(err), h.logger)
			return
		}
		WriteSuccess(w, api.NewResolutionResponse(res))
		return
	}

	created, err := h.svc.Suspend(r.Context(), params)
	if err != nil {
		WriteError(w, mapHITLError(err), h.logger)
		return
	}
	WriteSuccessStatus(w, http.StatusCreated, api.NewSuspensionResponse(created))
}

// mapHITLError 把 hitl 包的错误转换为 API 错误
func mapHITLError(err error) *types.Error {
	var apiErr *types.Error
	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.Is(err, hitl.ErrDuplicateEvent):
		return types.NewError(types.ErrDuplicateEvent, "event_id already exists").WithCause(err)
	case errors.Is(err, hitl.ErrInvalidRequest):
		return types.NewError(types.ErrInvalidRequest, "invalid suspension request").WithCause(err)
	case errors.Is(err, hitl.ErrInvalidInput):
		return types.NewError(types.ErrInvalidDecision, "decision input is invalid for this request").WithCause(err)
	case errors.Is(err, hitl.ErrResumeFailed):
		return types.NewError(types.ErrResumeFailed, "task could not be resumed").WithCause(err).WithRetryable(true)
	case errors.Is(err, hitl.ErrChannelFull):
		return types.NewError(types.ErrChannelFull, "user channel is full").WithCause(err).WithRetryable(true)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return types.NewError(types.ErrTimeout, "request cancelled before completion").WithCause(err)
	default:
		return types.NewError(types.ErrStoreUnavailable, "suspension store unavailable").WithCause(err).WithRetryable(true)
	}
}
