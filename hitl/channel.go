package hitl

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// EventType 推送给客户端的事件类型.
type EventType string

const (
	EventConnected            EventType = "connected"
	EventPing                 EventType = "ping"
	EventConfirmationRequired EventType = "confirmation_required"
	EventConfirmationResolved EventType = "confirmation_resolved"
)

// DefaultChannelBuffer 每个用户通道的默认容量.
const DefaultChannelBuffer = 256

// Event 用户通道上的一条事件.
type Event struct {
	Type        EventType         `json:"type"`
	EventID     string            `json:"event_id,omitempty"`
	Description string            `json:"description,omitempty"`
	ActionData  map[string]any    `json:"action_data,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Status      Status            `json:"status,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}

// RequiredEvent 由挂起请求构造 confirmation_required 事件.
func RequiredEvent(req *SuspensionRequest) Event {
	return Event{
		Type:        EventConfirmationRequired,
		EventID:     req.EventID,
		Description: req.Description,
		ActionData:  req.ActionData,
		Metadata:    req.Metadata,
		Timestamp:   time.Now(),
	}
}

// ResolvedEvent 构造 confirmation_resolved 事件.
func ResolvedEvent(eventID string, status Status) Event {
	return Event{
		Type:      EventConfirmationResolved,
		EventID:   eventID,
		Status:    status,
		Timestamp: time.Now(),
	}
}

type userChannel struct {
	queue       chan Event
	subscribers int
	lastUsed    time.Time
}

// Hub 按用户划分的 FIFO 事件通道集合.
// 通道在发布或订阅时惰性创建，没有订阅者且队列为空时回收；
// 没有订阅者但仍有积压事件的通道由 Reap 按空闲时长回收.
type Hub struct {
	mu       sync.Mutex
	channels map[string]*userChannel
	buffer   int
	logger   *zap.Logger
}

// NewHub 创建事件中心，buffer <= 0 时使用 DefaultChannelBuffer.
func NewHub(buffer int, logger *zap.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultChannelBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		channels: make(map[string]*userChannel),
		buffer:   buffer,
		logger:   logger.With(zap.String("component", "hitl_hub")),
	}
}

// channelLocked 取得或创建用户通道，调用方必须持有 h.mu.
func (h *Hub) channelLocked(userID string) *userChannel {
	ch, ok := h.channels[userID]
	if !ok {
		ch = &userChannel{queue: make(chan Event, h.buffer)}
		h.channels[userID] = ch
	}
	ch.lastUsed = time.Now()
	return ch
}

// Publish 把事件追加到用户队列尾部，队列满时返回 ErrChannelFull.
func (h *Hub) Publish(userID string, ev Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := h.channelLocked(userID)
	select {
	case ch.queue <- ev:
		return nil
	default:
		h.logger.Warn("user channel full, event dropped",
			zap.String("user_id", userID),
			zap.String("type", string(ev.Type)),
			zap.String("event_id", ev.EventID))
		return ErrChannelFull
	}
}

// PublishIfActive 仅在用户有在线订阅者时发布，返回是否已投递.
func (h *Hub) PublishIfActive(userID string, ev Event) bool {
	h.mu.Lock()
	ch, ok := h.channels[userID]
	active := ok && ch.subscribers > 0
	h.mu.Unlock()
	if !active {
		return false
	}
	return h.Publish(userID, ev) == nil
}

// Subscribe 订阅用户通道。同一用户的多个订阅者共享同一队列.
func (h *Hub) Subscribe(userID string) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := h.channelLocked(userID)
	ch.subscribers++
	return &Subscription{hub: h, userID: userID, ch: ch}
}

// ActiveChannels 返回至少有一个订阅者的用户通道数量.
func (h *Hub) ActiveChannels() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, ch := range h.channels {
		if ch.subscribers > 0 {
			n++
		}
	}
	return n
}

// Reap 回收没有订阅者且空闲超过 idle 的通道，返回回收数量。
// 积压的事件随通道丢弃，请求本身仍可通过 Pending 取回.
func (h *Hub) Reap(idle time.Duration) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	cutoff := time.Now().Add(-idle)
	n := 0
	for userID, ch := range h.channels {
		if ch.subscribers > 0 || ch.lastUsed.After(cutoff) {
			continue
		}
		if dropped := len(ch.queue); dropped > 0 {
			h.logger.Info("reaped idle user channel",
				zap.String("user_id", userID),
				zap.Int("dropped_events", dropped))
		}
		delete(h.channels, userID)
		n++
	}
	return n
}

// Subscribers 返回用户当前的订阅者数量.
func (h *Hub) Subscribers(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.channels[userID]; ok {
		return ch.subscribers
	}
	return 0
}

func (h *Hub) unsubscribe(userID string, ch *userChannel) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch.subscribers--
	ch.lastUsed = time.Now()
	if ch.subscribers <= 0 && len(ch.queue) == 0 {
		if cur, ok := h.channels[userID]; ok && cur == ch {
			delete(h.channels, userID)
		}
	}
}

// Subscription 一个流式连接对用户通道的引用.
type Subscription struct {
	hub    *Hub
	userID string
	ch     *userChannel
	once   sync.Once
}

// UserID 返回订阅所属用户.
func (s *Subscription) UserID() string { return s.userID }

// Next 返回下一条事件或心跳，以先到者为准。
// heartbeat 期间没有事件时返回 ping 事件；ctx 取消只结束本次等待.
func (s *Subscription) Next(ctx context.Context, heartbeat time.Duration) (Event, error) {
	if heartbeat <= 0 {
		select {
		case ev := <-s.ch.queue:
			return ev, nil
		case <-ctx.Done():
			return Event{}, ctx.Err()
		}
	}

	timer := time.NewTimer(heartbeat)
	defer timer.Stop()

	select {
	case ev := <-s.ch.queue:
		return ev, nil
	case <-timer.C:
		return Event{Type: EventPing, Timestamp: time.Now()}, nil
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// Close 释放引用，不影响队列中的事件.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.unsubscribe(s.userID, s.ch)
	})
}
