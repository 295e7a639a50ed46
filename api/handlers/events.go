package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/o3willard-AI/alcs-sub001/orchestrator"
	"github.com/o3willard-AI/alcs-sub001/session"
	"go.uber.org/zap"
)

// EventSource is what the stream subscribes to.
type EventSource interface {
	Subscribe(sessionID string, handler orchestrator.EventHandler) string
	Unsubscribe(subscriptionID string)
}

// SessionGetter checks that a session exists before upgrading.
type SessionGetter interface {
	GetSession(ctx context.Context, sessionID string) (*session.Session, error)
}

const (
	streamBuffer       = 64
	streamWriteTimeout = 10 * time.Second
)

// EventStreamHandler streams one session's events over a websocket. The
// first message is a snapshot of the current state; after that every event
// is forwarded as JSON in publish order. A client that cannot keep up is
// disconnected with StatusPolicyViolation.
type EventStreamHandler struct {
	events         EventSource
	sessions       SessionGetter
	originPatterns []string
	pingInterval   time.Duration
	logger         *zap.Logger
}

// EventStreamOption 事件流选项
type EventStreamOption func(*EventStreamHandler)

// WithOriginPatterns allows cross-origin browser clients, see
// websocket.AcceptOptions.OriginPatterns.
func WithOriginPatterns(patterns ...string) EventStreamOption {
	return func(h *EventStreamHandler) { h.originPatterns = patterns }
}

// WithPingInterval sets the keepalive ping period. Zero disables pings.
func WithPingInterval(d time.Duration) EventStreamOption {
	return func(h *EventStreamHandler) { h.pingInterval = d }
}

// NewEventStreamHandler 创建事件流处理器
func NewEventStreamHandler(events EventSource, sessions SessionGetter, logger *zap.Logger, opts ...EventStreamOption) *EventStreamHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &EventStreamHandler{
		events:       events,
		sessions:     sessions,
		pingInterval: 30 * time.Second,
		logger:       logger.With(zap.String("handler", "events")),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandleEvents 处理 GET /v1/sessions/{id}/events
// @Summary 会话事件流
// @Description WebSocket：状态迁移、产物创建、评分与后端切换事件
// @Tags 会话
// @Param id path string true "会话 ID"
// @Success 101 "Switching Protocols"
// @Failure 404 {object} Response "会话不存在"
// @Router /v1/sessions/{id}/events [get]
func (h *EventStreamHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := h.sessions.GetSession(r.Context(), id)
	if err != nil {
		WriteErr(w, r, err, h.logger)
		return
	}

	// 先订阅再升级，避免丢失握手期间的事件
	queue := make(chan orchestrator.Event, streamBuffer)
	overflow := make(chan struct{})
	var overflowed bool
	subID := h.events.Subscribe(id, func(e orchestrator.Event) {
		if overflowed {
			return
		}
		select {
		case queue <- e:
		default:
			overflowed = true
			close(overflow)
		}
	})
	defer h.events.Unsubscribe(subID)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.originPatterns})
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.String("session_id", id), zap.Error(err))
		return
	}
	defer conn.CloseNow()

	// 客户端只接收；CloseRead 处理控制帧并在对端关闭时取消 ctx
	ctx := conn.CloseRead(r.Context())

	snapshot := orchestrator.Event{
		Type:      orchestrator.EventStateChange,
		SessionID: sess.ID,
		To:        sess.State,
		Iteration: sess.Iteration,
		Reason:    "snapshot",
		Timestamp: time.Now().UTC(),
	}
	if err := h.write(ctx, conn, snapshot); err != nil {
		return
	}

	var ping <-chan time.Time
	if h.pingInterval > 0 {
		ticker := time.NewTicker(h.pingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusGoingAway, "")
			return
		case <-overflow:
			h.logger.Warn("event stream client too slow, closing", zap.String("session_id", id))
			conn.Close(websocket.StatusPolicyViolation, "event stream overflow")
			return
		case e := <-queue:
			if err := h.write(ctx, conn, e); err != nil {
				return
			}
		case <-ping:
			pctx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (h *EventStreamHandler) write(ctx context.Context, conn *websocket.Conn, e orchestrator.Event) error {
	wctx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	err := wsjson.Write(wctx, conn, e)
	if err != nil && !errors.Is(err, context.Canceled) {
		h.logger.Debug("event stream write failed", zap.String("session_id", e.SessionID), zap.Error(err))
	}
	return err
}
