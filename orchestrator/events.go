package orchestrator

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/o3willard-AI/alcs-sub001/session"
	"go.uber.org/zap"
)

// EventType 事件类型
type EventType string

const (
	EventStateChange     EventType = "state_change"
	EventArtifactCreated EventType = "artifact_created"
	EventReviewScored    EventType = "review_scored"
	EventBackendSwitched EventType = "backend_switched"
)

// Event is one notification about a session.
type Event struct {
	Type       EventType     `json:"type"`
	SessionID  string        `json:"session_id"`
	From       session.State `json:"from,omitempty"`
	To         session.State `json:"to,omitempty"`
	Iteration  int           `json:"iteration"`
	Score      *float64      `json:"score,omitempty"`
	ArtifactID string        `json:"artifact_id,omitempty"`
	Reason     string        `json:"reason,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
}

// EventHandler 事件处理器。处理器不能阻塞。
type EventHandler func(Event)

// subscriptionCounter 生成唯一订阅 ID
var subscriptionCounter int64

// EventBus fans session events out to subscribers. Events are delivered in
// publish order on a single goroutine; a full queue drops events.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[string]map[string]EventHandler // session id ("" = all) -> subscription -> handler
	events   chan Event
	done     chan struct{}
	stopOnce sync.Once
	dropped  atomic.Int64
	logger   *zap.Logger
}

// NewEventBus 创建新的事件总线
func NewEventBus(logger *zap.Logger) *EventBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	bus := &EventBus{
		handlers: make(map[string]map[string]EventHandler),
		events:   make(chan Event, 256),
		done:     make(chan struct{}),
		logger:   logger.With(zap.String("component", "event_bus")),
	}
	go bus.processEvents()
	return bus
}

// Publish 发布事件
func (b *EventBus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	select {
	case b.events <- event:
	case <-b.done:
	default:
		b.dropped.Add(1)
		b.logger.Warn("event queue full, dropping event",
			zap.String("session_id", event.SessionID),
			zap.String("type", string(event.Type)))
	}
}

// Subscribe registers a handler for one session, or for every session when
// sessionID is empty.
func (b *EventBus) Subscribe(sessionID string, handler EventHandler) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.handlers[sessionID] == nil {
		b.handlers[sessionID] = make(map[string]EventHandler)
	}
	id := fmt.Sprintf("sub-%d", atomic.AddInt64(&subscriptionCounter, 1))
	b.handlers[sessionID][id] = handler
	return id
}

// Unsubscribe 取消订阅
func (b *EventBus) Unsubscribe(subscriptionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for key, handlers := range b.handlers {
		if _, ok := handlers[subscriptionID]; ok {
			delete(handlers, subscriptionID)
			if len(handlers) == 0 {
				delete(b.handlers, key)
			}
			return
		}
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (b *EventBus) Dropped() int64 { return b.dropped.Load() }

func (b *EventBus) processEvents() {
	for {
		select {
		case event := <-b.events:
			b.mu.RLock()
			handlers := make([]EventHandler, 0, len(b.handlers[event.SessionID])+len(b.handlers[""]))
			for _, h := range b.handlers[event.SessionID] {
				handlers = append(handlers, h)
			}
			if event.SessionID != "" {
				for _, h := range b.handlers[""] {
					handlers = append(handlers, h)
				}
			}
			b.mu.RUnlock()

			for _, h := range handlers {
				b.deliver(h, event)
			}
		case <-b.done:
			return
		}
	}
}

func (b *EventBus) deliver(h EventHandler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked", zap.Any("recover", r))
		}
	}()
	h(event)
}

// Stop 停止事件总线
func (b *EventBus) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
	})
}
