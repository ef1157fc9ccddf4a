package telemetry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventKind categorizes a telemetry event for WebSocket subscribers that
// only want one slice of the stream (e.g. just risk rejections).
type EventKind string

const (
	EventExecutionStart    EventKind = "execution_start"
	EventExecutionComplete EventKind = "execution_complete"
	EventNoSignal          EventKind = "no_signal"
	EventError             EventKind = "error"
	EventRiskLimit         EventKind = "risk_limit"
	EventTrustUpdate       EventKind = "trust_update"
	EventTrustRejection    EventKind = "trust_rejection"
	EventSoftWarning       EventKind = "soft_warning"
	EventCustom            EventKind = "custom"
)

// Event is the single envelope every Reporter call is translated into
// before it reaches the bus. The Reporter interface only ever carries
// strategy IDs, scalars, and string maps, so one envelope with a loose
// Fields bag covers every call without per-kind types.
type Event struct {
	ID         string            `json:"id"`
	Kind       EventKind         `json:"kind"`
	StrategyID string            `json:"strategy_id,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
	Fields     map[string]string `json:"fields,omitempty"`
}

// EventHandler processes one event off the bus.
type EventHandler func(Event)

// Subscription is a handle returned by EventBus.Subscribe, passed back to
// Unsubscribe to stop receiving events.
type Subscription struct {
	id      string
	kind    EventKind // empty means "all kinds"
	handler EventHandler
	active  atomic.Bool
}

// EventBusConfig sizes the bus's worker pool and buffer, mirroring the
// teacher's EventBusConfig.
type EventBusConfig struct {
	NumWorkers int
	BufferSize int
}

// DefaultEventBusConfig is sized for telemetry fan-out, not tick-level
// market data.
func DefaultEventBusConfig() EventBusConfig {
	return EventBusConfig{NumWorkers: 4, BufferSize: 4096}
}

// EventBus fans telemetry events out to WebSocket subscribers via a small
// worker pool, adapted from internal/events.EventBus: same buffered-channel
// + worker-pool + drop-when-full shape, trimmed to one envelope type and
// one subscription list instead of a per-EventType map, since subscribers
// here filter by Kind at dispatch time rather than needing disjoint
// per-type channels.
type EventBus struct {
	logger *zap.Logger

	mu   sync.RWMutex
	subs []*Subscription

	events chan Event

	published atomic.Int64
	dropped   atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEventBus starts a bus with the given worker pool and buffer.
func NewEventBus(logger *zap.Logger, cfg EventBusConfig) *EventBus {
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = 4
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 4096
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &EventBus{
		logger: logger.Named("event-bus"),
		events: make(chan Event, cfg.BufferSize),
		ctx:    ctx,
		cancel: cancel,
	}

	for i := 0; i < cfg.NumWorkers; i++ {
		b.wg.Add(1)
		go b.worker()
	}
	return b
}

func (b *EventBus) worker() {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case evt := <-b.events:
			b.dispatch(evt)
		}
	}
}

func (b *EventBus) dispatch(evt Event) {
	b.mu.RLock()
	subs := make([]*Subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		if !s.active.Load() {
			continue
		}
		if s.kind != "" && s.kind != evt.Kind {
			continue
		}
		b.invoke(s, evt)
	}
}

func (b *EventBus) invoke(s *Subscription, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panic", zap.String("subscription", s.id), zap.Any("panic", r))
		}
	}()
	s.handler(evt)
}

// Subscribe registers a handler for one event kind, or every kind if kind
// is the empty string.
func (b *EventBus) Subscribe(kind EventKind, handler EventHandler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := &Subscription{id: uuid.NewString(), kind: kind, handler: handler}
	s.active.Store(true)
	b.subs = append(b.subs, s)
	return s
}

// Unsubscribe deactivates and removes a subscription.
func (b *EventBus) Unsubscribe(s *Subscription) {
	s.active.Store(false)
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, cur := range b.subs {
		if cur == s {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			break
		}
	}
}

// Publish enqueues an event for async dispatch; if the buffer is full the
// event is dropped and counted, never blocking the caller.
func (b *EventBus) Publish(evt Event) {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	select {
	case b.events <- evt:
		b.published.Add(1)
	default:
		b.dropped.Add(1)
		b.logger.Warn("telemetry event dropped, bus buffer full", zap.String("kind", string(evt.Kind)))
	}
}

// Stats reports basic bus throughput counters.
func (b *EventBus) Stats() (published, dropped int64) {
	return b.published.Load(), b.dropped.Load()
}

// Close stops the worker pool.
func (b *EventBus) Close() {
	b.cancel()
	b.wg.Wait()
}
