package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/strandlabs/strand/internal/domain"
	"github.com/strandlabs/strand/internal/ports"
)

const defaultQueueSize = 64

// criticalStallWarn is how often a parked Emit logs while one subscriber's
// full queue is holding up a critical event.
const criticalStallWarn = 30 * time.Second

// Bus is the in-process event bus. Every subscriber owns a private queue
// drained by its own goroutine, so fan-out is parallel and one slow handler
// never delays the others or the producer.
//
// Delivery classes: critical lifecycle events use a blocking handoff into the
// queue and are never dropped; a stuck subscriber parks the producer, with an
// error logged every criticalStallWarn, until the queue drains, the
// subscriber goes away, or the caller's context ends. Telemetry events are
// dropped silently when the queue is full.
type Bus struct {
	logger  *zap.Logger
	metrics ports.MetricsCollector

	mu     sync.RWMutex
	subs   map[string]*subscriber
	closed bool
}

type subscriber struct {
	id           string
	types        map[domain.EventType]bool
	excludeGraph string
	queue        chan domain.Event
	done         chan struct{}
}

// NewBus creates an in-process event bus. metrics may be nil.
func NewBus(logger *zap.Logger, metrics ports.MetricsCollector) *Bus {
	return &Bus{
		logger:  logger,
		metrics: metrics,
		subs:    make(map[string]*subscriber),
	}
}

// Subscribe registers handler for the given event types and returns the
// subscription id. eventTypes must be nonempty.
func (b *Bus) Subscribe(eventTypes []domain.EventType, handler ports.EventHandler, opts *ports.SubscribeOptions) (string, error) {
	if len(eventTypes) == 0 {
		return "", domain.ErrInvalidSubscription
	}

	size := defaultQueueSize
	exclude := ""
	if opts != nil {
		if opts.QueueSize > 0 {
			size = opts.QueueSize
		}
		exclude = opts.ExcludeGraphID
	}

	sub := &subscriber{
		id:           uuid.New().String(),
		types:        make(map[domain.EventType]bool, len(eventTypes)),
		excludeGraph: exclude,
		queue:        make(chan domain.Event, size),
		done:         make(chan struct{}),
	}
	for _, t := range eventTypes {
		sub.types[t] = true
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return "", domain.ErrBusClosed
	}
	b.subs[sub.id] = sub
	b.mu.Unlock()

	go b.drain(sub, handler)

	return sub.id, nil
}

// Unsubscribe removes a subscription. Unknown ids are a no-op, so calling it
// twice is safe.
func (b *Bus) Unsubscribe(subscriptionID string) {
	b.mu.Lock()
	sub, ok := b.subs[subscriptionID]
	if ok {
		delete(b.subs, subscriptionID)
	}
	b.mu.Unlock()

	if ok {
		close(sub.done)
	}
}

// Emit delivers event to every matching subscriber. The producer never blocks
// on a slow telemetry consumer; critical events block per subscriber until
// handed off, the subscription ends, or ctx is cancelled.
func (b *Bus) Emit(ctx context.Context, event domain.Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	targets := make([]*subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		if !sub.types[event.Type] {
			continue
		}
		if sub.excludeGraph != "" && sub.excludeGraph == event.GraphID {
			continue
		}
		targets = append(targets, sub)
	}
	b.mu.RUnlock()

	if b.metrics != nil {
		b.metrics.RecordEventEmitted(string(event.Type))
	}

	for _, sub := range targets {
		if event.Type.Critical() {
			b.deliverCritical(ctx, sub, event)
			continue
		}
		select {
		case sub.queue <- event:
		case <-sub.done:
		default:
			if b.metrics != nil {
				b.metrics.RecordEventDropped(string(event.Type))
			}
			b.logger.Debug("telemetry event dropped, subscriber queue full",
				zap.String("subscription_id", sub.id),
				zap.String("type", string(event.Type)))
		}
	}
}

func (b *Bus) deliverCritical(ctx context.Context, sub *subscriber, event domain.Event) {
	ticker := time.NewTicker(criticalStallWarn)
	defer ticker.Stop()

	started := time.Now()
	for {
		select {
		case sub.queue <- event:
			return
		case <-sub.done:
			return
		case <-ctx.Done():
			b.logger.Warn("critical event delivery interrupted by context",
				zap.String("subscription_id", sub.id),
				zap.String("type", string(event.Type)))
			return
		case <-ticker.C:
			b.logger.Error("critical event delivery stalled, subscriber queue full",
				zap.String("subscription_id", sub.id),
				zap.String("type", string(event.Type)),
				zap.Duration("waiting", time.Since(started)))
		}
	}
}

// drain is the per-subscriber delivery loop. Handler errors and panics are
// logged and contained here.
func (b *Bus) drain(sub *subscriber, handler ports.EventHandler) {
	for {
		select {
		case <-sub.done:
			return
		case event := <-sub.queue:
			b.invoke(sub, handler, event)
		}
	}
}

func (b *Bus) invoke(sub *subscriber, handler ports.EventHandler, event domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("subscription_id", sub.id),
				zap.String("type", string(event.Type)),
				zap.Any("panic", r))
		}
	}()

	if err := handler(context.Background(), event); err != nil {
		b.logger.Warn("event handler error",
			zap.String("subscription_id", sub.id),
			zap.String("type", string(event.Type)),
			zap.Error(err))
	}
}

// Close stops all subscriptions and rejects further ones.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for id, sub := range b.subs {
		close(sub.done)
		delete(b.subs, id)
	}
	return nil
}
