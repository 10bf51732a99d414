// Package events provides a worker-pool event bus used as the delivery
// substrate for operational alerts (spec §6's AlertRouter). Grounded on the
// teacher's high-throughput EventBus, trimmed from its full market-data/
// order/execution/position event taxonomy — this engine has no event-driven
// execution pipeline producing those — down to the one event type this
// engine actually emits: an operational Alert.
package events

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// EventType categorizes a published event.
type EventType string

const (
	// EventTypeAlert is the only event type this engine publishes today —
	// an operational alert raised by the LLM Manager, Rule Engine, or
	// Scheduler (spec §6).
	EventTypeAlert EventType = "alert"
)

// Event is the base interface for everything published on the bus.
type Event interface {
	GetType() EventType
	GetTimestamp() time.Time
	GetID() string
}

// BaseEvent provides the common Event fields.
type BaseEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *BaseEvent) GetType() EventType      { return e.Type }
func (e *BaseEvent) GetTimestamp() time.Time { return e.Timestamp }
func (e *BaseEvent) GetID() string           { return e.ID }

// EventHandler processes one published event.
type EventHandler func(event Event) error

// EventFilter selectively admits events to a subscription.
type EventFilter func(event Event) bool

// SubscriptionOptions configures how a subscription's handler runs.
type SubscriptionOptions struct {
	Filter     EventFilter
	Async      bool
	BufferSize int
}

// Subscription is a live registration returned by Subscribe/SubscribeAll.
type Subscription struct {
	ID        string
	EventType EventType
	Handler   EventHandler
	Options   SubscriptionOptions
	active    atomic.Bool
}

// IsActive reports whether the subscription still receives events.
func (s *Subscription) IsActive() bool {
	return s.active.Load()
}

// EventBusStats summarizes throughput and latency since startup.
type EventBusStats struct {
	EventsPublished   int64         `json:"eventsPublished"`
	EventsProcessed   int64         `json:"eventsProcessed"`
	EventsDropped     int64         `json:"eventsDropped"`
	ProcessingErrors  int64         `json:"processingErrors"`
	AvgLatencyNs      int64         `json:"avgLatencyNs"`
	MaxLatencyNs      int64         `json:"maxLatencyNs"`
	P99Latency        time.Duration `json:"p99Latency"`
	ActiveSubscribers int64         `json:"activeSubscribers"`
}

// EventBusConfig configures an EventBus's worker pool and buffer.
type EventBusConfig struct {
	NumWorkers int
	BufferSize int
}

// DefaultEventBusConfig returns sensible defaults for alert volumes.
func DefaultEventBusConfig() EventBusConfig {
	return EventBusConfig{NumWorkers: 4, BufferSize: 1000}
}

// EventBus fans published events out to subscribers via a worker pool.
type EventBus struct {
	mu             sync.RWMutex
	subscribers    map[EventType][]*Subscription
	allSubscribers []*Subscription

	eventChan   chan Event
	workerCount int

	eventsPublished   atomic.Int64
	eventsProcessed   atomic.Int64
	eventsDropped     atomic.Int64
	processingErrors  atomic.Int64
	activeSubscribers atomic.Int64

	latencies  []int64
	latencyMu  sync.Mutex
	maxLatency atomic.Int64
	avgLatency atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *zap.Logger
}

// NewEventBus builds an EventBus and starts its worker pool.
func NewEventBus(logger *zap.Logger, config EventBusConfig) *EventBus {
	workerCount := config.NumWorkers
	if workerCount <= 0 {
		workerCount = 4
	}
	bufferSize := config.BufferSize
	if bufferSize <= 0 {
		bufferSize = 1000
	}

	ctx, cancel := context.WithCancel(context.Background())
	eb := &EventBus{
		subscribers: make(map[EventType][]*Subscription),
		eventChan:   make(chan Event, bufferSize),
		workerCount: workerCount,
		ctx:         ctx,
		cancel:      cancel,
		logger:      logger.Named("event_bus"),
		latencies:   make([]int64, 0, 1000),
	}

	for i := 0; i < workerCount; i++ {
		eb.wg.Add(1)
		go eb.worker()
	}

	eb.logger.Info("event bus started", zap.Int("workers", workerCount), zap.Int("bufferSize", bufferSize))
	return eb
}

func (eb *EventBus) worker() {
	defer eb.wg.Done()
	for {
		select {
		case <-eb.ctx.Done():
			return
		case event := <-eb.eventChan:
			start := time.Now()
			eb.processEvent(event)
			eb.trackLatency(time.Since(start).Nanoseconds())
		}
	}
}

func (eb *EventBus) processEvent(event Event) {
	eb.mu.RLock()
	subs := eb.subscribers[event.GetType()]
	allSubs := eb.allSubscribers
	eb.mu.RUnlock()

	dispatch := func(sub *Subscription) {
		if !sub.active.Load() {
			return
		}
		if sub.Options.Filter != nil && !sub.Options.Filter(event) {
			return
		}
		if sub.Options.Async {
			go eb.executeHandler(sub, event)
		} else {
			eb.executeHandler(sub, event)
		}
	}
	for _, sub := range subs {
		dispatch(sub)
	}
	for _, sub := range allSubs {
		dispatch(sub)
	}
	eb.eventsProcessed.Add(1)
}

func (eb *EventBus) executeHandler(sub *Subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			eb.processingErrors.Add(1)
			eb.logger.Error("event handler panic",
				zap.String("subscriptionId", sub.ID),
				zap.String("eventType", string(event.GetType())),
				zap.Any("panic", r),
			)
		}
	}()
	if err := sub.Handler(event); err != nil {
		eb.processingErrors.Add(1)
		eb.logger.Warn("event handler error",
			zap.String("subscriptionId", sub.ID),
			zap.String("eventType", string(event.GetType())),
			zap.Error(err),
		)
	}
}

func (eb *EventBus) trackLatency(latencyNs int64) {
	eb.latencyMu.Lock()
	defer eb.latencyMu.Unlock()

	eb.latencies = append(eb.latencies, latencyNs)
	if len(eb.latencies) > 10000 {
		eb.latencies = eb.latencies[5000:]
	}
	if currentMax := eb.maxLatency.Load(); latencyNs > currentMax {
		eb.maxLatency.Store(latencyNs)
	}
	currentAvg := eb.avgLatency.Load()
	eb.avgLatency.Store((currentAvg*99 + latencyNs) / 100)
}

var subscriptionCounter atomic.Int64

func generateSubscriptionID() string {
	return "sub_" + time.Now().Format("20060102150405") + "_" + itoa(subscriptionCounter.Add(1))
}

func itoa(i int64) string {
	if i == 0 {
		return "0"
	}
	var buf [20]byte
	pos := len(buf)
	neg := i < 0
	if neg {
		i = -i
	}
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

// Subscribe registers a handler for one event type.
func (eb *EventBus) Subscribe(eventType EventType, handler EventHandler, opts ...SubscriptionOptions) *Subscription {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	options := SubscriptionOptions{Async: true, BufferSize: 100}
	if len(opts) > 0 {
		options = opts[0]
	}
	sub := &Subscription{ID: generateSubscriptionID(), EventType: eventType, Handler: handler, Options: options}
	sub.active.Store(true)

	eb.subscribers[eventType] = append(eb.subscribers[eventType], sub)
	eb.activeSubscribers.Add(1)
	return sub
}

// SubscribeAll registers a handler for every event type.
func (eb *EventBus) SubscribeAll(handler EventHandler, opts ...SubscriptionOptions) *Subscription {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	options := SubscriptionOptions{Async: true, BufferSize: 100}
	if len(opts) > 0 {
		options = opts[0]
	}
	sub := &Subscription{ID: generateSubscriptionID(), EventType: "*", Handler: handler, Options: options}
	sub.active.Store(true)

	eb.allSubscribers = append(eb.allSubscribers, sub)
	eb.activeSubscribers.Add(1)
	return sub
}

// Unsubscribe deactivates a subscription; it will no longer receive events.
func (eb *EventBus) Unsubscribe(sub *Subscription) {
	sub.active.Store(false)
	eb.activeSubscribers.Add(-1)
}

// Publish sends an event to subscribers without blocking; if the buffer is
// full the event is dropped and counted in EventsDropped.
func (eb *EventBus) Publish(event Event) {
	select {
	case eb.eventChan <- event:
		eb.eventsPublished.Add(1)
	default:
		eb.eventsDropped.Add(1)
		eb.logger.Warn("event dropped, buffer full", zap.String("eventType", string(event.GetType())))
	}
}

// PublishSync sends an event and blocks until every subscriber handler runs.
func (eb *EventBus) PublishSync(event Event) {
	eb.eventsPublished.Add(1)
	eb.processEvent(event)
}

// Stats returns a snapshot of bus throughput and latency.
func (eb *EventBus) Stats() EventBusStats {
	return EventBusStats{
		EventsPublished:   eb.eventsPublished.Load(),
		EventsProcessed:   eb.eventsProcessed.Load(),
		EventsDropped:     eb.eventsDropped.Load(),
		ProcessingErrors:  eb.processingErrors.Load(),
		AvgLatencyNs:      eb.avgLatency.Load(),
		MaxLatencyNs:      eb.maxLatency.Load(),
		P99Latency:        time.Duration(eb.p99LatencyNs()),
		ActiveSubscribers: eb.activeSubscribers.Load(),
	}
}

func (eb *EventBus) p99LatencyNs() int64 {
	eb.latencyMu.Lock()
	defer eb.latencyMu.Unlock()

	if len(eb.latencies) == 0 {
		return 0
	}
	sorted := make([]int64, len(eb.latencies))
	copy(sorted, eb.latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := int(float64(len(sorted)) * 0.99)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// Stop shuts down the worker pool, waiting up to 5s for in-flight events.
func (eb *EventBus) Stop() {
	eb.logger.Info("event bus stopping")
	eb.cancel()

	done := make(chan struct{})
	go func() {
		eb.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		eb.logger.Info("event bus stopped",
			zap.Int64("eventsProcessed", eb.eventsProcessed.Load()),
			zap.Int64("eventsDropped", eb.eventsDropped.Load()),
		)
	case <-time.After(5 * time.Second):
		eb.logger.Warn("event bus stop timed out")
	}
}

var eventCounter atomic.Int64

func generateEventID() string {
	return "evt_" + time.Now().Format("20060102150405") + "_" + itoa(eventCounter.Add(1))
}
