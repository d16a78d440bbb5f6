// Package telemetry provides the process-wide event fan-out bus and the
// OpenTelemetry tracer bootstrap. The bus decouples event production from
// consumption: publishing never waits on a slow observer.
package telemetry

import (
	"log/slog"
	"sync"
	"time"

	"github.com/satyasetu/voice-gateway/internal/domain"
)

// Subscriber is one observer's delivery channel, with a bounded queue
// owned exclusively by it. Created by Subscribe, destroyed by Unsubscribe
// or bus shutdown.
type Subscriber struct {
	events chan domain.PipelineEvent
	filter func(domain.PipelineEvent) bool // nil matches everything
	closed bool                            // guarded by the bus mutex
}

// Events is the subscriber's receive channel. It is closed on unsubscribe
// and on bus shutdown.
func (s *Subscriber) Events() <-chan domain.PipelineEvent {
	return s.events
}

// SubscribeOptions controls what a new subscriber receives.
type SubscribeOptions struct {
	// RunID, when set, restricts delivery to events for one pipeline run
	// plus heartbeats.
	RunID string

	// Replay delivers the retained event backlog before live events.
	Replay bool
}

// BusConfig sizes the bus. Zero values pick the defaults.
type BusConfig struct {
	ReplayCapacity    int
	QueueCapacity     int
	HeartbeatInterval time.Duration
	Logger            *slog.Logger
}

// Bus is a publish/subscribe broadcaster with a bounded shared replay
// buffer. Every subscriber sees every matching event in the same relative
// order; overflow on one subscriber's queue drops that subscriber's oldest
// event, never the publisher.
type Bus struct {
	mu      sync.Mutex
	subs    map[*Subscriber]struct{}
	replay  []domain.PipelineEvent // FIFO, oldest first
	closed  bool
	stopped chan struct{}

	replayCap  int
	queueCap   int
	hbInterval time.Duration
	logger     *slog.Logger
	closeOnce  sync.Once
}

// NewBus creates a bus. Call Start to begin heartbeats and Close to shut
// down.
func NewBus(cfg BusConfig) *Bus {
	if cfg.ReplayCapacity <= 0 {
		cfg.ReplayCapacity = 100
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 64
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 15 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Bus{
		subs:       make(map[*Subscriber]struct{}),
		stopped:    make(chan struct{}),
		replayCap:  cfg.ReplayCapacity,
		queueCap:   cfg.QueueCapacity,
		hbInterval: cfg.HeartbeatInterval,
		logger:     cfg.Logger,
	}
}

// Start launches the heartbeat loop. Heartbeats let subscribers detect a
// dead connection; they are synthesized independently of request activity
// and never enter the replay buffer.
func (b *Bus) Start() {
	go func() {
		ticker := time.NewTicker(b.hbInterval)
		defer ticker.Stop()
		for {
			select {
			case <-b.stopped:
				return
			case <-ticker.C:
				b.Publish(domain.NewEvent(domain.EventHeartbeat, "", nil))
			}
		}
	}()
}

// Publish fans the event out to all matching subscribers. It never blocks:
// a full subscriber queue drops its oldest entry to make room.
func (b *Bus) Publish(ev domain.PipelineEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	if ev.Type != domain.EventHeartbeat {
		if len(b.replay) == b.replayCap {
			copy(b.replay, b.replay[1:])
			b.replay = b.replay[:b.replayCap-1]
		}
		b.replay = append(b.replay, ev)
	}

	for sub := range b.subs {
		if sub.filter == nil || sub.filter(ev) {
			b.deliverLocked(sub, ev)
		}
	}
}

// deliverLocked enqueues with drop-oldest backpressure. The bus mutex is
// held, so no other publisher can interleave between the drop and the
// retry, and the subscriber side only ever receives.
func (b *Bus) deliverLocked(sub *Subscriber, ev domain.PipelineEvent) {
	select {
	case sub.events <- ev:
		return
	default:
	}
	select {
	case <-sub.events:
	default:
	}
	select {
	case sub.events <- ev:
	default:
	}
}

// Subscribe registers a new observer and optionally preloads it with the
// retained backlog.
func (b *Bus) Subscribe(opts SubscribeOptions) *Subscriber {
	sub := &Subscriber{
		events: make(chan domain.PipelineEvent, b.queueCap),
	}
	if opts.RunID != "" {
		runID := opts.RunID
		sub.filter = func(ev domain.PipelineEvent) bool {
			return ev.RunID == runID || ev.Type == domain.EventHeartbeat
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.events)
		sub.closed = true
		return sub
	}
	if opts.Replay {
		for _, ev := range b.replay {
			if sub.filter == nil || sub.filter(ev) {
				b.deliverLocked(sub, ev)
			}
		}
	}
	b.subs[sub] = struct{}{}
	return sub
}

// Unsubscribe removes the observer and closes its channel. Safe to call
// more than once.
func (b *Bus) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; !ok {
		return
	}
	delete(b.subs, sub)
	if !sub.closed {
		close(sub.events)
		sub.closed = true
	}
}

// SubscriberCount reports the number of connected observers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close stops the heartbeat loop and disconnects every subscriber.
// Publish becomes a no-op afterwards.
func (b *Bus) Close() {
	b.closeOnce.Do(func() {
		close(b.stopped)
		b.mu.Lock()
		defer b.mu.Unlock()
		b.closed = true
		for sub := range b.subs {
			if !sub.closed {
				close(sub.events)
				sub.closed = true
			}
			delete(b.subs, sub)
		}
	})
}
