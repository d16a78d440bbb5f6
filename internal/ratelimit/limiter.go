// Package ratelimit implements sliding-window admission control keyed by
// caller identity. It gates pipeline entry: a rejected call never reaches
// the pipeline.
package ratelimit

import (
	"sync"
	"time"
)

// evictAfterWindows is how many idle window lengths a key survives before
// its bucket is reclaimed.
const evictAfterWindows = 3

// Limiter admits at most limit calls per key within a trailing window.
// Buckets are locked individually so unrelated keys never serialize.
type Limiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu        sync.Mutex // guards buckets and lastSweep only
	buckets   map[string]*bucket
	lastSweep time.Time
}

type bucket struct {
	mu       sync.Mutex
	stamps   []time.Time // admitted timestamps, oldest first
	lastSeen time.Time
	evicted  bool
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock injects a clock, used by tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a limiter admitting limit calls per window for each key.
func New(limit int, window time.Duration, opts ...Option) *Limiter {
	l := &Limiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.lastSweep = l.now()
	return l
}

// Admit records and accepts the call if the key has a free slot in the
// trailing window, and rejects without recording otherwise. The
// purge-count-append sequence is a single critical section per key, so two
// concurrent callers can never both claim the last slot.
func (l *Limiter) Admit(key string) bool {
	now := l.now()
	for {
		b := l.bucket(key, now)

		b.mu.Lock()
		if b.evicted {
			// Lost a race with the sweeper; the bucket is no longer in the
			// map, so fetch a fresh one.
			b.mu.Unlock()
			continue
		}
		cutoff := now.Add(-l.window)
		i := 0
		for i < len(b.stamps) && b.stamps[i].Before(cutoff) {
			i++
		}
		if i > 0 {
			b.stamps = append(b.stamps[:0], b.stamps[i:]...)
		}
		b.lastSeen = now

		if len(b.stamps) >= l.limit {
			b.mu.Unlock()
			return false
		}
		b.stamps = append(b.stamps, now)
		b.mu.Unlock()
		return true
	}
}

// Remaining reports how many admissions the key has left in the current
// window. It does not record anything.
func (l *Limiter) Remaining(key string) int {
	now := l.now()

	l.mu.Lock()
	b, ok := l.buckets[key]
	l.mu.Unlock()
	if !ok {
		return l.limit
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	cutoff := now.Add(-l.window)
	inWindow := 0
	for _, ts := range b.stamps {
		if !ts.Before(cutoff) {
			inWindow++
		}
	}
	if rem := l.limit - inWindow; rem > 0 {
		return rem
	}
	return 0
}

func (l *Limiter) bucket(key string, now time.Time) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) >= l.window {
		l.sweepLocked(now)
		l.lastSweep = now
	}

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{lastSeen: now}
		l.buckets[key] = b
	}
	return b
}

// sweepLocked reclaims buckets idle for several windows. Callers hold
// l.mu. Marking evicted under the bucket lock makes Admit retry instead of
// recording on an orphaned bucket.
func (l *Limiter) sweepLocked(now time.Time) {
	idle := time.Duration(evictAfterWindows) * l.window
	for key, b := range l.buckets {
		b.mu.Lock()
		if now.Sub(b.lastSeen) >= idle {
			b.evicted = true
			delete(l.buckets, key)
		}
		b.mu.Unlock()
	}
}

// Keys reports how many buckets are currently tracked.
func (l *Limiter) Keys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
