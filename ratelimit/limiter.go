// Package ratelimit implements the per-sender fraud guard: a sliding window
// of recent transaction timestamps with a fixed threshold.
package ratelimit

import (
	"sync"
	"time"
)

const (
	DefaultWindow    = 60 * time.Second
	DefaultThreshold = 3
)

// Decision is the outcome of RecordAndCheck. At is the recorded timestamp
// when the request was allowed.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
	At         time.Time
}

type senderWindow struct {
	mu         sync.Mutex
	timestamps []time.Time
}

// Limiter guards every sender with its own mutex so that evaluating the
// window and recording a new timestamp is a single critical section.
type Limiter struct {
	window    time.Duration
	threshold int
	now       func() time.Time

	mu      sync.Mutex
	senders map[string]*senderWindow
}

type Option func(*Limiter)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

func New(window time.Duration, threshold int, opts ...Option) *Limiter {
	if window <= 0 {
		window = DefaultWindow
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	l := &Limiter{
		window:    window,
		threshold: threshold,
		now:       time.Now,
		senders:   make(map[string]*senderWindow),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Limiter) Window() time.Duration { return l.window }
func (l *Limiter) Threshold() int        { return l.threshold }

func (l *Limiter) senderWindow(sender string) *senderWindow {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.senders[sender]
	if !ok {
		w = &senderWindow{}
		l.senders[sender] = w
	}
	return w
}

// prune drops timestamps that have left the window. Caller holds w.mu.
func (w *senderWindow) prune(now time.Time, window time.Duration) {
	keep := w.timestamps[:0]
	for _, ts := range w.timestamps {
		if now.Sub(ts) < window {
			keep = append(keep, ts)
		}
	}
	w.timestamps = keep
}

// RecordAndCheck denies the request when the sender already has threshold
// timestamps inside the window; otherwise it records now and allows it.
func (l *Limiter) RecordAndCheck(sender string) Decision {
	w := l.senderWindow(sender)
	w.mu.Lock()
	defer w.mu.Unlock()

	now := l.now()
	w.prune(now, l.window)

	if len(w.timestamps) >= l.threshold {
		oldest := w.timestamps[0]
		return Decision{
			Allowed:    false,
			RetryAfter: oldest.Add(l.window).Sub(now),
		}
	}

	w.timestamps = append(w.timestamps, now)
	return Decision{Allowed: true, At: now}
}

// Release forgets a timestamp recorded by an allowed decision whose operation
// did not complete.
func (l *Limiter) Release(sender string, at time.Time) {
	w := l.senderWindow(sender)
	w.mu.Lock()
	defer w.mu.Unlock()

	for i, ts := range w.timestamps {
		if ts.Equal(at) {
			w.timestamps = append(w.timestamps[:i], w.timestamps[i+1:]...)
			return
		}
	}
}

// Count returns the number of timestamps currently inside the window.
func (l *Limiter) Count(sender string) int {
	w := l.senderWindow(sender)
	w.mu.Lock()
	defer w.mu.Unlock()

	w.prune(l.now(), l.window)
	return len(w.timestamps)
}
