// Package ratelimit bounds outbound request dispatch for the Front API.
//
// Three independent constraints are enforced and the strictest always wins:
//   - a concurrency bound (FIFO slots, default 1 = fully serialized)
//   - a minimum interval between consecutive dispatches (default 700ms)
//   - a rolling ceiling of N dispatches per trailing window (default 40 per minute)
//
// A single Limiter is shared process-wide and injected wherever requests are made.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Config holds limiter settings.
type Config struct {
	MaxConcurrent int
	MinInterval   time.Duration
	PerWindow     int
	Window        time.Duration
}

// DefaultConfig returns the limits the Front API tolerates for a single token.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent: 1,
		MinInterval:   700 * time.Millisecond,
		PerWindow:     40,
		Window:        time.Minute,
	}
}

// Limiter gates request dispatch. The zero value is not usable; use New.
type Limiter struct {
	cfg   Config
	clock Clock
	slots *semaphore.Weighted

	mu         sync.Mutex
	last       time.Time
	dispatches []time.Time // trailing window, oldest first
	total      int
}

// New creates a limiter. Non-positive values fall back to DefaultConfig.
// A nil clock means SystemClock.
func New(cfg Config, clock Clock) *Limiter {
	def := DefaultConfig()
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}
	if cfg.MinInterval < 0 {
		cfg.MinInterval = 0
	}
	if cfg.PerWindow <= 0 {
		cfg.PerWindow = def.PerWindow
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if clock == nil {
		clock = SystemClock{}
	}

	return &Limiter{
		cfg:        cfg,
		clock:      clock,
		slots:      semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		dispatches: make([]time.Time, 0, cfg.PerWindow),
	}
}

// Config returns the effective configuration.
func (l *Limiter) Config() Config {
	return l.cfg
}

// Acquire blocks until a concurrency slot is free, the rolling window has room
// and the minimum interval since the previous dispatch has elapsed. On success
// the dispatch is recorded and the caller owns a slot that must be returned
// with Release.
//
// Slots are granted in FIFO order. If ctx is done while waiting, Acquire
// returns ctx.Err() and the caller owns nothing.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := l.slots.Acquire(ctx, 1); err != nil {
		return err
	}

	for {
		l.mu.Lock()
		now := l.clock.Now()
		wait := l.waitLocked(now)
		if wait <= 0 {
			l.last = now
			l.dispatches = append(l.dispatches, now)
			l.total++
			l.mu.Unlock()
			return nil
		}
		l.mu.Unlock()

		if err := l.clock.Sleep(ctx, wait); err != nil {
			l.slots.Release(1)
			return err
		}
	}
}

// Release frees a slot, waking the next waiter if any.
func (l *Limiter) Release() {
	l.slots.Release(1)
}

// Execute runs fn while holding a slot. The slot is released on every exit path.
func (l *Limiter) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	defer l.Release()

	return fn(ctx)
}

// Dispatched returns the number of dispatches granted since construction.
func (l *Limiter) Dispatched() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}

// waitLocked returns how long the caller must wait before dispatching at now.
// Caller must hold l.mu.
func (l *Limiter) waitLocked(now time.Time) time.Duration {
	cutoff := now.Add(-l.cfg.Window)
	drop := 0
	for drop < len(l.dispatches) && !l.dispatches[drop].After(cutoff) {
		drop++
	}
	if drop > 0 {
		l.dispatches = append(l.dispatches[:0], l.dispatches[drop:]...)
	}

	var wait time.Duration
	if len(l.dispatches) >= l.cfg.PerWindow {
		wait = l.dispatches[0].Add(l.cfg.Window).Sub(now)
	}
	if !l.last.IsZero() {
		if spacing := l.last.Add(l.cfg.MinInterval).Sub(now); spacing > wait {
			wait = spacing
		}
	}
	return wait
}
