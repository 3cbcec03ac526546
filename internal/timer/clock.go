package timer

import (
	"sync"
	"time"
)

// Clock abstracts the tick source and one-shot timers so the countdown and
// the engine's scheduled banners can be driven deterministically in tests.
// No clock library appears elsewhere in this codebase, so the seam stays
// minimal: a ticker, a cancellable AfterFunc, and Now.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
	AfterFunc(d time.Duration, f func()) StopFunc
}

// Ticker delivers periodic ticks until stopped.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// StopFunc cancels a pending AfterFunc. Safe to call after it fired.
type StopFunc func()

// RealClock is the production Clock backed by package time.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

func (RealClock) NewTicker(d time.Duration) Ticker {
	return realTicker{time.NewTicker(d)}
}

func (RealClock) AfterFunc(d time.Duration, f func()) StopFunc {
	t := time.AfterFunc(d, f)
	return func() { t.Stop() }
}

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// ManualClock is a test clock. Tickers never fire on their own (tests call
// Controller.Tick directly); AfterFunc callbacks are collected and fired
// explicitly via Advance.
type ManualClock struct {
	mu      sync.Mutex
	now     time.Time
	pending []*manualTimer
}

type manualTimer struct {
	due     time.Time
	f       func()
	stopped bool
}

// NewManualClock creates a ManualClock starting at a fixed instant.
func NewManualClock() *ManualClock {
	return &ManualClock{now: time.Unix(1700000000, 0)}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) NewTicker(d time.Duration) Ticker {
	return manualTicker{ch: make(chan time.Time)}
}

func (c *ManualClock) AfterFunc(d time.Duration, f func()) StopFunc {
	c.mu.Lock()
	t := &manualTimer{due: c.now.Add(d), f: f}
	c.pending = append(c.pending, t)
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		t.stopped = true
		c.mu.Unlock()
	}
}

// Advance moves the clock forward and fires any due, unstopped AfterFunc
// callbacks (outside the clock lock, in scheduling order).
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var fire []func()
	remaining := c.pending[:0]
	for _, t := range c.pending {
		if !t.stopped && !t.due.After(c.now) {
			fire = append(fire, t.f)
		} else if !t.stopped {
			remaining = append(remaining, t)
		}
	}
	c.pending = remaining
	c.mu.Unlock()

	for _, f := range fire {
		f()
	}
}

type manualTicker struct{ ch chan time.Time }

func (t manualTicker) C() <-chan time.Time { return t.ch }
func (t manualTicker) Stop()               {}
