// Package clock provides the time source used for bid timestamps, auction
// expiry checks and maintenance scheduling.
package clock

import (
	"sync"
	"sync/atomic"
	"time"
)

// Clock abstracts time operations for testability.
type Clock interface {
	Now() time.Time
}

// Real is a Clock backed by the system clock.
type Real struct{}

// Now returns the current time in UTC.
func (Real) Now() time.Time { return time.Now().UTC() }

// Mock is a Clock that always returns a fixed time.
type Mock struct {
	T time.Time
}

// Now returns the fixed time.
func (m Mock) Now() time.Time { return m.T }

// Step is a Clock that advances by a fixed increment on every call.
// It gives tests distinct, strictly increasing timestamps. Safe for
// concurrent use.
type Step struct {
	mu   sync.Mutex
	next time.Time
	step time.Duration
}

// NewStep returns a Step clock starting at start.
func NewStep(start time.Time, step time.Duration) *Step {
	return &Step{next: start, step: step}
}

// Now returns the current step time and advances the clock.
func (s *Step) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.next
	s.next = s.next.Add(s.step)
	return t
}

// Advance moves the clock forward by d without consuming a step.
func (s *Step) Advance(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next = s.next.Add(d)
}

// Ticker delivers ticks until stopped.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFunc starts a Ticker with period d.
type TickerFunc func(d time.Duration) Ticker

// NewTicker returns a Ticker backed by time.Ticker.
func NewTicker(d time.Duration) Ticker {
	return realTicker{t: time.NewTicker(d)}
}

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// ManualTicker is a Ticker that only fires when Tick is called.
type ManualTicker struct {
	c       chan time.Time
	stopped atomic.Bool
}

// NewManualTicker returns an unfired ManualTicker.
func NewManualTicker() *ManualTicker {
	return &ManualTicker{c: make(chan time.Time)}
}

func (m *ManualTicker) C() <-chan time.Time { return m.c }
func (m *ManualTicker) Stop()               { m.stopped.Store(true) }

// Tick delivers t and blocks until the receiver takes it.
func (m *ManualTicker) Tick(t time.Time) { m.c <- t }

// Stopped reports whether Stop was called.
func (m *ManualTicker) Stopped() bool { return m.stopped.Load() }

// NotBefore returns t, or floor when t is earlier than floor. Drivers use it
// to keep server-assigned timestamps non-decreasing within a product.
func NotBefore(t, floor time.Time) time.Time {
	if t.Before(floor) {
		return floor
	}
	return t
}
