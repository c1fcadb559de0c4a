// Package timers abstracts deferred callbacks so playback timing can be
// driven by a manual clock in tests.
package timers

import (
	"sort"
	"sync"
	"time"
)

// Timer is a pending callback.
type Timer interface {
	// Stop prevents the callback from running. It reports whether the call
	// stopped the timer, false if it already fired or was stopped.
	Stop() bool
}

// Timers schedules callbacks.
type Timers interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type system struct{}

// System returns Timers backed by time.AfterFunc.
func System() Timers { return system{} }

func (system) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Manual is a Timers whose time only moves when Advance is called.
// Callbacks run synchronously on the goroutine calling Advance, in due
// order.
type Manual struct {
	mu      sync.Mutex
	now     time.Duration
	seq     int
	pending []*manualTimer
}

// NewManual returns a Manual clock at zero.
func NewManual() *Manual { return &Manual{} }

type manualTimer struct {
	m       *Manual
	due     time.Duration
	seq     int
	f       func()
	stopped bool
	fired   bool
}

func (m *Manual) AfterFunc(d time.Duration, f func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d < 0 {
		d = 0
	}
	m.seq++
	t := &manualTimer{m: m, due: m.now + d, seq: m.seq, f: f}
	m.pending = append(m.pending, t)
	return t
}

func (t *manualTimer) Stop() bool {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Now returns the elapsed manual time.
func (m *Manual) Now() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Pending returns the number of timers neither fired nor stopped.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.pending {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// Advance moves time forward by d and runs every callback that became due.
// Callbacks may schedule or stop other timers.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now + d
	m.mu.Unlock()
	for {
		m.mu.Lock()
		next := m.nextDue(target)
		if next == nil {
			m.now = target
			m.mu.Unlock()
			return
		}
		m.now = next.due
		next.fired = true
		m.mu.Unlock()
		next.f()
	}
}

func (m *Manual) nextDue(target time.Duration) *manualTimer {
	live := m.pending[:0]
	for _, t := range m.pending {
		if !t.stopped && !t.fired {
			live = append(live, t)
		}
	}
	m.pending = live
	sort.SliceStable(m.pending, func(i, j int) bool {
		if m.pending[i].due != m.pending[j].due {
			return m.pending[i].due < m.pending[j].due
		}
		return m.pending[i].seq < m.pending[j].seq
	})
	if len(m.pending) == 0 || m.pending[0].due > target {
		return nil
	}
	return m.pending[0]
}
