// Package sched provides cancellable delayed tasks.
// The engine debounces through the Scheduler interface so tests can drive
// time by hand with Manual instead of sleeping.
package sched

import (
	"sync"
	"time"
)

// Task is a scheduled callback handle.
type Task interface {
	// Cancel stops the task. Returns false if it already ran or was cancelled.
	Cancel() bool
}

// Scheduler runs f once after d has elapsed, on a goroutine of its choosing.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Task
}

// Real schedules on the runtime timer heap via time.AfterFunc.
type Real struct{}

// AfterFunc implements Scheduler.
func (Real) AfterFunc(d time.Duration, f func()) Task {
	return timerTask{time.AfterFunc(d, f)}
}

type timerTask struct {
	t *time.Timer
}

func (t timerTask) Cancel() bool {
	return t.t.Stop()
}

// Manual is a Scheduler whose clock only moves on Advance.
// Due callbacks run synchronously on the goroutine calling Advance,
// in deadline order (ties in scheduling order).
type Manual struct {
	mu    sync.Mutex
	now   time.Duration
	seq   uint64
	tasks map[*manualTask]struct{}
}

// NewManual returns a Manual scheduler at time zero.
func NewManual() *Manual {
	return &Manual{tasks: make(map[*manualTask]struct{})}
}

type manualTask struct {
	m   *Manual
	at  time.Duration
	seq uint64
	f   func()
}

func (t *manualTask) Cancel() bool {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	if _, ok := t.m.tasks[t]; !ok {
		return false
	}
	delete(t.m.tasks, t)
	return true
}

// AfterFunc implements Scheduler.
func (m *Manual) AfterFunc(d time.Duration, f func()) Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	t := &manualTask{m: m, at: m.now + d, seq: m.seq, f: f}
	m.tasks[t] = struct{}{}
	return t
}

// Advance moves the clock forward by d, running every task that falls due.
// Tasks scheduled by a callback run too if they fall due within the window.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now + d
	for {
		next := m.nextDue(target)
		if next == nil {
			break
		}
		delete(m.tasks, next)
		m.now = next.at
		m.mu.Unlock()
		next.f()
		m.mu.Lock()
	}
	m.now = target
	m.mu.Unlock()
}

// nextDue must be called with mu held.
func (m *Manual) nextDue(deadline time.Duration) *manualTask {
	var next *manualTask
	for t := range m.tasks {
		if t.at > deadline {
			continue
		}
		if next == nil || t.at < next.at || (t.at == next.at && t.seq < next.seq) {
			next = t
		}
	}
	return next
}

// Pending returns the number of scheduled, not yet run tasks.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

// Elapsed returns how far the clock has been advanced.
func (m *Manual) Elapsed() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}
