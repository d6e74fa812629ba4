package testutil

import (
	"sync"
	"time"
)

// Epoch is the first instant a StepClock reports: 2024-01-01T00:00:00Z.
var Epoch = time.UnixMilli(1704067200000).UTC()

// StepClock is a deterministic wall clock for tests.
//
// Every call to Now returns the previous instant plus Step, starting at
// Epoch. Replicas sharing one StepClock see strictly increasing timestamps,
// so message order in assertions and golden files is stable.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type StepClock struct {
	mu    sync.Mutex
	step  time.Duration
	calls int64
}

// NewStepClock creates a clock advancing by step per call.
// A non-positive step defaults to one second.
func NewStepClock(step time.Duration) *StepClock {
	if step <= 0 {
		step = time.Second
	}
	return &StepClock{step: step}
}

// Now returns the next instant. The first call returns Epoch.
func (c *StepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := Epoch.Add(time.Duration(c.calls) * c.step)
	c.calls++
	return t
}

// Calls returns how many times Now has been called.
func (c *StepClock) Calls() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// Reset rewinds the clock so the next Now returns Epoch again.
func (c *StepClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = 0
}
