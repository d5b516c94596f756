package clock

import (
	"sync"
	"time"
)

// TestClock is a settable clock for exercising time-dependent behavior.
type TestClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewTestClock(start time.Time) *TestClock {
	return &TestClock{now: start}
}

func (tc *TestClock) Now() time.Time {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.now
}

func (tc *TestClock) Advance(d time.Duration) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.now = tc.now.Add(d)
}

func (tc *TestClock) Set(t time.Time) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.now = t
}
