package rtc

import (
	"sync"
	"time"
)

// SafeTimer runs a callback once after a duration. Stop and Reset may be
// called from any goroutine, including from the callback.
type SafeTimer struct {
	mu         sync.Mutex
	timer      *time.Timer
	active     bool
	generation uint64
	callback   func()
}

// NewSafeTimer creates and starts a new SafeTimer with the given duration and callback.
func NewSafeTimer(duration time.Duration, cb func()) *SafeTimer {
	st := &SafeTimer{callback: cb}
	st.mu.Lock()
	st.start(duration)
	st.mu.Unlock()
	return st
}

func (st *SafeTimer) start(duration time.Duration) {
	st.generation++
	generation := st.generation
	st.active = true
	st.timer = time.AfterFunc(duration, func() {
		st.fire(generation)
	})
}

// fire ignores expirations of a timer that was stopped or reset meanwhile.
func (st *SafeTimer) fire(generation uint64) {
	st.mu.Lock()
	if generation != st.generation || !st.active {
		st.mu.Unlock()
		return
	}
	st.active = false
	st.mu.Unlock()

	if st.callback != nil {
		st.callback()
	}
}

// Stop stops the timer and returns whether it was stopped before firing.
func (st *SafeTimer) Stop() bool {
	st.mu.Lock()
	defer st.mu.Unlock()

	wasActive := st.active
	st.active = false
	st.generation++
	st.timer.Stop()
	return wasActive
}

// Reset resets the timer to a new duration.
func (st *SafeTimer) Reset(duration time.Duration) {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.timer.Stop()
	st.start(duration)
}

// IsActive returns the current activity state of the timer.
func (st *SafeTimer) IsActive() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.active
}
