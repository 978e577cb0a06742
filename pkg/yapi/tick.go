// ABOUTME: Monotonic millisecond tick source for cache expiry
package yapi

import "time"

// TickSource supplies a monotonic millisecond counter.
type TickSource interface {
	TickCount() int64
}

type monotonicTicks struct {
	start time.Time
}

// NewMonotonicTicks returns a TickSource counting from now.
func NewMonotonicTicks() TickSource {
	return &monotonicTicks{start: time.Now()}
}

// TickCount starts at 1 so a zero expiration is always in the past.
func (m *monotonicTicks) TickCount() int64 {
	return time.Since(m.start).Milliseconds() + 1
}
