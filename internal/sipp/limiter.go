// internal/sipp/limiter.go
package sipp

import (
	"context"
	"sync"
	"time"
)

// WindowLimiter allows at most limit calls in any window-long span of time.
// A call over the limit blocks until the oldest call in the window expires.
type WindowLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	calls  []time.Time
	now    func() time.Time
}

func NewWindowLimiter(limit int, window time.Duration) *WindowLimiter {
	if limit < 1 {
		limit = 1
	}
	return &WindowLimiter{
		limit:  limit,
		window: window,
		calls:  make([]time.Time, 0, limit),
		now:    time.Now,
	}
}

// Wait blocks until a call is permitted and records it. It returns how long it waited.
func (l *WindowLimiter) Wait(ctx context.Context) (time.Duration, error) {
	var waited time.Duration
	for {
		delay := l.reserve()
		if delay == 0 {
			return waited, nil
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
			waited += delay
		case <-ctx.Done():
			timer.Stop()
			return waited, ctx.Err()
		}
	}
}

// reserve records a call and returns zero, or returns how long until a slot frees up.
func (l *WindowLimiter) reserve() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)
	expired := 0
	for expired < len(l.calls) && !l.calls[expired].After(cutoff) {
		expired++
	}
	l.calls = l.calls[expired:]

	if len(l.calls) < l.limit {
		l.calls = append(l.calls, now)
		return 0
	}
	return l.calls[0].Add(l.window).Sub(now)
}

// Window is the span over which calls are counted.
func (l *WindowLimiter) Window() time.Duration { return l.window }
