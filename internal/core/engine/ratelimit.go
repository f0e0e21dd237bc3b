package engine

import (
	"context"
	"sync"
	"time"

	"github.com/metriclens/metriclens/internal/core"
)

// Limiter admits outbound requests under dual sliding-window quotas. It
// delays callers instead of rejecting them: Acquire suspends until one more
// request can be issued without exceeding either the per-second or the
// per-minute budget.
//
// One Limiter belongs to exactly one run and is shared by all of that run's
// extractors. The check-and-record step is a single critical section, so no
// two concurrent admissions can jointly exceed a window.
type Limiter struct {
	mu     sync.Mutex
	second slidingWindow
	minute slidingWindow

	Clock func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

type slidingWindow struct {
	span  time.Duration
	max   int
	marks []time.Time
}

// NewLimiter builds a limiter for an effective tier, i.e. one that already
// has the safety margin applied.
func NewLimiter(tier core.RateTier) *Limiter {
	return &Limiter{
		second: slidingWindow{span: time.Second, max: tier.PerSecond},
		minute: slidingWindow{span: time.Minute, max: tier.PerMinute},
	}
}

// Acquire blocks until the caller may issue one more request, then records
// the admission in both windows atomically. It returns early only when the
// context is cancelled. Concurrent waiters race for freed slots, so the
// full-window check repeats after every wait.
func (l *Limiter) Acquire(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	for {
		l.mu.Lock()
		now := l.now()
		l.second.prune(now)
		l.minute.prune(now)

		if !l.second.full() && !l.minute.full() {
			l.second.record(now)
			l.minute.record(now)
			l.mu.Unlock()
			return nil
		}

		wait := maxDuration(l.second.nextSlot(now), l.minute.nextSlot(now))
		l.mu.Unlock()

		if err := l.pause(ctx, wait); err != nil {
			return err
		}
	}
}

// Pending returns the admissions currently counted in each window.
func (l *Limiter) Pending() (perSecond, perMinute int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.second.prune(now)
	l.minute.prune(now)
	return len(l.second.marks), len(l.minute.marks)
}

func (l *Limiter) now() time.Time {
	if l.Clock != nil {
		return l.Clock()
	}
	return time.Now().UTC()
}

func (l *Limiter) pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		d = time.Millisecond
	}
	if l.sleep != nil {
		return l.sleep(ctx, d)
	}
	return sleepContext(ctx, d)
}

func (w *slidingWindow) prune(now time.Time) {
	cutoff := now.Add(-w.span)
	idx := 0
	for idx < len(w.marks) && !w.marks[idx].After(cutoff) {
		idx++
	}
	if idx > 0 {
		w.marks = append(w.marks[:0], w.marks[idx:]...)
	}
}

func (w *slidingWindow) full() bool {
	return w.max > 0 && len(w.marks) >= w.max
}

func (w *slidingWindow) record(now time.Time) {
	w.marks = append(w.marks, now)
}

// nextSlot is the minimal wait until the oldest admission leaves the window.
func (w *slidingWindow) nextSlot(now time.Time) time.Duration {
	if !w.full() || len(w.marks) == 0 {
		return 0
	}
	return w.marks[0].Add(w.span).Sub(now)
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
