package engine

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/metriclens/metriclens/internal/core"
)

// fakeClock advances only when a waiter sleeps, keeping limiter tests
// deterministic.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLimiter(tier core.RateTier, clock *fakeClock, waits *[]time.Duration) *Limiter {
	limiter := NewLimiter(tier)
	limiter.Clock = clock.Now
	limiter.sleep = func(ctx context.Context, d time.Duration) error {
		if waits != nil {
			*waits = append(*waits, d)
		}
		clock.Advance(d)
		return nil
	}
	return limiter
}

func TestLimiterAdmitsWithinBudget(t *testing.T) {
	clock := newFakeClock()
	var waits []time.Duration
	limiter := newTestLimiter(core.RateTier{PerSecond: 2, PerMinute: 100}, clock, &waits)

	require.NoError(t, limiter.Acquire(context.Background()))
	require.NoError(t, limiter.Acquire(context.Background()))
	require.Empty(t, waits)

	perSecond, perMinute := limiter.Pending()
	require.Equal(t, 2, perSecond)
	require.Equal(t, 2, perMinute)
}

func TestLimiterDelaysWhenSecondWindowFull(t *testing.T) {
	clock := newFakeClock()
	var waits []time.Duration
	limiter := newTestLimiter(core.RateTier{PerSecond: 2, PerMinute: 100}, clock, &waits)

	require.NoError(t, limiter.Acquire(context.Background()))
	require.NoError(t, limiter.Acquire(context.Background()))
	require.NoError(t, limiter.Acquire(context.Background()))

	require.NotEmpty(t, waits)
	require.Equal(t, time.Second, waits[0])
}

func TestLimiterMinuteWindowDominates(t *testing.T) {
	clock := newFakeClock()
	var waits []time.Duration
	limiter := newTestLimiter(core.RateTier{PerSecond: 10, PerMinute: 2}, clock, &waits)

	require.NoError(t, limiter.Acquire(context.Background()))
	require.NoError(t, limiter.Acquire(context.Background()))
	require.NoError(t, limiter.Acquire(context.Background()))

	require.NotEmpty(t, waits)
	require.Equal(t, time.Minute, waits[0])

	// The delayed admission freed the minute window; only the two newest
	// marks remain.
	_, perMinute := limiter.Pending()
	require.Equal(t, 1, perMinute)
}

func TestLimiterConcurrentAdmissionsRespectSecondWindow(t *testing.T) {
	limiter := NewLimiter(core.RateTier{PerSecond: 3, PerMinute: 1000})

	const callers = 12

	var (
		mu         sync.Mutex
		admissions []time.Time
	)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, limiter.Acquire(context.Background()))
			now := time.Now()
			mu.Lock()
			admissions = append(admissions, now)
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, admissions, callers)
	sort.Slice(admissions, func(i, j int) bool { return admissions[i].Before(admissions[j]) })

	// No sliding 1-second window may hold more than the per-second budget:
	// admission i+3 must come a full window after admission i. Timestamps
	// are captured just after Acquire returns, so allow a small scheduling
	// skew.
	const skew = 50 * time.Millisecond
	for i := 0; i+3 < len(admissions); i++ {
		gap := admissions[i+3].Sub(admissions[i])
		require.GreaterOrEqual(t, gap, time.Second-skew,
			"admissions %d..%d packed into one window", i, i+3)
	}

	_, perMinute := limiter.Pending()
	require.Equal(t, callers, perMinute)
}

func TestLimiterAcquireHonorsContext(t *testing.T) {
	limiter := NewLimiter(core.RateTier{PerSecond: 1, PerMinute: 1})
	require.NoError(t, limiter.Acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := limiter.Acquire(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
