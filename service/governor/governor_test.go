package governor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestGovernor(cooldown time.Duration) (*Governor, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	return New(cooldown, clock.Now, nil, nil), clock
}

func TestTryRefetch_CooldownEnforcement(t *testing.T) {
	g, clock := newTestGovernor(10 * time.Second)
	ctx := context.Background()

	calls := 0
	fetch := func(context.Context) error {
		calls++
		return nil
	}

	ran, err := g.TryRefetch(ctx, "k", fetch)
	require.NoError(t, err)
	assert.True(t, ran)

	// Second attempt inside the window is dropped, not queued.
	clock.Advance(5 * time.Second)
	ran, err = g.TryRefetch(ctx, "k", fetch)
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Equal(t, 1, calls)

	// Third attempt after the window elapses runs again.
	clock.Advance(5 * time.Second)
	ran, err = g.TryRefetch(ctx, "k", fetch)
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, 2, calls)
}

func TestTryRefetch_SkipDoesNotSlideWindow(t *testing.T) {
	g, clock := newTestGovernor(10 * time.Second)
	ctx := context.Background()

	calls := 0
	fetch := func(context.Context) error {
		calls++
		return nil
	}

	_, _ = g.TryRefetch(ctx, "k", fetch)

	// Repeated skipped attempts must not push the window forward.
	for i := 0; i < 9; i++ {
		clock.Advance(time.Second)
		ran, _ := g.TryRefetch(ctx, "k", fetch)
		assert.False(t, ran, "attempt at +%ds", i+1)
	}

	clock.Advance(time.Second)
	ran, _ := g.TryRefetch(ctx, "k", fetch)
	assert.True(t, ran, "window measured from the last permitted attempt")
	assert.Equal(t, 2, calls)
}

func TestTryRefetch_KeysAreIndependent(t *testing.T) {
	g, _ := newTestGovernor(10 * time.Second)
	ctx := context.Background()

	calls := map[string]int{}
	fetchFor := func(key string) func(context.Context) error {
		return func(context.Context) error {
			calls[key]++
			return nil
		}
	}

	ran, _ := g.TryRefetch(ctx, "balance:0xa", fetchFor("a"))
	assert.True(t, ran)
	ran, _ = g.TryRefetch(ctx, "receipt:0x1", fetchFor("r"))
	assert.True(t, ran)
	ran, _ = g.TryRefetch(ctx, "balance:0xa", fetchFor("a"))
	assert.False(t, ran)

	assert.Equal(t, 1, calls["a"])
	assert.Equal(t, 1, calls["r"])
}

func TestTryRefetch_FailedAttemptStillStampsWindow(t *testing.T) {
	g, clock := newTestGovernor(10 * time.Second)
	ctx := context.Background()

	calls := 0
	failing := func(context.Context) error {
		calls++
		return errors.New("node down")
	}

	ran, err := g.TryRefetch(ctx, "k", failing)
	assert.True(t, ran)
	assert.Error(t, err)

	// The failure consumed the window: node load stays bounded during outages.
	clock.Advance(5 * time.Second)
	ran, err = g.TryRefetch(ctx, "k", failing)
	assert.False(t, ran)
	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestTryRefetch_ConcurrentDoubleTriggerRunsOnce(t *testing.T) {
	g, _ := newTestGovernor(10 * time.Second)
	ctx := context.Background()

	var mu sync.Mutex
	calls := 0
	slow := func(context.Context) error {
		mu.Lock()
		calls++
		mu.Unlock()
		time.Sleep(50 * time.Millisecond)
		return nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = g.TryRefetch(ctx, "k", slow)
		}()
	}
	wg.Wait()

	// The window is stamped before the fetch resolves, so only one of the
	// simultaneous triggers may run.
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestReset_PermitsImmediateRefetch(t *testing.T) {
	g, _ := newTestGovernor(10 * time.Second)
	ctx := context.Background()

	calls := 0
	fetch := func(context.Context) error {
		calls++
		return nil
	}

	_, _ = g.TryRefetch(ctx, "receipt:0x1", fetch)
	g.Reset("receipt:0x1")

	ran, _ := g.TryRefetch(ctx, "receipt:0x1", fetch)
	assert.True(t, ran)
	assert.Equal(t, 2, calls)
}
