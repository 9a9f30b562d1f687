package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
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

func TestSetGet(t *testing.T) {
	c := New[string]()

	c.Set("a", "hello")

	v, ok := c.Get("a")
	require.True(t, ok)
	require.Equal(t, "hello", v)

	_, ok = c.Get("missing")
	require.False(t, ok)
}

func TestExpiry(t *testing.T) {
	clock := newFakeClock()
	c := New[int](WithDefaultTTL(time.Minute), WithNow(clock.Now))

	c.Set("a", 1)

	clock.Advance(59 * time.Second)
	_, ok := c.Get("a")
	require.True(t, ok)

	clock.Advance(time.Second)
	_, ok = c.Get("a")
	require.False(t, ok)

	// The expired read dropped the entry.
	require.Zero(t, c.Len())
}

func TestSetTTLOverridesDefault(t *testing.T) {
	clock := newFakeClock()
	c := New[int](WithDefaultTTL(time.Minute), WithNow(clock.Now))

	c.SetTTL("long", 1, time.Hour)

	clock.Advance(30 * time.Minute)
	_, ok := c.Get("long")
	require.True(t, ok)
}

func TestOverwriteResetsExpiry(t *testing.T) {
	clock := newFakeClock()
	c := New[int](WithDefaultTTL(time.Minute), WithNow(clock.Now))

	c.Set("a", 1)
	clock.Advance(50 * time.Second)
	c.Set("a", 2)
	clock.Advance(50 * time.Second)

	v, ok := c.Get("a")
	require.True(t, ok)
	require.Equal(t, 2, v)
}

func TestRemoveAndClear(t *testing.T) {
	c := New[int]()

	c.Set("a", 1)
	c.Set("b", 2)

	c.Remove("a")
	_, ok := c.Get("a")
	require.False(t, ok)
	require.Equal(t, 1, c.Len())

	c.Clear()
	require.Zero(t, c.Len())
}

func TestSweep(t *testing.T) {
	clock := newFakeClock()
	c := New[int](WithDefaultTTL(time.Minute), WithNow(clock.Now))

	c.Set("a", 1)
	c.Set("b", 2)
	c.SetTTL("c", 3, time.Hour)

	clock.Advance(2 * time.Minute)

	removed := c.Sweep()
	require.Equal(t, 2, removed)
	require.Equal(t, 1, c.Len())

	_, ok := c.Get("c")
	require.True(t, ok)
}

func TestMaxEntriesEvictsExpiredFirst(t *testing.T) {
	clock := newFakeClock()
	c := New[int](WithDefaultTTL(time.Minute), WithMaxEntries(2), WithNow(clock.Now))

	c.Set("stale", 1)
	clock.Advance(2 * time.Minute)

	c.Set("a", 2)
	c.Set("b", 3)

	require.Equal(t, 2, c.Len())
	_, ok := c.Get("stale")
	require.False(t, ok)

	_, ok = c.Get("a")
	require.True(t, ok)
	_, ok = c.Get("b")
	require.True(t, ok)
}

func TestMaxEntriesEvictsOldestInsertion(t *testing.T) {
	c := New[int](WithMaxEntries(2))

	c.Set("first", 1)
	c.Set("second", 2)
	c.Set("third", 3)

	require.Equal(t, 2, c.Len())
	_, ok := c.Get("first")
	require.False(t, ok)

	_, ok = c.Get("second")
	require.True(t, ok)
	_, ok = c.Get("third")
	require.True(t, ok)
}

func TestJanitorSweeps(t *testing.T) {
	clock := newFakeClock()
	c := New[int](
		WithDefaultTTL(time.Millisecond),
		WithSweepInterval(5*time.Millisecond),
		WithNow(clock.Now),
	)

	c.Set("a", 1)
	clock.Advance(time.Second)

	c.Start(context.Background())
	defer c.Stop()

	require.Eventually(t, func() bool {
		return c.Len() == 0
	}, time.Second, time.Millisecond)
}

func TestStopIsIdempotent(t *testing.T) {
	c := New[int](WithSweepInterval(time.Millisecond))

	c.Start(context.Background())
	c.Start(context.Background()) // no-op

	c.Stop()
	c.Stop() // no-op

	// Start after stop must not resurrect the janitor.
	c.Start(context.Background())
}

func TestConcurrentAccess(t *testing.T) {
	c := New[int](WithMaxEntries(100))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				key := string(rune('a' + (j % 26)))
				c.Set(key, n*j)
				c.Get(key)
			}
		}(i)
	}
	wg.Wait()
}
