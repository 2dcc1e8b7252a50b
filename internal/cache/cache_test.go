package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
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
	c := New[string](time.Minute)

	c.Set("a", "1")
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, "1", v)

	c.Set("a", "2")
	v, _ = c.Get("a")
	assert.Equal(t, "2", v, "overwrite replaces the entry")

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestExpiryIsLazy(t *testing.T) {
	clock := newFakeClock()
	c := New[int](time.Minute, WithClock(clock.Now))

	c.Set("k", 1)
	clock.Advance(time.Minute)
	assert.True(t, c.Has("k"), "entry is visible while age <= ttl")

	clock.Advance(time.Nanosecond)
	assert.Equal(t, 1, c.Size(), "expired entry stays resident until touched")
	assert.False(t, c.Has("k"))
	assert.Equal(t, 0, c.Size(), "lookup evicts the expired entry")
	assert.EqualValues(t, 1, c.Stats().Evictions)
}

func TestSetWithTTLOverridesDefault(t *testing.T) {
	clock := newFakeClock()
	c := New[int](time.Hour, WithClock(clock.Now))

	c.SetWithTTL("short", 1, time.Second)
	c.Set("long", 2)
	c.SetWithTTL("default", 3, 0)

	clock.Advance(2 * time.Second)
	assert.False(t, c.Has("short"))
	assert.True(t, c.Has("long"))
	assert.True(t, c.Has("default"))
}

func TestCleanExpired(t *testing.T) {
	clock := newFakeClock()
	c := New[int](10*time.Second, WithClock(clock.Now))

	c.Set("a", 1)
	c.Set("b", 2)
	c.SetWithTTL("c", 3, time.Minute)
	clock.Advance(11 * time.Second)

	assert.Equal(t, 2, c.CleanExpired())
	assert.Equal(t, 1, c.Size())
	assert.Equal(t, 0, c.CleanExpired())
}

func TestDeleteAndClear(t *testing.T) {
	c := New[int](0)
	assert.Equal(t, DefaultTTL, c.DefaultTTL())

	c.Set("a", 1)
	c.Set("b", 2)
	assert.True(t, c.Delete("a"))
	assert.False(t, c.Delete("a"))
	assert.Equal(t, 1, c.Size())

	c.Clear()
	assert.Equal(t, 0, c.Size())
	assert.False(t, c.Has("b"))
}

func TestStats(t *testing.T) {
	c := New[int](time.Minute)
	c.Set("a", 1)
	c.Get("a")
	c.Get("a")
	c.Get("b")
	c.Delete("a")

	s := c.Stats()
	assert.EqualValues(t, 2, s.Hits)
	assert.EqualValues(t, 1, s.Misses)
	assert.EqualValues(t, 1, s.Sets)
	assert.EqualValues(t, 1, s.Deletes)
	assert.Equal(t, 0, s.Size)
	assert.InDelta(t, 2.0/3.0, s.HitRatio(), 1e-9)
	assert.Zero(t, Stats{}.HitRatio())
}

func TestConcurrentAccess(t *testing.T) {
	c := New[int](time.Minute)
	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 100 {
				key := fmt.Sprintf("k%d", j%10)
				c.Set(key, i)
				c.Get(key)
				c.CleanExpired()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, c.Size())
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg, "extract")
	require.NoError(t, err)

	clock := newFakeClock()
	c := New[int](time.Second, WithClock(clock.Now), WithMetrics(m))
	c.Set("a", 1)
	c.Set("b", 2)
	c.Get("a")
	clock.Advance(2 * time.Second)
	c.Get("a")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.hits))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.misses))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.sets))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.evictions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.size))

	again, err := NewMetrics(reg, "extract")
	require.NoError(t, err, "re-registration reuses existing collectors")
	assert.Equal(t, 1.0, testutil.ToFloat64(again.hits))
}
