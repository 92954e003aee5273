package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

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

func TestCheck_DeniesAfterLimitWithinWindow(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := New(time.Minute, clock.Now)

	for i := 1; i <= 3; i++ {
		res := l.Check("1.2.3.4", 3, time.Minute)
		require.True(t, res.Allowed, "call %d", i)
		assert.Equal(t, 3-i, res.Remaining)
	}

	res := l.Check("1.2.3.4", 3, time.Minute)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, time.Minute, res.RetryAfter)
	assert.Equal(t, clock.Now().Add(time.Minute), res.ResetAt)
}

func TestCheck_FreshWindowAfterReset(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := New(time.Minute, clock.Now)

	l.Check("ip", 1, time.Minute)
	assert.False(t, l.Check("ip", 1, time.Minute).Allowed)

	clock.Advance(time.Minute)
	res := l.Check("ip", 1, time.Minute)
	assert.True(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, clock.Now().Add(time.Minute), res.ResetAt)
}

func TestCheck_IdentifiersAreIndependent(t *testing.T) {
	l := New(time.Minute, nil)
	assert.True(t, l.Check("a", 1, time.Minute).Allowed)
	assert.False(t, l.Check("a", 1, time.Minute).Allowed)
	assert.True(t, l.Check("b", 1, time.Minute).Allowed)
}

func TestReap_RemovesOnlyEntriesPastGrace(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := New(30*time.Second, clock.Now)

	l.Check("old", 5, time.Minute)
	clock.Advance(time.Minute)
	l.Check("new", 5, time.Minute)

	// old 窗口刚结束，仍在宽限期内
	assert.Equal(t, 0, l.Reap())
	assert.Equal(t, 2, l.Len())

	clock.Advance(31 * time.Second)
	assert.Equal(t, 1, l.Reap())
	assert.Equal(t, 1, l.Len())
}

func TestCheck_Concurrent(t *testing.T) {
	l := New(time.Minute, nil)
	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Check("shared", 20, time.Minute).Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, allowed)
}
