package ratelimit

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t *time.Time) func() time.Time {
	return func() time.Time { return *t }
}

func TestAdmitWithinCapacity(t *testing.T) {
	now := time.Now()
	l := New(Config{Capacity: 3, Window: time.Minute}, nil, WithClock(fixedClock(&now)))

	for i := 0; i < 3; i++ {
		res := l.Admit("query", "1.2.3.4")
		assert.True(t, res.Allowed, "request %d should be admitted", i+1)
		assert.Equal(t, 3-i-1, res.Remaining)
	}

	res := l.Admit("query", "1.2.3.4")
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, time.Minute, res.RetryAfter())
}

func TestWindowReset(t *testing.T) {
	now := time.Now()
	l := New(Config{Capacity: 1, Window: time.Minute}, nil, WithClock(fixedClock(&now)))

	assert.True(t, l.Admit("query", "k").Allowed)
	assert.False(t, l.Admit("query", "k").Allowed)

	now = now.Add(time.Minute)
	assert.True(t, l.Admit("query", "k").Allowed)
}

func TestClassOverrides(t *testing.T) {
	now := time.Now()
	classes := map[string]Config{"login": {Capacity: 1, Window: time.Minute}}
	l := New(Config{Capacity: 10, Window: time.Minute}, classes, WithClock(fixedClock(&now)))

	assert.True(t, l.Admit("login", "k").Allowed)
	assert.False(t, l.Admit("login", "k").Allowed, "login override caps at 1")
	// Unknown class falls back to the default budget.
	assert.True(t, l.Admit("feedback", "k").Allowed)
	assert.Equal(t, 10, l.Admit("feedback", "k").Limit)
}

func TestKeysAreIndependent(t *testing.T) {
	now := time.Now()
	l := New(Config{Capacity: 1, Window: time.Minute}, nil, WithClock(fixedClock(&now)))

	assert.True(t, l.Admit("query", "caller-a").Allowed)
	assert.True(t, l.Admit("query", "caller-b").Allowed)
	assert.False(t, l.Admit("query", "caller-a").Allowed)
}

func TestDisabledAdmitsEverything(t *testing.T) {
	l := New(Config{Capacity: 1, Window: time.Minute}, nil, WithDisabled())
	for i := 0; i < 100; i++ {
		require.True(t, l.Admit("query", "k").Allowed)
	}
}

func TestResetClearsBucket(t *testing.T) {
	now := time.Now()
	l := New(Config{Capacity: 1, Window: time.Minute}, nil, WithClock(fixedClock(&now)))

	assert.True(t, l.Admit("query", "k").Allowed)
	assert.False(t, l.Admit("query", "k").Allowed)
	l.Reset("query", "k")
	assert.True(t, l.Admit("query", "k").Allowed)
}

// Concurrent requests racing for the final slots must never over-admit.
func TestConcurrentBoundaryAdmission(t *testing.T) {
	const capacity = 50
	const attempts = 200

	l := New(Config{Capacity: capacity, Window: time.Minute}, nil)

	var admitted atomic.Int64
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if l.Admit("query", "same-caller").Allowed {
				admitted.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int64(capacity), admitted.Load())
}

func TestRemoveStale(t *testing.T) {
	now := time.Now()
	l := New(Config{Capacity: 5, Window: time.Minute}, nil, WithClock(fixedClock(&now)))

	l.Admit("query", "old")
	now = now.Add(staleThreshold + time.Minute)
	l.Admit("query", "fresh")

	l.removeStale()

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.NotContains(t, l.buckets, "query:old")
	assert.Contains(t, l.buckets, "query:fresh")
}

func TestParseRate(t *testing.T) {
	cases := []struct {
		spec string
		want Config
		ok   bool
	}{
		{"5/minute", Config{5, time.Minute}, true},
		{"10/second", Config{10, time.Second}, true},
		{"5/hour", Config{5, time.Hour}, true},
		{"100/day", Config{100, 24 * time.Hour}, true},
		{" 60 / minute ", Config{60, time.Minute}, true},
		{"minute", Config{}, false},
		{"0/minute", Config{}, false},
		{"-1/minute", Config{}, false},
		{"5/fortnight", Config{}, false},
		{"x/minute", Config{}, false},
	}
	for _, tc := range cases {
		got, err := ParseRate(tc.spec)
		if tc.ok {
			require.NoError(t, err, tc.spec)
			assert.Equal(t, tc.want, got, tc.spec)
		} else {
			assert.Error(t, err, tc.spec)
		}
	}
}
