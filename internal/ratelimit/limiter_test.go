package ratelimit

import (
	"context"
	"errors"
	"fmt"
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

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newTestLimiter(store Store) (*Limiter, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	l := New(store, 60*time.Second, 100)
	l.now = clock.Now
	return l, clock
}

func TestLimiter_HundredthAdmittedHundredFirstDenied(t *testing.T) {
	l, clock := newTestLimiter(NewMemoryStore())
	ctx := context.Background()

	for i := 1; i <= 100; i++ {
		d, err := l.Admit(ctx, "10.0.0.1")
		require.NoError(t, err)
		require.Truef(t, d.Allowed, "request %d should be admitted", i)
		clock.Advance(100 * time.Millisecond)
	}

	d, err := l.Admit(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 101, d.Count)
	assert.LessOrEqual(t, d.RetryAfter, 60)
	assert.Greater(t, d.RetryAfter, 0)

	// other clients are unaffected
	d, err = l.Admit(ctx, "10.0.0.2")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestLimiter_RetryAfterRoundsUp(t *testing.T) {
	store := NewMemoryStore()
	l, clock := newTestLimiter(store)
	l.max = 1
	ctx := context.Background()

	_, _ = l.Admit(ctx, "k")
	clock.Advance(20*time.Second + 300*time.Millisecond)

	d, err := l.Admit(ctx, "k")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	// 39.7s remaining
	assert.Equal(t, 40, d.RetryAfter)
}

func TestLimiter_WindowResetsAfterExpiry(t *testing.T) {
	l, clock := newTestLimiter(NewMemoryStore())
	l.max = 2
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = l.Admit(ctx, "k")
	}
	d, _ := l.Admit(ctx, "k")
	require.False(t, d.Allowed)

	// exactly at resetTime the window is still current
	clock.Advance(60 * time.Second)
	d, _ = l.Admit(ctx, "k")
	assert.False(t, d.Allowed)

	clock.Advance(time.Millisecond)
	d, _ = l.Admit(ctx, "k")
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Count)
}

type failingStore struct{}

func (failingStore) Hit(context.Context, string, time.Time, time.Duration) (int, time.Time, error) {
	return 0, time.Time{}, errors.New("store down")
}

func TestLimiter_StoreErrorAdmits(t *testing.T) {
	l := New(failingStore{}, time.Minute, 1)

	d, err := l.Admit(context.Background(), "k")
	assert.Error(t, err)
	assert.True(t, d.Allowed)
}

func TestNew_Defaults(t *testing.T) {
	l := New(NewMemoryStore(), 0, 0)
	assert.Equal(t, DefaultWindow, l.window)
	assert.Equal(t, DefaultMax, l.Max())
}

func TestMemoryStore_ConcurrentHits(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()

	var wg sync.WaitGroup
	for c := 0; c < 8; c++ {
		key := fmt.Sprintf("client-%d", c)
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _, _ = store.Hit(context.Background(), key, now, time.Minute)
			}()
		}
	}
	wg.Wait()

	for c := 0; c < 8; c++ {
		count, _, err := store.Hit(context.Background(), fmt.Sprintf("client-%d", c), now, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, 51, count)
	}
}

func TestMemoryStore_Sweep(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()
	ctx := context.Background()

	_, _, _ = store.Hit(ctx, "old", now.Add(-2*time.Minute), time.Minute)
	_, _, _ = store.Hit(ctx, "fresh", now, time.Minute)
	require.Equal(t, 2, store.Len())

	assert.Equal(t, 1, store.Sweep(now))
	assert.Equal(t, 1, store.Len())
}

func TestMemoryStore_RunJanitorStopsOnCancel(t *testing.T) {
	store := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		store.RunJanitor(ctx, time.Millisecond)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}
