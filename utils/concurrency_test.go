package utils

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDSetNoDuplicates(t *testing.T) {
	s := NewIDSet()

	assert.True(t, s.Add("42"), "first Add should return true")
	assert.False(t, s.Add("42"), "second Add of same id should return false")
	assert.True(t, s.Contains("42"))
	assert.False(t, s.Contains("43"))
	assert.Equal(t, 1, s.Size())
}

func TestIDSetConcurrency(t *testing.T) {
	s := NewIDSet()
	var added int64

	pool := NewWorkerPool(context.Background(), 10, 0)
	for i := 0; i < 100; i++ {
		pool.Submit(func(ctx context.Context) error {
			if s.Add("same") {
				atomic.AddInt64(&added, 1)
			}
			return nil
		})
	}
	require.NoError(t, pool.Wait())

	assert.Equal(t, int64(1), added)
}

func TestWorkerPoolRateLimit(t *testing.T) {
	rateLimitMs := 100
	pool := NewWorkerPool(context.Background(), 1, rateLimitMs)

	var mu sync.Mutex
	var timestamps []time.Time

	for i := 0; i < 3; i++ {
		pool.Submit(func(ctx context.Context) error {
			mu.Lock()
			timestamps = append(timestamps, time.Now())
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, pool.Wait())
	require.Len(t, timestamps, 3)

	// Allow a little scheduler slack below the nominal interval.
	min := time.Duration(rateLimitMs)*time.Millisecond - 10*time.Millisecond
	for i := 1; i < len(timestamps); i++ {
		gap := timestamps[i].Sub(timestamps[i-1])
		assert.GreaterOrEqual(t, gap, min, "gap between job %d and %d", i-1, i)
	}
}

func TestWorkerPoolReturnsFirstError(t *testing.T) {
	boom := errors.New("boom")
	pool := NewWorkerPool(context.Background(), 2, 0)

	pool.Submit(func(ctx context.Context) error { return boom })
	pool.Submit(func(ctx context.Context) error { return nil })

	assert.ErrorIs(t, pool.Wait(), boom)
}

func TestRetryConfigDo(t *testing.T) {
	r := &RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, Logger: NewNopLogger()}

	calls := 0
	err := r.Do(context.Background(), "flaky", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = r.Do(context.Background(), "broken", func(ctx context.Context) error {
		calls++
		return errors.New("permanent")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken failed after 3 attempts")
	assert.Equal(t, 3, calls)
}

func TestRetryConfigStopsOnCancel(t *testing.T) {
	r := &RetryConfig{MaxAttempts: 5, BaseDelay: time.Hour, Logger: NewNopLogger()}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := r.Do(ctx, "cancelled", func(ctx context.Context) error {
		calls++
		return errors.New("fail")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
