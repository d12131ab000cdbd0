package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pagewatch/internal/tracker"
)

func TestLimiter_Wait(t *testing.T) {
	t.Parallel()

	// 10 RPS with burst 1 hands out one token every 100ms.
	l := New(Config{DefaultRPS: 10, DefaultBurst: 1})
	ctx := context.Background()

	if err := l.Wait(ctx, "https://test.com"); err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	if err := l.Wait(ctx, "https://test.com/other"); err != nil {
		t.Fatal(err)
	}
	if dur := time.Since(start); dur < 80*time.Millisecond {
		t.Errorf("expected wait ~100ms, got %v", dur)
	}
}

func TestLimiter_DifferentDomains(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 1, DefaultBurst: 1})
	ctx := context.Background()

	if err := l.Wait(ctx, "https://a.com/1"); err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	if err := l.Wait(ctx, "https://b.com/1"); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) > 10*time.Millisecond {
		t.Errorf("domain B blocked unexpectedly")
	}
}

func TestLimiter_WaitHonorsCancellation(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 0.01, DefaultBurst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://slow.test"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "https://slow.test"))
}

func TestLimiter_DisabledWhenRateUnset(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	start := time.Now()
	for range 50 {
		require.NoError(t, l.Wait(context.Background(), "https://fast.test"))
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

type stubFetcher struct {
	result tracker.FetchResult
	err    error
	calls  int
}

func (s *stubFetcher) Fetch(context.Context, string) (tracker.FetchResult, error) {
	s.calls++
	return s.result, s.err
}

func TestFetcherDelegates(t *testing.T) {
	t.Parallel()

	next := &stubFetcher{result: tracker.FetchResult{Success: true, Content: "hello"}}
	f := NewFetcher(next, New(Config{}))
	result, err := f.Fetch(context.Background(), "https://a.test")
	require.NoError(t, err)
	assert.Equal(t, "hello", result.Content)
	assert.Equal(t, 1, next.calls)

	next.err = errors.New("boom")
	_, err = NewFetcher(next, nil).Fetch(context.Background(), "https://a.test")
	require.Error(t, err)
}

func TestFetcherSkipsFetchWhenWaitCancelled(t *testing.T) {
	t.Parallel()

	next := &stubFetcher{}
	l := New(Config{DefaultRPS: 0.01, DefaultBurst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://a.test"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewFetcher(next, l).Fetch(ctx, "https://a.test")
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, next.calls)
}
