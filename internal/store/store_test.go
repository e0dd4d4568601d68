package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T, opts Options) *Store {
	t.Helper()
	opts.Logger = quietLogger()
	s, err := New(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func countingFetcher(calls *int32, value any) Fetcher {
	return func(context.Context) (any, error) {
		atomic.AddInt32(calls, 1)
		return value, nil
	}
}

func TestGetCachesUntilInvalidated(t *testing.T) {
	s := newTestStore(t, Options{TTL: time.Hour})
	var calls int32
	s.Register(KeyCredentials, countingFetcher(&calls, "creds"))

	ctx := context.Background()
	assert.Equal(t, "creds", s.Get(ctx, KeyCredentials).Data)
	assert.Equal(t, "creds", s.Get(ctx, KeyCredentials).Data)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))

	s.Invalidate(ctx, KeyCredentials)
	assert.Equal(t, 1, s.Revalidations(KeyCredentials))
	assert.Equal(t, 0, s.Revalidations(KeyIndexingStatus))

	s.Get(ctx, KeyCredentials)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestGetRefetchesAfterTTL(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := newTestStore(t, Options{TTL: time.Second, Now: func() time.Time { return now }})
	var calls int32
	s.Register(KeyCredentials, countingFetcher(&calls, 1))

	ctx := context.Background()
	s.Get(ctx, KeyCredentials)
	now = now.Add(500 * time.Millisecond)
	s.Get(ctx, KeyCredentials)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))

	now = now.Add(time.Second)
	s.Get(ctx, KeyCredentials)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestConcurrentGetsShareOneFetch(t *testing.T) {
	s := newTestStore(t, Options{TTL: time.Hour})
	release := make(chan struct{})
	var calls int32
	s.Register(KeyIndexingStatus, func(context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return "statuses", nil
	})

	var wg sync.WaitGroup
	results := make([]Result, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = s.Get(context.Background(), KeyIndexingStatus)
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
	for _, r := range results {
		assert.Equal(t, "statuses", r.Data)
	}
}

func TestGetReportsLoadingWhenContextEnds(t *testing.T) {
	s := newTestStore(t, Options{})
	release := make(chan struct{})
	defer close(release)
	s.Register(KeyIndexingStatus, func(context.Context) (any, error) {
		<-release
		return nil, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	res := s.Get(ctx, KeyIndexingStatus)
	assert.True(t, res.Loading)
	assert.Nil(t, res.Data)
	assert.True(t, s.Peek(KeyIndexingStatus).Loading)
}

func TestGetKeepsFetchErrors(t *testing.T) {
	s := newTestStore(t, Options{TTL: time.Hour})
	boom := errors.New("boom")
	s.Register(KeyCredentials, func(context.Context) (any, error) { return nil, boom })

	res := s.Get(context.Background(), KeyCredentials)
	assert.ErrorIs(t, res.Err, boom)
	assert.ErrorIs(t, s.Peek(KeyCredentials).Err, boom)

	res = s.Get(context.Background(), "unknown")
	assert.Error(t, res.Err)
}

func TestSubscribeReceivesEvents(t *testing.T) {
	s := newTestStore(t, Options{})
	s.Register(KeyCredentials, func(context.Context) (any, error) { return "x", nil })

	events, cancel := s.Subscribe(KeyCredentials)
	s.Invalidate(context.Background(), KeyCredentials)
	s.Get(context.Background(), KeyCredentials)

	assert.Equal(t, Event{Key: KeyCredentials, Kind: EventInvalidated}, <-events)
	assert.Equal(t, Event{Key: KeyCredentials, Kind: EventUpdated}, <-events)

	cancel()
	cancel()
	_, open := <-events
	assert.False(t, open)
}

func TestLocalBusPropagatesInvalidations(t *testing.T) {
	bus := NewLocalBus()
	a := newTestStore(t, Options{Bus: bus, TTL: time.Hour})
	b := newTestStore(t, Options{Bus: bus, TTL: time.Hour})

	var calls int32
	b.Register(KeyCredentials, countingFetcher(&calls, "v"))
	b.Get(context.Background(), KeyCredentials)

	a.Invalidate(context.Background(), KeyCredentials)

	assert.Equal(t, 1, a.Revalidations(KeyCredentials))
	assert.Equal(t, 1, b.Revalidations(KeyCredentials))
	b.Get(context.Background(), KeyCredentials)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))

	require.NoError(t, b.Close())
	a.Invalidate(context.Background(), KeyCredentials)
	assert.Equal(t, 1, b.Revalidations(KeyCredentials))
}

func TestRedisBus(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	bus, err := NewRedisBus(ctx, url, quietLogger())
	require.NoError(t, err)
	defer bus.Close()

	a := newTestStore(t, Options{Bus: bus})
	b := newTestStore(t, Options{Bus: bus})
	events, cancel := b.Subscribe(KeyIndexingStatus)
	defer cancel()

	a.Invalidate(ctx, KeyIndexingStatus)

	select {
	case ev := <-events:
		assert.Equal(t, EventInvalidated, ev.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("invalidation not received")
	}
	assert.Equal(t, 1, a.Revalidations(KeyIndexingStatus))
}
