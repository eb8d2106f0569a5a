package mcache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lunamall/seckill/pkg/mmodel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubStore struct {
	mu        sync.Mutex
	kv        map[string]string
	remaining time.Duration
	setErr    error
	sets      int
}

func newStubStore() *stubStore {
	return &stubStore{
		kv:        make(map[string]string),
		remaining: 5 * time.Minute,
	}
}

func (s *stubStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sets++

	if s.setErr != nil {
		return s.setErr
	}

	s.kv[key] = value

	return nil
}

func (s *stubStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.remaining, nil
}

func (s *stubStore) get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	val, ok := s.kv[key]

	return val, ok
}

func fastConfig() Config {
	return Config{MaxRetries: 2, RetryDelay: time.Millisecond, RefreshThreshold: 0.2}
}

func TestUpdateWriteThrough(t *testing.T) {
	store := newStubStore()
	u := NewUpdater(store, fastConfig())

	dbWrites := 0

	result := u.Update(context.Background(), mmodel.StrategyWriteThrough, Update{
		Key:   "activity:cache-1",
		Value: `{"id":"cache-1"}`,
		DBWrite: func(ctx context.Context) error {
			dbWrites++
			return nil
		},
	})

	assert.True(t, result.Success)
	assert.Equal(t, mmodel.StrategyWriteThrough, result.Strategy)
	assert.Equal(t, 1, dbWrites)

	cached, ok := store.get("activity:cache-1")
	require.True(t, ok)
	assert.Equal(t, `{"id":"cache-1"}`, cached)
}

func TestUpdateWriteThroughFailsWhenDBFails(t *testing.T) {
	store := newStubStore()
	u := NewUpdater(store, fastConfig())

	dbWrites := 0

	result := u.Update(context.Background(), mmodel.StrategyWriteThrough, Update{
		Key:   "activity:cache-2",
		Value: "v",
		DBWrite: func(ctx context.Context) error {
			dbWrites++
			return assert.AnError
		},
	})

	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Error)
	assert.Equal(t, 2, dbWrites, "database write retried up to MaxRetries")

	// Cache stays untouched when the source of truth write failed.
	_, ok := store.get("activity:cache-2")
	assert.False(t, ok)
}

func TestUpdateWriteThroughRetriesCacheWrite(t *testing.T) {
	store := newStubStore()
	store.setErr = errors.New("keystore down")

	u := NewUpdater(store, fastConfig())

	result := u.Update(context.Background(), mmodel.StrategyWriteThrough, Update{Key: "k", Value: "v"})

	assert.False(t, result.Success)
	assert.Equal(t, 2, store.sets)
}

func TestUpdateWriteBehindAnswersFromCache(t *testing.T) {
	store := newStubStore()
	u := NewUpdater(store, fastConfig())

	dbDone := make(chan struct{})

	result := u.Update(context.Background(), mmodel.StrategyWriteBehind, Update{
		Key:   "activity:wb-1",
		Value: "v",
		DBWrite: func(ctx context.Context) error {
			close(dbDone)
			return nil
		},
	})

	assert.True(t, result.Success)

	cached, ok := store.get("activity:wb-1")
	require.True(t, ok)
	assert.Equal(t, "v", cached)

	select {
	case <-dbDone:
	case <-time.After(time.Second):
		t.Fatal("background database write never ran")
	}
}

func TestUpdateWriteBehindFailureEnqueuesRedrive(t *testing.T) {
	store := newStubStore()
	u := NewUpdater(store, fastConfig())

	redriven := make(chan string, 1)

	u.OnWriteBehindFailure = func(ctx context.Context, key string, cause error) {
		redriven <- key
	}

	result := u.Update(context.Background(), mmodel.StrategyWriteBehind, Update{
		Key:   "activity:wb-2",
		Value: "v",
		DBWrite: func(ctx context.Context) error {
			return errors.New("database down")
		},
	})

	assert.True(t, result.Success, "write_behind answers from the cache")

	select {
	case key := <-redriven:
		assert.Equal(t, "activity:wb-2", key)
	case <-time.After(time.Second):
		t.Fatal("exhausted write-behind never reached the re-drive hook")
	}
}

func TestRefreshAheadSchedulesReloadNearExpiry(t *testing.T) {
	store := newStubStore()
	store.kv["k"] = "stale"
	store.remaining = 30 * time.Second // under 20% of 5 minutes

	u := NewUpdater(store, fastConfig())

	loaded := u.RefreshAhead(context.Background(), "k", 5*time.Minute, func(ctx context.Context) (string, error) {
		return "fresh", nil
	})

	assert.True(t, loaded)

	assert.Eventually(t, func() bool {
		val, _ := store.get("k")
		return val == "fresh"
	}, time.Second, 10*time.Millisecond)
}

func TestRefreshAheadSkipsFreshKey(t *testing.T) {
	store := newStubStore()
	store.remaining = 4 * time.Minute

	u := NewUpdater(store, fastConfig())

	loaded := u.RefreshAhead(context.Background(), "k", 5*time.Minute, func(ctx context.Context) (string, error) {
		t.Fatal("loader must not run for a fresh key")
		return "", nil
	})

	assert.False(t, loaded)
}

func TestRefreshAheadSingleFlight(t *testing.T) {
	store := newStubStore()
	store.remaining = 30 * time.Second

	u := NewUpdater(store, fastConfig())

	release := make(chan struct{})

	first := u.RefreshAhead(context.Background(), "k", 5*time.Minute, func(ctx context.Context) (string, error) {
		<-release
		return "fresh", nil
	})
	require.True(t, first)

	// While the first reload is in flight, further hits do not stack loaders.
	second := u.RefreshAhead(context.Background(), "k", 5*time.Minute, func(ctx context.Context) (string, error) {
		t.Error("second loader must not run")
		return "", nil
	})
	assert.False(t, second)

	close(release)

	assert.Eventually(t, func() bool {
		val, _ := store.get("k")
		return val == "fresh"
	}, time.Second, 10*time.Millisecond)
}
