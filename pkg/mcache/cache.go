package mcache

import (
	"context"
	"sync"
	"time"

	"github.com/lunamall/seckill/pkg"
	"github.com/lunamall/seckill/pkg/mmodel"
	"github.com/lunamall/seckill/pkg/mretry"
)

// Store is the slice of the keystore the cache updater needs.
type Store interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	TTL(ctx context.Context, key string) (time.Duration, error)
}

// Config holds the cache update tunables.
type Config struct {
	MaxRetries int
	RetryDelay time.Duration

	// RefreshThreshold is the fraction of the default TTL under which a
	// background refresh is scheduled.
	RefreshThreshold float64
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:       3,
		RetryDelay:       100 * time.Millisecond,
		RefreshThreshold: 0.2,
	}
}

// Update describes one keyed write flowing through a cache strategy.
type Update struct {
	Key   string
	Value string
	TTL   time.Duration

	// DBWrite applies the same change to the source of truth.
	DBWrite func(ctx context.Context) error
}

// Updater applies cache updates under a selectable strategy and schedules
// near-expiry refreshes. write_through fails the operation when either store
// fails; write_behind answers from the cache, drives the database in the
// background and hands failures to OnWriteBehindFailure so a durable re-drive
// signal can be enqueued.
type Updater struct {
	store  Store
	config Config

	// OnWriteBehindFailure receives the key whose background database write
	// exhausted its retries. Wired by bootstrap to an outbox emission.
	OnWriteBehindFailure func(ctx context.Context, key string, cause error)

	mu         sync.Mutex
	refreshing map[string]bool
}

// NewUpdater creates an Updater over the given store.
func NewUpdater(store Store, cfg Config) *Updater {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}

	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 100 * time.Millisecond
	}

	if cfg.RefreshThreshold <= 0 {
		cfg.RefreshThreshold = 0.2
	}

	return &Updater{
		store:      store,
		config:     cfg,
		refreshing: make(map[string]bool),
	}
}

func (u *Updater) retryConfig() mretry.Config {
	return mretry.Config{
		MaxAttempts:  u.config.MaxRetries,
		InitialDelay: u.config.RetryDelay,
		Multiplier:   1, // constant delay between update retries
	}
}

// Update applies one cache update under the selected strategy and reports the outcome.
func (u *Updater) Update(ctx context.Context, strategy string, upd Update) *mmodel.UpdateResult {
	logger := pkg.NewLoggerFromContext(ctx)

	started := time.Now()

	result := &mmodel.UpdateResult{
		Key:      upd.Key,
		Strategy: strategy,
		Ts:       started,
	}

	retryCfg := u.retryConfig()

	switch strategy {
	case mmodel.StrategyWriteBehind:
		if err := mretry.Retry(ctx, retryCfg, func() error {
			return u.store.Set(ctx, upd.Key, upd.Value, upd.TTL)
		}); err != nil {
			result.Error = err.Error()

			break
		}

		result.Success = true

		if upd.DBWrite != nil {
			bg := context.WithoutCancel(ctx)

			go func() {
				if err := mretry.Retry(bg, retryCfg, func() error { return upd.DBWrite(bg) }); err != nil {
					logger.Errorf("Write-behind database update for %s failed, enqueueing re-drive: %v", upd.Key, err)

					if u.OnWriteBehindFailure != nil {
						u.OnWriteBehindFailure(bg, upd.Key, err)
					}
				}
			}()
		}

	default: // write_through
		result.Strategy = mmodel.StrategyWriteThrough

		if upd.DBWrite != nil {
			if err := mretry.Retry(ctx, retryCfg, func() error { return upd.DBWrite(ctx) }); err != nil {
				result.Error = err.Error()

				break
			}
		}

		if err := mretry.Retry(ctx, retryCfg, func() error {
			return u.store.Set(ctx, upd.Key, upd.Value, upd.TTL)
		}); err != nil {
			result.Error = err.Error()

			break
		}

		result.Success = true
	}

	result.Duration = time.Since(started)

	return result
}

// RefreshAhead checks the remaining TTL of a key and schedules a background
// reload when it fell under RefreshThreshold × defaultTTL. Readers keep seeing
// the stale value until the refresh lands. At most one refresh per key is in
// flight at a time.
func (u *Updater) RefreshAhead(ctx context.Context, key string, defaultTTL time.Duration, load func(ctx context.Context) (string, error)) bool {
	logger := pkg.NewLoggerFromContext(ctx)

	remaining, err := u.store.TTL(ctx, key)
	if err != nil || remaining <= 0 {
		return false
	}

	threshold := time.Duration(float64(defaultTTL) * u.config.RefreshThreshold)
	if remaining > threshold {
		return false
	}

	u.mu.Lock()

	if u.refreshing[key] {
		u.mu.Unlock()

		return false
	}

	u.refreshing[key] = true
	u.mu.Unlock()

	bg := context.WithoutCancel(ctx)

	go func() {
		defer func() {
			u.mu.Lock()
			delete(u.refreshing, key)
			u.mu.Unlock()
		}()

		value, err := load(bg)
		if err != nil {
			logger.Warnf("Refresh-ahead load for %s failed: %v", key, err)

			return
		}

		if err := u.store.Set(bg, key, value, defaultTTL); err != nil {
			logger.Warnf("Refresh-ahead write for %s failed: %v", key, err)
		}
	}()

	return true
}
