// Package query implements the read side of the seckill engine: activity
// validation, stock lookups and user quota status.
package query

import (
	"time"

	"github.com/lunamall/seckill/internal/adapters/postgres/activity"
	"github.com/lunamall/seckill/internal/adapters/redis"
	"github.com/lunamall/seckill/internal/metrics"
	"github.com/lunamall/seckill/pkg/mcache"
)

// UseCase is a struct that aggregates various repositories for simplified access in query methods.
type UseCase struct {
	// RedisRepo provides an abstraction on top of the keystore.
	RedisRepo redis.Repository

	// ActivityRepo provides an abstraction on top of the activity source of truth.
	ActivityRepo activity.Repository

	// Metrics is the process-wide metrics aggregator.
	Metrics *metrics.Metrics

	// CacheUpdater applies activity-record cache writes under the configured
	// strategy and schedules refresh-ahead reloads.
	CacheUpdater *mcache.Updater

	// CacheStrategy selects the update strategy for the activity-record family.
	CacheStrategy string

	// CacheTTL bounds how long a validated activity stays cached.
	CacheTTL time.Duration

	// TimeBuffer absorbs clock skew around the activity start time.
	TimeBuffer time.Duration

	// StatusGrace extends keystore key lifetimes past the activity end.
	StatusGrace time.Duration
}
