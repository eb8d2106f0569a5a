// Package command implements the write side of the seckill engine: the
// admission facade, rollback, stock reconciliation, cache maintenance and the
// reliable outbox dispatcher.
package command

import (
	"sync"
	"time"

	"github.com/lunamall/seckill/internal/adapters/postgres/activity"
	"github.com/lunamall/seckill/internal/adapters/rabbitmq"
	"github.com/lunamall/seckill/internal/adapters/redis"
	"github.com/lunamall/seckill/internal/metrics"
	"github.com/lunamall/seckill/internal/services/query"
	"github.com/lunamall/seckill/pkg/mcache"
	"github.com/lunamall/seckill/pkg/mcircuitbreaker"
	"github.com/lunamall/seckill/pkg/mmodel"
	"github.com/lunamall/seckill/pkg/mratelimit"
)

// Config carries the write-side tunables, populated from the environment by bootstrap.
type Config struct {
	AdmitDeadline time.Duration
	DedupTTL      time.Duration

	// StatusGrace extends quota and stock key lifetimes past the activity end.
	StatusGrace    time.Duration
	GlobalQuotaTTL time.Duration

	MessageTTL  time.Duration
	RetryBase   time.Duration
	Backoff     float64
	RetryJitter float64
	MaxRetries  int

	SyncPolicy    string
	SyncBatchSize int

	RepairEnabled    bool
	MaxRepairRetries int
	AlertThreshold   float64

	BackpressureThreshold int64
}

// DefaultConfig returns the engine defaults referenced throughout the specification.
func DefaultConfig() Config {
	return Config{
		AdmitDeadline:         500 * time.Millisecond,
		DedupTTL:              5 * time.Minute,
		StatusGrace:           time.Hour,
		GlobalQuotaTTL:        0,
		MessageTTL:            7 * 24 * time.Hour,
		RetryBase:             time.Second,
		Backoff:               2,
		RetryJitter:           0.2,
		MaxRetries:            3,
		SyncPolicy:            mmodel.SyncPolicyMerge,
		SyncBatchSize:         50,
		RepairEnabled:         true,
		MaxRepairRetries:      3,
		AlertThreshold:        0.95,
		BackpressureThreshold: 1000,
	}
}

// UseCase is a struct that aggregates various repositories for simplified access in command methods.
type UseCase struct {
	// RedisRepo provides an abstraction on top of the keystore.
	RedisRepo redis.Repository

	// OutboxRepo provides an abstraction on top of the durable message log.
	OutboxRepo redis.OutboxRepository

	// ActivityRepo provides an abstraction on top of the activity source of truth.
	ActivityRepo activity.Repository

	// ProducerRepo publishes outbound events to the broker.
	ProducerRepo rabbitmq.ProducerRepository

	// Query is the read side, reused for validation and cache loading.
	Query *query.UseCase

	// CacheUpdater applies cache writes under the configured strategy.
	CacheUpdater *mcache.Updater

	// Limiter is the multi-level admission rate limiter.
	Limiter *mratelimit.MultiLevelLimiter

	// Breaker wraps the broker call.
	Breaker *mcircuitbreaker.CircuitBreaker

	// Classifier decides whether a dispatch error is transient or permanent.
	Classifier ErrorClassifier

	// Metrics is the process-wide metrics aggregator.
	Metrics *metrics.Metrics

	// Config carries the write-side tunables.
	Config Config

	// repairAttempts tracks consecutive repair tries per key, bounded by
	// Config.MaxRepairRetries.
	repairAttempts sync.Map
}

// repairAllowed consumes one repair attempt for the key and reports whether
// the budget still permits repairing it.
func (uc *UseCase) repairAllowed(key string) bool {
	attempts := 0
	if val, ok := uc.repairAttempts.Load(key); ok {
		attempts = val.(int)
	}

	if attempts >= uc.Config.MaxRepairRetries {
		return false
	}

	uc.repairAttempts.Store(key, attempts+1)

	return true
}

// repairSucceeded resets the repair budget for the key.
func (uc *UseCase) repairSucceeded(key string) {
	uc.repairAttempts.Delete(key)
}

func (uc *UseCase) classifier() ErrorClassifier {
	if uc.Classifier != nil {
		return uc.Classifier
	}

	return DefaultClassifier{}
}
