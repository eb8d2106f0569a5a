package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lunamall/seckill/pkg/mmodel"
)

// ErrKeyNotFound reports a keystore read miss.
var ErrKeyNotFound = errors.New("key not found")

func errScriptNotRegistered(name string) error {
	return fmt.Errorf("script %q is not registered", name)
}

// Repository provides an interface for operations related to the keystore:
// the typed raw commands plus the atomic seckill primitives built on them.
//
//go:generate mockgen --destination=redis.mock.go --package=redis . Repository
type Repository interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
	IncrBy(ctx context.Context, key string, value int64) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	TTL(ctx context.Context, key string) (time.Duration, error)
	RPush(ctx context.Context, key, value string, ttl time.Duration) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	Publish(ctx context.Context, channel, message string) error

	Commit(ctx context.Context, activityID, userID string, qty, perUserLimit int64, quotaTTL time.Duration) (*mmodel.CommitResult, error)
	Rollback(ctx context.Context, activityID, userID string, qty, totalStock int64) error

	InitStock(ctx context.Context, activityID string, available int64, ttl time.Duration) error
	GetStock(ctx context.Context, activityID string) (*mmodel.StockRecord, error)
	SetStockChecked(ctx context.Context, activityID string, value, expectedVersion int64, ttl time.Duration) (bool, error)

	GetUserQuota(ctx context.Context, userID, activityID string) (int64, error)
	IncrementDailyAndGlobal(ctx context.Context, userID string, qty int64, globalTTL time.Duration) error
	GetDailyPurchased(ctx context.Context, userID string, day string) (int64, error)
	GetGlobalPurchased(ctx context.Context, userID string) (int64, error)

	AppendStatusHistory(ctx context.Context, activityID string, transition mmodel.StatusTransition, ttl time.Duration) error
}
