package redis

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/lunamall/seckill/pkg"
	cn "github.com/lunamall/seckill/pkg/constant"
	"github.com/lunamall/seckill/pkg/mmodel"
	"github.com/lunamall/seckill/pkg/mopentelemetry"
	"github.com/lunamall/seckill/pkg/mredis"
	"github.com/redis/go-redis/v9"
)

// SeckillRedisRepository is a Redis implementation of the keystore Repository.
type SeckillRedisRepository struct {
	conn    *mredis.RedisConnection
	scripts *ScriptRegistry
}

// NewSeckillRedisRepository returns a new instance of SeckillRedisRepository using the given Redis connection.
func NewSeckillRedisRepository(rc *mredis.RedisConnection) *SeckillRedisRepository {
	r := &SeckillRedisRepository{
		conn:    rc,
		scripts: NewScriptRegistry(),
	}

	if _, err := r.conn.GetClient(context.Background()); err != nil {
		panic("Failed to connect on redis")
	}

	return r
}

func (rr *SeckillRedisRepository) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	tracer := pkg.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "redis.set")
	defer span.End()

	rds, err := rr.conn.GetClient(ctx)
	if err != nil {
		mopentelemetry.HandleSpanError(&span, "Failed to get redis", err)

		return err
	}

	if ttl < 0 {
		ttl = mredis.RedisTTL
	}

	if err := rds.Set(ctx, key, value, ttl).Err(); err != nil {
		mopentelemetry.HandleSpanError(&span, "Failed to set on redis", err)

		return err
	}

	return nil
}

func (rr *SeckillRedisRepository) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	tracer := pkg.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "redis.setnx")
	defer span.End()

	rds, err := rr.conn.GetClient(ctx)
	if err != nil {
		mopentelemetry.HandleSpanError(&span, "Failed to get redis", err)

		return false, err
	}

	ok, err := rds.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		mopentelemetry.HandleSpanError(&span, "Failed to setnx on redis", err)

		return false, err
	}

	return ok, nil
}

func (rr *SeckillRedisRepository) Get(ctx context.Context, key string) (string, error) {
	tracer := pkg.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "redis.get")
	defer span.End()

	rds, err := rr.conn.GetClient(ctx)
	if err != nil {
		mopentelemetry.HandleSpanError(&span, "Failed to get redis", err)

		return "", err
	}

	val, err := rds.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrKeyNotFound
		}

		mopentelemetry.HandleSpanError(&span, "Failed to get on redis", err)

		return "", err
	}

	return val, nil
}

func (rr *SeckillRedisRepository) Del(ctx context.Context, keys ...string) error {
	tracer := pkg.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "redis.del")
	defer span.End()

	rds, err := rr.conn.GetClient(ctx)
	if err != nil {
		mopentelemetry.HandleSpanError(&span, "Failed to get redis", err)

		return err
	}

	if err := rds.Del(ctx, keys...).Err(); err != nil {
		mopentelemetry.HandleSpanError(&span, "Failed to del on redis", err)

		return err
	}

	return nil
}

func (rr *SeckillRedisRepository) IncrBy(ctx context.Context, key string, value int64) (int64, error) {
	tracer := pkg.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "redis.incrby")
	defer span.End()

	rds, err := rr.conn.GetClient(ctx)
	if err != nil {
		mopentelemetry.HandleSpanError(&span, "Failed to get redis", err)

		return 0, err
	}

	newVal, err := rds.IncrBy(ctx, key, value).Result()
	if err != nil {
		mopentelemetry.HandleSpanError(&span, "Failed to incrby on redis", err)

		return 0, err
	}

	return newVal, nil
}

func (rr *SeckillRedisRepository) Expire(ctx context.Context, key string, ttl time.Duration) error {
	rds, err := rr.conn.GetClient(ctx)
	if err != nil {
		return err
	}

	return rds.Expire(ctx, key, ttl).Err()
}

func (rr *SeckillRedisRepository) TTL(ctx context.Context, key string) (time.Duration, error) {
	rds, err := rr.conn.GetClient(ctx)
	if err != nil {
		return 0, err
	}

	return rds.TTL(ctx, key).Result()
}

func (rr *SeckillRedisRepository) RPush(ctx context.Context, key, value string, ttl time.Duration) error {
	tracer := pkg.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "redis.rpush")
	defer span.End()

	rds, err := rr.conn.GetClient(ctx)
	if err != nil {
		mopentelemetry.HandleSpanError(&span, "Failed to get redis", err)

		return err
	}

	if err := rds.RPush(ctx, key, value).Err(); err != nil {
		mopentelemetry.HandleSpanError(&span, "Failed to rpush on redis", err)

		return err
	}

	if ttl > 0 {
		if err := rds.Expire(ctx, key, ttl).Err(); err != nil {
			return err
		}
	}

	return nil
}

func (rr *SeckillRedisRepository) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	rds, err := rr.conn.GetClient(ctx)
	if err != nil {
		return nil, err
	}

	return rds.LRange(ctx, key, start, stop).Result()
}

func (rr *SeckillRedisRepository) Publish(ctx context.Context, channel, message string) error {
	rds, err := rr.conn.GetClient(ctx)
	if err != nil {
		return err
	}

	return rds.Publish(ctx, channel, message).Err()
}

// Commit runs the atomic commit script: activity, status, time window, user
// quota and stock are re-verified and the decrement happens in the same unit
// of isolation. One retry is allowed on a connection error only, never after
// the script may have started executing.
func (rr *SeckillRedisRepository) Commit(ctx context.Context, activityID, userID string, qty, perUserLimit int64, quotaTTL time.Duration) (*mmodel.CommitResult, error) {
	logger := pkg.NewLoggerFromContext(ctx)
	tracer := pkg.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "redis.commit")
	defer span.End()

	rds, err := rr.conn.GetClient(ctx)
	if err != nil {
		mopentelemetry.HandleSpanError(&span, "Failed to get redis", err)

		if isConnectionError(err) {
			rds, err = rr.conn.GetClient(ctx)
		}

		if err != nil {
			return nil, err
		}
	}

	keys := []string{
		cn.ActivityKeyPrefix + activityID,
		cn.StatusKeyPrefix + activityID,
		cn.StockKeyPrefix + activityID,
		userLimitKey(userID, activityID),
		cn.StockVersionKeyPrefix + activityID,
	}

	args := []any{
		qty,
		time.Now().UnixMilli(),
		perUserLimit,
		int64(quotaTTL.Seconds()),
	}

	raw, err := rr.scripts.Run(ctx, rds, ScriptCommit, keys, args...)
	if err != nil {
		mopentelemetry.HandleSpanError(&span, "Failed to run commit script", err)

		logger.Errorf("Error running commit script: %v", err)

		return nil, err
	}

	result, err := parseCommitReply(raw)
	if err != nil {
		mopentelemetry.HandleSpanError(&span, "Failed to parse commit reply", err)

		return nil, err
	}

	return result, nil
}

// Rollback reverses one commit: stock back up bounded by the activity total,
// user quota back down bounded by zero.
func (rr *SeckillRedisRepository) Rollback(ctx context.Context, activityID, userID string, qty, totalStock int64) error {
	logger := pkg.NewLoggerFromContext(ctx)
	tracer := pkg.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "redis.rollback")
	defer span.End()

	rds, err := rr.conn.GetClient(ctx)
	if err != nil {
		mopentelemetry.HandleSpanError(&span, "Failed to get redis", err)

		return err
	}

	keys := []string{
		cn.StockKeyPrefix + activityID,
		userLimitKey(userID, activityID),
		cn.StockVersionKeyPrefix + activityID,
	}

	if _, err := rr.scripts.Run(ctx, rds, ScriptRollback, keys, qty, totalStock); err != nil {
		mopentelemetry.HandleSpanError(&span, "Failed to run rollback script", err)

		logger.Errorf("Error running rollback script: %v", err)

		return err
	}

	return nil
}

// InitStock seeds the stock and version counters at activity activation.
func (rr *SeckillRedisRepository) InitStock(ctx context.Context, activityID string, available int64, ttl time.Duration) error {
	rds, err := rr.conn.GetClient(ctx)
	if err != nil {
		return err
	}

	pipe := rds.TxPipeline()
	pipe.Set(ctx, cn.StockKeyPrefix+activityID, strconv.FormatInt(available, 10), ttl)
	pipe.Set(ctx, cn.StockVersionKeyPrefix+activityID, "0", ttl)

	_, err = pipe.Exec(ctx)

	return err
}

func (rr *SeckillRedisRepository) GetStock(ctx context.Context, activityID string) (*mmodel.StockRecord, error) {
	rds, err := rr.conn.GetClient(ctx)
	if err != nil {
		return nil, err
	}

	val, err := rds.Get(ctx, cn.StockKeyPrefix+activityID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrKeyNotFound
		}

		return nil, err
	}

	available, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed stock value %q: %w", val, err)
	}

	version := int64(0)

	if verVal, err := rds.Get(ctx, cn.StockVersionKeyPrefix+activityID).Result(); err == nil {
		version, _ = strconv.ParseInt(verVal, 10, 64)
	}

	return &mmodel.StockRecord{
		ActivityID: activityID,
		Available:  available,
		Version:    version,
		UpdatedAt:  time.Now(),
	}, nil
}

// SetStockChecked writes a reconciled stock value guarded by the version the
// caller observed. Returns false when a concurrent commit advanced the version.
func (rr *SeckillRedisRepository) SetStockChecked(ctx context.Context, activityID string, value, expectedVersion int64, ttl time.Duration) (bool, error) {
	rds, err := rr.conn.GetClient(ctx)
	if err != nil {
		return false, err
	}

	keys := []string{
		cn.StockKeyPrefix + activityID,
		cn.StockVersionKeyPrefix + activityID,
	}

	raw, err := rr.scripts.Run(ctx, rds, ScriptStockSet, keys, value, expectedVersion, int64(ttl.Seconds()))
	if err != nil {
		return false, err
	}

	applied, ok := raw.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected stock set reply %v", raw)
	}

	return applied == 1, nil
}

func (rr *SeckillRedisRepository) GetUserQuota(ctx context.Context, userID, activityID string) (int64, error) {
	return rr.counter(ctx, userLimitKey(userID, activityID))
}

// IncrementDailyAndGlobal bumps the per-day and lifetime counters after a
// successful commit. The daily key expires at the next local midnight.
func (rr *SeckillRedisRepository) IncrementDailyAndGlobal(ctx context.Context, userID string, qty int64, globalTTL time.Duration) error {
	rds, err := rr.conn.GetClient(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	dailyKey := cn.DailyLimitKeyPrefix + userID + ":" + pkg.DailyBucket(now)
	globalKey := cn.GlobalLimitKeyPrefix + userID

	pipe := rds.TxPipeline()
	pipe.IncrBy(ctx, dailyKey, qty)
	pipe.Expire(ctx, dailyKey, pkg.NextLocalMidnight(now))
	pipe.IncrBy(ctx, globalKey, qty)

	if globalTTL > 0 {
		pipe.Expire(ctx, globalKey, globalTTL)
	}

	_, err = pipe.Exec(ctx)

	return err
}

func (rr *SeckillRedisRepository) GetDailyPurchased(ctx context.Context, userID string, day string) (int64, error) {
	return rr.counter(ctx, cn.DailyLimitKeyPrefix+userID+":"+day)
}

func (rr *SeckillRedisRepository) GetGlobalPurchased(ctx context.Context, userID string) (int64, error) {
	return rr.counter(ctx, cn.GlobalLimitKeyPrefix+userID)
}

// AppendStatusHistory records one transition on the append-only status log.
func (rr *SeckillRedisRepository) AppendStatusHistory(ctx context.Context, activityID string, transition mmodel.StatusTransition, ttl time.Duration) error {
	entry, err := pkg.StructToJSONString(transition)
	if err != nil {
		return err
	}

	return rr.RPush(ctx, cn.StatusHistoryKeyPrefix+activityID, entry, ttl)
}

func (rr *SeckillRedisRepository) counter(ctx context.Context, key string) (int64, error) {
	rds, err := rr.conn.GetClient(ctx)
	if err != nil {
		return 0, err
	}

	val, err := rds.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}

		return 0, err
	}

	return strconv.ParseInt(val, 10, 64)
}

func userLimitKey(userID, activityID string) string {
	return cn.UserLimitKeyPrefix + userID + ":" + activityID
}

// parseCommitReply maps the script reply {code, remainingStock, userPurchased, remainingQuota}.
func parseCommitReply(raw any) (*mmodel.CommitResult, error) {
	reply, ok := raw.([]any)
	if !ok || len(reply) != 4 {
		return nil, fmt.Errorf("unexpected commit reply %v", raw)
	}

	code, ok := reply[0].(string)
	if !ok {
		return nil, fmt.Errorf("unexpected commit code %v", reply[0])
	}

	toInt := func(v any) int64 {
		switch n := v.(type) {
		case int64:
			return n
		case string:
			parsed, _ := strconv.ParseInt(n, 10, 64)
			return parsed
		default:
			return 0
		}
	}

	return &mmodel.CommitResult{
		Code:           mmodel.Reason(code),
		RemainingStock: toInt(reply[1]),
		UserPurchased:  toInt(reply[2]),
		RemainingQuota: toInt(reply[3]),
	}, nil
}

// isConnectionError reports whether the failure happened while establishing the
// connection, before any script could start executing.
func isConnectionError(err error) bool {
	var opErr *net.OpError

	return errors.As(err, &opErr)
}
