package redis

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/lunamall/seckill/pkg"
	cn "github.com/lunamall/seckill/pkg/constant"
	"github.com/lunamall/seckill/pkg/mmodel"
	"github.com/lunamall/seckill/pkg/mopentelemetry"
	"github.com/lunamall/seckill/pkg/mredis"
	"github.com/redis/go-redis/v9"
)

// OutboxRepository provides an interface for the durable message log backing
// the reliable outbox: messages keyed by id, a retry-due sorted set and a dead
// letter list.
//
//go:generate mockgen --destination=outbox.mock.go --package=redis . OutboxRepository
type OutboxRepository interface {
	Save(ctx context.Context, msg *mmodel.ReliableMessage, ttl time.Duration) error
	Find(ctx context.Context, id string) (*mmodel.ReliableMessage, error)
	Update(ctx context.Context, msg *mmodel.ReliableMessage) error
	ClaimDue(ctx context.Context, now time.Time, batch int64) ([]*mmodel.ReliableMessage, error)
	Reschedule(ctx context.Context, msg *mmodel.ReliableMessage, nextAttemptAt time.Time) error
	Ack(ctx context.Context, id string) error
	MarkDead(ctx context.Context, msg *mmodel.ReliableMessage) error
	Outstanding(ctx context.Context) (int64, error)
	DeadCount(ctx context.Context) (int64, error)
	ResetInFlight(ctx context.Context, olderThan time.Duration) (int, error)
}

// OutboxRedisRepository is a Redis implementation of the OutboxRepository.
type OutboxRedisRepository struct {
	conn    *mredis.RedisConnection
	scripts *ScriptRegistry
}

// NewOutboxRedisRepository returns a new instance of OutboxRedisRepository using the given Redis connection.
func NewOutboxRedisRepository(rc *mredis.RedisConnection) *OutboxRedisRepository {
	r := &OutboxRedisRepository{
		conn:    rc,
		scripts: NewScriptRegistry(),
	}

	if _, err := r.conn.GetClient(context.Background()); err != nil {
		panic("Failed to connect on redis")
	}

	return r
}

func outboxKey(id string) string {
	return cn.OutboxKeyPrefix + id
}

// Save persists a new message and indexes it on the retry-due set. Saving an
// id that already exists overwrites the record, which keeps the operation
// idempotent for commit-token keyed order messages.
func (or *OutboxRedisRepository) Save(ctx context.Context, msg *mmodel.ReliableMessage, ttl time.Duration) error {
	tracer := pkg.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "redis.outbox.save")
	defer span.End()

	rds, err := or.conn.GetClient(ctx)
	if err != nil {
		mopentelemetry.HandleSpanError(&span, "Failed to get redis", err)

		return err
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	pipe := rds.TxPipeline()
	pipe.Set(ctx, outboxKey(msg.ID), body, ttl)
	pipe.ZAdd(ctx, cn.OutboxDueKey, redis.Z{
		Score:  float64(msg.NextAttemptAt.UnixMilli()),
		Member: msg.ID,
	})

	if _, err := pipe.Exec(ctx); err != nil {
		mopentelemetry.HandleSpanError(&span, "Failed to save outbox message", err)

		return err
	}

	return nil
}

func (or *OutboxRedisRepository) Find(ctx context.Context, id string) (*mmodel.ReliableMessage, error) {
	rds, err := or.conn.GetClient(ctx)
	if err != nil {
		return nil, err
	}

	raw, err := rds.Get(ctx, outboxKey(id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrKeyNotFound
		}

		return nil, err
	}

	var msg mmodel.ReliableMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return nil, err
	}

	return &msg, nil
}

// Update rewrites the message record preserving its TTL.
func (or *OutboxRedisRepository) Update(ctx context.Context, msg *mmodel.ReliableMessage) error {
	rds, err := or.conn.GetClient(ctx)
	if err != nil {
		return err
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	return rds.SetArgs(ctx, outboxKey(msg.ID), body, redis.SetArgs{KeepTTL: true}).Err()
}

// ClaimDue atomically leases up to batch due messages: the claim script removes
// the ids from the due set so concurrent workers never dispatch the same
// message, then each record is transitioned to in_flight.
func (or *OutboxRedisRepository) ClaimDue(ctx context.Context, now time.Time, batch int64) ([]*mmodel.ReliableMessage, error) {
	logger := pkg.NewLoggerFromContext(ctx)
	tracer := pkg.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "redis.outbox.claim_due")
	defer span.End()

	rds, err := or.conn.GetClient(ctx)
	if err != nil {
		mopentelemetry.HandleSpanError(&span, "Failed to get redis", err)

		return nil, err
	}

	raw, err := or.scripts.Run(ctx, rds, ScriptOutboxClaim, []string{cn.OutboxDueKey}, now.UnixMilli(), batch)
	if err != nil {
		mopentelemetry.HandleSpanError(&span, "Failed to run claim script", err)

		return nil, err
	}

	ids, ok := raw.([]any)
	if !ok {
		return nil, errors.New("unexpected claim reply")
	}

	claimed := make([]*mmodel.ReliableMessage, 0, len(ids))

	for _, rawID := range ids {
		id, ok := rawID.(string)
		if !ok {
			continue
		}

		msg, err := or.Find(ctx, id)
		if err != nil {
			if errors.Is(err, ErrKeyNotFound) {
				// Record expired past its TTL while still indexed. Drop the lease.
				logger.Warnf("Outbox message %s expired before dispatch", id)
				continue
			}

			return claimed, err
		}

		msg.Status = mmodel.MessageInFlight
		msg.UpdatedAt = now

		if err := or.Update(ctx, msg); err != nil {
			return claimed, err
		}

		if err := rds.ZAdd(ctx, cn.OutboxInFlightKey, redis.Z{
			Score:  float64(now.UnixMilli()),
			Member: id,
		}).Err(); err != nil {
			return claimed, err
		}

		claimed = append(claimed, msg)
	}

	return claimed, nil
}

// Reschedule moves an in-flight message back to retry_pending with a new due time.
func (or *OutboxRedisRepository) Reschedule(ctx context.Context, msg *mmodel.ReliableMessage, nextAttemptAt time.Time) error {
	rds, err := or.conn.GetClient(ctx)
	if err != nil {
		return err
	}

	msg.Status = mmodel.MessageRetryPending
	msg.NextAttemptAt = nextAttemptAt
	msg.UpdatedAt = time.Now()

	if err := or.Update(ctx, msg); err != nil {
		return err
	}

	pipe := rds.TxPipeline()
	pipe.ZRem(ctx, cn.OutboxInFlightKey, msg.ID)
	pipe.ZAdd(ctx, cn.OutboxDueKey, redis.Z{
		Score:  float64(nextAttemptAt.UnixMilli()),
		Member: msg.ID,
	})

	_, err = pipe.Exec(ctx)

	return err
}

// Ack removes an acknowledged message. Duplicate acks are no-ops.
func (or *OutboxRedisRepository) Ack(ctx context.Context, id string) error {
	rds, err := or.conn.GetClient(ctx)
	if err != nil {
		return err
	}

	pipe := rds.TxPipeline()
	pipe.Del(ctx, outboxKey(id))
	pipe.ZRem(ctx, cn.OutboxInFlightKey, id)
	pipe.ZRem(ctx, cn.OutboxDueKey, id)

	_, err = pipe.Exec(ctx)

	return err
}

// MarkDead parks a message on the dead letter list. A dead message cannot revert.
func (or *OutboxRedisRepository) MarkDead(ctx context.Context, msg *mmodel.ReliableMessage) error {
	rds, err := or.conn.GetClient(ctx)
	if err != nil {
		return err
	}

	msg.Status = mmodel.MessageDead
	msg.UpdatedAt = time.Now()

	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	pipe := rds.TxPipeline()
	pipe.LPush(ctx, cn.OutboxDeadKey, body)
	pipe.ZRem(ctx, cn.OutboxInFlightKey, msg.ID)
	pipe.ZRem(ctx, cn.OutboxDueKey, msg.ID)
	pipe.SetArgs(ctx, outboxKey(msg.ID), body, redis.SetArgs{KeepTTL: true})

	_, err = pipe.Exec(ctx)

	return err
}

// Outstanding counts messages waiting for dispatch or in flight.
func (or *OutboxRedisRepository) Outstanding(ctx context.Context) (int64, error) {
	rds, err := or.conn.GetClient(ctx)
	if err != nil {
		return 0, err
	}

	due, err := rds.ZCard(ctx, cn.OutboxDueKey).Result()
	if err != nil {
		return 0, err
	}

	inFlight, err := rds.ZCard(ctx, cn.OutboxInFlightKey).Result()
	if err != nil {
		return 0, err
	}

	return due + inFlight, nil
}

func (or *OutboxRedisRepository) DeadCount(ctx context.Context) (int64, error) {
	rds, err := or.conn.GetClient(ctx)
	if err != nil {
		return 0, err
	}

	return rds.LLen(ctx, cn.OutboxDeadKey).Result()
}

// ResetInFlight requeues messages stuck in in_flight longer than olderThan.
// Used on startup to recover from an emitter crash between claim and ack.
func (or *OutboxRedisRepository) ResetInFlight(ctx context.Context, olderThan time.Duration) (int, error) {
	logger := pkg.NewLoggerFromContext(ctx)

	rds, err := or.conn.GetClient(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-olderThan).UnixMilli()

	ids, err := rds.ZRangeByScore(ctx, cn.OutboxInFlightKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: formatScore(cutoff),
	}).Result()
	if err != nil {
		return 0, err
	}

	reset := 0

	for _, id := range ids {
		msg, err := or.Find(ctx, id)
		if err != nil {
			if errors.Is(err, ErrKeyNotFound) {
				_ = rds.ZRem(ctx, cn.OutboxInFlightKey, id).Err()
				continue
			}

			return reset, err
		}

		if err := or.Reschedule(ctx, msg, time.Now()); err != nil {
			return reset, err
		}

		reset++
	}

	if reset > 0 {
		logger.Infof("Reset %d in-flight outbox message(s) back to retry_pending", reset)
	}

	return reset, nil
}

func formatScore(ms int64) string {
	return strconv.FormatInt(ms, 10)
}
