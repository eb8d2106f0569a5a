package command

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"time"

	"github.com/lunamall/seckill/internal/adapters/redis"
	"github.com/lunamall/seckill/pkg"
	cn "github.com/lunamall/seckill/pkg/constant"
	"github.com/lunamall/seckill/pkg/mmodel"
	"github.com/lunamall/seckill/pkg/mopentelemetry"
)

// RollbackCommit reverses a committed reservation after a definitive
// downstream cancellation: stock and user quota are restored atomically and a
// compensating stock-changed event is emitted.
func (uc *UseCase) RollbackCommit(ctx context.Context, commitToken, reason string) (*mmodel.CommitRecord, error) {
	logger := pkg.NewLoggerFromContext(ctx)
	tracer := pkg.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "command.rollback_commit")
	defer span.End()

	raw, err := uc.RedisRepo.Get(ctx, cn.CommitKeyPrefix+commitToken)
	if err != nil {
		if errors.Is(err, redis.ErrKeyNotFound) {
			return nil, pkg.ValidateBusinessError(cn.ErrCommitNotFound, reflect.TypeOf(mmodel.CommitRecord{}).Name())
		}

		mopentelemetry.HandleSpanError(&span, "Failed to read commit record", err)

		return nil, err
	}

	var record mmodel.CommitRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		mopentelemetry.HandleSpanError(&span, "Failed to decode commit record", err)

		return nil, err
	}

	if record.Reversed {
		return nil, pkg.ValidateBusinessError(cn.ErrCommitAlreadyReversed, reflect.TypeOf(mmodel.CommitRecord{}).Name())
	}

	act, err := uc.Query.LoadActivity(ctx, record.ActivityID)
	if err != nil {
		mopentelemetry.HandleSpanError(&span, "Failed to load activity", err)

		return nil, err
	}

	if err := uc.RedisRepo.Rollback(ctx, record.ActivityID, record.UserID, record.Qty, act.TotalStock); err != nil {
		mopentelemetry.HandleSpanError(&span, "Failed to run rollback script", err)

		logger.Errorf("Error rolling back commit %s: %v", commitToken, err)

		return nil, err
	}

	now := time.Now()
	record.Reversed = true
	record.ReversedReason = reason
	record.ReversedAt = &now

	entry, err := pkg.StructToJSONString(&record)
	if err != nil {
		return nil, err
	}

	if err := uc.RedisRepo.Set(ctx, cn.CommitKeyPrefix+commitToken, entry, time.Until(act.EndTime)+uc.Config.StatusGrace); err != nil {
		logger.Warnf("Failed to persist reversed commit record %s: %v", commitToken, err)
	}

	stock, err := uc.RedisRepo.GetStock(ctx, record.ActivityID)

	currentStock := int64(-1)
	if err == nil {
		currentStock = stock.Available
	}

	if err := uc.EnqueueStockChanged(ctx, mmodel.StockSyncPayload{
		ActivityID:   record.ActivityID,
		StockChange:  record.Qty,
		CurrentStock: currentStock,
		Operation:    cn.StockOperationIncrease,
		Source:       "rollback",
		Ts:           now,
	}); err != nil {
		logger.Errorf("Failed to enqueue compensating stock event for %s: %v", commitToken, err)
	}

	logger.Infof("Commit %s rolled back: %s", commitToken, reason)

	return &record, nil
}
