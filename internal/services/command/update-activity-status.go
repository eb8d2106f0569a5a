package command

import (
	"context"
	"errors"
	"reflect"
	"time"

	"github.com/lunamall/seckill/pkg"
	cn "github.com/lunamall/seckill/pkg/constant"
	"github.com/lunamall/seckill/pkg/mcache"
	"github.com/lunamall/seckill/pkg/mmodel"
	"github.com/lunamall/seckill/pkg/mopentelemetry"
)

// UpdateActivityStatus applies a status transition: the state machine is
// enforced, the database and keystore are updated through the configured
// cache update strategy and the transition is appended to the activity status
// history log.
func (uc *UseCase) UpdateActivityStatus(ctx context.Context, activityID, newStatus, reason, operator string) (*mmodel.Activity, error) {
	logger := pkg.NewLoggerFromContext(ctx)
	tracer := pkg.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "command.update_activity_status")
	defer span.End()

	act, err := uc.ActivityRepo.Find(ctx, activityID)
	if err != nil {
		mopentelemetry.HandleSpanError(&span, "Failed to find activity", err)

		return nil, err
	}

	if !mmodel.CanTransition(act.Status, newStatus) {
		return nil, pkg.ValidateBusinessError(cn.ErrInvalidStatusTransition, reflect.TypeOf(mmodel.Activity{}).Name())
	}

	transition := mmodel.StatusTransition{
		From:     act.Status,
		To:       newStatus,
		Reason:   reason,
		Operator: operator,
		Ts:       time.Now(),
	}

	act.Status = newStatus
	act.UpdatedAt = time.Now()

	entry, err := pkg.StructToJSONString(mmodel.NewActivityCacheEntry(act))
	if err != nil {
		return nil, err
	}

	// Database transition and keystore record flow through the cache
	// strategist together, so the configured strategy governs the write and
	// the next admission observes the transition.
	result := uc.CacheUpdater.Update(ctx, uc.Query.CacheStrategy, mcache.Update{
		Key:   cn.ActivityKeyPrefix + activityID,
		Value: entry,
		TTL:   uc.Query.CacheTTL,
		DBWrite: func(ctx context.Context) error {
			return uc.ActivityRepo.UpdateStatus(ctx, activityID, newStatus)
		},
	})
	if !result.Success {
		err := errors.New(result.Error)

		mopentelemetry.HandleSpanError(&span, "Failed to update activity status", err)

		return nil, err
	}

	if err := uc.Query.CacheDerivedKeys(ctx, act); err != nil {
		logger.Errorf("Failed to refresh derived keys for %s after transition: %v", activityID, err)
	}

	historyTTL := time.Until(act.EndTime) + uc.Config.StatusGrace
	if err := uc.RedisRepo.AppendStatusHistory(ctx, activityID, transition, historyTTL); err != nil {
		logger.Warnf("Failed to append status history for %s: %v", activityID, err)
	}

	// Activation seeds the stock counters and announces the reset.
	if newStatus == mmodel.StatusActive && transition.From == mmodel.StatusScheduled {
		available := act.TotalStock - act.SoldCount
		if available < 0 {
			available = 0
		}

		if err := uc.RedisRepo.InitStock(ctx, activityID, available, historyTTL); err != nil {
			mopentelemetry.HandleSpanError(&span, "Failed to seed stock at activation", err)

			return nil, err
		}

		if err := uc.EnqueueStockChanged(ctx, mmodel.StockSyncPayload{
			ActivityID:   activityID,
			StockChange:  available,
			CurrentStock: available,
			Operation:    cn.StockOperationReset,
			Source:       "activation",
			Ts:           time.Now(),
		}); err != nil {
			logger.Warnf("Failed to enqueue activation stock event for %s: %v", activityID, err)
		}
	}

	logger.Infof("Activity %s transitioned %s -> %s by %s", activityID, transition.From, newStatus, operator)

	return act, nil
}
