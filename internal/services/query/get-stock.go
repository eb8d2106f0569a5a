package query

import (
	"context"
	"errors"
	"time"

	"github.com/lunamall/seckill/internal/adapters/redis"
	"github.com/lunamall/seckill/pkg"
	"github.com/lunamall/seckill/pkg/mmodel"
	"github.com/lunamall/seckill/pkg/mopentelemetry"
)

// GetStock returns the read model of one activity stock. The keystore value is
// authoritative during active windows; the source of truth fills gaps.
func (uc *UseCase) GetStock(ctx context.Context, activityID string) (*mmodel.StockInfo, error) {
	tracer := pkg.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "query.get_stock")
	defer span.End()

	act, err := uc.LoadActivity(ctx, activityID)
	if err != nil {
		mopentelemetry.HandleSpanError(&span, "Failed to load activity", err)

		return nil, err
	}

	info := &mmodel.StockInfo{
		ActivityID:   activityID,
		Status:       act.Status,
		TotalStock:   act.TotalStock,
		SoldCount:    act.SoldCount,
		CurrentStock: act.TotalStock - act.SoldCount,
		LastUpdated:  act.UpdatedAt,
	}

	record, err := uc.RedisRepo.GetStock(ctx, activityID)
	if err != nil {
		if errors.Is(err, redis.ErrKeyNotFound) {
			return info, nil
		}

		mopentelemetry.HandleSpanError(&span, "Failed to read keystore stock", err)

		return nil, err
	}

	info.CurrentStock = record.Available
	info.SoldCount = act.TotalStock - record.Available
	info.LastUpdated = record.UpdatedAt

	uc.Metrics.SetActivityStock(activityID, info.CurrentStock, info.SoldCount)

	return info, nil
}

// GetBatchStock resolves the stock read model for several activities at once.
// Missing activities are skipped rather than failing the whole batch.
func (uc *UseCase) GetBatchStock(ctx context.Context, activityIDs []string) (map[string]*mmodel.StockInfo, error) {
	logger := pkg.NewLoggerFromContext(ctx)
	tracer := pkg.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "query.get_batch_stock")
	defer span.End()

	result := make(map[string]*mmodel.StockInfo, len(activityIDs))

	for _, id := range activityIDs {
		info, err := uc.GetStock(ctx, id)
		if err != nil {
			var notFound pkg.EntityNotFoundError
			if errors.As(err, &notFound) {
				logger.Warnf("Activity %s not found for batch stock", id)
				continue
			}

			mopentelemetry.HandleSpanError(&span, "Failed to get stock", err)

			return nil, err
		}

		result[id] = info
	}

	return result, nil
}

// GetUserStatus aggregates the per-activity, per-day and lifetime quota
// counters of one user.
func (uc *UseCase) GetUserStatus(ctx context.Context, userID, activityID string) (*mmodel.UserStatus, error) {
	tracer := pkg.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "query.get_user_status")
	defer span.End()

	act, err := uc.LoadActivity(ctx, activityID)
	if err != nil {
		mopentelemetry.HandleSpanError(&span, "Failed to load activity", err)

		return nil, err
	}

	purchased, err := uc.RedisRepo.GetUserQuota(ctx, userID, activityID)
	if err != nil {
		mopentelemetry.HandleSpanError(&span, "Failed to read user quota", err)

		return nil, err
	}

	daily, err := uc.RedisRepo.GetDailyPurchased(ctx, userID, pkg.DailyBucket(time.Now()))
	if err != nil {
		mopentelemetry.HandleSpanError(&span, "Failed to read daily counter", err)

		return nil, err
	}

	global, err := uc.RedisRepo.GetGlobalPurchased(ctx, userID)
	if err != nil {
		mopentelemetry.HandleSpanError(&span, "Failed to read lifetime counter", err)

		return nil, err
	}

	remaining := act.PerUserLimit - purchased
	if remaining < 0 {
		remaining = 0
	}

	return &mmodel.UserStatus{
		UserID:          userID,
		ActivityID:      activityID,
		Purchased:       purchased,
		RemainingQuota:  remaining,
		DailyPurchased:  daily,
		GlobalPurchased: global,
	}, nil
}
