package command

import (
	"context"
	"errors"
	"time"

	"github.com/lunamall/seckill/internal/adapters/redis"
	"github.com/lunamall/seckill/pkg"
	cn "github.com/lunamall/seckill/pkg/constant"
	"github.com/lunamall/seckill/pkg/mmodel"
	"github.com/lunamall/seckill/pkg/mopentelemetry"
)

// SyncBatch reconciles one batch of active activities between keystore and
// database. Individual failures are logged and skipped (fail-open); the batch
// never corrupts a record it could not resolve.
func (uc *UseCase) SyncBatch(ctx context.Context) ([]*mmodel.SyncRecord, error) {
	logger := pkg.NewLoggerFromContext(ctx)
	tracer := pkg.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "command.sync_batch")
	defer span.End()

	started := time.Now()

	activities, err := uc.ActivityRepo.ListActive(ctx, uc.Config.SyncBatchSize)
	if err != nil {
		mopentelemetry.HandleSpanError(&span, "Failed to list active activities", err)

		uc.Metrics.RecordSync("error", "", time.Since(started))

		return nil, err
	}

	records := make([]*mmodel.SyncRecord, 0, len(activities))

	for _, act := range activities {
		rec, err := uc.SyncOne(ctx, act)
		if err != nil {
			logger.Errorf("Error syncing activity %s: %v", act.ID, err)

			uc.Metrics.RecordSync("error", "", time.Since(started))

			continue
		}

		records = append(records, rec)
	}

	uc.Metrics.RecordSync("success", "", time.Since(started))

	return records, nil
}

// SyncOne reconciles a single activity using the configured conflict policy.
func (uc *UseCase) SyncOne(ctx context.Context, act *mmodel.Activity) (*mmodel.SyncRecord, error) {
	logger := pkg.NewLoggerFromContext(ctx)
	tracer := pkg.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "command.sync_one")
	defer span.End()

	ttl := time.Until(act.EndTime) + uc.Config.StatusGrace
	dbAvailable := act.TotalStock - act.SoldCount

	if dbAvailable < 0 {
		dbAvailable = 0
	}

	stock, err := uc.RedisRepo.GetStock(ctx, act.ID)
	if err != nil {
		if !errors.Is(err, redis.ErrKeyNotFound) {
			mopentelemetry.HandleSpanError(&span, "Failed to read keystore stock", err)

			return nil, err
		}

		// Keystore lost the record; reseed from the source of truth.
		if err := uc.RedisRepo.InitStock(ctx, act.ID, dbAvailable, ttl); err != nil {
			return nil, err
		}

		rec := uc.record(ctx, act.ID, -1, dbAvailable, mmodel.ConflictMissingCache)
		uc.Metrics.RecordSync("success", mmodel.ConflictMissingCache, 0)

		return rec, nil
	}

	if stock.Available == dbAvailable {
		uc.Metrics.SetActivityStock(act.ID, stock.Available, act.SoldCount)

		return uc.record(ctx, act.ID, stock.Available, stock.Available, mmodel.ConflictNone), nil
	}

	resolved := stock.Available

	switch uc.Config.SyncPolicy {
	case mmodel.SyncPolicyRedisPriority:
		resolved = stock.Available
	case mmodel.SyncPolicyDBPriority:
		resolved = dbAvailable
	default: // merge converges to never over-sell
		resolved = min64(stock.Available, dbAvailable)
	}

	conflict := mmodel.ConflictDrift

	if resolved != stock.Available {
		applied, err := uc.RedisRepo.SetStockChecked(ctx, act.ID, resolved, stock.Version, ttl)
		if err != nil {
			mopentelemetry.HandleSpanError(&span, "Failed to write keystore stock", err)

			return nil, err
		}

		if !applied {
			// A commit advanced the version while we were deciding: treat as a
			// lost update and leave the record for the next pass.
			logger.Warnf("Stock version moved during sync of %s, skipping write", act.ID)

			rec := uc.record(ctx, act.ID, stock.Available, stock.Available, mmodel.ConflictLostUpdate)
			uc.Metrics.RecordSync("conflict", mmodel.ConflictLostUpdate, 0)

			return rec, nil
		}
	}

	if resolved != dbAvailable {
		soldCount := act.TotalStock - resolved
		if soldCount < 0 {
			soldCount = 0
		}

		if err := uc.ActivityRepo.UpdateStock(ctx, act.ID, soldCount); err != nil {
			mopentelemetry.HandleSpanError(&span, "Failed to write database stock", err)

			return nil, err
		}
	}

	delta := resolved - stock.Available

	operation := cn.StockOperationReset
	if delta > 0 {
		operation = cn.StockOperationIncrease
	} else if delta < 0 {
		operation = cn.StockOperationDecrease
	}

	if delta != 0 {
		if err := uc.EnqueueStockChanged(ctx, mmodel.StockSyncPayload{
			ActivityID:   act.ID,
			StockChange:  delta,
			CurrentStock: resolved,
			Operation:    operation,
			Source:       "stock_sync",
			Ts:           time.Now(),
		}); err != nil {
			logger.Warnf("Failed to enqueue stock sync event for %s: %v", act.ID, err)
		}
	}

	uc.Metrics.RecordSync("conflict", conflict, 0)
	uc.Metrics.SetActivityStock(act.ID, resolved, act.TotalStock-resolved)

	return uc.record(ctx, act.ID, stock.Available, resolved, conflict), nil
}

// SyncOneByID resolves the activity first, serving the on-demand trigger.
func (uc *UseCase) SyncOneByID(ctx context.Context, activityID string) (*mmodel.SyncRecord, error) {
	act, err := uc.ActivityRepo.Find(ctx, activityID)
	if err != nil {
		return nil, err
	}

	return uc.SyncOne(ctx, act)
}

func (uc *UseCase) record(ctx context.Context, activityID string, oldStock, newStock int64, conflictType string) *mmodel.SyncRecord {
	rec := &mmodel.SyncRecord{
		ActivityID:   activityID,
		OldStock:     oldStock,
		NewStock:     newStock,
		ConflictType: conflictType,
		Policy:       uc.Config.SyncPolicy,
		Ts:           time.Now(),
	}

	if conflictType != mmodel.ConflictNone {
		if err := uc.ActivityRepo.InsertSyncRecord(ctx, rec); err != nil {
			pkg.NewLoggerFromContext(ctx).Warnf("Failed to persist sync record for %s: %v", activityID, err)
		}
	}

	return rec
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}

	return b
}
