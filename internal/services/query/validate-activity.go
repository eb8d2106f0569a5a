package query

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/lunamall/seckill/internal/adapters/redis"
	"github.com/lunamall/seckill/pkg"
	cn "github.com/lunamall/seckill/pkg/constant"
	"github.com/lunamall/seckill/pkg/mcache"
	"github.com/lunamall/seckill/pkg/mmodel"
	"github.com/lunamall/seckill/pkg/mopentelemetry"
)

// ValidateActivity runs the cheap pre-commit checks: existence, status, time
// window and advisory stock. It is never the last word; the atomic commit
// script re-verifies everything.
func (uc *UseCase) ValidateActivity(ctx context.Context, activityID string, now time.Time) (*mmodel.ValidationOutcome, error) {
	logger := pkg.NewLoggerFromContext(ctx)
	tracer := pkg.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "query.validate_activity")
	defer span.End()

	act, err := uc.LoadActivity(ctx, activityID)
	if err != nil {
		var notFound pkg.EntityNotFoundError
		if errors.As(err, &notFound) {
			return &mmodel.ValidationOutcome{Valid: false, Reason: mmodel.ReasonActivityNotFound}, nil
		}

		mopentelemetry.HandleSpanError(&span, "Failed to load activity", err)

		logger.Errorf("Error loading activity %s: %v", activityID, err)

		return nil, err
	}

	switch act.Status {
	case mmodel.StatusEnded:
		return &mmodel.ValidationOutcome{Valid: false, Reason: mmodel.ReasonActivityEnded, Activity: act}, nil
	case mmodel.StatusCancelled:
		return &mmodel.ValidationOutcome{Valid: false, Reason: mmodel.ReasonActivityNotActive, Activity: act}, nil
	}

	if now.Before(act.StartTime.Add(-uc.TimeBuffer)) {
		return &mmodel.ValidationOutcome{Valid: false, Reason: mmodel.ReasonActivityNotStarted, Activity: act}, nil
	}

	if now.After(act.EndTime) {
		return &mmodel.ValidationOutcome{Valid: false, Reason: mmodel.ReasonActivityEnded, Activity: act}, nil
	}

	if act.TotalStock-act.SoldCount <= 0 {
		return &mmodel.ValidationOutcome{Valid: false, Reason: mmodel.ReasonOutOfStock, Activity: act}, nil
	}

	return &mmodel.ValidationOutcome{Valid: true, Activity: act}, nil
}

// LoadActivity reads the activity from the keystore cache, falling back to the
// source of truth and repopulating the cache (and derived keys) on a miss. A
// hit close to expiry schedules a refresh-ahead reload so traffic bursts keep
// reading warm data instead of stampeding the database.
func (uc *UseCase) LoadActivity(ctx context.Context, activityID string) (*mmodel.Activity, error) {
	logger := pkg.NewLoggerFromContext(ctx)

	raw, err := uc.RedisRepo.Get(ctx, cn.ActivityKeyPrefix+activityID)
	if err == nil {
		var entry mmodel.ActivityCacheEntry
		if unmarshalErr := json.Unmarshal([]byte(raw), &entry); unmarshalErr == nil {
			uc.Metrics.RecordCacheHit()

			uc.CacheUpdater.RefreshAhead(ctx, cn.ActivityKeyPrefix+activityID, uc.CacheTTL, uc.activityLoader(activityID))

			return &entry.Activity, nil
		}

		logger.Warnf("Malformed cached activity %s, falling back to database", activityID)
	} else if !errors.Is(err, redis.ErrKeyNotFound) {
		return nil, err
	}

	uc.Metrics.RecordCacheMiss()

	act, err := uc.ActivityRepo.Find(ctx, activityID)
	if err != nil {
		return nil, err
	}

	if err := uc.CacheActivity(ctx, act); err != nil {
		logger.Warnf("Failed to cache activity %s: %v", activityID, err)
	}

	return act, nil
}

// CacheActivity writes the activity record through the configured cache
// strategy and refreshes the derived keys.
func (uc *UseCase) CacheActivity(ctx context.Context, act *mmodel.Activity) error {
	entry, err := pkg.StructToJSONString(mmodel.NewActivityCacheEntry(act))
	if err != nil {
		return err
	}

	result := uc.CacheUpdater.Update(ctx, uc.CacheStrategy, mcache.Update{
		Key:   cn.ActivityKeyPrefix + act.ID,
		Value: entry,
		TTL:   uc.CacheTTL,
	})
	if !result.Success {
		uc.Metrics.RecordError()

		return errors.New(result.Error)
	}

	uc.Metrics.RecordCacheSet()

	return uc.CacheDerivedKeys(ctx, act)
}

// CacheDerivedKeys writes the status key and, when absent, seeds the stock
// counters from the source of truth. These keys are not cache copies of a
// database row: the status key drives the commit script and the stock counters
// are mutated exclusively by the atomic scripts, so they bypass the update
// strategist and live until activity end plus grace.
func (uc *UseCase) CacheDerivedKeys(ctx context.Context, act *mmodel.Activity) error {
	statusTTL := time.Until(act.EndTime) + uc.StatusGrace
	if statusTTL < uc.CacheTTL {
		statusTTL = uc.CacheTTL
	}

	if err := uc.RedisRepo.Set(ctx, cn.StatusKeyPrefix+act.ID, act.Status, statusTTL); err != nil {
		return err
	}

	if _, err := uc.RedisRepo.GetStock(ctx, act.ID); err != nil {
		if !errors.Is(err, redis.ErrKeyNotFound) {
			return err
		}

		available := act.TotalStock - act.SoldCount
		if available < 0 {
			available = 0
		}

		if err := uc.RedisRepo.InitStock(ctx, act.ID, available, statusTTL); err != nil {
			return err
		}
	}

	return nil
}

// activityLoader builds the refresh-ahead reload closure for one activity.
func (uc *UseCase) activityLoader(activityID string) func(ctx context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		act, err := uc.ActivityRepo.Find(ctx, activityID)
		if err != nil {
			return "", err
		}

		return pkg.StructToJSONString(mmodel.NewActivityCacheEntry(act))
	}
}
