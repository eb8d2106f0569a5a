package command

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/lunamall/seckill/internal/adapters/redis"
	"github.com/lunamall/seckill/pkg"
	cn "github.com/lunamall/seckill/pkg/constant"
	"github.com/lunamall/seckill/pkg/mmodel"
	"github.com/lunamall/seckill/pkg/mopentelemetry"
	"github.com/lunamall/seckill/pkg/mratelimit"
)

// AdmitInput is one buy request entering the admission facade.
type AdmitInput struct {
	ActivityID  string `json:"activityId"`
	UserID      string `json:"userId"`
	ClientIP    string `json:"clientIp"`
	Qty         int64  `json:"qty"`
	ClientNonce string `json:"clientNonce"`
}

// Admit is the single entry point of the engine: rate limit, cheap validation,
// atomic commit, durable outbox emission and metrics, in that order. Every
// outcome is a populated AdmitResult; infrastructure failures collapse into
// the internal_error reason.
func (uc *UseCase) Admit(ctx context.Context, input AdmitInput) (*mmodel.AdmitResult, error) {
	logger := pkg.NewLoggerFromContext(ctx)
	tracer := pkg.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "command.admit")
	defer span.End()

	started := time.Now()

	finish := func(result *mmodel.AdmitResult) *mmodel.AdmitResult {
		uc.Metrics.RecordAdmission(string(result.Reason), time.Since(started))
		uc.storeDedup(ctx, input, result)

		return result
	}

	if input.ActivityID == "" || input.UserID == "" || input.Qty <= 0 {
		return finish(&mmodel.AdmitResult{Allowed: false, Reason: mmodel.ReasonInvalidParams}), nil
	}

	if prior := uc.findDedup(ctx, input); prior != nil {
		logger.Infof("Duplicate admission for nonce %s, returning prior result", input.ClientNonce)

		uc.Metrics.RecordAdmission(string(mmodel.ReasonDuplicate), time.Since(started))

		return prior, nil
	}

	ctx, cancel := context.WithTimeout(ctx, uc.Config.AdmitDeadline)
	defer cancel()

	decision := uc.Limiter.Allow(input.ActivityID, input.ClientIP, input.UserID, 1)
	if !decision.Allowed {
		return finish(&mmodel.AdmitResult{Allowed: false, Reason: rateLimitReason(decision.Level)}), nil
	}

	outcome, err := uc.Query.ValidateActivity(ctx, input.ActivityID, time.Now())
	if err != nil {
		mopentelemetry.HandleSpanError(&span, "Failed to validate activity", err)

		logger.Errorf("Error validating activity %s: %v", input.ActivityID, err)

		uc.Metrics.RecordError()

		return finish(&mmodel.AdmitResult{Allowed: false, Reason: mmodel.ReasonInternalError}), nil
	}

	if !outcome.Valid {
		reason := outcome.Reason
		if reason == mmodel.ReasonOutOfStock {
			reason = mmodel.ReasonInsufficientStock
		}

		return finish(&mmodel.AdmitResult{Allowed: false, Reason: reason}), nil
	}

	act := outcome.Activity

	quotaTTL := time.Until(act.EndTime) + uc.Config.StatusGrace

	commit, err := uc.RedisRepo.Commit(ctx, input.ActivityID, input.UserID, input.Qty, act.PerUserLimit, quotaTTL)
	if err != nil {
		mopentelemetry.HandleSpanError(&span, "Failed to run atomic commit", err)

		logger.Errorf("Error on atomic commit for activity %s: %v", input.ActivityID, err)

		uc.Metrics.RecordError()

		return finish(&mmodel.AdmitResult{Allowed: false, Reason: mmodel.ReasonInternalError}), nil
	}

	if commit.Code != mmodel.ReasonOK {
		return finish(&mmodel.AdmitResult{
			Allowed:            false,
			Reason:             commit.Code,
			RemainingStock:     commit.RemainingStock,
			RemainingUserQuota: commit.RemainingQuota,
		}), nil
	}

	// The commit succeeded; from here on the outbox write must be attempted
	// even when the admission deadline has lapsed, and a failed write must be
	// compensated by a rollback.
	persistCtx := context.WithoutCancel(ctx)

	record := &mmodel.CommitRecord{
		CommitToken:   pkg.GenerateUUIDv7().String(),
		ActivityID:    input.ActivityID,
		UserID:        input.UserID,
		Qty:           input.Qty,
		PriceSnapshot: act.Price,
		Ts:            time.Now(),
	}

	if err := uc.persistCommit(persistCtx, record, act.TotalStock, quotaTTL); err != nil {
		mopentelemetry.HandleSpanError(&span, "Failed to persist commit, rolling back", err)

		logger.Errorf("Error persisting commit %s, rolling back: %v", record.CommitToken, err)

		if rbErr := uc.RedisRepo.Rollback(persistCtx, input.ActivityID, input.UserID, input.Qty, act.TotalStock); rbErr != nil {
			logger.Errorf("Rollback after failed persist also failed for %s: %v", record.CommitToken, rbErr)
		}

		uc.Metrics.RecordError()

		return finish(&mmodel.AdmitResult{Allowed: false, Reason: mmodel.ReasonInternalError}), nil
	}

	if err := uc.RedisRepo.IncrementDailyAndGlobal(persistCtx, input.UserID, input.Qty, uc.Config.GlobalQuotaTTL); err != nil {
		logger.Warnf("Failed to bump daily/lifetime counters for %s: %v", input.UserID, err)
	}

	uc.Metrics.SetActivityStock(input.ActivityID, commit.RemainingStock, act.TotalStock-commit.RemainingStock)

	return finish(&mmodel.AdmitResult{
		Allowed:            true,
		Reason:             mmodel.ReasonOK,
		CommitToken:        record.CommitToken,
		RemainingStock:     commit.RemainingStock,
		RemainingUserQuota: commit.RemainingQuota,
	}), nil
}

// persistCommit writes the commit record and the order-committed outbox
// message. The commit token is the outbox id, so a retried persist stays idempotent.
func (uc *UseCase) persistCommit(ctx context.Context, record *mmodel.CommitRecord, totalStock int64, ttl time.Duration) error {
	entry, err := pkg.StructToJSONString(record)
	if err != nil {
		return err
	}

	if err := uc.RedisRepo.Set(ctx, cn.CommitKeyPrefix+record.CommitToken, entry, ttl); err != nil {
		return err
	}

	return uc.EnqueueOrderCommitted(ctx, record)
}

func (uc *UseCase) findDedup(ctx context.Context, input AdmitInput) *mmodel.AdmitResult {
	if input.ClientNonce == "" {
		return nil
	}

	raw, err := uc.RedisRepo.Get(ctx, dedupKey(input))
	if err != nil {
		if !errors.Is(err, redis.ErrKeyNotFound) {
			pkg.NewLoggerFromContext(ctx).Warnf("Failed to read dedup entry: %v", err)
		}

		return nil
	}

	var result mmodel.AdmitResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil
	}

	return &result
}

func (uc *UseCase) storeDedup(ctx context.Context, input AdmitInput, result *mmodel.AdmitResult) {
	if input.ClientNonce == "" {
		return
	}

	entry, err := pkg.StructToJSONString(result)
	if err != nil {
		return
	}

	if err := uc.RedisRepo.Set(context.WithoutCancel(ctx), dedupKey(input), entry, uc.Config.DedupTTL); err != nil {
		pkg.NewLoggerFromContext(ctx).Warnf("Failed to store dedup entry: %v", err)
	}
}

func dedupKey(input AdmitInput) string {
	return cn.DedupKeyPrefix + input.UserID + ":" + input.ActivityID + ":" + input.ClientNonce
}

func rateLimitReason(level mratelimit.Level) mmodel.Reason {
	switch level {
	case mratelimit.LevelGlobal:
		return mmodel.ReasonRateLimitGlobal
	case mratelimit.LevelIP:
		return mmodel.ReasonRateLimitIP
	default:
		return mmodel.ReasonRateLimitUser
	}
}
