package command

import (
	"context"
	"errors"
	"time"

	"github.com/lunamall/seckill/pkg"
	"github.com/lunamall/seckill/pkg/mcircuitbreaker"
	"github.com/lunamall/seckill/pkg/mmodel"
	"github.com/lunamall/seckill/pkg/mopentelemetry"
	"github.com/lunamall/seckill/pkg/mretry"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrorClassification is the retry policy bucket of a dispatch failure.
type ErrorClassification string

const (
	ErrorTransient ErrorClassification = "transient"
	ErrorPermanent ErrorClassification = "permanent"
)

// ErrorClassifier decides whether a dispatch error is worth retrying.
type ErrorClassifier interface {
	Classify(err error) ErrorClassification
}

// DefaultClassifier treats broker rejections with a terminal code as
// permanent and everything else (I/O, timeouts, open breaker) as transient.
type DefaultClassifier struct{}

func (DefaultClassifier) Classify(err error) ErrorClassification {
	var amqpErr *amqp.Error
	if errors.As(err, &amqpErr) {
		switch amqpErr.Code {
		case amqp.AccessRefused, amqp.NotFound, amqp.PreconditionFailed, amqp.NotAllowed, amqp.InvalidPath:
			return ErrorPermanent
		}
	}

	return ErrorTransient
}

// DispatchOutbox claims one batch of due messages and pushes each through the
// broker behind the circuit breaker, updating the message state machine on the
// outcome. Returns how many messages were processed.
func (uc *UseCase) DispatchOutbox(ctx context.Context, now time.Time, batch int64) (int, error) {
	tracer := pkg.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "command.dispatch_outbox")
	defer span.End()

	msgs, err := uc.OutboxRepo.ClaimDue(ctx, now, batch)
	if err != nil {
		mopentelemetry.HandleSpanError(&span, "Failed to claim due messages", err)

		return 0, err
	}

	for _, msg := range msgs {
		uc.dispatchOne(ctx, msg)
	}

	return len(msgs), nil
}

func (uc *UseCase) dispatchOne(ctx context.Context, msg *mmodel.ReliableMessage) {
	logger := pkg.NewLoggerFromContext(ctx)

	err := uc.Breaker.Execute(ctx, func() error {
		return uc.ProducerRepo.ProducerDefault(ctx, msg.Topic, msg.RoutingKey, msg.Payload)
	})
	if err == nil {
		if ackErr := uc.OutboxRepo.Ack(ctx, msg.ID); ackErr != nil {
			logger.Errorf("Failed to ack outbox message %s: %v", msg.ID, ackErr)
		}

		return
	}

	msg.Attempts++
	msg.LastError = err.Error()

	classification := uc.classifier().Classify(err)

	// An open breaker is load shedding, not a verdict on the message.
	if errors.Is(err, mcircuitbreaker.ErrCircuitOpen) || errors.Is(err, mcircuitbreaker.ErrTooManyRequests) {
		classification = ErrorTransient
	}

	uc.Metrics.RecordOutboxError(string(classification))

	if classification == ErrorPermanent {
		logger.Errorf("Outbox message %s failed permanently: %v", msg.ID, err)

		if deadErr := uc.OutboxRepo.MarkDead(ctx, msg); deadErr != nil {
			logger.Errorf("Failed to dead-letter message %s: %v", msg.ID, deadErr)
		}

		return
	}

	if msg.Attempts >= uc.Config.MaxRetries {
		logger.Errorf("Outbox message %s exhausted %d attempts: %v", msg.ID, msg.Attempts, err)

		if deadErr := uc.OutboxRepo.MarkDead(ctx, msg); deadErr != nil {
			logger.Errorf("Failed to dead-letter message %s: %v", msg.ID, deadErr)
		}

		return
	}

	next := time.Now().Add(mretry.BackoffDelay(uc.Config.RetryBase, uc.Config.Backoff, uc.Config.RetryJitter, msg.Attempts))

	logger.Warnf("Outbox message %s failed (attempt %d), retrying at %s: %v", msg.ID, msg.Attempts, next.Format(time.RFC3339), err)

	if reschedErr := uc.OutboxRepo.Reschedule(ctx, msg, next); reschedErr != nil {
		logger.Errorf("Failed to reschedule message %s: %v", msg.ID, reschedErr)
	}
}

// RecoverInFlight requeues messages stranded in flight by a crashed emitter.
// Called once on startup before the processing loop begins.
func (uc *UseCase) RecoverInFlight(ctx context.Context, olderThan time.Duration) (int, error) {
	return uc.OutboxRepo.ResetInFlight(ctx, olderThan)
}

// OutboxBacklog reports the backlog and refreshes the gauges. The worker uses
// it to toggle limiter backpressure when the backlog exceeds the threshold.
func (uc *UseCase) OutboxBacklog(ctx context.Context) (int64, error) {
	outstanding, err := uc.OutboxRepo.Outstanding(ctx)
	if err != nil {
		return 0, err
	}

	dead, err := uc.OutboxRepo.DeadCount(ctx)
	if err != nil {
		return outstanding, err
	}

	uc.Metrics.SetOutboxBacklog(outstanding, dead)

	return outstanding, nil
}
