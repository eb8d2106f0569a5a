package command

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/lunamall/seckill/pkg/mcircuitbreaker"
	"github.com/lunamall/seckill/pkg/mmodel"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func enqueueTestMessage(t *testing.T, env *testEnv, id string) *mmodel.ReliableMessage {
	t.Helper()

	now := time.Now().Add(-time.Second)

	msg := &mmodel.ReliableMessage{
		ID:            id,
		Topic:         "seckill.order",
		RoutingKey:    "order.committed",
		Payload:       []byte(`{"commitToken":"` + id + `"}`),
		Status:        mmodel.MessagePending,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	require.NoError(t, env.outbox.Save(context.Background(), msg, time.Hour))

	return msg
}

func TestDispatchOutboxAcksOnSuccess(t *testing.T) {
	env := newTestEnv(t)
	enqueueTestMessage(t, env, "msg-1")

	processed, err := env.uc.DispatchOutbox(context.Background(), time.Now(), 100)

	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.Equal(t, 1, env.producer.count())
	assert.Equal(t, []string{"msg-1"}, env.outbox.acked)

	// Acked messages leave the log entirely.
	_, err = env.outbox.Find(context.Background(), "msg-1")
	assert.Error(t, err)
}

func TestDispatchOutboxTransientFailureSchedulesRetry(t *testing.T) {
	env := newTestEnv(t)
	enqueueTestMessage(t, env, "msg-2")

	env.producer.fail = errors.New("broker connection lost")
	env.producer.failTimes = 1

	before := time.Now()

	_, err := env.uc.DispatchOutbox(context.Background(), time.Now(), 100)
	require.NoError(t, err)

	msg, err := env.outbox.Find(context.Background(), "msg-2")
	require.NoError(t, err)
	assert.Equal(t, mmodel.MessageRetryPending, msg.Status)
	assert.Equal(t, 1, msg.Attempts)
	assert.Contains(t, msg.LastError, "broker connection lost")

	// First retry lands near base × backoff^1 = 2s, within ±20% jitter.
	delay := msg.NextAttemptAt.Sub(before)
	assert.Greater(t, delay, 1200*time.Millisecond)
	assert.Less(t, delay, 3*time.Second)

	// Broker recovered: the next due tick delivers exactly once.
	processed, err := env.uc.DispatchOutbox(context.Background(), msg.NextAttemptAt.Add(time.Millisecond), 100)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.Equal(t, 1, env.producer.count())
	assert.Equal(t, []string{"msg-2"}, env.outbox.acked)
}

func TestDispatchOutboxExhaustedRetriesGoDead(t *testing.T) {
	env := newTestEnv(t)
	msg := enqueueTestMessage(t, env, "msg-3")

	env.producer.fail = errors.New("broker down")
	env.producer.failTimes = -1

	// Breaker wide so every attempt reaches the producer.
	env.uc.Breaker = mcircuitbreaker.New(mcircuitbreaker.Config{FailureThreshold: 100})

	now := time.Now()

	for i := 0; i < env.uc.Config.MaxRetries; i++ {
		_, err := env.uc.DispatchOutbox(context.Background(), now.Add(time.Hour), 100)
		require.NoError(t, err)
	}

	stored, err := env.outbox.Find(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, mmodel.MessageDead, stored.Status)
	require.Len(t, env.outbox.dead, 1)

	// A dead message never reverts: further ticks find nothing due.
	processed, err := env.uc.DispatchOutbox(context.Background(), now.Add(2*time.Hour), 100)
	require.NoError(t, err)
	assert.Zero(t, processed)
}

func TestDispatchOutboxPermanentFailureDeadImmediately(t *testing.T) {
	env := newTestEnv(t)
	enqueueTestMessage(t, env, "msg-4")

	env.producer.fail = &amqp.Error{Code: amqp.NotFound, Reason: "exchange missing"}
	env.producer.failTimes = -1

	_, err := env.uc.DispatchOutbox(context.Background(), time.Now(), 100)
	require.NoError(t, err)

	stored, err := env.outbox.Find(context.Background(), "msg-4")
	require.NoError(t, err)
	assert.Equal(t, mmodel.MessageDead, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
}

func TestDispatchOutboxBreakerShedsLoad(t *testing.T) {
	env := newTestEnv(t)

	env.producer.fail = errors.New("broker down")
	env.producer.failTimes = -1

	// Three consecutive failures open the breaker.
	for i := 0; i < 3; i++ {
		enqueueTestMessage(t, env, fmt.Sprintf("warm-%d", i))

		_, err := env.uc.DispatchOutbox(context.Background(), time.Now().Add(time.Minute), 100)
		require.NoError(t, err)
	}

	assert.Equal(t, mcircuitbreaker.StateOpen, env.uc.Breaker.State())

	// With the breaker open, dispatch fails fast and the producer is not hit.
	calls := env.producer.count()

	enqueueTestMessage(t, env, "shed-1")

	_, err := env.uc.DispatchOutbox(context.Background(), time.Now().Add(time.Minute), 100)
	require.NoError(t, err)
	assert.Equal(t, calls, env.producer.count())

	msg, err := env.outbox.Find(context.Background(), "shed-1")
	require.NoError(t, err)
	assert.Equal(t, mmodel.MessageRetryPending, msg.Status)
}

func TestDefaultClassifier(t *testing.T) {
	classifier := DefaultClassifier{}

	assert.Equal(t, ErrorTransient, classifier.Classify(errors.New("dial tcp: connection refused")))
	assert.Equal(t, ErrorTransient, classifier.Classify(&amqp.Error{Code: amqp.ChannelError}))
	assert.Equal(t, ErrorPermanent, classifier.Classify(&amqp.Error{Code: amqp.NotFound}))
	assert.Equal(t, ErrorPermanent, classifier.Classify(&amqp.Error{Code: amqp.AccessRefused}))
	assert.Equal(t, ErrorPermanent, classifier.Classify(&amqp.Error{Code: amqp.PreconditionFailed}))
}

func TestRecoverInFlight(t *testing.T) {
	env := newTestEnv(t)
	enqueueTestMessage(t, env, "msg-5")

	// Claim but never ack, simulating a crash mid-dispatch.
	env.producer.fail = errors.New("crash")
	env.producer.failTimes = -1

	claimed, err := env.outbox.ClaimDue(context.Background(), time.Now(), 100)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	// Make the claim look old enough.
	env.outbox.mu.Lock()
	env.outbox.inFlight["msg-5"] = time.Now().Add(-time.Minute)
	env.outbox.mu.Unlock()

	reset, err := env.uc.RecoverInFlight(context.Background(), 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, reset)

	msg, err := env.outbox.Find(context.Background(), "msg-5")
	require.NoError(t, err)
	assert.Equal(t, mmodel.MessageRetryPending, msg.Status)
}
