package command

import (
	"context"
	"testing"

	"github.com/lunamall/seckill/pkg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRollbackCommitRestoresInvariant(t *testing.T) {
	env := newTestEnv(t)
	env.seed(activeActivity("act-rb", 10, 5))

	ctx := context.Background()

	admitted, err := env.uc.Admit(ctx, AdmitInput{
		ActivityID: "act-rb", UserID: "userA", ClientIP: "ip1", Qty: 2,
	})
	require.NoError(t, err)
	require.True(t, admitted.Allowed)

	stock, err := env.redis.GetStock(ctx, "act-rb")
	require.NoError(t, err)
	require.Equal(t, int64(8), stock.Available)

	record, err := env.uc.RollbackCommit(ctx, admitted.CommitToken, "payment_failed")
	require.NoError(t, err)
	assert.True(t, record.Reversed)
	assert.Equal(t, "payment_failed", record.ReversedReason)

	// Commit(qty) ∘ Rollback(qty) leaves stock and quota unchanged.
	stock, err = env.redis.GetStock(ctx, "act-rb")
	require.NoError(t, err)
	assert.Equal(t, int64(10), stock.Available)

	quota, err := env.redis.GetUserQuota(ctx, "userA", "act-rb")
	require.NoError(t, err)
	assert.Equal(t, int64(0), quota)

	// A compensating stock.changed event with operation=increase was enqueued.
	found := false

	env.outbox.mu.Lock()
	for _, msg := range env.outbox.msgs {
		if msg.Topic == "seckill.stock" {
			found = true

			assert.Contains(t, string(msg.Payload), `"operation":"increase"`)
			assert.Contains(t, string(msg.Payload), `"stockChange":2`)
		}
	}
	env.outbox.mu.Unlock()

	assert.True(t, found, "compensating stock event enqueued")
}

func TestRollbackCommitUnknownToken(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.uc.RollbackCommit(context.Background(), "no-such-token", "whatever")

	require.Error(t, err)

	var notFound pkg.EntityNotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestRollbackCommitTwiceRejected(t *testing.T) {
	env := newTestEnv(t)
	env.seed(activeActivity("act-rb2", 10, 5))

	ctx := context.Background()

	admitted, err := env.uc.Admit(ctx, AdmitInput{
		ActivityID: "act-rb2", UserID: "userA", ClientIP: "ip1", Qty: 1,
	})
	require.NoError(t, err)
	require.True(t, admitted.Allowed)

	_, err = env.uc.RollbackCommit(ctx, admitted.CommitToken, "first")
	require.NoError(t, err)

	_, err = env.uc.RollbackCommit(ctx, admitted.CommitToken, "second")
	require.Error(t, err)

	var conflict pkg.EntityConflictError
	assert.ErrorAs(t, err, &conflict)

	// The second rollback did not touch the counters.
	stock, err := env.redis.GetStock(ctx, "act-rb2")
	require.NoError(t, err)
	assert.Equal(t, int64(10), stock.Available)
}

func TestValidateConsistencyRepairsDrift(t *testing.T) {
	env := newTestEnv(t)

	act := activeActivity("cons-1", 10, 5)
	act.SoldCount = 4

	_, err := env.acts.Create(context.Background(), act)
	require.NoError(t, err)

	// Keystore disagrees with the database view.
	require.NoError(t, env.redis.InitStock(context.Background(), act.ID, 9, 0))

	report, err := env.uc.ValidateConsistency(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.TotalChecked)
	assert.Less(t, report.ConsistencyRate, 1.0)
	require.NotEmpty(t, report.InconsistentKeys)

	// Repair converged the stock under the merge policy.
	stock, err := env.redis.GetStock(context.Background(), act.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(6), stock.Available)
}
