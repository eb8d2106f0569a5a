package command

import (
	"context"
	"testing"

	"github.com/lunamall/seckill/pkg/mmodel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncOnePolicies(t *testing.T) {
	testCases := []struct {
		name          string
		policy        string
		keystoreStock int64
		dbSold        int64 // database available = total - dbSold
		wantKeystore  int64
		wantDBSold    int64
	}{
		{
			name:          "merge takes the minimum on both sides",
			policy:        mmodel.SyncPolicyMerge,
			keystoreStock: 3,
			dbSold:        2, // db available 8
			wantKeystore:  3,
			wantDBSold:    7,
		},
		{
			name:          "redis priority overwrites the database",
			policy:        mmodel.SyncPolicyRedisPriority,
			keystoreStock: 4,
			dbSold:        1, // db available 9
			wantKeystore:  4,
			wantDBSold:    6,
		},
		{
			name:          "db priority overwrites the keystore",
			policy:        mmodel.SyncPolicyDBPriority,
			keystoreStock: 2,
			dbSold:        4, // db available 6
			wantKeystore:  6,
			wantDBSold:    4,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.uc.Config.SyncPolicy = tc.policy

			act := activeActivity("sync-act", 10, 5)
			act.SoldCount = tc.dbSold

			_, err := env.acts.Create(context.Background(), act)
			require.NoError(t, err)

			require.NoError(t, env.redis.InitStock(context.Background(), act.ID, tc.keystoreStock, 0))

			rec, err := env.uc.SyncOne(context.Background(), act)
			require.NoError(t, err)

			stock, err := env.redis.GetStock(context.Background(), act.ID)
			require.NoError(t, err)
			assert.Equal(t, tc.wantKeystore, stock.Available)

			stored, err := env.acts.Find(context.Background(), act.ID)
			require.NoError(t, err)
			assert.Equal(t, tc.wantDBSold, stored.SoldCount)

			assert.Equal(t, mmodel.ConflictDrift, rec.ConflictType)
		})
	}
}

func TestSyncOneNoConflictWhenEqual(t *testing.T) {
	env := newTestEnv(t)

	act := activeActivity("sync-eq", 10, 5)
	act.SoldCount = 4

	_, err := env.acts.Create(context.Background(), act)
	require.NoError(t, err)

	require.NoError(t, env.redis.InitStock(context.Background(), act.ID, 6, 0))

	rec, err := env.uc.SyncOne(context.Background(), act)
	require.NoError(t, err)
	assert.Equal(t, mmodel.ConflictNone, rec.ConflictType)
	assert.Empty(t, env.acts.syncRecords, "agreeing stores produce no audit row")
}

func TestSyncOneReseedsMissingKeystore(t *testing.T) {
	env := newTestEnv(t)

	act := activeActivity("sync-miss", 10, 5)
	act.SoldCount = 3

	_, err := env.acts.Create(context.Background(), act)
	require.NoError(t, err)

	rec, err := env.uc.SyncOne(context.Background(), act)
	require.NoError(t, err)
	assert.Equal(t, mmodel.ConflictMissingCache, rec.ConflictType)

	stock, err := env.redis.GetStock(context.Background(), act.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(7), stock.Available)
}

func TestSyncMergeIdempotentOnceConverged(t *testing.T) {
	env := newTestEnv(t)
	env.uc.Config.SyncPolicy = mmodel.SyncPolicyMerge

	act := activeActivity("sync-idem", 10, 5)
	act.SoldCount = 6

	_, err := env.acts.Create(context.Background(), act)
	require.NoError(t, err)

	require.NoError(t, env.redis.InitStock(context.Background(), act.ID, 2, 0))

	first, err := env.uc.SyncOne(context.Background(), act)
	require.NoError(t, err)
	assert.Equal(t, int64(2), first.NewStock)

	converged, err := env.acts.Find(context.Background(), act.ID)
	require.NoError(t, err)

	second, err := env.uc.SyncOne(context.Background(), converged)
	require.NoError(t, err)
	assert.Equal(t, mmodel.ConflictNone, second.ConflictType)
	assert.Equal(t, second.OldStock, second.NewStock)
}

func TestSyncBatchReconcilesActiveActivities(t *testing.T) {
	env := newTestEnv(t)

	act := activeActivity("sync-batch", 10, 5)
	act.SoldCount = 1

	_, err := env.acts.Create(context.Background(), act)
	require.NoError(t, err)

	require.NoError(t, env.redis.InitStock(context.Background(), act.ID, 9, 0))

	records, err := env.uc.SyncBatch(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, mmodel.ConflictNone, records[0].ConflictType)
}
