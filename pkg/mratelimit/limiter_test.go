package mratelimit

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		Global:      BucketConfig{Capacity: 1000, RefillPerSecond: 1000},
		IP:          BucketConfig{Capacity: 10, RefillPerSecond: 1},
		User:        BucketConfig{Capacity: 1, RefillPerSecond: 1},
		IdleTimeout: 10 * time.Minute,
	}
}

func TestLimiterAllowsWithinLimits(t *testing.T) {
	l := NewMultiLevelLimiter(testConfig())

	decision := l.Allow("act1", "1.2.3.4", "userA", 1)

	assert.True(t, decision.Allowed)
}

func TestLimiterPerIPRejectsEleventhCall(t *testing.T) {
	l := NewMultiLevelLimiter(testConfig())

	now := time.Now()

	for i := 0; i < 10; i++ {
		decision := l.AllowAt(now, "act1", "ip-shared", fmt.Sprintf("user%d", i), 1)
		require.True(t, decision.Allowed, "call %d", i)
	}

	decision := l.AllowAt(now, "act1", "ip-shared", "user10", 1)

	assert.False(t, decision.Allowed)
	assert.Equal(t, LevelIP, decision.Level)
}

func TestLimiterReportsFirstRejectingLevel(t *testing.T) {
	cfg := testConfig()
	cfg.Global = BucketConfig{Capacity: 0, RefillPerSecond: 0}
	cfg.IP = BucketConfig{Capacity: 0, RefillPerSecond: 0}

	l := NewMultiLevelLimiter(cfg)

	decision := l.Allow("act1", "1.2.3.4", "userA", 1)

	assert.False(t, decision.Allowed)
	assert.Equal(t, LevelGlobal, decision.Level, "global is evaluated before ip")
}

func TestLimiterRejectionDeductsNothing(t *testing.T) {
	cfg := testConfig()
	cfg.Global = BucketConfig{Capacity: 7, RefillPerSecond: 0}
	cfg.IP = BucketConfig{Capacity: 7, RefillPerSecond: 0}
	cfg.User = BucketConfig{Capacity: 1, RefillPerSecond: 0}

	l := NewMultiLevelLimiter(cfg)

	now := time.Now()

	// userA takes one token from every level.
	require.True(t, l.AllowAt(now, "act1", "1.2.3.4", "userA", 1).Allowed)

	// Five more taps from the same user die at the user level; the global and
	// ip deductions made on the way there must be refunded.
	for i := 0; i < 5; i++ {
		decision := l.AllowAt(now, "act1", "1.2.3.4", "userA", 1)
		require.False(t, decision.Allowed)
		require.Equal(t, LevelUser, decision.Level)
	}

	// Six tokens remain on global and ip if and only if nothing leaked.
	allowed := 0

	for i := 0; i < 10; i++ {
		if l.AllowAt(now, "act1", "1.2.3.4", fmt.Sprintf("fresh%d", i), 1).Allowed {
			allowed++
		}
	}

	assert.Equal(t, 6, allowed)
}

func TestLimiterGlobalBucketIsPerActivity(t *testing.T) {
	cfg := testConfig()
	cfg.Global = BucketConfig{Capacity: 1, RefillPerSecond: 0}

	l := NewMultiLevelLimiter(cfg)

	now := time.Now()

	first := l.AllowAt(now, "act1", "ip1", "userA", 1)
	require.True(t, first.Allowed)

	exhausted := l.AllowAt(now, "act1", "ip2", "userB", 1)
	assert.False(t, exhausted.Allowed)
	assert.Equal(t, LevelGlobal, exhausted.Level)

	// A different activity has its own global bucket.
	other := l.AllowAt(now, "act2", "ip3", "userC", 1)
	assert.True(t, other.Allowed)
}

func TestLimiterUpdateConfigAppliesToExistingBuckets(t *testing.T) {
	l := NewMultiLevelLimiter(testConfig())

	now := time.Now()

	require.True(t, l.AllowAt(now, "act1", "ip1", "userA", 1).Allowed)

	l.UpdateConfig(LevelIP, BucketConfig{Capacity: 0, RefillPerSecond: 0})

	decision := l.AllowAt(now, "act1", "ip1", "userB", 1)
	assert.False(t, decision.Allowed)
	assert.Equal(t, LevelIP, decision.Level)
}

func TestLimiterSweepIdleEvictsAndRecreatesFull(t *testing.T) {
	cfg := testConfig()
	cfg.IdleTimeout = time.Minute

	l := NewMultiLevelLimiter(cfg)

	now := time.Now()

	// Drain userA's single token.
	require.True(t, l.AllowAt(now, "act1", "ip1", "userA", 1).Allowed)
	assert.Equal(t, 3, l.Size())

	evicted := l.SweepIdle(now.Add(2 * time.Minute))
	assert.Equal(t, 3, evicted)
	assert.Equal(t, 0, l.Size())

	// Recreated bucket starts at capacity (credit-on-arrival).
	assert.True(t, l.AllowAt(now.Add(2*time.Minute), "act1", "ip1", "userA", 1).Allowed)
}

func TestLimiterPressureHalvesGlobal(t *testing.T) {
	cfg := testConfig()
	cfg.Global = BucketConfig{Capacity: 4, RefillPerSecond: 0}

	l := NewMultiLevelLimiter(cfg)
	l.SetPressure(true)

	now := time.Now()

	allowed := 0

	for i := 0; i < 10; i++ {
		if l.AllowAt(now, "act1", fmt.Sprintf("ip%d", i), fmt.Sprintf("user%d", i), 1).Allowed {
			allowed++
		}
	}

	assert.Equal(t, 2, allowed, "half of the configured capacity under pressure")

	l.SetPressure(false)

	assert.True(t, l.Pressure() == false)
}
