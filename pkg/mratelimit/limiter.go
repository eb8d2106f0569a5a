package mratelimit

import (
	"sync"
	"time"
)

// Level identifies which bucket family evaluated a request.
type Level string

const (
	LevelGlobal Level = "global"
	LevelIP     Level = "ip"
	LevelUser   Level = "user"
)

// Config holds the per-level bucket settings of the multi-level limiter.
type Config struct {
	Global      BucketConfig
	IP          BucketConfig
	User        BucketConfig
	IdleTimeout time.Duration
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		Global:      BucketConfig{Capacity: 1000, RefillPerSecond: 1000},
		IP:          BucketConfig{Capacity: 10, RefillPerSecond: 1},
		User:        BucketConfig{Capacity: 1, RefillPerSecond: 1},
		IdleTimeout: 10 * time.Minute,
	}
}

// Decision reports the outcome of a limiter evaluation. Level is set to the
// first rejecting level when Allowed is false.
type Decision struct {
	Allowed bool
	Level   Level
}

type bucketEntry struct {
	bucket   *Bucket
	lastSeen time.Time
}

// MultiLevelLimiter composes three bucket families: one global bucket per
// activity, one bucket per client IP and one per user. Evaluation order is
// global → ip → user and the first rejecting level is reported. Tokens are
// only consumed when every level allows: deductions made before a rejection
// are refunded so throttled traffic is not double-counted.
type MultiLevelLimiter struct {
	mu       sync.Mutex
	config   Config
	families map[Level]map[string]*bucketEntry
	pressure bool
}

// NewMultiLevelLimiter creates a limiter with the given configuration.
func NewMultiLevelLimiter(cfg Config) *MultiLevelLimiter {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 10 * time.Minute
	}

	l := &MultiLevelLimiter{
		config: cfg,
		families: map[Level]map[string]*bucketEntry{
			LevelGlobal: {},
			LevelIP:     {},
			LevelUser:   {},
		},
	}

	go l.startJanitor()

	return l
}

func (l *MultiLevelLimiter) startJanitor() {
	ticker := time.NewTicker(l.config.IdleTimeout / 2)
	defer ticker.Stop()

	for range ticker.C {
		l.SweepIdle(time.Now())
	}
}

func (l *MultiLevelLimiter) levelConfig(level Level) BucketConfig {
	switch level {
	case LevelGlobal:
		cfg := l.config.Global
		if l.pressure {
			// Backpressure mode: halve the entry rate until the outbox backlog drains.
			cfg.Capacity /= 2
			if cfg.Capacity < 1 {
				cfg.Capacity = 1
			}

			cfg.RefillPerSecond /= 2
		}

		return cfg
	case LevelIP:
		return l.config.IP
	default:
		return l.config.User
	}
}

func (l *MultiLevelLimiter) bucketFor(level Level, key string, now time.Time) *Bucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	family := l.families[level]

	entry, ok := family[key]
	if !ok {
		entry = &bucketEntry{bucket: NewBucket(l.levelConfig(level))}
		family[key] = entry
	}

	entry.lastSeen = now

	return entry.bucket
}

// Allow evaluates the three levels for a single admission of n units.
func (l *MultiLevelLimiter) Allow(activityID, ip, userID string, n int64) Decision {
	return l.AllowAt(time.Now(), activityID, ip, userID, n)
}

// AllowAt is Allow with an explicit clock.
func (l *MultiLevelLimiter) AllowAt(now time.Time, activityID, ip, userID string, n int64) Decision {
	checks := []struct {
		level Level
		key   string
	}{
		{LevelGlobal, activityID},
		{LevelIP, ip},
		{LevelUser, userID},
	}

	taken := make([]*Bucket, 0, len(checks))

	for _, c := range checks {
		bucket := l.bucketFor(c.level, c.key, now)

		if !bucket.AllowAt(now, n) {
			for _, prev := range taken {
				prev.Refund(n)
			}

			return Decision{Allowed: false, Level: c.level}
		}

		taken = append(taken, bucket)
	}

	return Decision{Allowed: true}
}

// UpdateConfig replaces the configuration of one level. Existing buckets of
// that level are reconfigured immediately; subsequent requests see the new limits.
func (l *MultiLevelLimiter) UpdateConfig(level Level, cfg BucketConfig) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch level {
	case LevelGlobal:
		l.config.Global = cfg
	case LevelIP:
		l.config.IP = cfg
	case LevelUser:
		l.config.User = cfg
	}

	effective := l.levelConfig(level)
	for _, entry := range l.families[level] {
		entry.bucket.SetConfig(effective)
	}
}

// SetPressure toggles backpressure mode. While enabled, global buckets run at
// half capacity and half rate.
func (l *MultiLevelLimiter) SetPressure(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.pressure == on {
		return
	}

	l.pressure = on

	effective := l.levelConfig(LevelGlobal)
	for _, entry := range l.families[LevelGlobal] {
		entry.bucket.SetConfig(effective)
	}
}

// Pressure reports whether backpressure mode is active.
func (l *MultiLevelLimiter) Pressure() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.pressure
}

// SweepIdle evicts buckets not referenced for the idle timeout and returns how
// many were removed. Evicted buckets are recreated at capacity on next use.
func (l *MultiLevelLimiter) SweepIdle(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	evicted := 0

	for _, family := range l.families {
		for key, entry := range family {
			if now.Sub(entry.lastSeen) > l.config.IdleTimeout {
				delete(family, key)
				evicted++
			}
		}
	}

	return evicted
}

// Size returns the total number of live buckets across all families.
func (l *MultiLevelLimiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	total := 0
	for _, family := range l.families {
		total += len(family)
	}

	return total
}
