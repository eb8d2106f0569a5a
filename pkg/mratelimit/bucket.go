package mratelimit

import (
	"sync"
	"time"
)

// BucketConfig holds the tunables of a single token bucket.
type BucketConfig struct {
	Capacity        int64
	RefillPerSecond float64
}

// BucketState is a point-in-time snapshot of a bucket, used for persistence and inspection.
type BucketState struct {
	Capacity        int64     `json:"capacity"`
	RefillPerSecond float64   `json:"refillPerSecond"`
	Tokens          int64     `json:"tokens"`
	LastRefill      time.Time `json:"lastRefill"`
}

// Bucket is a classic token bucket with lazy refill. Tokens are fractional
// internally so low refill rates accrue correctly between calls; externally the
// token count is always reported as a whole number.
type Bucket struct {
	mu              sync.Mutex
	capacity        int64
	refillPerSecond float64
	tokens          float64
	lastRefill      time.Time
}

// NewBucket creates a bucket that starts full (credit-on-arrival).
func NewBucket(cfg BucketConfig) *Bucket {
	if cfg.Capacity < 0 {
		cfg.Capacity = 0
	}

	if cfg.RefillPerSecond < 0 {
		cfg.RefillPerSecond = 0
	}

	return &Bucket{
		capacity:        cfg.Capacity,
		refillPerSecond: cfg.RefillPerSecond,
		tokens:          float64(cfg.Capacity),
		lastRefill:      time.Now(),
	}
}

func (b *Bucket) refillLocked(now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}

	b.tokens += elapsed * b.refillPerSecond
	if b.tokens > float64(b.capacity) {
		b.tokens = float64(b.capacity)
	}

	b.lastRefill = now
}

// Allow deducts n tokens and reports whether the caller may proceed.
// It never blocks; a rejected call deducts nothing.
func (b *Bucket) Allow(n int64) bool {
	return b.AllowAt(time.Now(), n)
}

// AllowAt is Allow with an explicit clock, used by the limiter and by tests.
func (b *Bucket) AllowAt(now time.Time, n int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked(now)

	if b.tokens < float64(n) {
		return false
	}

	b.tokens -= float64(n)

	return true
}

// Refund returns n tokens to the bucket, capped at capacity. The multi-level
// limiter uses it to undo deductions when a later level rejects.
func (b *Bucket) Refund(n int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.tokens += float64(n)
	if b.tokens > float64(b.capacity) {
		b.tokens = float64(b.capacity)
	}
}

// Reset empties the bucket.
func (b *Bucket) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.tokens = 0
	b.lastRefill = time.Now()
}

// Fill sets the bucket to capacity.
func (b *Bucket) Fill() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.tokens = float64(b.capacity)
	b.lastRefill = time.Now()
}

// SetConfig atomically reconfigures the bucket. When capacity decreases the
// current token count is truncated to the new capacity.
func (b *Bucket) SetConfig(cfg BucketConfig) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked(time.Now())

	if cfg.Capacity < 0 {
		cfg.Capacity = 0
	}

	if cfg.RefillPerSecond < 0 {
		cfg.RefillPerSecond = 0
	}

	b.capacity = cfg.Capacity
	b.refillPerSecond = cfg.RefillPerSecond

	if b.tokens > float64(b.capacity) {
		b.tokens = float64(b.capacity)
	}
}

// State returns a snapshot of the bucket.
func (b *Bucket) State() BucketState {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked(time.Now())

	return BucketState{
		Capacity:        b.capacity,
		RefillPerSecond: b.refillPerSecond,
		Tokens:          int64(b.tokens),
		LastRefill:      b.lastRefill,
	}
}
