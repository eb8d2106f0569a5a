// Package metrics provides the engine metrics aggregator: Prometheus
// collectors, rolling latency tracking and threshold-based alerting.
package metrics

import (
	"math"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all collectors of the engine.
type Metrics struct {
	// Admission metrics
	AdmissionsTotal *prometheus.CounterVec
	AdmitDuration   *prometheus.HistogramVec

	// Cache metrics
	CacheOpsTotal *prometheus.CounterVec

	// Per-activity gauges
	CurrentStock *prometheus.GaugeVec
	SoldCount    *prometheus.GaugeVec
	RequestRate  *prometheus.GaugeVec

	// Outbox metrics
	OutboxOutstanding prometheus.Gauge
	OutboxDead        prometheus.Gauge
	OutboxErrors      *prometheus.CounterVec

	// Sync metrics
	SyncTotal        *prometheus.CounterVec
	SyncConflicts    *prometheus.CounterVec
	SyncLastDuration prometheus.Gauge

	mu      sync.Mutex
	counts  counters
	latency latencyStats
	stocks  map[string]int64
}

type counters struct {
	hits    int64
	misses  int64
	sets    int64
	deletes int64
	errors  int64
	ops     int64
}

// latencyStats keeps rolling min/max/avg plus an exponentially decaying mean
// biased towards recent observations.
type latencyStats struct {
	count    int64
	min      time.Duration
	max      time.Duration
	total    time.Duration
	decaying float64 // milliseconds
}

const decayFactor = 0.2

// New creates a new Metrics instance registered on the default registerer.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new Metrics instance with a custom registry.
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		AdmissionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "seckill_admissions_total",
				Help: "Total number of admission requests by outcome",
			},
			[]string{"reason"},
		),
		AdmitDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "seckill_admit_duration_seconds",
				Help:    "Admission duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"outcome"},
		),
		CacheOpsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "seckill_cache_operations_total",
				Help: "Total number of cache operations by kind",
			},
			[]string{"operation"},
		),
		CurrentStock: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "seckill_current_stock",
				Help: "Current keystore stock per activity",
			},
			[]string{"activity"},
		),
		SoldCount: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "seckill_sold_count",
				Help: "Sold units per activity",
			},
			[]string{"activity"},
		),
		RequestRate: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "seckill_request_rate",
				Help: "Admission request rate per activity",
			},
			[]string{"activity"},
		),
		OutboxOutstanding: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "seckill_outbox_outstanding",
				Help: "Outbox messages waiting for dispatch or in flight",
			},
		),
		OutboxDead: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "seckill_outbox_dead",
				Help: "Messages parked on the dead letter queue",
			},
		),
		OutboxErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "seckill_outbox_errors_total",
				Help: "Outbox dispatch errors by classification",
			},
			[]string{"type"},
		),
		SyncTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "seckill_stock_sync_total",
				Help: "Stock synchronizations by result",
			},
			[]string{"result"},
		),
		SyncConflicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "seckill_stock_sync_conflicts_total",
				Help: "Stock sync conflicts by type",
			},
			[]string{"type"},
		),
		SyncLastDuration: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "seckill_stock_sync_last_duration_seconds",
				Help: "Duration of the last stock sync pass",
			},
		),
		stocks: make(map[string]int64),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.AdmissionsTotal,
			m.AdmitDuration,
			m.CacheOpsTotal,
			m.CurrentStock,
			m.SoldCount,
			m.RequestRate,
			m.OutboxOutstanding,
			m.OutboxDead,
			m.OutboxErrors,
			m.SyncTotal,
			m.SyncConflicts,
			m.SyncLastDuration,
		)
	}

	return m
}

// RecordAdmission records an admission outcome with its latency.
func (m *Metrics) RecordAdmission(reason string, duration time.Duration) {
	outcome := "rejected"
	if reason == "ok" {
		outcome = "admitted"
	}

	m.AdmissionsTotal.WithLabelValues(reason).Inc()
	m.AdmitDuration.WithLabelValues(outcome).Observe(duration.Seconds())

	m.mu.Lock()
	defer m.mu.Unlock()

	m.counts.ops++
	m.observeLatencyLocked(duration)
}

// RecordCacheHit records a cache hit.
func (m *Metrics) RecordCacheHit() { m.recordCacheOp("hit", func(c *counters) { c.hits++ }) }

// RecordCacheMiss records a cache miss.
func (m *Metrics) RecordCacheMiss() { m.recordCacheOp("miss", func(c *counters) { c.misses++ }) }

// RecordCacheSet records a cache write.
func (m *Metrics) RecordCacheSet() { m.recordCacheOp("set", func(c *counters) { c.sets++ }) }

// RecordCacheDelete records a cache invalidation.
func (m *Metrics) RecordCacheDelete() { m.recordCacheOp("delete", func(c *counters) { c.deletes++ }) }

// RecordError records an infrastructure error.
func (m *Metrics) RecordError() { m.recordCacheOp("error", func(c *counters) { c.errors++ }) }

func (m *Metrics) recordCacheOp(label string, bump func(*counters)) {
	m.CacheOpsTotal.WithLabelValues(label).Inc()

	m.mu.Lock()
	defer m.mu.Unlock()

	bump(&m.counts)
	m.counts.ops++
}

// SetActivityStock updates the per-activity stock gauges.
func (m *Metrics) SetActivityStock(activityID string, currentStock, soldCount int64) {
	m.CurrentStock.WithLabelValues(activityID).Set(float64(currentStock))
	m.SoldCount.WithLabelValues(activityID).Set(float64(soldCount))

	m.mu.Lock()
	defer m.mu.Unlock()

	m.stocks[activityID] = currentStock
}

// SetOutboxBacklog updates the outbox gauges.
func (m *Metrics) SetOutboxBacklog(outstanding, dead int64) {
	m.OutboxOutstanding.Set(float64(outstanding))
	m.OutboxDead.Set(float64(dead))
}

// RecordSync records one reconciliation outcome.
func (m *Metrics) RecordSync(result, conflictType string, duration time.Duration) {
	m.SyncTotal.WithLabelValues(result).Inc()

	if conflictType != "" && conflictType != "none" {
		m.SyncConflicts.WithLabelValues(conflictType).Inc()
	}

	m.SyncLastDuration.Set(duration.Seconds())
}

// RecordOutboxError records a dispatch error by classification.
func (m *Metrics) RecordOutboxError(errType string) {
	m.OutboxErrors.WithLabelValues(errType).Inc()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.counts.errors++
	m.counts.ops++
}

func (m *Metrics) observeLatencyLocked(d time.Duration) {
	s := &m.latency

	if s.count == 0 || d < s.min {
		s.min = d
	}

	if d > s.max {
		s.max = d
	}

	s.count++
	s.total += d

	ms := float64(d.Milliseconds())
	if s.decaying == 0 {
		s.decaying = ms
	} else {
		s.decaying = s.decaying*(1-decayFactor) + ms*decayFactor
	}
}

// LatencySnapshot is a point-in-time view of the rolling latency statistics.
type LatencySnapshot struct {
	Count       int64
	Min         time.Duration
	Max         time.Duration
	Avg         time.Duration
	RecentAvgMS float64
}

// Latency returns the rolling latency snapshot.
func (m *Metrics) Latency() LatencySnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := LatencySnapshot{
		Count:       m.latency.count,
		Min:         m.latency.min,
		Max:         m.latency.max,
		RecentAvgMS: m.latency.decaying,
	}

	if m.latency.count > 0 {
		snap.Avg = m.latency.total / time.Duration(m.latency.count)
	}

	return snap
}

// HitRate returns the cache hit ratio, NaN-free: 1.0 when nothing was measured.
func (m *Metrics) HitRate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := m.counts.hits + m.counts.misses
	if total == 0 {
		return 1.0
	}

	return float64(m.counts.hits) / float64(total)
}

// ErrorRate returns the ratio of errors over all recorded operations.
func (m *Metrics) ErrorRate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.counts.ops == 0 {
		return 0
	}

	rate := float64(m.counts.errors) / float64(m.counts.ops)
	if math.IsNaN(rate) {
		return 0
	}

	return rate
}

// LowStockActivities returns the activities at or below the given threshold.
func (m *Metrics) LowStockActivities(threshold int64) map[string]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	low := make(map[string]int64)

	for id, stock := range m.stocks {
		if stock <= threshold {
			low[id] = stock
		}
	}

	return low
}
