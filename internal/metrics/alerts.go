package metrics

import (
	"fmt"
	"time"

	"github.com/lunamall/seckill/pkg/mmodel"
)

// AlertThresholds configures the threshold-driven alert rules.
type AlertThresholds struct {
	LowHitRate    float64
	HighErrorRate float64
	HighLatencyMS float64
	LowStock      int64
}

// DefaultAlertThresholds returns the engine defaults.
func DefaultAlertThresholds() AlertThresholds {
	return AlertThresholds{
		LowHitRate:    0.80,
		HighErrorRate: 0.05,
		HighLatencyMS: 100,
		LowStock:      10,
	}
}

// Evaluate applies the alert rules against the current aggregates and returns
// every rule that fired.
func (m *Metrics) Evaluate(t AlertThresholds) []mmodel.Alert {
	now := time.Now()

	var alerts []mmodel.Alert

	if hitRate := m.HitRate(); hitRate < t.LowHitRate {
		alerts = append(alerts, mmodel.Alert{
			Type:      "low_hit_rate",
			Level:     mmodel.AlertLevelWarning,
			Message:   fmt.Sprintf("cache hit rate %.2f below threshold %.2f", hitRate, t.LowHitRate),
			Value:     hitRate,
			Threshold: t.LowHitRate,
			Ts:        now,
		})
	}

	if errRate := m.ErrorRate(); errRate > t.HighErrorRate {
		alerts = append(alerts, mmodel.Alert{
			Type:      "high_error_rate",
			Level:     mmodel.AlertLevelError,
			Message:   fmt.Sprintf("error rate %.2f above threshold %.2f", errRate, t.HighErrorRate),
			Value:     errRate,
			Threshold: t.HighErrorRate,
			Ts:        now,
		})
	}

	if recent := m.Latency().RecentAvgMS; recent > t.HighLatencyMS {
		alerts = append(alerts, mmodel.Alert{
			Type:      "high_latency",
			Level:     mmodel.AlertLevelWarning,
			Message:   fmt.Sprintf("recent admission latency %.1fms above threshold %.1fms", recent, t.HighLatencyMS),
			Value:     recent,
			Threshold: t.HighLatencyMS,
			Ts:        now,
		})
	}

	for activityID, stock := range m.LowStockActivities(t.LowStock) {
		alerts = append(alerts, mmodel.Alert{
			Type:      "low_stock",
			Level:     mmodel.AlertLevelWarning,
			Message:   fmt.Sprintf("activity %s stock %d at or below threshold %d", activityID, stock, t.LowStock),
			Value:     float64(stock),
			Threshold: float64(t.LowStock),
			Ts:        now,
		})
	}

	return alerts
}
