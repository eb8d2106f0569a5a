package mmodel

import "time"

// Cache update strategies.
const (
	StrategyWriteThrough = "write_through"
	StrategyWriteBehind  = "write_behind"
	StrategyRefreshAhead = "refresh_ahead"
)

// UpdateResult is the outcome of one cache update.
type UpdateResult struct {
	Key      string        `json:"key"`
	Success  bool          `json:"success"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
	Strategy string        `json:"strategy"`
	Ts       time.Time     `json:"ts"`
}

// ValidationResult is the outcome of comparing one cached key against the source of truth.
type ValidationResult struct {
	Key          string `json:"key"`
	IsConsistent bool   `json:"isConsistent"`
	CacheValue   string `json:"cacheValue,omitempty"`
	SourceValue  string `json:"sourceValue,omitempty"`
	Difference   int64  `json:"difference"`
	RepairAction string `json:"repairAction,omitempty"`
}

// ConsistencyReport aggregates one background validation pass.
type ConsistencyReport struct {
	TotalChecked      int                `json:"totalChecked"`
	ConsistentCount   int                `json:"consistentCount"`
	InconsistentKeys  []string           `json:"inconsistentKeys"`
	ValidationResults []ValidationResult `json:"validationResults"`
	ConsistencyRate   float64            `json:"consistencyRate"`
	CheckTime         time.Time          `json:"checkTime"`
	Duration          time.Duration      `json:"duration"`
}

// Alert levels.
const (
	AlertLevelWarning  = "warning"
	AlertLevelError    = "error"
	AlertLevelCritical = "critical"
)

// Alert is a threshold-driven notification emitted by the metrics aggregator.
type Alert struct {
	Type      string    `json:"type"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	Ts        time.Time `json:"ts"`
}
