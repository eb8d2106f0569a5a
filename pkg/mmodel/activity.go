package mmodel

import (
	"time"

	"github.com/shopspring/decimal"
)

// Activity statuses. Transitions are restricted: draft→scheduled→active,
// active↔paused, active/paused→ended, any non-terminal→cancelled.
const (
	StatusDraft     = "draft"
	StatusScheduled = "scheduled"
	StatusActive    = "active"
	StatusPaused    = "paused"
	StatusEnded     = "ended"
	StatusCancelled = "cancelled"
)

// Activity structure for marshaling/unmarshalling JSON.
//
// Activity is the struct designed to store a flash-sale activity: a time-boxed
// sale of a specific product at a discounted price, with a bounded inventory.
type Activity struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Status       string          `json:"status"`
	StartTime    time.Time       `json:"startTime"`
	EndTime      time.Time       `json:"endTime"`
	TotalStock   int64           `json:"totalStock"`
	SoldCount    int64           `json:"soldCount"`
	Price        decimal.Decimal `json:"price"`
	PerUserLimit int64           `json:"perUserLimit"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// IsTerminalStatus reports whether the status admits no further transitions.
func IsTerminalStatus(status string) bool {
	return status == StatusEnded || status == StatusCancelled
}

// CanTransition reports whether a status change from one state to another is permitted.
func CanTransition(from, to string) bool {
	if IsTerminalStatus(from) {
		return false
	}

	if to == StatusCancelled {
		return true
	}

	switch from {
	case StatusDraft:
		return to == StatusScheduled
	case StatusScheduled:
		return to == StatusActive
	case StatusActive:
		return to == StatusPaused || to == StatusEnded
	case StatusPaused:
		return to == StatusActive || to == StatusEnded
	default:
		return false
	}
}

// ActivityCacheEntry is the keystore representation of an activity. The start
// and end instants are duplicated as epoch milliseconds so the commit script
// can compare them without parsing timestamps.
type ActivityCacheEntry struct {
	Activity
	StartMillis int64 `json:"startMillis"`
	EndMillis   int64 `json:"endMillis"`
}

// NewActivityCacheEntry builds the cache envelope for an activity.
func NewActivityCacheEntry(a *Activity) ActivityCacheEntry {
	return ActivityCacheEntry{
		Activity:    *a,
		StartMillis: a.StartTime.UnixMilli(),
		EndMillis:   a.EndTime.UnixMilli(),
	}
}

// StatusTransition is one append-only entry of the per-activity status history log.
type StatusTransition struct {
	From     string    `json:"from"`
	To       string    `json:"to"`
	Reason   string    `json:"reason"`
	Operator string    `json:"operator"`
	Ts       time.Time `json:"ts"`
}

// StockRecord is the keystore-derived view of an activity inventory: available
// units plus a monotonically increasing version counter used to detect lost updates.
type StockRecord struct {
	ActivityID string    `json:"activityId"`
	Available  int64     `json:"available"`
	Version    int64     `json:"version"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// StockInfo is the read-model returned by the stock queries. It may be briefly stale.
type StockInfo struct {
	ActivityID   string    `json:"activityId"`
	CurrentStock int64     `json:"currentStock"`
	Status       string    `json:"status"`
	SoldCount    int64     `json:"soldCount"`
	TotalStock   int64     `json:"totalStock"`
	LastUpdated  time.Time `json:"lastUpdated"`
}

// SyncRecord documents one reconciliation of an activity stock between keystore and database.
type SyncRecord struct {
	ActivityID   string    `json:"activityId"`
	OldStock     int64     `json:"oldStock"`
	NewStock     int64     `json:"newStock"`
	ConflictType string    `json:"conflictType"`
	Policy       string    `json:"policy"`
	Ts           time.Time `json:"ts"`
}

// Sync conflict classifications.
const (
	ConflictNone         = "none"
	ConflictDrift        = "drift"
	ConflictLostUpdate   = "lost_update"
	ConflictMissingCache = "missing_cache"
)

// Stock sync policies.
const (
	SyncPolicyRedisPriority = "redis_priority"
	SyncPolicyDBPriority    = "db_priority"
	SyncPolicyMerge         = "merge"
)
