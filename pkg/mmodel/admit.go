package mmodel

import (
	"time"

	"github.com/shopspring/decimal"
)

// Reason enumerates every outcome an admission can surface to a caller.
type Reason string

const (
	ReasonOK                 Reason = "ok"
	ReasonRateLimitGlobal    Reason = "rate_limit_global"
	ReasonRateLimitIP        Reason = "rate_limit_ip"
	ReasonRateLimitUser      Reason = "rate_limit_user"
	ReasonActivityNotFound   Reason = "activity_not_found"
	ReasonActivityNotActive  Reason = "activity_not_active"
	ReasonActivityNotStarted Reason = "activity_not_started"
	ReasonActivityEnded      Reason = "activity_ended"
	ReasonOutOfStock         Reason = "out_of_stock"
	ReasonInsufficientStock  Reason = "insufficient_stock"
	ReasonUserLimitExceeded  Reason = "user_limit_exceeded"
	ReasonDuplicate          Reason = "duplicate"
	ReasonInvalidParams      Reason = "invalid_params"
	ReasonInternalError      Reason = "internal_error"
)

// AdmitResult is the outcome of one admission request.
type AdmitResult struct {
	Allowed            bool   `json:"allowed"`
	Reason             Reason `json:"reason"`
	CommitToken        string `json:"commitToken,omitempty"`
	RemainingStock     int64  `json:"remainingStock"`
	RemainingUserQuota int64  `json:"remainingUserQuota"`
}

// CommitRecord is the durable record of a successful admission, persisted to
// the outbox before the call returns to the client. The token is a UUIDv7:
// unique and sortable by creation time.
type CommitRecord struct {
	CommitToken    string          `json:"commitToken"`
	ActivityID     string          `json:"activityId"`
	UserID         string          `json:"userId"`
	Qty            int64           `json:"qty"`
	PriceSnapshot  decimal.Decimal `json:"priceSnapshot"`
	Ts             time.Time       `json:"ts"`
	Reversed       bool            `json:"reversed,omitempty"`
	ReversedReason string          `json:"reversedReason,omitempty"`
	ReversedAt     *time.Time      `json:"reversedAt,omitempty"`
}

// CommitResult is the raw outcome of the atomic commit script.
type CommitResult struct {
	Code           Reason `json:"code"`
	RemainingStock int64  `json:"remainingStock"`
	UserPurchased  int64  `json:"userPurchased"`
	RemainingQuota int64  `json:"remainingQuota"`
}

// UserStatus aggregates the quota counters of one user for one activity.
type UserStatus struct {
	UserID          string `json:"userId"`
	ActivityID      string `json:"activityId"`
	Purchased       int64  `json:"purchased"`
	RemainingQuota  int64  `json:"remainingQuota"`
	DailyPurchased  int64  `json:"dailyPurchased"`
	GlobalPurchased int64  `json:"globalPurchased"`
}

// ValidationOutcome is the result of the cheap pre-commit activity check.
type ValidationOutcome struct {
	Valid    bool      `json:"valid"`
	Reason   Reason    `json:"reason,omitempty"`
	Activity *Activity `json:"activity,omitempty"`
}
