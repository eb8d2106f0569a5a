package mmodel

import (
	"time"

	"github.com/shopspring/decimal"
)

// Outbox message statuses. A message walks a prefix of
// pending → in_flight → (ack | retry_pending* ) → (ack | dead) and never
// leaves ack or dead.
const (
	MessagePending      = "pending"
	MessageInFlight     = "in_flight"
	MessageAck          = "ack"
	MessageRetryPending = "retry_pending"
	MessageDead         = "dead"
)

// ReliableMessage is one durable outbox entry, keyed by message id. Order
// messages reuse the commit token as id so redelivery stays idempotent.
type ReliableMessage struct {
	ID            string    `json:"id"`
	Topic         string    `json:"topic"`
	RoutingKey    string    `json:"routingKey"`
	Payload       []byte    `json:"payload"`
	Status        string    `json:"status"`
	Attempts      int       `json:"attempts"`
	NextAttemptAt time.Time `json:"nextAttemptAt"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
	LastError     string    `json:"lastError,omitempty"`
}

// OrderPayload is the order-committed event body.
type OrderPayload struct {
	CommitToken   string          `json:"commitToken"`
	ActivityID    string          `json:"activityId"`
	UserID        string          `json:"userId"`
	Qty           int64           `json:"qty"`
	PriceSnapshot decimal.Decimal `json:"priceSnapshot"`
	Ts            time.Time       `json:"ts"`
}

// StockSyncPayload is the stock-changed event body.
type StockSyncPayload struct {
	ActivityID   string    `json:"activityId"`
	StockChange  int64     `json:"stockChange"`
	CurrentStock int64     `json:"currentStock"`
	Operation    string    `json:"operation"`
	Source       string    `json:"source"`
	Ts           time.Time `json:"ts"`
}

// EmailPayload is the user-notification event body.
type EmailPayload struct {
	Recipients []string       `json:"recipients"`
	TemplateID string         `json:"templateId"`
	Data       map[string]any `json:"data,omitempty"`
	Priority   string         `json:"priority"`
	Ts         time.Time      `json:"ts"`
}

// OutboxStats is the point-in-time statistics surface of the outbox.
type OutboxStats struct {
	TotalErrors       int64            `json:"totalErrors"`
	PermanentFailures int64            `json:"permanentFailures"`
	RetryErrors       int64            `json:"retryErrors"`
	ErrorByType       map[string]int64 `json:"errorByType"`
	Outstanding       int64            `json:"outstanding"`
	Dead              int64            `json:"dead"`
}
