package command

import (
	"context"
	"encoding/json"
	"time"

	"github.com/lunamall/seckill/pkg"
	cn "github.com/lunamall/seckill/pkg/constant"
	"github.com/lunamall/seckill/pkg/mmodel"
)

// EnqueueOrderCommitted persists the order-committed event. The commit token
// doubles as the message id: at-least-once delivery stays deduplicable downstream.
func (uc *UseCase) EnqueueOrderCommitted(ctx context.Context, record *mmodel.CommitRecord) error {
	payload, err := json.Marshal(mmodel.OrderPayload{
		CommitToken:   record.CommitToken,
		ActivityID:    record.ActivityID,
		UserID:        record.UserID,
		Qty:           record.Qty,
		PriceSnapshot: record.PriceSnapshot,
		Ts:            record.Ts,
	})
	if err != nil {
		return err
	}

	return uc.enqueue(ctx, record.CommitToken, cn.OrderExchange, cn.OrderCommittedKey, payload)
}

// EnqueueStockChanged persists a stock-sync event.
func (uc *UseCase) EnqueueStockChanged(ctx context.Context, payload mmodel.StockSyncPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	return uc.enqueue(ctx, pkg.GenerateUUIDv7().String(), cn.StockExchange, cn.StockChangedKey, body)
}

// EnqueueUserNotification persists a user-notification event.
func (uc *UseCase) EnqueueUserNotification(ctx context.Context, payload mmodel.EmailPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	return uc.enqueue(ctx, pkg.GenerateUUIDv7().String(), cn.EmailExchange, cn.EmailSendKey, body)
}

func (uc *UseCase) enqueue(ctx context.Context, id, topic, routingKey string, payload []byte) error {
	now := time.Now()

	msg := &mmodel.ReliableMessage{
		ID:            id,
		Topic:         topic,
		RoutingKey:    routingKey,
		Payload:       payload,
		Status:        mmodel.MessagePending,
		Attempts:      0,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	return uc.OutboxRepo.Save(ctx, msg, uc.Config.MessageTTL)
}
