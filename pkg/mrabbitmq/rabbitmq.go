package mrabbitmq

import (
	"context"

	"github.com/lunamall/seckill/pkg/mlog"
	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQConnection is a hub which deal with rabbitmq connections.
type RabbitMQConnection struct {
	ConnectionStringSource string
	Connection             *amqp.Connection
	Channel                *amqp.Channel
	Connected              bool
	Logger                 mlog.Logger
}

// Connect keeps a singleton connection with rabbitmq.
func (rc *RabbitMQConnection) Connect(ctx context.Context) error {
	rc.Logger.Info("Connecting on rabbitmq...")

	conn, err := amqp.Dial(rc.ConnectionStringSource)
	if err != nil {
		rc.Logger.Errorf("failed to connect on rabbitmq: %v", err)

		return err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()

		rc.Logger.Errorf("failed to open channel on rabbitmq: %v", err)

		return err
	}

	// Publisher confirms let the outbox distinguish a broker ack from a silent drop.
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()

		rc.Logger.Errorf("failed to put channel in confirm mode: %v", err)

		return err
	}

	rc.Logger.Info("Connected on rabbitmq ✅ ")

	rc.Connected = true
	rc.Connection = conn
	rc.Channel = ch

	return nil
}

// GetChannel returns the rabbitmq channel, initializing the connection if necessary.
func (rc *RabbitMQConnection) GetChannel(ctx context.Context) (*amqp.Channel, error) {
	if !rc.Connected || rc.Channel == nil || rc.Channel.IsClosed() {
		rc.Connected = false

		if err := rc.Connect(ctx); err != nil {
			rc.Logger.Errorf("ERRCONECT %s", err)

			return nil, err
		}
	}

	return rc.Channel, nil
}

// HealthCheck reports whether the underlying connection is usable.
func (rc *RabbitMQConnection) HealthCheck() bool {
	if rc.Connection == nil || rc.Connection.IsClosed() {
		rc.Logger.Error("rabbitmq unhealthy...")

		return false
	}

	return true
}

// Close tears the channel and connection down.
func (rc *RabbitMQConnection) Close() {
	if rc.Channel != nil && !rc.Channel.IsClosed() {
		_ = rc.Channel.Close()
	}

	if rc.Connection != nil && !rc.Connection.IsClosed() {
		_ = rc.Connection.Close()
	}

	rc.Connected = false
}
