package rabbitmq

import (
	"context"

	"github.com/lunamall/seckill/pkg"
	"github.com/lunamall/seckill/pkg/mopentelemetry"
	"github.com/lunamall/seckill/pkg/mrabbitmq"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ProducerRepository provides an interface for Producer related to rabbitmq.
// It defines methods for sending messages to an exchange.
//
//go:generate mockgen --destination=producer.mock.go --package=rabbitmq . ProducerRepository
type ProducerRepository interface {
	ProducerDefault(ctx context.Context, exchange, key string, message []byte) error
	CheckRabbitMQHealth() bool
}

// ProducerRabbitMQRepository is a rabbitmq implementation of the producer.
type ProducerRabbitMQRepository struct {
	conn *mrabbitmq.RabbitMQConnection
}

// NewProducerRabbitMQ returns a new instance of ProducerRabbitMQRepository using the given rabbitmq connection.
func NewProducerRabbitMQ(c *mrabbitmq.RabbitMQConnection) *ProducerRabbitMQRepository {
	prmq := &ProducerRabbitMQRepository{
		conn: c,
	}

	if _, err := c.GetChannel(context.Background()); err != nil {
		panic("Failed to connect rabbitmq")
	}

	return prmq
}

// CheckRabbitMQHealth checks the health of the rabbitmq connection.
func (prmq *ProducerRabbitMQRepository) CheckRabbitMQHealth() bool {
	return prmq.conn.HealthCheck()
}

// ProducerDefault publishes a persistent message and waits for the broker
// confirm, so the outbox can tell an accepted publish from a silent drop.
func (prmq *ProducerRabbitMQRepository) ProducerDefault(ctx context.Context, exchange, key string, message []byte) error {
	logger := pkg.NewLoggerFromContext(ctx)
	tracer := pkg.NewTracerFromContext(ctx)

	ctx, spanProducer := tracer.Start(ctx, "rabbitmq.producer.publish_message")
	defer spanProducer.End()

	logger.Infof("Init sent message to exchange: %s, key: %s", exchange, key)

	ch, err := prmq.conn.GetChannel(ctx)
	if err != nil {
		mopentelemetry.HandleSpanError(&spanProducer, "Failed to get rabbitmq channel", err)

		return err
	}

	confirm, err := ch.PublishWithDeferredConfirmWithContext(
		ctx,
		exchange,
		key,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         message,
		})
	if err != nil {
		mopentelemetry.HandleSpanError(&spanProducer, "Failed to publish message", err)

		logger.Errorf("Failed to publish message: %s", err)

		return err
	}

	if ok, err := confirm.WaitContext(ctx); err != nil || !ok {
		if err == nil {
			err = amqp.ErrClosed
		}

		mopentelemetry.HandleSpanError(&spanProducer, "Broker did not confirm message", err)

		logger.Errorf("Broker did not confirm message: %v", err)

		return err
	}

	logger.Infof("Messages sent successfully to exchange: %s, key: %s", exchange, key)

	return nil
}
