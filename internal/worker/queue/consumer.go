package queue

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/facultylens/pipeline-service/internal/repository"
)

// Message is a broker delivery with its acknowledgement hooks detached from
// the AMQP types, so worker code (and its tests) never touch the driver.
type Message struct {
	Body      []byte
	Timestamp time.Time
	Ack       func(multiple bool) error
	Nack      func(multiple bool, requeue bool) error
}

type Consumer interface {
	Consume(ctx context.Context) (<-chan Message, error)
	Close() error
}

type dispatchConsumer struct {
	broker      repository.RabbitMQRepository
	queue       string
	consumerTag string
	logger      zerolog.Logger
}

func NewDispatchConsumer(broker repository.RabbitMQRepository, queue, consumerTag string, logger zerolog.Logger) Consumer {
	return &dispatchConsumer{
		broker:      broker,
		queue:       queue,
		consumerTag: consumerTag,
		logger:      logger,
	}
}

func (c *dispatchConsumer) Consume(ctx context.Context) (<-chan Message, error) {
	deliveries, err := c.broker.Consume(ctx, c.queue, c.consumerTag)
	if err != nil {
		return nil, err
	}

	output := make(chan Message)

	go func() {
		defer close(output)

		for {
			select {
			case <-ctx.Done():
				c.logger.Info().Msg("Stopping dispatch consumer")
				return
			case delivery, ok := <-deliveries:
				if !ok {
					c.logger.Warn().Msg("Broker delivery channel closed")
					return
				}

				msg := Message{
					Body:      delivery.Body,
					Timestamp: delivery.Timestamp,
					Ack:       delivery.Ack,
					Nack:      delivery.Nack,
				}

				select {
				case output <- msg:
				case <-ctx.Done():
					delivery.Nack(false, true)
					return
				}
			}
		}
	}()

	c.logger.Info().
		Str("queue", c.queue).
		Str("consumer_tag", c.consumerTag).
		Msg("Dispatch consumer started")

	return output, nil
}

func (c *dispatchConsumer) Close() error {
	c.logger.Info().Msg("Dispatch consumer closed")
	return nil
}
