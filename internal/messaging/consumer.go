package messaging

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rabbitmq/amqp091-go"
)

// prefetchLimit bounds unacked deliveries so a burst of settlement events
// cannot flood the notification dispatcher.
const prefetchLimit = 32

// Consumer feeds settlement events to a handler. The service runs a single
// durable queue bound to the fanout settlement exchange; event kinds are
// told apart by the AMQP Type property, so routing lives in the handler,
// not in the binding.
type Consumer struct {
	conn   *amqp091.Connection
	queue  string
	tag    string
	logger *slog.Logger
}

func NewRabbitConsumer(url, exchange, queue string, logger *slog.Logger) (*Consumer, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(exchange, "fanout", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	if err := ch.QueueBind(queue, "", exchange, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("bind queue %s: %w", queue, err)
	}

	return &Consumer{
		conn:   conn,
		queue:  queue,
		tag:    queue + ".consumer",
		logger: logger,
	}, nil
}

// Start consumes until the context is cancelled or the channel closes.
// Handlers ack/nack their own deliveries.
func (c *Consumer) Start(ctx context.Context, handler func(context.Context, amqp091.Delivery)) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}

	if err := ch.Qos(prefetchLimit, 0, false); err != nil {
		ch.Close()
		return fmt.Errorf("set qos: %w", err)
	}

	// Consume with an explicit tag so shutdown can cancel this exact
	// subscription before closing the channel.
	msgs, err := ch.Consume(c.queue, c.tag, false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return fmt.Errorf("consume %s: %w", c.queue, err)
	}

	go func() {
		<-ctx.Done()
		_ = ch.Cancel(c.tag, false)
		ch.Close()
	}()

	return c.run(ctx, msgs, handler)
}

func (c *Consumer) run(ctx context.Context, msgs <-chan amqp091.Delivery, handler func(context.Context, amqp091.Delivery)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				c.logger.Info("settlement event stream closed", "queue", c.queue)
				return nil
			}
			handler(ctx, msg)
		}
	}
}

func (c *Consumer) Close() error {
	return c.conn.Close()
}
