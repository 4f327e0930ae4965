package worker

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"stagehand/internal/engine"
)

// AMQPInvoker publishes invocation requests to the worker's queue. A
// publish error is reported synchronously, which is what lets the
// dispatcher distinguish "could not start" from a later worker failure.
type AMQPInvoker struct {
	channel    *amqp.Channel
	exchange   string
	routingKey string
}

// NewAMQPInvoker declares the exchange and returns a publisher bound to it.
func NewAMQPInvoker(conn *amqp.Connection, exchange, routingKey string) (*AMQPInvoker, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("worker: open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false,
		false,
		nil,
	); err != nil {
		return nil, fmt.Errorf("worker: declare exchange: %w", err)
	}
	return &AMQPInvoker{channel: ch, exchange: exchange, routingKey: routingKey}, nil
}

// Invoke implements engine.Invoker.
func (p *AMQPInvoker) Invoke(ctx context.Context, req engine.InvokeRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("worker: marshal invocation: %w", err)
	}
	if err := p.channel.PublishWithContext(ctx,
		p.exchange,
		p.routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		},
	); err != nil {
		return fmt.Errorf("worker: publish: %w", err)
	}
	return nil
}

// Consumer drains the worker queue; cmd/worker uses it to receive the
// invocations the API publishes.
type Consumer struct {
	channel *amqp.Channel
	queue   string
}

// NewConsumer declares the queue, binds it to the exchange, and returns
// a consumer over it.
func NewConsumer(conn *amqp.Connection, exchange, routingKey, queue string) (*Consumer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("worker: open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("worker: declare exchange: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("worker: declare queue: %w", err)
	}
	if err := ch.QueueBind(queue, routingKey, exchange, false, nil); err != nil {
		return nil, fmt.Errorf("worker: bind queue: %w", err)
	}
	return &Consumer{channel: ch, queue: queue}, nil
}

// Consume delivers decoded invocation requests to handle until ctx
// ends. Messages that fail to decode are rejected without requeue;
// handler errors requeue the message once.
func (c *Consumer) Consume(ctx context.Context, handle func(context.Context, engine.InvokeRequest) error) error {
	deliveries, err := c.channel.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("worker: consume: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("worker: delivery channel closed")
			}
			var req engine.InvokeRequest
			if err := json.Unmarshal(d.Body, &req); err != nil {
				_ = d.Reject(false)
				continue
			}
			if err := handle(ctx, req); err != nil {
				_ = d.Nack(false, !d.Redelivered)
				continue
			}
			_ = d.Ack(false)
		}
	}
}
