package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrPermanent помечает ошибку, после которой повтор бессмысленен.
// Такие сообщения сразу уходят в DLQ.
var ErrPermanent = errors.New("permanent failure")

// Handler обрабатывает сообщение.
type Handler func(ctx context.Context, d *Delivery) error

// Delivery — полученное сообщение.
type Delivery struct {
	Message Message
	Raw     amqp.Delivery
}

// ConsumerConfig — конфигурация Consumer.
type ConsumerConfig struct {
	Queue   Queue
	Handler Handler

	// Prefetch — сколько неподтверждённых сообщений держать. По умолчанию 1.
	Prefetch int
}

// Consumer потребляет сообщения из очереди.
//
// Ошибка обработчика возвращает сообщение в очередь один раз; при повторной
// доставке или ErrPermanent оно уходит в DLQ.
type Consumer struct {
	conn     *Connection
	logger   *slog.Logger
	queue    Queue
	handler  Handler
	prefetch int
}

// NewConsumer создаёт Consumer.
func NewConsumer(conn *Connection, logger *slog.Logger, cfg ConsumerConfig) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}
	return &Consumer{
		conn:     conn,
		logger:   logger.With("queue", cfg.Queue),
		queue:    cfg.Queue,
		handler:  cfg.Handler,
		prefetch: cfg.Prefetch,
	}
}

// Run потребляет сообщения до отмены ctx, переподключаясь после разрывов.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		deliveries, err := c.subscribe(ctx)
		if err == nil {
			c.logger.Info("consumer started")
			c.drain(ctx, deliveries)
		} else {
			c.logger.Error("subscribe failed", "error", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.conn.Reconnected():
			c.logger.Info("reconnected, restarting consumer")
		}
	}
}

func (c *Consumer) subscribe(ctx context.Context) (<-chan amqp.Delivery, error) {
	var deliveries <-chan amqp.Delivery
	err := c.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		if err := ch.Qos(c.prefetch, 0, false); err != nil {
			return fmt.Errorf("set qos: %w", err)
		}
		d, err := ch.Consume(string(c.queue), "", false, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("consume: %w", err)
		}
		deliveries = d
		return nil
	})
	return deliveries, err
}

func (c *Consumer) drain(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-deliveries:
			if !ok {
				c.logger.Warn("deliveries channel closed")
				return
			}
			c.handle(ctx, raw)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, raw amqp.Delivery) {
	var msg Message
	if err := json.Unmarshal(raw.Body, &msg); err != nil {
		c.logger.Error("malformed message", "error", err, "body", string(raw.Body))
		_ = raw.Nack(false, false)
		return
	}

	err := c.handler(ctx, &Delivery{Message: msg, Raw: raw})
	if err == nil {
		_ = raw.Ack(false)
		return
	}

	requeue := !raw.Redelivered && !errors.Is(err, ErrPermanent)
	c.logger.Error("handler failed",
		"message_id", msg.ID,
		"type", msg.Type,
		"requeue", requeue,
		"error", err,
	)
	_ = raw.Nack(false, requeue)
}

// ParsePayload разбирает payload сообщения в T.
func ParsePayload[T any](msg *Message) (T, error) {
	var result T
	data, err := json.Marshal(msg.Payload)
	if err != nil {
		return result, fmt.Errorf("marshal payload: %w", err)
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return result, fmt.Errorf("unmarshal payload: %w", err)
	}
	return result, nil
}
