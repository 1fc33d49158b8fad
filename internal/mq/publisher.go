package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/wip/internal/domain"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeTaskDue        MessageType = "task.due"
	MessageTypeSignalReceived MessageType = "signal.received"
)

// Message — конверт сообщения.
type Message struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"type"`
	Payload   any         `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// TaskDuePayload — task готов к шагу.
type TaskDuePayload struct {
	TaskID int64 `json:"task_id"`
}

// SignalReceivedPayload — для task получен сигнал.
type SignalReceivedPayload struct {
	SignalID uuid.UUID         `json:"signal_id"`
	TaskID   int64             `json:"task_id"`
	Type     domain.SignalType `json:"type"`
}

// Publisher публикует сообщения в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{conn: conn, logger: logger}
}

// NewMessage создаёт конверт с новым ID.
func NewMessage(typ MessageType, payload any) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Type:      typ,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// Publish публикует сообщение в exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, key RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	err = p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		return ch.PublishWithContext(ctx, string(exchange), string(key), false, false, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    msg.ID,
			Type:         string(msg.Type),
			Timestamp:    msg.Timestamp,
			Body:         body,
		})
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", msg.Type, err)
	}

	p.logger.Debug("message published",
		"exchange", exchange,
		"routing_key", key,
		"message_id", msg.ID,
		"type", msg.Type,
	)
	return nil
}

// PublishTaskDue сообщает воркерам, что task готов к шагу.
func (p *Publisher) PublishTaskDue(ctx context.Context, taskID int64) error {
	msg := NewMessage(MessageTypeTaskDue, TaskDuePayload{TaskID: taskID})
	return p.Publish(ctx, ExchangeTasks, RoutingKeyDue, msg)
}

// NotifySignal сообщает воркерам о полученном сигнале.
func (p *Publisher) NotifySignal(ctx context.Context, sig *domain.Signal) error {
	msg := NewMessage(MessageTypeSignalReceived, SignalReceivedPayload{
		SignalID: sig.ID,
		TaskID:   sig.TaskID,
		Type:     sig.Type,
	})
	return p.Publish(ctx, ExchangeSignals, RoutingKeyReceived, msg)
}
