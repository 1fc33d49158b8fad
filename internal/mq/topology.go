package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — имя обменника.
type Exchange string

// Queue — имя очереди.
type Queue string

// RoutingKey — ключ маршрутизации.
type RoutingKey string

// Exchanges.
const (
	ExchangeTasks   Exchange = "wip.tasks"
	ExchangeSignals Exchange = "wip.signals"
	ExchangeDLQ     Exchange = "wip.dlq"
)

// Queues.
const (
	QueueTasksDue        Queue = "tasks.due"
	QueueSignalsReceived Queue = "signals.received"
	QueueDLQ             Queue = "dlq.wip"
)

// Routing keys.
const (
	RoutingKeyDue      RoutingKey = "due"
	RoutingKeyReceived RoutingKey = "received"
	RoutingKeyDead     RoutingKey = "dead"
)

type binding struct {
	queue    Queue
	key      RoutingKey
	exchange Exchange
	dlq      bool
}

var topology = []binding{
	{QueueTasksDue, RoutingKeyDue, ExchangeTasks, true},
	{QueueSignalsReceived, RoutingKeyReceived, ExchangeSignals, true},
	{QueueDLQ, RoutingKeyDead, ExchangeDLQ, false},
}

// SetupTopology объявляет exchanges, queues и bindings. Идемпотентна.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		for _, ex := range []Exchange{ExchangeTasks, ExchangeSignals, ExchangeDLQ} {
			if err := ch.ExchangeDeclare(string(ex), "direct", true, false, false, false, nil); err != nil {
				return fmt.Errorf("declare exchange %s: %w", ex, err)
			}
		}

		// отклонённые без requeue сообщения уходят в dlq.wip
		dead := amqp.Table{
			"x-dead-letter-exchange":    string(ExchangeDLQ),
			"x-dead-letter-routing-key": string(RoutingKeyDead),
		}
		for _, b := range topology {
			var args amqp.Table
			if b.dlq {
				args = dead
			}
			if _, err := ch.QueueDeclare(string(b.queue), true, false, false, false, args); err != nil {
				return fmt.Errorf("declare queue %s: %w", b.queue, err)
			}
			if err := ch.QueueBind(string(b.queue), string(b.key), string(b.exchange), false, nil); err != nil {
				return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
			}
		}
		return nil
	})
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  wip RabbitMQ topology:
    wip.tasks (direct)
    └── tasks.due [due]             consumer: wip-worker, DLQ: dlq.wip
    wip.signals (direct)
    └── signals.received [received] consumer: wip-worker, DLQ: dlq.wip
    wip.dlq (direct)
    └── dlq.wip [dead]              ручной разбор
`
}
