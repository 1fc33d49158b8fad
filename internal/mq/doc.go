// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — соединение с reconnect и общим каналом
//   - topology.go   — exchanges, queues, bindings
//   - publisher.go  — публикация событий
//   - consumer.go   — потребление с ack/nack и DLQ
//
// Сообщения только ускоряют реакцию воркеров: источник истины — таблица
// tasks, и потерянное сообщение лишь откладывает шаг до следующего опроса.
//
// Типы сообщений:
//   - task.due        — task готов к следующему шагу
//   - signal.received — для task пришёл сигнал
//
// Exchanges:
//   - wip.tasks   — события tasks
//   - wip.signals — события сигналов
//   - wip.dlq     — dead letter queue
package mq
