// Package app собирает процессы wip из переменных окружения:
// Settings (Load), общие зависимости (Open: Postgres, locks, RabbitMQ,
// signals), реестр типов task (BuildTasks) и HTTP-сервер с /healthz и
// /metrics (Serve).
//
// Ошибки конфигурации возвращаются сразу: процесс не должен стартовать
// с неверными настройками.
package app
