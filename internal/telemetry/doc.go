// Package telemetry — логирование и метрики процессов wip.
//
// SetupLogger настраивает slog по LOG_LEVEL и LOG_FORMAT и помечает записи
// именем сервиса. Метрики (шаги FSM, занятые блокировки, сигналы, cleanup)
// регистрируются в default registry Prometheus и отдаются на /metrics.
package telemetry
