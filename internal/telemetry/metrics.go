package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// stepsTotal — выполненные шаги FSM.
	//   - type: тип task
	//   - state: состояние, из которого сделан шаг
	//   - outcome: ok, wait, error, exhausted, finished, failed
	stepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wip_steps_total",
			Help: "Total number of FSM steps executed.",
		},
		[]string{"type", "state", "outcome"},
	)

	stepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wip_step_duration_seconds",
			Help:    "Time spent executing one FSM step.",
			Buckets: []float64{.005, .025, .1, .5, 1, 2.5, 10, 30, 60},
		},
		[]string{"type", "state"},
	)

	// lockContention — попытки взять занятую блокировку (по префиксу).
	lockContention = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wip_lock_contention_total",
			Help: "Total number of lock acquisitions that found the lock held.",
		},
		[]string{"prefix"},
	)

	// signalsTotal — события сигналов (registered, received, consumed, rejected).
	signalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wip_signals_total",
			Help: "Total number of signal events.",
		},
		[]string{"type", "event"},
	)

	cleanupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wip_cleanups_total",
			Help: "Total number of cleanup requests handled.",
		},
		[]string{"resource", "status"},
	)
)

// ObserveStep записывает шаг FSM.
func ObserveStep(taskType, state, outcome string, d time.Duration) {
	stepsTotal.WithLabelValues(taskType, state, outcome).Inc()
	stepDuration.WithLabelValues(taskType, state).Observe(d.Seconds())
}

// LockContended отмечает занятую блокировку.
func LockContended(prefix string) {
	lockContention.WithLabelValues(prefix).Inc()
}

// SignalEvent отмечает событие сигнала.
func SignalEvent(signalType, event string) {
	signalsTotal.WithLabelValues(signalType, event).Inc()
}

// CleanupHandled отмечает обработанный запрос на освобождение.
func CleanupHandled(resource, status string) {
	cleanupsTotal.WithLabelValues(resource, status).Inc()
}
