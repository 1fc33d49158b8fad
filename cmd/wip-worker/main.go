// Wip Worker — шагает tasks.
//
// Worker:
//   - Опрашивает due tasks в Postgres
//   - Просыпается по сообщениям tasks.due и signals.received из RabbitMQ
//   - Выполняет ровно один шаг FSM за захват блокировки update-<id>
//
// Workers масштабируются горизонтально.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/shaiso/wip/internal/app"
	"github.com/shaiso/wip/internal/telemetry"
	"github.com/shaiso/wip/internal/worker"
)

func main() {
	logger := telemetry.SetupLogger("wip-worker")
	logger.Info("starting wip-worker")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	settings, err := app.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	deps, err := app.Open(ctx, settings, logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer deps.Close()

	tasks, err := app.BuildTasks(settings, deps.Signals, logger)
	if err != nil {
		logger.Error("failed to register task types", "error", err)
		os.Exit(1)
	}

	w := worker.New(worker.Config{
		Tasks:        deps.Tasks,
		Registry:     tasks.Registry,
		Locker:       deps.Locker,
		Signals:      deps.Signals,
		Waker:        deps.Waker,
		Conn:         deps.Conn,
		PollInterval: settings.PollInterval,
		LockTTL:      settings.LockTTL,
		Logger:       logger,
	})
	if err := w.Start(ctx); err != nil {
		logger.Error("failed to start worker", "error", err)
		os.Exit(1)
	}

	if err := app.Serve(ctx, logger, app.Port("WORKER_PORT", "8082"), nil); err != nil {
		logger.Error("http server error", "error", err)
		cancel()
	}

	w.Stop()
	logger.Info("wip-worker stopped")
}
