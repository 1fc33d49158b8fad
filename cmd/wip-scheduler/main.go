// Wip Scheduler — фоновые обязанности кластера.
//
// Лидер (держатель блокировки exec-scheduler):
//   - Публикует due tasks в tasks.due
//   - Выполняет запросы cleanup (удаление контейнеров)
//   - Очищает потреблённые сигналы и истёкшие блокировки по SWEEP_CRON
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/shaiso/wip/internal/app"
	"github.com/shaiso/wip/internal/scheduler"
	"github.com/shaiso/wip/internal/telemetry"
)

func main() {
	logger := telemetry.SetupLogger("wip-scheduler")
	logger.Info("starting wip-scheduler")

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

	s := scheduler.New(scheduler.Config{
		Tasks:    deps.Tasks,
		Signals:  deps.Signals,
		Locker:   deps.Locker,
		Waker:    deps.Waker,
		Cleanups: tasks.Cleanups,
		LeaseTTL: settings.LockTTL,
		Logger:   logger,
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := s.Run(ctx, scheduler.RunConfig{PurgeCron: settings.SweepCron}); err != nil {
			logger.Error("scheduler stopped", "error", err)
			cancel()
		}
	}()

	if err := app.Serve(ctx, logger, app.Port("SCHED_PORT", "8081"), nil); err != nil {
		logger.Error("http server error", "error", err)
		cancel()
	}
	<-done
	logger.Info("wip-scheduler stopped")
}
