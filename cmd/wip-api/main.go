// Wip API — HTTP API tasks и приёмник callback-сигналов.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/shaiso/wip/internal/api"
	"github.com/shaiso/wip/internal/app"
	"github.com/shaiso/wip/internal/telemetry"
)

func main() {
	logger := telemetry.SetupLogger("wip-api")
	logger.Info("starting wip-api")

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

	handler := api.NewHandler(api.Config{
		Tasks:    deps.Tasks,
		Registry: tasks.Registry,
		Signals:  deps.Signals,
		Locker:   deps.Locker,
		LockTTL:  settings.LockTTL,
		Waker:    deps.Waker,
		Logger:   logger,
	})

	err = app.Serve(ctx, logger, app.Port("API_PORT", "8080"), func(mux *http.ServeMux) {
		handler.RegisterRoutes(mux)
	})
	if err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	logger.Info("stopped")
}
