package api

import (
	"net/http"

	"github.com/shaiso/wip/internal/signal"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	chain := func(next http.Handler) http.Handler {
		return wrap(next, withRequestID, accessLog(h.logger))
	}

	// Signals (callbacks внешних систем)
	mux.Handle("POST "+signal.CallbackPath+"{id}", chain(http.HandlerFunc(h.PostSignal)))

	// Tasks
	mux.Handle("GET /api/v1/tasks", chain(http.HandlerFunc(h.ListTasks)))
	mux.Handle("POST /api/v1/tasks", chain(http.HandlerFunc(h.CreateTask)))
	mux.Handle("GET /api/v1/tasks/{id}", chain(http.HandlerFunc(h.GetTask)))
	mux.Handle("GET /api/v1/tasks/{id}/signals", chain(http.HandlerFunc(h.ListTaskSignals)))
	mux.Handle("POST /api/v1/tasks/{id}/pause", chain(http.HandlerFunc(h.PauseTask)))
	mux.Handle("POST /api/v1/tasks/{id}/resume", chain(http.HandlerFunc(h.ResumeTask)))
	mux.Handle("POST /api/v1/tasks/{id}/force", chain(http.HandlerFunc(h.ForceTask)))

	// Task types
	mux.Handle("GET /api/v1/types", chain(http.HandlerFunc(h.ListTypes)))
}
