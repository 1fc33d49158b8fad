package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
)

// maxSignalBody — предел тела callback.
const maxSignalBody = 1 << 20

// PostSignal принимает callback внешней системы.
// POST /api/v1/signals/{id}
//
// Тело — необязательный JSON-объект (payload). 202 — сигнал принят,
// 404 — сигнал неизвестен или уже потреблён, 409 — уже получен.
func (h *Handler) PostSignal(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid signal id")
		return
	}

	var payload map[string]any
	err = json.NewDecoder(io.LimitReader(r.Body, maxSignalBody)).Decode(&payload)
	if err != nil && !errors.Is(err, io.EOF) {
		BadRequest(w, "payload must be a JSON object")
		return
	}

	sig, err := h.signals.Post(r.Context(), id, payload)
	if HandleError(w, h.logger, err) {
		return
	}
	Accepted(w, SignalFromDomain(sig))
}

// ListTypes возвращает зарегистрированные типы tasks.
// GET /api/v1/types
func (h *Handler) ListTypes(w http.ResponseWriter, _ *http.Request) {
	types := h.registry.Types()
	List(w, types, len(types))
}
