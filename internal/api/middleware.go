package api

import (
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
)

// HeaderRequestID — заголовок с идентификатором запроса.
const HeaderRequestID = "X-Request-ID"

type middleware func(http.Handler) http.Handler

// wrap оборачивает handler: первый middleware — внешний.
func wrap(h http.Handler, mws ...middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// withRequestID проставляет X-Request-ID, если клиент его не передал.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(HeaderRequestID, id)
		}
		w.Header().Set(HeaderRequestID, id)
		next.ServeHTTP(w, r)
	})
}

// accessLog пишет одну запись на запрос и перехватывает панику handler'а.
// Callbacks внешних систем логируются на Info, остальное на Debug.
func accessLog(logger *slog.Logger) middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w}
			log := logger.With("request_id", r.Header.Get(HeaderRequestID))

			defer func() {
				if p := recover(); p != nil {
					log.Error("handler panic", "panic", p, "path", r.URL.Path, "stack", string(debug.Stack()))
					if sw.status == 0 {
						InternalError(sw, log, nil)
					}
				}

				level := slog.LevelDebug
				if r.Method == http.MethodPost || sw.code() >= http.StatusInternalServerError {
					level = slog.LevelInfo
				}
				log.Log(r.Context(), level, "http request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", sw.code(),
					"bytes", sw.bytes,
					"duration", time.Since(start),
				)
			}()

			next.ServeHTTP(sw, r)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusWriter) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

func (w *statusWriter) code() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}
