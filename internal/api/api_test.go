package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/shaiso/wip/internal/domain"
	"github.com/shaiso/wip/internal/engine"
	"github.com/shaiso/wip/internal/lock"
	"github.com/shaiso/wip/internal/repo"
	"github.com/shaiso/wip/internal/signal"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type recordingWaker struct {
	ids []int64
}

func (w *recordingWaker) PublishTaskDue(_ context.Context, id int64) error {
	w.ids = append(w.ids, id)
	return nil
}

type testServer struct {
	mux     *http.ServeMux
	tasks   *repo.MemoryTaskRepo
	signals *signal.Service
	other   *lock.SQLLocker
	waker   *recordingWaker
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	now := func() time.Time { return testNow }

	store := signal.NewSQLStore(db, repo.SQLite)
	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatal(err)
	}
	locker := lock.NewSQLLocker(lock.SQLConfig{DB: db, Dialect: repo.SQLite, Owner: "api", Now: now})
	if err := locker.EnsureSchema(ctx); err != nil {
		t.Fatal(err)
	}

	reg := engine.NewRegistry()
	def, err := engine.NewDefinition("echo", engine.MustCompile(`start{* -> run} run{* -> finish}`))
	if err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(def); err != nil {
		t.Fatal(err)
	}

	s := &testServer{
		mux:     http.NewServeMux(),
		tasks:   repo.NewMemoryTaskRepo(),
		signals: signal.NewService(signal.Config{Store: store, BaseURL: "http://api", Logger: logger, Now: now}),
		other:   lock.NewSQLLocker(lock.SQLConfig{DB: db, Dialect: repo.SQLite, Owner: "worker", Now: now}),
		waker:   &recordingWaker{},
	}
	h := NewHandler(Config{
		Tasks:    s.tasks,
		Registry: reg,
		Signals:  s.signals,
		Locker:   locker,
		Waker:    s.waker,
		Logger:   logger,
		Now:      now,
	})
	h.RegisterRoutes(s.mux)
	return s
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	return rec
}

func decodeTask(t *testing.T, rec *httptest.ResponseRecorder) TaskResponse {
	t.Helper()
	var resp struct {
		Data TaskResponse `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp.Data
}

func (s *testServer) createTask(t *testing.T) int64 {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/v1/tasks", `{"type":"echo","group":"ops","inputs":{"host":"db1"}}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body)
	}
	return decodeTask(t, rec).ID
}

func TestCreateAndGetTask(t *testing.T) {
	s := newTestServer(t)
	id := s.createTask(t)

	rec := s.do(t, http.MethodGet, "/api/v1/tasks/"+strconv.FormatInt(id, 10), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get: %d", rec.Code)
	}
	got := decodeTask(t, rec)
	if got.Type != "echo" || got.Group != "ops" || got.State != "start" || got.Status != domain.TaskStatusActive {
		t.Errorf("task = %+v", got)
	}
	if got.Inputs["host"] != "db1" {
		t.Errorf("inputs = %v", got.Inputs)
	}
	if len(s.waker.ids) != 1 || s.waker.ids[0] != id {
		t.Errorf("waker = %v", s.waker.ids)
	}
}

func TestCreateTask_BadRequests(t *testing.T) {
	s := newTestServer(t)
	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{`},
		{"missing type", `{"group":"ops"}`},
		{"unknown type", `{"type":"nope"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := s.do(t, http.MethodPost, "/api/v1/tasks", tt.body); rec.Code != http.StatusBadRequest {
				t.Errorf("code = %d, want 400", rec.Code)
			}
		})
	}
}

func TestGetTask_Errors(t *testing.T) {
	s := newTestServer(t)
	if rec := s.do(t, http.MethodGet, "/api/v1/tasks/abc", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad id: %d", rec.Code)
	}
	if rec := s.do(t, http.MethodGet, "/api/v1/tasks/42", ""); rec.Code != http.StatusNotFound {
		t.Errorf("missing: %d", rec.Code)
	}
}

func TestListTasks(t *testing.T) {
	s := newTestServer(t)
	s.createTask(t)
	s.createTask(t)

	rec := s.do(t, http.MethodGet, "/api/v1/tasks?group=ops&limit=1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list: %d", rec.Code)
	}
	var resp struct {
		Data  []TaskResponse `json:"data"`
		Total int            `json:"total"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 1 || resp.Data[0].ID != 2 {
		t.Errorf("list = %+v", resp)
	}

	if rec := s.do(t, http.MethodGet, "/api/v1/tasks?limit=x", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit: %d", rec.Code)
	}
}

func TestPostSignal(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	cb, err := s.signals.Register(ctx, 1, domain.SignalComplete)
	if err != nil {
		t.Fatal(err)
	}
	path := signal.CallbackPath + cb.ID.String()

	if rec := s.do(t, http.MethodPost, path, `{"status":"success"}`); rec.Code != http.StatusAccepted {
		t.Fatalf("post: %d %s", rec.Code, rec.Body)
	}
	if rec := s.do(t, http.MethodPost, path, ""); rec.Code != http.StatusConflict {
		t.Errorf("second post: %d, want 409", rec.Code)
	}
	if _, err := s.signals.Resolve(ctx, cb.ID); err != nil {
		t.Fatal(err)
	}
	if rec := s.do(t, http.MethodPost, path, ""); rec.Code != http.StatusNotFound {
		t.Errorf("post after consume: %d, want 404", rec.Code)
	}

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"unknown id", signal.CallbackPath + uuid.NewString(), "", http.StatusNotFound},
		{"bad id", signal.CallbackPath + "xyz", "", http.StatusBadRequest},
		{"array body", signal.CallbackPath + uuid.NewString(), `[1,2]`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := s.do(t, http.MethodPost, tt.path, tt.body); rec.Code != tt.want {
				t.Errorf("code = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestPostSignal_EmptyBody(t *testing.T) {
	s := newTestServer(t)
	cb, err := s.signals.Register(context.Background(), 1, domain.SignalData)
	if err != nil {
		t.Fatal(err)
	}
	if rec := s.do(t, http.MethodPost, signal.CallbackPath+cb.ID.String(), ""); rec.Code != http.StatusAccepted {
		t.Errorf("code = %d, want 202", rec.Code)
	}
}

func TestPauseResumeForce(t *testing.T) {
	s := newTestServer(t)
	id := s.createTask(t)
	base := "/api/v1/tasks/" + strconv.FormatInt(id, 10)

	rec := s.do(t, http.MethodPost, base+"/pause", "")
	if rec.Code != http.StatusOK || !decodeTask(t, rec).Paused {
		t.Fatalf("pause: %d", rec.Code)
	}

	rec = s.do(t, http.MethodPost, base+"/resume", "")
	if rec.Code != http.StatusOK || decodeTask(t, rec).Paused {
		t.Fatalf("resume: %d", rec.Code)
	}

	rec = s.do(t, http.MethodPost, base+"/force", `{"state":"run"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("force: %d %s", rec.Code, rec.Body)
	}
	if got := decodeTask(t, rec); got.ForceState != "run" {
		t.Errorf("force_state = %q", got.ForceState)
	}

	if rec := s.do(t, http.MethodPost, base+"/force", `{"state":"ghost"}`); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("force unknown state: %d, want 422", rec.Code)
	}
	if rec := s.do(t, http.MethodPost, base+"/force", `{}`); rec.Code != http.StatusBadRequest {
		t.Errorf("force without state: %d, want 400", rec.Code)
	}
}

func TestControl_Conflicts(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	id := s.createTask(t)
	base := "/api/v1/tasks/" + strconv.FormatInt(id, 10)

	// воркер держит блокировку task
	key := lock.Key(lock.PrefixUpdate, id)
	if ok, err := s.other.Acquire(ctx, key, time.Minute); err != nil || !ok {
		t.Fatalf("acquire: %v %v", ok, err)
	}
	if rec := s.do(t, http.MethodPost, base+"/pause", ""); rec.Code != http.StatusConflict {
		t.Errorf("pause while stepping: %d, want 409", rec.Code)
	}
	if _, err := s.other.Release(ctx, key); err != nil {
		t.Fatal(err)
	}

	task, err := s.tasks.GetByID(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	task.MarkFinished(testNow, 0, "")
	if err := s.tasks.Update(ctx, task); err != nil {
		t.Fatal(err)
	}
	if rec := s.do(t, http.MethodPost, base+"/pause", ""); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("pause finished: %d, want 422", rec.Code)
	}
	if rec := s.do(t, http.MethodPost, "/api/v1/tasks/99/resume", ""); rec.Code != http.StatusNotFound {
		t.Errorf("resume missing: %d, want 404", rec.Code)
	}
}

func TestListTypes(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/api/v1/types", "")
	var resp struct {
		Data []string `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Data) != 1 || resp.Data[0] != "echo" {
		t.Errorf("types = %v", resp.Data)
	}
}

func TestMiddleware_RequestIDAndPanic(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := wrap(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}), withRequestID, accessLog(logger))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("code = %d, want 500", rec.Code)
	}
	if _, err := uuid.Parse(rec.Header().Get(HeaderRequestID)); err != nil {
		t.Errorf("request id = %q", rec.Header().Get(HeaderRequestID))
	}

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(HeaderRequestID, "abc")
	rec = httptest.NewRecorder()
	wrap(http.NotFoundHandler(), withRequestID, accessLog(logger)).ServeHTTP(rec, req)
	if got := rec.Header().Get(HeaderRequestID); got != "abc" {
		t.Errorf("request id = %q, want abc", got)
	}
}
