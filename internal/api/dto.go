package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/wip/internal/domain"
)

// CreateTaskRequest — запрос на создание task.
type CreateTaskRequest struct {
	Type   string         `json:"type"`
	Group  string         `json:"group,omitempty"`
	Inputs map[string]any `json:"inputs,omitempty"`
}

// ForceTaskRequest — запрос на принудительный переход.
type ForceTaskRequest struct {
	State string `json:"state"`
}

// TaskResponse — ответ с task.
type TaskResponse struct {
	ID          int64                     `json:"id"`
	Group       string                    `json:"group"`
	Type        string                    `json:"type"`
	State       string                    `json:"state"`
	Status      domain.TaskStatus         `json:"status"`
	ExitCode    int                       `json:"exit_code"`
	ExitMessage string                    `json:"exit_message,omitempty"`
	Paused      bool                      `json:"paused"`
	Failed      bool                      `json:"failed"`
	ForceState  string                    `json:"force_state,omitempty"`
	Steps       int                       `json:"steps"`
	Inputs      map[string]any            `json:"inputs,omitempty"`
	Context     map[string]map[string]any `json:"context,omitempty"`
	NextRunAt   time.Time                 `json:"next_run_at"`
	CreatedAt   time.Time                 `json:"created_at"`
	ModifiedAt  time.Time                 `json:"modified_at"`
	FinishedAt  *time.Time                `json:"finished_at,omitempty"`
}

// TaskFromDomain конвертирует domain.Task в TaskResponse.
func TaskFromDomain(t *domain.Task) TaskResponse {
	resp := TaskResponse{
		ID:          t.ID,
		Group:       t.Group,
		Type:        t.Type,
		State:       t.State,
		Status:      t.Status,
		ExitCode:    t.ExitCode,
		ExitMessage: t.ExitMessage,
		Paused:      t.Paused,
		Failed:      t.Failed,
		ForceState:  t.ForceState,
		Steps:       t.Steps,
		Inputs:      t.Inputs,
		NextRunAt:   t.NextRunAt,
		CreatedAt:   t.CreatedAt,
		ModifiedAt:  t.ModifiedAt,
		FinishedAt:  t.FinishedAt,
	}
	if t.Context != nil {
		resp.Context = t.Context.Scopes
	}
	return resp
}

// SignalResponse — ответ с сигналом.
type SignalResponse struct {
	ID         uuid.UUID           `json:"id"`
	TaskID     int64               `json:"task_id"`
	Type       domain.SignalType   `json:"type"`
	Status     domain.SignalStatus `json:"status"`
	Resource   string              `json:"resource,omitempty"`
	Payload    map[string]any      `json:"payload,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
	ReceivedAt *time.Time          `json:"received_at,omitempty"`
	ConsumedAt *time.Time          `json:"consumed_at,omitempty"`
}

// SignalFromDomain конвертирует domain.Signal в SignalResponse.
func SignalFromDomain(s *domain.Signal) SignalResponse {
	return SignalResponse{
		ID:         s.ID,
		TaskID:     s.TaskID,
		Type:       s.Type,
		Status:     s.Status,
		Resource:   s.Resource,
		Payload:    s.Payload,
		CreatedAt:  s.CreatedAt,
		ReceivedAt: s.ReceivedAt,
		ConsumedAt: s.ConsumedAt,
	}
}
