package domain

import (
	"time"

	"github.com/google/uuid"
)

// Signal — входящее уведомление, скоррелированное с task.
//
// Signal создаётся при регистрации callback (REGISTERED) либо сразу
// полученным (cleanup-request). Потребляется не более одного раза.
type Signal struct {
	// ID — correlation uuid, адрес callback.
	ID uuid.UUID `json:"id"`

	// TaskID — task, которому адресован сигнал.
	TaskID int64 `json:"task_id"`

	// Type — complete, cleanup-request, cleanup-cancel, data.
	Type SignalType `json:"type"`

	// Status — REGISTERED, RECEIVED, CONSUMED.
	Status SignalStatus `json:"status"`

	// Resource — ключ ресурса для cleanup-сигналов ("container:abc").
	Resource string `json:"resource,omitempty"`

	// Payload — данные сигнала.
	Payload map[string]any `json:"payload,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	ReceivedAt *time.Time `json:"received_at,omitempty"`
	ConsumedAt *time.Time `json:"consumed_at,omitempty"`
}

// IsConsumed возвращает true, если сигнал уже потреблён.
func (s *Signal) IsConsumed() bool {
	return s.Status == SignalStatusConsumed
}
