package domain

import (
	"time"

	"github.com/shaiso/wip/internal/scope"
)

// Task — одна единица оркестрируемой работы (wip).
//
// Task создаётся при отправке работы (API/CLI) и изменяется только
// executor'ом, пока удерживается lock строки task. Все данные между шагами
// живут здесь: разные шаги одного task могут выполняться разными воркерами.
type Task struct {
	// ID — идентификатор строки task (положительный).
	ID int64 `json:"id"`

	// Group — имя группы (для фильтрации и аудита).
	Group string `json:"group"`

	// Type — тип task, выбирает Definition (таблицу состояний).
	Type string `json:"type"`

	// State — текущее состояние FSM.
	State string `json:"state"`

	// Status — ACTIVE или FINISHED.
	Status TaskStatus `json:"status"`

	// ExitCode — код завершения (0 — успех).
	ExitCode int `json:"exit_code"`

	// ExitMessage — сообщение для пользователя.
	ExitMessage string `json:"exit_message,omitempty"`

	// ExitSet — код завершения задан action явно (SetExit).
	ExitSet bool `json:"exit_set,omitempty"`

	// Paused — воркеры пропускают task, пока флаг установлен.
	Paused bool `json:"paused"`

	// Failed — task прошёл хотя бы по одному ребру "!".
	Failed bool `json:"failed"`

	// SkipAction — следующий шаг не вызывает action (правило exec=false).
	SkipAction bool `json:"skip_action"`

	// Retry — счётчик подряд идущих совпадений одного правила.
	Retry RetryCounter `json:"retry"`

	// ForceState — принудительный переход, заданный оператором.
	ForceState string `json:"force_state,omitempty"`

	// Steps — количество выполненных шагов.
	Steps int `json:"steps"`

	// Inputs — входные параметры, переданные при создании.
	Inputs map[string]any `json:"inputs,omitempty"`

	// Context — персистентные scopes task.
	Context *scope.Store `json:"context"`

	// NextRunAt — не раньше этого времени task можно шагать снова.
	NextRunAt time.Time `json:"next_run_at"`

	CreatedAt  time.Time  `json:"created_at"`
	ModifiedAt time.Time  `json:"modified_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// RetryCounter считает подряд идущие совпадения правила (State, Rule).
type RetryCounter struct {
	State string `json:"state,omitempty"`
	Rule  int    `json:"rule"`
	Count int    `json:"count"`
}

// Hit регистрирует совпадение правила и возвращает новое значение счётчика.
// Совпадение другого правила начинает счёт заново.
func (c *RetryCounter) Hit(state string, rule int) int {
	if c.State == state && c.Rule == rule {
		c.Count++
	} else {
		c.State = state
		c.Rule = rule
		c.Count = 1
	}
	return c.Count
}

// Reset сбрасывает счётчик.
func (c *RetryCounter) Reset() {
	*c = RetryCounter{}
}

// NewTask создаёт task в начальном состоянии "start".
func NewTask(taskType, group string, inputs map[string]any) *Task {
	now := time.Now()
	return &Task{
		Group:      group,
		Type:       taskType,
		State:      "start",
		Status:     TaskStatusActive,
		Inputs:     inputs,
		Context:    scope.New(),
		NextRunAt:  now,
		CreatedAt:  now,
		ModifiedAt: now,
	}
}

// IsFinished возвращает true, если task завершён.
func (t *Task) IsFinished() bool {
	return t.Status.IsTerminal()
}

// IsDue проверяет, можно ли шагать task в момент now.
func (t *Task) IsDue(now time.Time) bool {
	return !t.IsFinished() && !t.Paused && !t.NextRunAt.After(now)
}

// MarkFinished переводит task в статус FINISHED.
func (t *Task) MarkFinished(at time.Time, code int, msg string) {
	t.Status = TaskStatusFinished
	t.ExitCode = code
	t.ExitMessage = msg
	t.NextRunAt = at
	t.FinishedAt = &at
}

// Succeeded возвращает true, если task завершился с кодом 0.
func (t *Task) Succeeded() bool {
	return t.IsFinished() && t.ExitCode == 0
}
