package engine

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/shaiso/wip/internal/domain"
	"github.com/shaiso/wip/internal/scope"
)

// Action — побочное действие состояния.
// Ошибка переводит task по правилу "!".
type Action func(ctx context.Context, sc *StepContext) error

// Evaluator возвращает ключ результата, по которому выбирается правило.
type Evaluator func(ctx context.Context, sc *StepContext) (string, error)

// StepContext — то, что видят action и evaluator во время шага.
type StepContext struct {
	// Task — данные task (только для чтения).
	TaskID int64
	Group  string
	Type   string
	Inputs map[string]any

	// State — текущее состояние.
	State string

	// Scope — scope контекста текущего состояния.
	Scope *scope.View

	Logger *slog.Logger

	task *domain.Task
}

// Input возвращает строковый входной параметр.
func (sc *StepContext) Input(key string) string {
	v, ok := sc.Inputs[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// SetExit задаёт код и сообщение завершения task.
// Применяется, когда task дойдёт до finish.
func (sc *StepContext) SetExit(code int, msg string) {
	sc.task.ExitCode = code
	sc.task.ExitMessage = msg
	sc.task.ExitSet = true
}

// Definition связывает таблицу с actions и evaluators.
type Definition struct {
	name       string
	table      *Table
	actions    map[string]Action
	evaluators map[string]Evaluator
}

// Option настраивает Definition.
type Option func(*Definition)

// WithAction регистрирует action.
func WithAction(name string, fn Action) Option {
	return func(d *Definition) {
		d.actions[name] = fn
	}
}

// WithEvaluator регистрирует evaluator.
func WithEvaluator(name string, fn Evaluator) Option {
	return func(d *Definition) {
		d.evaluators[name] = fn
	}
}

// NewDefinition создаёт Definition. Каждый evaluator, упомянутый в таблице,
// должен быть зарегистрирован; action без реализации ничего не делает.
func NewDefinition(name string, table *Table, opts ...Option) (*Definition, error) {
	d := &Definition{
		name:       name,
		table:      table,
		actions:    make(map[string]Action),
		evaluators: make(map[string]Evaluator),
	}
	for _, opt := range opts {
		opt(d)
	}

	for _, ev := range table.Evaluators() {
		if _, ok := d.evaluators[ev]; !ok {
			return nil, fmt.Errorf("%s: %w: %s", name, ErrUnknownEvaluator, ev)
		}
	}
	used := table.Actions()
	for _, a := range slices.Sorted(maps.Keys(d.actions)) {
		if !slices.Contains(used, a) {
			return nil, fmt.Errorf("%s: %w: %s", name, ErrUnknownAction, a)
		}
	}
	return d, nil
}

// Name возвращает тип task.
func (d *Definition) Name() string { return d.name }

// Table возвращает таблицу.
func (d *Definition) Table() *Table { return d.table }

// NewContext создаёт контекст нового task: связи из таблицы, зафиксированные.
func (d *Definition) NewContext() *scope.Store {
	store := scope.New()
	for state, link := range d.table.Links() {
		// имена проверены при компиляции и не пусты
		_ = store.Link(state, link)
	}
	store.Seal()
	return store
}

// NewTask создаёт task этого типа с готовым контекстом.
func (d *Definition) NewTask(group string, inputs map[string]any) *domain.Task {
	task := domain.NewTask(d.name, group, inputs)
	task.Context = d.NewContext()
	return task
}

// Registry — реестр Definition по типу task.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]*Definition
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]*Definition)}
}

// Register добавляет Definition.
func (r *Registry) Register(def *Definition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.defs[def.name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTaskType, def.name)
	}
	r.defs[def.name] = def
	return nil
}

// Get возвращает Definition по типу task.
func (r *Registry) Get(taskType string) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[taskType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTaskType, taskType)
	}
	return def, nil
}

// Types возвращает зарегистрированные типы (отсортированы).
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.defs))
}
