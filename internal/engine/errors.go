package engine

import (
	"errors"
	"fmt"
)

// Ошибки конфигурации таблицы. Обнаруживаются при компиляции.
var (
	// ErrInvalidTable — базовая ошибка некорректной таблицы.
	ErrInvalidTable = errors.New("invalid state table")

	// ErrSyntax — текст таблицы не соответствует грамматике.
	ErrSyntax = fmt.Errorf("%w: syntax error", ErrInvalidTable)

	// ErrEmptyTable — таблица не содержит состояний.
	ErrEmptyTable = fmt.Errorf("%w: no states", ErrInvalidTable)

	// ErrMissingStart — нет состояния start.
	ErrMissingStart = fmt.Errorf("%w: missing start state", ErrInvalidTable)

	// ErrDuplicateState — состояние объявлено дважды.
	ErrDuplicateState = fmt.Errorf("%w: duplicate state", ErrInvalidTable)

	// ErrDuplicatePattern — паттерн повторяется в одном состоянии.
	ErrDuplicatePattern = fmt.Errorf("%w: duplicate pattern", ErrInvalidTable)

	// ErrUndefinedState — правило ведёт в необъявленное состояние.
	ErrUndefinedState = fmt.Errorf("%w: undefined state", ErrInvalidTable)

	// ErrTerminalRules — finish объявлен с правилами.
	ErrTerminalRules = fmt.Errorf("%w: finish state cannot have rules", ErrInvalidTable)

	// ErrFailureLoop — из failure можно вернуться в failure.
	ErrFailureLoop = fmt.Errorf("%w: failure state can reach itself", ErrInvalidTable)

	// ErrUnknownFlag — неизвестный флаг состояния.
	ErrUnknownFlag = fmt.Errorf("%w: unknown state flag", ErrInvalidTable)

	// ErrUnknownOption — неизвестная опция правила.
	ErrUnknownOption = fmt.Errorf("%w: unknown rule option", ErrInvalidTable)

	// ErrBadNumber — wait/max не является неотрицательным целым.
	ErrBadNumber = fmt.Errorf("%w: bad number", ErrInvalidTable)

	// ErrLinkConflict — имя link совпадает с состоянием, которое не связано
	// с этим scope: такое состояние видело бы чужие данные.
	ErrLinkConflict = fmt.Errorf("%w: link name conflicts with state", ErrInvalidTable)

	// ErrUnknownRule — у состояния нет правила с таким паттерном.
	ErrUnknownRule = fmt.Errorf("%w: unknown rule", ErrInvalidTable)
)

// Ошибки Definition и Registry.
var (
	// ErrUnknownEvaluator — таблица ссылается на незарегистрированный evaluator.
	ErrUnknownEvaluator = errors.New("unknown evaluator")

	// ErrUnknownAction — зарегистрирован action, которого нет в таблице.
	ErrUnknownAction = errors.New("action not used by table")

	// ErrUnknownTaskType — тип task не зарегистрирован.
	ErrUnknownTaskType = errors.New("unknown task type")

	// ErrDuplicateTaskType — тип task зарегистрирован дважды.
	ErrDuplicateTaskType = errors.New("duplicate task type")
)

// Ошибки выполнения шага.
var (
	// ErrTaskFinished — шаг завершённого task.
	ErrTaskFinished = errors.New("task already finished")

	// ErrUnknownState — task находится в состоянии, которого нет в таблице.
	ErrUnknownState = errors.New("unknown state")

	// ErrNoMatchingRule — результат evaluator не совпал ни с одним правилом.
	ErrNoMatchingRule = errors.New("no matching rule")

	// ErrRetriesExhausted — правило совпало больше max раз подряд.
	ErrRetriesExhausted = errors.New("retries exhausted")

	// ErrActionPanic — action или evaluator паниковал.
	ErrActionPanic = errors.New("panic in step")
)

// CompileError — ошибка разбора с позицией в тексте таблицы.
type CompileError struct {
	Line int    // строка (с 1)
	Col  int    // колонка (с 1)
	Msg  string // описание ошибки
	Err  error  // базовая ошибка (по умолчанию ErrSyntax)
}

// Error реализует интерфейс error.
func (e *CompileError) Error() string {
	return fmt.Sprintf("line %d:%d: %s", e.Line, e.Col, e.Msg)
}

// Unwrap возвращает базовую ошибку.
func (e *CompileError) Unwrap() error {
	if e.Err == nil {
		return ErrSyntax
	}
	return e.Err
}

// ValidationError — ошибка проверки таблицы с указанием состояния.
type ValidationError struct {
	State   string // состояние, где обнаружена ошибка
	Line    int    // строка объявления
	Message string // описание ошибки
	Err     error  // базовая ошибка
}

// Error реализует интерфейс error.
func (e *ValidationError) Error() string {
	if e.State != "" {
		return fmt.Sprintf("state %s (line %d): %s", e.State, e.Line, e.Message)
	}
	return e.Message
}

// Unwrap возвращает базовую ошибку.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError создаёт новую ошибку валидации.
func NewValidationError(state string, line int, message string, err error) *ValidationError {
	return &ValidationError{
		State:   state,
		Line:    line,
		Message: message,
		Err:     err,
	}
}
