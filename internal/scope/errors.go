package scope

import "errors"

var (
	// ErrLinksSealed — связи нельзя менять после старта task.
	ErrLinksSealed = errors.New("context links are sealed")

	// ErrEmptyName — пустое имя состояния или scope.
	ErrEmptyName = errors.New("empty state or scope name")

	// ErrTypeMismatch — значение нельзя привести к типу ключа.
	ErrTypeMismatch = errors.New("context value type mismatch")
)
