package repo

import "errors"

var (
	// ErrNotFound — task с таким id нет.
	ErrNotFound = errors.New("task not found")

	// ErrInvalidState — переход недопустим для текущего статуса task
	// (например, resume у активной или force у завершённой).
	ErrInvalidState = errors.New("invalid task state")
)
