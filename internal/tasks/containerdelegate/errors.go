package containerdelegate

import "errors"

var (
	// ErrNoRuntime — не задан runtime.
	ErrNoRuntime = errors.New("container runtime is not configured")

	// ErrNoImage — в inputs нет image.
	ErrNoImage = errors.New("input image is required")

	// ErrNoHandle — в запросе cleanup нет handle.
	ErrNoHandle = errors.New("cleanup request has no handle")
)
