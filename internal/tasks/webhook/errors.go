package webhook

import (
	"errors"
	"fmt"
)

// ErrNoURL — в inputs нет url.
var ErrNoURL = errors.New("input url is required")

// HTTPError — неуспешный ответ.
type HTTPError struct {
	StatusCode int
	Status     string
}

// Error реализует интерфейс error.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Status)
}
