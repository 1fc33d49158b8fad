package remote

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// LocalExecutor выполняет команды через локальный sh.
// Используется в одноузловом режиме и в тестах.
type LocalExecutor struct {
	// Shell — по умолчанию "sh".
	Shell string
}

var _ Executor = LocalExecutor{}

func (e LocalExecutor) shell() string {
	if e.Shell == "" {
		return "sh"
	}
	return e.Shell
}

// ExecSync выполняет cmd и ждёт завершения.
func (e LocalExecutor) ExecSync(ctx context.Context, cmd string) (Result, error) {
	if cmd == "" {
		return Result{}, ErrEmptyCommand
	}
	res := Result{StartTime: time.Now()}
	out, err := exec.CommandContext(ctx, e.shell(), "-c", cmd).Output()
	res.Stdout = string(out)

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return res, ctx.Err()
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		return res, fmt.Errorf("exec: %w", err)
	}
	return res, nil
}

// ExecAsync запускает cmd в фоне и возвращает pid.
func (e LocalExecutor) ExecAsync(ctx context.Context, cmd string) (string, error) {
	if cmd == "" {
		return "", ErrEmptyCommand
	}
	res, err := e.ExecSync(ctx, backgroundCommand(cmd))
	if err != nil {
		return "", err
	}
	return parsePID(res.Stdout)
}
