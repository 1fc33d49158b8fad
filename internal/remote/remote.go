package remote

import (
	"context"
	"strings"
	"time"
)

// Result — результат синхронной команды.
type Result struct {
	Stdout    string
	ExitCode  int
	StartTime time.Time
}

// OK возвращает true при нулевом коде завершения.
func (r Result) OK() bool {
	return r.ExitCode == 0
}

// Executor выполняет команды на удалённом (или локальном) хосте.
//
// Ненулевой код завершения — не ошибка: он возвращается в Result.
// Ошибка означает, что команду не удалось выполнить (сеть, авторизация).
type Executor interface {
	ExecSync(ctx context.Context, cmd string) (Result, error)

	// ExecAsync запускает команду в фоне и возвращает handle процесса.
	ExecAsync(ctx context.Context, cmd string) (string, error)
}

// Status — состояние операции во внешнем runtime.
type Status string

const (
	StatusUninitialized Status = "uninitialized"
	StatusWait          Status = "wait"
	StatusRunning       Status = "running"
	StatusReady         Status = "ready"
	StatusFailed        Status = "failed"
)

// Done возвращает true, если операция завершилась (успешно или нет).
func (s Status) Done() bool {
	return s == StatusReady || s == StatusFailed
}

// LaunchSpec — что запустить.
type LaunchSpec struct {
	Image   string
	Command []string
	Env     map[string]string

	// CallbackURL передаётся в окружение как WIP_CALLBACK_URL.
	CallbackURL string

	Labels map[string]string
}

// ExitResult — итог операции.
type ExitResult struct {
	ExitCode    int
	ExitMessage string
}

// Runtime — контейнерный (или процессный) runtime.
type Runtime interface {
	Launch(ctx context.Context, spec LaunchSpec) (string, error)
	Status(ctx context.Context, handle string) (Status, error)
	Kill(ctx context.Context, handle string) error
	Result(ctx context.Context, handle string) (ExitResult, error)
}

// ShellQuote экранирует s для POSIX shell.
func ShellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if strings.IndexFunc(s, needsQuote) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func needsQuote(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return false
	}
	return !strings.ContainsRune("-_./:=@%+,", r)
}

// backgroundCommand оборачивает cmd так, чтобы он пережил сессию,
// и печатает pid фонового процесса.
func backgroundCommand(cmd string) string {
	return "nohup sh -c " + ShellQuote(cmd) + " >/dev/null 2>&1 & echo $!"
}

// parsePID проверяет, что вывод — pid.
func parsePID(out string) (string, error) {
	pid := strings.TrimSpace(out)
	if pid == "" || strings.IndexFunc(pid, func(r rune) bool { return r < '0' || r > '9' }) >= 0 {
		return "", ErrBadHandle
	}
	return pid, nil
}

// AliveCommand — команда, завершающаяся с кодом 0, пока процесс pid жив.
func AliveCommand(pid string) string {
	return "kill -0 " + ShellQuote(pid)
}
