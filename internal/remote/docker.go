package remote

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// DockerRuntime запускает контейнеры через docker CLI на хосте Executor.
type DockerRuntime struct {
	exec Executor

	// Binary — по умолчанию "docker".
	binary string
}

var _ Runtime = (*DockerRuntime)(nil)

// NewDockerRuntime создаёт DockerRuntime.
func NewDockerRuntime(exec Executor, binary string) *DockerRuntime {
	if binary == "" {
		binary = "docker"
	}
	return &DockerRuntime{exec: exec, binary: binary}
}

// Launch запускает контейнер в фоне и возвращает его ID.
func (r *DockerRuntime) Launch(ctx context.Context, spec LaunchSpec) (string, error) {
	if spec.Image == "" {
		return "", fmt.Errorf("launch: %w", ErrEmptyCommand)
	}

	args := []string{r.binary, "run", "-d"}
	env := make(map[string]string, len(spec.Env)+1)
	for k, v := range spec.Env {
		env[k] = v
	}
	if spec.CallbackURL != "" {
		env["WIP_CALLBACK_URL"] = spec.CallbackURL
	}
	for _, k := range sortedKeys(env) {
		args = append(args, "-e", ShellQuote(k+"="+env[k]))
	}
	for _, k := range sortedKeys(spec.Labels) {
		args = append(args, "--label", ShellQuote(k+"="+spec.Labels[k]))
	}
	args = append(args, ShellQuote(spec.Image))
	for _, c := range spec.Command {
		args = append(args, ShellQuote(c))
	}

	res, err := r.exec.ExecSync(ctx, strings.Join(args, " "))
	if err != nil {
		return "", fmt.Errorf("docker run: %w", err)
	}
	if !res.OK() {
		return "", fmt.Errorf("docker run: exit code %d", res.ExitCode)
	}
	id := strings.TrimSpace(res.Stdout)
	if id == "" {
		return "", fmt.Errorf("docker run: %w", ErrBadHandle)
	}
	return id, nil
}

// Status отображает State.Status контейнера на Status.
func (r *DockerRuntime) Status(ctx context.Context, handle string) (Status, error) {
	state, code, err := r.inspect(ctx, handle)
	if err != nil {
		return "", err
	}
	switch state {
	case "created":
		return StatusUninitialized, nil
	case "restarting", "paused":
		return StatusWait, nil
	case "running":
		return StatusRunning, nil
	case "exited":
		if code == 0 {
			return StatusReady, nil
		}
		return StatusFailed, nil
	default:
		return StatusFailed, nil
	}
}

// Kill останавливает и удаляет контейнер. Отсутствующий контейнер не ошибка.
func (r *DockerRuntime) Kill(ctx context.Context, handle string) error {
	res, err := r.exec.ExecSync(ctx, r.binary+" rm -f "+ShellQuote(handle)+" 2>&1")
	if err != nil {
		return fmt.Errorf("docker rm: %w", err)
	}
	if !res.OK() && !strings.Contains(res.Stdout, "No such container") {
		return fmt.Errorf("docker rm: exit code %d", res.ExitCode)
	}
	return nil
}

// Result возвращает код завершения и хвост логов контейнера.
func (r *DockerRuntime) Result(ctx context.Context, handle string) (ExitResult, error) {
	_, code, err := r.inspect(ctx, handle)
	if err != nil {
		return ExitResult{}, err
	}
	res, err := r.exec.ExecSync(ctx, r.binary+" logs --tail 20 "+ShellQuote(handle)+" 2>&1")
	if err != nil {
		return ExitResult{}, fmt.Errorf("docker logs: %w", err)
	}
	return ExitResult{ExitCode: code, ExitMessage: strings.TrimSpace(res.Stdout)}, nil
}

func (r *DockerRuntime) inspect(ctx context.Context, handle string) (string, int, error) {
	res, err := r.exec.ExecSync(ctx, r.binary+" inspect -f "+ShellQuote("{{.State.Status}} {{.State.ExitCode}}")+" "+ShellQuote(handle))
	if err != nil {
		return "", 0, fmt.Errorf("docker inspect: %w", err)
	}
	if !res.OK() {
		return "", 0, fmt.Errorf("docker inspect %s: %w", handle, ErrUnknownHandle)
	}
	fields := strings.Fields(res.Stdout)
	if len(fields) != 2 {
		return "", 0, fmt.Errorf("docker inspect %q: %w", res.Stdout, ErrBadHandle)
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil {
		return "", 0, fmt.Errorf("docker inspect exit code: %w", err)
	}
	return fields[0], code, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
