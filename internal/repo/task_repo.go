package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/wip/internal/domain"
	"github.com/shaiso/wip/internal/scope"
)

// TaskFilter — фильтр для List.
type TaskFilter struct {
	Group  string
	Type   string
	Status domain.TaskStatus
	Limit  int
}

// TaskRepo — репозиторий для работы с tasks.
type TaskRepo struct {
	pool *pgxpool.Pool
}

// NewTaskRepo создаёт новый TaskRepo.
func NewTaskRepo(pool *pgxpool.Pool) *TaskRepo {
	return &TaskRepo{pool: pool}
}

const taskColumns = `
	id, task_group, type, state, status, exit_code, exit_message, exit_set,
	paused, failed, skip_action, retry, force_state, steps, inputs, context,
	next_run_at, created_at, modified_at, finished_at`

// Create создаёт новый task и заполняет task.ID.
func (r *TaskRepo) Create(ctx context.Context, task *domain.Task) error {
	retryJSON, inputsJSON, contextJSON, err := marshalTask(task)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO tasks (task_group, type, state, status, exit_code, exit_message, exit_set,
		                   paused, failed, skip_action, retry, force_state, steps, inputs, context,
		                   next_run_at, created_at, modified_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		RETURNING id
	`
	err = r.pool.QueryRow(ctx, query,
		task.Group,
		task.Type,
		task.State,
		task.Status,
		task.ExitCode,
		task.ExitMessage,
		task.ExitSet,
		task.Paused,
		task.Failed,
		task.SkipAction,
		retryJSON,
		task.ForceState,
		task.Steps,
		inputsJSON,
		contextJSON,
		task.NextRunAt,
		task.CreatedAt,
		task.ModifiedAt,
		task.FinishedAt,
	).Scan(&task.ID)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// GetByID возвращает task по ID.
func (r *TaskRepo) GetByID(ctx context.Context, id int64) (*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`
	return scanTask(r.pool.QueryRow(ctx, query, id))
}

// Update сохраняет изменяемые поля task.
func (r *TaskRepo) Update(ctx context.Context, task *domain.Task) error {
	retryJSON, _, contextJSON, err := marshalTask(task)
	if err != nil {
		return err
	}

	query := `
		UPDATE tasks
		SET state = $2, status = $3, exit_code = $4, exit_message = $5, exit_set = $6,
		    paused = $7, failed = $8, skip_action = $9, retry = $10, force_state = $11,
		    steps = $12, context = $13, next_run_at = $14, modified_at = $15, finished_at = $16
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query,
		task.ID,
		task.State,
		task.Status,
		task.ExitCode,
		task.ExitMessage,
		task.ExitSet,
		task.Paused,
		task.Failed,
		task.SkipAction,
		retryJSON,
		task.ForceState,
		task.Steps,
		contextJSON,
		task.NextRunAt,
		task.ModifiedAt,
		task.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete удаляет task.
func (r *TaskRepo) Delete(ctx context.Context, id int64) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListDue возвращает активные, не приостановленные tasks с next_run_at <= now.
func (r *TaskRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE status = 'ACTIVE' AND NOT paused AND next_run_at <= $1
		ORDER BY next_run_at ASC
		LIMIT $2
	`
	return r.query(ctx, query, now, limit)
}

// List возвращает tasks по фильтру (новые первыми).
func (r *TaskRepo) List(ctx context.Context, f TaskFilter) ([]*domain.Task, error) {
	if f.Limit <= 0 {
		f.Limit = 100
	}
	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE ($1 = '' OR task_group = $1)
		  AND ($2 = '' OR type = $2)
		  AND ($3 = '' OR status = $3)
		ORDER BY id DESC
		LIMIT $4
	`
	return r.query(ctx, query, f.Group, f.Type, string(f.Status), f.Limit)
}

func (r *TaskRepo) query(ctx context.Context, query string, args ...any) ([]*domain.Task, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// --- Helpers ---

func marshalTask(task *domain.Task) (retry, inputs, scopes []byte, err error) {
	if retry, err = json.Marshal(task.Retry); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal retry: %w", err)
	}
	if inputs, err = json.Marshal(task.Inputs); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal inputs: %w", err)
	}
	if task.Context == nil {
		task.Context = scope.New()
	}
	if scopes, err = json.Marshal(task.Context); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal context: %w", err)
	}
	return retry, inputs, scopes, nil
}

func scanTask(row pgx.Row) (*domain.Task, error) {
	var task domain.Task
	var retryJSON, inputsJSON, contextJSON []byte

	err := row.Scan(
		&task.ID,
		&task.Group,
		&task.Type,
		&task.State,
		&task.Status,
		&task.ExitCode,
		&task.ExitMessage,
		&task.ExitSet,
		&task.Paused,
		&task.Failed,
		&task.SkipAction,
		&retryJSON,
		&task.ForceState,
		&task.Steps,
		&inputsJSON,
		&contextJSON,
		&task.NextRunAt,
		&task.CreatedAt,
		&task.ModifiedAt,
		&task.FinishedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}

	if len(retryJSON) > 0 {
		if err := json.Unmarshal(retryJSON, &task.Retry); err != nil {
			return nil, fmt.Errorf("unmarshal retry: %w", err)
		}
	}
	if len(inputsJSON) > 0 {
		if err := json.Unmarshal(inputsJSON, &task.Inputs); err != nil {
			return nil, fmt.Errorf("unmarshal inputs: %w", err)
		}
	}
	task.Context = scope.New()
	if len(contextJSON) > 0 {
		if err := json.Unmarshal(contextJSON, task.Context); err != nil {
			return nil, fmt.Errorf("unmarshal context: %w", err)
		}
	}
	return &task, nil
}
