package repo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema — таблицы Postgres. Таблицы locks и signals совпадают со схемой,
// которую SQL-хранилища создают сами (EnsureSchema), и для SQLite.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS tasks (
		id           BIGSERIAL PRIMARY KEY,
		task_group   TEXT NOT NULL DEFAULT '',
		type         TEXT NOT NULL,
		state        TEXT NOT NULL,
		status       TEXT NOT NULL,
		exit_code    INTEGER NOT NULL DEFAULT 0,
		exit_message TEXT NOT NULL DEFAULT '',
		exit_set     BOOLEAN NOT NULL DEFAULT FALSE,
		paused       BOOLEAN NOT NULL DEFAULT FALSE,
		failed       BOOLEAN NOT NULL DEFAULT FALSE,
		skip_action  BOOLEAN NOT NULL DEFAULT FALSE,
		retry        JSONB NOT NULL DEFAULT '{}',
		force_state  TEXT NOT NULL DEFAULT '',
		steps        INTEGER NOT NULL DEFAULT 0,
		inputs       JSONB NOT NULL DEFAULT '{}',
		context      JSONB NOT NULL DEFAULT '{}',
		next_run_at  TIMESTAMPTZ NOT NULL,
		created_at   TIMESTAMPTZ NOT NULL,
		modified_at  TIMESTAMPTZ NOT NULL,
		finished_at  TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_due ON tasks (next_run_at) WHERE status = 'ACTIVE' AND NOT paused`,
	`CREATE TABLE IF NOT EXISTS signals (
		id          TEXT PRIMARY KEY,
		task_id     BIGINT NOT NULL,
		type        TEXT NOT NULL,
		status      TEXT NOT NULL,
		resource    TEXT NOT NULL DEFAULT '',
		payload     TEXT NOT NULL DEFAULT '{}',
		created_at  BIGINT NOT NULL,
		received_at BIGINT,
		consumed_at BIGINT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_signals_task ON signals (task_id, type, status)`,
	`CREATE TABLE IF NOT EXISTS locks (
		key        TEXT PRIMARY KEY,
		owner      TEXT NOT NULL,
		expires_at BIGINT NOT NULL
	)`,
}

// Migrate создаёт таблицы, если их нет.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
