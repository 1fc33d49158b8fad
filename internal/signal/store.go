package signal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/wip/internal/domain"
	"github.com/shaiso/wip/internal/repo"
)

// Store — хранилище сигналов.
//
// Переходы статуса условные: MarkReceived и MarkConsumed возвращают false,
// если сигнал уже не в ожидаемом статусе.
type Store interface {
	Create(ctx context.Context, sig *domain.Signal) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Signal, error)
	MarkReceived(ctx context.Context, id uuid.UUID, payload map[string]any, at time.Time) (bool, error)
	MarkConsumed(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	NextReceived(ctx context.Context, taskID int64, typ domain.SignalType) (*domain.Signal, error)
	ListReceived(ctx context.Context, typ domain.SignalType) ([]*domain.Signal, error)
	ListByTask(ctx context.Context, taskID int64) ([]*domain.Signal, error)
	DeleteForTask(ctx context.Context, taskID int64, keep domain.SignalType) (int64, error)
	DeleteConsumedBefore(ctx context.Context, before time.Time) (int64, error)
}

// SQLStore хранит сигналы в таблице signals (Postgres или SQLite).
type SQLStore struct {
	db      *sql.DB
	dialect repo.Dialect
}

var _ Store = (*SQLStore)(nil)

// NewSQLStore создаёт SQLStore.
func NewSQLStore(db *sql.DB, dialect repo.Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

// EnsureSchema создаёт таблицу signals, если её нет.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
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
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create signals table: %w", err)
		}
	}
	return nil
}

const signalColumns = `id, task_id, type, status, resource, payload, created_at, received_at, consumed_at`

// Create сохраняет новый сигнал.
func (s *SQLStore) Create(ctx context.Context, sig *domain.Signal) error {
	payload, err := encodePayload(sig.Payload)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.dialect.Rebind(`
		INSERT INTO signals (`+signalColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		sig.ID.String(),
		sig.TaskID,
		string(sig.Type),
		string(sig.Status),
		sig.Resource,
		payload,
		sig.CreatedAt.UnixNano(),
		nullTime(sig.ReceivedAt),
		nullTime(sig.ConsumedAt),
	)
	if err != nil {
		return fmt.Errorf("insert signal: %w", err)
	}
	return nil
}

// Get возвращает сигнал по id.
func (s *SQLStore) Get(ctx context.Context, id uuid.UUID) (*domain.Signal, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.Rebind(`
		SELECT `+signalColumns+` FROM signals WHERE id = ?`), id.String())
	sig, err := scanSignal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repo.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get signal: %w", err)
	}
	return sig, nil
}

// MarkReceived переводит REGISTERED → RECEIVED.
func (s *SQLStore) MarkReceived(ctx context.Context, id uuid.UUID, payload map[string]any, at time.Time) (bool, error) {
	data, err := encodePayload(payload)
	if err != nil {
		return false, err
	}
	return s.update(ctx, `
		UPDATE signals SET status = ?, payload = ?, received_at = ?
		WHERE id = ? AND status = ?`,
		string(domain.SignalStatusReceived), data, at.UnixNano(),
		id.String(), string(domain.SignalStatusRegistered),
	)
}

// MarkConsumed переводит RECEIVED → CONSUMED.
func (s *SQLStore) MarkConsumed(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	return s.update(ctx, `
		UPDATE signals SET status = ?, consumed_at = ?
		WHERE id = ? AND status = ?`,
		string(domain.SignalStatusConsumed), at.UnixNano(),
		id.String(), string(domain.SignalStatusReceived),
	)
}

func (s *SQLStore) update(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		return false, fmt.Errorf("update signal: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update signal: %w", err)
	}
	return n == 1, nil
}

// NextReceived возвращает самый ранний полученный сигнал типа typ для task.
func (s *SQLStore) NextReceived(ctx context.Context, taskID int64, typ domain.SignalType) (*domain.Signal, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.Rebind(`
		SELECT `+signalColumns+` FROM signals
		WHERE task_id = ? AND type = ? AND status = ?
		ORDER BY received_at, id
		LIMIT 1`),
		taskID, string(typ), string(domain.SignalStatusReceived),
	)
	sig, err := scanSignal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repo.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("next signal: %w", err)
	}
	return sig, nil
}

// ListReceived возвращает все полученные сигналы типа typ.
func (s *SQLStore) ListReceived(ctx context.Context, typ domain.SignalType) ([]*domain.Signal, error) {
	return s.list(ctx, `
		SELECT `+signalColumns+` FROM signals
		WHERE type = ? AND status = ?
		ORDER BY received_at, id`,
		string(typ), string(domain.SignalStatusReceived),
	)
}

// ListByTask возвращает сигналы task.
func (s *SQLStore) ListByTask(ctx context.Context, taskID int64) ([]*domain.Signal, error) {
	return s.list(ctx, `
		SELECT `+signalColumns+` FROM signals
		WHERE task_id = ?
		ORDER BY created_at, id`,
		taskID,
	)
}

func (s *SQLStore) list(ctx context.Context, query string, args ...any) ([]*domain.Signal, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list signals: %w", err)
	}
	defer rows.Close()

	var out []*domain.Signal
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		out = append(out, sig)
	}
	return out, rows.Err()
}

// DeleteForTask удаляет неконсумированные сигналы task, кроме полученных
// сигналов типа keep.
func (s *SQLStore) DeleteForTask(ctx context.Context, taskID int64, keep domain.SignalType) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(`
		DELETE FROM signals
		WHERE task_id = ? AND status <> ?
		AND NOT (type = ? AND status = ?)`),
		taskID, string(domain.SignalStatusConsumed),
		string(keep), string(domain.SignalStatusReceived),
	)
	if err != nil {
		return 0, fmt.Errorf("delete signals: %w", err)
	}
	return res.RowsAffected()
}

// DeleteConsumedBefore удаляет потреблённые сигналы старше before.
func (s *SQLStore) DeleteConsumedBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(`
		DELETE FROM signals WHERE status = ? AND consumed_at < ?`),
		string(domain.SignalStatusConsumed), before.UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("purge signals: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSignal(row rowScanner) (*domain.Signal, error) {
	var (
		sig        domain.Signal
		id         string
		typ        string
		status     string
		payload    string
		createdAt  int64
		receivedAt sql.NullInt64
		consumedAt sql.NullInt64
	)
	if err := row.Scan(&id, &sig.TaskID, &typ, &status, &sig.Resource, &payload, &createdAt, &receivedAt, &consumedAt); err != nil {
		return nil, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse signal id: %w", err)
	}
	sig.ID = parsed
	sig.Type = domain.SignalType(typ)
	sig.Status = domain.SignalStatus(status)
	sig.CreatedAt = time.Unix(0, createdAt).UTC()
	sig.ReceivedAt = fromNull(receivedAt)
	sig.ConsumedAt = fromNull(consumedAt)
	if payload != "" {
		if err := json.Unmarshal([]byte(payload), &sig.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
	}
	return &sig, nil
}

func encodePayload(p map[string]any) (string, error) {
	if p == nil {
		return "{}", nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	return string(data), nil
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNull(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, v.Int64).UTC()
	return &t
}
