package history

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Attempt is one trigger call for a task, successful or not.
type Attempt struct {
	ID         string    `json:"id"`
	Collection string    `json:"collection"`
	TaskID     string    `json:"task_id"`
	TaskName   string    `json:"task_name"`
	Kind       string    `json:"kind"`
	RequestID  string    `json:"request_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Success    bool      `json:"success"`
	StatusCode int       `json:"status_code,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// EnsureSchema creates tables if they don't exist.
func EnsureSchema(db *sql.DB) error {
	schema := `
PRAGMA journal_mode=WAL;
CREATE TABLE IF NOT EXISTS dispatch_attempts (
  id TEXT PRIMARY KEY,
  collection TEXT NOT NULL,
  task_id TEXT NOT NULL,
  task_name TEXT NOT NULL DEFAULT '',
  kind TEXT NOT NULL DEFAULT '',
  request_id TEXT NOT NULL DEFAULT '',
  started_at_ms INTEGER NOT NULL,
  finished_at_ms INTEGER NOT NULL,
  success INTEGER NOT NULL DEFAULT 0,
  status_code INTEGER NOT NULL DEFAULT 0,
  error TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_attempts_started ON dispatch_attempts(started_at_ms DESC);
CREATE INDEX IF NOT EXISTS idx_attempts_task ON dispatch_attempts(task_id, started_at_ms DESC);
`
	_, err := db.Exec(schema)
	return err
}

type Repository interface {
	Record(ctx context.Context, a Attempt) error
	ListRecent(ctx context.Context, limit int) ([]Attempt, error)
	ListByTask(ctx context.Context, taskID string, limit int) ([]Attempt, error)
	Prune(ctx context.Context, before time.Time) (int, error)
}

type sqliteRepo struct{ db *sql.DB }

func NewSQLiteRepo(db *sql.DB) Repository { return &sqliteRepo{db: db} }

func (r *sqliteRepo) Record(ctx context.Context, a Attempt) error {
	if a.ID == "" {
		a.ID = "att_" + uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO dispatch_attempts (id,collection,task_id,task_name,kind,request_id,started_at_ms,finished_at_ms,success,status_code,error)
VALUES (?,?,?,?,?,?,?,?,?,?,?)
`, a.ID, a.Collection, a.TaskID, a.TaskName, a.Kind, a.RequestID,
		a.StartedAt.UnixMilli(), a.FinishedAt.UnixMilli(), a.Success, a.StatusCode, a.Error)
	return err
}

const selectAttempts = `
SELECT id,collection,task_id,task_name,kind,request_id,started_at_ms,finished_at_ms,success,status_code,error
FROM dispatch_attempts`

func (r *sqliteRepo) ListRecent(ctx context.Context, limit int) ([]Attempt, error) {
	rows, err := r.db.QueryContext(ctx, selectAttempts+`
ORDER BY started_at_ms DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAttempts(rows)
}

func (r *sqliteRepo) ListByTask(ctx context.Context, taskID string, limit int) ([]Attempt, error) {
	rows, err := r.db.QueryContext(ctx, selectAttempts+`
WHERE task_id = ? ORDER BY started_at_ms DESC, rowid DESC LIMIT ?`, taskID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAttempts(rows)
}

// Prune deletes attempts that started before the cutoff.
func (r *sqliteRepo) Prune(ctx context.Context, before time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM dispatch_attempts WHERE started_at_ms < ?`, before.UnixMilli())
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func scanAttempts(rows *sql.Rows) ([]Attempt, error) {
	attempts := []Attempt{}
	for rows.Next() {
		var a Attempt
		var started, finished int64
		if err := rows.Scan(&a.ID, &a.Collection, &a.TaskID, &a.TaskName, &a.Kind, &a.RequestID,
			&started, &finished, &a.Success, &a.StatusCode, &a.Error); err != nil {
			return nil, err
		}
		a.StartedAt = time.UnixMilli(started)
		a.FinishedAt = time.UnixMilli(finished)
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}
