package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS story_tasks (
    id           TEXT PRIMARY KEY,
    task_type    TEXT NOT NULL,
    story_title  TEXT NOT NULL,
    status       TEXT NOT NULL,
    detail       TEXT NOT NULL DEFAULT '',
    violations   TEXT NOT NULL DEFAULT '[]',
    error        TEXT NOT NULL DEFAULT '',
    created_at   INTEGER NOT NULL,
    completed_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_story_tasks_story_title ON story_tasks (story_title, created_at DESC);
`

// SQLiteTaskRepository - локальный журнал для CLI, файл рядом с историями.
type SQLiteTaskRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

var _ TaskRepository = (*SQLiteTaskRepository)(nil)

// OpenSQLite открывает (или создает) журнал по пути path.
func OpenSQLite(path string, logger *zap.Logger) (*SQLiteTaskRepository, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	if path == ":memory:" {
		dsn = path
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &SQLiteTaskRepository{db: db, logger: logger.Named("SQLiteTaskRepo")}, nil
}

func (r *SQLiteTaskRepository) Close() error { return r.db.Close() }

func (r *SQLiteTaskRepository) Save(ctx context.Context, rec *TaskRecord) error {
	violations, err := json.Marshal(nonNil(rec.Violations))
	if err != nil {
		return fmt.Errorf("encode violations: %w", err)
	}
	var completed sql.NullInt64
	if rec.CompletedAt != nil {
		completed = sql.NullInt64{Int64: rec.CompletedAt.UnixMilli(), Valid: true}
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO story_tasks (id, task_type, story_title, status, detail, violations, error, created_at, completed_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    status = excluded.status,
    detail = excluded.detail,
    violations = excluded.violations,
    error = excluded.error,
    completed_at = excluded.completed_at`,
		rec.ID, rec.Type, rec.StoryTitle, rec.Status, rec.Detail, string(violations), rec.Error,
		rec.CreatedAt.UnixMilli(), completed,
	)
	if err != nil {
		r.logger.Error("Failed to save task", zap.String("task_id", rec.ID), zap.Error(err))
		return fmt.Errorf("failed to save task %s: %w", rec.ID, err)
	}
	return nil
}

func (r *SQLiteTaskRepository) ListByStory(ctx context.Context, title string, limit int) ([]*TaskRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, task_type, story_title, status, detail, violations, error, created_at, completed_at
FROM story_tasks WHERE story_title = ? ORDER BY created_at DESC LIMIT ?`, title, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks for %q: %w", title, err)
	}
	defer rows.Close()

	tasks := []*TaskRecord{}
	for rows.Next() {
		var (
			rec        TaskRecord
			violations string
			created    int64
			completed  sql.NullInt64
		)
		if err := rows.Scan(&rec.ID, &rec.Type, &rec.StoryTitle, &rec.Status, &rec.Detail,
			&violations, &rec.Error, &created, &completed); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		if err := json.Unmarshal([]byte(violations), &rec.Violations); err != nil {
			return nil, fmt.Errorf("decode violations of task %s: %w", rec.ID, err)
		}
		if len(rec.Violations) == 0 {
			rec.Violations = nil
		}
		rec.CreatedAt = time.UnixMilli(created).UTC()
		if completed.Valid {
			t := time.UnixMilli(completed.Int64).UTC()
			rec.CompletedAt = &t
		}
		tasks = append(tasks, &rec)
	}
	return tasks, rows.Err()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
