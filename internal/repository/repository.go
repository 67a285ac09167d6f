// Package repository ведет журнал задач, запущенных над историями.
package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Статусы задачи в журнале.
const (
	TaskStatusRunning = "running"
	TaskStatusSuccess = "success"
	TaskStatusError   = "error"
)

// TaskRecord - одна запись журнала.
type TaskRecord struct {
	ID          string     `db:"id" json:"id"`
	Type        string     `db:"task_type" json:"type"`
	StoryTitle  string     `db:"story_title" json:"story_title"`
	Status      string     `db:"status" json:"status"`
	Detail      string     `db:"detail" json:"detail,omitempty"`
	Violations  []string   `db:"violations" json:"violations,omitempty"`
	Error       string     `db:"error" json:"error,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// TaskRepository сохраняет и читает записи журнала. Save - upsert по ID.
type TaskRepository interface {
	Save(ctx context.Context, rec *TaskRecord) error
	// ListByStory возвращает задачи истории, новые первыми.
	ListByStory(ctx context.Context, title string, limit int) ([]*TaskRecord, error)
}

// DBTX - общий интерфейс пула и транзакции pgx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const defaultListLimit = 50

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return defaultListLimit
	}
	return limit
}

// NopTaskRepository используется, когда журнал отключен.
type NopTaskRepository struct{}

var _ TaskRepository = NopTaskRepository{}

func (NopTaskRepository) Save(context.Context, *TaskRecord) error { return nil }

func (NopTaskRepository) ListByStory(context.Context, string, int) ([]*TaskRecord, error) {
	return []*TaskRecord{}, nil
}
