package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

const (
	upsertTaskQuery = `
        INSERT INTO story_tasks
        (id, task_type, story_title, status, detail, violations, error, created_at, completed_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        ON CONFLICT (id) DO UPDATE SET
            status = EXCLUDED.status,
            detail = EXCLUDED.detail,
            violations = EXCLUDED.violations,
            error = EXCLUDED.error,
            completed_at = EXCLUDED.completed_at
    `
	listTasksByStoryQuery = `
        SELECT id, task_type, story_title, status, detail, violations, error, created_at, completed_at
        FROM story_tasks
        WHERE story_title = $1
        ORDER BY created_at DESC
        LIMIT $2
    `
)

type pgTaskRepository struct {
	db     DBTX
	logger *zap.Logger
}

var _ TaskRepository = (*pgTaskRepository)(nil)

// NewPgTaskRepository создает журнал поверх пула или транзакции pgx.
func NewPgTaskRepository(db DBTX, logger *zap.Logger) TaskRepository {
	return &pgTaskRepository{db: db, logger: logger.Named("TaskRepo")}
}

func (r *pgTaskRepository) Save(ctx context.Context, rec *TaskRecord) error {
	violations := rec.Violations
	if violations == nil {
		violations = []string{}
	}
	_, err := r.db.Exec(ctx, upsertTaskQuery,
		rec.ID,
		rec.Type,
		rec.StoryTitle,
		rec.Status,
		rec.Detail,
		pq.Array(violations),
		rec.Error,
		rec.CreatedAt,
		rec.CompletedAt,
	)
	if err != nil {
		r.logger.Error("Failed to save task", zap.String("task_id", rec.ID), zap.Error(err))
		return fmt.Errorf("failed to save task %s: %w", rec.ID, err)
	}
	r.logger.Debug("Task saved", zap.String("task_id", rec.ID), zap.String("status", rec.Status))
	return nil
}

func (r *pgTaskRepository) ListByStory(ctx context.Context, title string, limit int) ([]*TaskRecord, error) {
	var tasks []*TaskRecord
	err := pgxscan.Select(ctx, r.db, &tasks, listTasksByStoryQuery, title, normalizeLimit(limit))
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		r.logger.Error("Failed to list tasks", zap.String("story_title", title), zap.Error(err))
		return nil, fmt.Errorf("failed to list tasks for %q: %w", title, err)
	}
	if tasks == nil {
		tasks = []*TaskRecord{}
	}
	return tasks, nil
}
