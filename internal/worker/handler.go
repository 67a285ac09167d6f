// Package worker выполняет задачи над историями, пришедшие из очереди.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"serial-novel/internal/episode"
	"serial-novel/internal/messaging"
	"serial-novel/internal/models"
	"serial-novel/internal/outline"
	"serial-novel/internal/repository"
	"serial-novel/internal/service"

	"go.uber.org/zap"
)

// TaskHandler выполняет одну задачу: вызывает сервис, пишет журнал,
// отправляет уведомления о ходе и результате.
type TaskHandler struct {
	stories  service.StoryService
	journal  repository.TaskRepository
	notifier messaging.Notifier
	logger   *zap.Logger
	now      func() time.Time
}

var _ messaging.TaskHandler = (*TaskHandler)(nil)

func NewTaskHandler(stories service.StoryService, journal repository.TaskRepository, notifier messaging.Notifier, logger *zap.Logger) *TaskHandler {
	return &TaskHandler{
		stories:  stories,
		journal:  journal,
		notifier: notifier,
		logger:   logger.Named("TaskHandler"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// outcome - то, что задача сообщает в журнал и финальное уведомление.
type outcome struct {
	detail     string
	violations []string
}

func (h *TaskHandler) Handle(ctx context.Context, payload messaging.TaskPayload) error {
	taskType := string(payload.Type)
	tasksReceived.WithLabelValues(taskType).Inc()
	started := time.Now()
	log := h.logger.With(
		zap.String("task_id", payload.TaskID),
		zap.String("type", taskType),
		zap.String("story_title", payload.StoryTitle),
	)
	log.Info("Processing task")

	rec := &repository.TaskRecord{
		ID:         payload.TaskID,
		Type:       taskType,
		StoryTitle: payload.StoryTitle,
		Status:     repository.TaskStatusRunning,
		CreatedAt:  h.now(),
	}
	h.saveJournal(ctx, log, rec)

	res, err := h.dispatch(ctx, payload)

	completed := h.now()
	rec.CompletedAt = &completed
	rec.Detail = res.detail
	rec.Violations = res.violations

	if err != nil {
		reason := failureReason(err)
		tasksFailed.WithLabelValues(taskType, reason).Inc()
		taskDuration.WithLabelValues(taskType, repository.TaskStatusError).Observe(time.Since(started).Seconds())
		log.Error("Task failed", zap.String("reason", reason), zap.Error(err))

		rec.Status = repository.TaskStatusError
		rec.Error = err.Error()
		h.saveJournal(ctx, log, rec)
		h.notify(ctx, log, messaging.NotificationPayload{
			TaskID:       payload.TaskID,
			Type:         payload.Type,
			StoryTitle:   payload.StoryTitle,
			Status:       messaging.NotificationStatusError,
			Detail:       res.detail,
			ErrorDetails: err.Error(),
		})
		return err
	}

	tasksSucceeded.WithLabelValues(taskType).Inc()
	taskDuration.WithLabelValues(taskType, repository.TaskStatusSuccess).Observe(time.Since(started).Seconds())
	rec.Status = repository.TaskStatusSuccess
	h.saveJournal(ctx, log, rec)
	h.notify(ctx, log, messaging.NotificationPayload{
		TaskID:     payload.TaskID,
		Type:       payload.Type,
		StoryTitle: payload.StoryTitle,
		Status:     messaging.NotificationStatusSuccess,
		Detail:     res.detail,
	})
	log.Info("Task completed", zap.String("detail", res.detail), zap.Duration("took", time.Since(started)))
	return nil
}

func (h *TaskHandler) dispatch(ctx context.Context, p messaging.TaskPayload) (outcome, error) {
	switch p.Type {
	case messaging.TaskCreateStory:
		outlines, err := h.stories.CreateStory(ctx, p.Info, !p.SkipOutlines)
		if err != nil {
			return outcome{}, err
		}
		if p.SkipOutlines {
			report, err := h.stories.GenerateStory(ctx, p.StoryTitle, h.progress(ctx, p))
			return runOutcome(report), err
		}
		return outlinesOutcome(outlines), nil

	case messaging.TaskRegenerateOutlines:
		outlines, err := h.stories.RegenerateOutlines(ctx, p.StoryTitle)
		if err != nil {
			return outcome{}, err
		}
		return outlinesOutcome(outlines), nil

	case messaging.TaskReviseOutline:
		_, err := h.stories.ReviseOutline(ctx, p.StoryTitle, p.EpisodeIndex, p.Feedback)
		if err != nil {
			return outcome{}, err
		}
		return outcome{detail: fmt.Sprintf("revised outline %d and later episodes", p.EpisodeIndex)}, nil

	case messaging.TaskFinalizeStory:
		report, err := h.stories.FinalizeStory(ctx, p.StoryTitle, h.progress(ctx, p))
		return runOutcome(report), err

	case messaging.TaskGenerateStory:
		report, err := h.stories.GenerateStory(ctx, p.StoryTitle, h.progress(ctx, p))
		return runOutcome(report), err

	case messaging.TaskTranslateStory:
		n, err := h.stories.TranslateStory(ctx, p.StoryTitle, p.TargetLanguage)
		return outcome{detail: fmt.Sprintf("translated %d episodes to %s", n, p.TargetLanguage)}, err
	}
	return outcome{}, fmt.Errorf("%w: unknown task type %q", models.ErrInvalidInput, p.Type)
}

// progress пересылает переходы автомата как уведомления о ходе задачи.
func (h *TaskHandler) progress(ctx context.Context, p messaging.TaskPayload) episode.Observer {
	log := h.logger.With(zap.String("task_id", p.TaskID))
	return func(tr episode.Transition) {
		if tr.To == episode.MergingResult {
			return
		}
		n := messaging.NotificationPayload{
			TaskID:     p.TaskID,
			Type:       p.Type,
			StoryTitle: p.StoryTitle,
			Status:     messaging.NotificationStatusProgress,
			Episode:    tr.Episode,
			Total:      tr.Total,
			State:      tr.To.String(),
		}
		if tr.Err != nil {
			n.ErrorDetails = tr.Err.Error()
		}
		h.notify(ctx, log, n)
	}
}

func outlinesOutcome(outlines models.OutlineMap) outcome {
	if outline.HasPlaceholders(outlines) {
		return outcome{detail: fmt.Sprintf("%d outlines, generation fell back to placeholders", len(outlines))}
	}
	return outcome{detail: fmt.Sprintf("%d outlines ready", len(outlines))}
}

func runOutcome(report *episode.RunReport) outcome {
	if report == nil {
		return outcome{}
	}
	res := outcome{}
	if report.Generated() == 0 {
		res.detail = fmt.Sprintf("no episodes generated, %d total", report.Total)
	} else {
		res.detail = fmt.Sprintf("generated episodes %d..%d of %d", report.FirstGenerated, report.LastGenerated, report.Total)
	}
	for _, v := range report.Violations {
		res.violations = append(res.violations, v.String())
	}
	if len(res.violations) > 0 {
		res.detail += "; continuity: " + strings.Join(res.violations, "; ")
	}
	if len(report.Untracked) > 0 {
		untracked := make([]string, 0, len(report.Untracked))
		for _, u := range report.Untracked {
			untracked = append(untracked, u.String())
		}
		res.detail += "; characters: " + strings.Join(untracked, "; ")
	}
	return res
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, models.ErrStoryBusy):
		return "busy"
	case errors.Is(err, models.ErrStoryExists):
		return "exists"
	case errors.Is(err, models.ErrOutlinesIncomplete):
		return "outlines_incomplete"
	case errors.Is(err, models.ErrNotFound):
		return "not_found"
	case errors.Is(err, models.ErrInvalidInput), errors.Is(err, models.ErrInvalidGenerationRequest):
		return "invalid_input"
	case errors.Is(err, models.ErrTransport):
		return "transport"
	case errors.Is(err, models.ErrMalformedGeneration):
		return "malformed_generation"
	case errors.Is(err, models.ErrLedgerIntegrity):
		return "ledger_integrity"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	}
	return "internal"
}

func (h *TaskHandler) saveJournal(ctx context.Context, log *zap.Logger, rec *repository.TaskRecord) {
	if err := h.journal.Save(context.WithoutCancel(ctx), rec); err != nil {
		log.Warn("Failed to journal task", zap.String("status", rec.Status), zap.Error(err))
	}
}

func (h *TaskHandler) notify(ctx context.Context, log *zap.Logger, n messaging.NotificationPayload) {
	if err := h.notifier.Notify(context.WithoutCancel(ctx), n); err != nil {
		log.Warn("Failed to send notification", zap.String("status", string(n.Status)), zap.Error(err))
	}
}
