// Package messaging переносит задачи над историями и уведомления о них через RabbitMQ.
package messaging

import (
	"fmt"
	"strings"

	"serial-novel/internal/models"
)

// TaskType - вид задачи над историей.
type TaskType string

const (
	TaskCreateStory        TaskType = "create_story"
	TaskRegenerateOutlines TaskType = "regenerate_outlines"
	TaskReviseOutline      TaskType = "revise_outline"
	TaskFinalizeStory      TaskType = "finalize_story"
	TaskGenerateStory      TaskType = "generate_story"
	TaskTranslateStory     TaskType = "translate_story"
)

// TaskPayload - сообщение в очереди задач.
type TaskPayload struct {
	TaskID         string            `json:"taskId"`
	Type           TaskType          `json:"type"`
	StoryTitle     string            `json:"storyTitle"`
	Info           *models.StoryInfo `json:"info,omitempty"`
	SkipOutlines   bool              `json:"skipOutlines,omitempty"`
	EpisodeIndex   int               `json:"episodeIndex,omitempty"`
	Feedback       string            `json:"feedback,omitempty"`
	TargetLanguage string            `json:"targetLanguage,omitempty"`
}

// Validate проверяет, что для типа задачи переданы нужные поля.
func (p TaskPayload) Validate() error {
	if strings.TrimSpace(p.TaskID) == "" {
		return fmt.Errorf("%w: task id is empty", models.ErrInvalidInput)
	}
	if strings.TrimSpace(p.StoryTitle) == "" {
		return fmt.Errorf("%w: story title is empty", models.ErrInvalidInput)
	}
	switch p.Type {
	case TaskCreateStory:
		if p.Info == nil {
			return fmt.Errorf("%w: create_story requires info", models.ErrInvalidInput)
		}
		if p.Info.Title != p.StoryTitle {
			return fmt.Errorf("%w: info title %q does not match %q", models.ErrInvalidInput, p.Info.Title, p.StoryTitle)
		}
	case TaskReviseOutline:
		if p.EpisodeIndex < 1 || strings.TrimSpace(p.Feedback) == "" {
			return fmt.Errorf("%w: revise_outline requires episodeIndex and feedback", models.ErrInvalidInput)
		}
	case TaskTranslateStory:
		if strings.TrimSpace(p.TargetLanguage) == "" {
			return fmt.Errorf("%w: translate_story requires targetLanguage", models.ErrInvalidInput)
		}
	case TaskRegenerateOutlines, TaskFinalizeStory, TaskGenerateStory:
	default:
		return fmt.Errorf("%w: unknown task type %q", models.ErrInvalidInput, p.Type)
	}
	return nil
}

// NotificationStatus - статус в уведомлении.
type NotificationStatus string

const (
	NotificationStatusProgress NotificationStatus = "progress"
	NotificationStatusSuccess  NotificationStatus = "success"
	NotificationStatusError    NotificationStatus = "error"
)

// NotificationPayload - сообщение в очереди уведомлений.
type NotificationPayload struct {
	TaskID       string             `json:"taskId"`
	Type         TaskType           `json:"type"`
	StoryTitle   string             `json:"storyTitle"`
	Status       NotificationStatus `json:"status"`
	Episode      int                `json:"episode,omitempty"`
	Total        int                `json:"total,omitempty"`
	State        string             `json:"state,omitempty"`
	Detail       string             `json:"detail,omitempty"`
	ErrorDetails string             `json:"errorDetails,omitempty"`
}
