// Package api - HTTP-интерфейс к историям. Долгие операции ставятся в очередь
// задач, чтение обслуживается сервисом напрямую.
package api

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"serial-novel/internal/messaging"
	"serial-novel/internal/models"
	"serial-novel/internal/repository"
	"serial-novel/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// APIError - тело ответа об ошибке.
type APIError struct {
	Message string `json:"message"`
}

// TaskAccepted - ответ на постановку задачи.
type TaskAccepted struct {
	TaskID     string             `json:"taskId"`
	Type       messaging.TaskType `json:"type"`
	StoryTitle string             `json:"storyTitle"`
}

// CreateStoryRequest - тело POST /api/stories.
type CreateStoryRequest struct {
	models.StoryInfo
	// SkipOutlines запускает свободную генерацию эпизодов без плана.
	SkipOutlines bool `json:"skip_outlines"`
}

type feedbackRequest struct {
	Feedback string `json:"feedback"`
}

type translateRequest struct {
	Language string `json:"language"`
}

// StoryHandler обрабатывает запросы к историям.
type StoryHandler struct {
	stories service.StoryService
	tasks   messaging.TaskPublisher
	journal repository.TaskRepository
	logger  *zap.Logger
	newID   func() string
}

func NewStoryHandler(stories service.StoryService, tasks messaging.TaskPublisher, journal repository.TaskRepository, logger *zap.Logger) *StoryHandler {
	return &StoryHandler{
		stories: stories,
		tasks:   tasks,
		journal: journal,
		logger:  logger.Named("StoryHandler"),
		newID:   uuid.NewString,
	}
}

// RegisterRoutes регистрирует маршруты историй в группе /api.
func (h *StoryHandler) RegisterRoutes(g *gin.RouterGroup) {
	stories := g.Group("/stories")
	{
		stories.GET("", h.listStories)
		stories.POST("", h.createStory)
		stories.GET("/:title", h.getStory)
		stories.DELETE("/:title", h.deleteStory)
		stories.POST("/:title/outlines/regenerate", h.regenerateOutlines)
		stories.POST("/:title/outlines/:episode/feedback", h.reviseOutline)
		stories.POST("/:title/finalize", h.enqueue(messaging.TaskFinalizeStory))
		stories.POST("/:title/generate", h.enqueue(messaging.TaskGenerateStory))
		stories.GET("/:title/episodes/:episode", h.getEpisode)
		stories.POST("/:title/translations", h.translateStory)
		stories.GET("/:title/translations/:lang/episodes/:episode", h.getTranslation)
		stories.GET("/:title/export.pdf", h.exportPDF)
		stories.GET("/:title/tasks", h.listTasks)
	}
}

func (h *StoryHandler) listStories(c *gin.Context) {
	titles, err := h.stories.ListStories(c.Request.Context())
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stories": titles})
}

func (h *StoryHandler) createStory(c *gin.Context) {
	var req CreateStoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, APIError{Message: "invalid request body: " + err.Error()})
		return
	}
	info := req.StoryInfo
	info.Title = strings.TrimSpace(info.Title)
	if err := info.Validate(); err != nil {
		h.handleServiceError(c, err)
		return
	}
	// Занятое название отклоняем сразу, чтобы не ставить заведомо неудачную задачу.
	if _, err := h.stories.GetStory(c.Request.Context(), info.Title); err == nil {
		h.handleServiceError(c, fmt.Errorf("%w: %q", models.ErrStoryExists, info.Title))
		return
	} else if !errors.Is(err, models.ErrNotFound) {
		h.handleServiceError(c, err)
		return
	}

	h.publish(c, messaging.TaskPayload{
		Type:         messaging.TaskCreateStory,
		StoryTitle:   info.Title,
		Info:         &info,
		SkipOutlines: req.SkipOutlines,
	})
}

func (h *StoryHandler) getStory(c *gin.Context) {
	title, ok := h.titleParam(c)
	if !ok {
		return
	}
	view, err := h.stories.GetStory(c.Request.Context(), title)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *StoryHandler) deleteStory(c *gin.Context) {
	title, ok := h.titleParam(c)
	if !ok {
		return
	}
	if err := h.stories.DeleteStory(c.Request.Context(), title); err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *StoryHandler) regenerateOutlines(c *gin.Context) {
	h.enqueue(messaging.TaskRegenerateOutlines)(c)
}

func (h *StoryHandler) reviseOutline(c *gin.Context) {
	title, ok := h.titleParam(c)
	if !ok {
		return
	}
	k, ok := episodeParam(c)
	if !ok {
		return
	}
	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Feedback) == "" {
		c.JSON(http.StatusBadRequest, APIError{Message: "feedback is required"})
		return
	}
	h.publish(c, messaging.TaskPayload{
		Type:         messaging.TaskReviseOutline,
		StoryTitle:   title,
		EpisodeIndex: k,
		Feedback:     req.Feedback,
	})
}

func (h *StoryHandler) translateStory(c *gin.Context) {
	title, ok := h.titleParam(c)
	if !ok {
		return
	}
	var req translateRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Language) == "" {
		c.JSON(http.StatusBadRequest, APIError{Message: "language is required"})
		return
	}
	h.publish(c, messaging.TaskPayload{
		Type:           messaging.TaskTranslateStory,
		StoryTitle:     title,
		TargetLanguage: strings.TrimSpace(req.Language),
	})
}

// enqueue ставит задачу, которой нужен только заголовок истории.
func (h *StoryHandler) enqueue(taskType messaging.TaskType) gin.HandlerFunc {
	return func(c *gin.Context) {
		title, ok := h.titleParam(c)
		if !ok {
			return
		}
		h.publish(c, messaging.TaskPayload{Type: taskType, StoryTitle: title})
	}
}

func (h *StoryHandler) getEpisode(c *gin.Context) {
	title, ok := h.titleParam(c)
	if !ok {
		return
	}
	k, ok := episodeParam(c)
	if !ok {
		return
	}
	rec, err := h.stories.GetEpisode(c.Request.Context(), title, k)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *StoryHandler) getTranslation(c *gin.Context) {
	title, ok := h.titleParam(c)
	if !ok {
		return
	}
	k, ok := episodeParam(c)
	if !ok {
		return
	}
	rec, err := h.stories.GetTranslation(c.Request.Context(), title, c.Param("lang"), k)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *StoryHandler) exportPDF(c *gin.Context) {
	title, ok := h.titleParam(c)
	if !ok {
		return
	}
	// Сначала рендер в буфер: после первой записи в ответ статус уже не поменять.
	var buf bytes.Buffer
	if err := h.stories.ExportPDF(c.Request.Context(), title, &buf); err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename=%q`, title+".pdf"))
	c.Data(http.StatusOK, "application/pdf", buf.Bytes())
}

func (h *StoryHandler) listTasks(c *gin.Context) {
	title, ok := h.titleParam(c)
	if !ok {
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, APIError{Message: "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	tasks, err := h.journal.ListByStory(c.Request.Context(), title, limit)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	if tasks == nil {
		tasks = []*repository.TaskRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

func (h *StoryHandler) publish(c *gin.Context, payload messaging.TaskPayload) {
	payload.TaskID = h.newID()
	if err := payload.Validate(); err != nil {
		h.handleServiceError(c, err)
		return
	}
	if err := h.tasks.PublishTask(c.Request.Context(), payload); err != nil {
		h.logger.Error("Failed to publish task",
			zap.String("type", string(payload.Type)), zap.String("story_title", payload.StoryTitle), zap.Error(err))
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, APIError{Message: "failed to enqueue task"})
		return
	}
	h.logger.Info("Task enqueued",
		zap.String("task_id", payload.TaskID), zap.String("type", string(payload.Type)), zap.String("story_title", payload.StoryTitle))
	c.JSON(http.StatusAccepted, TaskAccepted{TaskID: payload.TaskID, Type: payload.Type, StoryTitle: payload.StoryTitle})
}

func (h *StoryHandler) titleParam(c *gin.Context) (string, bool) {
	title := c.Param("title")
	if err := models.ValidateTitle(title); err != nil {
		h.handleServiceError(c, err)
		return "", false
	}
	return title, true
}

func episodeParam(c *gin.Context) (int, bool) {
	k, err := strconv.Atoi(c.Param("episode"))
	if err != nil || k < 1 {
		c.JSON(http.StatusBadRequest, APIError{Message: "episode must be a positive integer"})
		return 0, false
	}
	return k, true
}

func (h *StoryHandler) handleServiceError(c *gin.Context, err error) {
	var status int
	var apiErr APIError

	switch {
	case errors.Is(err, models.ErrNotFound):
		status = http.StatusNotFound
		apiErr = APIError{Message: err.Error()}
	case errors.Is(err, models.ErrInvalidInput), errors.Is(err, models.ErrOutlinesIncomplete):
		status = http.StatusBadRequest
		apiErr = APIError{Message: err.Error()}
	case errors.Is(err, models.ErrStoryExists), errors.Is(err, models.ErrStoryBusy):
		status = http.StatusConflict
		apiErr = APIError{Message: err.Error()}
	default:
		status = http.StatusInternalServerError
		apiErr = APIError{Message: "internal server error"}
		_ = c.Error(err)
	}
	c.JSON(status, apiErr)
}
