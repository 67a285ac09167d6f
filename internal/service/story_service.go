// Package service собирает конвейер истории: план, эпизоды, перевод, выгрузку.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"serial-novel/internal/episode"
	"serial-novel/internal/export"
	"serial-novel/internal/gateway"
	"serial-novel/internal/ledger"
	"serial-novel/internal/lock"
	"serial-novel/internal/models"
	"serial-novel/internal/outline"
	"serial-novel/internal/translation"

	"go.uber.org/zap"
)

// Статусы истории для GetStory.
const (
	StatusCreated    = "created"
	StatusOutlined   = "outlined"
	StatusInProgress = "in_progress"
	StatusComplete   = "complete"
)

const defaultLockTTL = 2 * time.Hour

// StoryView - сводка по истории.
type StoryView struct {
	Info     *models.StoryInfo `json:"info"`
	Outlines models.OutlineMap `json:"outlines,omitempty"`
	Episodes []int             `json:"episodes"`
	Status   string            `json:"status"`
}

// StoryService определяет операции над историями. Все изменяющие операции
// захватывают блокировку истории; занятая история дает models.ErrStoryBusy.
type StoryService interface {
	// CreateStory сохраняет параметры истории и, если withOutlines, строит план.
	CreateStory(ctx context.Context, info *models.StoryInfo, withOutlines bool) (models.OutlineMap, error)
	RegenerateOutlines(ctx context.Context, title string) (models.OutlineMap, error)
	ReviseOutline(ctx context.Context, title string, episodeIndex int, feedback string) (models.OutlineMap, error)
	FinalizeStory(ctx context.Context, title string, observe episode.Observer) (*episode.RunReport, error)
	GenerateStory(ctx context.Context, title string, observe episode.Observer) (*episode.RunReport, error)
	TranslateStory(ctx context.Context, title, language string) (int, error)

	ListStories(ctx context.Context) ([]string, error)
	GetStory(ctx context.Context, title string) (*StoryView, error)
	GetEpisode(ctx context.Context, title string, episodeIndex int) (*models.EpisodeRecord, error)
	GetTranslation(ctx context.Context, title, language string, episodeIndex int) (*models.TranslatedEpisode, error)
	DeleteStory(ctx context.Context, title string) error
	ExportPDF(ctx context.Context, title string, w io.Writer) error
}

// Option настраивает сервис.
type Option func(*storyServiceImpl)

// WithLockTTL задает время жизни блокировки истории.
func WithLockTTL(ttl time.Duration) Option {
	return func(s *storyServiceImpl) {
		if ttl > 0 {
			s.lockTTL = ttl
		}
	}
}

// WithMachineOptions передает настройки автомату эпизодов.
func WithMachineOptions(opts ...episode.Option) Option {
	return func(s *storyServiceImpl) { s.machineOpts = append(s.machineOpts, opts...) }
}

type storyServiceImpl struct {
	ledger      ledger.Ledger
	outlines    *outline.Pipeline
	machine     *episode.Machine
	translator  *translation.Translator
	locker      lock.Locker
	lockTTL     time.Duration
	machineOpts []episode.Option
	logger      *zap.Logger
}

func NewStoryService(gen gateway.Generator, l ledger.Ledger, locker lock.Locker, logger *zap.Logger, opts ...Option) StoryService {
	s := &storyServiceImpl{
		ledger:     l,
		outlines:   outline.NewPipeline(gen, logger),
		translator: translation.NewTranslator(gen),
		locker:     locker,
		lockTTL:    defaultLockTTL,
		logger:     logger.Named("StoryService"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.machine = episode.NewMachine(gen, l, logger, s.machineOpts...)
	return s
}

// acquire захватывает блокировку истории. Снятие не зависит от отмены ctx.
func (s *storyServiceImpl) acquire(ctx context.Context, title string) (func(), error) {
	release, err := s.locker.Acquire(ctx, lock.StoryKey(title), s.lockTTL)
	if errors.Is(err, lock.ErrLocked) {
		return nil, fmt.Errorf("%w: %q", models.ErrStoryBusy, title)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock story %q: %w", title, err)
	}
	return func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("Failed to release story lock", zap.String("title", title), zap.Error(err))
		}
	}, nil
}

func (s *storyServiceImpl) CreateStory(ctx context.Context, info *models.StoryInfo, withOutlines bool) (models.OutlineMap, error) {
	if info == nil {
		return nil, fmt.Errorf("%w: story info is required", models.ErrInvalidInput)
	}
	if err := info.Validate(); err != nil {
		return nil, err
	}
	unlock, err := s.acquire(ctx, info.Title)
	if err != nil {
		return nil, err
	}
	defer unlock()

	exists, err := s.ledger.StoryExists(ctx, info.Title)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: %q", models.ErrStoryExists, info.Title)
	}
	info.TargetLanguage = ""
	if err := s.ledger.SaveInfo(ctx, info); err != nil {
		return nil, err
	}
	s.logger.Info("Story created", zap.String("title", info.Title),
		zap.Int("total_episodes", info.TotalEpisodes), zap.Bool("with_outlines", withOutlines))

	if !withOutlines {
		return nil, nil
	}
	return s.generateOutlines(ctx, info)
}

func (s *storyServiceImpl) generateOutlines(ctx context.Context, info *models.StoryInfo) (models.OutlineMap, error) {
	outlines, err := s.outlines.GenerateOutlines(ctx, info)
	if err != nil {
		return nil, fmt.Errorf("generate outlines: %w", err)
	}
	if err := s.ledger.SaveOutlines(ctx, info.Title, outlines); err != nil {
		return nil, err
	}
	if outline.HasPlaceholders(outlines) {
		s.logger.Warn("Outlines fell back to placeholders", zap.String("title", info.Title))
	}
	return outlines, nil
}

func (s *storyServiceImpl) RegenerateOutlines(ctx context.Context, title string) (models.OutlineMap, error) {
	unlock, err := s.acquire(ctx, title)
	if err != nil {
		return nil, err
	}
	defer unlock()

	info, err := s.ledger.LoadInfo(ctx, title)
	if err != nil {
		return nil, err
	}
	if err := s.requireNoEpisodes(ctx, title); err != nil {
		return nil, err
	}
	return s.generateOutlines(ctx, info)
}

func (s *storyServiceImpl) requireNoEpisodes(ctx context.Context, title string) error {
	indices, err := s.ledger.ListEpisodes(ctx, title)
	if err != nil {
		return err
	}
	if len(indices) > 0 {
		return fmt.Errorf("%w: story %q already has %d generated episodes", models.ErrInvalidInput, title, len(indices))
	}
	return nil
}

func (s *storyServiceImpl) ReviseOutline(ctx context.Context, title string, episodeIndex int, feedback string) (models.OutlineMap, error) {
	unlock, err := s.acquire(ctx, title)
	if err != nil {
		return nil, err
	}
	defer unlock()

	info, err := s.ledger.LoadInfo(ctx, title)
	if err != nil {
		return nil, err
	}
	outlines, err := s.ledger.LoadOutlines(ctx, title)
	if err != nil {
		return nil, err
	}
	if err := s.requireNoEpisodes(ctx, title); err != nil {
		return nil, err
	}

	if _, err := s.outlines.ImproveOutline(ctx, info, outlines, episodeIndex, feedback); err != nil {
		return nil, fmt.Errorf("improve outline %d: %w", episodeIndex, err)
	}
	if err := s.ledger.SaveOutlines(ctx, title, outlines); err != nil {
		return nil, err
	}

	outlines, flowErr := s.outlines.MaintainFlow(ctx, info, outlines, episodeIndex)
	// уже согласованные эпизоды сохраняются и при ошибке
	if err := s.ledger.SaveOutlines(ctx, title, outlines); err != nil {
		return nil, err
	}
	if flowErr != nil {
		return outlines, fmt.Errorf("maintain flow after episode %d: %w", episodeIndex, flowErr)
	}
	s.logger.Info("Outline revised", zap.String("title", title), zap.Int("episode", episodeIndex))
	return outlines, nil
}

func (s *storyServiceImpl) FinalizeStory(ctx context.Context, title string, observe episode.Observer) (*episode.RunReport, error) {
	unlock, err := s.acquire(ctx, title)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if _, err := s.ledger.LoadOutlines(ctx, title); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("%w: story %q has no outlines", models.ErrNotFound, title)
		}
		return nil, err
	}
	return s.run(ctx, title, observe)
}

func (s *storyServiceImpl) GenerateStory(ctx context.Context, title string, observe episode.Observer) (*episode.RunReport, error) {
	unlock, err := s.acquire(ctx, title)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return s.run(ctx, title, observe)
}

// run запускает автомат; план с заглушками не допускается.
func (s *storyServiceImpl) run(ctx context.Context, title string, observe episode.Observer) (*episode.RunReport, error) {
	outlines, err := s.ledger.LoadOutlines(ctx, title)
	switch {
	case errors.Is(err, models.ErrNotFound):
	case err != nil:
		return nil, err
	case outline.HasPlaceholders(outlines):
		return nil, fmt.Errorf("%w: regenerate outlines of %q first", models.ErrOutlinesIncomplete, title)
	}

	report, err := s.machine.Run(ctx, title, observe)
	if err != nil {
		return report, err
	}
	s.logger.Info("Story run finished", zap.String("title", title),
		zap.Int("generated", report.Generated()), zap.Int("violations", len(report.Violations)))
	return report, nil
}

func (s *storyServiceImpl) TranslateStory(ctx context.Context, title, language string) (int, error) {
	unlock, err := s.acquire(ctx, title)
	if err != nil {
		return 0, err
	}
	defer unlock()

	info, err := s.ledger.LoadInfo(ctx, title)
	if err != nil {
		return 0, err
	}
	translated := &models.TranslatedInfo{StoryInfo: *info, TranslatedFrom: translation.OriginalLanguage}
	translated.TargetLanguage = language
	if err := s.ledger.SaveTranslatedInfo(ctx, title, language, translated); err != nil {
		return 0, err
	}
	info.TargetLanguage = language
	if err := s.ledger.SaveInfo(ctx, info); err != nil {
		return 0, err
	}

	count := 0
	for k := 1; k <= info.TotalEpisodes; k++ {
		rec, err := s.ledger.LoadEpisode(ctx, title, k)
		if errors.Is(err, models.ErrNotFound) {
			s.logger.Warn("Episode not found, skipping translation",
				zap.String("title", title), zap.Int("episode", k))
			continue
		}
		if err != nil {
			return count, err
		}
		ep, err := s.translator.TranslateEpisode(ctx, rec, language)
		if err != nil {
			return count, fmt.Errorf("episode %d: %w", k, err)
		}
		if err := s.ledger.SaveTranslation(ctx, title, language, k, ep); err != nil {
			return count, err
		}
		count++
		s.logger.Debug("Episode translated", zap.String("title", title),
			zap.Int("episode", k), zap.String("language", language))
	}
	s.logger.Info("Story translated", zap.String("title", title),
		zap.String("language", language), zap.Int("episodes", count))
	return count, nil
}

func (s *storyServiceImpl) ListStories(ctx context.Context) ([]string, error) {
	return s.ledger.ListStories(ctx)
}

func (s *storyServiceImpl) GetStory(ctx context.Context, title string) (*StoryView, error) {
	info, err := s.ledger.LoadInfo(ctx, title)
	if err != nil {
		return nil, err
	}
	view := &StoryView{Info: info}

	outlines, err := s.ledger.LoadOutlines(ctx, title)
	switch {
	case errors.Is(err, models.ErrNotFound):
	case err != nil:
		return nil, err
	default:
		view.Outlines = outlines
	}

	if view.Episodes, err = s.ledger.ListEpisodes(ctx, title); err != nil {
		return nil, err
	}
	if view.Episodes == nil {
		view.Episodes = []int{}
	}
	switch {
	case len(view.Episodes) >= info.TotalEpisodes:
		view.Status = StatusComplete
	case len(view.Episodes) > 0:
		view.Status = StatusInProgress
	case view.Outlines != nil:
		view.Status = StatusOutlined
	default:
		view.Status = StatusCreated
	}
	return view, nil
}

func (s *storyServiceImpl) GetEpisode(ctx context.Context, title string, episodeIndex int) (*models.EpisodeRecord, error) {
	return s.ledger.LoadEpisode(ctx, title, episodeIndex)
}

func (s *storyServiceImpl) GetTranslation(ctx context.Context, title, language string, episodeIndex int) (*models.TranslatedEpisode, error) {
	return s.ledger.LoadTranslation(ctx, title, language, episodeIndex)
}

func (s *storyServiceImpl) DeleteStory(ctx context.Context, title string) error {
	unlock, err := s.acquire(ctx, title)
	if err != nil {
		return err
	}
	defer unlock()
	if err := s.ledger.DeleteStory(ctx, title); err != nil {
		return err
	}
	s.logger.Info("Story deleted", zap.String("title", title))
	return nil
}

func (s *storyServiceImpl) ExportPDF(ctx context.Context, title string, w io.Writer) error {
	info, err := s.ledger.LoadInfo(ctx, title)
	if err != nil {
		return err
	}
	indices, err := s.ledger.ListEpisodes(ctx, title)
	if err != nil {
		return err
	}
	if len(indices) == 0 {
		return fmt.Errorf("%w: story %q has no episodes", models.ErrNotFound, title)
	}
	episodes := make([]*models.EpisodeRecord, 0, len(indices))
	for _, k := range indices {
		rec, err := s.ledger.LoadEpisode(ctx, title, k)
		if err != nil {
			return err
		}
		episodes = append(episodes, rec)
	}
	return export.WritePDF(w, info, episodes)
}
