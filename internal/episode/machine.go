// Package episode последовательно генерирует эпизоды истории,
// перенося краткое содержание, состав персонажей и последнюю сцену
// из эпизода в эпизод.
package episode

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"serial-novel/internal/characters"
	"serial-novel/internal/gateway"
	"serial-novel/internal/ledger"
	"serial-novel/internal/models"
	"serial-novel/internal/normalizer"

	"go.uber.org/zap"
)

// Machine - автомат генерации эпизодов. Один Run обрабатывает одну историю;
// за одновременные запуски для одного заголовка отвечает вызывающий код.
type Machine struct {
	gen        gateway.Generator
	ledger     ledger.Ledger
	summarizer *Summarizer
	tagger     characters.Tagger
	logger     *zap.Logger
}

// Option настраивает Machine.
type Option func(*Machine)

// WithTagger включает дополнительную сверку персонажей по тексту эпизода.
func WithTagger(t characters.Tagger) Option {
	return func(m *Machine) { m.tagger = t }
}

func NewMachine(gen gateway.Generator, l ledger.Ledger, logger *zap.Logger, opts ...Option) *Machine {
	m := &Machine{
		gen:        gen,
		ledger:     l,
		summarizer: NewSummarizer(gen),
		logger:     logger.Named("EpisodeMachine"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RunReport - итог запуска.
type RunReport struct {
	Title          string
	Total          int
	FirstGenerated int // 0, если ничего не генерировалось
	LastGenerated  int
	OutlineDriven  bool
	Violations     []models.ContinuityViolation
	Untracked      []UntrackedCharacters // заполняется только при включенной сверке персонажей
}

// UntrackedCharacters - имена, которые разметка нашла в тексте эпизода,
// но модель не указала в current_characters.
type UntrackedCharacters struct {
	Episode int
	Names   []string
}

func (u UntrackedCharacters) String() string {
	return fmt.Sprintf("episode %d mentions untracked %s", u.Episode, strings.Join(u.Names, ", "))
}

// Generated возвращает число эпизодов, созданных этим запуском.
func (r *RunReport) Generated() int {
	if r.FirstGenerated == 0 {
		return 0
	}
	return r.LastGenerated - r.FirstGenerated + 1
}

// resumePoint - состояние, восстановленное из сохраненных эпизодов.
type resumePoint struct {
	next   int
	cursor models.ContinuityCursor
	dead   deathRoll
}

// Run генерирует недостающие эпизоды истории строго по возрастанию номера.
// Если сохранен план, автомат работает по нему; иначе - в свободном режиме.
// Ошибка на эпизоде k оставляет в хранилище эпизоды 1..k-1; повторный
// вызов продолжит с k.
func (m *Machine) Run(ctx context.Context, title string, observe Observer) (*RunReport, error) {
	if observe == nil {
		observe = func(Transition) {}
	}
	info, err := m.ledger.LoadInfo(ctx, title)
	if err != nil {
		return nil, err
	}
	outlines, err := m.ledger.LoadOutlines(ctx, title)
	switch {
	case errors.Is(err, models.ErrNotFound):
		outlines = nil
	case err != nil:
		return nil, err
	}

	resume, err := m.resume(ctx, title, info.TotalEpisodes)
	if err != nil {
		return nil, err
	}

	report := &RunReport{Title: title, Total: info.TotalEpisodes, OutlineDriven: outlines != nil}
	log := m.logger.With(zap.String("title", title), zap.Int("total", info.TotalEpisodes))

	state := AwaitingFirstEpisode
	if resume.next > 1 {
		state = AwaitingNextEpisode
		log.Info("Resuming story", zap.Int("next_episode", resume.next))
	}
	move := func(to State, episode int, err error) {
		observe(Transition{From: state, To: to, Episode: episode, Total: info.TotalEpisodes, Err: err})
		state = to
	}

	if resume.next > info.TotalEpisodes {
		move(Done, info.TotalEpisodes, nil)
		log.Info("Story already complete")
		return report, nil
	}

	cursor := resume.cursor
	for k := resume.next; k <= info.TotalEpisodes; k++ {
		if err := ctx.Err(); err != nil {
			move(Failed, k, err)
			return report, err
		}

		bundle := Bundle{Episode: k, Total: info.TotalEpisodes, Info: info, Cursor: cursor}
		if outlines != nil {
			bundle.Outline = outlines[k]
		}
		if k == 1 {
			bundle.RequiredCharacters = info.NamedCharacters()
		}

		move(GeneratingEpisode, k, nil)
		rec, err := m.GenerateEpisode(ctx, bundle)
		if err != nil {
			episodeFailures.WithLabelValues("generate").Inc()
			move(Failed, k, err)
			log.Error("Episode generation failed", zap.Int("episode", k), zap.Error(err))
			return report, fmt.Errorf("episode %d: %w", k, err)
		}

		move(MergingResult, k, nil)
		next, err := m.merge(ctx, title, k, cursor, rec)
		if err != nil {
			episodeFailures.WithLabelValues("merge").Inc()
			move(Failed, k, err)
			log.Error("Episode merge failed", zap.Int("episode", k), zap.Error(err))
			return report, fmt.Errorf("episode %d: %w", k, err)
		}
		cursor = next

		resume.dead.add(rec.KilledCharacters)
		if names := resume.dead.resurrected(rec.CurrentCharacters); len(names) > 0 {
			v := models.ContinuityViolation{Episode: k, Names: names}
			report.Violations = append(report.Violations, v)
			continuityViolations.Inc()
			log.Warn("Continuity violation", zap.Int("episode", k), zap.Strings("names", names))
		}
		if names := m.crossCheck(ctx, log, k, rec, resume.dead); len(names) > 0 {
			report.Untracked = append(report.Untracked, UntrackedCharacters{Episode: k, Names: names})
		}

		if report.FirstGenerated == 0 {
			report.FirstGenerated = k
		}
		report.LastGenerated = k
		episodesGenerated.Inc()
		log.Info("Episode merged", zap.Int("episode", k), zap.String("episode_title", rec.Title))

		if k == info.TotalEpisodes {
			move(Done, k, nil)
		} else {
			move(AwaitingNextEpisode, k+1, nil)
		}
	}
	return report, nil
}

// GenerateEpisode делает один вызов модели и возвращает проверенную запись
// без summary_till_now.
func (m *Machine) GenerateEpisode(ctx context.Context, b Bundle) (*models.EpisodeRecord, error) {
	raw, err := m.gen.Generate(ctx, gateway.Request{
		SystemPrompt: b.SystemPrompt(),
		UserPrompt:   b.UserPrompt(),
		Temperature:  EpisodeTemperature,
	})
	if err != nil {
		return nil, err
	}

	var rec models.EpisodeRecord
	if err := normalizer.ParseStrictJSON(normalizer.ExtractJSONObject(raw), &rec); err != nil {
		return nil, err
	}
	if err := rec.ValidateCandidate(); err != nil {
		return nil, models.NewMalformedGenerationError(raw, err)
	}
	rec.Normalize()
	rec.SummaryTillNow = ""
	return &rec, nil
}

// merge обновляет курсор и сохраняет запись. Курсор меняется только
// после успешной записи.
func (m *Machine) merge(ctx context.Context, title string, k int, cursor models.ContinuityCursor, rec *models.EpisodeRecord) (models.ContinuityCursor, error) {
	summary, err := m.summarizer.Summarize(ctx, rec.Body, cursor.RunningSummary)
	if err != nil {
		return cursor, fmt.Errorf("summarize: %w", err)
	}

	next := models.ContinuityCursor{
		RunningSummary:     summary,
		LastEndedAt:        cursor.LastEndedAt,
		PreviousCharacters: append([]string(nil), rec.CurrentCharacters...),
	}
	if strings.TrimSpace(rec.EndedAt) != "" {
		next.LastEndedAt = rec.EndedAt
	}

	rec.SummaryTillNow = summary
	if err := m.ledger.SaveEpisode(ctx, title, k, rec); err != nil {
		return cursor, fmt.Errorf("persist: %w", err)
	}
	return next, nil
}

// resume восстанавливает курсор по сохраненным эпизодам 1..n.
func (m *Machine) resume(ctx context.Context, title string, total int) (resumePoint, error) {
	point := resumePoint{next: 1, dead: deathRoll{}}

	indices, err := m.ledger.ListEpisodes(ctx, title)
	if err != nil {
		return point, err
	}
	for i, k := range indices {
		if k != i+1 {
			return point, &models.LedgerIntegrityError{Title: title, Artifact: fmt.Sprintf("%d.json", i+1),
				Err: fmt.Errorf("episodes are not contiguous: found %v", indices)}
		}
	}
	if len(indices) > total {
		return point, &models.LedgerIntegrityError{Title: title, Artifact: fmt.Sprintf("%d.json", len(indices)),
			Err: fmt.Errorf("%d episodes stored for a %d-episode story", len(indices), total)}
	}

	for _, k := range indices {
		rec, err := m.ledger.LoadEpisode(ctx, title, k)
		if err != nil {
			return point, err
		}
		point.dead.add(rec.KilledCharacters)
		point.cursor.RunningSummary = rec.SummaryTillNow
		point.cursor.PreviousCharacters = rec.CurrentCharacters
		if strings.TrimSpace(rec.EndedAt) != "" {
			point.cursor.LastEndedAt = rec.EndedAt
		}
	}
	point.next = len(indices) + 1
	return point, nil
}

// crossCheck сверяет состав персонажей с независимой разметкой текста и
// возвращает живых персонажей, которых нет в rec.CurrentCharacters.
// Запись эпизода не меняется, ошибка разметки не прерывает запуск.
func (m *Machine) crossCheck(ctx context.Context, log *zap.Logger, k int, rec *models.EpisodeRecord, dead deathRoll) []string {
	if m.tagger == nil {
		return nil
	}
	tagged, err := m.tagger.Extract(ctx, rec.Body)
	if err != nil {
		log.Warn("Character tagging failed", zap.Int("episode", k), zap.Error(err))
		return nil
	}
	known := deathRoll{}
	known.add(rec.CurrentCharacters)
	var untracked []string
	for _, name := range characters.MergeRoster(rec.CurrentCharacters, tagged, dead.names()) {
		if !known.has(name) {
			untracked = append(untracked, name)
		}
	}
	if len(untracked) > 0 {
		log.Info("Characters mentioned but not tracked", zap.Int("episode", k), zap.Strings("names", untracked))
	}
	return untracked
}
