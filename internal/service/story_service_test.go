package service_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"serial-novel/internal/episode"
	"serial-novel/internal/gateway"
	"serial-novel/internal/ledger"
	"serial-novel/internal/lock"
	"serial-novel/internal/models"
	"serial-novel/internal/outline"
	"serial-novel/internal/service"
	"serial-novel/internal/translation"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	episodeNumberRe = regexp.MustCompile(`Episode Number: (\d+)`)
	outlineCountRe  = regexp.MustCompile(`outlines for a (\d+)-episode story`)
	flowEpisodeRe   = regexp.MustCompile(`Revise the outline of Episode (\d+) `)
)

// fakeModel отвечает на все виды запросов конвейера.
type fakeModel struct {
	mu            sync.Mutex
	brokenOutline bool
	failEpisode   int
	counts        map[string]int
}

func newFakeModel() *fakeModel { return &fakeModel{counts: map[string]int{}} }

func (f *fakeModel) count(kind string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[kind]
}

func (f *fakeModel) Generate(_ context.Context, req gateway.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case episodeNumberRe.MatchString(req.UserPrompt):
		f.counts["episode"]++
		k, _ := strconv.Atoi(episodeNumberRe.FindStringSubmatch(req.UserPrompt)[1])
		if k == f.failEpisode {
			return "", &models.TransportError{Provider: "fake", Err: errors.New("unavailable")}
		}
		data, _ := json.Marshal(map[string]any{
			"title":              fmt.Sprintf("Chapter %d", k),
			"body":               fmt.Sprintf("Body %d.", k),
			"killed_characters":  []string{},
			"current_characters": []string{"Mira"},
			"ended_at":           fmt.Sprintf("scene %d", k),
		})
		return string(data), nil
	case strings.Contains(strings.ToLower(req.UserPrompt), "episode text:"):
		f.counts["summary"]++
		return fmt.Sprintf("summary %d", f.counts["summary"]), nil
	case req.Temperature == outline.GenerateTemperature:
		f.counts["outlines"]++
		if f.brokenOutline {
			return "sorry, no json today", nil
		}
		n, _ := strconv.Atoi(outlineCountRe.FindStringSubmatch(req.UserPrompt)[1])
		out := map[string]string{}
		for k := 1; k <= n; k++ {
			out[strconv.Itoa(k)] = fmt.Sprintf("outline %d", k)
		}
		data, _ := json.Marshal(out)
		return string(data), nil
	case req.Temperature == outline.FlowTemperature:
		f.counts["flow"]++
		return "flowed " + flowEpisodeRe.FindStringSubmatch(req.SystemPrompt)[1], nil
	case req.Temperature == outline.ImproveTemperature:
		f.counts["improve"]++
		return "improved", nil
	case req.Temperature == translation.Temperature:
		f.counts["translate"]++
		return "[de] " + req.UserPrompt, nil
	}
	return "", fmt.Errorf("unexpected request at temperature %v", req.Temperature)
}

type fixture struct {
	svc    service.StoryService
	ledger *ledger.FileLedger
	model  *fakeModel
	locker *lock.LocalLocker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	l, err := ledger.NewFileLedger(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	model := newFakeModel()
	locker := lock.NewLocalLocker()
	return &fixture{
		svc:    service.NewStoryService(model, l, locker, zap.NewNop(), service.WithLockTTL(time.Minute)),
		ledger: l,
		model:  model,
		locker: locker,
	}
}

func storyInfo(title string, total int) *models.StoryInfo {
	return &models.StoryInfo{
		TotalEpisodes:     total,
		Title:             title,
		InitialCharacters: []models.Character{{Name: "Mira", Gender: "female", Traits: models.Traits{"bold"}}},
		Tone:              "Adventure",
		Style:             "Third Person",
	}
}

func TestCreateStory(t *testing.T) {
	ctx := context.Background()

	t.Run("with outlines", func(t *testing.T) {
		f := newFixture(t)
		outlines, err := f.svc.CreateStory(ctx, storyInfo("Salt Road", 3), true)
		require.NoError(t, err)
		assert.Equal(t, models.OutlineMap{1: "outline 1", 2: "outline 2", 3: "outline 3"}, outlines)

		view, err := f.svc.GetStory(ctx, "Salt Road")
		require.NoError(t, err)
		assert.Equal(t, service.StatusOutlined, view.Status)
		assert.Equal(t, outlines, view.Outlines)
		assert.Empty(t, view.Episodes)

		_, err = f.svc.CreateStory(ctx, storyInfo("Salt Road", 3), true)
		assert.ErrorIs(t, err, models.ErrStoryExists)
		assert.Equal(t, 1, f.model.count("outlines"))
	})

	t.Run("without outlines", func(t *testing.T) {
		f := newFixture(t)
		outlines, err := f.svc.CreateStory(ctx, storyInfo("Free", 2), false)
		require.NoError(t, err)
		assert.Nil(t, outlines)

		view, err := f.svc.GetStory(ctx, "Free")
		require.NoError(t, err)
		assert.Equal(t, service.StatusCreated, view.Status)
		assert.Zero(t, f.model.count("outlines"))
	})

	t.Run("invalid info", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.CreateStory(ctx, storyInfo("", 3), true)
		assert.ErrorIs(t, err, models.ErrInvalidInput)
		_, err = f.svc.CreateStory(ctx, storyInfo("Zero", 0), true)
		assert.ErrorIs(t, err, models.ErrInvalidInput)
		_, err = f.svc.CreateStory(ctx, nil, true)
		assert.ErrorIs(t, err, models.ErrInvalidInput)
	})

	t.Run("busy story", func(t *testing.T) {
		f := newFixture(t)
		release, err := f.locker.Acquire(ctx, lock.StoryKey("Locked"), time.Minute)
		require.NoError(t, err)
		defer release(ctx)

		_, err = f.svc.CreateStory(ctx, storyInfo("Locked", 3), true)
		assert.ErrorIs(t, err, models.ErrStoryBusy)
	})
}

func TestFinalizeStory(t *testing.T) {
	ctx := context.Background()

	t.Run("placeholders block generation until regenerated", func(t *testing.T) {
		f := newFixture(t)
		f.model.brokenOutline = true
		outlines, err := f.svc.CreateStory(ctx, storyInfo("Salt Road", 2), true)
		require.NoError(t, err)
		assert.True(t, outline.HasPlaceholders(outlines))

		_, err = f.svc.FinalizeStory(ctx, "Salt Road", nil)
		assert.ErrorIs(t, err, models.ErrOutlinesIncomplete)
		assert.Zero(t, f.model.count("episode"))

		f.model.brokenOutline = false
		outlines, err = f.svc.RegenerateOutlines(ctx, "Salt Road")
		require.NoError(t, err)
		assert.False(t, outline.HasPlaceholders(outlines))

		var states []string
		report, err := f.svc.FinalizeStory(ctx, "Salt Road", func(tr episode.Transition) {
			states = append(states, tr.To.String())
		})
		require.NoError(t, err)
		assert.True(t, report.OutlineDriven)
		assert.Equal(t, 2, report.Generated())
		assert.Equal(t, "done", states[len(states)-1])

		view, err := f.svc.GetStory(ctx, "Salt Road")
		require.NoError(t, err)
		assert.Equal(t, service.StatusComplete, view.Status)
		assert.Equal(t, []int{1, 2}, view.Episodes)

		_, err = f.svc.RegenerateOutlines(ctx, "Salt Road")
		assert.ErrorIs(t, err, models.ErrInvalidInput)
	})

	t.Run("story without outlines", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.CreateStory(ctx, storyInfo("Free", 2), false)
		require.NoError(t, err)
		_, err = f.svc.FinalizeStory(ctx, "Free", nil)
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("failure then resume", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.CreateStory(ctx, storyInfo("Salt Road", 3), true)
		require.NoError(t, err)

		f.model.failEpisode = 3
		_, err = f.svc.FinalizeStory(ctx, "Salt Road", nil)
		assert.ErrorIs(t, err, models.ErrTransport)

		view, err := f.svc.GetStory(ctx, "Salt Road")
		require.NoError(t, err)
		assert.Equal(t, service.StatusInProgress, view.Status)
		assert.Equal(t, []int{1, 2}, view.Episodes)

		f.model.failEpisode = 0
		report, err := f.svc.FinalizeStory(ctx, "Salt Road", nil)
		require.NoError(t, err)
		assert.Equal(t, 3, report.FirstGenerated)
		assert.Equal(t, 3, report.LastGenerated)

		// повторный запуск за блокировкой не держится
		release, err := f.locker.Acquire(ctx, lock.StoryKey("Salt Road"), time.Minute)
		require.NoError(t, err)
		require.NoError(t, release(ctx))
	})
}

func TestGenerateStory_FreeForm(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.svc.CreateStory(ctx, storyInfo("Free", 2), false)
	require.NoError(t, err)

	report, err := f.svc.GenerateStory(ctx, "Free", nil)
	require.NoError(t, err)
	assert.False(t, report.OutlineDriven)
	assert.Equal(t, 2, report.Generated())

	ep, err := f.svc.GetEpisode(ctx, "Free", 2)
	require.NoError(t, err)
	assert.Equal(t, "Chapter 2", ep.Title)
	assert.Equal(t, "summary 2", ep.SummaryTillNow)

	_, err = f.svc.GenerateStory(ctx, "Missing", nil)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestReviseOutline(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.svc.CreateStory(ctx, storyInfo("Salt Road", 5), true)
	require.NoError(t, err)

	outlines, err := f.svc.ReviseOutline(ctx, "Salt Road", 3, "add a storm")
	require.NoError(t, err)
	assert.Equal(t, models.OutlineMap{
		1: "outline 1", 2: "outline 2", 3: "improved", 4: "flowed 4", 5: "flowed 5",
	}, outlines)

	stored, err := f.ledger.LoadOutlines(ctx, "Salt Road")
	require.NoError(t, err)
	assert.Equal(t, outlines, stored)

	_, err = f.svc.ReviseOutline(ctx, "Salt Road", 9, "nope")
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestTranslateStory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.svc.CreateStory(ctx, storyInfo("Salt Road", 3), true)
	require.NoError(t, err)
	f.model.failEpisode = 3
	_, err = f.svc.FinalizeStory(ctx, "Salt Road", nil)
	require.Error(t, err)
	f.model.failEpisode = 0

	count, err := f.svc.TranslateStory(ctx, "Salt Road", "German")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	ep, err := f.svc.GetTranslation(ctx, "Salt Road", "German", 2)
	require.NoError(t, err)
	assert.Equal(t, "[de] Chapter 2", ep.Title)
	assert.Equal(t, "[de] scene 2", ep.EndedAt)
	assert.Equal(t, "German", ep.Translation.TargetLanguage)
	assert.Equal(t, "English", ep.Translation.OriginalLanguage)

	_, err = f.svc.GetTranslation(ctx, "Salt Road", "German", 3)
	assert.ErrorIs(t, err, models.ErrNotFound)

	info, err := f.ledger.LoadInfo(ctx, "Salt Road")
	require.NoError(t, err)
	assert.Equal(t, "German", info.TargetLanguage)
}

func TestExportAndDelete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.svc.CreateStory(ctx, storyInfo("Salt Road", 2), false)
	require.NoError(t, err)

	var buf bytes.Buffer
	assert.ErrorIs(t, f.svc.ExportPDF(ctx, "Salt Road", &buf), models.ErrNotFound)

	_, err = f.svc.GenerateStory(ctx, "Salt Road", nil)
	require.NoError(t, err)
	require.NoError(t, f.svc.ExportPDF(ctx, "Salt Road", &buf))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")))

	titles, err := f.svc.ListStories(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Salt Road"}, titles)

	require.NoError(t, f.svc.DeleteStory(ctx, "Salt Road"))
	assert.ErrorIs(t, f.svc.DeleteStory(ctx, "Salt Road"), models.ErrNotFound)
	_, err = f.svc.GetStory(ctx, "Salt Road")
	assert.ErrorIs(t, err, models.ErrNotFound)
}
