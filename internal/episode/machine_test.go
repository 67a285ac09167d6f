package episode_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"

	"serial-novel/internal/episode"
	"serial-novel/internal/gateway"
	"serial-novel/internal/ledger"
	"serial-novel/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var episodeNumberRe = regexp.MustCompile(`Episode Number: (\d+)`)

// scriptedGenerator отвечает на запросы эпизодов и резюме по сценарию.
type scriptedGenerator struct {
	mu        sync.Mutex
	episodes  map[int]string // сырой ответ для эпизода k
	failAt    int            // номер эпизода, на котором gateway падает
	failErr   error
	calls     []gateway.Request
	summaries int
}

func (g *scriptedGenerator) Generate(_ context.Context, req gateway.Request) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, req)

	if req.Temperature == episode.SummaryTemperature {
		g.summaries++
		return fmt.Sprintf("summary-%d", g.summaries), nil
	}
	m := episodeNumberRe.FindStringSubmatch(req.UserPrompt)
	if m == nil {
		return "", errors.New("unexpected request")
	}
	k, _ := strconv.Atoi(m[1])
	if k == g.failAt {
		return "", &models.TransportError{Provider: "test", Err: g.failErr}
	}
	if raw, ok := g.episodes[k]; ok {
		return raw, nil
	}
	return episodeJSON(k, fmt.Sprintf("end of %d", k), nil, []string{"Ana"}), nil
}

func (g *scriptedGenerator) episodeRequests() []gateway.Request {
	var out []gateway.Request
	for _, c := range g.calls {
		if c.Temperature == episode.EpisodeTemperature {
			out = append(out, c)
		}
	}
	return out
}

func (g *scriptedGenerator) summaryRequests() []gateway.Request {
	var out []gateway.Request
	for _, c := range g.calls {
		if c.Temperature == episode.SummaryTemperature {
			out = append(out, c)
		}
	}
	return out
}

func episodeJSON(k int, endedAt string, killed, current []string) string {
	rec := map[string]any{
		"title":              fmt.Sprintf("Chapter %d", k),
		"body":               fmt.Sprintf("Body of episode %d.", k),
		"killed_characters":  killed,
		"current_characters": current,
		"ended_at":           endedAt,
	}
	data, _ := json.Marshal(rec)
	return string(data)
}

func setupStory(t *testing.T, total int) (*ledger.FileLedger, string) {
	t.Helper()
	l, err := ledger.NewFileLedger(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	info := &models.StoryInfo{
		TotalEpisodes: total,
		Title:         "Monsoon",
		InitialCharacters: []models.Character{
			{Name: "Ana", Gender: "female", Traits: models.Traits{"curious", "stubborn"}},
			{Name: "  "},
		},
		Tone:            "Drama",
		Style:           "Third Person",
		RegionalSetting: "Goa",
	}
	require.NoError(t, l.SaveInfo(context.Background(), info))
	return l, info.Title
}

func TestMachine_RunSequential(t *testing.T) {
	ctx := context.Background()
	l, title := setupStory(t, 3)
	gen := &scriptedGenerator{}
	m := episode.NewMachine(gen, l, zap.NewNop())

	var transitions []episode.Transition
	report, err := m.Run(ctx, title, func(tr episode.Transition) { transitions = append(transitions, tr) })
	require.NoError(t, err)

	assert.Equal(t, 1, report.FirstGenerated)
	assert.Equal(t, 3, report.LastGenerated)
	assert.Equal(t, 3, report.Generated())
	assert.False(t, report.OutlineDriven)

	indices, err := l.ListEpisodes(ctx, title)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, indices)

	for k := 1; k <= 3; k++ {
		rec, err := l.LoadEpisode(ctx, title, k)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("summary-%d", k), rec.SummaryTillNow)
	}

	reqs := gen.episodeRequests()
	require.Len(t, reqs, 3)
	assert.Contains(t, reqs[0].SystemPrompt, "- Ana (female): curious, stubborn")
	assert.Contains(t, reqs[0].UserPrompt, "Previous Episode Summary: No context available")
	assert.Contains(t, reqs[0].UserPrompt, "Story Ended Previously At: N/A")
	assert.NotContains(t, reqs[1].SystemPrompt, "MUST appear")
	assert.Contains(t, reqs[1].UserPrompt, "Previous Episode Summary: summary-1")
	assert.Contains(t, reqs[1].UserPrompt, "Characters Alive So Far: Ana")
	assert.Contains(t, reqs[1].UserPrompt, "Story Ended Previously At: end of 1")
	assert.Contains(t, reqs[1].SystemPrompt, "cliffhanger")
	assert.Contains(t, reqs[2].SystemPrompt, "final episode")
	assert.NotContains(t, reqs[2].SystemPrompt, "cliffhanger")

	sums := gen.summaryRequests()
	require.Len(t, sums, 3)
	assert.NotContains(t, sums[0].UserPrompt, "Previous summary")
	assert.Contains(t, sums[1].UserPrompt, "summary-1")
	assert.Contains(t, sums[2].UserPrompt, "summary-2")

	var states []string
	for _, tr := range transitions {
		states = append(states, fmt.Sprintf("%s:%d", tr.To, tr.Episode))
	}
	assert.Equal(t, []string{
		"generating_episode:1", "merging_result:1", "awaiting_next_episode:2",
		"generating_episode:2", "merging_result:2", "awaiting_next_episode:3",
		"generating_episode:3", "merging_result:3", "done:3",
	}, states)
	assert.Equal(t, episode.AwaitingFirstEpisode, transitions[0].From)
}

func TestMachine_EndedAtIsKeptWhenEpisodeOmitsIt(t *testing.T) {
	ctx := context.Background()
	l, title := setupStory(t, 3)
	gen := &scriptedGenerator{episodes: map[int]string{
		1: episodeJSON(1, "The door creaked.", nil, []string{"Ana"}),
		2: episodeJSON(2, "", nil, []string{"Ana", "Mila"}),
	}}

	_, err := episode.NewMachine(gen, l, zap.NewNop()).Run(ctx, title, nil)
	require.NoError(t, err)

	reqs := gen.episodeRequests()
	require.Len(t, reqs, 3)
	assert.Contains(t, reqs[2].UserPrompt, "Story Ended Previously At: The door creaked.")
	assert.Contains(t, reqs[2].UserPrompt, "Characters Alive So Far: Ana, Mila")
}

func TestMachine_SingleEpisodeStory(t *testing.T) {
	ctx := context.Background()
	l, title := setupStory(t, 1)
	gen := &scriptedGenerator{}

	_, err := episode.NewMachine(gen, l, zap.NewNop()).Run(ctx, title, nil)
	require.NoError(t, err)

	require.Len(t, gen.calls, 2, "one episode call and one summary call")
	assert.Contains(t, gen.calls[0].SystemPrompt, "final episode")
	assert.NotContains(t, gen.calls[1].UserPrompt, "Previous summary")

	rec, err := l.LoadEpisode(ctx, title, 1)
	require.NoError(t, err)
	assert.Equal(t, "summary-1", rec.SummaryTillNow)
}

func TestMachine_FailureMidRunAndResume(t *testing.T) {
	ctx := context.Background()
	l, title := setupStory(t, 5)
	providerErr := errors.New("connection reset")
	gen := &scriptedGenerator{failAt: 3, failErr: providerErr}
	m := episode.NewMachine(gen, l, zap.NewNop())

	var last episode.Transition
	report, err := m.Run(ctx, title, func(tr episode.Transition) { last = tr })
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrTransport))
	assert.True(t, errors.Is(err, providerErr))
	assert.Equal(t, episode.Failed, last.To)
	assert.Equal(t, 3, last.Episode)
	assert.Equal(t, 2, report.LastGenerated)

	indices, err := l.ListEpisodes(ctx, title)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, indices)

	// повторный запуск продолжает с эпизода 3
	gen2 := &scriptedGenerator{}
	report, err = episode.NewMachine(gen2, l, zap.NewNop()).Run(ctx, title, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, report.FirstGenerated)
	assert.Equal(t, 5, report.LastGenerated)

	reqs := gen2.episodeRequests()
	require.Len(t, reqs, 3)
	assert.Contains(t, reqs[0].UserPrompt, "Episode Number: 3")
	assert.Contains(t, reqs[0].UserPrompt, "Previous Episode Summary: summary-2")
	assert.Contains(t, reqs[0].UserPrompt, "Story Ended Previously At: end of 2")
	assert.Contains(t, gen2.summaryRequests()[0].UserPrompt, "summary-2")
}

func TestMachine_MalformedOutputWritesNothing(t *testing.T) {
	ctx := context.Background()
	l, title := setupStory(t, 2)
	gen := &scriptedGenerator{episodes: map[int]string{1: "I'd rather not write JSON today."}}

	_, err := episode.NewMachine(gen, l, zap.NewNop()).Run(ctx, title, nil)
	assert.True(t, errors.Is(err, models.ErrMalformedGeneration))
	assert.Empty(t, gen.summaryRequests())

	indices, err := l.ListEpisodes(ctx, title)
	require.NoError(t, err)
	assert.Empty(t, indices)
}

func TestMachine_MissingBodyIsMalformed(t *testing.T) {
	ctx := context.Background()
	l, title := setupStory(t, 1)
	gen := &scriptedGenerator{episodes: map[int]string{1: `{"title":"Only a title"}`}}

	_, err := episode.NewMachine(gen, l, zap.NewNop()).Run(ctx, title, nil)
	var mErr *models.MalformedGenerationError
	require.True(t, errors.As(err, &mErr))
	assert.Contains(t, mErr.Payload, "Only a title")
}

func TestMachine_RepairsBackslashesAndStripsProse(t *testing.T) {
	ctx := context.Background()
	l, title := setupStory(t, 1)
	gen := &scriptedGenerator{episodes: map[int]string{
		1: "```json\n{\"title\":\"Ledger\",\"body\":\"Filed under C:\\archive\",\"killed_characters\":[],\"current_characters\":[\"Ana\"],\"ended_at\":\"done\"}\n```",
	}}

	_, err := episode.NewMachine(gen, l, zap.NewNop()).Run(ctx, title, nil)
	require.NoError(t, err)
	rec, err := l.LoadEpisode(ctx, title, 1)
	require.NoError(t, err)
	assert.Equal(t, `Filed under C:\archive`, rec.Body)
}

func TestMachine_ContinuityViolationIsReportedNotRaised(t *testing.T) {
	ctx := context.Background()
	l, title := setupStory(t, 2)
	gen := &scriptedGenerator{episodes: map[int]string{
		1: episodeJSON(1, "x", []string{"Boris"}, []string{"Ana"}),
		2: episodeJSON(2, "y", nil, []string{"Ana", "boris"}),
	}}

	report, err := episode.NewMachine(gen, l, zap.NewNop()).Run(ctx, title, nil)
	require.NoError(t, err)
	require.Len(t, report.Violations, 1)
	assert.Equal(t, 2, report.Violations[0].Episode)
	assert.Equal(t, []string{"boris"}, report.Violations[0].Names)

	rec, err := l.LoadEpisode(ctx, title, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"Ana", "boris"}, rec.CurrentCharacters)
}

func TestMachine_OutlineDriven(t *testing.T) {
	ctx := context.Background()
	l, title := setupStory(t, 2)
	require.NoError(t, l.SaveOutlines(ctx, title, models.OutlineMap{1: "Ana finds a map.", 2: "Ana follows it."}))
	gen := &scriptedGenerator{}

	report, err := episode.NewMachine(gen, l, zap.NewNop()).Run(ctx, title, nil)
	require.NoError(t, err)
	assert.True(t, report.OutlineDriven)

	reqs := gen.episodeRequests()
	require.Len(t, reqs, 2)
	assert.Contains(t, reqs[0].SystemPrompt, "Ana finds a map.")
	assert.Contains(t, reqs[1].SystemPrompt, "Ana follows it.")
	assert.NotContains(t, reqs[1].SystemPrompt, "Ana finds a map.")
}

func TestMachine_CompleteStoryMakesNoCalls(t *testing.T) {
	ctx := context.Background()
	l, title := setupStory(t, 1)
	_, err := episode.NewMachine(&scriptedGenerator{}, l, zap.NewNop()).Run(ctx, title, nil)
	require.NoError(t, err)

	gen := &scriptedGenerator{}
	var transitions []episode.Transition
	report, err := episode.NewMachine(gen, l, zap.NewNop()).Run(ctx, title, func(tr episode.Transition) {
		transitions = append(transitions, tr)
	})
	require.NoError(t, err)
	assert.Empty(t, gen.calls)
	assert.Zero(t, report.Generated())
	require.Len(t, transitions, 1)
	assert.Equal(t, episode.Done, transitions[0].To)
}

func TestMachine_GapInLedgerIsIntegrityError(t *testing.T) {
	ctx := context.Background()
	l, title := setupStory(t, 3)
	rec := &models.EpisodeRecord{Title: "t", Body: "b", SummaryTillNow: "s"}
	require.NoError(t, l.SaveEpisode(ctx, title, 1, rec))
	require.NoError(t, l.SaveEpisode(ctx, title, 3, rec))

	gen := &scriptedGenerator{}
	_, err := episode.NewMachine(gen, l, zap.NewNop()).Run(ctx, title, nil)
	assert.True(t, errors.Is(err, models.ErrLedgerIntegrity))
	assert.Empty(t, gen.calls)
}

func TestMachine_CancelledContextStopsBeforeNextCall(t *testing.T) {
	l, title := setupStory(t, 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	gen := &scriptedGenerator{}
	_, err := episode.NewMachine(gen, l, zap.NewNop()).Run(ctx, title, nil)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, gen.calls)
}

type stubTagger struct{ names []string }

func (s stubTagger) Extract(context.Context, string) ([]string, error) { return s.names, nil }

func TestMachine_TaggerDoesNotAlterRecord(t *testing.T) {
	ctx := context.Background()
	l, title := setupStory(t, 1)
	gen := &scriptedGenerator{}
	m := episode.NewMachine(gen, l, zap.NewNop(), episode.WithTagger(stubTagger{names: []string{"ana", "stranger"}}))

	report, err := m.Run(ctx, title, nil)
	require.NoError(t, err)
	rec, err := l.LoadEpisode(ctx, title, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"Ana"}, rec.CurrentCharacters)

	require.Len(t, report.Untracked, 1)
	assert.Equal(t, episode.UntrackedCharacters{Episode: 1, Names: []string{"stranger"}}, report.Untracked[0])
	assert.Equal(t, "episode 1 mentions untracked stranger", report.Untracked[0].String())
}

func TestMachine_NoTaggerLeavesUntrackedEmpty(t *testing.T) {
	l, title := setupStory(t, 1)
	report, err := episode.NewMachine(&scriptedGenerator{}, l, zap.NewNop()).Run(context.Background(), title, nil)
	require.NoError(t, err)
	assert.Empty(t, report.Untracked)
}

func TestBundle_Prompts(t *testing.T) {
	info := &models.StoryInfo{Title: "x", TotalEpisodes: 4}
	b := episode.Bundle{Episode: 2, Total: 4, Info: info}
	assert.Contains(t, b.SystemPrompt(), "Central trope: **your choice**")
	assert.Contains(t, b.SystemPrompt(), "episode 2 of a 4-episode")
	assert.False(t, strings.Contains(b.SystemPrompt(), "Follow this outline"))
	assert.Contains(t, b.UserPrompt(), "Characters Alive So Far: N/A")
	assert.False(t, b.IsFinal())
}
