package translation_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"serial-novel/internal/gateway"
	"serial-novel/internal/mocks"
	"serial-novel/internal/models"
	"serial-novel/internal/translation"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func fixedTranslator(gen gateway.Generator) *translation.Translator {
	return translation.NewTranslator(gen, translation.WithClock(func() time.Time {
		return time.Date(2024, 5, 1, 12, 30, 0, 0, time.FixedZone("IST", 19800))
	}))
}

func byText(text string) any {
	return mock.MatchedBy(func(req gateway.Request) bool {
		return req.UserPrompt == text && req.Temperature == translation.Temperature
	})
}

func TestTranslateEpisode(t *testing.T) {
	ctx := context.Background()
	rec := &models.EpisodeRecord{
		Title:             "The Well",
		Body:              "Mira drew water.",
		KilledCharacters:  []string{"Old Sand"},
		CurrentCharacters: []string{"Mira"},
		EndedAt:           "At the well.",
		SummaryTillNow:    "Mira reached the well.",
	}

	gen := mocks.NewMockGenerator(t)
	gen.On("Generate", mock.Anything, byText("The Well")).Return("Der Brunnen", nil).Once()
	gen.On("Generate", mock.Anything, byText("Mira drew water.")).Return("Mira schöpfte Wasser.", nil).Once()
	gen.On("Generate", mock.Anything, byText("At the well.")).Return("Am Brunnen.", nil).Once()

	got, err := fixedTranslator(gen).TranslateEpisode(ctx, rec, "German")
	require.NoError(t, err)

	assert.Equal(t, "Der Brunnen", got.Title)
	assert.Equal(t, "Mira schöpfte Wasser.", got.Body)
	assert.Equal(t, "Am Brunnen.", got.EndedAt)
	assert.Equal(t, rec.KilledCharacters, got.KilledCharacters)
	assert.Equal(t, rec.CurrentCharacters, got.CurrentCharacters)
	assert.Equal(t, rec.SummaryTillNow, got.SummaryTillNow)
	assert.Equal(t, models.Translation{
		OriginalLanguage: "English",
		TargetLanguage:   "German",
		TranslatedAt:     "2024-05-01T07:00:00Z",
	}, got.Translation)
	assert.Equal(t, "The Well", rec.Title, "source record must not change")
}

func TestTranslateEpisode_EmptyEndedAtSkipsCall(t *testing.T) {
	gen := mocks.NewMockGenerator(t)
	gen.On("Generate", mock.Anything, mock.Anything).Return("x", nil).Twice()

	got, err := fixedTranslator(gen).TranslateEpisode(context.Background(),
		&models.EpisodeRecord{Title: "T", Body: "B"}, "Hindi")
	require.NoError(t, err)
	assert.Empty(t, got.EndedAt)
}

func TestTranslateEpisode_Failure(t *testing.T) {
	gen := mocks.NewMockGenerator(t)
	gen.On("Generate", mock.Anything, byText("T")).Return("T'", nil).Once()
	gen.On("Generate", mock.Anything, byText("B")).
		Return("", &models.TransportError{Provider: "test", Err: errors.New("down")}).Once()

	_, err := fixedTranslator(gen).TranslateEpisode(context.Background(),
		&models.EpisodeRecord{Title: "T", Body: "B"}, "Hindi")
	assert.ErrorIs(t, err, models.ErrTransport)
	assert.Contains(t, err.Error(), "translate body")
}

func TestTranslateText(t *testing.T) {
	gen := mocks.NewMockGenerator(t)
	tr := fixedTranslator(gen)

	_, err := tr.TranslateText(context.Background(), "hello", " ")
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	out, err := tr.TranslateText(context.Background(), "  ", "French")
	require.NoError(t, err)
	assert.Equal(t, "  ", out)

	gen.On("Generate", mock.Anything, mock.MatchedBy(func(req gateway.Request) bool {
		return req.Temperature == translation.Temperature &&
			req.UserPrompt == "hello" &&
			len(req.SystemPrompt) > 0
	})).Return("bonjour", nil).Once()
	out, err = tr.TranslateText(context.Background(), "hello", "French")
	require.NoError(t, err)
	assert.Equal(t, "bonjour", out)
}
