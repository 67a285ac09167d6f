package export

import (
	"bytes"
	"testing"

	"serial-novel/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeBody(t *testing.T) {
	assert.Equal(t, "one\ntwo\n\nthree", normalizeBody(`one\ntwo`+"\r\n\n"+"three"))
	assert.Equal(t, "plain", normalizeBody("plain"))
}

func TestWritePDF(t *testing.T) {
	info := &models.StoryInfo{TotalEpisodes: 2, Title: "Café Nights", Tone: "Romance", Style: "Third Person"}
	episodes := []*models.EpisodeRecord{
		{Title: "Arrival", Body: `She came at dusk.\n\nThe café was empty.`},
		{Title: "Departure", Body: "He left at dawn."},
	}

	var buf bytes.Buffer
	require.NoError(t, WritePDF(&buf, info, episodes))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")))
	assert.Contains(t, buf.String(), "%%EOF")
}

func TestWritePDF_RequiresInfo(t *testing.T) {
	var buf bytes.Buffer
	assert.ErrorIs(t, WritePDF(&buf, nil, nil), models.ErrInvalidInput)
	assert.Zero(t, buf.Len())
}
