package episode

import (
	"fmt"
	"strings"

	"serial-novel/internal/models"
)

const (
	EpisodeTemperature = 0.9
	SummaryTemperature = 0.7

	summarizerSystemPrompt = "You are a highly skilled narrative summarizer."

	noContext = "No context available"
	notAvail  = "N/A"
)

// Bundle - всё, что нужно для генерации эпизода k.
type Bundle struct {
	Episode            int
	Total              int
	Info               *models.StoryInfo
	Outline            string             // пусто в свободном режиме
	RequiredCharacters []models.Character // только для первого эпизода
	Cursor             models.ContinuityCursor
}

// IsFinal сообщает, нужно ли завершать историю в этом эпизоде.
func (b Bundle) IsFinal() bool { return b.Episode == b.Total }

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func (b Bundle) endingNote() string {
	if b.IsFinal() {
		return "This is the final episode. Give the story a satisfying, conclusive ending that resolves the major plotlines, character arcs and conflicts."
	}
	return "End the episode on a suspenseful or emotional cliffhanger that makes the reader want the next one."
}

func (b Bundle) characterNote() string {
	if len(b.RequiredCharacters) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Characters in this story (they MUST appear in this episode):\n")
	for _, c := range b.RequiredCharacters {
		fmt.Fprintf(&sb, "- %s (%s): %s\n", c.Name, orDefault(c.Gender, "unspecified"), strings.Join(c.Traits, ", "))
	}
	return sb.String()
}

// SystemPrompt собирает системный промпт эпизода.
func (b Bundle) SystemPrompt() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are a master storyteller writing episode %d of a %d-episode serialized narrative.\n", b.Episode, b.Total)
	fmt.Fprintf(&sb, "Genre / tone: **%s**.\n", orDefault(b.Info.Tone, "your choice"))
	fmt.Fprintf(&sb, "Narrative style: **%s**.\n", orDefault(b.Info.Style, "Third Person"))
	fmt.Fprintf(&sb, "Central trope: **%s**.\n", orDefault(b.Info.Trope, "your choice"))
	if b.Info.RegionalSetting != "" {
		fmt.Fprintf(&sb, "Setting: **%s**.\n", b.Info.RegionalSetting)
	}
	sb.WriteString(`
Rules:
- Pick up exactly where the previous episode stopped, continuing the scene if it was unfinished.
- Characters who died earlier stay dead unless their return is a deliberate, well explained twist.
- Keep relationships, behaviour and tone consistent with what has happened so far, and let them evolve.
- Use vivid description, rich dialogue and escalating conflict.
- Only use characters already active in the story or new ones introduced with purpose.
`)
	if note := b.characterNote(); note != "" {
		sb.WriteString("\n" + note)
	}
	if b.Outline != "" {
		sb.WriteString("\nFollow this outline for the episode:\n" + b.Outline + "\n")
	}
	sb.WriteString("\n" + b.endingNote() + "\n")
	sb.WriteString(`
Put the last one or two lines of the episode, verbatim and without commentary, into "ended_at".
The next episode will start from them.

Return ONLY a JSON object, no markdown and no code fences. Escape newlines as \n inside strings:
{
  "title": "short episode title without the word 'Episode'",
  "body": "the episode text",
  "killed_characters": ["characters who die in this episode"],
  "current_characters": ["every character alive at the end of this episode"],
  "ended_at": "last 1-2 lines of the episode"
}`)
	return sb.String()
}

// UserPrompt передает курсор непрерывности.
func (b Bundle) UserPrompt() string {
	previous := notAvail
	if len(b.Cursor.PreviousCharacters) > 0 {
		previous = strings.Join(b.Cursor.PreviousCharacters, ", ")
	}
	return fmt.Sprintf(`Episode Number: %d
Previous Episode Summary: %s
Characters Alive So Far: %s
Story Ended Previously At: %s

Write a connected, coherent episode of about 600-800 words that directly continues the previous one.`,
		b.Episode,
		orDefault(b.Cursor.RunningSummary, noContext),
		previous,
		orDefault(b.Cursor.LastEndedAt, notAvail),
	)
}

func summaryPrompt(body, previous string) string {
	if strings.TrimSpace(previous) == "" {
		return fmt.Sprintf(`Write an abstract of the following episode the way a human editor would, keeping the key events and emotions.

Episode text:
%s

Return a short but rich summary that captures the essence of the episode.`, body)
	}
	return fmt.Sprintf(`Extend the running summary of a serialized story with the newest episode.
Merge the important events and emotional beats of the episode into the previous summary so the result reads as one continuous abstract, not two separate paragraphs.

Previous summary:
%s

Current episode text:
%s

Return a single flowing summary. Keep it concise.`, previous, body)
}
