package outline

import (
	"encoding/json"
	"fmt"
	"strings"

	"serial-novel/internal/models"
)

const (
	GenerateTemperature = 0.8
	ImproveTemperature  = 0.7
	FlowTemperature     = 0.6
)

const generateSystemPrompt = `You are a master storyteller and screenwriter who plans episodic narratives.
Write an outline for every episode of the story. The outlines are blueprints for writing the full episodes later.

Guidelines:
- The episodes together form one clear, engaging arc.
- Every outline is at most ~200 words, continues naturally from the previous episode, names the conflict, stakes and turning points, and shows how the characters change.
- Plot progression is causal: each episode follows from what happened before.
- Intensity rises gradually towards a major climax in the penultimate or final episode.
- Only the last episode resolves the story, tying up the major arcs.
- Tone, voice and setting stay consistent.

Return ONLY a JSON object whose keys are episode numbers as strings and whose values are the outlines, e.g.
{"1": "Outline of episode 1...", "2": "Outline of episode 2..."}`

const improveSystemPrompt = `You are a professional narrative editor revising one episode outline of a serialized story.
Work the user's feedback into the outline meaningfully and creatively while staying consistent with the earlier outlines, the genre, the style and the central trope.
Keep or improve narrative flow, character development and dramatic tension, and make sure the episode follows logically from the one before it.
Return only the improved outline as a single paragraph of about 100 words, with no explanation or metadata.`

func characterLines(info *models.StoryInfo) string {
	named := info.NamedCharacters()
	if len(named) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Characters who should appear in the storyline:\n")
	for _, c := range named {
		fmt.Fprintf(&sb, "- %s (%s): %s\n", c.Name, c.Gender, strings.Join(c.Traits, ", "))
	}
	return sb.String()
}

func generateUserPrompt(info *models.StoryInfo) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Write outlines for a %d-episode story.\n\n", info.TotalEpisodes)
	fmt.Fprintf(&sb, "- Genre: %s\n", info.Tone)
	fmt.Fprintf(&sb, "- Style: %s\n", info.Style)
	trope := info.Trope
	if strings.TrimSpace(trope) == "" {
		trope = "choose an appropriate one"
	}
	fmt.Fprintf(&sb, "- Trope: %s\n", trope)
	if info.RegionalSetting != "" {
		fmt.Fprintf(&sb, "- Setting: %s\n", info.RegionalSetting)
	}
	if lines := characterLines(info); lines != "" {
		sb.WriteString("\n" + lines)
	}
	fmt.Fprintf(&sb, "\nReturn exactly %d outlines, keyed \"1\" to \"%d\".", info.TotalEpisodes, info.TotalEpisodes)
	return sb.String()
}

// contextJSON сериализует outlines[1..upto] как JSON, эпизоды по порядку.
func contextJSON(outlines models.OutlineMap, upto int) string {
	ctx := make(models.OutlineMap, upto)
	for k := 1; k <= upto; k++ {
		if text, ok := outlines[k]; ok {
			ctx[k] = text
		}
	}
	data, _ := json.MarshalIndent(ctx, "", "  ")
	return string(data)
}

func improveUserPrompt(info *models.StoryInfo, outlines models.OutlineMap, k int, original, feedback string) string {
	return fmt.Sprintf(`You are revising Episode %d of a story.

Story overview:
- Total episodes: %d
- Genre: %s
- Style: %s
- Central trope: %s

Outlines of episodes 1 to %d:
%s

Original outline for Episode %d:
%q

User feedback:
%q

Return an improved outline for Episode %d that addresses the feedback and stays faithful to the story so far.`,
		k, info.TotalEpisodes, info.Tone, info.Style, info.Trope,
		k, contextJSON(outlines, k), k, original, feedback, k)
}

func flowSystemPrompt(info *models.StoryInfo, j, modified int) string {
	return fmt.Sprintf(`You are a continuity specialist for a multi-part story.
Genre: %s. Style: %s. Central trope: %s.

Revise the outline of Episode %d only as much as needed so it follows logically from all earlier episodes, especially Episode %d, which was just changed.
- Do not rewrite unless continuity, character development or logic is broken.
- When you change it, keep the soul, theme, tone and purpose of the original outline.
- Reflect major events and consequences of the earlier episodes.
- Keep it to about 100 words.
Return only the outline text, with no explanation.`, info.Tone, info.Style, info.Trope, j, modified)
}

func flowUserPrompt(info *models.StoryInfo, outlines models.OutlineMap, j, modified int) string {
	return fmt.Sprintf(`The story has %d episodes.

Outlines of episodes 1 to %d, including the change to Episode %d:
%s

Current outline for Episode %d:
%q

If it already fits, return it unchanged.`,
		info.TotalEpisodes, j-1, modified, contextJSON(outlines, j-1), j, outlines[j])
}
