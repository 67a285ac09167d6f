package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"serial-novel/internal/episode"
	"serial-novel/internal/models"
	"serial-novel/internal/outline"
	"serial-novel/internal/repository"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// journaled выполняет операцию и пишет ее итог в журнал задач.
// Ошибка журнала не прерывает команду.
func journaled(ctx context.Context, a *app, taskType, title string, fn func() (string, []string, error)) error {
	rec := &repository.TaskRecord{
		ID:         uuid.NewString(),
		Type:       taskType,
		StoryTitle: title,
		Status:     repository.TaskStatusRunning,
		CreatedAt:  time.Now().UTC(),
	}
	save := func() {
		if err := a.journal.Save(context.WithoutCancel(ctx), rec); err != nil {
			a.logger.Warn("Failed to journal task", zap.String("type", taskType), zap.Error(err))
		}
	}
	save()

	detail, violations, err := fn()
	done := time.Now().UTC()
	rec.CompletedAt = &done
	rec.Detail = detail
	rec.Violations = violations
	rec.Status = repository.TaskStatusSuccess
	if err != nil {
		rec.Status = repository.TaskStatusError
		rec.Error = err.Error()
	}
	save()
	return err
}

func printOutlines(w io.Writer, outlines models.OutlineMap) {
	keys := make([]int, 0, len(outlines))
	for k := range outlines {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	for _, k := range keys {
		_, _ = fmt.Fprintf(w, "%d. %s\n", k, outlines[k])
	}
	if outline.HasPlaceholders(outlines) {
		_, _ = fmt.Fprintln(w, "Some outlines could not be generated; run `storyctl outlines --regenerate`.")
	}
}

// progressPrinter печатает переходы автомата эпизодов.
func progressPrinter(w io.Writer) episode.Observer {
	return func(tr episode.Transition) {
		switch tr.To {
		case episode.GeneratingEpisode:
			_, _ = fmt.Fprintf(w, "Generating episode %d/%d...\n", tr.Episode, tr.Total)
		case episode.Failed:
			_, _ = fmt.Fprintf(w, "Episode %d/%d failed: %v\n", tr.Episode, tr.Total, tr.Err)
		case episode.Done:
			_, _ = fmt.Fprintf(w, "Story complete (%d episodes).\n", tr.Total)
		}
	}
}

func reportResult(w io.Writer, report *episode.RunReport) (string, []string) {
	if report == nil {
		return "", nil
	}
	var violations []string
	for _, v := range report.Violations {
		violations = append(violations, v.String())
		_, _ = fmt.Fprintf(w, "Warning: %s\n", v)
	}
	if report.Generated() == 0 {
		return fmt.Sprintf("no episodes generated, %d total", report.Total), violations
	}
	return fmt.Sprintf("generated episodes %d..%d of %d", report.FirstGenerated, report.LastGenerated, report.Total), violations
}

func parseEpisode(arg string) (int, error) {
	k, err := strconv.Atoi(arg)
	if err != nil || k < 1 {
		return 0, fmt.Errorf("%w: episode must be a positive integer, got %q", models.ErrInvalidInput, arg)
	}
	return k, nil
}

// parseCharacter разбирает "Name:gender:trait1,trait2".
func parseCharacter(raw string) (models.Character, error) {
	parts := strings.SplitN(raw, ":", 3)
	if strings.TrimSpace(parts[0]) == "" {
		return models.Character{}, fmt.Errorf("%w: character %q has no name", models.ErrInvalidInput, raw)
	}
	c := models.Character{Name: strings.TrimSpace(parts[0])}
	if len(parts) > 1 {
		c.Gender = strings.TrimSpace(parts[1])
	}
	if len(parts) > 2 {
		for _, t := range strings.Split(parts[2], ",") {
			if t = strings.TrimSpace(t); t != "" {
				c.Traits = append(c.Traits, t)
			}
		}
	}
	return c, nil
}

func newCreateCmd(load loader) *cobra.Command {
	var (
		file         string
		info         models.StoryInfo
		characters   []string
		skipOutlines bool
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a story and plan its episodes",
		Long:  "Create a story from flags or from a JSON file in the info.json format, then generate episode outlines. With --skip-outlines the episodes are generated right away without a plan.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if file != "" {
				data, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				info = models.StoryInfo{}
				if err := json.Unmarshal(data, &info); err != nil {
					return fmt.Errorf("%w: %s: %v", models.ErrInvalidInput, file, err)
				}
			}
			for _, raw := range characters {
				c, err := parseCharacter(raw)
				if err != nil {
					return err
				}
				info.InitialCharacters = append(info.InitialCharacters, c)
			}

			a, err := load(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			return journaled(cmd.Context(), a, "create_story", info.Title, func() (string, []string, error) {
				outlines, err := a.stories.CreateStory(cmd.Context(), &info, !skipOutlines)
				if err != nil {
					return "", nil, err
				}
				_, _ = fmt.Fprintf(out, "Created %q (%d episodes)\n", info.Title, info.TotalEpisodes)
				if !skipOutlines {
					printOutlines(out, outlines)
					return fmt.Sprintf("%d outlines", len(outlines)), nil, nil
				}
				report, err := a.stories.GenerateStory(cmd.Context(), info.Title, progressPrinter(out))
				detail, violations := reportResult(out, report)
				return detail, violations, err
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "read story info from a JSON file")
	cmd.Flags().StringVar(&info.Title, "title", "", "story title")
	cmd.Flags().IntVarP(&info.TotalEpisodes, "episodes", "n", 0, "number of episodes")
	cmd.Flags().StringVar(&info.Trope, "trope", "", "central trope")
	cmd.Flags().StringVar(&info.Style, "style", "Third Person", "narrative style")
	cmd.Flags().StringVar(&info.Tone, "tone", "", "genre or tone")
	cmd.Flags().StringVar(&info.RegionalSetting, "setting", "", "regional setting")
	cmd.Flags().StringArrayVarP(&characters, "character", "c", nil, `initial character as "Name:gender:trait1,trait2" (repeatable)`)
	cmd.Flags().BoolVar(&skipOutlines, "skip-outlines", false, "generate episodes without outlines")
	return cmd
}

func newOutlinesCmd(load loader) *cobra.Command {
	var regenerate bool
	cmd := &cobra.Command{
		Use:   "outlines TITLE",
		Short: "Show or regenerate the episode outlines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load(cmd)
			if err != nil {
				return err
			}
			title, out := args[0], cmd.OutOrStdout()
			if !regenerate {
				view, err := a.stories.GetStory(cmd.Context(), title)
				if err != nil {
					return err
				}
				if len(view.Outlines) == 0 {
					_, _ = fmt.Fprintln(out, "No outlines.")
					return nil
				}
				printOutlines(out, view.Outlines)
				return nil
			}
			return journaled(cmd.Context(), a, "regenerate_outlines", title, func() (string, []string, error) {
				outlines, err := a.stories.RegenerateOutlines(cmd.Context(), title)
				if err != nil {
					return "", nil, err
				}
				printOutlines(out, outlines)
				return fmt.Sprintf("%d outlines", len(outlines)), nil, nil
			})
		},
	}
	cmd.Flags().BoolVar(&regenerate, "regenerate", false, "generate the outlines again")
	return cmd
}

func newReviseCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "revise TITLE EPISODE FEEDBACK",
		Short: "Revise one outline and keep the later ones consistent",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := parseEpisode(args[1])
			if err != nil {
				return err
			}
			feedback := strings.Join(args[2:], " ")
			a, err := load(cmd)
			if err != nil {
				return err
			}
			return journaled(cmd.Context(), a, "revise_outline", args[0], func() (string, []string, error) {
				outlines, err := a.stories.ReviseOutline(cmd.Context(), args[0], k, feedback)
				if outlines != nil {
					printOutlines(cmd.OutOrStdout(), outlines)
				}
				return fmt.Sprintf("revised outline %d", k), nil, err
			})
		},
	}
}

func newFinalizeCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "finalize TITLE",
		Short: "Generate the episodes from the outlines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			return journaled(cmd.Context(), a, "finalize_story", args[0], func() (string, []string, error) {
				report, err := a.stories.FinalizeStory(cmd.Context(), args[0], progressPrinter(out))
				detail, violations := reportResult(out, report)
				return detail, violations, err
			})
		},
	}
}

func newGenerateCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "generate TITLE",
		Short: "Generate the episodes without outlines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			return journaled(cmd.Context(), a, "generate_story", args[0], func() (string, []string, error) {
				report, err := a.stories.GenerateStory(cmd.Context(), args[0], progressPrinter(out))
				detail, violations := reportResult(out, report)
				return detail, violations, err
			})
		},
	}
}

func newTranslateCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "translate TITLE LANGUAGE",
		Short: "Translate the generated episodes",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load(cmd)
			if err != nil {
				return err
			}
			return journaled(cmd.Context(), a, "translate_story", args[0], func() (string, []string, error) {
				n, err := a.stories.TranslateStory(cmd.Context(), args[0], args[1])
				if err != nil {
					return "", nil, err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Translated %d episodes to %s\n", n, args[1])
				return fmt.Sprintf("translated %d episodes to %s", n, args[1]), nil, nil
			})
		},
	}
}

func newExportCmd(load loader) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export TITLE",
		Short: "Export the story as a PDF",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load(cmd)
			if err != nil {
				return err
			}
			path := output
			if path == "" {
				path = args[0] + ".pdf"
			}
			f, err := os.Create(path)
			if err != nil {
				return err
			}
			if err := a.stories.ExportPDF(cmd.Context(), args[0], f); err != nil {
				_ = f.Close()
				_ = os.Remove(path)
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default TITLE.pdf)")
	return cmd
}

func newListCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := load(cmd)
			if err != nil {
				return err
			}
			titles, err := a.stories.ListStories(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(titles) == 0 {
				_, _ = fmt.Fprintln(out, "No stories.")
				return nil
			}
			for _, title := range titles {
				view, err := a.stories.GetStory(cmd.Context(), title)
				if err != nil {
					_, _ = fmt.Fprintf(out, "%s\t(unreadable: %v)\n", title, err)
					continue
				}
				_, _ = fmt.Fprintf(out, "%s\t%s\t%d/%d\n", title, view.Status, len(view.Episodes), view.Info.TotalEpisodes)
			}
			return nil
		},
	}
}

func newShowCmd(load loader) *cobra.Command {
	var language string
	cmd := &cobra.Command{
		Use:   "show TITLE EPISODE",
		Short: "Print one episode",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := parseEpisode(args[1])
			if err != nil {
				return err
			}
			a, err := load(cmd)
			if err != nil {
				return err
			}
			var rec *models.EpisodeRecord
			if language != "" {
				tr, err := a.stories.GetTranslation(cmd.Context(), args[0], language, k)
				if err != nil {
					return err
				}
				rec = &tr.EpisodeRecord
			} else if rec, err = a.stories.GetEpisode(cmd.Context(), args[0], k); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "Episode %d: %s\n\n%s\n", k, rec.Title, strings.ReplaceAll(rec.Body, `\n`, "\n"))
			if len(rec.CurrentCharacters) > 0 {
				_, _ = fmt.Fprintf(out, "\nCharacters: %s\n", strings.Join(rec.CurrentCharacters, ", "))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&language, "language", "l", "", "show the translation into this language")
	return cmd
}

func newDeleteCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "delete TITLE",
		Short: "Delete a story and all its files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load(cmd)
			if err != nil {
				return err
			}
			if err := a.stories.DeleteStory(cmd.Context(), args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Deleted %q\n", args[0])
			return nil
		},
	}
}

func newTasksCmd(load loader) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "tasks TITLE",
		Short: "Show the task journal of a story",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load(cmd)
			if err != nil {
				return err
			}
			records, err := a.journal.ListByStory(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, r := range records {
				line := fmt.Sprintf("%s\t%s\t%s\t%s", r.CreatedAt.Format(time.RFC3339), r.Type, r.Status, r.Detail)
				if r.Error != "" {
					line += "\terror: " + r.Error
				}
				_, _ = fmt.Fprintln(out, line)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of entries")
	return cmd
}
