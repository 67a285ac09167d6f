// Package cli - команды storyctl: тот же конвейер, что и у воркера,
// но синхронно и с блокировкой внутри процесса.
package cli

import (
	"context"
	"fmt"
	"path/filepath"

	"serial-novel/internal/bootstrap"
	"serial-novel/internal/config"
	"serial-novel/internal/lock"
	"serial-novel/internal/logger"
	"serial-novel/internal/repository"
	"serial-novel/internal/service"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type app struct {
	stories service.StoryService
	journal repository.TaskRepository
	logger  *zap.Logger
	close   func()
}

// appFactory собирает зависимости при первом вызове команды,
// чтобы --help работал без конфигурации.
type appFactory func(ctx context.Context) (*app, error)

// Execute запускает storyctl.
func Execute(ctx context.Context) error {
	return newRootCmd(wireApp).ExecuteContext(ctx)
}

func newRootCmd(factory appFactory) *cobra.Command {
	var current *app
	rootCmd := &cobra.Command{
		Use:           "storyctl",
		Short:         "Generate serialized stories episode by episode",
		Long:          "storyctl plans a multi-episode story, lets you revise the outline, generates the episodes with an LLM and exports or translates the result.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	load := func(cmd *cobra.Command) (*app, error) {
		if current != nil {
			return current, nil
		}
		a, err := factory(cmd.Context())
		if err != nil {
			return nil, err
		}
		current = a
		return a, nil
	}
	rootCmd.PersistentPostRun = func(*cobra.Command, []string) {
		if current != nil && current.close != nil {
			current.close()
		}
	}

	rootCmd.AddCommand(
		newCreateCmd(load),
		newOutlinesCmd(load),
		newReviseCmd(load),
		newFinalizeCmd(load),
		newGenerateCmd(load),
		newTranslateCmd(load),
		newExportCmd(load),
		newListCmd(load),
		newShowCmd(load),
		newDeleteCmd(load),
		newTasksCmd(load),
	)
	return rootCmd
}

// loader отдает собранное приложение команде.
type loader func(cmd *cobra.Command) (*app, error)

func wireApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.Logger())
	if err != nil {
		return nil, err
	}

	stories, err := bootstrap.StoryService(ctx, cfg, lock.NewLocalLocker(), log)
	if err != nil {
		return nil, err
	}

	// По умолчанию CLI ведет журнал в SQLite рядом с историями.
	if cfg.JournalEnabled && cfg.JournalSQLite == "" {
		cfg.JournalSQLite = filepath.Join(cfg.StoryDir, "tasks.db")
	}
	journal, closeJournal, err := bootstrap.Journal(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open task journal: %w", err)
	}

	return &app{
		stories: stories,
		journal: journal,
		logger:  log,
		close: func() {
			closeJournal()
			_ = log.Sync()
		},
	}, nil
}
