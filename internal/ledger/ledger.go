// Package ledger хранит истории на диске: один каталог на историю.
//
//	<root>/<title>/info.json
//	<root>/<title>/outlines.json
//	<root>/<title>/<k>.json
//	<root>/<title>/<language>/info.json
//	<root>/<title>/<language>/<k>.json
package ledger

import (
	"context"

	"serial-novel/internal/models"
)

// Ledger - постоянное хранилище историй.
type Ledger interface {
	SaveInfo(ctx context.Context, info *models.StoryInfo) error
	LoadInfo(ctx context.Context, title string) (*models.StoryInfo, error)
	StoryExists(ctx context.Context, title string) (bool, error)

	SaveOutlines(ctx context.Context, title string, outlines models.OutlineMap) error
	// LoadOutlines возвращает models.ErrNotFound, если план еще не создан.
	LoadOutlines(ctx context.Context, title string) (models.OutlineMap, error)

	SaveEpisode(ctx context.Context, title string, index int, rec *models.EpisodeRecord) error
	LoadEpisode(ctx context.Context, title string, index int) (*models.EpisodeRecord, error)
	// ListEpisodes возвращает номера сохраненных эпизодов по возрастанию.
	ListEpisodes(ctx context.Context, title string) ([]int, error)

	SaveTranslatedInfo(ctx context.Context, title, language string, info *models.TranslatedInfo) error
	SaveTranslation(ctx context.Context, title, language string, index int, ep *models.TranslatedEpisode) error
	LoadTranslation(ctx context.Context, title, language string, index int) (*models.TranslatedEpisode, error)

	ListStories(ctx context.Context) ([]string, error)
	DeleteStory(ctx context.Context, title string) error
}
