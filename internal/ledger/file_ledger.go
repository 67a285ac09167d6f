package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"serial-novel/internal/models"

	"go.uber.org/zap"
)

const (
	infoFile     = "info.json"
	outlinesFile = "outlines.json"
	jsonExt      = ".json"
)

// FileLedger реализует Ledger поверх файловой системы.
// Запись атомарна (временный файл + rename), доступ к одной истории
// внутри процесса сериализуется через RWMutex.
type FileLedger struct {
	root   string
	locks  sync.Map // title -> *sync.RWMutex
	logger *zap.Logger
}

var _ Ledger = (*FileLedger)(nil)

// NewFileLedger создает корневой каталог, если его нет.
func NewFileLedger(root string, logger *zap.Logger) (*FileLedger, error) {
	if root == "" {
		root = "story"
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create story directory %s: %w", root, err)
	}
	return &FileLedger{root: root, logger: logger.Named("FileLedger")}, nil
}

// Root возвращает корневой каталог.
func (l *FileLedger) Root() string { return l.root }

func (l *FileLedger) lockFor(title string) *sync.RWMutex {
	value, _ := l.locks.LoadOrStore(title, &sync.RWMutex{})
	return value.(*sync.RWMutex)
}

func (l *FileLedger) storyDir(title string) (string, error) {
	if err := models.ValidateTitle(title); err != nil {
		return "", err
	}
	return filepath.Join(l.root, title), nil
}

func validateLanguage(language string) error {
	if err := models.ValidateTitle(language); err != nil {
		return fmt.Errorf("%w: bad language %q", models.ErrInvalidInput, language)
	}
	return nil
}

func episodeFile(index int) string { return strconv.Itoa(index) + jsonExt }

// writeJSON пишет во временный файл рядом с целевым и переименовывает его.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to move %s into place: %w", path, err)
	}
	return nil
}

// readJSON возвращает models.ErrNotFound для отсутствующего файла
// и *models.LedgerIntegrityError для битого содержимого.
func readJSON(title, path string, v any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s of story %q: %w", filepath.Base(path), title, models.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &models.LedgerIntegrityError{Title: title, Artifact: filepath.Base(path), Err: err}
	}
	return nil
}

func (l *FileLedger) SaveInfo(ctx context.Context, info *models.StoryInfo) error {
	if err := info.Validate(); err != nil {
		return err
	}
	dir, _ := l.storyDir(info.Title)
	lock := l.lockFor(info.Title)
	lock.Lock()
	defer lock.Unlock()

	if err := writeJSON(filepath.Join(dir, infoFile), info); err != nil {
		return err
	}
	l.logger.Debug("Story info saved", zap.String("title", info.Title))
	return nil
}

func (l *FileLedger) LoadInfo(ctx context.Context, title string) (*models.StoryInfo, error) {
	dir, err := l.storyDir(title)
	if err != nil {
		return nil, err
	}
	lock := l.lockFor(title)
	lock.RLock()
	defer lock.RUnlock()

	var info models.StoryInfo
	if err := readJSON(title, filepath.Join(dir, infoFile), &info); err != nil {
		return nil, err
	}
	if err := info.Validate(); err != nil {
		return nil, &models.LedgerIntegrityError{Title: title, Artifact: infoFile, Err: err}
	}
	if info.Title != title {
		return nil, &models.LedgerIntegrityError{Title: title, Artifact: infoFile,
			Err: fmt.Errorf("stored title %q does not match directory", info.Title)}
	}
	return &info, nil
}

func (l *FileLedger) StoryExists(ctx context.Context, title string) (bool, error) {
	dir, err := l.storyDir(title)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(filepath.Join(dir, infoFile))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("failed to stat story %q: %w", title, err)
	}
}

func (l *FileLedger) SaveOutlines(ctx context.Context, title string, outlines models.OutlineMap) error {
	dir, err := l.storyDir(title)
	if err != nil {
		return err
	}
	lock := l.lockFor(title)
	lock.Lock()
	defer lock.Unlock()

	return writeJSON(filepath.Join(dir, outlinesFile), outlines)
}

// LoadOutlines проверяет план против total_episodes из info.json.
func (l *FileLedger) LoadOutlines(ctx context.Context, title string) (models.OutlineMap, error) {
	info, err := l.LoadInfo(ctx, title)
	if err != nil {
		return nil, err
	}
	dir, _ := l.storyDir(title)
	lock := l.lockFor(title)
	lock.RLock()
	defer lock.RUnlock()

	var outlines models.OutlineMap
	if err := readJSON(title, filepath.Join(dir, outlinesFile), &outlines); err != nil {
		return nil, err
	}
	if err := outlines.Validate(info.TotalEpisodes); err != nil {
		return nil, &models.LedgerIntegrityError{Title: title, Artifact: outlinesFile, Err: err}
	}
	return outlines, nil
}

func (l *FileLedger) SaveEpisode(ctx context.Context, title string, index int, rec *models.EpisodeRecord) error {
	dir, err := l.storyDir(title)
	if err != nil {
		return err
	}
	if index < 1 {
		return fmt.Errorf("%w: episode index %d", models.ErrInvalidInput, index)
	}
	lock := l.lockFor(title)
	lock.Lock()
	defer lock.Unlock()

	if err := writeJSON(filepath.Join(dir, episodeFile(index)), rec); err != nil {
		return err
	}
	l.logger.Debug("Episode saved", zap.String("title", title), zap.Int("episode", index))
	return nil
}

func (l *FileLedger) LoadEpisode(ctx context.Context, title string, index int) (*models.EpisodeRecord, error) {
	dir, err := l.storyDir(title)
	if err != nil {
		return nil, err
	}
	lock := l.lockFor(title)
	lock.RLock()
	defer lock.RUnlock()

	var rec models.EpisodeRecord
	if err := readJSON(title, filepath.Join(dir, episodeFile(index)), &rec); err != nil {
		return nil, err
	}
	if err := rec.ValidatePersisted(); err != nil {
		return nil, &models.LedgerIntegrityError{Title: title, Artifact: episodeFile(index), Err: err}
	}
	rec.Normalize()
	return &rec, nil
}

func (l *FileLedger) ListEpisodes(ctx context.Context, title string) ([]int, error) {
	dir, err := l.storyDir(title)
	if err != nil {
		return nil, err
	}
	lock := l.lockFor(title)
	lock.RLock()
	defer lock.RUnlock()

	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("story %q: %w", title, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list story %q: %w", title, err)
	}

	var indices []int
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, jsonExt) {
			continue
		}
		k, err := strconv.Atoi(strings.TrimSuffix(name, jsonExt))
		if err != nil || k < 1 {
			continue
		}
		indices = append(indices, k)
	}
	sort.Ints(indices)
	return indices, nil
}

func (l *FileLedger) SaveTranslatedInfo(ctx context.Context, title, language string, info *models.TranslatedInfo) error {
	dir, err := l.storyDir(title)
	if err != nil {
		return err
	}
	if err := validateLanguage(language); err != nil {
		return err
	}
	lock := l.lockFor(title)
	lock.Lock()
	defer lock.Unlock()

	return writeJSON(filepath.Join(dir, language, infoFile), info)
}

func (l *FileLedger) SaveTranslation(ctx context.Context, title, language string, index int, ep *models.TranslatedEpisode) error {
	dir, err := l.storyDir(title)
	if err != nil {
		return err
	}
	if err := validateLanguage(language); err != nil {
		return err
	}
	lock := l.lockFor(title)
	lock.Lock()
	defer lock.Unlock()

	return writeJSON(filepath.Join(dir, language, episodeFile(index)), ep)
}

func (l *FileLedger) LoadTranslation(ctx context.Context, title, language string, index int) (*models.TranslatedEpisode, error) {
	dir, err := l.storyDir(title)
	if err != nil {
		return nil, err
	}
	if err := validateLanguage(language); err != nil {
		return nil, err
	}
	lock := l.lockFor(title)
	lock.RLock()
	defer lock.RUnlock()

	var ep models.TranslatedEpisode
	if err := readJSON(title, filepath.Join(dir, language, episodeFile(index)), &ep); err != nil {
		return nil, err
	}
	if err := ep.ValidateCandidate(); err != nil {
		return nil, &models.LedgerIntegrityError{Title: title, Artifact: language + "/" + episodeFile(index), Err: err}
	}
	return &ep, nil
}

// ListStories возвращает каталоги, в которых есть info.json.
func (l *FileLedger) ListStories(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		return nil, fmt.Errorf("failed to list stories: %w", err)
	}
	var titles []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(l.root, e.Name(), infoFile)); err == nil {
			titles = append(titles, e.Name())
		}
	}
	sort.Strings(titles)
	return titles, nil
}

func (l *FileLedger) DeleteStory(ctx context.Context, title string) error {
	dir, err := l.storyDir(title)
	if err != nil {
		return err
	}
	exists, err := l.StoryExists(ctx, title)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("story %q: %w", title, models.ErrNotFound)
	}
	lock := l.lockFor(title)
	lock.Lock()
	defer lock.Unlock()

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to delete story %q: %w", title, err)
	}
	l.logger.Info("Story deleted", zap.String("title", title))
	return nil
}
