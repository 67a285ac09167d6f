package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSQLiteTaskRepository(t *testing.T) {
	ctx := context.Background()
	repo, err := OpenSQLite(filepath.Join(t.TempDir(), "tasks.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	first := &TaskRecord{ID: "a", Type: "finalize_story", StoryTitle: "Salt Road", Status: TaskStatusRunning, CreatedAt: created}
	require.NoError(t, repo.Save(ctx, first))

	done := created.Add(time.Minute)
	first.Status = TaskStatusSuccess
	first.Detail = "generated episodes 1..3"
	first.Violations = []string{"episode 2: mira"}
	first.CompletedAt = &done
	require.NoError(t, repo.Save(ctx, first))

	second := &TaskRecord{ID: "b", Type: "translate_story", StoryTitle: "Salt Road", Status: TaskStatusError,
		Error: "boom", CreatedAt: created.Add(time.Hour)}
	require.NoError(t, repo.Save(ctx, second))
	require.NoError(t, repo.Save(ctx, &TaskRecord{ID: "c", Type: "create_story", StoryTitle: "Other", Status: TaskStatusRunning, CreatedAt: created}))

	tasks, err := repo.ListByStory(ctx, "Salt Road", 0)
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	assert.Equal(t, "b", tasks[0].ID)
	assert.Nil(t, tasks[0].CompletedAt)
	assert.Nil(t, tasks[0].Violations)

	assert.Equal(t, "a", tasks[1].ID)
	assert.Equal(t, TaskStatusSuccess, tasks[1].Status)
	assert.Equal(t, []string{"episode 2: mira"}, tasks[1].Violations)
	require.NotNil(t, tasks[1].CompletedAt)
	assert.True(t, done.Equal(*tasks[1].CompletedAt))

	limited, err := repo.ListByStory(ctx, "Salt Road", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	none, err := repo.ListByStory(ctx, "Missing", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestNopTaskRepository(t *testing.T) {
	var repo TaskRepository = NopTaskRepository{}
	require.NoError(t, repo.Save(context.Background(), &TaskRecord{ID: "x"}))
	tasks, err := repo.ListByStory(context.Background(), "x", 5)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}
