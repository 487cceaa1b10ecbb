package storage_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/taskmill/taskmill/pkg/core"
	"github.com/taskmill/taskmill/pkg/storage"
)

var storageTestCounter int

func setupGorm(t *testing.T) core.Storage {
	t.Helper()
	storageTestCounter++
	dbPath := fmt.Sprintf("%s/taskmill_storage_test_%d_%d.db", t.TempDir(), os.Getpid(), storageTestCounter)

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	store := storage.NewGormStorage(db)
	require.NoError(t, store.Migrate(context.Background()))
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func setupFile(t *testing.T) core.Storage {
	t.Helper()
	store := storage.NewFileStorage(t.TempDir())
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func forEachBackend(t *testing.T, fn func(t *testing.T, store core.Storage)) {
	t.Run("gorm", func(t *testing.T) { fn(t, setupGorm(t)) })
	t.Run("file", func(t *testing.T) { fn(t, setupFile(t)) })
}

func TestStorage_TaskRoundtrip(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store core.Storage) {
		ctx := context.Background()

		sched := time.Now().Add(time.Hour).UTC().Truncate(time.Millisecond)
		task := &core.Task{
			ID:           "t1",
			Type:         "comment.post",
			Platform:     "linkedin",
			Payload:      []byte(`{"text":"hi"}`),
			Priority:     core.PriorityHigh,
			Status:       core.StatusScheduled,
			ScheduledFor: &sched,
			MaxRetries:   3,
			RetryDelayMs: 5000,
			WebhookURL:   "http://callback.local/hook",
			CallbackID:   "cb-1",
			SubmittedBy:  "api",
			Tags:         core.StringList{"outreach", "demo"},
			CreatedAt:    time.Now().UTC().Truncate(time.Millisecond),
		}
		require.NoError(t, store.SaveTask(ctx, task))

		// Upsert overwrites in place.
		task.Status = core.StatusQueued
		task.ScheduledFor = nil
		require.NoError(t, store.SaveTask(ctx, task))

		tasks, err := store.LoadTasks(ctx)
		require.NoError(t, err)
		require.Len(t, tasks, 1)

		got := tasks[0]
		assert.Equal(t, core.StatusQueued, got.Status)
		assert.Equal(t, core.PriorityHigh, got.Priority)
		assert.JSONEq(t, `{"text":"hi"}`, string(got.Payload))
		assert.Equal(t, core.StringList{"outreach", "demo"}, got.Tags)
		assert.Equal(t, "cb-1", got.CallbackID)
	})
}

func TestStorage_DeleteTasks(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store core.Storage) {
		ctx := context.Background()
		for i := 0; i < 3; i++ {
			require.NoError(t, store.SaveTask(ctx, &core.Task{
				ID:        fmt.Sprintf("t%d", i),
				Type:      "research.search",
				Status:    core.StatusCompleted,
				CreatedAt: time.Now().UTC(),
			}))
		}

		require.NoError(t, store.DeleteTasks(ctx, []string{"t0", "t2"}))

		tasks, err := store.LoadTasks(ctx)
		require.NoError(t, err)
		require.Len(t, tasks, 1)
		assert.Equal(t, "t1", tasks[0].ID)
	})
}

func TestStorage_WorkerRoundtrip(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store core.Storage) {
		ctx := context.Background()

		worker := &core.Worker{
			ID:            "w1",
			Name:          "comment-bot",
			Type:          core.WorkerRemote,
			URL:           "http://worker:9000/run",
			TaskPatterns:  core.StringList{"comment.*"},
			Platforms:     core.StringList{"linkedin"},
			MaxConcurrent: 2,
			RegisteredAt:  time.Now().UTC().Truncate(time.Millisecond),
		}
		require.NoError(t, store.SaveWorker(ctx, worker))

		workers, err := store.LoadWorkers(ctx)
		require.NoError(t, err)
		require.Len(t, workers, 1)
		assert.Equal(t, "comment-bot", workers[0].Name)
		assert.Equal(t, core.StringList{"comment.*"}, workers[0].TaskPatterns)

		require.NoError(t, store.DeleteWorker(ctx, "w1"))
		workers, err = store.LoadWorkers(ctx)
		require.NoError(t, err)
		assert.Empty(t, workers)
	})
}

func TestStorage_RateLimitRoundtrip(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store core.Storage) {
		ctx := context.Background()

		limit := &core.RateLimit{
			Pattern:     "comment.*",
			MaxPerHour:  2,
			MaxPerDay:   10,
			CurrentHour: 1,
			CurrentDay:  1,
			HourResetAt: time.Now().Add(time.Hour).UTC().Truncate(time.Millisecond),
			DayResetAt:  time.Now().Add(24 * time.Hour).UTC().Truncate(time.Millisecond),
		}
		require.NoError(t, store.SaveRateLimit(ctx, limit))

		limit.CurrentHour = 2
		require.NoError(t, store.SaveRateLimit(ctx, limit))

		limits, err := store.LoadRateLimits(ctx)
		require.NoError(t, err)
		require.Len(t, limits, 1)
		assert.Equal(t, 2, limits[0].CurrentHour)

		require.NoError(t, store.DeleteRateLimit(ctx, "comment.*"))
		limits, err = store.LoadRateLimits(ctx)
		require.NoError(t, err)
		assert.Empty(t, limits)
	})
}

func TestStorage_LoadTasksOrdering(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store core.Storage) {
		ctx := context.Background()
		base := time.Now().UTC().Truncate(time.Millisecond)

		require.NoError(t, store.SaveTask(ctx, &core.Task{ID: "newer", Type: "a", CreatedAt: base.Add(time.Second)}))
		require.NoError(t, store.SaveTask(ctx, &core.Task{ID: "older", Type: "a", CreatedAt: base}))

		tasks, err := store.LoadTasks(ctx)
		require.NoError(t, err)
		require.Len(t, tasks, 2)
		assert.Equal(t, "older", tasks[0].ID)
	})
}

func TestFileStorage_SurvivesReload(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store := storage.NewFileStorage(dir)
	require.NoError(t, store.Migrate(ctx))
	require.NoError(t, store.SaveTask(ctx, &core.Task{ID: "t1", Type: "research.search", Status: core.StatusRunning, CreatedAt: time.Now().UTC()}))
	require.NoError(t, store.SaveRateLimit(ctx, &core.RateLimit{Pattern: "research.*", MaxPerHour: 5}))
	require.NoError(t, store.Close())

	reopened := storage.NewFileStorage(dir)
	require.NoError(t, reopened.Migrate(ctx))

	tasks, err := reopened.LoadTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, core.StatusRunning, tasks[0].Status)

	limits, err := reopened.LoadRateLimits(ctx)
	require.NoError(t, err)
	require.Len(t, limits, 1)

	// No stray temp files left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp")
	}
}
