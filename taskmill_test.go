package taskmill_test

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/taskmill/taskmill"
)

var facadeTestCounter int

func setupEngine(t *testing.T) *taskmill.Engine {
	t.Helper()
	facadeTestCounter++
	dbPath := fmt.Sprintf("%s/taskmill_facade_test_%d_%d.db", t.TempDir(), os.Getpid(), facadeTestCounter)

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	eng, err := taskmill.New(context.Background(), taskmill.NewGormStorage(db), taskmill.Config{
		ProcessInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(eng.Stop)
	return eng
}

func TestEndToEnd_SubmitAndComplete(t *testing.T) {
	eng := setupEngine(t)
	ctx := context.Background()

	_, err := eng.RegisterWorker(ctx, taskmill.WorkerSpec{
		Name:         "greeter",
		TaskPatterns: []string{"greet.*"},
		Handler: func(ctx context.Context, task *taskmill.Task) (any, error) {
			var payload struct {
				Name string `json:"name"`
			}
			if err := json.Unmarshal(task.Payload, &payload); err != nil {
				return nil, err
			}
			return map[string]string{"greeting": "hello " + payload.Name}, nil
		},
	})
	require.NoError(t, err)

	completed := make(chan *taskmill.Task, 1)
	eng.On(taskmill.EventTaskCompleted, func(task *taskmill.Task) {
		completed <- task
	})

	task, err := eng.Submit(ctx, taskmill.TaskSpec{
		Type:     "greet.user",
		Payload:  json.RawMessage(`{"name":"ada"}`),
		Priority: taskmill.PriorityHigh,
	})
	require.NoError(t, err)

	eng.Start(ctx)

	select {
	case done := <-completed:
		assert.Equal(t, task.ID, done.ID)
		assert.JSONEq(t, `{"greeting":"hello ada"}`, string(done.Result))
	case <-time.After(5 * time.Second):
		t.Fatal("task never completed")
	}

	got, err := eng.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, taskmill.StatusCompleted, got.Status)
}

func TestFacade_PatternAndValidationHelpers(t *testing.T) {
	assert.True(t, taskmill.Match("comment.post", "comment.*"))
	assert.True(t, taskmill.Match("anything", "*"))
	assert.False(t, taskmill.Match("research.search", "comment.*"))

	assert.NoError(t, taskmill.ValidateTaskType("comment.post"))
	assert.ErrorIs(t, taskmill.ValidateTaskType(""), taskmill.ErrMissingType)
}

func TestFacade_ScheduleConstructors(t *testing.T) {
	from := time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC) // a Monday

	assert.Equal(t, from.Add(15*time.Minute), taskmill.Every(15*time.Minute).Next(from))
	assert.Equal(t, time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC), taskmill.Daily(10, 0).Next(from))
	assert.Equal(t, time.Date(2025, 6, 9, 9, 0, 0, 0, time.UTC), taskmill.Weekly(time.Monday, 9, 0).Next(from))
	assert.Equal(t, time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC), taskmill.Cron("0 10 * * *").Next(from))
}
