package core_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmill/taskmill/pkg/core"
)

func TestPriorityRank(t *testing.T) {
	assert.Equal(t, 0, core.PriorityCritical.Rank())
	assert.Equal(t, 1, core.PriorityHigh.Rank())
	assert.Equal(t, 2, core.PriorityMedium.Rank())
	assert.Equal(t, 3, core.PriorityLow.Rank())
	assert.Equal(t, 4, core.Priority("urgent").Rank())

	assert.True(t, core.PriorityLow.Valid())
	assert.False(t, core.Priority("urgent").Valid())
	assert.False(t, core.Priority("").Valid())
}

func TestStatusTerminal(t *testing.T) {
	for _, s := range []core.Status{core.StatusCompleted, core.StatusFailed, core.StatusCancelled} {
		assert.True(t, s.Terminal(), "%s", s)
	}
	for _, s := range []core.Status{core.StatusQueued, core.StatusScheduled, core.StatusRunning, core.StatusRetrying} {
		assert.False(t, s.Terminal(), "%s", s)
	}
}

func TestTaskClone_IsDeep(t *testing.T) {
	due := time.Now().Add(time.Hour)
	task := &core.Task{
		ID:           "t1",
		Type:         "comment.post",
		Payload:      []byte(`{"a":1}`),
		ScheduledFor: &due,
		Tags:         core.StringList{"one"},
	}

	cp := task.Clone()
	cp.Payload[1] = 'b'
	*cp.ScheduledFor = cp.ScheduledFor.Add(time.Hour)
	cp.Tags[0] = "mutated"

	assert.Equal(t, `{"a":1}`, string(task.Payload))
	assert.Equal(t, due, *task.ScheduledFor)
	assert.Equal(t, core.StringList{"one"}, task.Tags)
}

func TestRetryDelay(t *testing.T) {
	task := &core.Task{RetryDelayMs: 1500}
	assert.Equal(t, 1500*time.Millisecond, task.RetryDelay())
}

func TestStringList_ScanValue(t *testing.T) {
	v, err := core.StringList{"a", "b"}.Value()
	require.NoError(t, err)
	assert.Equal(t, `["a","b"]`, v)

	empty, err := core.StringList(nil).Value()
	require.NoError(t, err)
	assert.Equal(t, "[]", empty)

	var l core.StringList
	require.NoError(t, l.Scan(`["x","y"]`))
	assert.Equal(t, core.StringList{"x", "y"}, l)

	require.NoError(t, l.Scan(nil))
	assert.Nil(t, l)

	assert.Error(t, l.Scan(42))
}

func TestWorkerRecomputeStatus(t *testing.T) {
	w := &core.Worker{Status: core.WorkerIdle}

	w.CurrentLoad = 1
	w.RecomputeStatus()
	assert.Equal(t, core.WorkerBusy, w.Status)

	w.CurrentLoad = 0
	w.RecomputeStatus()
	assert.Equal(t, core.WorkerIdle, w.Status)

	// Offline is sticky until explicitly cleared.
	w.Status = core.WorkerOffline
	w.CurrentLoad = 2
	w.RecomputeStatus()
	assert.Equal(t, core.WorkerOffline, w.Status)
}
