package service_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yang-jaeyoung/flowledger/pkg/models"
	"github.com/yang-jaeyoung/flowledger/pkg/service"
)

// A checkpoint taken at sequence S must keep projecting reduce(events[0..S])
// no matter how many events are appended to the live log afterwards.
func TestCheckpointFidelity(t *testing.T) {
	svc, store := newService(t)
	wfID, err := svc.CreateWorkflow(service.CreateWorkflowParams{Title: "wf"})
	require.NoError(t, err)
	_, err = svc.AddTask(wfID, service.AddTaskParams{ID: "a", Title: "a"})
	require.NoError(t, err)

	cpID, err := svc.CreateCheckpoint(wfID, "after a", "test")
	require.NoError(t, err)
	lenAtCheckpoint := logLength(t, store)

	// Keep mutating past the checkpoint.
	_, err = svc.AddTask(wfID, service.AddTaskParams{ID: "b", Title: "b"})
	require.NoError(t, err)
	require.NoError(t, svc.SetTaskStatus(wfID, "a", "in_progress", ""))
	require.NoError(t, svc.SetTaskStatus(wfID, "a", "completed", ""))

	restored, err := svc.RestoreCheckpoint(cpID)
	require.NoError(t, err)

	// The projection is frozen at the checkpoint: one task, still pending.
	require.Len(t, restored.Tasks, 1)
	assert.Equal(t, "a", restored.Tasks[0].ID)
	assert.Equal(t, models.PendingTaskStatus, restored.Tasks[0].Status)

	// Restore is read-only: the live log and live state are untouched.
	assert.Greater(t, logLength(t, store), lenAtCheckpoint)
	live, err := svc.GetWorkflow(wfID)
	require.NoError(t, err)
	assert.Len(t, live.Tasks, 2)
	assert.Equal(t, models.CompletedTaskStatus, live.Tasks[0].Status)
}

func TestRestoreUnknownCheckpoint(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.RestoreCheckpoint("ghost")
	var nferr *service.NotFoundError
	require.ErrorAs(t, err, &nferr)
	assert.Equal(t, "checkpoint", nferr.Kind)
}

func TestCreateCheckpointUnknownWorkflow(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.CreateCheckpoint("ghost", "", "")
	var nferr *service.NotFoundError
	assert.ErrorAs(t, err, &nferr)
}

// Archived workflows are frozen; that includes taking new checkpoints.
func TestCreateCheckpointArchivedWorkflow(t *testing.T) {
	svc, _ := newService(t)
	wfID, err := svc.CreateWorkflow(service.CreateWorkflowParams{Title: "wf"})
	require.NoError(t, err)
	require.NoError(t, svc.ArchiveWorkflow(wfID))

	_, err = svc.CreateCheckpoint(wfID, "", "")
	var verr *service.ValidationError
	assert.ErrorAs(t, err, &verr)
}

// Discarding is the explicit separate operation restore is not: it rewrites
// the log and rebuilds state, dropping everything after the checkpoint.
func TestDiscardAfterCheckpoint(t *testing.T) {
	svc, store := newService(t)
	wfID, err := svc.CreateWorkflow(service.CreateWorkflowParams{Title: "wf"})
	require.NoError(t, err)
	_, err = svc.AddTask(wfID, service.AddTaskParams{ID: "a", Title: "a"})
	require.NoError(t, err)

	cpID, err := svc.CreateCheckpoint(wfID, "", "before experiment")
	require.NoError(t, err)
	lenAtCheckpoint := logLength(t, store)

	_, err = svc.AddTask(wfID, service.AddTaskParams{ID: "b", Title: "b"})
	require.NoError(t, err)
	require.NoError(t, svc.SetTaskStatus(wfID, "b", "in_progress", ""))

	require.NoError(t, svc.DiscardAfterCheckpoint(cpID))

	// The checkpoint event itself survives; everything after it is gone.
	assert.Equal(t, lenAtCheckpoint, logLength(t, store))
	wf, err := svc.GetWorkflow(wfID)
	require.NoError(t, err)
	require.Len(t, wf.Tasks, 1)
	assert.Equal(t, "a", wf.Tasks[0].ID)

	// New mutations continue cleanly on the truncated log.
	_, err = svc.AddTask(wfID, service.AddTaskParams{ID: "c", Title: "c"})
	require.NoError(t, err)
}
