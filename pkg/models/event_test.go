package models_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yang-jaeyoung/flowledger/pkg/models"
)

// The persisted line format is part of the store's contract: one JSON object
// per line with exactly these envelope keys.
func TestEventWireShape(t *testing.T) {
	ev := models.NewEvent(models.TaskAddedEvent, "wf-1", models.TaskAddedPayload{
		TaskID: "t-1",
		Title:  "fetch",
	})
	ev.Seq = 7
	ev.TS = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	raw, err := json.Marshal(ev)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, float64(7), decoded["seq"])
	assert.Equal(t, "2025-03-01T12:00:00Z", decoded["ts"])
	assert.Equal(t, "TaskAdded", decoded["type"])
	assert.Equal(t, "wf-1", decoded["workflowId"])
	assert.Contains(t, decoded, "payload")
}

func TestEventPayloadRoundTrip(t *testing.T) {
	ev := models.NewEvent(models.TaskStatusChangedEvent, "wf-1", models.TaskStatusChangedPayload{
		TaskID: "t-1",
		Status: models.CompletedTaskStatus,
		Note:   "all green",
	})

	var p models.TaskStatusChangedPayload
	require.NoError(t, ev.DecodePayload(&p))
	assert.Equal(t, "t-1", p.TaskID)
	assert.Equal(t, models.CompletedTaskStatus, p.Status)
	assert.Equal(t, "all green", p.Note)
}
