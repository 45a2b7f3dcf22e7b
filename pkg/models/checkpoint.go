package models

import "time"

// Checkpoint is a named pointer to a position in the event log, used for
// historical inspection and rollback preview. It never mutates the log:
// restoring a checkpoint replays events up to LogPosition and nothing more.
type Checkpoint struct {
	ID          string    `json:"id"`
	WorkflowID  string    `json:"workflow_id"`
	TS          time.Time `json:"ts"`
	Notes       string    `json:"notes,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	LogPosition uint64    `json:"log_position"` // Sequence number of the last event included
}
