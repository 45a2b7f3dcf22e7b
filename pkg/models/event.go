package models

import (
	"encoding/json"
	"time"
)

// EventType identifies the transformation an event applies during replay.
type EventType string

const (
	WorkflowCreatedEvent       EventType = "WorkflowCreated"
	WorkflowUpdatedEvent       EventType = "WorkflowUpdated"
	WorkflowStatusChangedEvent EventType = "WorkflowStatusChanged"
	TaskAddedEvent             EventType = "TaskAdded"
	TaskStatusChangedEvent     EventType = "TaskStatusChanged"
	TaskUpdatedEvent           EventType = "TaskUpdated"
	TasksReorderedEvent        EventType = "TasksReordered"
	ArtifactLinkedEvent        EventType = "ArtifactLinked"
	ArtifactUnlinkedEvent      EventType = "ArtifactUnlinked"
	CheckpointCreatedEvent     EventType = "CheckpointCreated"
)

// Event is one immutable record in the append-only log. The log is the sole
// source of truth; workflows and tasks are folds over the event sequence.
// Seq is assigned by the store at append time and is strictly monotonic per log.
type Event struct {
	Seq        uint64          `json:"seq"`
	TS         time.Time       `json:"ts"`
	Type       EventType       `json:"type"`
	WorkflowID string          `json:"workflowId"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// NewEvent builds an unsequenced event with the payload marshalled in place.
// Payload marshalling of the types below cannot fail, so the error is
// intentionally not surfaced here.
func NewEvent(t EventType, workflowID string, payload interface{}) Event {
	raw, _ := json.Marshal(payload)
	return Event{
		TS:         time.Now().UTC(),
		Type:       t,
		WorkflowID: workflowID,
		Payload:    raw,
	}
}

// DecodePayload unmarshals the event payload into dst.
func (e Event) DecodePayload(dst interface{}) error {
	return json.Unmarshal(e.Payload, dst)
}

// WorkflowCreatedPayload carries the initial workflow fields.
type WorkflowCreatedPayload struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Project     string `json:"project,omitempty"`
}

// WorkflowUpdatedPayload is a field patch; nil pointers leave the field alone.
type WorkflowUpdatedPayload struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Project     *string `json:"project,omitempty"`
}

type WorkflowStatusChangedPayload struct {
	Status WorkflowStatus `json:"status"`
}

type TaskAddedPayload struct {
	TaskID       string       `json:"taskId"`
	Title        string       `json:"title"`
	Description  string       `json:"description,omitempty"`
	Priority     TaskPriority `json:"priority"`
	Dependencies []string     `json:"dependencies,omitempty"`
}

type TaskStatusChangedPayload struct {
	TaskID string     `json:"taskId"`
	Status TaskStatus `json:"status"`
	Note   string     `json:"note,omitempty"`
}

// TaskUpdatedPayload is a field patch; nil pointers leave the field alone.
// A non-nil Status goes through the same transition rules as a plain status
// change and records Note in the task history. A non-nil NoteIDs replaces the
// task's artifact links wholesale; the workflow side follows in the same fold
// step.
type TaskUpdatedPayload struct {
	TaskID          string        `json:"taskId"`
	Title           *string       `json:"title,omitempty"`
	Description     *string       `json:"description,omitempty"`
	Priority        *TaskPriority `json:"priority,omitempty"`
	Status          *TaskStatus   `json:"status,omitempty"`
	Note            string        `json:"note,omitempty"`
	NoteIDs         *[]string     `json:"noteIds,omitempty"`
	AddDependencies []string      `json:"addDependencies,omitempty"`
}

// TasksReorderedPayload carries the complete new order: one event per reorder,
// never one event per moved task.
type TasksReorderedPayload struct {
	Order []string `json:"order"`
}

type ArtifactLinkPayload struct {
	TaskID string `json:"taskId"`
	NoteID string `json:"noteId"`
}

type CheckpointCreatedPayload struct {
	CheckpointID string `json:"checkpointId"`
	Notes        string `json:"notes,omitempty"`
	Reason       string `json:"reason,omitempty"`
	LogPosition  uint64 `json:"logPosition"`
}
