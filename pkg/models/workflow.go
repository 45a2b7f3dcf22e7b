package models

import (
	"fmt"
	"time"
)

type WorkflowStatus string

const (
	ActiveWorkflowStatus    WorkflowStatus = "active"
	CompletedWorkflowStatus WorkflowStatus = "completed"
	ArchivedWorkflowStatus  WorkflowStatus = "archived"
)

// ParseWorkflowStatus validates a raw status string and returns the typed value.
// Persisted data goes through here too, so a corrupted status can never
// masquerade as a valid one.
func ParseWorkflowStatus(raw string) (WorkflowStatus, error) {
	switch s := WorkflowStatus(raw); s {
	case ActiveWorkflowStatus, CompletedWorkflowStatus, ArchivedWorkflowStatus:
		return s, nil
	default:
		return "", fmt.Errorf("invalid workflow status %q; must be 'active', 'completed', or 'archived'", raw)
	}
}

// CanTransitionTo reports whether the status change is allowed.
// Archived is terminal: an archived workflow is frozen.
func (s WorkflowStatus) CanTransitionTo(target WorkflowStatus) bool {
	switch s {
	case ActiveWorkflowStatus:
		return target == CompletedWorkflowStatus || target == ArchivedWorkflowStatus
	case CompletedWorkflowStatus:
		return target == ArchivedWorkflowStatus
	default:
		return false
	}
}

// Workflow represents a collection of tasks and their dependencies, materialized
// from the event log. It is a derived structure: the log is the source of truth
// and a workflow can always be discarded and rebuilt by replay.
type Workflow struct {
	ID             string         `json:"id"`                         // Unique identifier
	Title          string         `json:"title"`                      // Descriptive title (e.g., "Release 1.4")
	Description    string         `json:"description,omitempty"`      // Free-form details
	Project        string         `json:"project,omitempty"`          // Project tag for grouping
	Status         WorkflowStatus `json:"status"`                     // "active", "completed", "archived"
	Tasks          []Task         `json:"tasks"`                      // Tasks ordered by position
	RelatedNoteIDs []string       `json:"related_note_ids,omitempty"` // Artifacts linked through any task
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"` // Always >= timestamp of the last applied event
}

// Clone returns a deep copy so callers can never mutate materialized state.
func (w Workflow) Clone() Workflow {
	out := w
	out.Tasks = make([]Task, len(w.Tasks))
	for i := range w.Tasks {
		out.Tasks[i] = w.Tasks[i].Clone()
	}
	out.RelatedNoteIDs = append([]string(nil), w.RelatedNoteIDs...)
	return out
}

// TaskIndex returns a single-pass id -> slice-offset lookup for the workflow's
// tasks. Batch computation and patch application both start from this map
// instead of rescanning the task list per lookup.
func (w *Workflow) TaskIndex() map[string]int {
	idx := make(map[string]int, len(w.Tasks))
	for i, t := range w.Tasks {
		idx[t.ID] = i
	}
	return idx
}
