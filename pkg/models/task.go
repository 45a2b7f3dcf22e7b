package models

import (
	"fmt"
	"time"
)

type TaskStatus string

const (
	PendingTaskStatus    TaskStatus = "pending"
	InProgressTaskStatus TaskStatus = "in_progress"
	CompletedTaskStatus  TaskStatus = "completed"
	BlockedTaskStatus    TaskStatus = "blocked"
	SkippedTaskStatus    TaskStatus = "skipped"
)

// taskTransitions is the allowed status graph. Completed and skipped are
// terminal; blocked tasks can re-enter the pending/in_progress flow.
var taskTransitions = map[TaskStatus]map[TaskStatus]struct{}{
	PendingTaskStatus: {
		InProgressTaskStatus: {},
		BlockedTaskStatus:    {},
		SkippedTaskStatus:    {},
	},
	InProgressTaskStatus: {
		CompletedTaskStatus: {},
		BlockedTaskStatus:   {},
		SkippedTaskStatus:   {},
		PendingTaskStatus:   {},
	},
	BlockedTaskStatus: {
		PendingTaskStatus:    {},
		InProgressTaskStatus: {},
		SkippedTaskStatus:    {},
	},
}

// ParseTaskStatus validates a raw status string and returns the typed value.
func ParseTaskStatus(raw string) (TaskStatus, error) {
	switch s := TaskStatus(raw); s {
	case PendingTaskStatus, InProgressTaskStatus, CompletedTaskStatus, BlockedTaskStatus, SkippedTaskStatus:
		return s, nil
	default:
		return "", fmt.Errorf("invalid task status %q; must be 'pending', 'in_progress', 'completed', 'blocked', or 'skipped'", raw)
	}
}

// CanTransitionTo reports whether the status change is allowed.
func (s TaskStatus) CanTransitionTo(target TaskStatus) bool {
	targets, ok := taskTransitions[s]
	if !ok {
		return false
	}
	_, ok = targets[target]
	return ok
}

type TaskPriority string

const (
	LowTaskPriority    TaskPriority = "low"
	MediumTaskPriority TaskPriority = "medium"
	HighTaskPriority   TaskPriority = "high"
	UrgentTaskPriority TaskPriority = "urgent"
)

// ParseTaskPriority validates a raw priority string. An empty string defaults
// to medium.
func ParseTaskPriority(raw string) (TaskPriority, error) {
	if raw == "" {
		return MediumTaskPriority, nil
	}
	switch p := TaskPriority(raw); p {
	case LowTaskPriority, MediumTaskPriority, HighTaskPriority, UrgentTaskPriority:
		return p, nil
	default:
		return "", fmt.Errorf("invalid task priority %q; must be 'low', 'medium', 'high', or 'urgent'", raw)
	}
}

// StatusNote is one entry in a task's status-change history.
type StatusNote struct {
	Status TaskStatus `json:"status"`         // Status the task moved to
	Note   string     `json:"note,omitempty"` // Free-form note recorded with the change
	At     time.Time  `json:"at"`
}

// Task represents a unit of work inside a workflow.
type Task struct {
	ID           string       `json:"id"`                     // Unique within the workflow
	WorkflowID   string       `json:"workflow_id"`            // Back-reference to the owning workflow
	Title        string       `json:"title"`                  // Descriptive title (e.g., "FetchData")
	Description  string       `json:"description,omitempty"`  // Free-form details
	Status       TaskStatus   `json:"status"`                 // "pending", "in_progress", "completed", "blocked", "skipped"
	Priority     TaskPriority `json:"priority"`               // Scheduling hint, not an ordering key
	Position     int          `json:"position"`               // Display/execution order, unique per workflow
	Dependencies []string     `json:"dependencies,omitempty"` // Task IDs in the same workflow this task waits on
	NoteIDs      []string     `json:"note_ids,omitempty"`     // Linked artifact IDs
	History      []StatusNote `json:"history,omitempty"`      // Status-change notes, oldest first
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Clone returns a deep copy of the task.
func (t Task) Clone() Task {
	out := t
	out.Dependencies = append([]string(nil), t.Dependencies...)
	out.NoteIDs = append([]string(nil), t.NoteIDs...)
	out.History = append([]StatusNote(nil), t.History...)
	return out
}
