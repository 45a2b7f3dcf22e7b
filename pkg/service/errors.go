package service

import (
	"fmt"
	"strings"
)

// ValidationError reports malformed input: a bad enum value, a missing
// required field, an order that is not a permutation. Rejected before any
// event is emitted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NotFoundError reports that a referenced workflow, task or checkpoint id
// does not exist in materialized state.
type NotFoundError struct {
	Kind string // "workflow", "task", "checkpoint"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// CycleError reports that a proposed dependency edge would close a cycle.
// Path is a witness walk along dependency edges, starting and ending at the
// task the edge was being added to. The task graph is left unchanged.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle: %s", strings.Join(e.Path, " -> "))
}
