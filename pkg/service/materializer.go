package service

import (
	"fmt"
	"time"

	"github.com/yang-jaeyoung/flowledger/pkg/models"
	"github.com/yang-jaeyoung/flowledger/pkg/storage"
)

// State is the materialized projection of an event log: every workflow keyed
// by id plus the checkpoint index. It is a pure function of the log: it can
// be discarded at any time and rebuilt by replay, and folding a prefix then
// applying the remaining events yields the same state as folding everything
// from the start. That equivalence is what snapshot resume and incremental
// cache updates rely on.
type State struct {
	Workflows   map[string]*models.Workflow
	Checkpoints map[string]models.Checkpoint
	LastSeq     uint64

	seenUnknown map[models.EventType]struct{}
}

func NewState() *State {
	return &State{
		Workflows:   make(map[string]*models.Workflow),
		Checkpoints: make(map[string]models.Checkpoint),
	}
}

// StateFromSnapshot rebuilds a State from a cached snapshot. The caller is
// expected to replay the log tail after snapshot.Seq on top of it.
func StateFromSnapshot(snap *storage.Snapshot) *State {
	st := NewState()
	st.LastSeq = snap.Seq
	for id, wf := range snap.Workflows {
		clone := wf.Clone()
		st.Workflows[id] = &clone
	}
	for id, cp := range snap.Checkpoints {
		st.Checkpoints[id] = cp
	}
	return st
}

// Snapshot converts the state into its persistable cache form.
func (st *State) Snapshot() *storage.Snapshot {
	snap := &storage.Snapshot{
		Seq:         st.LastSeq,
		Workflows:   make(map[string]models.Workflow, len(st.Workflows)),
		Checkpoints: make(map[string]models.Checkpoint, len(st.Checkpoints)),
	}
	for id, wf := range st.Workflows {
		snap.Workflows[id] = wf.Clone()
	}
	for id, cp := range st.Checkpoints {
		snap.Checkpoints[id] = cp
	}
	return snap
}

// Reduce folds an ordered event sequence into a fresh state. Events that
// cannot be applied (unknown type, dangling workflow or task reference)
// produce warnings, never errors: replay must always terminate with the best
// state the log supports.
func Reduce(events []models.Event) (*State, []string) {
	st := NewState()
	var warnings []string
	for _, ev := range events {
		if w := st.Apply(ev); w != "" {
			warnings = append(warnings, w)
		}
	}
	return st, warnings
}

// Apply folds one event into the state. It returns a warning for events it
// had to ignore and the empty string otherwise.
func (st *State) Apply(ev models.Event) string {
	warn := st.apply(ev)
	if ev.Seq > st.LastSeq {
		st.LastSeq = ev.Seq
	}
	return warn
}

func (st *State) apply(ev models.Event) string {
	switch ev.Type {
	case models.WorkflowCreatedEvent:
		return st.applyWorkflowCreated(ev)
	case models.WorkflowUpdatedEvent:
		return st.applyWorkflowUpdated(ev)
	case models.WorkflowStatusChangedEvent:
		return st.applyWorkflowStatusChanged(ev)
	case models.TaskAddedEvent:
		return st.applyTaskAdded(ev)
	case models.TaskStatusChangedEvent:
		return st.applyTaskStatusChanged(ev)
	case models.TaskUpdatedEvent:
		return st.applyTaskUpdated(ev)
	case models.TasksReorderedEvent:
		return st.applyTasksReordered(ev)
	case models.ArtifactLinkedEvent:
		return st.applyArtifactLinked(ev)
	case models.ArtifactUnlinkedEvent:
		return st.applyArtifactUnlinked(ev)
	case models.CheckpointCreatedEvent:
		return st.applyCheckpointCreated(ev)
	default:
		// Unknown event types are skipped for forward compatibility, warned
		// once per type rather than once per event.
		if st.seenUnknown == nil {
			st.seenUnknown = make(map[models.EventType]struct{})
		}
		if _, seen := st.seenUnknown[ev.Type]; seen {
			return ""
		}
		st.seenUnknown[ev.Type] = struct{}{}
		return fmt.Sprintf("ignoring unknown event type %q (first at seq %d)", ev.Type, ev.Seq)
	}
}

// workflow resolves the event's target workflow, or nil with a warning.
func (st *State) workflow(ev models.Event) (*models.Workflow, string) {
	wf, ok := st.Workflows[ev.WorkflowID]
	if !ok {
		return nil, fmt.Sprintf("seq %d: %s for unknown workflow %q", ev.Seq, ev.Type, ev.WorkflowID)
	}
	return wf, ""
}

func touch(wf *models.Workflow, ts time.Time) {
	if ts.After(wf.UpdatedAt) {
		wf.UpdatedAt = ts
	}
}

func badPayload(ev models.Event, err error) string {
	return fmt.Sprintf("seq %d: undecodable %s payload: %v", ev.Seq, ev.Type, err)
}

func (st *State) applyWorkflowCreated(ev models.Event) string {
	var p models.WorkflowCreatedPayload
	if err := ev.DecodePayload(&p); err != nil {
		return badPayload(ev, err)
	}
	if _, exists := st.Workflows[ev.WorkflowID]; exists {
		return fmt.Sprintf("seq %d: duplicate WorkflowCreated for %q", ev.Seq, ev.WorkflowID)
	}
	st.Workflows[ev.WorkflowID] = &models.Workflow{
		ID:          ev.WorkflowID,
		Title:       p.Title,
		Description: p.Description,
		Project:     p.Project,
		Status:      models.ActiveWorkflowStatus,
		CreatedAt:   ev.TS,
		UpdatedAt:   ev.TS,
	}
	return ""
}

func (st *State) applyWorkflowUpdated(ev models.Event) string {
	wf, warn := st.workflow(ev)
	if wf == nil {
		return warn
	}
	var p models.WorkflowUpdatedPayload
	if err := ev.DecodePayload(&p); err != nil {
		return badPayload(ev, err)
	}
	if p.Title != nil {
		wf.Title = *p.Title
	}
	if p.Description != nil {
		wf.Description = *p.Description
	}
	if p.Project != nil {
		wf.Project = *p.Project
	}
	touch(wf, ev.TS)
	return ""
}

func (st *State) applyWorkflowStatusChanged(ev models.Event) string {
	wf, warn := st.workflow(ev)
	if wf == nil {
		return warn
	}
	var p models.WorkflowStatusChangedPayload
	if err := ev.DecodePayload(&p); err != nil {
		return badPayload(ev, err)
	}
	if _, err := models.ParseWorkflowStatus(string(p.Status)); err != nil {
		return fmt.Sprintf("seq %d: %v", ev.Seq, err)
	}
	wf.Status = p.Status
	touch(wf, ev.TS)
	return ""
}

func (st *State) applyTaskAdded(ev models.Event) string {
	wf, warn := st.workflow(ev)
	if wf == nil {
		return warn
	}
	var p models.TaskAddedPayload
	if err := ev.DecodePayload(&p); err != nil {
		return badPayload(ev, err)
	}
	if _, exists := wf.TaskIndex()[p.TaskID]; exists {
		return fmt.Sprintf("seq %d: duplicate TaskAdded %q in workflow %q", ev.Seq, p.TaskID, wf.ID)
	}
	priority := p.Priority
	if priority == "" {
		priority = models.MediumTaskPriority
	}
	wf.Tasks = append(wf.Tasks, models.Task{
		ID:           p.TaskID,
		WorkflowID:   wf.ID,
		Title:        p.Title,
		Description:  p.Description,
		Status:       models.PendingTaskStatus,
		Priority:     priority,
		Position:     len(wf.Tasks),
		Dependencies: append([]string(nil), p.Dependencies...),
		CreatedAt:    ev.TS,
		UpdatedAt:    ev.TS,
	})
	touch(wf, ev.TS)
	return ""
}

// task resolves a task inside wf, or nil with a warning.
func (st *State) task(ev models.Event, wf *models.Workflow, taskID string) (*models.Task, string) {
	if i, ok := wf.TaskIndex()[taskID]; ok {
		return &wf.Tasks[i], ""
	}
	return nil, fmt.Sprintf("seq %d: %s for unknown task %q in workflow %q", ev.Seq, ev.Type, taskID, wf.ID)
}

func (st *State) applyTaskStatusChanged(ev models.Event) string {
	wf, warn := st.workflow(ev)
	if wf == nil {
		return warn
	}
	var p models.TaskStatusChangedPayload
	if err := ev.DecodePayload(&p); err != nil {
		return badPayload(ev, err)
	}
	if _, err := models.ParseTaskStatus(string(p.Status)); err != nil {
		return fmt.Sprintf("seq %d: %v", ev.Seq, err)
	}
	t, warn := st.task(ev, wf, p.TaskID)
	if t == nil {
		return warn
	}
	t.Status = p.Status
	t.History = append(t.History, models.StatusNote{Status: p.Status, Note: p.Note, At: ev.TS})
	t.UpdatedAt = ev.TS
	touch(wf, ev.TS)
	return ""
}

func (st *State) applyTaskUpdated(ev models.Event) string {
	wf, warn := st.workflow(ev)
	if wf == nil {
		return warn
	}
	var p models.TaskUpdatedPayload
	if err := ev.DecodePayload(&p); err != nil {
		return badPayload(ev, err)
	}
	t, warn := st.task(ev, wf, p.TaskID)
	if t == nil {
		return warn
	}
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Priority != nil {
		if _, err := models.ParseTaskPriority(string(*p.Priority)); err != nil {
			return fmt.Sprintf("seq %d: %v", ev.Seq, err)
		}
		t.Priority = *p.Priority
	}
	if p.Status != nil {
		if _, err := models.ParseTaskStatus(string(*p.Status)); err != nil {
			return fmt.Sprintf("seq %d: %v", ev.Seq, err)
		}
		t.Status = *p.Status
		t.History = append(t.History, models.StatusNote{Status: *p.Status, Note: p.Note, At: ev.TS})
	}
	for _, dep := range p.AddDependencies {
		if !contains(t.Dependencies, dep) {
			t.Dependencies = append(t.Dependencies, dep)
		}
	}
	if p.NoteIDs != nil {
		t.NoteIDs = append([]string(nil), *p.NoteIDs...)
		syncRelatedNotes(wf)
	}
	t.UpdatedAt = ev.TS
	touch(wf, ev.TS)
	return ""
}

// syncRelatedNotes rebuilds the workflow-side artifact set from the task side
// after a wholesale note replacement, keeping the relation bidirectional: the
// workflow lists an artifact exactly while some task links it.
func syncRelatedNotes(wf *models.Workflow) {
	var related []string
	for i := range wf.Tasks {
		for _, n := range wf.Tasks[i].NoteIDs {
			if !contains(related, n) {
				related = append(related, n)
			}
		}
	}
	wf.RelatedNoteIDs = related
}

func (st *State) applyTasksReordered(ev models.Event) string {
	wf, warn := st.workflow(ev)
	if wf == nil {
		return warn
	}
	var p models.TasksReorderedPayload
	if err := ev.DecodePayload(&p); err != nil {
		return badPayload(ev, err)
	}
	idx := wf.TaskIndex()
	if len(p.Order) != len(wf.Tasks) {
		return fmt.Sprintf("seq %d: TasksReordered order has %d ids, workflow has %d tasks", ev.Seq, len(p.Order), len(wf.Tasks))
	}
	reordered := make([]models.Task, 0, len(wf.Tasks))
	seen := make(map[string]struct{}, len(p.Order))
	for _, id := range p.Order {
		i, ok := idx[id]
		if !ok {
			return fmt.Sprintf("seq %d: TasksReordered references unknown task %q", ev.Seq, id)
		}
		if _, dup := seen[id]; dup {
			return fmt.Sprintf("seq %d: TasksReordered repeats task %q", ev.Seq, id)
		}
		seen[id] = struct{}{}
		reordered = append(reordered, wf.Tasks[i])
	}
	for i := range reordered {
		reordered[i].Position = i
	}
	wf.Tasks = reordered
	touch(wf, ev.TS)
	return ""
}

func (st *State) applyArtifactLinked(ev models.Event) string {
	wf, warn := st.workflow(ev)
	if wf == nil {
		return warn
	}
	var p models.ArtifactLinkPayload
	if err := ev.DecodePayload(&p); err != nil {
		return badPayload(ev, err)
	}
	t, warn := st.task(ev, wf, p.TaskID)
	if t == nil {
		return warn
	}
	// Both sides of the relation move in this single fold step, so the task
	// side can never reference an artifact the workflow side does not.
	if !contains(t.NoteIDs, p.NoteID) {
		t.NoteIDs = append(t.NoteIDs, p.NoteID)
	}
	if !contains(wf.RelatedNoteIDs, p.NoteID) {
		wf.RelatedNoteIDs = append(wf.RelatedNoteIDs, p.NoteID)
	}
	t.UpdatedAt = ev.TS
	touch(wf, ev.TS)
	return ""
}

func (st *State) applyArtifactUnlinked(ev models.Event) string {
	wf, warn := st.workflow(ev)
	if wf == nil {
		return warn
	}
	var p models.ArtifactLinkPayload
	if err := ev.DecodePayload(&p); err != nil {
		return badPayload(ev, err)
	}
	t, warn := st.task(ev, wf, p.TaskID)
	if t == nil {
		return warn
	}
	t.NoteIDs = remove(t.NoteIDs, p.NoteID)
	// The workflow side keeps the artifact as long as any task still links it.
	stillLinked := false
	for i := range wf.Tasks {
		if contains(wf.Tasks[i].NoteIDs, p.NoteID) {
			stillLinked = true
			break
		}
	}
	if !stillLinked {
		wf.RelatedNoteIDs = remove(wf.RelatedNoteIDs, p.NoteID)
	}
	t.UpdatedAt = ev.TS
	touch(wf, ev.TS)
	return ""
}

func (st *State) applyCheckpointCreated(ev models.Event) string {
	if _, warn := st.workflow(ev); warn != "" {
		return warn
	}
	var p models.CheckpointCreatedPayload
	if err := ev.DecodePayload(&p); err != nil {
		return badPayload(ev, err)
	}
	st.Checkpoints[p.CheckpointID] = models.Checkpoint{
		ID:          p.CheckpointID,
		WorkflowID:  ev.WorkflowID,
		TS:          ev.TS,
		Notes:       p.Notes,
		Reason:      p.Reason,
		LogPosition: p.LogPosition,
	}
	return ""
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func remove(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
