package service

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/yang-jaeyoung/flowledger/pkg/models"
)

// AddTaskParams are the caller-supplied fields for a new task. An empty ID
// gets a generated UUID; an empty Priority defaults to medium.
type AddTaskParams struct {
	ID           string
	Title        string
	Description  string
	Priority     string
	Dependencies []string
}

func (s *WorkflowService) AddTask(workflowID string, params AddTaskParams) (string, error) {
	if params.Title == "" {
		return "", &ValidationError{Field: "title", Reason: "must not be empty"}
	}
	priority, err := models.ParseTaskPriority(params.Priority)
	if err != nil {
		return "", &ValidationError{Field: "priority", Reason: err.Error()}
	}
	taskID := params.ID
	if taskID == "" {
		taskID = uuid.NewString()
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	wf, err := s.mutableWorkflow(workflowID)
	if err != nil {
		return "", err
	}

	s.mu.RLock()
	idx := wf.TaskIndex()
	_, exists := idx[taskID]
	var missingDep string
	for _, dep := range params.Dependencies {
		if _, ok := idx[dep]; !ok {
			missingDep = dep
			break
		}
	}
	s.mu.RUnlock()
	if exists {
		return "", &ValidationError{Field: "id", Reason: fmt.Sprintf("task %q already exists in workflow", taskID)}
	}
	if missingDep != "" {
		return "", &NotFoundError{Kind: "task", ID: missingDep}
	}
	// A brand-new task cannot close a cycle: nothing depends on it yet.

	ev := models.NewEvent(models.TaskAddedEvent, workflowID, models.TaskAddedPayload{
		TaskID:       taskID,
		Title:        params.Title,
		Description:  params.Description,
		Priority:     priority,
		Dependencies: params.Dependencies,
	})
	if err := s.emit(ev); err != nil {
		return "", err
	}
	s.logger.Infof("Added task '%s' (%s) to workflow %s", params.Title, taskID, workflowID)
	return taskID, nil
}

// SetTaskStatus moves a task through its status graph, recording note in the
// task history. The raw status goes through explicit parse-and-validate, so a
// malformed string fails here rather than reaching the log.
func (s *WorkflowService) SetTaskStatus(workflowID, taskID, status, note string) error {
	target, err := models.ParseTaskStatus(status)
	if err != nil {
		return &ValidationError{Field: "status", Reason: err.Error()}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	wf, err := s.mutableWorkflow(workflowID)
	if err != nil {
		return err
	}

	s.mu.RLock()
	i, ok := wf.TaskIndex()[taskID]
	var current models.TaskStatus
	if ok {
		current = wf.Tasks[i].Status
	}
	s.mu.RUnlock()
	if !ok {
		return &NotFoundError{Kind: "task", ID: taskID}
	}
	if !current.CanTransitionTo(target) {
		return &ValidationError{
			Field:  "status",
			Reason: fmt.Sprintf("cannot transition from %q to %q", current, target),
		}
	}

	ev := models.NewEvent(models.TaskStatusChangedEvent, workflowID, models.TaskStatusChangedPayload{
		TaskID: taskID,
		Status: target,
		Note:   note,
	})
	if err := s.emit(ev); err != nil {
		return err
	}
	s.logger.Infof("Task %s in workflow %s is now %s", taskID, workflowID, target)
	return nil
}

// TaskPatch is a partial task update; nil fields are left unchanged. A status
// change obeys the same transition rules as SetTaskStatus and records Note in
// the task history. AddDependencies is cycle-checked before anything is
// emitted. A non-nil NoteIDs replaces the task's artifact links; the workflow
// side of the relation follows.
type TaskPatch struct {
	Title           *string
	Description     *string
	Priority        *string
	Status          *string
	Note            string
	NoteIDs         *[]string
	AddDependencies []string
}

func (s *WorkflowService) UpdateTask(workflowID, taskID string, patch TaskPatch) error {
	if patch.Title != nil && *patch.Title == "" {
		return &ValidationError{Field: "title", Reason: "must not be empty"}
	}
	var priority *models.TaskPriority
	if patch.Priority != nil {
		p, err := models.ParseTaskPriority(*patch.Priority)
		if err != nil {
			return &ValidationError{Field: "priority", Reason: err.Error()}
		}
		priority = &p
	}
	var status *models.TaskStatus
	if patch.Status != nil {
		st, err := models.ParseTaskStatus(*patch.Status)
		if err != nil {
			return &ValidationError{Field: "status", Reason: err.Error()}
		}
		status = &st
	}
	if patch.NoteIDs != nil {
		for _, id := range *patch.NoteIDs {
			if id == "" {
				return &ValidationError{Field: "noteIds", Reason: "must not contain empty ids"}
			}
		}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	wf, err := s.mutableWorkflow(workflowID)
	if err != nil {
		return err
	}

	s.mu.RLock()
	idx := wf.TaskIndex()
	i, ok := idx[taskID]
	var current models.TaskStatus
	if ok {
		current = wf.Tasks[i].Status
	}
	var missingDep string
	for _, dep := range patch.AddDependencies {
		if _, found := idx[dep]; !found {
			missingDep = dep
			break
		}
	}
	var witness []string
	if ok && missingDep == "" && len(patch.AddDependencies) > 0 {
		witness = cycleWitness(wf.Tasks, taskID, patch.AddDependencies)
	}
	s.mu.RUnlock()

	if !ok {
		return &NotFoundError{Kind: "task", ID: taskID}
	}
	if missingDep != "" {
		return &NotFoundError{Kind: "task", ID: missingDep}
	}
	if witness != nil {
		return &CycleError{Path: witness}
	}
	if status != nil && !current.CanTransitionTo(*status) {
		return &ValidationError{
			Field:  "status",
			Reason: fmt.Sprintf("cannot transition from %q to %q", current, *status),
		}
	}

	ev := models.NewEvent(models.TaskUpdatedEvent, workflowID, models.TaskUpdatedPayload{
		TaskID:          taskID,
		Title:           patch.Title,
		Description:     patch.Description,
		Priority:        priority,
		Status:          status,
		Note:            patch.Note,
		NoteIDs:         patch.NoteIDs,
		AddDependencies: patch.AddDependencies,
	})
	if err := s.emit(ev); err != nil {
		return err
	}
	s.logger.Infof("Updated task %s in workflow %s", taskID, workflowID)
	return nil
}

// ReorderTasks replaces the workflow's task order with orderedTaskIDs. The
// input must be a permutation of the current task ids; the whole reorder is
// exactly one event and one write, never one write per moved task.
func (s *WorkflowService) ReorderTasks(workflowID string, orderedTaskIDs []string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	wf, err := s.mutableWorkflow(workflowID)
	if err != nil {
		return err
	}

	s.mu.RLock()
	idx := wf.TaskIndex()
	taskCount := len(wf.Tasks)
	s.mu.RUnlock()

	if len(orderedTaskIDs) != taskCount {
		return &ValidationError{
			Field:  "order",
			Reason: fmt.Sprintf("got %d ids, workflow has %d tasks", len(orderedTaskIDs), taskCount),
		}
	}
	seen := make(map[string]struct{}, len(orderedTaskIDs))
	for _, id := range orderedTaskIDs {
		if _, ok := idx[id]; !ok {
			return &ValidationError{Field: "order", Reason: fmt.Sprintf("unknown task %q", id)}
		}
		if _, dup := seen[id]; dup {
			return &ValidationError{Field: "order", Reason: fmt.Sprintf("task %q repeated", id)}
		}
		seen[id] = struct{}{}
	}

	ev := models.NewEvent(models.TasksReorderedEvent, workflowID, models.TasksReorderedPayload{
		Order: orderedTaskIDs,
	})
	if err := s.emit(ev); err != nil {
		return err
	}
	s.logger.Infof("Reordered %d tasks in workflow %s", taskCount, workflowID)
	return nil
}

// LinkArtifact links an artifact to a task. The single event is applied to
// both the task and the workflow side of the relation in the same fold step,
// so the bidirectional invariant can never be half-applied.
func (s *WorkflowService) LinkArtifact(workflowID, taskID, noteID string) error {
	return s.artifactEvent(models.ArtifactLinkedEvent, workflowID, taskID, noteID)
}

// UnlinkArtifact removes an artifact link from a task. The workflow side
// keeps the artifact only while another task still links it.
func (s *WorkflowService) UnlinkArtifact(workflowID, taskID, noteID string) error {
	return s.artifactEvent(models.ArtifactUnlinkedEvent, workflowID, taskID, noteID)
}

func (s *WorkflowService) artifactEvent(t models.EventType, workflowID, taskID, noteID string) error {
	if noteID == "" {
		return &ValidationError{Field: "noteId", Reason: "must not be empty"}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	wf, err := s.mutableWorkflow(workflowID)
	if err != nil {
		return err
	}

	s.mu.RLock()
	i, ok := wf.TaskIndex()[taskID]
	linked := ok && contains(wf.Tasks[i].NoteIDs, noteID)
	s.mu.RUnlock()
	if !ok {
		return &NotFoundError{Kind: "task", ID: taskID}
	}
	if t == models.ArtifactUnlinkedEvent && !linked {
		return &ValidationError{Field: "noteId", Reason: fmt.Sprintf("artifact %q is not linked to task %q", noteID, taskID)}
	}

	ev := models.NewEvent(t, workflowID, models.ArtifactLinkPayload{
		TaskID: taskID,
		NoteID: noteID,
	})
	if err := s.emit(ev); err != nil {
		return err
	}
	s.logger.Infof("%s artifact %s on task %s in workflow %s", t, noteID, taskID, workflowID)
	return nil
}

func (s *WorkflowService) GetTask(workflowID, taskID string) (models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wf, ok := s.state.Workflows[workflowID]
	if !ok {
		return models.Task{}, &NotFoundError{Kind: "workflow", ID: workflowID}
	}
	i, ok := wf.TaskIndex()[taskID]
	if !ok {
		return models.Task{}, &NotFoundError{Kind: "task", ID: taskID}
	}
	return wf.Tasks[i].Clone(), nil
}

// NextBatch returns the ids of the tasks eligible to run now, ordered by
// position. Archived workflows are frozen and return an empty batch.
func (s *WorkflowService) NextBatch(workflowID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wf, ok := s.state.Workflows[workflowID]
	if !ok {
		return nil, &NotFoundError{Kind: "workflow", ID: workflowID}
	}
	return NextBatch(wf), nil
}
