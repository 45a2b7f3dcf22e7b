package service

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/yang-jaeyoung/flowledger/pkg/models"
	"github.com/yang-jaeyoung/flowledger/pkg/storage"
	"golang.org/x/sync/singleflight"
)

// Logger defines the logging interface for WorkflowService
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Option configures a WorkflowService.
type Option func(*WorkflowService)

// WithSnapshotEvery sets how many appends may pass before the materialized
// snapshot is persisted. Zero disables periodic snapshots.
func WithSnapshotEvery(n int) Option {
	return func(s *WorkflowService) {
		s.snapshotEvery = n
	}
}

// WorkflowService is the mutation API over one event log store. Every
// operation takes the explicit store handle it was constructed with, so
// multiple stores can coexist in one process without shared globals.
//
// Validation, not-found and cycle errors are resolved here and never reach
// the store; only validated commands become events.
type WorkflowService struct {
	store  storage.Store
	logger Logger

	// writeMu serializes the validate-append-apply path so a mutation always
	// validates against the state left by the previous mutation. Reads take
	// only the state lock.
	writeMu sync.Mutex

	mu      sync.RWMutex // guards state and reports
	state   *State
	reports []storage.CorruptionReport

	refresh singleflight.Group

	snapshotEvery    int
	appendsSinceSnap int
}

// NewWorkflowService loads the materialized state for the store, preferring
// the cached snapshot plus a tail replay over a full replay when possible.
func NewWorkflowService(store storage.Store, logger Logger, opts ...Option) (*WorkflowService, error) {
	s := &WorkflowService{
		store:         store,
		logger:        logger,
		snapshotEvery: 100,
	}
	for _, opt := range opts {
		opt(s)
	}

	var st *State
	snap, err := store.LoadSnapshot()
	if err != nil {
		return nil, err
	}
	if snap != nil {
		st = StateFromSnapshot(snap)
		tail, reports, err := store.ReadSince(snap.Seq)
		if err != nil {
			return nil, err
		}
		s.noteCorruption(reports)
		for _, ev := range tail {
			s.warn(st.Apply(ev))
		}
		s.logger.Infof("Loaded state from snapshot at seq %d plus %d tail events", snap.Seq, len(tail))
	} else {
		events, reports, err := store.ReadAll()
		if err != nil {
			return nil, err
		}
		s.noteCorruption(reports)
		var warnings []string
		st, warnings = Reduce(events)
		for _, w := range warnings {
			s.logger.Errorf("Replay warning: %s", w)
		}
		s.logger.Infof("Replayed %d events into %d workflows", len(events), len(st.Workflows))
	}
	s.state = st
	return s, nil
}

func (s *WorkflowService) warn(w string) {
	if w != "" {
		s.logger.Errorf("Replay warning: %s", w)
	}
}

func (s *WorkflowService) noteCorruption(reports []storage.CorruptionReport) {
	for _, r := range reports {
		s.logger.Errorf("Corrupt log line %d skipped: %s", r.Line, r.Err)
	}
	if len(reports) > 0 {
		s.mu.Lock()
		s.reports = append(s.reports, reports...)
		s.mu.Unlock()
	}
}

// CorruptionReports returns every corrupt log line seen on the read paths so
// far. Corruption is metadata, never an error that blocks unrelated reads.
func (s *WorkflowService) CorruptionReports() []storage.CorruptionReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]storage.CorruptionReport, len(s.reports))
	copy(out, s.reports)
	return out
}

// emit appends one event and folds it into the cached state before returning,
// so a caller's subsequent read observes its own write. A ConcurrencyError is
// retried once; an IOError is surfaced immediately, never retried, to avoid
// silently duplicating an append that may have landed.
func (s *WorkflowService) emit(ev models.Event) error {
	seq, err := s.store.Append(ev)
	if err != nil {
		var cerr *storage.ConcurrencyError
		if errors.As(err, &cerr) {
			s.logger.Errorf("Append contention on %s, retrying once: %v", ev.Type, err)
			seq, err = s.store.Append(ev)
		}
	}
	if err != nil {
		return err
	}
	ev.Seq = seq

	s.mu.Lock()
	s.warn(s.state.Apply(ev))
	s.appendsSinceSnap++
	var snap *storage.Snapshot
	if s.snapshotEvery > 0 && s.appendsSinceSnap >= s.snapshotEvery {
		snap = s.state.Snapshot()
		s.appendsSinceSnap = 0
	}
	s.mu.Unlock()

	if snap != nil {
		if err := s.store.SaveSnapshot(snap); err != nil {
			// Snapshot is a cache; losing one costs a longer replay, nothing else.
			s.logger.Errorf("Failed to persist snapshot at seq %d: %v", snap.Seq, err)
		}
	}
	return nil
}

// Refresh folds any log tail not yet in the cached state. Concurrent callers
// collapse onto a single log read.
func (s *WorkflowService) Refresh() error {
	_, err, _ := s.refresh.Do("refresh", func() (interface{}, error) {
		s.mu.RLock()
		last := s.state.LastSeq
		s.mu.RUnlock()

		tail, reports, err := s.store.ReadSince(last)
		if err != nil {
			return nil, err
		}
		s.noteCorruption(reports)
		if len(tail) == 0 {
			return nil, nil
		}
		s.mu.Lock()
		for _, ev := range tail {
			if ev.Seq > s.state.LastSeq {
				s.warn(s.state.Apply(ev))
			}
		}
		s.mu.Unlock()
		return nil, nil
	})
	return err
}

// Close persists a final snapshot. The store itself is owned by the caller
// and closed separately.
func (s *WorkflowService) Close() error {
	s.mu.RLock()
	snap := s.state.Snapshot()
	s.mu.RUnlock()
	if s.snapshotEvery <= 0 {
		return nil
	}
	return s.store.SaveSnapshot(snap)
}

// CreateWorkflowParams are the caller-supplied fields for a new workflow.
// An empty ID gets a generated UUID.
type CreateWorkflowParams struct {
	ID          string
	Title       string
	Description string
	Project     string
}

func (s *WorkflowService) CreateWorkflow(params CreateWorkflowParams) (string, error) {
	if params.Title == "" {
		return "", &ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if len(params.Title) > 200 {
		return "", &ValidationError{Field: "title", Reason: "too long (max 200 characters)"}
	}
	id := params.ID
	if id == "" {
		id = uuid.NewString()
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.RLock()
	_, exists := s.state.Workflows[id]
	s.mu.RUnlock()
	if exists {
		return "", &ValidationError{Field: "id", Reason: "workflow already exists"}
	}

	ev := models.NewEvent(models.WorkflowCreatedEvent, id, models.WorkflowCreatedPayload{
		Title:       params.Title,
		Description: params.Description,
		Project:     params.Project,
	})
	if err := s.emit(ev); err != nil {
		return "", err
	}
	s.logger.Infof("Created workflow '%s' with ID %s", params.Title, id)
	return id, nil
}

// WorkflowPatch is a partial update; nil fields are left unchanged.
type WorkflowPatch struct {
	Title       *string
	Description *string
	Project     *string
}

func (s *WorkflowService) UpdateWorkflow(workflowID string, patch WorkflowPatch) error {
	if patch.Title != nil && *patch.Title == "" {
		return &ValidationError{Field: "title", Reason: "must not be empty"}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.mutableWorkflow(workflowID); err != nil {
		return err
	}

	ev := models.NewEvent(models.WorkflowUpdatedEvent, workflowID, models.WorkflowUpdatedPayload{
		Title:       patch.Title,
		Description: patch.Description,
		Project:     patch.Project,
	})
	if err := s.emit(ev); err != nil {
		return err
	}
	s.logger.Infof("Updated workflow %s", workflowID)
	return nil
}

// CompleteWorkflow transitions the workflow to completed.
func (s *WorkflowService) CompleteWorkflow(workflowID string) error {
	return s.setWorkflowStatus(workflowID, models.CompletedWorkflowStatus)
}

// ArchiveWorkflow transitions the workflow to archived. Archived workflows
// are frozen: no further mutations and no further batches.
func (s *WorkflowService) ArchiveWorkflow(workflowID string) error {
	return s.setWorkflowStatus(workflowID, models.ArchivedWorkflowStatus)
}

func (s *WorkflowService) setWorkflowStatus(workflowID string, target models.WorkflowStatus) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	wf, ok := s.state.Workflows[workflowID]
	var current models.WorkflowStatus
	if ok {
		current = wf.Status
	}
	s.mu.RUnlock()
	if !ok {
		return &NotFoundError{Kind: "workflow", ID: workflowID}
	}
	if !current.CanTransitionTo(target) {
		return &ValidationError{
			Field:  "status",
			Reason: fmt.Sprintf("cannot transition from %q to %q", current, target),
		}
	}

	ev := models.NewEvent(models.WorkflowStatusChangedEvent, workflowID, models.WorkflowStatusChangedPayload{
		Status: target,
	})
	if err := s.emit(ev); err != nil {
		return err
	}
	s.logger.Infof("Workflow %s is now %s", workflowID, target)
	return nil
}

// mutableWorkflow returns the live workflow if it exists and accepts
// mutations. Callers must hold writeMu; the returned pointer is only read.
func (s *WorkflowService) mutableWorkflow(workflowID string) (*models.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wf, ok := s.state.Workflows[workflowID]
	if !ok {
		return nil, &NotFoundError{Kind: "workflow", ID: workflowID}
	}
	if wf.Status == models.ArchivedWorkflowStatus {
		return nil, &ValidationError{Field: "workflow", Reason: "archived workflows are frozen"}
	}
	return wf, nil
}

func (s *WorkflowService) ListWorkflows() ([]models.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Workflow, 0, len(s.state.Workflows))
	for _, wf := range s.state.Workflows {
		out = append(out, wf.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *WorkflowService) GetWorkflow(workflowID string) (models.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wf, ok := s.state.Workflows[workflowID]
	if !ok {
		return models.Workflow{}, &NotFoundError{Kind: "workflow", ID: workflowID}
	}
	return wf.Clone(), nil
}

// StatusReport summarizes a workflow for the caller: task counts per status,
// completion ratio and the batch that could run next.
type StatusReport struct {
	WorkflowID string                    `json:"workflow_id"`
	Title      string                    `json:"title"`
	Status     models.WorkflowStatus     `json:"status"`
	TaskCounts map[models.TaskStatus]int `json:"task_counts"`
	Completion float64                   `json:"completion"` // completed tasks / all tasks
	NextBatch  []string                  `json:"next_batch"`
	UpdatedAt  time.Time                 `json:"updated_at"`
}

func (s *WorkflowService) WorkflowStatus(workflowID string) (StatusReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wf, ok := s.state.Workflows[workflowID]
	if !ok {
		return StatusReport{}, &NotFoundError{Kind: "workflow", ID: workflowID}
	}
	report := StatusReport{
		WorkflowID: wf.ID,
		Title:      wf.Title,
		Status:     wf.Status,
		TaskCounts: make(map[models.TaskStatus]int),
		NextBatch:  NextBatch(wf),
		UpdatedAt:  wf.UpdatedAt,
	}
	for i := range wf.Tasks {
		report.TaskCounts[wf.Tasks[i].Status]++
	}
	if len(wf.Tasks) > 0 {
		report.Completion = float64(report.TaskCounts[models.CompletedTaskStatus]) / float64(len(wf.Tasks))
	}
	return report, nil
}
