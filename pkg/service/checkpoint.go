package service

import (
	"github.com/google/uuid"
	"github.com/yang-jaeyoung/flowledger/pkg/models"
)

// CreateCheckpoint records the log's current position as a named recovery
// point for the workflow. The checkpoint itself is just another event, so it
// follows the same mutation rules: archived workflows take no new checkpoints.
func (s *WorkflowService) CreateCheckpoint(workflowID, notes, reason string) (string, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.mutableWorkflow(workflowID); err != nil {
		return "", err
	}

	checkpointID := uuid.NewString()
	position := s.store.LastSeq()
	ev := models.NewEvent(models.CheckpointCreatedEvent, workflowID, models.CheckpointCreatedPayload{
		CheckpointID: checkpointID,
		Notes:        notes,
		Reason:       reason,
		LogPosition:  position,
	})
	if err := s.emit(ev); err != nil {
		return "", err
	}
	s.logger.Infof("Created checkpoint %s for workflow %s at seq %d", checkpointID, workflowID, position)
	return checkpointID, nil
}

// RestoreCheckpoint returns the workflow as it was when the checkpoint was
// taken: a read-only projection built by replaying events up to and including
// the recorded log position. The live log is untouched; events appended after
// the checkpoint stay invisible to the projection but are never discarded.
// Discarding history is DiscardAfterCheckpoint, an explicit separate
// operation.
func (s *WorkflowService) RestoreCheckpoint(checkpointID string) (models.Workflow, error) {
	s.mu.RLock()
	cp, ok := s.state.Checkpoints[checkpointID]
	s.mu.RUnlock()
	if !ok {
		return models.Workflow{}, &NotFoundError{Kind: "checkpoint", ID: checkpointID}
	}

	events, reports, err := s.store.ReadAll()
	if err != nil {
		return models.Workflow{}, err
	}
	s.noteCorruption(reports)

	upTo := events[:0:0]
	for _, ev := range events {
		if ev.Seq <= cp.LogPosition {
			upTo = append(upTo, ev)
		}
	}
	st, warnings := Reduce(upTo)
	for _, w := range warnings {
		s.warn(w)
	}
	wf, ok := st.Workflows[cp.WorkflowID]
	if !ok {
		return models.Workflow{}, &NotFoundError{Kind: "workflow", ID: cp.WorkflowID}
	}
	return wf.Clone(), nil
}

// DiscardAfterCheckpoint rewrites the log to keep only events up to and
// including the checkpoint's position, then rebuilds the cached state from
// the rewritten log. This is the one operation that removes history.
func (s *WorkflowService) DiscardAfterCheckpoint(checkpointID string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	cp, ok := s.state.Checkpoints[checkpointID]
	s.mu.RUnlock()
	if !ok {
		return &NotFoundError{Kind: "checkpoint", ID: checkpointID}
	}

	keep := func(ev models.Event) bool {
		if ev.Seq <= cp.LogPosition {
			return true
		}
		// The checkpoint's own event sits one past the recorded position;
		// it survives so the recovery point stays addressable.
		if ev.Type == models.CheckpointCreatedEvent {
			var p models.CheckpointCreatedPayload
			if ev.DecodePayload(&p) == nil && p.CheckpointID == checkpointID {
				return true
			}
		}
		return false
	}
	if err := s.store.Rewrite(keep); err != nil {
		return err
	}

	events, reports, err := s.store.ReadAll()
	if err != nil {
		return err
	}
	s.noteCorruption(reports)
	st, warnings := Reduce(events)
	for _, w := range warnings {
		s.warn(w)
	}

	s.mu.Lock()
	s.state = st
	s.appendsSinceSnap = 0
	s.mu.Unlock()

	// The old snapshot may describe discarded history; replace it.
	if s.snapshotEvery > 0 {
		if err := s.store.SaveSnapshot(st.Snapshot()); err != nil {
			s.logger.Errorf("Failed to refresh snapshot after discard: %v", err)
		}
	}
	s.logger.Infof("Discarded events after seq %d (checkpoint %s)", cp.LogPosition, checkpointID)
	return nil
}
