package service

import (
	"sort"

	"github.com/yang-jaeyoung/flowledger/pkg/models"
)

// NextBatch computes the tasks eligible to run concurrently right now: every
// pending task whose full dependency set is completed, ordered by position.
// One pass builds the completed-id set and one pass collects eligible tasks,
// so the work is O(N+E) for N tasks and E dependency edges, not a rescan of
// the task list per dependency.
//
// Archived workflows are frozen and yield no batch.
func NextBatch(wf *models.Workflow) []string {
	if wf == nil || wf.Status == models.ArchivedWorkflowStatus {
		return nil
	}
	completed := make(map[string]struct{}, len(wf.Tasks))
	for i := range wf.Tasks {
		if wf.Tasks[i].Status == models.CompletedTaskStatus {
			completed[wf.Tasks[i].ID] = struct{}{}
		}
	}

	var eligible []*models.Task
	for i := range wf.Tasks {
		t := &wf.Tasks[i]
		if t.Status != models.PendingTaskStatus {
			continue
		}
		ready := true
		for _, dep := range t.Dependencies {
			if _, ok := completed[dep]; !ok {
				ready = false
				break
			}
		}
		if ready {
			eligible = append(eligible, t)
		}
	}

	sort.Slice(eligible, func(i, j int) bool {
		return eligible[i].Position < eligible[j].Position
	})
	batch := make([]string, len(eligible))
	for i, t := range eligible {
		batch[i] = t.ID
	}
	return batch
}

// cycleWitness reports the cycle that adding edges taskID -> newDeps to the
// dependency graph would create, or nil if the graph stays acyclic. Since the
// existing graph is a DAG, a new cycle must run through one of the proposed
// edges, so it suffices to check whether taskID is reachable from any new
// dependency by walking existing edges. The returned path starts and ends at
// taskID.
//
// This runs at edge-insertion time only; batch computation never re-checks.
func cycleWitness(tasks []models.Task, taskID string, newDeps []string) []string {
	deps := make(map[string][]string, len(tasks))
	for i := range tasks {
		deps[tasks[i].ID] = tasks[i].Dependencies
	}

	for _, dep := range newDeps {
		if dep == taskID {
			return []string{taskID, taskID}
		}
		if path := pathTo(deps, dep, taskID, map[string]struct{}{}); path != nil {
			return append([]string{taskID}, path...)
		}
	}
	return nil
}

// pathTo walks dependency edges depth-first from cur and returns the walk
// ending at target, or nil if target is unreachable.
func pathTo(deps map[string][]string, cur, target string, visited map[string]struct{}) []string {
	if cur == target {
		return []string{cur}
	}
	visited[cur] = struct{}{}
	for _, next := range deps[cur] {
		if _, seen := visited[next]; seen {
			continue
		}
		if path := pathTo(deps, next, target, visited); path != nil {
			return append([]string{cur}, path...)
		}
	}
	return nil
}
