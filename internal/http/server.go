package http

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/pkg/errors"
	"github.com/yang-jaeyoung/flowledger/internal/log"
	"github.com/yang-jaeyoung/flowledger/pkg/service"
)

// StartServer exposes the workflow operation surface over HTTP. The handlers
// are a thin collaborator layer: all validation and invariants live in the
// service.
func StartServer(port string, svc *service.WorkflowService) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", HealthHandler)
	mux.HandleFunc("/workflows", WorkflowsHandler(svc))
	mux.HandleFunc("/workflows/next-batch", NextBatchHandler(svc))
	mux.HandleFunc("/workflows/status", StatusHandler(svc))
	mux.HandleFunc("/workflows/checkpoint", CheckpointHandler(svc))

	log.GetLogger().Infof("Starting flowledger server on :%s", port)
	return http.ListenAndServe(":"+port, mux)
}

func HealthHandler(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintf(w, "flowledger server is running")
}

// WorkflowsHandler lists workflows on GET and creates one on POST.
func WorkflowsHandler(svc *service.WorkflowService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			listWorkflowsHTTP(w, svc)
		case http.MethodPost:
			createWorkflowHTTP(w, r, svc)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

func createWorkflowHTTP(w http.ResponseWriter, r *http.Request, svc *service.WorkflowService) {
	title := r.FormValue("title")
	if title == "" {
		http.Error(w, "Missing 'title' parameter", http.StatusBadRequest)
		return
	}
	id, err := svc.CreateWorkflow(service.CreateWorkflowParams{
		Title:       title,
		Description: r.FormValue("description"),
		Project:     r.FormValue("project"),
	})
	if err != nil {
		writeError(w, "create workflow", err)
		return
	}
	writeJSON(w, map[string]string{
		"id":      id,
		"message": fmt.Sprintf("Created workflow '%s' with ID %s", title, id),
	})
}

func listWorkflowsHTTP(w http.ResponseWriter, svc *service.WorkflowService) {
	workflows, err := svc.ListWorkflows()
	if err != nil {
		writeError(w, "list workflows", err)
		return
	}
	writeJSON(w, workflows)
}

// NextBatchHandler returns the ids of the tasks eligible to run now.
func NextBatchHandler(svc *service.WorkflowService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		id := r.FormValue("id")
		if id == "" {
			http.Error(w, "Missing 'id' parameter", http.StatusBadRequest)
			return
		}
		batch, err := svc.NextBatch(id)
		if err != nil {
			writeError(w, "next batch", err)
			return
		}
		if batch == nil {
			batch = []string{}
		}
		writeJSON(w, map[string]interface{}{"workflowId": id, "batch": batch})
	}
}

// StatusHandler returns the workflow status report.
func StatusHandler(svc *service.WorkflowService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		id := r.FormValue("id")
		if id == "" {
			http.Error(w, "Missing 'id' parameter", http.StatusBadRequest)
			return
		}
		report, err := svc.WorkflowStatus(id)
		if err != nil {
			writeError(w, "workflow status", err)
			return
		}
		writeJSON(w, report)
	}
}

// CheckpointHandler creates a checkpoint on POST.
func CheckpointHandler(svc *service.WorkflowService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		id := r.FormValue("id")
		if id == "" {
			http.Error(w, "Missing 'id' parameter", http.StatusBadRequest)
			return
		}
		cpID, err := svc.CreateCheckpoint(id, r.FormValue("notes"), r.FormValue("reason"))
		if err != nil {
			writeError(w, "create checkpoint", err)
			return
		}
		writeJSON(w, map[string]string{"checkpointId": cpID})
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.GetLogger().Errorf("Failed to encode response: %v", err)
	}
}

// writeError maps service errors onto HTTP status codes.
func writeError(w http.ResponseWriter, op string, err error) {
	log.GetLogger().Errorf("Failed to %s: %v", op, err)
	var (
		validationErr *service.ValidationError
		notFoundErr   *service.NotFoundError
		cycleErr      *service.CycleError
	)
	switch {
	case errors.As(err, &validationErr):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.As(err, &notFoundErr):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.As(err, &cycleErr):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, fmt.Sprintf("Failed to %s: %v", op, err), http.StatusInternalServerError)
	}
}
