package http_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	internal_http "github.com/yang-jaeyoung/flowledger/internal/http"
	"github.com/yang-jaeyoung/flowledger/internal/testutil"
	"github.com/yang-jaeyoung/flowledger/pkg/service"
	"github.com/yang-jaeyoung/flowledger/pkg/storage"
)

func newServer(t *testing.T) (*httptest.Server, *service.WorkflowService) {
	t.Helper()
	svc, err := service.NewWorkflowService(storage.NewMockStore(), testutil.NopLogger{})
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", internal_http.HealthHandler)
	mux.HandleFunc("/workflows", internal_http.WorkflowsHandler(svc))
	mux.HandleFunc("/workflows/next-batch", internal_http.NextBatchHandler(svc))
	mux.HandleFunc("/workflows/status", internal_http.StatusHandler(svc))
	mux.HandleFunc("/workflows/checkpoint", internal_http.CheckpointHandler(svc))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, svc
}

func postForm(t *testing.T, srv *httptest.Server, path string, form url.Values) *http.Response {
	t.Helper()
	resp, err := srv.Client().Post(srv.URL+path, "application/x-www-form-urlencoded",
		strings.NewReader(form.Encode()))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestServer(t *testing.T) {
	t.Run("HealthCheck", func(t *testing.T) {
		srv, _ := newServer(t)
		resp, err := srv.Client().Get(srv.URL + "/health")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		body, _ := io.ReadAll(resp.Body)
		assert.Equal(t, "flowledger server is running", string(body))
	})

	t.Run("CreateWorkflow", func(t *testing.T) {
		srv, svc := newServer(t)
		resp := postForm(t, srv, "/workflows", url.Values{"title": {"release"}})
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var created map[string]string
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
		assert.NotEmpty(t, created["id"])

		wf, err := svc.GetWorkflow(created["id"])
		require.NoError(t, err)
		assert.Equal(t, "release", wf.Title)
	})

	t.Run("CreateWorkflowMissingTitle", func(t *testing.T) {
		srv, _ := newServer(t)
		resp := postForm(t, srv, "/workflows", url.Values{})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("ListWorkflows", func(t *testing.T) {
		srv, svc := newServer(t)
		_, err := svc.CreateWorkflow(service.CreateWorkflowParams{Title: "one"})
		require.NoError(t, err)

		resp, err := srv.Client().Get(srv.URL + "/workflows")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var workflows []map[string]interface{}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&workflows))
		require.Len(t, workflows, 1)
		assert.Equal(t, "one", workflows[0]["title"])
	})

	t.Run("NextBatch", func(t *testing.T) {
		srv, svc := newServer(t)
		wfID, err := svc.CreateWorkflow(service.CreateWorkflowParams{ID: "wf", Title: "wf"})
		require.NoError(t, err)
		_, err = svc.AddTask(wfID, service.AddTaskParams{ID: "a", Title: "a"})
		require.NoError(t, err)
		_, err = svc.AddTask(wfID, service.AddTaskParams{ID: "b", Title: "b", Dependencies: []string{"a"}})
		require.NoError(t, err)

		resp, err := srv.Client().Get(srv.URL + "/workflows/next-batch?id=wf")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var out struct {
			WorkflowID string   `json:"workflowId"`
			Batch      []string `json:"batch"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		assert.Equal(t, []string{"a"}, out.Batch)
	})

	t.Run("NextBatchUnknownWorkflow", func(t *testing.T) {
		srv, _ := newServer(t)
		resp, err := srv.Client().Get(srv.URL + "/workflows/next-batch?id=ghost")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("Status", func(t *testing.T) {
		srv, svc := newServer(t)
		wfID, err := svc.CreateWorkflow(service.CreateWorkflowParams{ID: "wf", Title: "wf"})
		require.NoError(t, err)
		_, err = svc.AddTask(wfID, service.AddTaskParams{ID: "a", Title: "a"})
		require.NoError(t, err)

		resp, err := srv.Client().Get(srv.URL + "/workflows/status?id=wf")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var report service.StatusReport
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
		assert.Equal(t, "wf", report.WorkflowID)
		assert.Equal(t, []string{"a"}, report.NextBatch)
	})

	t.Run("Checkpoint", func(t *testing.T) {
		srv, svc := newServer(t)
		_, err := svc.CreateWorkflow(service.CreateWorkflowParams{ID: "wf", Title: "wf"})
		require.NoError(t, err)

		resp := postForm(t, srv, "/workflows/checkpoint", url.Values{
			"id":     {"wf"},
			"reason": {"pre-release"},
		})
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var out map[string]string
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		assert.NotEmpty(t, out["checkpointId"])

		_, err = svc.RestoreCheckpoint(out["checkpointId"])
		assert.NoError(t, err)
	})

	t.Run("MethodNotAllowed", func(t *testing.T) {
		srv, _ := newServer(t)
		req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/workflows", nil)
		resp, err := srv.Client().Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	})
}
