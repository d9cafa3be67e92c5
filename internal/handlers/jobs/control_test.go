package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	engine "github.com/ZerkerEOD/autopwn/internal/jobs"
	"github.com/ZerkerEOD/autopwn/internal/middleware"
	"github.com/ZerkerEOD/autopwn/internal/models"
)

type fakeController struct {
	job      *models.Job
	err      error
	calls    []string
	priority int
}

func (f *fakeController) record(name string) (*models.Job, error) {
	f.calls = append(f.calls, name)
	if f.err != nil {
		return nil, f.err
	}
	return f.job, nil
}

func (f *fakeController) Get(context.Context, uuid.UUID, uuid.UUID) (*models.Job, error) {
	return f.record("get")
}
func (f *fakeController) Pause(context.Context, uuid.UUID, uuid.UUID) (*models.Job, error) {
	return f.record("pause")
}
func (f *fakeController) Resume(context.Context, uuid.UUID, uuid.UUID) (*models.Job, error) {
	return f.record("resume")
}
func (f *fakeController) Stop(context.Context, uuid.UUID, uuid.UUID) (*models.Job, error) {
	return f.record("stop")
}
func (f *fakeController) Restart(context.Context, uuid.UUID, uuid.UUID) (*models.Job, error) {
	return f.record("restart")
}
func (f *fakeController) SetPriority(_ context.Context, _, _ uuid.UUID, p int) (*models.Job, error) {
	f.priority = p
	return f.record("priority")
}
func (f *fakeController) Delete(context.Context, uuid.UUID, uuid.UUID) error {
	_, err := f.record("delete")
	return err
}

type fakeLists struct {
	items []models.JobItem
}

func (f fakeLists) ListByJob(context.Context, uuid.UUID) ([]models.JobItem, error) {
	return f.items, nil
}

type fakeResults []models.Result

func (f fakeResults) ListByJob(context.Context, uuid.UUID, uuid.UUID) ([]models.Result, error) {
	return f, nil
}

type forgetRecorder struct{ forgotten []uuid.UUID }

func (f *forgetRecorder) Forget(id uuid.UUID) { f.forgotten = append(f.forgotten, id) }

func newRouter(h *ControlHandler) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.UserIDMiddleware)
	r.HandleFunc("/api/jobs/{id}", h.GetJob).Methods(http.MethodGet)
	r.HandleFunc("/api/jobs/{id}", h.DeleteJob).Methods(http.MethodDelete)
	r.HandleFunc("/api/jobs/{id}/pause", h.PauseJob).Methods(http.MethodPost)
	r.HandleFunc("/api/jobs/{id}/resume", h.ResumeJob).Methods(http.MethodPost)
	r.HandleFunc("/api/jobs/{id}/stop", h.StopJob).Methods(http.MethodPost)
	r.HandleFunc("/api/jobs/{id}/restart", h.RestartJob).Methods(http.MethodPost)
	r.HandleFunc("/api/jobs/{id}/priority", h.SetPriority).Methods(http.MethodPatch)
	return r
}

func do(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(middleware.UserIDHeader, uuid.New().String())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestLifecycleEndpoints(t *testing.T) {
	jobID := uuid.New()
	tests := []struct {
		path     string
		err      error
		wantCode int
		wantCall string
	}{
		{"pause", nil, http.StatusOK, "pause"},
		{"resume", nil, http.StatusOK, "resume"},
		{"stop", nil, http.StatusOK, "stop"},
		{"restart", nil, http.StatusOK, "restart"},
		{"pause", engine.ErrNotFound, http.StatusNotFound, "pause"},
		{"resume", fmt.Errorf("%w: job is completed", engine.ErrInvalidTransition), http.StatusConflict, "resume"},
		{"stop", errors.New("connection reset"), http.StatusInternalServerError, "stop"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s %d", tt.path, tt.wantCode), func(t *testing.T) {
			ctrl := &fakeController{job: &models.Job{ID: jobID, Status: models.JobStatusPaused, Paused: true}, err: tt.err}
			router := newRouter(NewControlHandler(ctrl, fakeLists{}, fakeResults{}, nil))

			rec := do(t, router, http.MethodPost, "/api/jobs/"+jobID.String()+"/"+tt.path, "")

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, []string{tt.wantCall}, ctrl.calls)
			if tt.wantCode == http.StatusOK {
				var got models.Job
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
				assert.Equal(t, jobID, got.ID)
			}
		})
	}
}

func TestInvalidJobID(t *testing.T) {
	ctrl := &fakeController{}
	router := newRouter(NewControlHandler(ctrl, fakeLists{}, fakeResults{}, nil))

	rec := do(t, router, http.MethodPost, "/api/jobs/not-a-uuid/pause", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, ctrl.calls)
}

func TestSetPriority(t *testing.T) {
	jobID := uuid.New()
	ctrl := &fakeController{job: &models.Job{ID: jobID, Priority: 7}}
	router := newRouter(NewControlHandler(ctrl, fakeLists{}, fakeResults{}, nil))

	rec := do(t, router, http.MethodPatch, "/api/jobs/"+jobID.String()+"/priority", `{"priority": 7}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 7, ctrl.priority)

	for _, body := range []string{``, `{}`, `{"priority": "high"}`} {
		rec := do(t, router, http.MethodPatch, "/api/jobs/"+jobID.String()+"/priority", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
	assert.Len(t, ctrl.calls, 1)
}

func TestDeleteJob(t *testing.T) {
	jobID := uuid.New()

	t.Run("processing job conflicts", func(t *testing.T) {
		forget := &forgetRecorder{}
		ctrl := &fakeController{err: engine.ErrJobProcessing}
		router := newRouter(NewControlHandler(ctrl, fakeLists{}, fakeResults{}, forget))

		rec := do(t, router, http.MethodDelete, "/api/jobs/"+jobID.String(), "")
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Contains(t, rec.Body.String(), "JOB_PROCESSING")
		assert.Empty(t, forget.forgotten)
	})

	t.Run("deleted", func(t *testing.T) {
		forget := &forgetRecorder{}
		ctrl := &fakeController{}
		router := newRouter(NewControlHandler(ctrl, fakeLists{}, fakeResults{}, forget))

		rec := do(t, router, http.MethodDelete, "/api/jobs/"+jobID.String(), "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []uuid.UUID{jobID}, forget.forgotten)
	})
}

func TestGetJobIncludesItemsAndResults(t *testing.T) {
	jobID := uuid.New()
	pw := "pass1"
	ctrl := &fakeController{job: &models.Job{ID: jobID, Status: models.JobStatusCompleted, ItemsTotal: 2, ItemsCracked: 1}}
	items := fakeLists{items: []models.JobItem{
		{ESSID: "Net1", Status: models.JobItemStatusCracked, Password: &pw},
		{ESSID: "Net2", Status: models.JobItemStatusPending},
	}}
	results := fakeResults{{JobID: jobID, ESSID: "Net1", Password: "pass1"}}
	router := newRouter(NewControlHandler(ctrl, items, results, nil))

	rec := do(t, router, http.MethodGet, "/api/jobs/"+jobID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)

	var detail JobDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	assert.Equal(t, jobID, detail.Job.ID)
	assert.Len(t, detail.Items, 2)
	require.Len(t, detail.Results, 1)
	assert.Equal(t, "pass1", detail.Results[0].Password)
}

func TestRequestsWithoutUserAreRejected(t *testing.T) {
	ctrl := &fakeController{}
	router := newRouter(NewControlHandler(ctrl, fakeLists{}, fakeResults{}, nil))

	req := httptest.NewRequest(http.MethodPost, "/api/jobs/"+uuid.New().String()+"/pause", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, ctrl.calls)
}
