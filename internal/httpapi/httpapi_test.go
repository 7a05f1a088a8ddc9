package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"episode_pipeline/internal/diskmonitor"
	"episode_pipeline/internal/model"
	"episode_pipeline/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetLevel(logrus.ErrorLevel)
	return log
}

func newTestRouter(t *testing.T) (*gin.Engine, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	dir := t.TempDir()
	disk := diskmonitor.New(dir, dir, dir, 100, 90, 80, time.Minute, testLogger())

	h := NewHandlers(st, disk, testLogger())
	return NewRouter(h), st
}

func doRequest(r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealth_ReportsHealthyAgainstLiveDB(t *testing.T) {
	r, _ := newTestRouter(t)
	w := doRequest(r, http.MethodGet, "/health", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp healthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Status != "healthy" {
		t.Errorf("Status = %q, want %q", resp.Status, "healthy")
	}
}

func TestHealth_SetsRequestIDHeader(t *testing.T) {
	r, _ := newTestRouter(t)
	w := doRequest(r, http.MethodGet, "/health", nil)

	if w.Header().Get("X-Request-Id") == "" {
		t.Error("X-Request-Id header was not set")
	}
}

func TestGetJob_NotFoundReturns404(t *testing.T) {
	r, _ := newTestRouter(t)
	w := doRequest(r, http.MethodGet, "/api/v1/jobs/999", nil)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestGetJob_InvalidIDReturns400(t *testing.T) {
	r, _ := newTestRouter(t)
	w := doRequest(r, http.MethodGet, "/api/v1/jobs/not-a-number", nil)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestGetJob_ReturnsEnqueuedJob(t *testing.T) {
	r, st := newTestRouter(t)
	ctx := context.Background()

	animeID, err := st.UpsertAnime(ctx, model.Anime{MALID: 1, Title: "Sample"})
	if err != nil {
		t.Fatalf("UpsertAnime: %v", err)
	}
	jobID, err := st.EnqueueJob(ctx, animeID, 1, 1, 0, nil)
	if err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	w := doRequest(r, http.MethodGet, fmt.Sprintf("/api/v1/jobs/%d", jobID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body=%s", w.Code, http.StatusOK, w.Body.String())
	}

	var job model.Job
	if err := json.Unmarshal(w.Body.Bytes(), &job); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if job.ID != jobID {
		t.Errorf("job.ID = %d, want %d", job.ID, jobID)
	}
}

func TestEnqueueJob_CreatesJobViaAPI(t *testing.T) {
	r, st := newTestRouter(t)
	ctx := context.Background()

	animeID, err := st.UpsertAnime(ctx, model.Anime{MALID: 2, Title: "Sample"})
	if err != nil {
		t.Fatalf("UpsertAnime: %v", err)
	}

	w := doRequest(r, http.MethodPost, "/api/v1/jobs", enqueueRequest{
		AnimeID: animeID, MALID: 2, Episode: 1,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body=%s", w.Code, http.StatusOK, w.Body.String())
	}

	var resp struct {
		JobID int64 `json:"job_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.JobID == 0 {
		t.Error("job_id = 0, want a positive id")
	}

	job, err := st.GetJob(ctx, resp.JobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Episode != 1 {
		t.Errorf("Episode = %d, want 1", job.Episode)
	}
}

func TestEnqueueJob_MissingRequiredFieldReturns400(t *testing.T) {
	r, _ := newTestRouter(t)
	w := doRequest(r, http.MethodPost, "/api/v1/jobs", map[string]any{"anime_id": 1})

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestRetryFailed_ReportsResetCount(t *testing.T) {
	r, _ := newTestRouter(t)
	w := doRequest(r, http.MethodPost, "/api/v1/retry", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp struct {
		ResetCount int64 `json:"reset_count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.ResetCount != 0 {
		t.Errorf("reset_count = %d, want 0 (nothing failed yet)", resp.ResetCount)
	}
}

func TestSelection_GetMissingReturns404ThenPutThenGetRoundTrips(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doRequest(r, http.MethodGet, "/api/v1/selection/7", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}

	w = doRequest(r, http.MethodPost, "/api/v1/selection/7", model.Selection{
		Query:         "Sample",
		SelectedTitle: "Sample S1",
		Confidence:    model.ConfidenceHigh,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("PUT status = %d, want %d, body=%s", w.Code, http.StatusOK, w.Body.String())
	}

	w = doRequest(r, http.MethodGet, "/api/v1/selection/7", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET status = %d, want %d", w.Code, http.StatusOK)
	}
	var sel model.Selection
	if err := json.Unmarshal(w.Body.Bytes(), &sel); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if sel.MALID != 7 {
		t.Errorf("MALID = %d, want 7 (path param should override body)", sel.MALID)
	}
	if sel.SelectedTitle != "Sample S1" {
		t.Errorf("SelectedTitle = %q, want %q", sel.SelectedTitle, "Sample S1")
	}
}

func TestStats_ReportsJobCountsAndDiskUsage(t *testing.T) {
	r, st := newTestRouter(t)
	ctx := context.Background()

	animeID, err := st.UpsertAnime(ctx, model.Anime{MALID: 3, Title: "Sample"})
	if err != nil {
		t.Fatalf("UpsertAnime: %v", err)
	}
	if _, err := st.EnqueueJob(ctx, animeID, 3, 1, 0, nil); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	w := doRequest(r, http.MethodGet, "/api/v1/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body=%s", w.Code, http.StatusOK, w.Body.String())
	}

	var resp statsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.JobsByStage[model.StageQueued] != 1 {
		t.Errorf("queued count = %d, want 1", resp.JobsByStage[model.StageQueued])
	}
	if resp.Paused {
		t.Error("Paused = true, want false (well under threshold)")
	}
}
