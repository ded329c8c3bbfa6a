package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/casefolio/api/handlers"
	"github.com/feichai0017/casefolio/internal/models"
	"github.com/feichai0017/casefolio/internal/service/job"
	"github.com/feichai0017/casefolio/pkg/converters"
	"github.com/feichai0017/casefolio/pkg/logger"
)

type stubService struct {
	jobs      map[string]*models.ProcessingJob
	results   map[string]*converters.ResultDocument
	docs      map[string]bool
	cancelled []string
	uploaded  []string
	enqueued  []string
	active    []string
}

func newStub() *stubService {
	return &stubService{
		jobs:    map[string]*models.ProcessingJob{},
		results: map[string]*converters.ResultDocument{},
		docs:    map[string]bool{},
	}
}

func (s *stubService) Enqueue(_ context.Context, documentRef string) (string, error) {
	if !s.docs[documentRef] {
		return "", models.NewNotFound("document", documentRef)
	}
	s.enqueued = append(s.enqueued, documentRef)
	return "job-for-" + documentRef, nil
}

func (s *stubService) Reanalyze(_ context.Context, caseID string) (string, error) {
	return "reanalyze-" + caseID, nil
}

func (s *stubService) GetStatus(_ context.Context, jobID string) (*models.ProcessingJob, error) {
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, models.NewNotFound("job", jobID)
	}
	return j, nil
}

func (s *stubService) GetResult(_ context.Context, jobID string) (*converters.ResultDocument, error) {
	if r, ok := s.results[jobID]; ok {
		return r, nil
	}
	if _, ok := s.jobs[jobID]; ok {
		return nil, fmt.Errorf("%w: %s", job.ErrNotCompleted, jobID)
	}
	return nil, models.NewNotFound("job", jobID)
}

func (s *stubService) Cancel(_ context.Context, jobID string) error {
	if _, ok := s.jobs[jobID]; !ok {
		return models.NewNotFound("job", jobID)
	}
	s.cancelled = append(s.cancelled, jobID)
	return nil
}

func (s *stubService) ListActive(context.Context) ([]*models.ProcessingJob, error) {
	jobs := make([]*models.ProcessingJob, 0, len(s.active))
	for _, id := range s.active {
		jobs = append(jobs, s.jobs[id])
	}
	return jobs, nil
}

func (s *stubService) Upload(_ context.Context, caseID, fileName string, file io.ReadSeeker, size int64) (*models.Document, error) {
	if caseID == "" {
		return nil, &models.ValidationError{Field: "case_id", Message: "case id is required"}
	}
	body, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}
	s.uploaded = append(s.uploaded, string(body))
	s.docs["doc-"+fileName] = true
	return &models.Document{ID: "doc-" + fileName, CaseID: caseID, FileName: fileName, FileSize: size}, nil
}

func (s *stubService) UploadBatch(ctx context.Context, caseID string, files []*multipart.FileHeader) ([]*models.Document, error) {
	var docs []*models.Document
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			return docs, err
		}
		doc, err := s.Upload(ctx, caseID, fh.Filename, f, fh.Size)
		f.Close()
		if err != nil {
			return docs, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func newRouter(svc job.JobProcessor, health handlers.Pinger) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	log := logger.NewTestLogger()
	SetupRoutes(r, handlers.NewHandlers(svc, health, log), log)
	return r
}

func do(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func multipartBody(t *testing.T, fields map[string]string, field, name, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	part, err := mw.CreateFormFile(field, name)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestHealth(t *testing.T) {
	w := do(newRouter(newStub(), pinger{}), httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(newRouter(newStub(), pinger{err: errors.New("db down")}), httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestProcessDocument(t *testing.T) {
	svc := newStub()
	svc.docs["doc-1"] = true
	r := newRouter(svc, nil)

	w := do(r, httptest.NewRequest(http.MethodPost, "/api/v1/documents/doc-1/process", nil))
	require.Equal(t, http.StatusAccepted, w.Code)
	var resp handlers.JobResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "job-for-doc-1", resp.JobID)

	w = do(r, httptest.NewRequest(http.MethodPost, "/api/v1/documents/missing/process", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestJobStatusAndResult(t *testing.T) {
	svc := newStub()
	svc.jobs["running"] = &models.ProcessingJob{ID: "running", Stage: models.StageSynthesizing, Progress: models.Progress{Current: 3, Total: 4, Status: "Synthesizing events"}}
	svc.jobs["done"] = &models.ProcessingJob{ID: "done", Stage: models.StageSuccess}
	svc.results["done"] = &converters.ResultDocument{JobID: "done", Status: "SUCCESS"}
	r := newRouter(svc, nil)

	w := do(r, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/running", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "SYNTHESIZING", body["stage"])
	assert.EqualValues(t, 3, body["progress"].(map[string]interface{})["current"])

	assert.Equal(t, http.StatusConflict, do(r, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/running/result", nil)).Code)
	assert.Equal(t, http.StatusOK, do(r, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/done/result", nil)).Code)
	assert.Equal(t, http.StatusNotFound, do(r, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/nope", nil)).Code)
}

func TestCancelJob(t *testing.T) {
	svc := newStub()
	svc.jobs["running"] = &models.ProcessingJob{ID: "running", Stage: models.StageParsing}
	r := newRouter(svc, nil)

	assert.Equal(t, http.StatusOK, do(r, httptest.NewRequest(http.MethodDelete, "/api/v1/jobs/running", nil)).Code)
	assert.Equal(t, []string{"running"}, svc.cancelled)
	assert.Equal(t, http.StatusNotFound, do(r, httptest.NewRequest(http.MethodDelete, "/api/v1/jobs/other", nil)).Code)
}

func TestListActiveJobs(t *testing.T) {
	svc := newStub()
	svc.jobs["running"] = &models.ProcessingJob{ID: "running", Stage: models.StageExtracting}
	svc.active = []string{"running"}
	r := newRouter(svc, nil)

	w := do(r, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/active", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Jobs  []models.ProcessingJob `json:"jobs"`
		Count int                    `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
	require.Len(t, body.Jobs, 1)
	assert.Equal(t, "running", body.Jobs[0].ID)
	assert.Equal(t, models.StageExtracting, body.Jobs[0].Stage)
}

func TestReanalyzeCase(t *testing.T) {
	w := do(newRouter(newStub(), nil), httptest.NewRequest(http.MethodPost, "/api/v1/cases/case-3/reanalyze", nil))
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Contains(t, w.Body.String(), "reanalyze-case-3")
}

func TestUploadAndProcess(t *testing.T) {
	svc := newStub()
	r := newRouter(svc, nil)

	body, contentType := multipartBody(t, map[string]string{"case_id": "case-1", "process": "true"}, "file", "notes.txt", "On 1/15/2024")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents/upload", body)
	req.Header.Set("Content-Type", contentType)

	w := do(r, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp handlers.UploadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "doc-notes.txt", resp.Document.ID)
	assert.Equal(t, "job-for-doc-notes.txt", resp.JobID)
	assert.Equal(t, []string{"On 1/15/2024"}, svc.uploaded)
}

func TestUploadValidation(t *testing.T) {
	r := newRouter(newStub(), nil)

	body, contentType := multipartBody(t, nil, "file", "notes.txt", "text")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents/upload", body)
	req.Header.Set("Content-Type", contentType)
	assert.Equal(t, http.StatusBadRequest, do(r, req).Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/documents/upload", nil)
	assert.Equal(t, http.StatusBadRequest, do(r, req).Code)
}

func TestUploadBatch(t *testing.T) {
	svc := newStub()
	r := newRouter(svc, nil)

	body, contentType := multipartBody(t, map[string]string{"case_id": "case-1"}, "files", "a.txt", "first")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents/batch", body)
	req.Header.Set("Content-Type", contentType)

	w := do(r, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "Stored 1 documents")
}

func TestRequestIDHeader(t *testing.T) {
	r := newRouter(newStub(), nil)

	w := do(r, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "trace-42")
	w = do(r, req)
	assert.Equal(t, "trace-42", w.Header().Get("X-Request-ID"))
}
