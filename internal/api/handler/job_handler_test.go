package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxsplit/voxsplit-be/internal/agent"
	"github.com/voxsplit/voxsplit-be/internal/api/dto"
	"github.com/voxsplit/voxsplit-be/internal/jobstore"
	"github.com/voxsplit/voxsplit-be/internal/metrics"
	"github.com/voxsplit/voxsplit-be/internal/quota"
	"github.com/voxsplit/voxsplit-be/internal/recorder"
)

// fakeRunner stands in for the separation agent. On success it writes both
// artifacts into the job directory, the way the real agent does.
type fakeRunner struct {
	fail bool
	runs int
}

func (f *fakeRunner) Run(_ context.Context, _, outputDir string) (*agent.Outcome, error) {
	f.runs++
	if f.fail {
		return nil, &agent.Error{Stage: "run", Detail: "agent exited with exit status 1: boom"}
	}
	for _, name := range []string{"vocals.wav", "instrumental.wav"} {
		if err := os.WriteFile(filepath.Join(outputDir, name), []byte("RIFF"), 0o644); err != nil {
			return nil, err
		}
	}
	return &agent.Outcome{
		Vocals:       filepath.Join(outputDir, "vocals.wav"),
		Instrumental: filepath.Join(outputDir, "instrumental.wav"),
	}, nil
}

type testEnv struct {
	router     *gin.Engine
	runner     *fakeRunner
	jobsDir    string
	recordPath string
}

func newTestEnv(t *testing.T, dailyLimit int, bypassKey string) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	jobsDir := t.TempDir()
	recordPath := filepath.Join(t.TempDir(), "request_records.txt")
	runner := &fakeRunner{}

	h := NewJobHandler(&Dependencies{
		Logger:    log,
		Ledger:    quota.NewLedger(dailyLimit),
		Store:     jobstore.New(jobsDir, log),
		Agent:     runner,
		Recorder:  recorder.New(recordPath, log),
		Metrics:   metrics.New(prometheus.NewRegistry()),
		BypassKey: bypassKey,
	})

	r := gin.New()
	r.POST("/api/jobs", h.CreateJob)
	r.GET("/api/jobs/:job_id/vocals", h.GetVocals)
	r.GET("/api/jobs/:job_id/instrumental", h.GetInstrumental)

	return &testEnv{router: r, runner: runner, jobsDir: jobsDir, recordPath: recordPath}
}

// multipartUpload builds a multipart body with a single file field
func multipartUpload(t *testing.T, fieldName, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile(fieldName, filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func (e *testEnv) upload(t *testing.T, filename, cookie string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartUpload(t, "file", filename, "audio-bytes")
	req := httptest.NewRequest(http.MethodPost, "/api/jobs", body)
	req.Header.Set("Content-Type", contentType)
	if cookie != "" {
		req.Header.Set("Cookie", "vs_bid="+cookie)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) records(t *testing.T) []recorder.Record {
	t.Helper()
	data, err := os.ReadFile(e.recordPath)
	require.NoError(t, err)
	var out []recorder.Record
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		var rec recorder.Record
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		out = append(out, rec)
	}
	return out
}

func testIdentity() string {
	return strings.Repeat("a", 32)
}

func TestCreateJob_Success(t *testing.T) {
	env := newTestEnv(t, 1, "")

	w := env.upload(t, "clip.mp3", testIdentity(), nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.CreateJobResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.JobID)
	assert.Equal(t, "/api/jobs/"+resp.JobID+"/vocals", resp.VocalsURL)
	assert.Equal(t, "/api/jobs/"+resp.JobID+"/instrumental", resp.InstrumentalURL)

	// The job directory holds the input, both artifacts and the marker
	jobDir := filepath.Join(env.jobsDir, resp.JobID)
	assert.FileExists(t, filepath.Join(jobDir, "input.mp3"))
	assert.FileExists(t, filepath.Join(jobDir, "vocals.wav"))
	assert.FileExists(t, filepath.Join(jobDir, "instrumental.wav"))
	assert.FileExists(t, filepath.Join(jobDir, jobstore.DoneMarker))

	records := env.records(t)
	require.Len(t, records, 1)
	assert.Equal(t, "success", records[0].Outcome)
	require.NotNil(t, records[0].Filename)
	assert.Equal(t, "clip.mp3", *records[0].Filename)
}

func TestCreateJob_MintsCookieOnEveryPath(t *testing.T) {
	tests := []struct {
		name     string
		cookie   string
		filename string
		want     int
	}{
		{"no cookie, success", "", "clip.mp3", http.StatusOK},
		{"malformed cookie, success", "short", "clip.mp3", http.StatusOK},
		{"no cookie, bad extension", "", "clip.txt", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, 1, "")

			w := env.upload(t, tt.filename, tt.cookie, nil)
			require.Equal(t, tt.want, w.Code)

			setCookie := w.Header().Get("Set-Cookie")
			require.NotEmpty(t, setCookie)
			assert.Contains(t, setCookie, "vs_bid=")
			assert.NotContains(t, setCookie, "vs_bid=short")
			assert.Contains(t, setCookie, "HttpOnly")
		})
	}
}

func TestCreateJob_KeepsValidCookie(t *testing.T) {
	env := newTestEnv(t, 1, "")

	w := env.upload(t, "clip.mp3", testIdentity(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Set-Cookie"))
}

func TestCreateJob_UnsupportedExtension(t *testing.T) {
	env := newTestEnv(t, 1, "")

	w := env.upload(t, "clip.txt", testIdentity(), nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), ".txt")

	// No job directory was created and the agent never ran
	entries, err := os.ReadDir(env.jobsDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Zero(t, env.runner.runs)

	records := env.records(t)
	require.Len(t, records, 1)
	assert.Equal(t, "bad_request", records[0].Outcome)
}

func TestCreateJob_MissingFileField(t *testing.T) {
	env := newTestEnv(t, 1, "")

	body, contentType := multipartUpload(t, "attachment", "clip.mp3", "x")
	req := httptest.NewRequest(http.MethodPost, "/api/jobs", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "file field missing")
}

func TestCreateJob_QuotaExhausted(t *testing.T) {
	env := newTestEnv(t, 1, "")
	id := testIdentity()

	require.Equal(t, http.StatusOK, env.upload(t, "clip.mp3", id, nil).Code)

	// Same identity, same day: rejected
	w := env.upload(t, "clip.mp3", id, nil)
	require.Equal(t, http.StatusTooManyRequests, w.Code)

	records := env.records(t)
	require.Len(t, records, 2)
	assert.Equal(t, "too_many_requests", records[1].Outcome)

	// A different identity still gets through
	require.Equal(t, http.StatusOK, env.upload(t, "clip.mp3", strings.Repeat("b", 32), nil).Code)
}

func TestCreateJob_BypassKeySkipsQuota(t *testing.T) {
	env := newTestEnv(t, 1, "secret-key")
	id := testIdentity()
	bypass := map[string]string{"x-vs-bypass-key": " secret-key "}

	for i := 0; i < 3; i++ {
		w := env.upload(t, "clip.mp3", id, bypass)
		require.Equal(t, http.StatusOK, w.Code)
	}

	records := env.records(t)
	require.Len(t, records, 3)
	for _, rec := range records {
		assert.True(t, rec.Bypass)
	}

	// Without the key the same identity is limited as usual
	require.Equal(t, http.StatusOK, env.upload(t, "clip.mp3", id, nil).Code)
	require.Equal(t, http.StatusTooManyRequests, env.upload(t, "clip.mp3", id, nil).Code)
}

func TestCreateJob_WrongBypassKeyDoesNotSkip(t *testing.T) {
	env := newTestEnv(t, 1, "secret-key")
	id := testIdentity()

	require.Equal(t, http.StatusOK, env.upload(t, "clip.mp3", id, nil).Code)

	w := env.upload(t, "clip.mp3", id, map[string]string{"x-vs-bypass-key": "wrong"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestCreateJob_QuotaDisabled(t *testing.T) {
	env := newTestEnv(t, 0, "")
	id := testIdentity()

	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusOK, env.upload(t, "clip.mp3", id, nil).Code)
	}
}

func TestCreateJob_AgentFailureRollsBackAndReleases(t *testing.T) {
	env := newTestEnv(t, 1, "")
	id := testIdentity()

	env.runner.fail = true
	w := env.upload(t, "clip.mp3", id, nil)
	require.Equal(t, http.StatusInternalServerError, w.Code)

	// Diagnostics are not leaked to the client
	assert.NotContains(t, w.Body.String(), "boom")
	assert.Contains(t, w.Body.String(), "internal server error")

	// The partial job directory was rolled back
	entries, err := os.ReadDir(env.jobsDir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	records := env.records(t)
	require.Len(t, records, 1)
	assert.Equal(t, "error", records[0].Outcome)
	require.NotNil(t, records[0].Error)
	assert.Contains(t, *records[0].Error, "boom")

	// The failure released the slot without consuming quota
	env.runner.fail = false
	require.Equal(t, http.StatusOK, env.upload(t, "clip.mp3", id, nil).Code)
}

func TestGetArtifact(t *testing.T) {
	env := newTestEnv(t, 0, "")

	w := env.upload(t, "clip.mp3", testIdentity(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp dto.CreateJobResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	for _, tt := range []struct {
		url      string
		filename string
	}{
		{resp.VocalsURL, "vocals.wav"},
		{resp.InstrumentalURL, "instrumental.wav"},
	} {
		req := httptest.NewRequest(http.MethodGet, tt.url, nil)
		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "audio/wav", rec.Header().Get("Content-Type"))
		assert.Equal(t, `attachment; filename="`+tt.filename+`"`, rec.Header().Get("Content-Disposition"))
		assert.Equal(t, "RIFF", rec.Body.String())
	}
}

func TestGetArtifact_NotFound(t *testing.T) {
	env := newTestEnv(t, 0, "")

	// A job directory without artifacts: indistinguishable from an
	// unknown job id
	incomplete := uuid.New().String()
	require.NoError(t, os.MkdirAll(filepath.Join(env.jobsDir, incomplete), 0o755))

	for _, jobID := range []string{uuid.New().String(), incomplete, "not-a-uuid"} {
		req := httptest.NewRequest(http.MethodGet, "/api/jobs/"+jobID+"/vocals", nil)
		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Contains(t, rec.Body.String(), "job not found")
	}
}
