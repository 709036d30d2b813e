package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/voxsplit/voxsplit-be/internal/api/domain"
	"github.com/voxsplit/voxsplit-be/internal/api/dto"
	"github.com/voxsplit/voxsplit-be/internal/identity"
	"github.com/voxsplit/voxsplit-be/internal/jobstore"
	"github.com/voxsplit/voxsplit-be/internal/recorder"
)

// BypassKeyHeader carries the shared secret that exempts a request from
// quota enforcement.
const BypassKeyHeader = "x-vs-bypass-key"

// createdJob pairs a finished job with its original upload filename
type createdJob struct {
	job      *jobstore.Job
	filename string
}

// CreateJob handles POST /api/jobs
// Accepts a multipart upload, runs the separation agent on it and returns
// the artifact URLs once both outputs exist.
func (h *JobHandler) CreateJob(c *gin.Context) {
	browserID, setCookie := identity.Resolve(c.GetHeader("Cookie"))
	if setCookie != "" {
		// Attached up front so every response path carries it, errors included
		c.Header("Set-Cookie", setCookie)
	}

	bypass := h.hasValidBypassKey(c)
	enforced := h.ledger.Enabled() && !bypass

	if enforced {
		if err := h.ledger.Reserve(browserID); err != nil {
			h.record(bypass, domain.OutcomeTooManyRequests, nil, err)
			c.JSON(http.StatusTooManyRequests, dto.ErrorResponse{Error: err.Error()})
			return
		}
	}

	created, err := h.processUpload(c)

	if enforced {
		if err != nil {
			h.ledger.Release(browserID)
		} else {
			h.ledger.CommitSuccess(browserID)
		}
	}

	if err != nil {
		h.failCreate(c, bypass, err)
		return
	}

	h.record(bypass, domain.OutcomeSuccess, recorder.StringPtr(created.filename), nil)

	c.JSON(http.StatusOK, dto.CreateJobResponse{
		JobID:           created.job.ID,
		VocalsURL:       fmt.Sprintf("/api/jobs/%s/vocals", created.job.ID),
		InstrumentalURL: fmt.Sprintf("/api/jobs/%s/instrumental", created.job.ID),
	})
}

// processUpload persists the upload, runs the agent and marks the job done.
// Any failure before the marker is written rolls the job directory back.
func (h *JobHandler) processUpload(c *gin.Context) (*createdJob, error) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return nil, fmt.Errorf("%w: file field missing", jobstore.ErrBadInput)
	}

	file, err := fileHeader.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open upload: %w", err)
	}
	defer file.Close()

	job, err := h.store.Create(file, fileHeader.Filename)
	if err != nil {
		return nil, err
	}

	// The agent run deliberately ignores the request context: a client
	// disconnect must not cancel an in-flight separation.
	start := time.Now()
	if _, err := h.agent.Run(context.Background(), job.InputPath, job.Dir); err != nil {
		h.store.Rollback(job)
		return nil, err
	}
	h.metrics.AgentRuntime.Observe(time.Since(start).Seconds())

	if err := h.store.MarkDone(job); err != nil {
		// The artifacts exist; the job still counts as done. The sweeper
		// falls back to the artifact timestamps.
		h.logger.Error("Failed to write job marker",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}

	h.logger.Info("Job completed",
		slog.String("job_id", job.ID),
		slog.String("filename", fileHeader.Filename),
	)

	return &createdJob{job: job, filename: fileHeader.Filename}, nil
}

// failCreate maps a job creation failure to its response and record
func (h *JobHandler) failCreate(c *gin.Context, bypass bool, err error) {
	if errors.Is(err, jobstore.ErrBadInput) {
		h.record(bypass, domain.OutcomeBadRequest, nil, err)
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}

	// Agent, I/O and storage failures all surface as an opaque internal
	// error; diagnostics stay in the log.
	h.logger.Error("Job creation failed",
		slog.String("error", err.Error()),
	)
	h.record(bypass, domain.OutcomeError, nil, err)
	c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "internal server error"})
}

// GetVocals handles GET /api/jobs/:job_id/vocals
func (h *JobHandler) GetVocals(c *gin.Context) {
	h.serveArtifact(c, jobstore.ArtifactVocals)
}

// GetInstrumental handles GET /api/jobs/:job_id/instrumental
func (h *JobHandler) GetInstrumental(c *gin.Context) {
	h.serveArtifact(c, jobstore.ArtifactInstrumental)
}

// serveArtifact streams one artifact as an attachment
func (h *JobHandler) serveArtifact(c *gin.Context, kind jobstore.ArtifactKind) {
	jobID := c.Param("job_id")

	path, err := h.store.ArtifactPath(jobID, kind)
	if err != nil {
		if errors.Is(err, jobstore.ErrNotFound) {
			c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "job not found"})
			return
		}
		h.logger.Error("Failed to resolve artifact",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "internal server error"})
		return
	}

	c.Header("Content-Type", "audio/wav")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", kind.Filename()))
	c.File(path)
}

// hasValidBypassKey checks the bypass header against the configured secret
func (h *JobHandler) hasValidBypassKey(c *gin.Context) bool {
	if h.bypassKey == "" {
		return false
	}
	return strings.TrimSpace(c.GetHeader(BypassKeyHeader)) == h.bypassKey
}

// record appends an audit record and bumps the outcome counter
func (h *JobHandler) record(bypass bool, outcome string, filename *string, err error) {
	rec := recorder.Record{
		Bypass:   bypass,
		Outcome:  outcome,
		Filename: filename,
	}
	if err != nil {
		rec.Error = recorder.StringPtr(err.Error())
	}
	h.recorder.Append(rec)
	h.metrics.JobOutcomes.WithLabelValues(outcome).Inc()
}
