package handler

import (
	"log/slog"

	"github.com/voxsplit/voxsplit-be/internal/agent"
	"github.com/voxsplit/voxsplit-be/internal/jobstore"
	"github.com/voxsplit/voxsplit-be/internal/metrics"
	"github.com/voxsplit/voxsplit-be/internal/quota"
	"github.com/voxsplit/voxsplit-be/internal/recorder"
)

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger    *slog.Logger
	Ledger    *quota.Ledger
	Store     *jobstore.Store
	Agent     agent.Runner
	Recorder  *recorder.Recorder
	Metrics   *metrics.Metrics
	BypassKey string
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger    *slog.Logger
	ledger    *quota.Ledger
	store     *jobstore.Store
	agent     agent.Runner
	recorder  *recorder.Recorder
	metrics   *metrics.Metrics
	bypassKey string
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:    deps.Logger,
		ledger:    deps.Ledger,
		store:     deps.Store,
		agent:     deps.Agent,
		recorder:  deps.Recorder,
		metrics:   deps.Metrics,
		bypassKey: deps.BypassKey,
	}
}
