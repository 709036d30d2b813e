package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// Outcome is the agent's structured stdout on success. The declared paths
// are informational; the authoritative artifact locations are the fixed
// filenames inside the job directory.
type Outcome struct {
	Vocals       string `json:"vocals"`
	Instrumental string `json:"instrumental"`
}

// Runner executes the external separation agent for one job. A real
// subprocess implementation is swapped for a fake in tests.
type Runner interface {
	Run(ctx context.Context, inputPath, outputDir string) (*Outcome, error)
}

// Error carries diagnostics from a failed agent invocation. The diagnostics
// are logged server-side and never leaked to the client.
type Error struct {
	Stage      string // spawn, run, parse
	Detail     string
	Underlying error
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("agent %s failed: %s", e.Stage, e.Detail)
	}
	return fmt.Sprintf("agent %s failed: %v", e.Stage, e.Underlying)
}

func (e *Error) Unwrap() error {
	return e.Underlying
}

// Subprocess runs the separation agent script through its interpreter and
// waits for it to finish. There is no cancellation on client disconnect and
// no retry; a run goes to completion or natural process exit.
type Subprocess struct {
	pythonBin string
	script    string
	logger    *slog.Logger
}

// NewSubprocess creates a subprocess runner for the given interpreter and
// agent script path.
func NewSubprocess(pythonBin, script string, logger *slog.Logger) *Subprocess {
	return &Subprocess{
		pythonBin: pythonBin,
		script:    script,
		logger:    logger,
	}
}

// Run invokes the agent with the input file and output directory and
// classifies the result by exit status. Non-zero exit is an agent failure
// carrying the captured stderr; zero exit requires parseable JSON on stdout.
func (s *Subprocess) Run(ctx context.Context, inputPath, outputDir string) (*Outcome, error) {
	cmd := exec.CommandContext(ctx, s.pythonBin, s.script,
		"--input", inputPath,
		"--output-dir", outputDir,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	s.logger.Debug("Running separation agent",
		slog.String("input", inputPath),
		slog.String("output_dir", outputDir),
	)

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, &Error{
				Stage:      "run",
				Detail:     fmt.Sprintf("agent exited with %s: %s", exitErr.ProcessState, strings.TrimSpace(stderr.String())),
				Underlying: err,
			}
		}
		return nil, &Error{Stage: "spawn", Underlying: err}
	}

	outcome, err := parseOutcome(stdout.Bytes())
	if err != nil {
		return nil, &Error{Stage: "parse", Underlying: err}
	}

	return outcome, nil
}

// parseOutcome decodes the agent's stdout JSON
func parseOutcome(stdout []byte) (*Outcome, error) {
	var outcome Outcome
	if err := json.Unmarshal(stdout, &outcome); err != nil {
		return nil, fmt.Errorf("unparseable agent output: %w", err)
	}
	return &outcome, nil
}
