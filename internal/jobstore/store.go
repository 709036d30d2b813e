package jobstore

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const (
	// DoneMarker is written into a job directory once both artifacts exist.
	// A directory carrying the marker is immutable and considered done.
	DoneMarker = ".done"
)

var (
	// ErrBadInput is returned for a missing or disallowed upload extension
	ErrBadInput = errors.New("bad input")

	// ErrNotFound is returned when a job or artifact does not exist. An
	// unknown job id and a job whose artifacts were never produced are
	// deliberately indistinguishable.
	ErrNotFound = errors.New("job not found")
)

// allowedExtensions are the upload types the separation agent accepts
var allowedExtensions = map[string]bool{
	"mp3":  true,
	"wav":  true,
	"m4a":  true,
	"flac": true,
	"ogg":  true,
	"aac":  true,
}

// ArtifactKind selects one of the two derived audio artifacts
type ArtifactKind string

const (
	ArtifactVocals       ArtifactKind = "vocals"
	ArtifactInstrumental ArtifactKind = "instrumental"
)

// Filename returns the fixed artifact filename inside a job directory.
// The agent's own declared output paths are informational only.
func (k ArtifactKind) Filename() string {
	return string(k) + ".wav"
}

// Job is a handle to one job directory
type Job struct {
	ID        string
	Dir       string
	InputPath string
}

// Store manages job directories under a single storage root. Directories
// are named by freshly generated UUIDs, so concurrent creations never
// collide and no locking is needed.
type Store struct {
	root   string
	logger *slog.Logger
}

// New creates a job store rooted at dir
func New(root string, logger *slog.Logger) *Store {
	return &Store{root: root, logger: logger}
}

// Root returns the job storage root directory
func (s *Store) Root() string {
	return s.root
}

// Create allocates a new job directory and persists the upload stream into
// it as input.<ext>. Any failure after the directory exists removes it
// again; a failed attempt never leaves a partial job behind.
func (s *Store) Create(upload io.Reader, declaredFilename string) (*Job, error) {
	ext, err := uploadExtension(declaredFilename)
	if err != nil {
		return nil, err
	}

	jobID := uuid.New().String()
	jobDir := filepath.Join(s.root, jobID)
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create job dir: %w", err)
	}

	job := &Job{
		ID:        jobID,
		Dir:       jobDir,
		InputPath: filepath.Join(jobDir, "input."+ext),
	}

	if err := saveUpload(upload, job.InputPath); err != nil {
		s.Rollback(job)
		return nil, fmt.Errorf("failed to persist upload: %w", err)
	}

	return job, nil
}

// MarkDone writes the completion marker. Only called after the agent
// produced both artifacts.
func (s *Store) MarkDone(job *Job) error {
	if err := os.WriteFile(filepath.Join(job.Dir, DoneMarker), []byte("ok"), 0o644); err != nil {
		return fmt.Errorf("failed to write job marker: %w", err)
	}
	return nil
}

// Rollback removes the job directory after a failed attempt. Removal
// failures are logged; there is nothing the request can do about them.
func (s *Store) Rollback(job *Job) {
	if err := os.RemoveAll(job.Dir); err != nil {
		s.logger.Error("Failed to remove job dir on rollback",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}
}

// ArtifactPath resolves an artifact file for a job. It returns ErrNotFound
// for unknown ids, jobs without the artifact, and expired jobs alike.
func (s *Store) ArtifactPath(jobID string, kind ArtifactKind) (string, error) {
	if _, err := uuid.Parse(jobID); err != nil {
		return "", ErrNotFound
	}

	path := filepath.Join(s.root, jobID, kind.Filename())
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to stat artifact: %w", err)
	}
	if !info.Mode().IsRegular() {
		return "", ErrNotFound
	}

	return path, nil
}

// uploadExtension validates the declared filename and returns its
// lower-cased extension
func uploadExtension(filename string) (string, error) {
	ext := strings.TrimPrefix(filepath.Ext(filename), ".")
	if ext == "" {
		return "", fmt.Errorf("%w: unable to detect extension", ErrBadInput)
	}
	ext = strings.ToLower(ext)
	if !allowedExtensions[ext] {
		return "", fmt.Errorf("%w: unsupported file type: .%s", ErrBadInput, ext)
	}
	return ext, nil
}

// saveUpload streams the upload body to disk
func saveUpload(upload io.Reader, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}

	if _, err := io.Copy(file, upload); err != nil {
		file.Close()
		return err
	}

	return file.Close()
}
