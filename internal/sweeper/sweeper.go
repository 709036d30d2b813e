package sweeper

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxsplit/voxsplit-be/internal/jobstore"
)

// minInterval is the floor on the sweep interval so a misconfigured value
// cannot turn the loop into a busy spin.
const minInterval = time.Minute

// Sweeper periodically removes job directories whose completion time is
// older than the TTL. It shares nothing with the request path except the
// filesystem: it only ever deletes directories already in a terminal state,
// under ids no in-flight job can collide with.
type Sweeper struct {
	root     string
	ttl      time.Duration
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	stopChan chan struct{}
	wg       sync.WaitGroup

	onExpired func()
}

// New creates a sweeper over the given job storage root. The interval is
// clamped to the minimum floor.
func New(root string, ttl, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval < minInterval {
		interval = minInterval
	}
	return &Sweeper{
		root:     root,
		ttl:      ttl,
		interval: interval,
		logger:   logger,
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
}

// Start launches the background sweep loop. A TTL of 0 disables expiry
// outright: no loop is started.
func (s *Sweeper) Start() {
	if s.ttl <= 0 {
		s.logger.Info("Job expiry disabled, sweeper not started")
		return
	}

	s.wg.Add(1)
	go s.loop()

	s.logger.Info("Sweeper started",
		slog.Duration("ttl", s.ttl),
		slog.Duration("interval", s.interval),
	)
}

// OnExpired registers a hook invoked once per removed directory
func (s *Sweeper) OnExpired(fn func()) {
	s.onExpired = fn
}

// Stop terminates the sweep loop and waits for a pass in flight to finish
func (s *Sweeper) Stop() {
	close(s.stopChan)
	s.wg.Wait()
}

// loop wakes on the configured interval and runs one sweep pass
func (s *Sweeper) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			if err := s.Sweep(); err != nil {
				s.logger.Error("Jobs cleanup error",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// Sweep runs a single pass over the job storage root. Failures on
// individual entries are logged and do not abort the rest of the pass.
func (s *Sweeper) Sweep() error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return fmt.Errorf("failed to list jobs dir: %w", err)
	}

	now := s.now()
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		if _, err := uuid.Parse(name); err != nil {
			continue
		}

		jobDir := filepath.Join(s.root, name)
		state, err := s.classifyDir(jobDir, now)
		if err != nil {
			s.logger.Error("Failed to inspect job dir",
				slog.String("job_id", name),
				slog.String("error", err.Error()),
			)
			continue
		}
		if state != jobstore.StateExpired {
			continue
		}

		if err := os.RemoveAll(jobDir); err != nil {
			s.logger.Error("Failed to remove expired job dir",
				slog.String("job_id", name),
				slog.String("error", err.Error()),
			)
			continue
		}
		s.logger.Info("Job expired and removed",
			slog.String("job_id", name),
		)
		if s.onExpired != nil {
			s.onExpired()
		}
	}

	return nil
}

// classifyDir reads one job directory and classifies it
func (s *Sweeper) classifyDir(jobDir string, now time.Time) (jobstore.State, error) {
	dirEntries, err := os.ReadDir(jobDir)
	if err != nil {
		return jobstore.StatePending, err
	}

	entries := make([]jobstore.Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		info, err := de.Info()
		if err != nil {
			continue
		}
		entries = append(entries, jobstore.Entry{
			Name:    de.Name(),
			ModTime: info.ModTime(),
		})
	}

	return jobstore.Classify(entries, now, s.ttl), nil
}
