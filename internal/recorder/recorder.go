package recorder

import (
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"time"
)

// timestampFormat is RFC 3339 with millisecond precision
const timestampFormat = "2006-01-02T15:04:05.000-07:00"

// Record is one admission/outcome event. Records are append-only and never
// mutated or deleted by this service.
type Record struct {
	Timestamp string  `json:"ts_rfc3339"`
	Bypass    bool    `json:"bypass"`
	Outcome   string  `json:"outcome"`
	Filename  *string `json:"filename"`
	Error     *string `json:"error"`
}

// Recorder appends request records to a flat file, one JSON object per
// line. The write is serialized under a dedicated lock so concurrent
// requests never interleave partial lines. Auditing is best-effort: every
// failure is logged and swallowed, never propagated to the request.
type Recorder struct {
	mu     sync.Mutex
	path   string
	logger *slog.Logger
	now    func() time.Time
}

// New creates a recorder appending to the given file path
func New(path string, logger *slog.Logger) *Recorder {
	return &Recorder{
		path:   path,
		logger: logger,
		now:    time.Now,
	}
}

// Append serializes the record and appends it as a single line. The
// timestamp is filled in when the caller left it empty.
func (r *Recorder) Append(record Record) {
	if record.Timestamp == "" {
		record.Timestamp = r.now().Format(timestampFormat)
	}

	line, err := json.Marshal(record)
	if err != nil {
		r.logger.Error("Failed to serialize request record",
			slog.String("error", err.Error()),
		)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	file, err := os.OpenFile(r.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		r.logger.Error("Failed to open request record file",
			slog.String("path", r.path),
			slog.String("error", err.Error()),
		)
		return
	}
	defer file.Close()

	if _, err := file.Write(append(line, '\n')); err != nil {
		r.logger.Error("Failed to write request record",
			slog.String("path", r.path),
			slog.String("error", err.Error()),
		)
	}
}

// StringPtr is a convenience for the record's optional fields
func StringPtr(s string) *string {
	return &s
}
