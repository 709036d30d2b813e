package jobstore

import "time"

// State classifies a job directory's lifecycle
type State int

const (
	// StatePending means the directory has no completion marker and no
	// complete artifact pair: still in progress or abandoned, never swept.
	StatePending State = iota
	// StateDone means the job completed and is still within its TTL
	StateDone
	// StateExpired means the job completed and its TTL has elapsed
	StateExpired
)

// String returns the state name for logging
func (s State) String() string {
	switch s {
	case StateDone:
		return "done"
	case StateExpired:
		return "expired"
	default:
		return "pending"
	}
}

// Entry is one file inside a job directory, abstracted from the filesystem
// so classification stays a pure function.
type Entry struct {
	Name    string
	ModTime time.Time
}

// Classify derives a job directory's state from its entries. Completion
// time is the marker's modification time when present, else the later of
// the two artifact modification times when both exist. Directories without
// either are pending. A TTL of 0 or less means completed jobs never expire.
func Classify(entries []Entry, now time.Time, ttl time.Duration) State {
	completedAt, ok := completedAt(entries)
	if !ok {
		return StatePending
	}

	if ttl > 0 && now.Sub(completedAt) >= ttl {
		return StateExpired
	}
	return StateDone
}

// completedAt computes the completion timestamp from a directory listing
func completedAt(entries []Entry) (time.Time, bool) {
	var vocals, instrumental time.Time
	var haveVocals, haveInstrumental bool

	for _, entry := range entries {
		switch entry.Name {
		case DoneMarker:
			return entry.ModTime, true
		case ArtifactVocals.Filename():
			vocals = entry.ModTime
			haveVocals = true
		case ArtifactInstrumental.Filename():
			instrumental = entry.ModTime
			haveInstrumental = true
		}
	}

	if !haveVocals || !haveInstrumental {
		return time.Time{}, false
	}
	if instrumental.After(vocals) {
		return instrumental, true
	}
	return vocals, true
}
