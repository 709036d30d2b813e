package quota

import (
	"errors"
	"math"
	"sync"
	"time"
)

// ErrRejected is returned when an identity already has a job in flight or
// has used up its daily quota.
var ErrRejected = errors.New("daily limit reached; provide a bypass key for unlimited use")

// dailyUsage tracks one identity's quota for the current day-number.
// inProgress is true for the whole span between a successful Reserve and
// that job's terminal Release or CommitSuccess.
type dailyUsage struct {
	day        int64
	used       int
	inProgress bool
}

// rollover resets the record when the stored day-number is stale.
// Rollover is lazy: it happens on the next touch, never on a timer.
func (u *dailyUsage) rollover(today int64) {
	if u.day != today {
		u.day = today
		u.used = 0
		u.inProgress = false
	}
}

// Ledger enforces the per-identity daily quota and the single-in-flight-job
// guarantee. All state is in memory and guarded by one mutex; the lock is
// only ever held across the read-modify-write of a single record, never
// across I/O.
type Ledger struct {
	mu         sync.Mutex
	dailyLimit int
	usage      map[string]*dailyUsage
	now        func() time.Time
}

// NewLedger creates a ledger with the given daily limit per identity.
// A limit of 0 disables enforcement: Enabled reports false and callers are
// expected to skip the ledger entirely.
func NewLedger(dailyLimit int) *Ledger {
	return &Ledger{
		dailyLimit: dailyLimit,
		usage:      make(map[string]*dailyUsage),
		now:        time.Now,
	}
}

// Enabled reports whether quota enforcement is active
func (l *Ledger) Enabled() bool {
	return l.dailyLimit > 0
}

// Reserve atomically checks the identity's quota and marks a job in
// progress. It fails with ErrRejected when a job is already in flight or
// the daily limit is exhausted. Reserve-and-mark under one lock is what
// keeps two concurrent uploads from both passing the check.
func (l *Ledger) Reserve(identity string) error {
	today := l.dayNumber()

	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.usage[identity]
	if !ok {
		entry = &dailyUsage{day: today}
		l.usage[identity] = entry
	}
	entry.rollover(today)

	if entry.inProgress || entry.used >= l.dailyLimit {
		return ErrRejected
	}

	entry.inProgress = true
	return nil
}

// Release frees the in-flight slot without consuming quota. Used when the
// reserved job fails.
func (l *Ledger) Release(identity string) {
	today := l.dayNumber()

	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.usage[identity]
	if !ok {
		return
	}
	entry.rollover(today)
	entry.inProgress = false
}

// CommitSuccess frees the in-flight slot and counts one completed job
// against today's quota. If the day rolled over between Reserve and commit,
// the increment lands on the fresh record.
func (l *Ledger) CommitSuccess(identity string) {
	today := l.dayNumber()

	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.usage[identity]
	if !ok {
		entry = &dailyUsage{day: today}
		l.usage[identity] = entry
	}
	entry.rollover(today)

	entry.inProgress = false
	if entry.used < math.MaxInt {
		entry.used++
	}
}

// dayNumber is the count of UTC days since the Unix epoch. An integer
// day-number keeps rollover comparisons monotonic and timezone-free.
func (l *Ledger) dayNumber() int64 {
	return l.now().UTC().Unix() / 86400
}
