package storage

import "github.com/yang-jaeyoung/flowledger/pkg/models"

// CorruptionReport describes a log line that failed to parse. Corrupt lines
// are skipped and reported, never fatal: well-formed lines before and after
// a corrupt one are still part of the folded sequence.
type CorruptionReport struct {
	Line int    `json:"line"` // 1-based line number in the log file
	Raw  string `json:"raw"`  // The raw bytes of the offending line
	Err  string `json:"err"`
}

// Snapshot caches a materialized projection together with the sequence number
// it was built from. It is strictly a performance cache: a store may discard
// it at any time and callers must fall back to full replay.
type Snapshot struct {
	Seq         uint64                       `json:"seq"`
	Workflows   map[string]models.Workflow   `json:"workflows"`
	Checkpoints map[string]models.Checkpoint `json:"checkpoints,omitempty"`
}

// Store is the append-only event log for one storage root. Appends are
// serialized by the implementation so concurrent callers can never interleave
// into a corrupted line; reads never block on writes and always observe either
// the pre- or post-append log.
type Store interface {
	// Append assigns the next sequence number, persists the event atomically
	// and returns the assigned sequence.
	Append(ev models.Event) (uint64, error)

	// ReadAll returns every parseable event in sequence order plus a report
	// for every line that failed to parse.
	ReadAll() ([]models.Event, []CorruptionReport, error)

	// ReadSince returns the events with sequence strictly greater than afterSeq.
	ReadSince(afterSeq uint64) ([]models.Event, []CorruptionReport, error)

	// LastSeq returns the highest sequence number appended so far.
	LastSeq() uint64

	// Rewrite replaces the log with only the events keep returns true for.
	// This is the explicit history-discard operation; nothing else ever
	// removes events.
	Rewrite(keep func(models.Event) bool) error

	// LoadSnapshot returns the cached snapshot, or nil if none is usable.
	// A missing or unreadable snapshot is not an error.
	LoadSnapshot() (*Snapshot, error)

	// SaveSnapshot replaces the cached snapshot.
	SaveSnapshot(s *Snapshot) error

	Close() error
}
