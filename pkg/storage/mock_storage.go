package storage

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/yang-jaeyoung/flowledger/pkg/models"
)

var _ Store = (*mockStore)(nil)

// mockStore implements Store with in-memory storage. It mirrors the file
// store's semantics (monotonic sequences, serialized appends, discardable
// snapshot) so service tests and examples can run without touching disk.
type mockStore struct {
	mu       sync.RWMutex
	events   []models.Event
	snapshot *Snapshot
	lastSeq  uint64
	closed   bool
}

func NewMockStore() Store {
	return &mockStore{}
}

func (m *mockStore) Append(ev models.Event) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	m.lastSeq++
	ev.Seq = m.lastSeq
	m.events = append(m.events, ev)
	return ev.Seq, nil
}

func (m *mockStore) ReadAll() ([]models.Event, []CorruptionReport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, nil, ErrClosed
	}
	out := make([]models.Event, len(m.events))
	copy(out, m.events)
	return out, nil, nil
}

func (m *mockStore) ReadSince(afterSeq uint64) ([]models.Event, []CorruptionReport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, nil, ErrClosed
	}
	var out []models.Event
	for _, ev := range m.events {
		if ev.Seq > afterSeq {
			out = append(out, ev)
		}
	}
	return out, nil, nil
}

func (m *mockStore) LastSeq() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastSeq
}

func (m *mockStore) Rewrite(keep func(models.Event) bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if keep == nil {
		return errors.New("nil keep predicate")
	}
	kept := m.events[:0:0]
	for _, ev := range m.events {
		if keep(ev) {
			kept = append(kept, ev)
		}
	}
	m.events = kept
	// The next append continues from the highest surviving sequence.
	m.lastSeq = 0
	if len(kept) > 0 {
		m.lastSeq = kept[len(kept)-1].Seq
	}
	return nil
}

func (m *mockStore) LoadSnapshot() (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot, nil
}

func (m *mockStore) SaveSnapshot(s *Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.snapshot = s
	return nil
}

func (m *mockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
