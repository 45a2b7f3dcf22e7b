package storage

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/yang-jaeyoung/flowledger/pkg/storage"
)

// LoadSnapshot reads the snapshot sidecar next to the log. The snapshot is
// strictly a cache: missing, unreadable or malformed snapshots are reported
// as absent (nil, nil) so the caller falls back to full replay.
func (s *FileStore) LoadSnapshot() (*storage.Snapshot, error) {
	path := filepath.Join(s.root, snapshotFileName)
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil
	}
	var snap storage.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, nil
	}
	if snap.Seq > s.lastSeq.Load() {
		// Snapshot claims events the log does not have, e.g. after a log
		// rewrite. Stale in the wrong direction; discard.
		return nil, nil
	}
	return &snap, nil
}

// SaveSnapshot atomically replaces the snapshot sidecar via temp file and
// rename, so readers never observe a half-written snapshot.
func (s *FileStore) SaveSnapshot(snap *storage.Snapshot) error {
	path := filepath.Join(s.root, snapshotFileName)
	raw, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, raw, 0o644); err != nil {
		return &storage.IOError{Op: "snapshot", Path: tmpPath, Err: err}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return &storage.IOError{Op: "snapshot", Path: path, Err: err}
	}
	return nil
}
