// internal/testutil/store.go
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	internal_storage "github.com/yang-jaeyoung/flowledger/internal/storage"
)

// TestStore holds a file store rooted in a per-test temp directory.
type TestStore struct {
	Store *internal_storage.FileStore
	Root  string
}

// SetupTestStore opens a FileStore under a fresh t.TempDir() root and closes
// it when the test finishes.
func SetupTestStore(t *testing.T) *TestStore {
	t.Helper()
	root := t.TempDir()
	store, err := internal_storage.NewFileStore(root, internal_storage.Options{})
	if err != nil {
		t.Fatalf("Failed to open file store at %s: %v", root, err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("Failed to close store: %v", err)
		}
	})
	return &TestStore{Store: store, Root: root}
}

// AppendRawLine writes one raw line straight into the event log, bypassing
// the store. Tests use it to plant corrupt lines.
func (ts *TestStore) AppendRawLine(t *testing.T, line string) {
	t.Helper()
	path := filepath.Join(ts.Root, "events.jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("Failed to open log for raw append: %v", err)
	}
	defer f.Close()
	if _, err := f.Write([]byte(line + "\n")); err != nil {
		t.Fatalf("Failed to write raw line: %v", err)
	}
}

// NopLogger satisfies service.Logger without output.
type NopLogger struct{}

func (NopLogger) Infof(format string, args ...interface{})  {}
func (NopLogger) Errorf(format string, args ...interface{}) {}
