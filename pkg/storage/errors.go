package storage

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrClosed is returned for any operation on a closed store.
var ErrClosed = errors.New("store is closed")

// IOError reports that the underlying storage is unreachable or a write
// failed. IO errors are surfaced immediately and never retried automatically,
// since a blind retry of a write that may have landed would duplicate data.
type IOError struct {
	Op   string // Operation that failed, e.g. "append", "read"
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// ConcurrencyError reports that an append could not be serialized within the
// configured bound. The operation did not happen; callers may retry.
type ConcurrencyError struct {
	Op string
}

func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("storage %s: writer contention exceeded bound, retry", e.Op)
}
