package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/yang-jaeyoung/flowledger/pkg/models"
	"github.com/yang-jaeyoung/flowledger/pkg/storage"
)

const (
	logFileName      = "events.jsonl"
	snapshotFileName = "snapshot.json"

	// requestQueueSize bounds how many appends may be waiting on the writer
	// before enqueueing starts to block against the append timeout.
	requestQueueSize = 64

	// maxLineSize is the scanner buffer ceiling for a single log line.
	maxLineSize = 1 << 20
)

// Options configure a FileStore.
type Options struct {
	// AppendTimeout bounds the total time one Append may spend waiting on the
	// writer, enqueue plus disk write. Zero means 5s.
	AppendTimeout time.Duration
	// Fsync forces a sync after every append. Slower, survives power loss.
	Fsync bool
}

func (o Options) withDefaults() Options {
	if o.AppendTimeout <= 0 {
		o.AppendTimeout = 5 * time.Second
	}
	return o
}

var _ storage.Store = (*FileStore)(nil)

// FileStore persists events as newline-delimited JSON in a single events.jsonl
// file per store root. All writes flow through one writer goroutine that owns
// the open O_APPEND handle, so two concurrent appends can never interleave
// into a corrupted line. Reads open the file independently and never block on
// the writer: they observe either the pre- or post-append log, never a partial
// line.
type FileStore struct {
	root    string
	logPath string
	opts    Options

	reqs    chan request
	quit    chan struct{}
	done    chan struct{} // closed when the writer goroutine has exited
	lastSeq atomic.Uint64

	closeOnce sync.Once
}

type request struct {
	ev      *models.Event           // append request
	rewrite func(models.Event) bool // rewrite request
	reply   chan result
}

type result struct {
	seq uint64
	err error
}

// NewFileStore opens (or creates) the event log under root and recovers the
// last sequence number by scanning the existing log once. Corrupt lines are
// skipped during recovery the same way reads skip them.
func NewFileStore(root string, opts Options) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, &storage.IOError{Op: "open", Path: root, Err: err}
	}
	s := &FileStore{
		root:    root,
		logPath: filepath.Join(root, logFileName),
		opts:    opts.withDefaults(),
		reqs:    make(chan request, requestQueueSize),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	f, err := s.openAppend()
	if err != nil {
		return nil, err
	}
	events, _, err := s.readEvents(0)
	if err != nil {
		f.Close()
		return nil, err
	}
	if n := len(events); n > 0 {
		s.lastSeq.Store(events[n-1].Seq)
	}
	go s.run(f)
	return s, nil
}

func (s *FileStore) openAppend() (*os.File, error) {
	f, err := os.OpenFile(s.logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, &storage.IOError{Op: "open", Path: s.logPath, Err: err}
	}
	return f, nil
}

// run is the writer actor. It owns f exclusively for the lifetime of the store.
func (s *FileStore) run(f *os.File) {
	defer close(s.done)
	defer f.Close()
	for {
		select {
		case <-s.quit:
			return
		case req := <-s.reqs:
			switch {
			case req.ev != nil:
				seq, err := s.writeEvent(f, req.ev)
				req.reply <- result{seq: seq, err: err}
			case req.rewrite != nil:
				nf, err := s.doRewrite(f, req.rewrite)
				if nf != nil {
					f = nf
				}
				req.reply <- result{err: err}
			}
		}
	}
}

// writeEvent assigns the next sequence, marshals once and performs exactly one
// Write of line+'\n'. A failed write does not advance the sequence.
func (s *FileStore) writeEvent(f *os.File, ev *models.Event) (uint64, error) {
	seq := s.lastSeq.Load() + 1
	ev.Seq = seq
	line, err := json.Marshal(ev)
	if err != nil {
		return 0, errors.Wrap(err, "marshal event")
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return 0, &storage.IOError{Op: "append", Path: s.logPath, Err: err}
	}
	if s.opts.Fsync {
		if err := f.Sync(); err != nil {
			return 0, &storage.IOError{Op: "sync", Path: s.logPath, Err: err}
		}
	}
	s.lastSeq.Store(seq)
	return seq, nil
}

// Append persists one event and returns its assigned sequence. If the writer
// queue cannot accept the request within the append timeout the caller gets a
// ConcurrencyError and may retry; if the disk write itself does not complete
// within the remaining time it surfaces as an IOError instead of hanging.
func (s *FileStore) Append(ev models.Event) (uint64, error) {
	req := request{ev: &ev, reply: make(chan result, 1)}
	timer := time.NewTimer(s.opts.AppendTimeout)
	defer timer.Stop()
	select {
	case s.reqs <- req:
	case <-s.done:
		return 0, storage.ErrClosed
	case <-timer.C:
		return 0, &storage.ConcurrencyError{Op: "append"}
	}
	select {
	case res := <-req.reply:
		return res.seq, res.err
	case <-s.done:
		return 0, storage.ErrClosed
	case <-timer.C:
		return 0, &storage.IOError{Op: "append", Path: s.logPath, Err: errors.New("write timed out")}
	}
}

// ReadAll parses the log line by line. A line that fails to parse is recorded
// as a corruption report and excluded from the returned sequence; well-formed
// lines before and after it are still used.
func (s *FileStore) ReadAll() ([]models.Event, []storage.CorruptionReport, error) {
	return s.readEvents(0)
}

// ReadSince returns the events with sequence strictly greater than afterSeq.
func (s *FileStore) ReadSince(afterSeq uint64) ([]models.Event, []storage.CorruptionReport, error) {
	return s.readEvents(afterSeq)
}

func (s *FileStore) readEvents(afterSeq uint64) ([]models.Event, []storage.CorruptionReport, error) {
	f, err := os.Open(s.logPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, &storage.IOError{Op: "read", Path: s.logPath, Err: err}
	}
	defer f.Close()

	var (
		events  []models.Event
		reports []storage.CorruptionReport
	)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev models.Event
		if err := json.Unmarshal(line, &ev); err != nil {
			reports = append(reports, storage.CorruptionReport{
				Line: lineNo,
				Raw:  string(line),
				Err:  err.Error(),
			})
			continue
		}
		if ev.Type == "" {
			reports = append(reports, storage.CorruptionReport{
				Line: lineNo,
				Raw:  string(line),
				Err:  "missing event type",
			})
			continue
		}
		if ev.Seq > afterSeq {
			events = append(events, ev)
		}
	}
	if err := scanner.Err(); err != nil {
		return events, reports, &storage.IOError{Op: "read", Path: s.logPath, Err: err}
	}
	return events, reports, nil
}

// LastSeq returns the highest sequence number appended so far.
func (s *FileStore) LastSeq() uint64 {
	return s.lastSeq.Load()
}

// Rewrite replaces the log with only the events keep returns true for. The
// rewrite runs on the writer goroutine, so it serializes against concurrent
// appends; corrupt lines do not survive a rewrite. A rewrite that does not
// finish within ten append timeouts surfaces as an IOError rather than
// hanging the caller; the wider bound accounts for rewrite time scaling with
// log size.
func (s *FileStore) Rewrite(keep func(models.Event) bool) error {
	if keep == nil {
		return errors.New("nil keep predicate")
	}
	req := request{rewrite: keep, reply: make(chan result, 1)}
	timer := time.NewTimer(s.opts.AppendTimeout)
	defer timer.Stop()
	select {
	case s.reqs <- req:
	case <-s.done:
		return storage.ErrClosed
	case <-timer.C:
		return &storage.ConcurrencyError{Op: "rewrite"}
	}
	wait := time.NewTimer(10 * s.opts.AppendTimeout)
	defer wait.Stop()
	select {
	case res := <-req.reply:
		return res.err
	case <-s.done:
		return storage.ErrClosed
	case <-wait.C:
		return &storage.IOError{Op: "rewrite", Path: s.logPath, Err: errors.New("rewrite timed out")}
	}
}

// doRewrite writes the filtered log to a temp file, keeps a .bak copy of the
// prior log and renames the temp file over the original. It returns the
// reopened append handle for the writer to continue with.
func (s *FileStore) doRewrite(f *os.File, keep func(models.Event) bool) (*os.File, error) {
	events, _, err := s.readEvents(0)
	if err != nil {
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, &storage.IOError{Op: "rewrite", Path: s.logPath, Err: err}
	}

	tmpPath := s.logPath + ".tmp"
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		nf, _ := s.openAppend()
		return nf, &storage.IOError{Op: "rewrite", Path: tmpPath, Err: err}
	}
	var lastKept uint64
	w := bufio.NewWriter(tmp)
	for _, ev := range events {
		if !keep(ev) {
			continue
		}
		line, err := json.Marshal(ev)
		if err != nil {
			tmp.Close()
			nf, _ := s.openAppend()
			return nf, errors.Wrap(err, "marshal event")
		}
		w.Write(line)
		w.WriteByte('\n')
		lastKept = ev.Seq
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		nf, _ := s.openAppend()
		return nf, &storage.IOError{Op: "rewrite", Path: tmpPath, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		nf, _ := s.openAppend()
		return nf, &storage.IOError{Op: "rewrite", Path: tmpPath, Err: err}
	}
	if err := tmp.Close(); err != nil {
		nf, _ := s.openAppend()
		return nf, &storage.IOError{Op: "rewrite", Path: tmpPath, Err: err}
	}

	if prior, err := os.ReadFile(s.logPath); err == nil {
		// Best effort backup of the pre-rewrite log.
		_ = os.WriteFile(s.logPath+".bak", prior, 0o644)
	}
	if err := os.Rename(tmpPath, s.logPath); err != nil {
		nf, _ := s.openAppend()
		return nf, &storage.IOError{Op: "rewrite", Path: s.logPath, Err: err}
	}
	s.lastSeq.Store(lastKept)

	nf, err := s.openAppend()
	if err != nil {
		return nil, err
	}
	return nf, nil
}

// Close shuts down the writer goroutine. In-flight appends racing Close get
// ErrClosed; the log file itself is left intact.
func (s *FileStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.quit)
		<-s.done
	})
	return nil
}

// Root returns the directory this store persists under.
func (s *FileStore) Root() string {
	return s.root
}

func (s *FileStore) String() string {
	return fmt.Sprintf("filestore(%s)", s.root)
}
