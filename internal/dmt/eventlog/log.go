package eventlog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// TrunkSize is the maximum number of bytes written to one trunk file
// before rotating to the next.
const TrunkSize = 1024 * 1024 * 1024

// RunDir returns the directory a run's logs live under: outputDir/runID.
func RunDir(outputDir string, runID uuid.UUID) string {
	return filepath.Join(outputDir, runID.String())
}

// Writer appends Sync records for a single logical thread to a rotating
// sequence of trunk files under dir, named tid-<pid>-<ltid>.<trunk>.bin.
type Writer struct {
	mu         sync.Mutex
	dir        string
	pid        int
	ltid       uint32
	trunkIndex int
	written    int64
	file       *os.File
}

// NewWriter creates a Writer for ltid under dir and opens its first
// trunk file. dir is created if it does not exist.
func NewWriter(dir string, ltid uint32) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("eventlog: create dir %s: %w", dir, err)
	}
	w := &Writer{dir: dir, pid: os.Getpid(), ltid: ltid}
	if err := w.openTrunk(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Writer) trunkPath() string {
	return filepath.Join(w.dir, fmt.Sprintf("tid-%d-%d.%d.bin", w.pid, w.ltid, w.trunkIndex))
}

func (w *Writer) openTrunk() error {
	f, err := os.OpenFile(w.trunkPath(), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("eventlog: open trunk for ltid %d: %w", w.ltid, err)
	}
	w.file = f
	w.written = 0
	return nil
}

// Append writes one Sync record, rotating the trunk first if it would
// overflow TrunkSize.
func (w *Writer) Append(rec Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.written+RecordSize > TrunkSize {
		if err := w.file.Close(); err != nil {
			return fmt.Errorf("eventlog: close trunk for ltid %d: %w", w.ltid, err)
		}
		w.trunkIndex++
		if err := w.openTrunk(); err != nil {
			return err
		}
	}

	buf := rec.Marshal()
	n, err := w.file.Write(buf[:])
	if err != nil {
		return fmt.Errorf("eventlog: write record for ltid %d: %w", w.ltid, err)
	}
	w.written += int64(n)
	return nil
}

// Flush forces buffered data to stable storage. Callers invoke this on
// thread end and before a fork.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("eventlog: sync trunk for ltid %d: %w", w.ltid, err)
	}
	return nil
}

// Close flushes and closes the current trunk file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("eventlog: sync trunk for ltid %d: %w", w.ltid, err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("eventlog: close trunk for ltid %d: %w", w.ltid, err)
	}
	return nil
}

// Log owns one Writer per active logical thread and the run identifier
// that names their shared directory.
type Log struct {
	mu      sync.Mutex
	dir     string
	runID   uuid.UUID
	writers map[uint32]*Writer
}

// New creates a Log rooted at RunDir(outputDir, a freshly minted run id).
func New(outputDir string) (*Log, error) {
	runID := uuid.New()
	dir := RunDir(outputDir, runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("eventlog: create run dir %s: %w", dir, err)
	}
	return &Log{dir: dir, runID: runID, writers: make(map[uint32]*Writer)}, nil
}

// RunID returns the UUID minted for this Log's run.
func (l *Log) RunID() uuid.UUID { return l.runID }

// Dir returns the directory this Log's trunk files live under.
func (l *Log) Dir() string { return l.dir }

func (l *Log) writerFor(ltid uint32) (*Writer, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if w, ok := l.writers[ltid]; ok {
		return w, nil
	}
	w, err := NewWriter(l.dir, ltid)
	if err != nil {
		return nil, err
	}
	l.writers[ltid] = w
	return w, nil
}

// Append writes rec to ltid's trunk, lazily creating the writer.
func (l *Log) Append(ltid uint32, rec Record) error {
	w, err := l.writerFor(ltid)
	if err != nil {
		return err
	}
	return w.Append(rec)
}

// FlushThread flushes and releases ltid's writer, e.g. on thread end.
func (l *Log) FlushThread(ltid uint32) error {
	l.mu.Lock()
	w, ok := l.writers[ltid]
	if ok {
		delete(l.writers, ltid)
	}
	l.mu.Unlock()
	if !ok {
		return nil
	}
	return w.Close()
}

// FlushAll flushes every open writer, e.g. before a fork.
func (l *Log) FlushAll() error {
	l.mu.Lock()
	writers := make([]*Writer, 0, len(l.writers))
	for _, w := range l.writers {
		writers = append(writers, w)
	}
	l.mu.Unlock()

	for _, w := range writers {
		if err := w.Flush(); err != nil {
			return err
		}
	}
	return nil
}
