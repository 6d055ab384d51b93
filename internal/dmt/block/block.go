// Package block implements the Block/Wakeup Domain: the escape hatch
// deterministic threads use around operations that must wait on a real
// external party (a socket peer, a pipe writer, another process) rather
// than on anything the Turn Queue controls.
//
// A thread calling Around detaches from the run queue, so the rest of
// the deterministic world can keep making progress, runs the real
// blocking call outside turn discipline entirely, then re-splices itself
// onto the run queue tail once the call returns: block()/wakeup()
// bracket the real syscall rather than trying to make the syscall itself
// deterministic.
package block

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/kolkov/dmt/internal/dmt/eventlog"
	"github.com/kolkov/dmt/internal/dmt/turn"
	"github.com/kolkov/dmt/internal/dmt/turnop"
)

// Kind classifies a file descriptor for the purpose of deciding whether
// an operation on it needs to go through the Block/Wakeup Domain.
type Kind int

const (
	// KindRegular covers ordinary files and anything fstat can't
	// identify as a socket or pipe; these never block indefinitely on
	// another party, so I/O on them bypasses the domain entirely.
	KindRegular Kind = iota
	// KindSocket covers AF_* sockets.
	KindSocket
	// KindFIFO covers pipes and named FIFOs.
	KindFIFO
)

// ClassifyFD inspects fd via fstat, the same check the reference runtime
// performs before deciding whether a read/write/accept/connect call needs
// Block/Wakeup bracketing (see the RRIgnoreRWRegularFile config option).
func ClassifyFD(fd int) (Kind, error) {
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return KindRegular, err
	}
	switch st.Mode & unix.S_IFMT {
	case unix.S_IFSOCK:
		return KindSocket, nil
	case unix.S_IFIFO:
		return KindFIFO, nil
	default:
		return KindRegular, nil
	}
}

// ClassifyFile is ClassifyFD for an *os.File.
func ClassifyFile(f *os.File) (Kind, error) {
	return ClassifyFD(int(f.Fd()))
}

// NeedsBracketing reports whether fd's kind requires Block/Wakeup
// bracketing around blocking operations on it.
func NeedsBracketing(k Kind) bool {
	return k == KindSocket || k == KindFIFO
}

// Around runs fn (a real, possibly-blocking call) outside turn
// discipline: ltid is detached from the run queue before fn starts and
// re-spliced onto the run queue tail after fn returns, regardless of
// fn's outcome. Once ltid re-acquires the turn, the completion event is
// logged with the turn number obtained after wakeup (SPEC_FULL §4.4 step
// 3), then the turn is released.
func Around[T any](q *turn.Queue, ltid turn.LTID, sink turnop.Sink, logSync bool, insID uint32, fn func() T) T {
	q.Block(ltid)
	result := fn()
	q.Wakeup(ltid)
	q.GetTurn(ltid)
	turnNo := q.IncTurnCount(ltid)
	if logSync && sink != nil {
		_ = sink.Append(uint32(ltid), eventlog.Record{
			InsID: insID, Op: eventlog.OpBlockIO, After: true, Turn: uint32(turnNo),
		})
	}
	q.PutTurn(ltid, false)
	return result
}
