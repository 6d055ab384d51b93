// Package turnop factors the repetitive get-turn/act/log/put-turn
// template that every synchronization wrapper in this runtime follows
// into a single generic combinator, one reusable function instead of
// copy-pasting the sequence into every wrapper.
package turnop

import (
	"github.com/kolkov/dmt/internal/dmt/eventlog"
	"github.com/kolkov/dmt/internal/dmt/turn"
)

// Sink receives one Sync record per half-event a wrapper logs. It is
// satisfied by *eventlog.Log; tests may substitute a recording fake.
type Sink interface {
	Append(ltid uint32, rec eventlog.Record) error
}

// Result is what a wrapped operation hands back to Do for logging.
type Result struct {
	Op       eventlog.Op
	InsID    uint32
	TimedOut bool
	Args     [eventlog.MaxInlineArgs]uint64
}

// Do runs fn while ltid holds the turn, logs the resulting Sync record
// (if sink and logSync are non-nil/true) with the turn number at which
// fn completed, then releases the turn. endOfThread, when true, moves
// ltid to the zombie set instead of the run queue tail.
func Do[T any](q *turn.Queue, ltid turn.LTID, sink Sink, logSync bool, endOfThread bool, fn func() (T, Result)) T {
	q.GetTurn(ltid)
	value, res := fn()
	turnNo := q.IncTurnCount(ltid)
	if logSync && sink != nil {
		_ = sink.Append(uint32(ltid), eventlog.Record{
			InsID:    res.InsID,
			Op:       res.Op,
			After:    true,
			TimedOut: res.TimedOut,
			Turn:     uint32(turnNo),
			Args:     res.Args,
		})
	}
	q.PutTurn(ltid, endOfThread)
	return value
}

// LogOnly performs a turn cycle purely to stamp a lifecycle log record
// (init/destroy calls) with no other state effect on the Turn Queue.
func LogOnly(q *turn.Queue, ltid turn.LTID, sink Sink, logSync bool, res Result) {
	Do(q, ltid, sink, logSync, false, func() (struct{}, Result) { return struct{}{}, res })
}

// DoFirstHalf logs a "before" half-event mid-critical-section (used by
// cond_wait and barrier_wait, which must stamp two distinct turn numbers:
// one for the release/signal they perform and one for their eventual
// return) without releasing the turn.
func DoFirstHalf(q *turn.Queue, ltid turn.LTID, sink Sink, logSync bool, res Result) {
	turnNo := q.IncTurnCount(ltid)
	if logSync && sink != nil {
		_ = sink.Append(uint32(ltid), eventlog.Record{
			InsID:    res.InsID,
			Op:       res.Op,
			After:    false,
			TimedOut: res.TimedOut,
			Turn:     uint32(turnNo),
			Args:     res.Args,
		})
	}
}
