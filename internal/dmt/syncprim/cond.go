package syncprim

import (
	"github.com/kolkov/dmt/internal/dmt/eventlog"
	"github.com/kolkov/dmt/internal/dmt/turn"
	"github.com/kolkov/dmt/internal/dmt/turnop"
)

// CondSet implements condition variables entirely on top of the Turn
// Queue's own wait/signal channels, never touching a real OS condition
// variable. Of several approaches considered for making
// pthread_cond_wait deterministic (see DESIGN.md), only reimplementing the
// primitive from scratch avoids races between the turn release and the
// real wait call, so that is the one kept here.
type CondSet struct {
	mutexes *MutexSet
}

// NewCondSet builds a CondSet that reacquires mutexes through mutexes,
// the same MutexSet a caller's mutex calls go through.
func NewCondSet(mutexes *MutexSet) *CondSet {
	return &CondSet{mutexes: mutexes}
}

// Wait releases muAddr, parks ltid on cvAddr until signalled, then
// reacquires muAddr before returning — the deterministic equivalent of
// pthread_cond_wait. It logs two half-events under one held turn: the
// release, and the eventual return with reacquired mutex, each stamped
// with its own turn number so both halves are independently orderable.
func (c *CondSet) Wait(q *turn.Queue, ltid turn.LTID, sink turnop.Sink, logSync bool, insID uint32, cvAddr, muAddr uintptr) {
	muState := c.mutexes.state(muAddr)

	q.GetTurn(ltid)

	muState.locked = false
	q.Signal(ltid, muAddr, false)
	turnop.DoFirstHalf(q, ltid, sink, logSync, turnop.Result{
		Op: eventlog.OpCondWait, InsID: insID, Args: [2]uint64{uint64(cvAddr), uint64(muAddr)},
	})

	q.Wait(ltid, cvAddr, 0)

	for muState.locked {
		q.Wait(ltid, muAddr, 0)
	}
	muState.locked = true

	turnNo := q.IncTurnCount(ltid)
	if logSync && sink != nil {
		_ = sink.Append(uint32(ltid), eventlog.Record{
			InsID: insID, Op: eventlog.OpCondWait, After: true, Turn: uint32(turnNo),
			Args: [2]uint64{uint64(cvAddr), uint64(muAddr)},
		})
	}
	q.PutTurn(ltid, false)
}

// TimedWait is Wait with a turn-count deadline on both the cv park and
// the mutex reacquisition, the deterministic analogue of
// pthread_cond_timedwait.
func (c *CondSet) TimedWait(q *turn.Queue, ltid turn.LTID, sink turnop.Sink, logSync bool, insID uint32, cvAddr, muAddr uintptr, turnsRelative uint64) (timedOut bool) {
	muState := c.mutexes.state(muAddr)

	q.GetTurn(ltid)

	muState.locked = false
	q.Signal(ltid, muAddr, false)
	deadline := q.GetTurnCount() + turnsRelative
	turnop.DoFirstHalf(q, ltid, sink, logSync, turnop.Result{
		Op: eventlog.OpCondTimedWait, InsID: insID, Args: [2]uint64{uint64(cvAddr), uint64(muAddr)},
	})

	if q.Wait(ltid, cvAddr, deadline) == turn.WaitTimedOut {
		timedOut = true
	} else {
		for muState.locked {
			q.Wait(ltid, muAddr, 0)
		}
	}
	if !timedOut {
		muState.locked = true
	}

	turnNo := q.IncTurnCount(ltid)
	if logSync && sink != nil {
		_ = sink.Append(uint32(ltid), eventlog.Record{
			InsID: insID, Op: eventlog.OpCondTimedWait, After: true, TimedOut: timedOut, Turn: uint32(turnNo),
			Args: [2]uint64{uint64(cvAddr), uint64(muAddr)},
		})
	}
	q.PutTurn(ltid, false)
	return timedOut
}

// Signal wakes one thread parked on cvAddr.
func (c *CondSet) Signal(q *turn.Queue, ltid turn.LTID, sink turnop.Sink, logSync bool, insID uint32, cvAddr uintptr) {
	turnop.Do(q, ltid, sink, logSync, false, func() (struct{}, turnop.Result) {
		q.Signal(ltid, cvAddr, false)
		return struct{}{}, turnop.Result{Op: eventlog.OpCondSignal, InsID: insID, Args: [2]uint64{uint64(cvAddr), 0}}
	})
}

// Broadcast wakes every thread parked on cvAddr.
func (c *CondSet) Broadcast(q *turn.Queue, ltid turn.LTID, sink turnop.Sink, logSync bool, insID uint32, cvAddr uintptr) {
	turnop.Do(q, ltid, sink, logSync, false, func() (struct{}, turnop.Result) {
		q.Signal(ltid, cvAddr, true)
		return struct{}{}, turnop.Result{Op: eventlog.OpCondBroadcast, InsID: insID, Args: [2]uint64{uint64(cvAddr), 0}}
	})
}
