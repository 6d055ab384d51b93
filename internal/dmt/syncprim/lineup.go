package syncprim

import (
	"fmt"

	"github.com/kolkov/dmt/internal/dmt/eventlog"
	"github.com/kolkov/dmt/internal/dmt/turn"
	"github.com/kolkov/dmt/internal/dmt/turnop"
)

// lineupState is a reusable, ref-counted barrier: unlike BarrierSet, a
// round that fails to assemble within its logical-time budget does not
// deadlock the stragglers — whichever thread's wait expires releases
// everyone else still parked in that round instead of leaving them stuck
// on a round that will never complete.
//
// nactive/leaving track the Arriving/Leaving phase: once a round
// assembles, its cohort moves into the Leaving phase as
// nactive active participants; each End call drains one, and the last
// one flips the phase back to Arriving for whoever starts the next round.
type lineupState struct {
	count    int
	arrived  int
	deadline uint64
	armed    bool
	nactive  int
	leaving  bool
}

// LineupSet tracks deterministic lineup state per address.
type LineupSet struct {
	shadow shadow[lineupState]
}

// Init records the number of participants addr expects per round and its
// default timeout, matching tern_lineup_init's (type, count, timeout) signature.
func (l *LineupSet) Init(q *turn.Queue, ltid turn.LTID, sink turnop.Sink, logSync bool, insID uint32, addr uintptr, count int) {
	st := l.shadow.getOrCreate(addr, func() *lineupState { return &lineupState{} })
	st.count = count
	st.arrived = 0
	st.armed = false
	st.nactive = 0
	st.leaving = false
	turnop.LogOnly(q, ltid, sink, logSync, turnop.Result{Op: eventlog.OpLineupInit, InsID: insID, Args: [2]uint64{uint64(addr), uint64(count)}})
}

// Destroy forgets addr's state.
func (l *LineupSet) Destroy(q *turn.Queue, ltid turn.LTID, sink turnop.Sink, logSync bool, insID uint32, addr uintptr) {
	l.shadow.delete(addr)
	turnop.LogOnly(q, ltid, sink, logSync, turnop.Result{Op: eventlog.OpLineupDestroy, InsID: insID, Args: [2]uint64{uint64(addr), 0}})
}

func (l *LineupSet) load(addr uintptr) *lineupState {
	v, ok := l.shadow.vars.Load(addr)
	if !ok {
		panic(fmt.Sprintf("syncprim: lineup %v used before Init", addr))
	}
	return v.(*lineupState)
}

// arrive is the Arriving-phase rendezvous shared by Start and Rendezvous:
// the first arriver of a round arms the round's deadline, timeoutTurns
// turns out from the current turn count. If every participant arrives
// before the deadline, all are released together as one active cohort
// (nactive=count, phase flips to Leaving). If the deadline passes first,
// the expiring thread itself disarms the round and releases whoever else
// is parked in it, reporting timedOut=true to every participant of that
// round including itself; no cohort is considered to have entered the
// Leaving phase in that case.
func (l *LineupSet) arrive(q *turn.Queue, ltid turn.LTID, sink turnop.Sink, logSync bool, op eventlog.Op, insID uint32, addr uintptr, timeoutTurns uint64) (timedOut bool) {
	st := l.load(addr)

	q.GetTurn(ltid)

	if !st.armed {
		st.armed = true
		st.deadline = q.GetTurnCount() + timeoutTurns
	}
	st.arrived++
	deadline := st.deadline

	if st.arrived == st.count {
		st.arrived = 0
		st.armed = false
		st.nactive = st.count
		st.leaving = true
		q.Signal(ltid, addr, true)
		turnNo := q.IncTurnCount(ltid)
		if logSync && sink != nil {
			_ = sink.Append(uint32(ltid), eventlog.Record{
				InsID: insID, Op: op, After: true, Turn: uint32(turnNo),
				Args: [2]uint64{uint64(addr), 1},
			})
		}
		q.PutTurn(ltid, false)
		return false
	}

	turnop.DoFirstHalf(q, ltid, sink, logSync, turnop.Result{
		Op: op, InsID: insID, Args: [2]uint64{uint64(addr), 0},
	})
	result := q.Wait(ltid, addr, deadline)
	// q.Wait returns with ltid already holding the turn again.

	if result == turn.WaitTimedOut {
		if st.armed && st.deadline == deadline {
			st.arrived = 0
			st.armed = false
			q.Signal(ltid, addr, true)
		}
		timedOut = true
	}

	turnNo := q.IncTurnCount(ltid)
	if logSync && sink != nil {
		_ = sink.Append(uint32(ltid), eventlog.Record{
			InsID: insID, Op: op, After: true, TimedOut: timedOut, Turn: uint32(turnNo),
			Args: [2]uint64{uint64(addr), 0},
		})
	}
	q.PutTurn(ltid, false)
	return timedOut
}

// Start is lineup_start: joins the Arriving-phase rendezvous for addr.
// On successful assembly the caller becomes one of nactive active
// participants in the round's Leaving phase, expected to eventually
// call End.
func (l *LineupSet) Start(q *turn.Queue, ltid turn.LTID, sink turnop.Sink, logSync bool, insID uint32, addr uintptr, timeoutTurns uint64) (timedOut bool) {
	return l.arrive(q, ltid, sink, logSync, eventlog.OpLineupStart, insID, addr, timeoutTurns)
}

// End is lineup_end: the caller leaves the active Leaving-phase window it
// entered via Start. Once the last active participant leaves, the phase
// flips back to Arriving.
func (l *LineupSet) End(q *turn.Queue, ltid turn.LTID, sink turnop.Sink, logSync bool, insID uint32, addr uintptr) {
	st := l.load(addr)
	turnop.Do(q, ltid, sink, logSync, false, func() (struct{}, turnop.Result) {
		if st.nactive > 0 {
			st.nactive--
		}
		flipped := st.nactive == 0 && st.leaving
		if flipped {
			st.leaving = false
		}
		arg := uint64(0)
		if flipped {
			arg = 1
		}
		return struct{}{}, turnop.Result{Op: eventlog.OpLineupEnd, InsID: insID, Args: [2]uint64{uint64(addr), arg}}
	})
}

// Rendezvous is the single-call Lineup(type, count, timeout) hook: joins
// the Arriving-phase gather point and immediately leaves the active
// window again, for callers that only need the gather point itself
// rather than an extended ref-counted active region bracketed by
// Start/End.
func (l *LineupSet) Rendezvous(q *turn.Queue, ltid turn.LTID, sink turnop.Sink, logSync bool, insID uint32, addr uintptr, timeoutTurns uint64) (timedOut bool) {
	timedOut = l.arrive(q, ltid, sink, logSync, eventlog.OpLineupStart, insID, addr, timeoutTurns)
	if !timedOut {
		l.End(q, ltid, sink, logSync, insID, addr)
	}
	return timedOut
}
