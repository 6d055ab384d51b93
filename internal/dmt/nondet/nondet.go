// Package nondet implements the Non-Det Region Domain: the protocol that
// quiesces every deterministic thread so an application-marked region
// may run freely, outside Turn Queue discipline, without racing with
// deterministic turn-takers.
//
// Entry parks the caller on a dedicated channel that is only ever
// signalled once the Turn Queue reports the run queue empty (every other
// thread is itself waiting, detached, or already non-det), maximizing
// the window external code gets to run concurrently. All of this state
// lives in one owned Domain value rather than package-level globals.
package nondet

import (
	"sync"

	"github.com/kolkov/dmt/internal/dmt/eventlog"
	"github.com/kolkov/dmt/internal/dmt/turn"
	"github.com/kolkov/dmt/internal/dmt/turnop"
)

// channel is the fake, reserved channel address threads waiting to enter
// a non-det region park on. It is chosen to be disjoint from both
// ordinary user-supplied sync-object addresses and turn.Queue's own
// join-channel range.
const channel uintptr = ^uintptr(0)

// Domain owns every piece of Non-Det Region Domain state: the count of
// threads waiting to enter, the set of threads currently inside a
// region, and the (currently no-op, see Tracker's doc comment) sync-object
// tracker.
type Domain struct {
	mu       sync.Mutex
	q        *turn.Queue
	waiting  int
	inNonDet map[turn.LTID]bool
	tracker  Tracker
}

// New creates an empty Non-Det Region Domain. Register it as a
// turn.Listener via (*turn.Queue).AddListener so it is told when the
// deterministic side quiesces.
func New() *Domain {
	return &Domain{inNonDet: make(map[turn.LTID]bool)}
}

// OnScheduled, OnBlocked and OnWakeup are no-ops: the Non-Det Region
// Domain only ever acts on quiescence, but it must implement the full
// turn.Listener interface to register itself via AddListener.
func (d *Domain) OnScheduled(turn.LTID, uint64) {}
func (d *Domain) OnBlocked(turn.LTID)           {}
func (d *Domain) OnWakeup(turn.LTID)            {}

// OnQuiesced implements turn.Listener. It admits every thread currently
// waiting to enter a non-det region: the signal is delivered only when
// the run queue is empty.
func (d *Domain) OnQuiesced() {
	d.mu.Lock()
	waiting := d.waiting
	d.mu.Unlock()
	if waiting == 0 {
		return
	}
	d.q.SignalQuiescent(channel)
}

// Attach binds the Turn Queue this Domain quiesces against and registers
// it as a listener. Must be called once, before any Enter/Exit call.
func (d *Domain) Attach(q *turn.Queue) {
	d.q = q
	q.AddListener(d)
}

// Enter runs the non_det_start protocol: announce intent to enter, park
// until the deterministic side quiesces,
// then detach from the run queue entirely. The calling goroutine must
// not call any other Turn Queue operation while IsInNonDet(ltid) is
// true; every sync wrapper's hook-layer caller is responsible for
// short-circuiting to the real primitive in that window instead.
func (d *Domain) Enter(q *turn.Queue, ltid turn.LTID, sink turnop.Sink, logSync bool, insID uint32) {
	q.GetTurn(ltid)

	d.mu.Lock()
	d.waiting++
	d.mu.Unlock()

	turnop.DoFirstHalf(q, ltid, sink, logSync, turnop.Result{
		Op: eventlog.OpNonDetStart, InsID: insID,
	})

	q.Wait(ltid, channel, 0)

	d.mu.Lock()
	d.waiting--
	d.mu.Unlock()

	turnNo := q.IncTurnCount(ltid)
	if logSync && sink != nil {
		_ = sink.Append(uint32(ltid), eventlog.Record{
			InsID: insID, Op: eventlog.OpNonDetStart, After: true, Turn: uint32(turnNo),
		})
	}
	q.Block(ltid)

	d.mu.Lock()
	d.inNonDet[ltid] = true
	d.mu.Unlock()
}

// Exit runs non_det_end: clears the in-non-det flag and rejoins the run
// queue, logging the completion event once turn discipline resumes.
func (d *Domain) Exit(q *turn.Queue, ltid turn.LTID, sink turnop.Sink, logSync bool, insID uint32) {
	d.mu.Lock()
	delete(d.inNonDet, ltid)
	d.mu.Unlock()

	q.Wakeup(ltid)
	turnop.Do(q, ltid, sink, logSync, false, func() (struct{}, turnop.Result) {
		return struct{}{}, turnop.Result{Op: eventlog.OpNonDetEnd, InsID: insID}
	})
}

// BarrierEnd implements tern_non_det_barrier_end(barID, cnt): a
// passthrough accounting event logged from inside a non-det region
// (hence no turn is taken), naming how many threads reached a barrier
// the application itself manages while non-deterministic.
func (d *Domain) BarrierEnd(sink turnop.Sink, logSync bool, insID uint32, ltid turn.LTID, barID uintptr, cnt int) {
	if !logSync || sink == nil {
		return
	}
	_ = sink.Append(uint32(ltid), eventlog.Record{
		InsID: insID, Op: eventlog.OpNonDetBarrierEnd,
		Args: [2]uint64{uint64(barID), uint64(cnt)},
	})
}

// IsInNonDet reports whether ltid is currently inside a non-det region.
// Every sync-primitive hook consults this before deciding whether to go
// through the Turn Queue at all: inside a non-det region every wrapper
// short-circuits to the real primitive.
func (d *Domain) IsInNonDet(ltid turn.LTID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inNonDet[ltid]
}

// Snapshot returns the LTIDs currently parked inside a non-det region,
// for the Explorer Gateway's quiescence frames.
func (d *Domain) Snapshot() []turn.LTID {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]turn.LTID, 0, len(d.inNonDet))
	for ltid := range d.inNonDet {
		out = append(out, ltid)
	}
	return out
}

// Tracker returns the domain's (no-op) sync-var tracker.
func (d *Domain) Tracker() *Tracker { return &d.tracker }
