package syncprim

import (
	"fmt"

	"github.com/kolkov/dmt/internal/dmt/eventlog"
	"github.com/kolkov/dmt/internal/dmt/turn"
	"github.com/kolkov/dmt/internal/dmt/turnop"
)

// SerialThread is returned by Wait to the single arriver that completed
// the barrier, the deterministic analogue of PTHREAD_BARRIER_SERIAL_THREAD.
const SerialThread = true

type barrierState struct {
	count    int
	narrived int
}

// BarrierSet tracks deterministic barrier state per address.
type BarrierSet struct {
	shadow shadow[barrierState]
}

// Init records count for addr. Must be called before the first Wait.
func (b *BarrierSet) Init(q *turn.Queue, ltid turn.LTID, sink turnop.Sink, logSync bool, insID uint32, addr uintptr, count int) {
	st := b.shadow.getOrCreate(addr, func() *barrierState { return &barrierState{} })
	st.count = count
	st.narrived = 0
	turnop.LogOnly(q, ltid, sink, logSync, turnop.Result{Op: eventlog.OpBarrierInit, InsID: insID, Args: [2]uint64{uint64(addr), uint64(count)}})
}

// Destroy forgets addr's state. Neither this package nor the dmt hook
// layer checks whether a thread is still parked in Wait on addr.
func (b *BarrierSet) Destroy(q *turn.Queue, ltid turn.LTID, sink turnop.Sink, logSync bool, insID uint32, addr uintptr) {
	b.shadow.delete(addr)
	turnop.LogOnly(q, ltid, sink, logSync, turnop.Result{Op: eventlog.OpBarrierDestroy, InsID: insID, Args: [2]uint64{uint64(addr), 0}})
}

// Wait blocks until count threads have called Wait on addr, then releases
// them all. It reports true to exactly one caller per round (the "serial
// thread"), matching pthread_barrier_wait's contract.
//
// The last arriver signals the others and then performs an extra
// PutTurn/GetTurn pair purely to obtain a second, later turn number for
// its own return event — it already stamped the signal event with the
// first one. The signal must happen while still holding the turn that
// other waiters are going to resume on, but the returning event needs a
// turn strictly after that.
func (b *BarrierSet) Wait(q *turn.Queue, ltid turn.LTID, sink turnop.Sink, logSync bool, insID uint32, addr uintptr) (isSerial bool) {
	st, ok := b.shadow.vars.Load(addr)
	if !ok {
		panic(fmt.Sprintf("syncprim: barrier %v used before Init", addr))
	}
	bst := st.(*barrierState)

	q.GetTurn(ltid)
	bst.narrived++

	if bst.narrived == bst.count {
		bst.narrived = 0
		q.Signal(ltid, addr, true)
		turnop.DoFirstHalf(q, ltid, sink, logSync, turnop.Result{
			Op: eventlog.OpBarrierWait, InsID: insID, Args: [2]uint64{uint64(addr), 1},
		})
		q.PutTurn(ltid, false)

		q.GetTurn(ltid)
		turnNo := q.IncTurnCount(ltid)
		if logSync && sink != nil {
			_ = sink.Append(uint32(ltid), eventlog.Record{
				InsID: insID, Op: eventlog.OpBarrierWait, After: true, Turn: uint32(turnNo),
				Args: [2]uint64{uint64(addr), 1},
			})
		}
		q.PutTurn(ltid, false)
		return true
	}

	turnop.DoFirstHalf(q, ltid, sink, logSync, turnop.Result{
		Op: eventlog.OpBarrierWait, InsID: insID, Args: [2]uint64{uint64(addr), 0},
	})
	q.Wait(ltid, addr, 0)

	turnNo := q.IncTurnCount(ltid)
	if logSync && sink != nil {
		_ = sink.Append(uint32(ltid), eventlog.Record{
			InsID: insID, Op: eventlog.OpBarrierWait, After: true, Turn: uint32(turnNo),
			Args: [2]uint64{uint64(addr), 0},
		})
	}
	q.PutTurn(ltid, false)
	return false
}
