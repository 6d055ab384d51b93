package syncprim

import (
	"github.com/kolkov/dmt/internal/dmt/eventlog"
	"github.com/kolkov/dmt/internal/dmt/turn"
	"github.com/kolkov/dmt/internal/dmt/turnop"
)

// rwlockState tracks occupancy as a single exclusive slot: both RLock and
// Lock funnel through the same acquire path, so readers never actually
// share the lock. DESIGN.md records this as a deliberate kept
// simplification, not an oversight.
type rwlockState struct {
	held bool
}

// RWLockSet tracks deterministic rwlock state per address.
type RWLockSet struct {
	shadow shadow[rwlockState]
}

func (r *RWLockSet) state(addr uintptr) *rwlockState {
	return r.shadow.getOrCreate(addr, func() *rwlockState { return &rwlockState{} })
}

// Init records addr as a fresh, unheld rwlock.
func (r *RWLockSet) Init(q *turn.Queue, ltid turn.LTID, sink turnop.Sink, logSync bool, insID uint32, addr uintptr) {
	r.shadow.getOrCreate(addr, func() *rwlockState { return &rwlockState{} })
	turnop.LogOnly(q, ltid, sink, logSync, turnop.Result{Op: eventlog.OpRWLockInit, InsID: insID, Args: [2]uint64{uint64(addr), 0}})
}

// Destroy forgets addr's state.
func (r *RWLockSet) Destroy(q *turn.Queue, ltid turn.LTID, sink turnop.Sink, logSync bool, insID uint32, addr uintptr) {
	r.shadow.delete(addr)
	turnop.LogOnly(q, ltid, sink, logSync, turnop.Result{Op: eventlog.OpRWLockDestroy, InsID: insID, Args: [2]uint64{uint64(addr), 0}})
}

func (r *RWLockSet) acquire(q *turn.Queue, ltid turn.LTID, sink turnop.Sink, logSync bool, op eventlog.Op, insID uint32, addr uintptr) {
	st := r.state(addr)
	turnop.Do(q, ltid, sink, logSync, false, func() (struct{}, turnop.Result) {
		for st.held {
			q.Wait(ltid, addr, 0)
		}
		st.held = true
		return struct{}{}, turnop.Result{Op: op, InsID: insID, Args: [2]uint64{uint64(addr), 0}}
	})
}

func (r *RWLockSet) tryAcquire(q *turn.Queue, ltid turn.LTID, sink turnop.Sink, logSync bool, op eventlog.Op, insID uint32, addr uintptr) bool {
	st := r.state(addr)
	return turnop.Do(q, ltid, sink, logSync, false, func() (bool, turnop.Result) {
		if st.held {
			return false, turnop.Result{Op: op, InsID: insID, Args: [2]uint64{uint64(addr), 1}}
		}
		st.held = true
		return true, turnop.Result{Op: op, InsID: insID, Args: [2]uint64{uint64(addr), 0}}
	})
}

// RLock acquires addr for reading. It is implemented identically to
// Lock (see rwlockState's doc comment).
func (r *RWLockSet) RLock(q *turn.Queue, ltid turn.LTID, sink turnop.Sink, logSync bool, insID uint32, addr uintptr) {
	r.acquire(q, ltid, sink, logSync, eventlog.OpRWLockRdLock, insID, addr)
}

// Lock acquires addr for writing.
func (r *RWLockSet) Lock(q *turn.Queue, ltid turn.LTID, sink turnop.Sink, logSync bool, insID uint32, addr uintptr) {
	r.acquire(q, ltid, sink, logSync, eventlog.OpRWLockWrLock, insID, addr)
}

// TryRLock attempts addr for reading without blocking.
func (r *RWLockSet) TryRLock(q *turn.Queue, ltid turn.LTID, sink turnop.Sink, logSync bool, insID uint32, addr uintptr) bool {
	return r.tryAcquire(q, ltid, sink, logSync, eventlog.OpRWLockTryRdLock, insID, addr)
}

// TryLock attempts addr for writing without blocking.
func (r *RWLockSet) TryLock(q *turn.Queue, ltid turn.LTID, sink turnop.Sink, logSync bool, insID uint32, addr uintptr) bool {
	return r.tryAcquire(q, ltid, sink, logSync, eventlog.OpRWLockTryWrLock, insID, addr)
}

// Unlock releases addr, whichever mode it was held in, and wakes one waiter.
func (r *RWLockSet) Unlock(q *turn.Queue, ltid turn.LTID, sink turnop.Sink, logSync bool, insID uint32, addr uintptr) {
	st := r.state(addr)
	turnop.Do(q, ltid, sink, logSync, false, func() (struct{}, turnop.Result) {
		st.held = false
		q.Signal(ltid, addr, false)
		return struct{}{}, turnop.Result{Op: eventlog.OpRWLockUnlock, InsID: insID, Args: [2]uint64{uint64(addr), 0}}
	})
}
