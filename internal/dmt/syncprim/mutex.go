package syncprim

import (
	"github.com/kolkov/dmt/internal/dmt/eventlog"
	"github.com/kolkov/dmt/internal/dmt/turn"
	"github.com/kolkov/dmt/internal/dmt/turnop"
)

type mutexState struct {
	locked bool
}

// MutexSet tracks the deterministic state of every mutex-shaped address
// touched through it. The zero value is ready to use.
type MutexSet struct {
	shadow shadow[mutexState]
}

func (m *MutexSet) state(addr uintptr) *mutexState {
	return m.shadow.getOrCreate(addr, func() *mutexState { return &mutexState{} })
}

// Init records addr as a fresh, unlocked mutex. Idempotent, like
// pthread_mutex_init on PTHREAD_MUTEX_INITIALIZER statics that are
// touched before any explicit init call.
func (m *MutexSet) Init(q *turn.Queue, ltid turn.LTID, sink turnop.Sink, logSync bool, insID uint32, addr uintptr) {
	m.shadow.getOrCreate(addr, func() *mutexState { return &mutexState{} })
	turnop.LogOnly(q, ltid, sink, logSync, turnop.Result{Op: eventlog.OpMutexInit, InsID: insID, Args: [2]uint64{uint64(addr), 0}})
}

// Destroy forgets addr's state, mirroring pthread_mutex_destroy.
func (m *MutexSet) Destroy(q *turn.Queue, ltid turn.LTID, sink turnop.Sink, logSync bool, insID uint32, addr uintptr) {
	m.shadow.delete(addr)
	turnop.LogOnly(q, ltid, sink, logSync, turnop.Result{Op: eventlog.OpMutexDestroy, InsID: insID, Args: [2]uint64{uint64(addr), 0}})
}

// Lock acquires addr, looping on the Turn Queue's wait set: trylock,
// and on EBUSY, wait.
func (m *MutexSet) Lock(q *turn.Queue, ltid turn.LTID, sink turnop.Sink, logSync bool, insID uint32, addr uintptr) {
	st := m.state(addr)
	turnop.Do(q, ltid, sink, logSync, false, func() (struct{}, turnop.Result) {
		for st.locked {
			q.Wait(ltid, addr, 0)
		}
		st.locked = true
		return struct{}{}, turnop.Result{Op: eventlog.OpMutexLock, InsID: insID, Args: [2]uint64{uint64(addr), 0}}
	})
}

// TryLock attempts to acquire addr without blocking, preserving
// trylock's contract: it tries exactly once and reports success.
func (m *MutexSet) TryLock(q *turn.Queue, ltid turn.LTID, sink turnop.Sink, logSync bool, insID uint32, addr uintptr) bool {
	st := m.state(addr)
	return turnop.Do(q, ltid, sink, logSync, false, func() (bool, turnop.Result) {
		if st.locked {
			return false, turnop.Result{Op: eventlog.OpMutexTryLock, InsID: insID, Args: [2]uint64{uint64(addr), 1}}
		}
		st.locked = true
		return true, turnop.Result{Op: eventlog.OpMutexTryLock, InsID: insID, Args: [2]uint64{uint64(addr), 0}}
	})
}

// LockTimeout is the deterministic analogue of pthread_mutex_timedlock:
// turnsRelative is the number of turns (already converted from a
// real-time deadline via logtime.ToTurns and the caller's base time) to
// wait before giving up.
func (m *MutexSet) LockTimeout(q *turn.Queue, ltid turn.LTID, sink turnop.Sink, logSync bool, insID uint32, addr uintptr, turnsRelative uint64) (timedOut bool) {
	st := m.state(addr)
	return turnop.Do(q, ltid, sink, logSync, false, func() (bool, turnop.Result) {
		deadline := q.GetTurnCount() + turnsRelative
		timedOut := false
		for st.locked {
			if q.Wait(ltid, addr, deadline) == turn.WaitTimedOut {
				timedOut = true
				break
			}
		}
		if !timedOut {
			st.locked = true
		}
		return timedOut, turnop.Result{Op: eventlog.OpMutexTimedLock, InsID: insID, TimedOut: timedOut, Args: [2]uint64{uint64(addr), 0}}
	})
}

// Unlock releases addr and signals the single longest-waiting locker.
func (m *MutexSet) Unlock(q *turn.Queue, ltid turn.LTID, sink turnop.Sink, logSync bool, insID uint32, addr uintptr) {
	st := m.state(addr)
	turnop.Do(q, ltid, sink, logSync, false, func() (struct{}, turnop.Result) {
		st.locked = false
		q.Signal(ltid, addr, false)
		return struct{}{}, turnop.Result{Op: eventlog.OpMutexUnlock, InsID: insID, Args: [2]uint64{uint64(addr), 0}}
	})
}
