package syncprim

import (
	"github.com/kolkov/dmt/internal/dmt/eventlog"
	"github.com/kolkov/dmt/internal/dmt/turn"
	"github.com/kolkov/dmt/internal/dmt/turnop"
)

type semState struct {
	count int
}

// SemSet tracks deterministic counting-semaphore state per address.
type SemSet struct {
	shadow shadow[semState]
}

func (s *SemSet) state(addr uintptr, initial int) *semState {
	return s.shadow.getOrCreate(addr, func() *semState { return &semState{count: initial} })
}

// Init sets addr's initial count. Must be called before the first Wait
// or Post.
func (s *SemSet) Init(q *turn.Queue, ltid turn.LTID, sink turnop.Sink, logSync bool, insID uint32, addr uintptr, value int) {
	st := s.shadow.getOrCreate(addr, func() *semState { return &semState{} })
	st.count = value
	turnop.LogOnly(q, ltid, sink, logSync, turnop.Result{Op: eventlog.OpSemInit, InsID: insID, Args: [2]uint64{uint64(addr), uint64(value)}})
}

// Destroy forgets addr's state.
func (s *SemSet) Destroy(q *turn.Queue, ltid turn.LTID, sink turnop.Sink, logSync bool, insID uint32, addr uintptr) {
	s.shadow.delete(addr)
	turnop.LogOnly(q, ltid, sink, logSync, turnop.Result{Op: eventlog.OpSemDestroy, InsID: insID, Args: [2]uint64{uint64(addr), 0}})
}

// Wait decrements addr's count, blocking while it is zero, the
// deterministic analogue of sem_wait.
func (s *SemSet) Wait(q *turn.Queue, ltid turn.LTID, sink turnop.Sink, logSync bool, insID uint32, addr uintptr) {
	st := s.state(addr, 0)
	turnop.Do(q, ltid, sink, logSync, false, func() (struct{}, turnop.Result) {
		for st.count == 0 {
			q.Wait(ltid, addr, 0)
		}
		st.count--
		return struct{}{}, turnop.Result{Op: eventlog.OpSemWait, InsID: insID, Args: [2]uint64{uint64(addr), 0}}
	})
}

// TryWait attempts to decrement addr's count without blocking.
func (s *SemSet) TryWait(q *turn.Queue, ltid turn.LTID, sink turnop.Sink, logSync bool, insID uint32, addr uintptr) bool {
	st := s.state(addr, 0)
	return turnop.Do(q, ltid, sink, logSync, false, func() (bool, turnop.Result) {
		if st.count == 0 {
			return false, turnop.Result{Op: eventlog.OpSemTryWait, InsID: insID, Args: [2]uint64{uint64(addr), 1}}
		}
		st.count--
		return true, turnop.Result{Op: eventlog.OpSemTryWait, InsID: insID, Args: [2]uint64{uint64(addr), 0}}
	})
}

// TimedWait is Wait with a turn-count deadline, the deterministic
// analogue of sem_timedwait.
func (s *SemSet) TimedWait(q *turn.Queue, ltid turn.LTID, sink turnop.Sink, logSync bool, insID uint32, addr uintptr, turnsRelative uint64) (timedOut bool) {
	st := s.state(addr, 0)
	return turnop.Do(q, ltid, sink, logSync, false, func() (bool, turnop.Result) {
		deadline := q.GetTurnCount() + turnsRelative
		timedOut := false
		for st.count == 0 {
			if q.Wait(ltid, addr, deadline) == turn.WaitTimedOut {
				timedOut = true
				break
			}
		}
		if !timedOut {
			st.count--
		}
		return timedOut, turnop.Result{Op: eventlog.OpSemTimedWait, InsID: insID, TimedOut: timedOut, Args: [2]uint64{uint64(addr), 0}}
	})
}

// Post increments addr's count and wakes one waiter.
func (s *SemSet) Post(q *turn.Queue, ltid turn.LTID, sink turnop.Sink, logSync bool, insID uint32, addr uintptr) {
	st := s.state(addr, 0)
	turnop.Do(q, ltid, sink, logSync, false, func() (struct{}, turnop.Result) {
		st.count++
		q.Signal(ltid, addr, false)
		return struct{}{}, turnop.Result{Op: eventlog.OpSemPost, InsID: insID, Args: [2]uint64{uint64(addr), 0}}
	})
}
