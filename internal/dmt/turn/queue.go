// Package turn implements the Turn Queue: the single synchronization
// object that gates every deterministic operation performed by the dmt
// runtime. At most one logical thread ever holds "the turn" at a time;
// all ordering decisions elsewhere in the runtime are expressed in terms
// of get_turn/put_turn/wait/signal/block/wakeup against this queue.
//
// The queue is built the way the reference deterministic-simulation
// scheduler in this corpus structures its ready queue and per-task
// permits: one internal mutex guards a slice-backed run queue plus a set
// of FIFO wait lists keyed by an opaque channel address, and each logical
// thread parks on its own condition variable rather than a dedicated
// semaphore, which keeps the implementation to one small struct instead
// of one OS object per thread.
package turn

import (
	"fmt"
	"sort"
	"sync"
)

// LTID is a dense logical thread id assigned by the Thread Registry.
type LTID uint32

// MainThreadLTID is reserved for the first thread of a process.
const MainThreadLTID LTID = 0

// WaitResult reports how a Wait call returned.
type WaitResult int

const (
	WaitOK WaitResult = iota
	WaitTimedOut
)

// Listener observes scheduling decisions without participating in them.
// It exists so external consumers (the Explorer Gateway, test harnesses,
// runtime statistics) can watch turn transitions without being wired into
// the queue's locking.
type Listener interface {
	OnScheduled(ltid LTID, turnCount uint64)
	OnBlocked(ltid LTID)
	OnWakeup(ltid LTID)
	// OnQuiesced fires whenever the run queue transitions to empty — no
	// thread holds the turn and every registered LTID is parked in a
	// wait set, the zombie set, or detached. The Non-Det Region Domain
	// uses this to admit threads waiting to enter a non-det region:
	// their signal is withheld until this fires.
	OnQuiesced()
}

type waiter struct {
	ltid     LTID
	deadline uint64 // 0 means no timeout
	result   WaitResult
}

// Queue is the Turn Queue. Zero value is not usable; use New.
type Queue struct {
	mu sync.Mutex

	runq      []LTID
	conds     map[LTID]*sync.Cond
	waitSets  map[uintptr][]*waiter
	detached  map[LTID]bool
	zombies   map[LTID]bool
	turnCount uint64
	nthread   int

	listeners []Listener
}

// New creates a Turn Queue whose only runnable thread is the main thread.
func New() *Queue {
	q := &Queue{
		conds:    make(map[LTID]*sync.Cond),
		waitSets: make(map[uintptr][]*waiter),
		detached: make(map[LTID]bool),
		zombies:  make(map[LTID]bool),
		runq:     []LTID{MainThreadLTID},
		nthread:  1,
	}
	q.conds[MainThreadLTID] = sync.NewCond(&q.mu)
	return q
}

// AddListener registers a scheduling observer.
func (q *Queue) AddListener(l Listener) {
	q.mu.Lock()
	q.listeners = append(q.listeners, l)
	q.mu.Unlock()
}

func (q *Queue) notify(f func(Listener)) {
	for _, l := range q.listeners {
		f(l)
	}
}

// snapshotListenersLocked copies the listener slice for use after
// unlocking, so notify callbacks that themselves call back into the
// queue (e.g. SignalQuiescent) never run while q.mu is held.
func (q *Queue) snapshotListenersLocked() []Listener {
	if len(q.listeners) == 0 {
		return nil
	}
	out := make([]Listener, len(q.listeners))
	copy(out, q.listeners)
	return out
}

func notifyQuiesced(listeners []Listener) {
	for _, l := range listeners {
		l.OnQuiesced()
	}
}

// RegisterThread makes ltid known to the queue and appends it to the run
// queue tail. Called by the Thread Registry while the parent holds the
// turn, per the creation protocol.
func (q *Queue) RegisterThread(ltid LTID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.conds[ltid] = sync.NewCond(&q.mu)
	q.runq = append(q.runq, ltid)
	q.nthread++
}

// NThread returns the number of threads ever registered (used by the
// logical-time conversion's lower bound).
func (q *Queue) NThread() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.nthread
}

func (q *Queue) head() (LTID, bool) {
	if len(q.runq) == 0 {
		return 0, false
	}
	return q.runq[0], true
}

// GetTurn blocks the calling thread until it becomes the run-queue head.
func (q *Queue) GetTurn(ltid LTID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	cond, ok := q.conds[ltid]
	if !ok {
		panic(fmt.Sprintf("turn: GetTurn called by unregistered ltid %d", ltid))
	}
	for {
		if h, ok := q.head(); ok && h == ltid {
			q.notify(func(l Listener) { l.OnScheduled(ltid, q.turnCount) })
			return
		}
		cond.Wait()
	}
}

// PutTurn releases the turn held by ltid. If endOfThread is true, ltid
// moves to the zombie set instead of the run queue tail, and any joiners
// waiting on ltid's join channel are woken.
func (q *Queue) PutTurn(ltid LTID, endOfThread bool) {
	q.mu.Lock()
	q.mustBeHeadLocked(ltid)

	q.turnCount++
	q.runq = q.runq[1:]

	if endOfThread {
		q.zombies[ltid] = true
		q.signalLocked(q.joinChannel(ltid), true)
	} else {
		q.runq = append(q.runq, ltid)
	}

	q.releaseTimedOutLocked()
	q.wakeHeadLocked()
	quiesced := len(q.runq) == 0
	var listeners []Listener
	if quiesced {
		listeners = q.snapshotListenersLocked()
	}
	q.mu.Unlock()
	if quiesced {
		notifyQuiesced(listeners)
	}
}

// IncTurnCount advances the turn counter without releasing the turn, for
// wrappers that must stamp a mid-critical-section log record with a fresh
// turn number (e.g. a barrier's last arriver, or a cond_wait's first
// half).
func (q *Queue) IncTurnCount(ltid LTID) uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.mustBeHeadLocked(ltid)
	q.turnCount++
	q.releaseTimedOutLocked()
	return q.turnCount
}

// GetTurnCount reads the current turn counter.
func (q *Queue) GetTurnCount() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.turnCount
}

// Wait atomically releases the turn and parks ltid in channel's wait set.
// It returns once another thread signals the channel, or once the turn
// counter reaches timeoutTurn (0 means no timeout).
func (q *Queue) Wait(ltid LTID, channel uintptr, timeoutTurn uint64) WaitResult {
	q.mu.Lock()
	q.mustBeHeadLocked(ltid)

	q.runq = q.runq[1:]
	w := &waiter{ltid: ltid, deadline: timeoutTurn}
	q.waitSets[channel] = append(q.waitSets[channel], w)
	q.releaseTimedOutLocked()
	q.wakeHeadLocked()
	quiesced := len(q.runq) == 0
	var listeners []Listener
	if quiesced {
		listeners = q.snapshotListenersLocked()
	}
	q.mu.Unlock()
	if quiesced {
		notifyQuiesced(listeners)
	}

	q.mu.Lock()
	cond := q.conds[ltid]
	for !q.isRunnableLocked(ltid) {
		cond.Wait()
	}
	q.notify(func(l Listener) { l.OnScheduled(ltid, q.turnCount) })
	result := w.result
	q.mu.Unlock()
	return result
}

func (q *Queue) isRunnableLocked(ltid LTID) bool {
	h, ok := q.head()
	return ok && h == ltid
}

// Signal wakes the first (or, if all, every) waiter parked on channel,
// appending them to the run queue tail in FIFO order. The caller must
// hold the turn.
func (q *Queue) Signal(ltid LTID, channel uintptr, all bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.mustBeHeadLocked(ltid)
	q.signalLocked(channel, all)
}

func (q *Queue) signalLocked(channel uintptr, all bool) {
	waiters := q.waitSets[channel]
	if len(waiters) == 0 {
		return
	}
	n := 1
	if all {
		n = len(waiters)
	}
	released, remaining := waiters[:n], waiters[n:]
	q.waitSets[channel] = remaining

	for _, w := range released {
		w.result = WaitOK
		q.runq = append(q.runq, w.ltid)
		q.conds[w.ltid].Signal()
	}
}

// SignalQuiescent releases every waiter on channel without requiring a
// turn holder. It is a no-op unless the run queue is currently empty
// (Data Model invariant 1's quiescence branch), and exists solely for
// the Non-Det Region Domain: at the moment OnQuiesced fires, by
// definition no thread holds the turn, so the ordinary Signal contract
// ("caller must hold the turn") cannot be satisfied.
func (q *Queue) SignalQuiescent(channel uintptr) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.runq) != 0 {
		return
	}
	q.signalLocked(channel, true)
}

// Block removes ltid from the run queue and hands the turn to the next
// runnable thread, without signalling any channel. Used by the
// Block/Wakeup Domain before a real blocking syscall.
func (q *Queue) Block(ltid LTID) {
	q.mu.Lock()
	q.mustBeHeadLocked(ltid)
	q.runq = q.runq[1:]
	q.detached[ltid] = true
	q.wakeHeadLocked()
	q.notify(func(l Listener) { l.OnBlocked(ltid) })
	quiesced := len(q.runq) == 0
	var listeners []Listener
	if quiesced {
		listeners = q.snapshotListenersLocked()
	}
	q.mu.Unlock()
	if quiesced {
		notifyQuiesced(listeners)
	}
}

// Wakeup requests that ltid (previously Block'd) rejoin the run queue.
// If the run queue is currently empty, ltid becomes the head immediately;
// otherwise it is appended at the tail.
func (q *Queue) Wakeup(ltid LTID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.detached[ltid] {
		return
	}
	delete(q.detached, ltid)
	q.runq = append(q.runq, ltid)
	q.notify(func(l Listener) { l.OnWakeup(ltid) })
	q.wakeHeadLocked()
}

// IsZombie reports whether ltid has already called PutTurn(endOfThread=true).
func (q *Queue) IsZombie(ltid LTID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.zombies[ltid]
}

// RunQueueLen reports the number of runnable (non-waiting, non-detached,
// non-zombie) threads. Used by the Non-Det Region Domain to decide when
// the deterministic side has fully quiesced.
func (q *Queue) RunQueueLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.runq)
}

// joinChannel returns the opaque wait-set key used by threads joining ltid.
func (q *Queue) joinChannel(ltid LTID) uintptr {
	return uintptr(ltid) + 1<<40 // disjoint from ordinary user-supplied addresses in practice
}

// JoinChannel exposes joinChannel for the Thread Registry's Join implementation.
func (q *Queue) JoinChannel(ltid LTID) uintptr { return q.joinChannel(ltid) }

func (q *Queue) mustBeHeadLocked(ltid LTID) {
	h, ok := q.head()
	if !ok || h != ltid {
		panic(fmt.Sprintf("turn: ltid %d does not hold the turn (head=%v ok=%v)", ltid, h, ok))
	}
}

func (q *Queue) wakeHeadLocked() {
	if h, ok := q.head(); ok {
		q.conds[h].Signal()
	}
}

// releaseTimedOutLocked moves every waiter whose deadline has passed into
// the run queue tail, in wait-set encounter order, marking WaitTimedOut.
// Called any time the turn counter advances.
//
// Channels are visited in sorted order rather than Go's randomized map
// iteration order: when waiters on two distinct channels expire at the
// same turn, the order they're appended to the run queue must be a pure
// function of process state, not of map hash seeding, or the resulting
// schedule (and the logs it produces) would vary run to run in violation
// of the determinism law.
func (q *Queue) releaseTimedOutLocked() {
	channels := make([]uintptr, 0, len(q.waitSets))
	for channel := range q.waitSets {
		channels = append(channels, channel)
	}
	sort.Slice(channels, func(i, j int) bool { return channels[i] < channels[j] })

	for _, channel := range channels {
		waiters := q.waitSets[channel]
		var keep []*waiter
		for _, w := range waiters {
			if w.deadline != 0 && q.turnCount >= w.deadline {
				w.result = WaitTimedOut
				q.runq = append(q.runq, w.ltid)
				q.conds[w.ltid].Signal()
			} else {
				keep = append(keep, w)
			}
		}
		if len(keep) == 0 {
			delete(q.waitSets, channel)
		} else {
			q.waitSets[channel] = keep
		}
	}
}
