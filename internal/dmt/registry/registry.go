// Package registry implements the Thread Registry: the mapping between
// OS thread handles (goroutine ids, read via github.com/petermattis/goid)
// and dense logical thread ids, plus the two-semaphore creation handshake
// that makes assignment of a new thread's LTID deterministic regardless
// of how the parent and child goroutines are actually scheduled by the Go
// runtime.
//
// The LTID free-list recycles released ids so that long-running processes
// with many short-lived threads do not grow per-thread state without bound.
package registry

import (
	"fmt"
	"sync"

	"github.com/petermattis/goid"

	"github.com/kolkov/dmt/internal/dmt/turn"
)

// Registry owns the LTID free-list and the goid<->LTID binding.
type Registry struct {
	mu       sync.Mutex
	free     []turn.LTID
	next     turn.LTID
	byGoid   map[int64]turn.LTID
	handleOf map[turn.LTID]int64
}

// New creates a Registry with only the main thread bound to the calling
// goroutine, which is assigned MainThreadLTID.
func New() *Registry {
	r := &Registry{
		byGoid:   make(map[int64]turn.LTID),
		handleOf: make(map[turn.LTID]int64),
		next:     turn.MainThreadLTID + 1,
	}
	r.bindLocked(turn.MainThreadLTID, goid.Get())
	return r
}

func (r *Registry) bindLocked(ltid turn.LTID, g int64) {
	r.byGoid[g] = ltid
	r.handleOf[ltid] = g
}

// AllocLTID pops a reusable LTID from the free list, or mints a new one.
// Must be called by a thread that currently holds the turn, as the third
// step of the creation protocol.
func (r *Registry) AllocLTID() turn.LTID {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n := len(r.free); n > 0 {
		ltid := r.free[n-1]
		r.free = r.free[:n-1]
		return ltid
	}
	ltid := r.next
	r.next++
	return ltid
}

// FreeLTID returns ltid to the free list once its thread has been joined
// and its handle unbound.
func (r *Registry) FreeLTID(ltid turn.LTID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.handleOf[ltid]; ok {
		delete(r.handleOf, ltid)
		delete(r.byGoid, g)
	}
	r.free = append(r.free, ltid)
}

// Self returns the LTID bound to the calling goroutine. It panics if the
// goroutine was never bound: self's LTID must never be referenced before
// the creation handshake completes.
func (r *Registry) Self() turn.LTID {
	r.mu.Lock()
	defer r.mu.Unlock()
	ltid, ok := r.byGoid[goid.Get()]
	if !ok {
		panic("registry: current goroutine has no bound LTID; call SpawnChild's handshake before GetTurn")
	}
	return ltid
}

// SpawnChild runs the two-semaphore creation handshake: it launches fn in
// a new goroutine suspended until the parent signals readiness, binds the
// child's goroutine id to ltid, and does not return to the parent until
// the child has completed the bind. This must be called by the parent
// AFTER it has released the turn: the parent assigns the LTID and
// registers it on the run queue while holding the turn, releases, then
// performs this handshake, the same ordering a thread-creation wrapper
// must preserve.
func (r *Registry) SpawnChild(ltid turn.LTID, fn func(turn.LTID)) {
	beginSem := make(chan struct{})
	doneSem := make(chan struct{})

	go func() {
		<-beginSem
		r.mu.Lock()
		r.bindLocked(ltid, goid.Get())
		r.mu.Unlock()
		close(doneSem)
		fn(ltid)
	}()

	close(beginSem)
	<-doneSem
}

// Unbind removes the handle binding for ltid without returning it to the
// free list (used right before FreeLTID, kept separate so a caller can
// unbind eagerly on thread end and free later once join completes).
func (r *Registry) Unbind(ltid turn.LTID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.handleOf[ltid]; ok {
		delete(r.handleOf, ltid)
		delete(r.byGoid, g)
	}
}

// Join waits, via the Turn Queue's join channel for ltid, until ltid has
// become a zombie (PutTurn(endOfThread=true) has run for it). It does
// not free the LTID; dmt.ThreadEnd returns it to the free list. The
// caller must hold the turn.
func Join(q *turn.Queue, caller, target turn.LTID) {
	for !q.IsZombie(target) {
		q.Wait(caller, q.JoinChannel(target), 0)
	}
}

// String renders an LTID for logs and panics.
func String(ltid turn.LTID) string {
	return fmt.Sprintf("ltid(%d)", uint32(ltid))
}
