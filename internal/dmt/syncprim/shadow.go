// Package syncprim reimplements the standard synchronization primitives
// (mutex, rwlock, cond, barrier, semaphore, lineup) on top of the Turn
// Queue, following the uniform get_turn/act/log/put_turn template
// factored out in internal/dmt/turnop.
//
// Per-object state is tracked in a shadow map keyed by the object's
// address, wrapping a sync.Map and lazily allocating the object's state
// struct on first touch.
package syncprim

import "sync"

// shadow lazily allocates a *V per address the first time it is touched,
// generic over whichever per-primitive state struct V is.
type shadow[V any] struct {
	vars sync.Map // uintptr -> *V
}

func (s *shadow[V]) getOrCreate(addr uintptr, zero func() *V) *V {
	if v, ok := s.vars.Load(addr); ok {
		return v.(*V)
	}
	v, _ := s.vars.LoadOrStore(addr, zero())
	return v.(*V)
}

func (s *shadow[V]) delete(addr uintptr) {
	s.vars.Delete(addr)
}
