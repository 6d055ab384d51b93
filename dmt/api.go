package dmt

import (
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/kolkov/dmt/internal/dmt/config"
	"github.com/kolkov/dmt/internal/dmt/eventlog"
	"github.com/kolkov/dmt/internal/dmt/logtime"
	dmtruntime "github.com/kolkov/dmt/internal/dmt/runtime"
	"github.com/kolkov/dmt/internal/dmt/turn"
	"github.com/kolkov/dmt/internal/dmt/turnop"
)

// enabled gates every wrapper below: when false, a call touches nothing
// in internal/dmt and returns its zero value immediately.
var enabled atomic.Bool

// Init starts the dmt runtime with cfg and enables every wrapper in this
// package, unless cfg.DMT is false. It must be called before any other
// function in this package; calling it twice replaces the running
// instance, which is only safe between process forks (see
// internal/dmt/runtime's ReinitAfterFork for the fork path instead).
func Init(cfg config.Config) error {
	if !cfg.DMT {
		enabled.Store(false)
		return nil
	}
	if _, err := dmtruntime.Init(cfg); err != nil {
		return err
	}
	enabled.Store(true)
	return nil
}

// Fini flushes and stops the runtime. Safe to call when Init was never
// called or left the runtime disabled.
func Fini() error {
	enabled.Store(false)
	rt := dmtruntime.Global()
	if rt == nil {
		return nil
	}
	return rt.Shutdown()
}

// active returns the live runtime and the calling goroutine's LTID, or
// ok=false if the runtime is disabled, in which case every wrapper below
// must return its zero value without touching any internal package.
func active() (rt *dmtruntime.Runtime, ltid turn.LTID, ok bool) {
	if !enabled.Load() {
		return nil, 0, false
	}
	rt = dmtruntime.Global()
	if rt == nil {
		return nil, 0, false
	}
	return rt, rt.Registry.Self(), true
}

// relativeTurns converts an absolute deadline into a turn count relative
// to the caller's base time, warning and falling back to wall-clock if no
// base time has been set yet (a timed wait arriving before any prior
// SetBaseTimespec/SetBaseTimeval call for this thread).
func relativeTurns(rt *dmtruntime.Runtime, ltid turn.LTID, deadline time.Time) uint64 {
	rel, ok := rt.BaseTime.Relative(uint32(ltid), deadline)
	if !ok {
		rt.Logger.Warnf("dmt: timed wait for ltid %d with no base time set, falling back to wall-clock", uint32(ltid))
	}
	return logtime.ToTurns(rel.Nanoseconds(), rt.Config.NanosecPerTurn, rt.Queue.NThread())
}

func setTimedOutErrno(errno *int32, timedOut bool) {
	if timedOut && errno != nil {
		*errno = int32(unix.ETIMEDOUT)
	}
}

// ThreadBegin logs the calling thread's first Sync record. The caller
// must already be bound to an LTID via the Thread Registry's creation
// handshake (internal/dmt/registry.Registry.SpawnChild), which runs in
// the child after the handshake completes, not before.
func ThreadBegin(insID uint32, errno *int32) {
	rt, ltid, ok := active()
	if !ok {
		return
	}
	turnop.LogOnly(rt.Queue, ltid, rt.Log, rt.Config.LogSync, turnop.Result{Op: eventlog.OpThreadBegin, InsID: insID})
}

// ThreadEnd logs the thread's final Sync record, moves it to the zombie
// set so a pending Join can complete, and returns its LTID to the
// registry's free list once unbound.
func ThreadEnd(insID uint32, errno *int32) {
	rt, ltid, ok := active()
	if !ok {
		return
	}
	turnop.Do(rt.Queue, ltid, rt.Log, rt.Config.LogSync, true, func() (struct{}, turnop.Result) {
		return struct{}{}, turnop.Result{Op: eventlog.OpThreadEnd, InsID: insID}
	})
	if err := rt.Log.FlushThread(uint32(ltid)); err != nil {
		rt.Logger.Warnf("dmt: flush thread %d log: %v", uint32(ltid), err)
	}
	rt.Registry.Unbind(ltid)
	rt.Registry.FreeLTID(ltid)
}

// ThreadDetach is a no-op: it neither logs a record nor changes the
// calling thread's scheduling state.
func ThreadDetach(insID uint32, errno *int32) {}

// MutexInit records addr as a fresh mutex.
func MutexInit(insID uint32, errno *int32, addr uintptr) {
	rt, ltid, ok := active()
	if !ok {
		return
	}
	rt.Mutexes.Init(rt.Queue, ltid, rt.Log, rt.Config.LogSync, insID, addr)
}

// MutexLock acquires addr, blocking until available.
func MutexLock(insID uint32, errno *int32, addr uintptr) {
	rt, ltid, ok := active()
	if !ok {
		return
	}
	rt.Mutexes.Lock(rt.Queue, ltid, rt.Log, rt.Config.LogSync, insID, addr)
}

// MutexTryLock attempts addr without blocking.
func MutexTryLock(insID uint32, errno *int32, addr uintptr) bool {
	rt, ltid, ok := active()
	if !ok {
		return true
	}
	return rt.Mutexes.TryLock(rt.Queue, ltid, rt.Log, rt.Config.LogSync, insID, addr)
}

// MutexTimedLock acquires addr or gives up at deadline, reporting
// ETIMEDOUT via errno on expiry.
func MutexTimedLock(insID uint32, errno *int32, addr uintptr, deadline time.Time) bool {
	rt, ltid, ok := active()
	if !ok {
		return true
	}
	turns := relativeTurns(rt, ltid, deadline)
	timedOut := rt.Mutexes.LockTimeout(rt.Queue, ltid, rt.Log, rt.Config.LogSync, insID, addr, turns)
	setTimedOutErrno(errno, timedOut)
	return !timedOut
}

// MutexUnlock releases addr.
func MutexUnlock(insID uint32, errno *int32, addr uintptr) {
	rt, ltid, ok := active()
	if !ok {
		return
	}
	rt.Mutexes.Unlock(rt.Queue, ltid, rt.Log, rt.Config.LogSync, insID, addr)
}

// MutexDestroy forgets addr's state.
func MutexDestroy(insID uint32, errno *int32, addr uintptr) {
	rt, ltid, ok := active()
	if !ok {
		return
	}
	rt.Mutexes.Destroy(rt.Queue, ltid, rt.Log, rt.Config.LogSync, insID, addr)
}

// RWLockInit records addr as a fresh rwlock.
func RWLockInit(insID uint32, errno *int32, addr uintptr) {
	rt, ltid, ok := active()
	if !ok {
		return
	}
	rt.RWLocks.Init(rt.Queue, ltid, rt.Log, rt.Config.LogSync, insID, addr)
}

// RWLockRLock acquires addr for reading.
func RWLockRLock(insID uint32, errno *int32, addr uintptr) {
	rt, ltid, ok := active()
	if !ok {
		return
	}
	rt.RWLocks.RLock(rt.Queue, ltid, rt.Log, rt.Config.LogSync, insID, addr)
}

// RWLockLock acquires addr for writing.
func RWLockLock(insID uint32, errno *int32, addr uintptr) {
	rt, ltid, ok := active()
	if !ok {
		return
	}
	rt.RWLocks.Lock(rt.Queue, ltid, rt.Log, rt.Config.LogSync, insID, addr)
}

// RWLockTryRLock attempts addr for reading without blocking.
func RWLockTryRLock(insID uint32, errno *int32, addr uintptr) bool {
	rt, ltid, ok := active()
	if !ok {
		return true
	}
	return rt.RWLocks.TryRLock(rt.Queue, ltid, rt.Log, rt.Config.LogSync, insID, addr)
}

// RWLockTryLock attempts addr for writing without blocking.
func RWLockTryLock(insID uint32, errno *int32, addr uintptr) bool {
	rt, ltid, ok := active()
	if !ok {
		return true
	}
	return rt.RWLocks.TryLock(rt.Queue, ltid, rt.Log, rt.Config.LogSync, insID, addr)
}

// RWLockUnlock releases addr.
func RWLockUnlock(insID uint32, errno *int32, addr uintptr) {
	rt, ltid, ok := active()
	if !ok {
		return
	}
	rt.RWLocks.Unlock(rt.Queue, ltid, rt.Log, rt.Config.LogSync, insID, addr)
}

// RWLockDestroy forgets addr's state.
func RWLockDestroy(insID uint32, errno *int32, addr uintptr) {
	rt, ltid, ok := active()
	if !ok {
		return
	}
	rt.RWLocks.Destroy(rt.Queue, ltid, rt.Log, rt.Config.LogSync, insID, addr)
}

// CondWait releases muAddr, parks on cvAddr until signalled, then
// reacquires muAddr.
func CondWait(insID uint32, errno *int32, cvAddr, muAddr uintptr) {
	rt, ltid, ok := active()
	if !ok {
		return
	}
	rt.Conds.Wait(rt.Queue, ltid, rt.Log, rt.Config.LogSync, insID, cvAddr, muAddr)
}

// CondTimedWait is CondWait with a deadline, reporting ETIMEDOUT via
// errno on expiry.
func CondTimedWait(insID uint32, errno *int32, cvAddr, muAddr uintptr, deadline time.Time) bool {
	rt, ltid, ok := active()
	if !ok {
		return true
	}
	turns := relativeTurns(rt, ltid, deadline)
	timedOut := rt.Conds.TimedWait(rt.Queue, ltid, rt.Log, rt.Config.LogSync, insID, cvAddr, muAddr, turns)
	setTimedOutErrno(errno, timedOut)
	return !timedOut
}

// CondSignal wakes one thread parked on cvAddr.
func CondSignal(insID uint32, errno *int32, cvAddr uintptr) {
	rt, ltid, ok := active()
	if !ok {
		return
	}
	rt.Conds.Signal(rt.Queue, ltid, rt.Log, rt.Config.LogSync, insID, cvAddr)
}

// CondBroadcast wakes every thread parked on cvAddr.
func CondBroadcast(insID uint32, errno *int32, cvAddr uintptr) {
	rt, ltid, ok := active()
	if !ok {
		return
	}
	rt.Conds.Broadcast(rt.Queue, ltid, rt.Log, rt.Config.LogSync, insID, cvAddr)
}

// BarrierInit records count for addr.
func BarrierInit(insID uint32, errno *int32, addr uintptr, count int) {
	rt, ltid, ok := active()
	if !ok {
		return
	}
	rt.Barriers.Init(rt.Queue, ltid, rt.Log, rt.Config.LogSync, insID, addr, count)
}

// BarrierWait blocks until count threads have arrived at addr, returning
// true to exactly one caller per round (SerialThread).
func BarrierWait(insID uint32, errno *int32, addr uintptr) bool {
	rt, ltid, ok := active()
	if !ok {
		return false
	}
	return rt.Barriers.Wait(rt.Queue, ltid, rt.Log, rt.Config.LogSync, insID, addr)
}

// BarrierDestroy forgets addr's state.
func BarrierDestroy(insID uint32, errno *int32, addr uintptr) {
	rt, ltid, ok := active()
	if !ok {
		return
	}
	rt.Barriers.Destroy(rt.Queue, ltid, rt.Log, rt.Config.LogSync, insID, addr)
}

// SemInit sets addr's initial count.
func SemInit(insID uint32, errno *int32, addr uintptr, value int) {
	rt, ltid, ok := active()
	if !ok {
		return
	}
	rt.Sems.Init(rt.Queue, ltid, rt.Log, rt.Config.LogSync, insID, addr, value)
}

// SemWait decrements addr's count, blocking while it is zero.
func SemWait(insID uint32, errno *int32, addr uintptr) {
	rt, ltid, ok := active()
	if !ok {
		return
	}
	rt.Sems.Wait(rt.Queue, ltid, rt.Log, rt.Config.LogSync, insID, addr)
}

// SemTryWait attempts to decrement addr's count without blocking.
func SemTryWait(insID uint32, errno *int32, addr uintptr) bool {
	rt, ltid, ok := active()
	if !ok {
		return true
	}
	return rt.Sems.TryWait(rt.Queue, ltid, rt.Log, rt.Config.LogSync, insID, addr)
}

// SemTimedWait is SemWait with a deadline, reporting ETIMEDOUT via errno
// on expiry.
func SemTimedWait(insID uint32, errno *int32, addr uintptr, deadline time.Time) bool {
	rt, ltid, ok := active()
	if !ok {
		return true
	}
	turns := relativeTurns(rt, ltid, deadline)
	timedOut := rt.Sems.TimedWait(rt.Queue, ltid, rt.Log, rt.Config.LogSync, insID, addr, turns)
	setTimedOutErrno(errno, timedOut)
	return !timedOut
}

// SemPost increments addr's count and wakes one waiter.
func SemPost(insID uint32, errno *int32, addr uintptr) {
	rt, ltid, ok := active()
	if !ok {
		return
	}
	rt.Sems.Post(rt.Queue, ltid, rt.Log, rt.Config.LogSync, insID, addr)
}

// SemDestroy forgets addr's state.
func SemDestroy(insID uint32, errno *int32, addr uintptr) {
	rt, ltid, ok := active()
	if !ok {
		return
	}
	rt.Sems.Destroy(rt.Queue, ltid, rt.Log, rt.Config.LogSync, insID, addr)
}

// LineupInit records count for addr's rendezvous rounds. Honored only
// when enforce_annotations is set.
func LineupInit(insID uint32, errno *int32, addr uintptr, count int) {
	rt, ltid, ok := active()
	if !ok || !rt.Config.EnforceAnnotations {
		return
	}
	rt.Lineups.Init(rt.Queue, ltid, rt.Log, rt.Config.LogSync, insID, addr, count)
}

// LineupDestroy forgets addr's state.
func LineupDestroy(insID uint32, errno *int32, addr uintptr) {
	rt, ltid, ok := active()
	if !ok || !rt.Config.EnforceAnnotations {
		return
	}
	rt.Lineups.Destroy(rt.Queue, ltid, rt.Log, rt.Config.LogSync, insID, addr)
}

// LineupStart joins addr's Arriving-phase rendezvous, waiting up to
// timeout turns for the round to fill.
func LineupStart(insID uint32, errno *int32, addr uintptr, timeout uint64) bool {
	rt, ltid, ok := active()
	if !ok || !rt.Config.EnforceAnnotations {
		return false
	}
	timedOut := rt.Lineups.Start(rt.Queue, ltid, rt.Log, rt.Config.LogSync, insID, addr, timeout)
	setTimedOutErrno(errno, timedOut)
	return timedOut
}

// LineupEnd leaves the active window the caller entered via LineupStart.
func LineupEnd(insID uint32, errno *int32, addr uintptr) {
	rt, ltid, ok := active()
	if !ok || !rt.Config.EnforceAnnotations {
		return
	}
	rt.Lineups.End(rt.Queue, ltid, rt.Log, rt.Config.LogSync, insID, addr)
}

// Lineup is the combined init-then-rendezvous hook: typ is accepted for
// log correlation only (addr IS the lineup's identity, same as every
// other primitive here), count re-initializes addr's expected
// participant count on first use, and timeout bounds how many turns the
// caller waits for the round to fill before giving up.
func Lineup(insID uint32, errno *int32, addr uintptr, typ int, count int, timeout uint64) bool {
	rt, ltid, ok := active()
	if !ok || !rt.Config.EnforceAnnotations {
		return false
	}
	rt.Lineups.Init(rt.Queue, ltid, rt.Log, rt.Config.LogSync, insID, addr, count)
	timedOut := rt.Lineups.Rendezvous(rt.Queue, ltid, rt.Log, rt.Config.LogSync, insID, addr, timeout)
	setTimedOutErrno(errno, timedOut)
	return timedOut
}

// NonDetStart quiesces the deterministic side and parks the caller
// outside turn discipline. Honored only when enforce_non_det_annotations
// is set.
func NonDetStart(insID uint32, errno *int32) {
	rt, ltid, ok := active()
	if !ok || !rt.Config.EnforceNonDetAnnotations {
		return
	}
	rt.NonDet.Enter(rt.Queue, ltid, rt.Log, rt.Config.LogSync, insID)
}

// NonDetEnd ends the caller's non-det region and rejoins turn discipline.
func NonDetEnd(insID uint32, errno *int32) {
	rt, ltid, ok := active()
	if !ok || !rt.Config.EnforceNonDetAnnotations {
		return
	}
	rt.NonDet.Exit(rt.Queue, ltid, rt.Log, rt.Config.LogSync, insID)
}

// NonDetBarrierEnd logs that the calling thread (from inside a non-det
// region) reached an application-managed barrier identified by barID
// with cnt participants, without taking a turn.
func NonDetBarrierEnd(insID uint32, errno *int32, barID uintptr, cnt int) {
	rt, ltid, ok := active()
	if !ok || !rt.Config.EnforceNonDetAnnotations {
		return
	}
	rt.NonDet.BarrierEnd(rt.Log, rt.Config.LogSync, insID, ltid, barID, cnt)
}

// SetBaseTimespec records t as the caller's reference time for
// converting subsequent absolute deadlines (timed lock/wait/sem calls)
// into turn counts. Takes effect immediately, no turn required.
func SetBaseTimespec(t time.Time) {
	rt, ltid, ok := active()
	if !ok {
		return
	}
	rt.BaseTime.Set(uint32(ltid), t)
}

// SetBaseTimeval is SetBaseTimespec under the timeval-derived hook name;
// Go's time.Time already subsumes both C struct resolutions, so the two
// hooks share one implementation.
func SetBaseTimeval(t time.Time) {
	SetBaseTimespec(t)
}

// Symbolic logs a passthrough turn event naming a symbolic value the
// application introduced at addr, for nbyte bytes, tagged name. It does
// not affect scheduling.
func Symbolic(insID uint32, errno *int32, addr uintptr, nbyte int, name string) {
	rt, ltid, ok := active()
	if !ok {
		return
	}
	_ = name // name is carried in the application's own log correlation, not the fixed-width Sync record.
	turnop.LogOnly(rt.Queue, ltid, rt.Log, rt.Config.LogSync, turnop.Result{
		Op: eventlog.OpSymbolic, InsID: insID, Args: [2]uint64{uint64(addr), uint64(nbyte)},
	})
}
