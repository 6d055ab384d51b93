// Package runtime assembles every dmt component into one owned runtime
// singleton: a single value holding the Turn Queue, Thread Registry,
// event log, configuration, base-time store, every sync-primitive set,
// the Non-Det Region Domain, and the idle thread, rather than scattered
// package-level globals. A process still reaches it through one
// atomic-pointer-guarded accessor, Global, because the compiler-
// instrumentation call sites this runtime serves cannot thread a
// *Runtime through every hook signature.
package runtime

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/kolkov/dmt/internal/dmt/basetime"
	"github.com/kolkov/dmt/internal/dmt/config"
	"github.com/kolkov/dmt/internal/dmt/dmtlog"
	"github.com/kolkov/dmt/internal/dmt/eventlog"
	"github.com/kolkov/dmt/internal/dmt/idle"
	"github.com/kolkov/dmt/internal/dmt/nondet"
	"github.com/kolkov/dmt/internal/dmt/registry"
	"github.com/kolkov/dmt/internal/dmt/syncprim"
	"github.com/kolkov/dmt/internal/dmt/turn"
	"github.com/kolkov/dmt/internal/dmt/turnop"
)

// Runtime owns every piece of process-wide dmt state.
type Runtime struct {
	Config config.Config

	Queue    *turn.Queue
	Registry *registry.Registry
	Log      *eventlog.Log
	BaseTime *basetime.Store
	Logger   *dmtlog.Logger

	Mutexes  *syncprim.MutexSet
	RWLocks  *syncprim.RWLockSet
	Conds    *syncprim.CondSet
	Barriers *syncprim.BarrierSet
	Sems     *syncprim.SemSet
	Lineups  *syncprim.LineupSet

	NonDet   *nondet.Domain
	explorer *nondet.ExplorerServer

	idleThread *idle.Thread

	mu       sync.Mutex
	shutdown bool
}

var current atomic.Pointer[Runtime]

// Global returns the process-wide Runtime, or nil if Init has not run.
// Compiler-instrumented hook sites call this once per invocation rather
// than holding their own reference, since the runtime may be replaced
// wholesale by ReinitAfterFork.
func Global() *Runtime { return current.Load() }

// Init builds a fresh Runtime from cfg, installs it as the process-wide
// Global, and starts its idle thread if configured to do so. It is the
// only constructor; there is no package-level init() that builds one
// implicitly. The caller (the public dmt package) only invokes this when
// dmt is actually enabled; a disabled config never reaches here.
func Init(cfg config.Config) (*Runtime, error) {
	logger := dmtlog.New(dmtlog.LevelInfo, "[dmt] ")

	log, err := eventlog.New(cfg.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("runtime: init event log: %w", err)
	}

	q := turn.New()
	reg := registry.New()
	nd := nondet.New()
	nd.Attach(q)

	rt := &Runtime{
		Config:   cfg,
		Queue:    q,
		Registry: reg,
		Log:      log,
		BaseTime: basetime.NewStore(),
		Logger:   logger,
		Mutexes:  &syncprim.MutexSet{},
		RWLocks:  &syncprim.RWLockSet{},
		Barriers: &syncprim.BarrierSet{},
		Sems:     &syncprim.SemSet{},
		Lineups:  &syncprim.LineupSet{},
		NonDet:   nd,
	}
	rt.Conds = syncprim.NewCondSet(rt.Mutexes)

	if cfg.EnforceNonDetAnnotations && cfg.ExplorerAddr != "" {
		rt.explorer = nondet.NewExplorerServer(nd, logger)
		q.AddListener(rt.explorer)
		go func() {
			if err := rt.explorer.ListenAndServe(cfg.ExplorerAddr); err != nil {
				logger.Errorf("runtime: explorer gateway stopped: %v", err)
			}
		}()
	}

	if cfg.LaunchIdleThread {
		idleLTID := reg.AllocLTID()
		q.RegisterThread(idleLTID)
		rt.idleThread = idle.New(q, idleLTID, rt.sinkFor(), cfg.LogSync)
		go rt.idleThread.Run()
	}

	current.Store(rt)
	return rt, nil
}

// sinkFor adapts *eventlog.Log to turnop.Sink (already satisfied structurally,
// named here so call sites read as intent rather than an implicit
// interface satisfaction).
func (rt *Runtime) sinkFor() turnop.Sink { return rt.Log }

// Abort terminates the process after flushing every open log writer. It
// is the assert-and-exit posture for unrecoverable scheduling violations.
// No package in this module calls it: turn.Queue panics when a thread
// that does not hold the turn releases it, and the wrappers discard
// event-log append errors. Abort itself never panics, since a panic would
// unwind through arbitrary application frames holding arbitrary locks.
func (rt *Runtime) Abort(reason string) {
	rt.Logger.Errorf("dmt: aborting: %s", reason)
	if err := rt.Log.FlushAll(); err != nil {
		rt.Logger.Errorf("dmt: flush on abort failed: %v", err)
	}
	os.Exit(2)
}

// Shutdown stops the idle thread and flushes every event log writer. It
// is safe to call more than once.
func (rt *Runtime) Shutdown() error {
	rt.mu.Lock()
	if rt.shutdown {
		rt.mu.Unlock()
		return nil
	}
	rt.shutdown = true
	rt.mu.Unlock()

	if rt.idleThread != nil {
		rt.idleThread.Stop()
	}
	return rt.Log.FlushAll()
}

// ReinitAfterFork rebuilds the Runtime's scheduling state for a freshly
// forked child, which retains only the calling OS thread. The new Turn
// Queue and Registry start with that single thread as MainThreadLTID,
// exactly as a fresh process would, while the event log's run id and
// output directory carry over so forked children log into the same tree
// as distinct writer files (tid-<pid>-<ltid> already disambiguates by
// pid). The idle thread, if configured, is restarted.
func (rt *Runtime) ReinitAfterFork() {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.idleThread != nil {
		rt.idleThread.Stop()
	}

	rt.Queue = turn.New()
	rt.Registry = registry.New()
	rt.BaseTime = basetime.NewStore()
	rt.Mutexes = &syncprim.MutexSet{}
	rt.RWLocks = &syncprim.RWLockSet{}
	rt.Barriers = &syncprim.BarrierSet{}
	rt.Sems = &syncprim.SemSet{}
	rt.Lineups = &syncprim.LineupSet{}
	rt.Conds = syncprim.NewCondSet(rt.Mutexes)
	rt.NonDet = nondet.New()
	rt.NonDet.Attach(rt.Queue)
	rt.shutdown = false

	if rt.Config.LaunchIdleThread {
		idleLTID := rt.Registry.AllocLTID()
		rt.Queue.RegisterThread(idleLTID)
		rt.idleThread = idle.New(rt.Queue, idleLTID, rt.sinkFor(), rt.Config.LogSync)
		go rt.idleThread.Run()
	}
}
