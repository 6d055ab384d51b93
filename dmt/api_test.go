package dmt

import (
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/kolkov/dmt/internal/dmt/config"
	dmtruntime "github.com/kolkov/dmt/internal/dmt/runtime"
	"github.com/kolkov/dmt/internal/dmt/turn"
)

func testConfig(t *testing.T) config.Config {
	cfg := config.Default()
	cfg.OutputDir = t.TempDir()
	cfg.LaunchIdleThread = false
	cfg.ExplorerAddr = ""
	return cfg
}

func TestDisabledHooksAreNoOps(t *testing.T) {
	cfg := testConfig(t)
	cfg.DMT = false
	if err := Init(cfg); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer Fini()

	MutexInit(0, nil, 0x1)
	MutexLock(0, nil, 0x1)
	if !MutexTryLock(0, nil, 0x1) {
		t.Fatal("expected disabled MutexTryLock to report success")
	}
	MutexUnlock(0, nil, 0x1)
	if serial := BarrierWait(0, nil, 0x2); serial {
		t.Fatal("expected disabled BarrierWait to report false")
	}
}

func TestMutexLifecycle(t *testing.T) {
	if err := Init(testConfig(t)); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer Fini()

	const addr uintptr = 0x1000
	MutexInit(0, nil, addr)
	MutexLock(0, nil, addr)
	if MutexTryLock(0, nil, addr) {
		t.Fatal("expected TryLock to fail on an already-held mutex")
	}
	MutexUnlock(0, nil, addr)
	if !MutexTryLock(0, nil, addr) {
		t.Fatal("expected TryLock to succeed once unlocked")
	}
	MutexUnlock(0, nil, addr)
	MutexDestroy(0, nil, addr)
}

func TestBarrierSingleParticipantIsImmediatelySerial(t *testing.T) {
	if err := Init(testConfig(t)); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer Fini()

	const addr uintptr = 0x2000
	BarrierInit(0, nil, addr, 1)
	if !BarrierWait(0, nil, addr) {
		t.Fatal("expected the sole participant to be the serial thread")
	}
}

func TestSemaphoreLifecycle(t *testing.T) {
	if err := Init(testConfig(t)); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer Fini()

	const addr uintptr = 0x3000
	SemInit(0, nil, addr, 1)
	if !SemTryWait(0, nil, addr) {
		t.Fatal("expected TryWait to succeed with count=1")
	}
	if SemTryWait(0, nil, addr) {
		t.Fatal("expected TryWait to fail with count=0")
	}
	SemPost(0, nil, addr)
	if !SemTryWait(0, nil, addr) {
		t.Fatal("expected TryWait to succeed after Post")
	}
	SemDestroy(0, nil, addr)
}

// TestCondSignalAcrossThreads exercises CondWait/CondSignal through the
// package's public hooks, spawning a second thread via the same creation
// handshake a compiler-instrumented pthread_create call would use.
func TestCondSignalAcrossThreads(t *testing.T) {
	if err := Init(testConfig(t)); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer Fini()

	rt := dmtruntime.Global()
	const cv uintptr = 0x4000
	const mu uintptr = 0x4001

	MutexInit(0, nil, mu)
	MutexLock(0, nil, mu)

	childLTID := rt.Registry.AllocLTID()
	rt.Queue.RegisterThread(childLTID)

	waiterDone := make(chan struct{})
	rt.Registry.SpawnChild(childLTID, func(ltid turn.LTID) {
		CondWait(0, nil, cv, mu)
		close(waiterDone)
	})

	rt.Queue.GetTurn(turn.MainThreadLTID)
	rt.Queue.PutTurn(turn.MainThreadLTID, false)
	rt.Queue.GetTurn(turn.MainThreadLTID)
	rt.Queue.PutTurn(turn.MainThreadLTID, false)

	MutexLock(0, nil, mu)
	CondSignal(0, nil, cv)
	MutexUnlock(0, nil, mu)

	select {
	case <-waiterDone:
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never returned from CondWait after CondSignal")
	}
}

// TestSetBaseTimespecAffectsTimedLock checks that a timed lock converts
// its absolute deadline relative to the caller's own base time rather
// than wall-clock now.
func TestSetBaseTimespecAffectsTimedLock(t *testing.T) {
	if err := Init(testConfig(t)); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer Fini()

	rt := dmtruntime.Global()
	const addr uintptr = 0x5000

	MutexInit(0, nil, addr)
	MutexLock(0, nil, addr)

	base := time.Unix(1000, 0)
	var errno int32
	done := make(chan bool, 1)
	childLTID := rt.Registry.AllocLTID()
	rt.Queue.RegisterThread(childLTID)
	rt.Registry.SpawnChild(childLTID, func(ltid turn.LTID) {
		SetBaseTimespec(base)
		ok := MutexTimedLock(0, &errno, addr, base.Add(time.Microsecond))
		done <- ok
		ThreadEnd(0, nil)
	})

	for i := 0; i < 20; i++ {
		rt.Queue.GetTurn(turn.MainThreadLTID)
		rt.Queue.PutTurn(turn.MainThreadLTID, false)
	}

	select {
	case ok := <-done:
		if ok {
			t.Fatal("expected MutexTimedLock to report timed out while the mutex stays held")
		}
		if errno != int32(unix.ETIMEDOUT) {
			t.Fatalf("expected errno set to ETIMEDOUT, got %d", errno)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("MutexTimedLock never returned")
	}
}

func TestSymbolicDoesNotPanicWhenEnabled(t *testing.T) {
	if err := Init(testConfig(t)); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer Fini()
	Symbolic(0, nil, 0x6000, 8, "counter")
}
