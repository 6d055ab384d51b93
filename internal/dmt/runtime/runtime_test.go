package runtime

import (
	"testing"

	"github.com/kolkov/dmt/internal/dmt/config"
)

func testConfig(t *testing.T) config.Config {
	cfg := config.Default()
	cfg.OutputDir = t.TempDir()
	cfg.LaunchIdleThread = false
	cfg.ExplorerAddr = ""
	return cfg
}

func TestInitInstallsGlobal(t *testing.T) {
	rt, err := Init(testConfig(t))
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer rt.Shutdown()

	if Global() != rt {
		t.Fatal("expected Global() to return the just-initialized Runtime")
	}
	if rt.Queue == nil || rt.Registry == nil || rt.Log == nil {
		t.Fatal("expected Init to populate Queue, Registry, and Log")
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	rt, err := Init(testConfig(t))
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := rt.Shutdown(); err != nil {
		t.Fatalf("first Shutdown: %v", err)
	}
	if err := rt.Shutdown(); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}

func TestReinitAfterForkResetsSchedulingState(t *testing.T) {
	rt, err := Init(testConfig(t))
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer rt.Shutdown()

	oldQueue := rt.Queue
	oldRegistry := rt.Registry

	rt.ReinitAfterFork()

	if rt.Queue == oldQueue {
		t.Fatal("expected ReinitAfterFork to install a fresh Turn Queue")
	}
	if rt.Registry == oldRegistry {
		t.Fatal("expected ReinitAfterFork to install a fresh Thread Registry")
	}
	if rt.Registry.Self() != 0 {
		t.Fatalf("expected the reinit'd registry to bind the caller to MainThreadLTID, got %v", rt.Registry.Self())
	}

	// A turn cycle on the fresh queue must work immediately.
	rt.Queue.GetTurn(0)
	rt.Queue.PutTurn(0, false)
}

func TestInitWithIdleThreadStartsAndStops(t *testing.T) {
	cfg := testConfig(t)
	cfg.LaunchIdleThread = true

	rt, err := Init(cfg)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if rt.idleThread == nil {
		t.Fatal("expected Init to launch an idle thread when configured")
	}
	if err := rt.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}
