package idle

import (
	"testing"
	"time"

	"github.com/kolkov/dmt/internal/dmt/turn"
)

func TestRunAdvancesTurnCounterThenStops(t *testing.T) {
	q := turn.New()
	th := New(q, turn.MainThreadLTID, nil, false)

	done := make(chan struct{})
	go func() {
		th.Run()
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for q.GetTurnCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("idle thread never advanced the turn counter")
		}
		time.Sleep(time.Millisecond)
	}

	th.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run never returned after Stop")
	}
}

func TestStopIsIdempotentForOneCaller(t *testing.T) {
	q := turn.New()
	th := New(q, turn.MainThreadLTID, nil, false)

	done := make(chan struct{})
	go func() {
		th.Run()
		close(done)
	}()

	th.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run never returned after Stop")
	}

	// A second Stop after Run has exited must return without panicking.
	th.Stop()
}
