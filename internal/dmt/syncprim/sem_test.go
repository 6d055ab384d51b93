package syncprim

import (
	"testing"
	"time"

	"github.com/kolkov/dmt/internal/dmt/turn"
)

func TestSemWaitPost(t *testing.T) {
	q := turn.New()

	var s SemSet
	const addr uintptr = 0x7000
	s.Init(q, turn.MainThreadLTID, nil, false, 0, addr, 0)

	q.RegisterThread(1)
	done := make(chan struct{})
	go func() {
		s.Wait(q, 1, nil, false, 0, addr)
		close(done)
	}()

	q.GetTurn(turn.MainThreadLTID)
	q.PutTurn(turn.MainThreadLTID, false)
	q.GetTurn(turn.MainThreadLTID)
	q.PutTurn(turn.MainThreadLTID, false)

	s.Post(q, turn.MainThreadLTID, nil, false, 0, addr)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Post never released the waiting Wait call")
	}
}

func TestSemTryWait(t *testing.T) {
	q := turn.New()

	var s SemSet
	const addr uintptr = 0x7100
	s.Init(q, turn.MainThreadLTID, nil, false, 0, addr, 1)

	if !s.TryWait(q, turn.MainThreadLTID, nil, false, 0, addr) {
		t.Fatal("expected TryWait to succeed with count=1")
	}
	if s.TryWait(q, turn.MainThreadLTID, nil, false, 0, addr) {
		t.Fatal("expected TryWait to fail with count=0")
	}
}

// TestSemTimedWaitTimeout is scenario S4: with no Post, a timed wait must
// return ETIMEDOUT once the turn counter reaches the deadline.
func TestSemTimedWaitTimeout(t *testing.T) {
	q := turn.New()

	var s SemSet
	const addr uintptr = 0x7200
	s.Init(q, turn.MainThreadLTID, nil, false, 0, addr, 0)

	q.RegisterThread(1)
	done := make(chan bool, 1)
	go func() {
		done <- s.TimedWait(q, 1, nil, false, 0, addr, 10)
	}()

	for i := 0; i < 12; i++ {
		q.GetTurn(turn.MainThreadLTID)
		q.PutTurn(turn.MainThreadLTID, false)
	}

	select {
	case timedOut := <-done:
		if !timedOut {
			t.Fatal("expected TimedWait to time out with no Post")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("TimedWait never returned")
	}
}
