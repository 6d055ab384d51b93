package nondet

import (
	"testing"
	"time"

	"github.com/kolkov/dmt/internal/dmt/eventlog"
	"github.com/kolkov/dmt/internal/dmt/turn"
)

// TestSoloThreadEnterSelfQuiesces checks that a single thread entering a
// region is unblocked by its own quiescence: once it parks, the run queue
// is empty, OnQuiesced fires, and SignalQuiescent admits it immediately.
func TestSoloThreadEnterSelfQuiesces(t *testing.T) {
	q := turn.New()
	d := New()
	d.Attach(q)

	done := make(chan struct{})
	go func() {
		d.Enter(q, turn.MainThreadLTID, nil, false, 0)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Enter never returned for a solo thread")
	}

	if !d.IsInNonDet(turn.MainThreadLTID) {
		t.Fatal("expected the calling thread to be marked in-non-det")
	}
}

func TestExitClearsFlagAndRejoinsRunQueue(t *testing.T) {
	q := turn.New()
	d := New()
	d.Attach(q)

	d.Enter(q, turn.MainThreadLTID, nil, false, 0)
	if !d.IsInNonDet(turn.MainThreadLTID) {
		t.Fatal("expected in-non-det after Enter")
	}

	d.Exit(q, turn.MainThreadLTID, nil, false, 0)
	if d.IsInNonDet(turn.MainThreadLTID) {
		t.Fatal("expected IsInNonDet to clear after Exit")
	}

	// Exit's turnop.Do leaves ltid back at the run-queue head; a further
	// turn cycle must succeed without blocking.
	q.GetTurn(turn.MainThreadLTID)
	q.PutTurn(turn.MainThreadLTID, false)
}

func TestEnterWaitsForOtherThreadToQuiesce(t *testing.T) {
	q := turn.New()
	q.RegisterThread(1)
	d := New()
	d.Attach(q)

	enteredNonDet := make(chan struct{})
	go func() {
		d.Enter(q, turn.MainThreadLTID, nil, false, 0)
		close(enteredNonDet)
	}()

	select {
	case <-enteredNonDet:
		t.Fatal("Enter returned before the other registered thread quiesced")
	case <-time.After(100 * time.Millisecond):
	}

	// Thread 1 parks on an ordinary wait channel, quiescing the run queue
	// and allowing main's Enter to complete.
	go func() {
		q.GetTurn(1)
		q.Wait(1, 0xAAAA, 0)
	}()

	select {
	case <-enteredNonDet:
	case <-time.After(2 * time.Second):
		t.Fatal("Enter never returned once the other thread quiesced")
	}
}

func TestSnapshotReportsThreadsInRegion(t *testing.T) {
	q := turn.New()
	d := New()
	d.Attach(q)

	d.Enter(q, turn.MainThreadLTID, nil, false, 0)
	snap := d.Snapshot()
	if len(snap) != 1 || snap[0] != turn.MainThreadLTID {
		t.Fatalf("Snapshot() = %v, want [%v]", snap, turn.MainThreadLTID)
	}

	d.Exit(q, turn.MainThreadLTID, nil, false, 0)
	if snap := d.Snapshot(); len(snap) != 0 {
		t.Fatalf("expected empty Snapshot after Exit, got %v", snap)
	}
}

func TestBarrierEndLogsOnlyWhenSinkEnabled(t *testing.T) {
	d := New()
	// With no sink, BarrierEnd must not panic.
	d.BarrierEnd(nil, false, 0, turn.MainThreadLTID, 0x1234, 4)

	rec := &recordingSink{}
	d.BarrierEnd(rec, true, 7, turn.MainThreadLTID, 0x1234, 4)
	if len(rec.records) != 1 {
		t.Fatalf("expected one logged record, got %d", len(rec.records))
	}
}

type recordingSink struct {
	records []eventlog.Record
}

func (r *recordingSink) Append(ltid uint32, rec eventlog.Record) error {
	r.records = append(r.records, rec)
	return nil
}
