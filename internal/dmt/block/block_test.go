package block

import (
	"os"
	"testing"

	"github.com/kolkov/dmt/internal/dmt/turn"
)

func TestClassifyFileRegular(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "regular")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	defer f.Close()

	kind, err := ClassifyFile(f)
	if err != nil {
		t.Fatalf("ClassifyFile: %v", err)
	}
	if kind != KindRegular {
		t.Fatalf("expected KindRegular, got %v", kind)
	}
	if NeedsBracketing(kind) {
		t.Fatal("expected a regular file not to need Block/Wakeup bracketing")
	}
}

func TestClassifyFilePipe(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()

	kind, err := ClassifyFile(r)
	if err != nil {
		t.Fatalf("ClassifyFile: %v", err)
	}
	if kind != KindFIFO {
		t.Fatalf("expected KindFIFO for a pipe, got %v", kind)
	}
	if !NeedsBracketing(kind) {
		t.Fatal("expected a pipe to need Block/Wakeup bracketing")
	}
}

func TestAroundDetachesAndReattaches(t *testing.T) {
	q := turn.New()

	ranFn := false
	result := Around(q, turn.MainThreadLTID, nil, false, 0, func() int {
		ranFn = true
		return 42
	})
	if !ranFn {
		t.Fatal("expected Around to invoke fn")
	}
	if result != 42 {
		t.Fatalf("Around returned %d, want 42", result)
	}

	// Around releases the turn itself after logging; a further cycle
	// must still succeed without blocking.
	q.GetTurn(turn.MainThreadLTID)
	q.PutTurn(turn.MainThreadLTID, false)
}

func TestAroundAllowsOtherThreadToRunWhileDetached(t *testing.T) {
	q := turn.New()
	q.RegisterThread(1)

	otherRan := make(chan struct{})
	release := make(chan struct{})
	go func() {
		q.GetTurn(1)
		close(otherRan)
		<-release
		q.PutTurn(1, true)
	}()

	Around(q, turn.MainThreadLTID, nil, false, 0, func() int {
		<-otherRan
		close(release)
		return 0
	})
}
