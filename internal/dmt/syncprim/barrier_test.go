package syncprim

import (
	"sync"
	"testing"

	"github.com/kolkov/dmt/internal/dmt/turn"
)

// TestBarrierRelease is scenario S2: N=8 threads call Wait on a barrier
// of count 8. Exactly one reports isSerial; the rest report false.
func TestBarrierRelease(t *testing.T) {
	const n = 8
	q := turn.New()
	for i := turn.LTID(1); i < n; i++ {
		q.RegisterThread(i)
	}

	var b BarrierSet
	const addr uintptr = 0x4000
	b.Init(q, turn.MainThreadLTID, nil, false, 0, addr, n)

	results := make([]bool, n)
	var wg sync.WaitGroup
	wg.Add(n)

	for i := turn.LTID(0); i < n; i++ {
		go func(ltid turn.LTID) {
			defer wg.Done()
			results[ltid] = b.Wait(q, ltid, nil, false, 0, addr)
		}(i)
	}
	wg.Wait()

	serialCount := 0
	for _, r := range results {
		if r {
			serialCount++
		}
	}
	if serialCount != 1 {
		t.Fatalf("expected exactly one serial thread, got %d among %v", serialCount, results)
	}
}

func TestBarrierWaitBeforeInitPanics(t *testing.T) {
	q := turn.New()
	var b BarrierSet

	defer func() {
		if recover() == nil {
			t.Fatal("expected Wait on an un-Init'd barrier to panic")
		}
	}()
	b.Wait(q, turn.MainThreadLTID, nil, false, 0, 0x5000)
}
