package turn

import (
	"runtime"
	"sync"
	"testing"
)

func TestGetPutTurnRoundRobin(t *testing.T) {
	q := New()
	q.RegisterThread(1)
	q.RegisterThread(2)

	var order []LTID
	var mu sync.Mutex
	var wg sync.WaitGroup

	run := func(ltid LTID) {
		defer wg.Done()
		q.GetTurn(ltid)
		mu.Lock()
		order = append(order, ltid)
		mu.Unlock()
		q.PutTurn(ltid, false)
	}

	wg.Add(3)
	go run(MainThreadLTID)
	go run(1)
	go run(2)
	wg.Wait()

	if len(order) != 3 {
		t.Fatalf("expected 3 turns taken, got %d", len(order))
	}
}

func TestWaitSignalFIFO(t *testing.T) {
	q := New()
	q.RegisterThread(1)
	q.RegisterThread(2)

	const channel uintptr = 0xABCD

	released := make(chan LTID, 2)
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		q.GetTurn(1)
		q.Wait(1, channel, 0)
		released <- 1
		q.PutTurn(1, false)
	}()
	go func() {
		defer wg.Done()
		q.GetTurn(2)
		q.Wait(2, channel, 0)
		released <- 2
		q.PutTurn(2, false)
	}()

	// Round 1: let both threads reach their Wait call and park. The turn
	// queue's strict FIFO handoff makes this deterministic: by the time
	// this GetTurn/PutTurn pair completes once more, both 1 and 2 have
	// already taken and released (by parking) their first turn.
	q.GetTurn(MainThreadLTID)
	q.PutTurn(MainThreadLTID, false)
	q.GetTurn(MainThreadLTID)

	// Round 2: release both, in the order they parked.
	q.Signal(MainThreadLTID, channel, true)
	q.PutTurn(MainThreadLTID, false)

	wg.Wait()
	close(released)

	var order []LTID
	for l := range released {
		order = append(order, l)
	}
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("expected FIFO release order [1 2], got %v", order)
	}
}

func TestWaitTimeout(t *testing.T) {
	q := New()
	q.RegisterThread(1)

	const channel uintptr = 1

	done := make(chan WaitResult, 1)
	go func() {
		q.GetTurn(1)
		result := q.Wait(1, channel, 3)
		done <- result
		q.PutTurn(1, false)
	}()

	for i := 0; i < 5; i++ {
		q.GetTurn(MainThreadLTID)
		q.PutTurn(MainThreadLTID, false)
	}

	result := <-done
	if result != WaitTimedOut {
		t.Fatalf("expected WaitTimedOut, got %v", result)
	}
}

func TestBlockWakeup(t *testing.T) {
	q := New()

	q.GetTurn(MainThreadLTID)
	q.Block(MainThreadLTID)

	if q.RunQueueLen() != 0 {
		t.Fatalf("expected empty run queue after Block, got %d", q.RunQueueLen())
	}

	// Wakeup on an empty run queue must re-splice ltid as the new head
	// immediately, not merely append it to a nonexistent tail.
	q.Wakeup(MainThreadLTID)
	q.GetTurn(MainThreadLTID)
	q.PutTurn(MainThreadLTID, false)
}

type quiesceCounter struct {
	mu    sync.Mutex
	count int
}

func (c *quiesceCounter) OnScheduled(LTID, uint64) {}
func (c *quiesceCounter) OnBlocked(LTID)           {}
func (c *quiesceCounter) OnWakeup(LTID)            {}
func (c *quiesceCounter) OnQuiesced() {
	c.mu.Lock()
	c.count++
	c.mu.Unlock()
}

func TestOnQuiescedFiresWhenRunQueueEmpty(t *testing.T) {
	q := New()
	counter := &quiesceCounter{}
	q.AddListener(counter)

	q.GetTurn(MainThreadLTID)
	q.Block(MainThreadLTID)

	counter.mu.Lock()
	got := counter.count
	counter.mu.Unlock()
	if got != 1 {
		t.Fatalf("expected OnQuiesced to fire exactly once, got %d", got)
	}
}

func TestSignalQuiescentOnlyWhenEmpty(t *testing.T) {
	q := New()
	const channel uintptr = 42

	// Run queue non-empty: SignalQuiescent must be a no-op.
	q.SignalQuiescent(channel)

	q.RegisterThread(1)
	done := make(chan struct{})
	go func() {
		q.GetTurn(1)
		q.Wait(1, channel, 0)
		close(done)
	}()

	q.GetTurn(MainThreadLTID)
	q.Block(MainThreadLTID)
	// Wait until thread 1 has parked on channel; with main detached the
	// run queue is then empty.
	for q.RunQueueLen() != 0 {
		runtime.Gosched()
	}
	q.SignalQuiescent(channel)

	<-done
}

func TestMustBeHeadPanicsOnMisuse(t *testing.T) {
	q := New()
	q.RegisterThread(1)

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic when a non-head thread calls PutTurn")
		}
	}()
	q.PutTurn(1, false)
}
