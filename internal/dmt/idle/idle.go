// Package idle implements the idle thread: a dedicated logical thread
// that keeps taking and releasing turns even when every application
// thread is parked, so turn-based timeouts (Wait's timeoutTurn, a
// lineup's bounded wait) keep advancing instead of stalling forever.
//
// It uses github.com/glycerine/idem for the shutdown handshake: a Halter
// whose ReqStop channel is selected against instead of a bare done
// channel, so the goroutine can also signal back once it has actually
// exited.
package idle

import (
	"time"

	"github.com/glycerine/idem"

	"github.com/kolkov/dmt/internal/dmt/eventlog"
	"github.com/kolkov/dmt/internal/dmt/turn"
	"github.com/kolkov/dmt/internal/dmt/turnop"
)

// SleepInterval is the real-time pause the idle thread takes between
// turns, so it does not spin a CPU core while waiting for application
// threads to either run or register new timeouts.
const SleepInterval = 200 * time.Microsecond

// Thread is the idle thread. It must be registered with the Thread
// Registry and Turn Queue like any other logical thread before Run is
// called.
type Thread struct {
	ltid    turn.LTID
	q       *turn.Queue
	sink    turnop.Sink
	logSync bool
	halt    *idem.Halter
}

// New creates an idle thread bound to ltid, which the caller must already
// have registered via the Thread Registry's normal spawn path.
func New(q *turn.Queue, ltid turn.LTID, sink turnop.Sink, logSync bool) *Thread {
	return &Thread{
		ltid:    ltid,
		q:       q,
		sink:    sink,
		logSync: logSync,
		halt:    idem.NewHalter(),
	}
}

// Run loops taking and releasing the turn, logging an OpIdle record each
// cycle, until Stop is called. It is meant to run in its own goroutine
// for the lifetime of the dmt runtime.
func (t *Thread) Run() {
	defer t.halt.Done.Close()
	for {
		select {
		case <-t.halt.ReqStop.Chan:
			return
		default:
		}

		turnop.Do(t.q, t.ltid, t.sink, t.logSync, false, func() (struct{}, turnop.Result) {
			return struct{}{}, turnop.Result{Op: eventlog.OpIdle}
		})

		select {
		case <-t.halt.ReqStop.Chan:
			return
		case <-time.After(SleepInterval):
		}
	}
}

// Stop requests the idle thread exit and blocks until it has, per the
// Halter idiom: ReqStop asks, Done confirms.
func (t *Thread) Stop() {
	t.halt.ReqStop.Close()
	<-t.halt.Done.Chan
}
