package nondet

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/kolkov/dmt/internal/dmt/dmtlog"
	"github.com/kolkov/dmt/internal/dmt/turn"
)

// quiescenceFrame is sent to every connected explorer each time the
// deterministic side quiesces with at least one thread parked in a
// non-det region.
type quiescenceFrame struct {
	NonDetLTIDs []uint32 `json:"non_det_ltids"`
}

// stepCommand is what an explorer sends back naming which LTID to let
// proceed next. This gateway is purely observational/advisory: it does
// not itself gate NonDetEnd, since nothing in this module's scope
// requires blocking a thread's own decision to leave its region; the
// command exists for a driver that wants to correlate its own stepping
// decisions with the frames it receives.
type stepCommand struct {
	LTID uint32 `json:"ltid"`
}

// ExplorerServer is a gorilla/websocket endpoint an out-of-process
// explorer connects to in order to observe which threads are currently
// parked inside non-det regions: an upgrader plus a registered-client map
// fans out Domain snapshots over a broadcast channel.
type ExplorerServer struct {
	domain   *Domain
	upgrader websocket.Upgrader
	log      *dmtlog.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]bool

	broadcast chan quiescenceFrame
	steps     chan stepCommand
}

// NewExplorerServer creates a gateway that fans out domain's quiescence
// snapshots to connected clients.
func NewExplorerServer(domain *Domain, log *dmtlog.Logger) *ExplorerServer {
	s := &ExplorerServer{
		domain: domain,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log:       log,
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan quiescenceFrame, 16),
		steps:     make(chan stepCommand, 16),
	}
	go s.run()
	return s
}

func (s *ExplorerServer) run() {
	for frame := range s.broadcast {
		data, err := json.Marshal(frame)
		if err != nil {
			s.log.Errorf("explorer: marshal frame: %v", err)
			continue
		}
		s.mu.Lock()
		for conn := range s.clients {
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.log.Warnf("explorer: write to client failed: %v", err)
				delete(s.clients, conn)
				_ = conn.Close()
			}
		}
		s.mu.Unlock()
	}
}

// OnScheduled, OnBlocked and OnWakeup are no-ops: the gateway only
// broadcasts on quiescence, but it must implement the full turn.Listener
// interface to register itself via AddListener.
func (s *ExplorerServer) OnScheduled(turn.LTID, uint64) {}
func (s *ExplorerServer) OnBlocked(turn.LTID)           {}
func (s *ExplorerServer) OnWakeup(turn.LTID)            {}

// OnQuiesced implements turn.Listener alongside Domain: whenever the
// deterministic side quiesces, broadcast the current non-det snapshot to
// every connected explorer, if any threads are actually parked.
func (s *ExplorerServer) OnQuiesced() {
	ltids := s.domain.Snapshot()
	if len(ltids) == 0 {
		return
	}
	frame := quiescenceFrame{NonDetLTIDs: make([]uint32, len(ltids))}
	for i, l := range ltids {
		frame.NonDetLTIDs[i] = uint32(l)
	}
	select {
	case s.broadcast <- frame:
	default:
		s.log.Warnf("explorer: broadcast channel full, dropping quiescence frame")
	}
}

// ServeHTTP upgrades the connection and registers it as an explorer
// client, then reads step commands until the client disconnects.
func (s *ExplorerServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Errorf("explorer: upgrade failed: %v", err)
		return
	}

	s.mu.Lock()
	s.clients[conn] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.clients, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.log.Warnf("explorer: connection error: %v", err)
			}
			return
		}
		var cmd stepCommand
		if err := json.Unmarshal(message, &cmd); err != nil {
			s.log.Warnf("explorer: bad step command: %v", err)
			continue
		}
		select {
		case s.steps <- cmd:
		default:
		}
	}
}

// NextStep blocks until an explorer sends a step command and returns the
// named LTID, for a caller wiring the gateway into an actual driver loop.
func (s *ExplorerServer) NextStep() turn.LTID {
	cmd := <-s.steps
	return turn.LTID(cmd.LTID)
}

// ListenAndServe runs the gateway's HTTP server on addr until it returns
// an error (typically from the listener being closed).
func (s *ExplorerServer) ListenAndServe(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/", s)
	if err := http.ListenAndServe(addr, mux); err != nil { //nolint:gosec // explorer gateway is a local debugging aid, not internet-facing
		return fmt.Errorf("explorer: listen on %s: %w", addr, err)
	}
	return nil
}
