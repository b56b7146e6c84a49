// Package observer implements the "single event channel the controller
// exposes" design note of spec.md §9: a websocket hub that subscribes to
// the same eventbus.Bus the controller, stations, aggregator, and logger
// all publish to, and broadcasts every event as JSON to connected
// observers. It is explicitly not the graphical front-end spec.md §1
// marks out of scope — no rendering, no input handling, no bundled
// client, just the wire contract.
//
// Grounded on the teacher's internal/web/hub.go: a register/unregister/
// broadcast channel triangle guarding a client set, generalized from
// broadcasting one GlobalState snapshot type to broadcasting every
// eventbus.Event.
package observer

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/elcorderodedios/assemblyline/internal/eventbus"
)

// Hub manages every connected websocket observer and fans out broadcasts
// to all of them.
type Hub struct {
	log *slog.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]bool

	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewHub creates a Hub. Call Run to start its dispatch loop.
func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		log:        log.With("component", "observer"),
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Run drives the hub's dispatch loop until Stop is called. It is meant to
// run in its own goroutine for the life of the process.
func (h *Hub) Run() {
	defer close(h.doneCh)
	for {
		select {
		case <-h.stopCh:
			h.mu.Lock()
			for conn := range h.clients {
				conn.Close()
				delete(h.clients, conn)
			}
			h.mu.Unlock()
			return
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			h.mu.Unlock()
		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			h.mu.Unlock()
		case message := <-h.broadcast:
			h.mu.Lock()
			for conn := range h.clients {
				if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
					h.log.Warn("websocket write failed, dropping observer", "error", err)
					conn.Close()
					delete(h.clients, conn)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Stop halts the dispatch loop and closes every connected observer.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stopCh) })
	<-h.doneCh
}

// Broadcast marshals v to JSON and queues it for every connected observer.
// A marshal failure is logged and dropped, not propagated, since this is
// a best-effort observability surface (spec.md §9's "wire contract only").
func (h *Hub) Broadcast(v interface{}) {
	message, err := json.Marshal(v)
	if err != nil {
		h.log.Error("failed to marshal observer broadcast", "error", err)
		return
	}
	select {
	case h.broadcast <- message:
	case <-h.stopCh:
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWs upgrades an HTTP request to a websocket connection and
// registers it as an observer. The connection is write-only from the
// server's side: this module has no input handling to offer (spec.md §1
// Non-goals).
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("websocket upgrade failed", "error", err)
		return
	}
	h.register <- conn
}

// WireEvent is the JSON shape broadcast for every eventbus.Event — a flat
// envelope carrying whichever fields that event's Kind populates.
type WireEvent struct {
	Kind                string             `json:"kind"`
	Station             string             `json:"station,omitempty"`
	Product             string             `json:"product,omitempty"`
	NewState            string             `json:"newState,omitempty"`
	Message             string             `json:"message,omitempty"`
	InputDepth          int                `json:"inputDepth,omitempty"`
	ThroughputPerMinute float64            `json:"throughputPerMinute,omitempty"`
	AlertKind           string             `json:"alertKind,omitempty"`
	AlertValue          float64            `json:"alertValue,omitempty"`
	Current             map[string]float64 `json:"current,omitempty"`
	Derived             map[string]float64 `json:"derived,omitempty"`
	LogRecord           *eventbus.LogRecord `json:"logRecord,omitempty"`
}

// Bridge subscribes to every event kind on bus and broadcasts each as a
// WireEvent. It returns the eventbus.Subscription list so a caller can
// tear the bridge down on shutdown.
func Bridge(bus *eventbus.Bus, hub *Hub) []eventbus.Subscription {
	handler := func(e eventbus.Event) {
		w := WireEvent{
			Kind:                string(e.Kind),
			Station:             e.Station,
			Product:             e.Product,
			NewState:            e.NewState,
			Message:             e.Message,
			InputDepth:          e.InputDepth,
			ThroughputPerMinute: e.ThroughputPerMinute,
			AlertKind:           e.AlertKind,
			AlertValue:          e.AlertValue,
			Current:             e.Current,
			Derived:             e.Derived,
		}
		if e.Kind == eventbus.LogEntryAdded {
			rec := e.LogRecord
			w.LogRecord = &rec
		}
		hub.Broadcast(w)
	}
	return bus.SubscribeAll(handler,
		eventbus.ProductionStarted, eventbus.ProductionPaused, eventbus.ProductionResumed,
		eventbus.ProductionStopped, eventbus.ProductionReset, eventbus.ProductFinished,
		eventbus.StatisticsUpdated, eventbus.ErrorOccurred,
		eventbus.StateChanged, eventbus.ProductProcessed, eventbus.ProductRejected,
		eventbus.StationError, eventbus.MetricsUpdated,
		eventbus.StatsUpdated, eventbus.AggregatedStatsChanged, eventbus.AlertTriggered,
		eventbus.LogEntryAdded,
	)
}
