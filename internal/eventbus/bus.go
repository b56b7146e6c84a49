// Package eventbus implements the single typed event channel described in
// spec.md §9's "Cross-thread events" design note: every station,
// controller, aggregator, and logger event is a typed variant posted to
// one channel, which any number of observers (§4.3's event routing, the
// websocket bridge in internal/observer) can drain on their own cadence.
//
// Grounded on internal/event/bus.go from the teacher repo: that bus keyed
// handlers by event type and fanned out with a goroutine per handler. This
// version generalizes the same shape to a closed set of typed event
// payloads instead of a single untyped struct, and adds an unsubscribe
// handle so a subscriber can revoke its own registration.
package eventbus

import "sync"

// Kind identifies one of the event families named in spec.md §6.
type Kind string

const (
	// Controller events.
	ProductionStarted  Kind = "productionStarted"
	ProductionPaused   Kind = "productionPaused"
	ProductionResumed  Kind = "productionResumed"
	ProductionStopped  Kind = "productionStopped"
	ProductionReset    Kind = "productionReset"
	ProductFinished    Kind = "productFinished"
	StatisticsUpdated  Kind = "statisticsUpdated"
	ErrorOccurred      Kind = "errorOccurred"

	// Station events.
	StateChanged      Kind = "stateChanged"
	ProductProcessed  Kind = "productProcessed"
	ProductRejected   Kind = "productRejected"
	StationError      Kind = "stationErrorOccurred"
	MetricsUpdated    Kind = "metricsUpdated"

	// Aggregator events.
	StatsUpdated           Kind = "statsUpdated"
	AggregatedStatsChanged Kind = "aggregatedStatsChanged"
	AlertTriggered         Kind = "alertTriggered"

	// Logger events.
	LogEntryAdded Kind = "logEntryAdded"
)

// Event is the envelope carried on the bus. Fields are populated per the
// name lists in spec.md §6; a given Kind only populates the fields
// meaningful to it, leaving the rest at zero value.
type Event struct {
	Kind Kind

	// Station/controller identity.
	Station string
	Product string // product ID

	// Station/controller payloads.
	NewState string
	Message  string
	InputDepth          int
	ThroughputPerMinute float64

	// Aggregator payloads.
	AlertKind  string
	AlertValue float64
	Current    map[string]float64
	Derived    map[string]float64

	// Logger payload.
	LogRecord LogRecord

	Err error
}

// LogRecord mirrors the logEntryAdded fields from spec.md §6.
type LogRecord struct {
	Timestamp  string
	Level      string
	Category   string
	ThreadName string
	Message    string
}

// Handler receives a published Event. It must not block for long: the bus
// invokes handlers asynchronously (one goroutine per handler per publish,
// as in the teacher's bus), but a handler that never returns leaks
// goroutines across resets.
type Handler func(Event)

// Subscription is returned by Subscribe and revokes that one registration
// when cancelled. cmd/factoryd cancels the observer bridge's
// subscriptions this way on shutdown; the controller's own subscriptions
// stay registered for the controller's lifetime, across Reset.
type Subscription struct {
	bus *Bus
	id  uint64
}

// Cancel removes the subscription. It is safe to call more than once.
func (s Subscription) Cancel() {
	if s.bus == nil {
		return
	}
	s.bus.unsubscribe(s.id)
}

type entry struct {
	id      uint64
	kind    Kind
	handler Handler
}

// Bus is a simple in-memory, type-keyed publish/subscribe channel. It is
// the "single event channel the controller exposes" of spec.md §9.
type Bus struct {
	mu      sync.RWMutex
	nextID  uint64
	entries map[Kind][]entry
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{entries: make(map[Kind][]entry)}
}

// Subscribe registers handler for events of the given kind and returns a
// Subscription that can later cancel just this registration.
func (b *Bus) Subscribe(kind Kind, handler Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.entries[kind] = append(b.entries[kind], entry{id: id, kind: kind, handler: handler})
	return Subscription{bus: b, id: id}
}

// SubscribeAll registers handler for every kind listed, returning one
// Subscription per kind in the same order.
func (b *Bus) SubscribeAll(handler Handler, kinds ...Kind) []Subscription {
	subs := make([]Subscription, 0, len(kinds))
	for _, k := range kinds {
		subs = append(subs, b.Subscribe(k, handler))
	}
	return subs
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for kind, list := range b.entries {
		for i, e := range list {
			if e.id == id {
				b.entries[kind] = append(list[:i], list[i+1:]...)
				return
			}
		}
	}
}

// Publish fans the event out to every subscriber of e.Kind, each in its
// own goroutine so a slow or blocking handler cannot stall the publisher
// or delay delivery to other handlers — mirroring the teacher bus's
// `go handler(e)` dispatch.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	handlers := append([]entry(nil), b.entries[e.Kind]...)
	b.mu.RUnlock()

	for _, en := range handlers {
		h := en.handler
		go h(e)
	}
}
