// Package product defines the work item that flows through the pipeline:
// its identity, type, state machine, and wire form.
package product

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type is the fixed enumeration of appliances the line can build. The
// integer value is part of the wire form (§6) and must not be reordered.
type Type int

const (
	Washer Type = iota
	Dryer
	Refrigerator
	Dishwasher
	Oven
)

var typeNames = [...]string{"Washer", "Dryer", "Refrigerator", "Dishwasher", "Oven"}

// AllTypes lists every product type, in wire-form order, for station
// flavor tables and for Intake's random generation.
var AllTypes = [...]Type{Washer, Dryer, Refrigerator, Dishwasher, Oven}

func (t Type) String() string {
	if int(t) < 0 || int(t) >= len(typeNames) {
		return "Unknown"
	}
	return typeNames[t]
}

func (t Type) MarshalJSON() ([]byte, error) {
	return json.Marshal(int(t))
}

func (t *Type) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*t = Type(n)
	return nil
}

// State is the product's position in the station state machine (§3).
type State int

const (
	Created State = iota
	AtIntake
	AtAssembler
	AtQualityInspection
	AtPackaging
	AtShipping
	Finished
	Rejected
	InRework
)

var stateNames = [...]string{
	"Created", "AtIntake", "AtAssembler", "AtQualityInspection", "AtPackaging",
	"AtShipping", "Finished", "Rejected", "InRework",
}

func (s State) String() string {
	if int(s) < 0 || int(s) >= len(stateNames) {
		return "Unknown"
	}
	return stateNames[s]
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(int(s))
}

func (s *State) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*s = State(n)
	return nil
}

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	return s == Finished || s == Rejected
}

// Product is a single work item moving through the pipeline. Every field
// access is guarded by mu so a station, the controller, and an observer can
// read/append trace entries concurrently without racing.
type Product struct {
	mu sync.Mutex

	id          string
	kind        Type
	state       State
	createdTime time.Time
	trace       []string
	inRework    bool
}

// New creates a product of the given type in state Created, with a stable
// id for the rest of its life (grounded in Product::generateId —
// "P-" + 8 uppercase hex characters — realized with google/uuid instead of
// a hand-rolled random hex string).
func New(kind Type) *Product {
	return &Product{
		id:          fmt.Sprintf("P-%s", strings.ToUpper(uuid.New().String()[:8])),
		kind:        kind,
		state:       Created,
		createdTime: time.Now(),
	}
}

func (p *Product) ID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.id
}

func (p *Product) Type() Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.kind
}

func (p *Product) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Product) CreatedTime() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.createdTime
}

// Trace returns a copy of the append-only station trace.
func (p *Product) Trace() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.trace))
	copy(out, p.trace)
	return out
}

func (p *Product) InRework() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inRework
}

// SetRework sets or clears the rework flag.
func (p *Product) SetRework(rework bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inRework = rework
}

// SetState forces the product into a specific state, bypassing Advance.
// Stations use this for the direct-to-Rejected edge (§3) permitted from any
// station.
func (p *Product) SetState(s State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = s
}

// AddTrace appends a station name to the trace, stamped at call time.
func (p *Product) AddTrace(station string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.trace = append(p.trace, fmt.Sprintf("%s at %s", station, time.Now().Format(time.RFC3339Nano)))
}

// Advance progresses the product's state exactly one step, per §3:
//
//	Created             -> AtIntake
//	AtIntake            -> AtAssembler
//	AtAssembler         -> AtQualityInspection
//	AtQualityInspection -> AtAssembler   (if inRework; clears the flag)
//	                    -> AtPackaging   (otherwise)
//	AtPackaging         -> AtShipping
//	AtShipping          -> Finished
//	InRework            -> AtAssembler
//
// Finished and Rejected do not advance.
func (p *Product) Advance() {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.state {
	case Created:
		p.state = AtIntake
	case AtIntake:
		p.state = AtAssembler
	case AtAssembler:
		p.state = AtQualityInspection
	case AtQualityInspection:
		if p.inRework {
			p.state = AtAssembler
			p.inRework = false
		} else {
			p.state = AtPackaging
		}
	case AtPackaging:
		p.state = AtShipping
	case AtShipping:
		p.state = Finished
	case InRework:
		p.state = AtAssembler
	}
}

// wireForm is the JSON shape described in §6. Field names and the integer
// enumerations must round-trip exactly.
type wireForm struct {
	ID          string   `json:"id"`
	Type        Type     `json:"type"`
	CurrentState State   `json:"currentState"`
	CreatedTime string   `json:"createdTime"`
	InRework    bool     `json:"inRework"`
	Trace       []string `json:"trace"`
}

// MarshalJSON implements the §6 wire form.
func (p *Product) MarshalJSON() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	w := wireForm{
		ID:           p.id,
		Type:         p.kind,
		CurrentState: p.state,
		CreatedTime:  p.createdTime.UTC().Format("2006-01-02T15:04:05.000"),
		InRework:     p.inRework,
		Trace:        append([]string{}, p.trace...),
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements the §6 wire form. It parses createdTime
// permissively (RFC3339 or the ISO-8601-without-zone shape used by
// MarshalJSON) so round-tripping across both Go-native and
// original-source-style ISO-8601 timestamps succeeds.
func (p *Product) UnmarshalJSON(data []byte) error {
	var w wireForm
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	created, err := parseTimestamp(w.CreatedTime)
	if err != nil {
		return fmt.Errorf("product: invalid createdTime %q: %w", w.CreatedTime, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.id = w.ID
	p.kind = w.Type
	p.state = w.CurrentState
	p.createdTime = created
	p.inRework = w.InRework
	p.trace = append([]string{}, w.Trace...)
	return nil
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02T15:04:05.000", time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("no matching layout")
}
