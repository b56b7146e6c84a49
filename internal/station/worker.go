// Package station implements the per-station worker lifecycle described
// in spec.md §4.2: a worker loop that pulls a product from its input
// buffer, runs station-specific processing, and forwards the product to
// its output buffer, with cooperative pause/stop and per-second metrics.
//
// Go has no inheritance, so the "abstract Station, five concrete
// stations" shape of the reference becomes a shared Worker plus a small
// Behavior interface each concrete station implements — the same seam the
// teacher repo's station.Station interface draws between identity and
// behavior (internal/station/station.go in the teacher).
package station

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/elcorderodedios/assemblyline/internal/buffer"
	"github.com/elcorderodedios/assemblyline/internal/eventbus"
	"github.com/elcorderodedios/assemblyline/internal/product"
)

// ProductBuffer is the bounded queue type every inter-station buffer uses.
type ProductBuffer = *buffer.BoundedBuffer[*product.Product]

// popFallback is the "short timed fallback" spec.md §4.2 step 3 allows
// when try_pop finds the input buffer empty.
const popFallback = 10 * time.Millisecond

// Outcome tags the result of a Behavior's Process call. It occupies the
// polymorphic seam spec.md §9 calls out ("process(product) ... admits a
// tagged-variant encoding as readily as a virtual method").
type Outcome int

const (
	// Forward means the product should advance its state, gain a trace
	// entry for this station, and (if an output buffer exists) be pushed
	// onward.
	Forward Outcome = iota
	// Rejected means the product is permanently dropped at this station.
	Rejected
	// Handled means the behavior already routed the product itself (the
	// QualityInspection rework edge) — the worker loop only counts it as
	// processed and emits the event, without advancing state again or
	// pushing to the normal output.
	Handled
)

// Behavior is the one per-station polymorphic point: how a station
// acquires its next product and how it processes one.
type Behavior interface {
	// Acquire returns the next product to process, or false if none is
	// available right now (the worker loop will re-poll after pause/stop
	// checks).
	Acquire(ctx context.Context, w *Worker) (*product.Product, bool)
	// Process runs station-specific work on p and reports the outcome.
	Process(ctx context.Context, rng *RNG, p *product.Product) (Outcome, error)
}

// FlavorProvider is an optional extension a Behavior may implement to
// attach human-readable, purely cosmetic detail to a log line (assembly
// step names, sub-test names, packaging specs, shipping destinations —
// spec.md §1 Non-goals marks this prose non-load-bearing).
type FlavorProvider interface {
	Flavor(p *product.Product) string
}

// Logger is the subset of asynclog.NamedLogger a station needs. It is
// defined here rather than imported as a concrete type so this package
// doesn't have to know about asynclog's Level/Entry types — any producer
// satisfying this shape (a NamedLogger, or a test double) works. A nil
// Logger is valid: stations fall back to slog-only logging.
type Logger interface {
	Debugf(category, format string, args ...interface{})
	Infof(category, format string, args ...interface{})
	Warnf(category, format string, args ...interface{})
	Errorf(category, format string, args ...interface{})
	Criticalf(category, format string, args ...interface{})
}

// Worker is the shared worker loop that runs every concrete station's
// Behavior.
type Worker struct {
	name     string
	behavior Behavior

	input  ProductBuffer
	output ProductBuffer

	rng  *RNG
	bus  *eventbus.Bus
	log  *slog.Logger
	alog Logger

	state atomic.Int32

	processed atomic.Uint64
	rejected  atomic.Uint64

	startedAt atomic.Int64

	curMu   sync.Mutex
	current string

	pauseMu  sync.Mutex
	pausedCh chan struct{}

	lcMu     sync.Mutex
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New wires a Behavior into a runnable Worker. input may be nil (Intake);
// output may be nil (Shipping). alog is the domain-facing AsyncLogger
// sink (spec.md §4.7, "reachable by every station") and may be nil in
// tests that only care about the ambient slog line.
func New(name string, behavior Behavior, input, output ProductBuffer, rng *RNG, bus *eventbus.Bus, log *slog.Logger, alog Logger) *Worker {
	return &Worker{
		name:     name,
		behavior: behavior,
		input:    input,
		output:   output,
		rng:      rng,
		bus:      bus,
		log:      log.With("component", "station", "station", name),
		alog:     alog,
		stopCh:   make(chan struct{}),
		doneCh:   closedChan(),
	}
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

func (w *Worker) Name() string { return w.name }

func (w *Worker) State() State { return State(w.state.Load()) }

func (w *Worker) setState(s State) { w.state.Store(int32(s)) }

func (w *Worker) publishState() {
	w.bus.Publish(eventbus.Event{Kind: eventbus.StateChanged, Station: w.name, NewState: w.State().String()})
}

func (w *Worker) Processed() uint64 { return w.processed.Load() }
func (w *Worker) Rejected() uint64  { return w.rejected.Load() }

func (w *Worker) CurrentProduct() string {
	w.curMu.Lock()
	defer w.curMu.Unlock()
	return w.current
}

func (w *Worker) setCurrent(id string) {
	w.curMu.Lock()
	w.current = id
	w.curMu.Unlock()
}

// InputDepth reports the current size of the input buffer, or 0 for
// Intake.
func (w *Worker) InputDepth() int {
	if w.input == nil {
		return 0
	}
	return w.input.Size()
}

// Throughput reports processed items per minute since Start, per spec.md
// §4.2's "Metrics" note.
func (w *Worker) Throughput() float64 {
	started := w.startedAt.Load()
	if started == 0 {
		return 0
	}
	elapsedMs := float64(time.Now().UnixNano()-started) / 1e6
	if elapsedMs <= 0 {
		return 0
	}
	return float64(w.processed.Load()) * 60000 / elapsedMs
}

// ResetCounters zeroes processed/rejected, for PipelineController.Reset.
func (w *Worker) ResetCounters() {
	w.processed.Store(0)
	w.rejected.Store(0)
	w.setState(Idle)
}

// Done reports the channel the worker loop closes on exit — the liveness
// signal WorkerRegistry polls (§4.4).
func (w *Worker) Done() <-chan struct{} {
	w.lcMu.Lock()
	defer w.lcMu.Unlock()
	return w.doneCh
}

// Start begins the worker loop. It is not safe to call concurrently with
// itself or with Stop; the controller serializes lifecycle calls.
func (w *Worker) Start(ctx context.Context) {
	w.pauseMu.Lock()
	w.pausedCh = nil
	w.pauseMu.Unlock()

	w.lcMu.Lock()
	w.stopOnce = sync.Once{}
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.lcMu.Unlock()

	w.startedAt.Store(time.Now().UnixNano())
	w.setState(Running)
	w.publishState()
	go w.run(ctx)
}

// Pause marks the worker paused; the loop notices at its next suspension
// point (§9 "Pause mechanics").
func (w *Worker) Pause() {
	w.pauseMu.Lock()
	defer w.pauseMu.Unlock()
	if w.pausedCh != nil {
		return
	}
	w.pausedCh = make(chan struct{})
	w.setState(Paused)
	w.publishState()
}

// Resume wakes a paused worker.
func (w *Worker) Resume() {
	w.pauseMu.Lock()
	defer w.pauseMu.Unlock()
	if w.pausedCh == nil {
		return
	}
	close(w.pausedCh)
	w.pausedCh = nil
	w.setState(Running)
	w.publishState()
}

// Stop requests the worker loop exit. It is idempotent and also stops the
// station's own input/output buffers so a blocked pop/push unblocks
// promptly, mirroring spec.md §4.2's "stop() ... stops the input and
// output buffers of this station".
func (w *Worker) Stop() {
	w.lcMu.Lock()
	once := &w.stopOnce
	stopCh := w.stopCh
	w.lcMu.Unlock()

	once.Do(func() {
		w.setState(Stopping)
		w.publishState()
		close(stopCh)

		w.pauseMu.Lock()
		if w.pausedCh != nil {
			close(w.pausedCh)
			w.pausedCh = nil
		}
		w.pauseMu.Unlock()

		if w.input != nil {
			w.input.Stop()
		}
		if w.output != nil {
			w.output.Stop()
		}
	})
}

func (w *Worker) isStopping() bool {
	w.lcMu.Lock()
	ch := w.stopCh
	w.lcMu.Unlock()
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func (w *Worker) waitIfPaused() {
	w.pauseMu.Lock()
	ch := w.pausedCh
	w.pauseMu.Unlock()
	if ch == nil {
		return
	}

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ch:
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
		}
	}
}

// popInput is the shared Acquire implementation for every station with an
// input buffer: try_pop, then a short timed fallback (spec.md §4.2 step 3).
func popInput(w *Worker) (*product.Product, bool) {
	if w.input == nil {
		return nil, false
	}
	if p, ok := w.input.TryPop(); ok {
		return p, true
	}
	timer := time.NewTimer(popFallback)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil, false
	case <-w.stopCh:
		return nil, false
	}
}

// simulateProcessing sleeps for a duration drawn from [min, max] — the
// station's configured processing-time range — then samples the failure
// rate, returning Rejected if the station should permanently drop the
// product (spec.md §4.2's shouldRejectProduct).
func simulateProcessing(ctx context.Context, rng *RNG, min, max time.Duration, failureRate float64) Outcome {
	d := rng.Duration(min, max)
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
	if rng.Float64() < failureRate {
		return Rejected
	}
	return Forward
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		if w.isStopping() {
			w.setState(Stopped)
			w.publishState()
			return
		}
		w.waitIfPaused()
		if w.isStopping() {
			w.setState(Stopped)
			w.publishState()
			return
		}

		p, ok := w.behavior.Acquire(ctx, w)
		if !ok {
			w.maybeEmitMetrics(ticker)
			continue
		}

		w.setCurrent(p.ID())
		outcome, err := func() (o Outcome, err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("panic in process: %v", r)
				}
			}()
			return w.behavior.Process(ctx, w.rng, p)
		}()
		if err != nil {
			w.setState(Error)
			w.log.Error("processing fault", "product", p.ID(), "error", err)
			if w.alog != nil {
				w.alog.Errorf("process", "processing fault on product %s: %v", p.ID(), err)
			}
			w.bus.Publish(eventbus.Event{
				Kind:    eventbus.StationError,
				Station: w.name,
				Message: fmt.Sprintf("%s: %v", w.name, err),
				Err:     err,
			})
			outcome = Rejected
		}

		w.handleOutcome(outcome, p)
		w.setCurrent("")
		w.maybeEmitMetrics(ticker)
	}
}

func (w *Worker) handleOutcome(outcome Outcome, p *product.Product) {
	switch outcome {
	case Rejected:
		w.rejected.Add(1)
		p.SetState(product.Rejected)
		if w.alog != nil {
			w.alog.Warnf("process", "product %s rejected", p.ID())
		}
		w.bus.Publish(eventbus.Event{Kind: eventbus.ProductRejected, Station: w.name, Product: p.ID()})

	case Handled:
		w.processed.Add(1)
		w.bus.Publish(eventbus.Event{Kind: eventbus.ProductProcessed, Station: w.name, Product: p.ID()})

	case Forward:
		p.Advance()
		p.AddTrace(w.name)
		w.logFlavor(p)

		if w.output != nil && !w.pushOutput(p) {
			// The product left no buffer and no station: it is lost, not
			// processed. Counting it as processed here would break
			// conservation (finished + rejected + in-buffer + in-process
			// must equal total generated), so it counts as rejected instead.
			w.rejected.Add(1)
			p.SetState(product.Rejected)
			w.bus.Publish(eventbus.Event{Kind: eventbus.ProductRejected, Station: w.name, Product: p.ID()})
			return
		}
		w.processed.Add(1)
		w.bus.Publish(eventbus.Event{Kind: eventbus.ProductProcessed, Station: w.name, Product: p.ID()})
		if w.output == nil {
			w.bus.Publish(eventbus.Event{Kind: eventbus.ProductFinished, Product: p.ID()})
		}
	}
}

func (w *Worker) logFlavor(p *product.Product) {
	fp, ok := w.behavior.(FlavorProvider)
	if !ok {
		return
	}
	detail := fp.Flavor(p)
	w.log.Debug("processed product", "product", p.ID(), "detail", detail)
	if w.alog != nil {
		w.alog.Debugf("process", "product %s: %s", p.ID(), detail)
	}
}

// pushOutput pushes p to the output buffer, transitioning through Blocked
// if the non-blocking attempt fails (spec.md §4.2 step 5). It reports
// whether the buffer ultimately accepted p — false means the buffer was
// stopped mid-Controller.Stop or the blocking Push's own timeout elapsed
// under sustained back-pressure, so the caller must not treat p as handed
// off.
func (w *Worker) pushOutput(p *product.Product) bool {
	if w.output.TryPush(p) {
		return true
	}
	w.setState(Blocked)
	w.publishState()

	ok := w.output.Push(p)

	w.setState(Running)
	w.publishState()

	if !ok {
		w.log.Warn("output push refused", "product", p.ID())
		if w.alog != nil {
			w.alog.Warnf("push", "output push refused for product %s", p.ID())
		}
	}
	return ok
}

func (w *Worker) maybeEmitMetrics(ticker *time.Ticker) {
	select {
	case <-ticker.C:
		w.bus.Publish(eventbus.Event{
			Kind:                eventbus.MetricsUpdated,
			Station:             w.name,
			InputDepth:          w.InputDepth(),
			ThroughputPerMinute: w.Throughput(),
		})
	default:
	}
}
