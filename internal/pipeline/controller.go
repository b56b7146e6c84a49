// Package pipeline implements the PipelineController of spec.md §4.3: it
// assembles the five stations and four buffers, wires the rework edge,
// and fans out lifecycle operations while routing station events to
// controller-level events.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/elcorderodedios/assemblyline/internal/asynclog"
	"github.com/elcorderodedios/assemblyline/internal/buffer"
	"github.com/elcorderodedios/assemblyline/internal/eventbus"
	"github.com/elcorderodedios/assemblyline/internal/product"
	"github.com/elcorderodedios/assemblyline/internal/station"
)

// Aggregator is the subset of MetricsAggregator the controller drives: one
// Update call per tick with the sample map described in spec.md §4.6. The
// interface lives here (rather than the controller importing
// internal/metrics directly) so the controller has no notion of
// Prometheus or gonum — it only needs somewhere to hand samples.
type Aggregator interface {
	Update(sample map[string]float64)
	Reset()
}

// Controller owns the five stations and four inter-station buffers and
// exposes the lifecycle operations of spec.md §4.3.
type Controller struct {
	cfg Config
	bus *eventbus.Bus
	log *slog.Logger
	rng *station.RNG

	b1, b2, b3, b4 station.ProductBuffer

	intake     *station.Worker
	assembler  *station.Worker
	quality    *station.Worker
	packaging  *station.Worker
	shipping   *station.Worker

	aggregator         Aggregator
	aggregatorInterval time.Duration

	running atomic.Bool
	paused  atomic.Bool

	finishedCount atomic.Uint64

	reworkMu     sync.Mutex
	reworkCounts map[string]int

	ctxMu  sync.Mutex
	cancel context.CancelFunc

	aggStopOnce sync.Once
	aggStopCh   chan struct{}
	aggDoneCh   chan struct{}
}

// New assembles the pipeline per spec.md §4.3's "Assembly" paragraph:
// Intake.output = B1 = Assembler.input; Assembler.output = B2 =
// QualityInspection.input; QualityInspection.output = B3 =
// Packaging.input; Packaging.output = B4 = Shipping.input. QC's rework
// edge is wired to push directly into B1 via the ForwardRework callback
// (§4.3's "or the controller exposes a forwardRework(product) callback").
// alog is the AsyncLogger every station logs through (spec.md §4.7); it
// may be nil, in which case stations fall back to ambient slog only.
func New(cfg Config, aggregator Aggregator, aggregatorInterval time.Duration, bus *eventbus.Bus, log *slog.Logger, rng *station.RNG, alog *asynclog.Logger) *Controller {
	if cfg.BufferCapacity <= 0 {
		cfg.BufferCapacity = 20
	}
	if aggregatorInterval <= 0 {
		aggregatorInterval = time.Second
	}

	b1 := buffer.New[*product.Product](cfg.BufferCapacity)
	b2 := buffer.New[*product.Product](cfg.BufferCapacity)
	b3 := buffer.New[*product.Product](cfg.BufferCapacity)
	b4 := buffer.New[*product.Product](cfg.BufferCapacity)

	clog := log.With("component", "pipeline")

	c := &Controller{
		cfg:                cfg,
		bus:                bus,
		log:                clog,
		rng:                rng,
		b1:                 b1,
		b2:                 b2,
		b3:                 b3,
		b4:                 b4,
		aggregator:         aggregator,
		aggregatorInterval: aggregatorInterval,
		reworkCounts:       make(map[string]int),
	}

	named := func(name string) station.Logger {
		if alog == nil {
			return nil
		}
		return alog.Named(name)
	}

	c.intake = station.NewIntake(cfg.IntakeProductionRate, cfg.Intake.MinProcessingTime, cfg.Intake.MaxProcessingTime, cfg.Intake.FailureRate, b1, rng, bus, clog, named("Intake"))
	c.assembler = station.NewAssembler(cfg.Assembler.MinProcessingTime, cfg.Assembler.MaxProcessingTime, cfg.Assembler.FailureRate, b1, b2, rng, bus, clog, named("Assembler"))
	c.quality = station.NewQualityInspection(cfg.Quality.MinProcessingTime, cfg.Quality.MaxProcessingTime, cfg.Quality.FailureRate, cfg.QualityReworkRate, b2, b3, c.forwardRework, qualitySubTestOverride(cfg.QualityForceSubTestFailures), rng, bus, clog, named("QualityInspection"))
	c.packaging = station.NewPackaging(cfg.Packaging.MinProcessingTime, cfg.Packaging.MaxProcessingTime, cfg.Packaging.FailureRate, b3, b4, rng, bus, clog, named("Packaging"))
	c.shipping = station.NewShipping(cfg.Shipping.MinProcessingTime, cfg.Shipping.MaxProcessingTime, cfg.Shipping.FailureRate, b4, rng, bus, clog, named("Shipping"))

	bus.Subscribe(eventbus.ProductFinished, func(e eventbus.Event) {
		c.finishedCount.Add(1)
	})
	bus.Subscribe(eventbus.StationError, func(e eventbus.Event) {
		bus.Publish(eventbus.Event{Kind: eventbus.ErrorOccurred, Station: e.Station, Message: e.Message, Err: e.Err})
	})
	// The aggregator's own statsUpdated is its per-tick current-sample
	// event (§4.6); the controller re-emits it as the controller-level
	// statisticsUpdated named in §6's event list so an observer that only
	// cares about "the controller's statistics changed" doesn't need to
	// know the aggregator exists.
	bus.Subscribe(eventbus.StatsUpdated, func(e eventbus.Event) {
		bus.Publish(eventbus.Event{Kind: eventbus.StatisticsUpdated, Current: e.Current})
	})

	return c
}

// qualitySubTestOverride adapts Config.QualityForceSubTestFailures into
// the countSubTestFailures seam station.NewQualityInspection accepts. A
// nil count leaves QualityInspection's real sampling in place.
func qualitySubTestOverride(count *int) func(*station.RNG, *product.Product) int {
	if count == nil {
		return nil
	}
	n := *count
	return func(*station.RNG, *product.Product) int { return n }
}

// forwardRework is QualityInspection's rework path: push directly into
// B1. If MaxReworkCount is configured, the MaxReworkCount-th visit to
// QualityInspection refuses instead of routing back — causing the calling
// behavior to treat the product as Rejected — so a product passes through
// Assembler and QualityInspection exactly MaxReworkCount times before the
// cap bites (scenario S3: "trace contains Assembler three times and
// QualityInspection three times; final state Rejected").
func (c *Controller) forwardRework(p *product.Product) bool {
	if c.cfg.MaxReworkCount > 0 {
		c.reworkMu.Lock()
		n := c.reworkCounts[p.ID()] + 1
		c.reworkCounts[p.ID()] = n
		c.reworkMu.Unlock()
		if n >= c.cfg.MaxReworkCount {
			return false
		}
	}
	return c.b1.Push(p)
}

// Stations returns every station worker by name, for registration with a
// WorkerRegistry and for tests.
func (c *Controller) Stations() map[string]*station.Worker {
	return map[string]*station.Worker{
		c.intake.Name():    c.intake,
		c.assembler.Name(): c.assembler,
		c.quality.Name():   c.quality,
		c.packaging.Name(): c.packaging,
		c.shipping.Name():  c.shipping,
	}
}

// Buffers returns B1..B4 in pipeline order, for tests that need to inspect
// or artificially load a buffer (scenario S5).
func (c *Controller) Buffers() [4]station.ProductBuffer {
	return [4]station.ProductBuffer{c.b1, c.b2, c.b3, c.b4}
}

func (c *Controller) IsRunning() bool { return c.running.Load() }
func (c *Controller) IsPaused() bool  { return c.paused.Load() }
func (c *Controller) FinishedCount() uint64 { return c.finishedCount.Load() }

// RejectedTotal sums every station's rejected counter, for the
// conservation invariant (spec.md §8 Invariant 4).
func (c *Controller) RejectedTotal() uint64 {
	var total uint64
	for _, w := range c.Stations() {
		total += w.Rejected()
	}
	return total
}

// ProductsInBuffers sums the four buffer sizes, for the conservation
// invariant.
func (c *Controller) ProductsInBuffers() int {
	n := 0
	for _, b := range c.Buffers() {
		n += b.Size()
	}
	return n
}

// Start is idempotent: starting an already-running pipeline is a no-op.
func (c *Controller) Start() {
	if !c.running.CompareAndSwap(false, true) {
		return
	}
	c.paused.Store(false)

	ctx, cancel := context.WithCancel(context.Background())
	c.ctxMu.Lock()
	c.cancel = cancel
	c.ctxMu.Unlock()

	for _, w := range c.Stations() {
		w.Start(ctx)
	}

	c.startAggregatorLoop(ctx)

	c.bus.Publish(eventbus.Event{Kind: eventbus.ProductionStarted})
}

// Pause is only meaningful while running and not already paused.
func (c *Controller) Pause() {
	if !c.running.Load() || !c.paused.CompareAndSwap(false, true) {
		return
	}
	for _, w := range c.Stations() {
		w.Pause()
	}
	c.bus.Publish(eventbus.Event{Kind: eventbus.ProductionPaused})
}

// Resume is only meaningful while running and paused.
func (c *Controller) Resume() {
	if !c.running.Load() || !c.paused.CompareAndSwap(true, false) {
		return
	}
	for _, w := range c.Stations() {
		w.Resume()
	}
	c.bus.Publish(eventbus.Event{Kind: eventbus.ProductionResumed})
}

// Stop stops the metrics timer, stops each station (waiting up to 5s for
// each to exit and logging an error for any that has not; that station's
// state is left as it is), and stops all buffers as a safety net
// (spec.md §4.3).
func (c *Controller) Stop() {
	if !c.running.CompareAndSwap(true, false) {
		return
	}
	c.paused.Store(false)

	c.stopAggregatorLoop()

	c.ctxMu.Lock()
	cancel := c.cancel
	c.ctxMu.Unlock()
	if cancel != nil {
		cancel()
	}

	var wg sync.WaitGroup
	for _, w := range c.Stations() {
		w := w
		w.Stop()
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case <-w.Done():
			case <-time.After(5 * time.Second):
				c.log.Error("station did not stop within grace period", "station", w.Name())
			}
		}()
	}
	wg.Wait()

	for _, b := range c.Buffers() {
		b.Stop()
	}

	c.bus.Publish(eventbus.Event{Kind: eventbus.ProductionStopped})
}

// Reset stops the pipeline if running, clears every buffer, zeroes every
// station's counters, zeroes finished_count, and resets the aggregator.
func (c *Controller) Reset() {
	if c.running.Load() {
		c.Stop()
	}

	for _, b := range c.Buffers() {
		b.Clear()
	}
	for _, w := range c.Stations() {
		w.ResetCounters()
	}
	c.finishedCount.Store(0)

	c.reworkMu.Lock()
	c.reworkCounts = make(map[string]int)
	c.reworkMu.Unlock()

	if c.aggregator != nil {
		c.aggregator.Reset()
	}

	c.bus.Publish(eventbus.Event{Kind: eventbus.ProductionReset})
}

func (c *Controller) startAggregatorLoop(ctx context.Context) {
	if c.aggregator == nil {
		return
	}
	c.aggStopOnce = sync.Once{}
	c.aggStopCh = make(chan struct{})
	c.aggDoneCh = make(chan struct{})

	go func() {
		defer close(c.aggDoneCh)
		ticker := time.NewTicker(c.aggregatorInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.aggStopCh:
				return
			case <-ticker.C:
				c.aggregator.Update(c.sample())
			}
		}
	}()
}

func (c *Controller) stopAggregatorLoop() {
	if c.aggStopCh == nil {
		return
	}
	c.aggStopOnce.Do(func() { close(c.aggStopCh) })
	<-c.aggDoneCh
}

// sample builds the MetricsSample map described in spec.md §4.6: at
// minimum finished_count, <buffer>_size for each buffer, and per-station
// <name>_throughput/<name>_processed.
func (c *Controller) sample() map[string]float64 {
	s := map[string]float64{
		"finished_count": float64(c.finishedCount.Load()),
		"b1_size":        float64(c.b1.Size()),
		"b2_size":        float64(c.b2.Size()),
		"b3_size":        float64(c.b3.Size()),
		"b4_size":        float64(c.b4.Size()),
	}
	s["b1_capacity"] = float64(c.b1.Capacity())
	s["b2_capacity"] = float64(c.b2.Capacity())
	s["b3_capacity"] = float64(c.b3.Capacity())
	s["b4_capacity"] = float64(c.b4.Capacity())

	for name, w := range c.Stations() {
		lname := stationKey(name)
		s[lname+"_throughput"] = w.Throughput()
		s[lname+"_processed"] = float64(w.Processed())
		s[lname+"_rejected"] = float64(w.Rejected())
	}
	return s
}

func stationKey(name string) string {
	out := make([]rune, 0, len(name))
	for i, r := range name {
		if i > 0 && r >= 'A' && r <= 'Z' {
			out = append(out, '_')
		}
		if r >= 'A' && r <= 'Z' {
			r = r - 'A' + 'a'
		}
		out = append(out, r)
	}
	return string(out)
}
