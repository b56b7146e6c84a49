package station

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/elcorderodedios/assemblyline/internal/eventbus"
	"github.com/elcorderodedios/assemblyline/internal/product"
)

// subTestPassRate is the independent per-sub-test pass probability named
// in spec.md §4.2's QualityInspection row ("~85% pass rate").
const subTestPassRate = 0.85

// qualityBehavior implements the rework decision described in spec.md
// §4.2 and the fix to the rework-routing bug documented in SPEC_FULL.md
// §4.3: when rework is chosen, this behavior itself advances the product
// back to AtAssembler and forwards it to B1 via forwardRework, rather than
// letting the worker loop push it to the normal output buffer (B3) —
// original_source/core/ProductionController.cpp never exercises this
// branch; it sets the rework flag and then still pushes downstream.
type qualityBehavior struct {
	minProcessingTime, maxProcessingTime time.Duration
	failureRate                          float64
	reworkRate                           float64
	forwardRework                        func(*product.Product) bool

	// countSubTestFailures, when set, replaces defaultSubTestFailures's
	// live probability draws with a caller-supplied count. Tests use this
	// to force the rework decision deterministically instead of depending
	// on subTestPassRate draws; nil means the real sampling.
	countSubTestFailures func(rng *RNG, p *product.Product) int
}

// NewQualityInspection builds the QualityInspection station. forwardRework
// is the controller-supplied callback that pushes a reworked product into
// B1 (spec.md §4.3's "controller exposes a forwardRework(product)
// callback").
func NewQualityInspection(minProcessingTime, maxProcessingTime time.Duration, failureRate, reworkRate float64, input, output ProductBuffer, forwardRework func(*product.Product) bool, countSubTestFailures func(rng *RNG, p *product.Product) int, rng *RNG, bus *eventbus.Bus, log *slog.Logger, alog Logger) *Worker {
	b := &qualityBehavior{
		minProcessingTime:    minProcessingTime,
		maxProcessingTime:    maxProcessingTime,
		failureRate:          failureRate,
		reworkRate:           reworkRate,
		forwardRework:        forwardRework,
		countSubTestFailures: countSubTestFailures,
	}
	return New("QualityInspection", b, input, output, rng, bus, log, alog)
}

func (b *qualityBehavior) Acquire(ctx context.Context, w *Worker) (*product.Product, bool) {
	return popInput(w)
}

func (b *qualityBehavior) Process(ctx context.Context, rng *RNG, p *product.Product) (Outcome, error) {
	d := rng.Duration(b.minProcessingTime, b.maxProcessingTime)
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}

	if rng.Float64() < b.failureRate {
		return Rejected, nil
	}

	countFailures := b.countSubTestFailures
	if countFailures == nil {
		countFailures = defaultSubTestFailures
	}
	failed := countFailures(rng, p)

	rework := failed > 1 || (failed == 1 && rng.Float64() < b.reworkRate)
	if !rework {
		return Forward, nil
	}

	p.SetRework(true)
	p.Advance() // AtQualityInspection -> AtAssembler, clears the rework flag.
	p.AddTrace("QualityInspection")

	if !b.forwardRework(p) {
		return Rejected, nil
	}
	return Handled, nil
}

func (b *qualityBehavior) Flavor(p *product.Product) string {
	return fmt.Sprintf("ran %d sub-tests", len(qualitySubTests[p.Type()]))
}

// defaultSubTestFailures runs the real per-sub-test sampling: N
// independent sub-tests (per product type, flavor.go's qualitySubTests),
// each with subTestPassRate's ~85% pass probability.
func defaultSubTestFailures(rng *RNG, p *product.Product) int {
	failed := 0
	for range qualitySubTests[p.Type()] {
		if rng.Float64() >= subTestPassRate {
			failed++
		}
	}
	return failed
}
