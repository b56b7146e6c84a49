package station

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/elcorderodedios/assemblyline/internal/eventbus"
	"github.com/elcorderodedios/assemblyline/internal/product"
	"golang.org/x/time/rate"
)

// intakeBehavior has no input buffer; it synthesizes new products on a
// timed schedule (spec.md §4.2's table entry for Intake), gated by a
// token-bucket limiter instead of a hand-rolled interval timer —
// grounded in original_source/core/stations/Intake.cpp's QTimer tick,
// generalized to golang.org/x/time/rate.
type intakeBehavior struct {
	minProcessingTime, maxProcessingTime time.Duration
	failureRate                          float64
	limiter                              *rate.Limiter
}

// NewIntake builds the Intake station. productionRate is in items/min,
// matching spec.md §6's intake.productionRate option.
func NewIntake(productionRate float64, minProcessingTime, maxProcessingTime time.Duration, failureRate float64, output ProductBuffer, rng *RNG, bus *eventbus.Bus, log *slog.Logger, alog Logger) *Worker {
	burst := 1
	if productionRate <= 0 {
		// A zero-limit rate.Limiter still admits its burst; a zero burst
		// makes a zero production rate admit nothing.
		burst = 0
	}
	b := &intakeBehavior{
		minProcessingTime: minProcessingTime,
		maxProcessingTime: maxProcessingTime,
		failureRate:       failureRate,
		limiter:           rate.NewLimiter(rate.Limit(productionRate/60.0), burst),
	}
	return New("Intake", b, nil, output, rng, bus, log, alog)
}

func (b *intakeBehavior) Acquire(ctx context.Context, w *Worker) (*product.Product, bool) {
	if !b.limiter.Allow() {
		time.Sleep(10 * time.Millisecond)
		return nil, false
	}
	return product.New(w.rng.ProductType()), true
}

func (b *intakeBehavior) Process(ctx context.Context, rng *RNG, p *product.Product) (Outcome, error) {
	return simulateProcessing(ctx, rng, b.minProcessingTime, b.maxProcessingTime, b.failureRate), nil
}

func (b *intakeBehavior) Flavor(p *product.Product) string {
	return fmt.Sprintf("received %s", p.Type())
}
