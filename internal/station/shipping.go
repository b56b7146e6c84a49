package station

import (
	"context"
	"log/slog"
	"time"

	"github.com/elcorderodedios/assemblyline/internal/eventbus"
	"github.com/elcorderodedios/assemblyline/internal/product"
)

// shippingBehavior is the terminal station: it has no output buffer, so
// the worker loop's Forward path emits a finished event instead of
// pushing onward (spec.md §4.2's table entry for Shipping).
type shippingBehavior struct {
	minProcessingTime, maxProcessingTime time.Duration
	failureRate                          float64
	rng                                  *RNG
}

// NewShipping builds the Shipping station. It has no output buffer.
func NewShipping(minProcessingTime, maxProcessingTime time.Duration, failureRate float64, input ProductBuffer, rng *RNG, bus *eventbus.Bus, log *slog.Logger, alog Logger) *Worker {
	b := &shippingBehavior{minProcessingTime: minProcessingTime, maxProcessingTime: maxProcessingTime, failureRate: failureRate, rng: rng}
	return New("Shipping", b, input, nil, rng, bus, log, alog)
}

func (b *shippingBehavior) Acquire(ctx context.Context, w *Worker) (*product.Product, bool) {
	return popInput(w)
}

func (b *shippingBehavior) Process(ctx context.Context, rng *RNG, p *product.Product) (Outcome, error) {
	return simulateProcessing(ctx, rng, b.minProcessingTime, b.maxProcessingTime, b.failureRate), nil
}

func (b *shippingBehavior) Flavor(p *product.Product) string {
	return shippingDestinations[b.rng.IntN(len(shippingDestinations))]
}
