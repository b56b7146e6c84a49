package station

import (
	"context"
	"log/slog"
	"time"

	"github.com/elcorderodedios/assemblyline/internal/eventbus"
	"github.com/elcorderodedios/assemblyline/internal/product"
)

type packagingBehavior struct {
	minProcessingTime, maxProcessingTime time.Duration
	failureRate                          float64
}

// NewPackaging builds the Packaging station.
func NewPackaging(minProcessingTime, maxProcessingTime time.Duration, failureRate float64, input, output ProductBuffer, rng *RNG, bus *eventbus.Bus, log *slog.Logger, alog Logger) *Worker {
	b := &packagingBehavior{minProcessingTime: minProcessingTime, maxProcessingTime: maxProcessingTime, failureRate: failureRate}
	return New("Packaging", b, input, output, rng, bus, log, alog)
}

func (b *packagingBehavior) Acquire(ctx context.Context, w *Worker) (*product.Product, bool) {
	return popInput(w)
}

func (b *packagingBehavior) Process(ctx context.Context, rng *RNG, p *product.Product) (Outcome, error) {
	return simulateProcessing(ctx, rng, b.minProcessingTime, b.maxProcessingTime, b.failureRate), nil
}

func (b *packagingBehavior) Flavor(p *product.Product) string {
	return packagingSpecs[p.Type()]
}
