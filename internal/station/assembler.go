package station

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/elcorderodedios/assemblyline/internal/eventbus"
	"github.com/elcorderodedios/assemblyline/internal/product"
)

type assemblerBehavior struct {
	minProcessingTime, maxProcessingTime time.Duration
	failureRate                          float64
}

// NewAssembler builds the Assembler station.
func NewAssembler(minProcessingTime, maxProcessingTime time.Duration, failureRate float64, input, output ProductBuffer, rng *RNG, bus *eventbus.Bus, log *slog.Logger, alog Logger) *Worker {
	b := &assemblerBehavior{minProcessingTime: minProcessingTime, maxProcessingTime: maxProcessingTime, failureRate: failureRate}
	return New("Assembler", b, input, output, rng, bus, log, alog)
}

func (b *assemblerBehavior) Acquire(ctx context.Context, w *Worker) (*product.Product, bool) {
	return popInput(w)
}

func (b *assemblerBehavior) Process(ctx context.Context, rng *RNG, p *product.Product) (Outcome, error) {
	return simulateProcessing(ctx, rng, b.minProcessingTime, b.maxProcessingTime, b.failureRate), nil
}

func (b *assemblerBehavior) Flavor(p *product.Product) string {
	return strings.Join(assemblySteps[p.Type()], "; ")
}
