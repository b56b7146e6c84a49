package station

import (
	"math/rand"
	"sync"
	"time"

	"github.com/elcorderodedios/assemblyline/internal/product"
)

// RNG is the single pipeline-wide pseudorandom source that every station
// draws from (§4.5 of spec.md): processing time, failure sampling,
// sub-test pass sampling, and intake product type all go through one
// *rand.Rand guarded by a mutex, so a fixed seed reproduces the sequence
// of draws for a single-threaded replay without this module pretending to
// control goroutine interleaving.
type RNG struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewRNG seeds from seed when non-nil, else from the current time.
func NewRNG(seed *int64) *RNG {
	var src rand.Source
	if seed != nil {
		src = rand.NewSource(*seed)
	} else {
		src = rand.NewSource(time.Now().UnixNano())
	}
	return &RNG{r: rand.New(src)}
}

// Float64 returns a uniform draw in [0, 1).
func (g *RNG) Float64() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.r.Float64()
}

// Duration returns a uniform draw in [min, max]. If max <= min it returns
// min unconditionally.
func (g *RNG) Duration(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	delta := int64(max - min)
	return min + time.Duration(g.r.Int63n(delta+1))
}

// ProductType draws uniformly from the fixed product-type enumeration.
func (g *RNG) ProductType() product.Type {
	g.mu.Lock()
	defer g.mu.Unlock()
	return product.AllTypes[g.r.Intn(len(product.AllTypes))]
}

// IntN draws a uniform integer in [0, n).
func (g *RNG) IntN(n int) int {
	if n <= 0 {
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.r.Intn(n)
}
