// Package registry implements the WorkerRegistry of spec.md §4.4: an
// enumeration of every active worker (stations plus background workers —
// the logger sink, the metrics sampler, the registry's own health
// monitor), with a periodic liveness sweep.
//
// Grounded on original_source/core/ThreadManager.{h,cpp}'s ManagedThread
// bookkeeping (name, priority, start time, last-health-check, active
// flag), translated from QThread::isRunning() polling to Go's idiom: a
// worker registers a Liveness channel that it closes on exit, observed
// non-blockingly.
package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/elcorderodedios/assemblyline/internal/eventbus"
)

// Liveness is implemented by anything registerable: a station.Worker
// satisfies it via its Done method already; background workers implement
// it directly.
type Liveness interface {
	Done() <-chan struct{}
}

// Info is a read-only snapshot of one registered worker, returned by
// List/FindByName (the registry's own mutex never escapes to callers).
type Info struct {
	Name            string
	Priority        int
	StartTime       time.Time
	LastHealthCheck time.Time
	Active          bool
}

type entry struct {
	name            string
	priority        int
	startTime       time.Time
	lastHealthCheck time.Time
	active          bool
	worker          Liveness
}

// Registry tracks active workers and sweeps for unresponsive ones.
type Registry struct {
	mu      sync.Mutex
	workers map[string]*entry

	healthCheckInterval time.Duration
	unresponsiveAfter   time.Duration

	bus *eventbus.Bus
	log *slog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New creates a Registry. healthCheckInterval defaults to 5s and
// unresponsiveAfter to 30s when zero, matching spec.md §4.4 and §6.
func New(healthCheckInterval, unresponsiveAfter time.Duration, bus *eventbus.Bus, log *slog.Logger) *Registry {
	if healthCheckInterval <= 0 {
		healthCheckInterval = 5 * time.Second
	}
	if unresponsiveAfter <= 0 {
		unresponsiveAfter = 30 * time.Second
	}
	return &Registry{
		workers:             make(map[string]*entry),
		healthCheckInterval: healthCheckInterval,
		unresponsiveAfter:   unresponsiveAfter,
		bus:                 bus,
		log:                 log.With("component", "registry"),
		stopCh:              make(chan struct{}),
		doneCh:              make(chan struct{}),
	}
}

// Register adds a worker under name with the given priority hint. The
// priority hint is carried for display/ordering only — nothing in this
// module's scheduling depends on it, matching ThreadManager's
// pauseThread/resumeThread being no-ops in the original (pause is a
// contract between the controller and the station itself, per §4.2).
func (r *Registry) Register(name string, priority int, worker Liveness) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	r.workers[name] = &entry{
		name:            name,
		priority:        priority,
		startTime:       now,
		lastHealthCheck: now,
		active:          true,
		worker:          worker,
	}
}

// Unregister removes a worker from the registry.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.workers, name)
}

// List returns a snapshot of every registered worker.
func (r *Registry) List() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Info, 0, len(r.workers))
	for _, e := range r.workers {
		out = append(out, e.snapshot())
	}
	return out
}

// FindByName returns the snapshot for name, or false if not registered.
func (r *Registry) FindByName(name string) (Info, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.workers[name]
	if !ok {
		return Info{}, false
	}
	return e.snapshot(), true
}

// CountActive returns the number of workers currently flagged active.
func (r *Registry) CountActive() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.workers {
		if e.active {
			n++
		}
	}
	return n
}

func (e *entry) snapshot() Info {
	return Info{
		Name:            e.name,
		Priority:        e.priority,
		StartTime:       e.startTime,
		LastHealthCheck: e.lastHealthCheck,
		Active:          e.active,
	}
}

// Start runs the periodic health check loop until ctx is cancelled or
// Stop is called.
func (r *Registry) Start(ctx context.Context) {
	go func() {
		defer close(r.doneCh)
		ticker := time.NewTicker(r.healthCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stopCh:
				return
			case <-ticker.C:
				r.healthCheck()
			}
		}
	}()
}

// Stop halts the health check loop.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	<-r.doneCh
}

// healthCheck updates last-health-check for every live worker and clears
// the active flag (raising a desync alert) for any worker flagged active
// whose underlying goroutine is no longer observed running — the
// ManagedThread::isActive-but-not-running branch of updateThreadHealth.
func (r *Registry) healthCheck() {
	r.mu.Lock()
	now := time.Now()
	var desynced []string
	for _, e := range r.workers {
		if !e.active {
			continue
		}
		if e.worker != nil && isDone(e.worker) {
			e.active = false
			desynced = append(desynced, e.name)
			continue
		}
		e.lastHealthCheck = now
	}
	r.mu.Unlock()

	for _, name := range desynced {
		r.log.Warn("worker marked active but not running", "worker", name)
		r.bus.Publish(eventbus.Event{
			Kind:    eventbus.ErrorOccurred,
			Station: name,
			Message: "worker " + name + " marked active but not running (desync)",
		})
	}
}

func isDone(l Liveness) bool {
	select {
	case <-l.Done():
		return true
	default:
		return false
	}
}

// StopFunc is implemented by a worker that TerminateUnresponsive can
// forcibly stop; station.Worker satisfies it via its Stop method.
type StopFunc interface {
	Stop()
}

// TerminateUnresponsive force-stops any worker whose last health-check
// stamp is older than unresponsiveAfter, raising an alert for each —
// ThreadManager::terminateUnresponsiveThreads, generalized from a
// thread-terminate call to a cooperative Stop() since this module has no
// QThread::terminate equivalent.
func (r *Registry) TerminateUnresponsive(stoppers map[string]StopFunc) {
	threshold := time.Now().Add(-r.unresponsiveAfter)

	r.mu.Lock()
	var stale []string
	for name, e := range r.workers {
		if e.active && e.lastHealthCheck.Before(threshold) {
			stale = append(stale, name)
		}
	}
	r.mu.Unlock()

	for _, name := range stale {
		if s, ok := stoppers[name]; ok && s != nil {
			s.Stop()
		}
		r.mu.Lock()
		if e, ok := r.workers[name]; ok {
			e.active = false
		}
		r.mu.Unlock()

		r.log.Warn("terminated unresponsive worker", "worker", name)
		r.bus.Publish(eventbus.Event{
			Kind:    eventbus.ErrorOccurred,
			Station: name,
			Message: "worker " + name + " terminated due to unresponsiveness",
		})
	}
}
