package registry

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/elcorderodedios/assemblyline/internal/eventbus"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeWorker struct {
	done chan struct{}
}

func (f *fakeWorker) Done() <-chan struct{} { return f.done }
func (f *fakeWorker) Stop()                 {}

func TestRegisterListFindCountActive(t *testing.T) {
	r := New(0, 0, eventbus.New(), discardLogger())
	w := &fakeWorker{done: make(chan struct{})}
	r.Register("Intake", 0, w)

	if n := r.CountActive(); n != 1 {
		t.Fatalf("count active: got %d, want 1", n)
	}
	info, ok := r.FindByName("Intake")
	if !ok || !info.Active {
		t.Fatalf("find: got %+v, %v", info, ok)
	}
	if len(r.List()) != 1 {
		t.Fatal("list should contain exactly one worker")
	}

	r.Unregister("Intake")
	if _, ok := r.FindByName("Intake"); ok {
		t.Fatal("worker should be gone after unregister")
	}
}

func TestHealthCheckDetectsDesync(t *testing.T) {
	bus := eventbus.New()
	r := New(20*time.Millisecond, time.Hour, bus, discardLogger())

	w := &fakeWorker{done: make(chan struct{})}
	r.Register("Assembler", 0, w)
	close(w.done) // simulate the goroutine having exited while still flagged active

	alerts := make(chan eventbus.Event, 1)
	bus.Subscribe(eventbus.ErrorOccurred, func(e eventbus.Event) { alerts <- e })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)
	defer r.Stop()

	select {
	case <-alerts:
	case <-time.After(time.Second):
		t.Fatal("no desync alert observed")
	}

	info, _ := r.FindByName("Assembler")
	if info.Active {
		t.Fatal("desynced worker should be marked inactive")
	}
}

func TestTerminateUnresponsiveStopsStaleWorkers(t *testing.T) {
	bus := eventbus.New()
	r := New(time.Hour, 10*time.Millisecond, bus, discardLogger())

	w := &fakeWorker{done: make(chan struct{})}
	r.Register("Packaging", 0, w)
	time.Sleep(20 * time.Millisecond)

	stopped := make(chan struct{}, 1)
	stopper := stopFunc(func() { close(stopped) })
	r.TerminateUnresponsive(map[string]StopFunc{"Packaging": stopper})

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("stale worker was never stopped")
	}

	info, _ := r.FindByName("Packaging")
	if info.Active {
		t.Fatal("terminated worker should be marked inactive")
	}
}

type stopFunc func()

func (f stopFunc) Stop() { f() }
