package eventbus

import (
	"sync"
	"testing"
	"time"
)

func TestPublishDeliversToAllSubscribers(t *testing.T) {
	b := New()
	var mu sync.Mutex
	var gotA, gotB bool

	b.Subscribe(ProductFinished, func(e Event) {
		mu.Lock()
		gotA = true
		mu.Unlock()
	})
	b.Subscribe(ProductFinished, func(e Event) {
		mu.Lock()
		gotB = true
		mu.Unlock()
	})

	b.Publish(Event{Kind: ProductFinished, Product: "P-1"})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := gotA && gotB
		mu.Unlock()
		if done {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("not all subscribers received the event")
}

func TestPublishDoesNotCrossDeliverKinds(t *testing.T) {
	b := New()
	var called bool
	b.Subscribe(ErrorOccurred, func(e Event) { called = true })

	b.Publish(Event{Kind: ProductionStarted})
	time.Sleep(20 * time.Millisecond)

	if called {
		t.Fatal("handler for ErrorOccurred fired on ProductionStarted")
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	b := New()
	var mu sync.Mutex
	count := 0

	sub := b.Subscribe(AlertTriggered, func(e Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	b.Publish(Event{Kind: AlertTriggered})
	time.Sleep(20 * time.Millisecond)
	sub.Cancel()
	b.Publish(Event{Kind: AlertTriggered})
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Fatalf("count after cancel: got %d, want 1", count)
	}
}

func TestSubscribeAllRegistersEveryKind(t *testing.T) {
	b := New()
	var mu sync.Mutex
	seen := map[Kind]bool{}

	b.SubscribeAll(func(e Event) {
		mu.Lock()
		seen[e.Kind] = true
		mu.Unlock()
	}, StateChanged, ProductProcessed, ProductRejected)

	b.Publish(Event{Kind: StateChanged})
	b.Publish(Event{Kind: ProductProcessed})
	b.Publish(Event{Kind: ProductRejected})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := len(seen) == 3
		mu.Unlock()
		if done {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("missing deliveries, saw %v", seen)
}

func TestSlowHandlerDoesNotBlockOthers(t *testing.T) {
	b := New()
	fast := make(chan struct{}, 1)

	b.Subscribe(StatsUpdated, func(e Event) {
		time.Sleep(200 * time.Millisecond)
	})
	b.Subscribe(StatsUpdated, func(e Event) {
		fast <- struct{}{}
	})

	b.Publish(Event{Kind: StatsUpdated})

	select {
	case <-fast:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("fast handler was blocked by slow handler")
	}
}
