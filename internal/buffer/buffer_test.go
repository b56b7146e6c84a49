package buffer

import (
	"sync"
	"testing"
	"time"
)

func TestCapacityNeverExceeded(t *testing.T) {
	b := New[int](4)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			b.Push(v)
		}(i)
	}

	deadline := time.After(2 * time.Second)
	for i := 0; i < 100; i++ {
		select {
		case <-deadline:
			t.Fatal("timed out draining producers")
		default:
		}
		for b.Size() > b.Capacity() {
			t.Fatalf("size %d exceeded capacity %d", b.Size(), b.Capacity())
		}
		b.Pop()
	}
	wg.Wait()
}

func TestFIFOOrder(t *testing.T) {
	b := New[int](8)
	for i := 0; i < 8; i++ {
		if !b.TryPush(i) {
			t.Fatalf("push %d refused", i)
		}
	}
	for i := 0; i < 8; i++ {
		v, ok := b.TryPop()
		if !ok || v != i {
			t.Fatalf("pop %d: got (%d, %v)", i, v, ok)
		}
	}
}

func TestStopUnblocksWaiters(t *testing.T) {
	b := New[int](1)
	b.TryPush(0) // fill it so the next Push blocks

	done := make(chan bool, 1)
	go func() {
		done <- b.Push(1)
	}()

	time.Sleep(20 * time.Millisecond)
	b.Stop()

	select {
	case ok := <-done:
		if ok {
			t.Fatal("push should have been refused after stop")
		}
	case <-time.After(time.Second):
		t.Fatal("blocked push was not unblocked by Stop")
	}

	if _, ok := b.Pop(); ok {
		t.Fatal("pop should be refused after stop")
	}
}

func TestClearDrainsAndWakesProducer(t *testing.T) {
	b := New[int](2)
	b.TryPush(1)
	b.TryPush(2)

	b.Clear()
	if got := b.Size(); got != 0 {
		t.Fatalf("size after clear: got %d, want 0", got)
	}

	if !b.TryPush(3) {
		t.Fatal("push after clear should succeed, slots were not restored")
	}
	if !b.TryPush(4) {
		t.Fatal("second push after clear should succeed")
	}
}

func TestTryPushFailsWhenFull(t *testing.T) {
	b := New[int](1)
	if !b.TryPush(1) {
		t.Fatal("first push should succeed")
	}
	if b.TryPush(2) {
		t.Fatal("push into full buffer should fail")
	}
}

func TestTryPopFailsWhenEmpty(t *testing.T) {
	b := New[int](1)
	if _, ok := b.TryPop(); ok {
		t.Fatal("pop from empty buffer should fail")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	b := New[int](1)
	b.Stop()
	b.Stop()
}
