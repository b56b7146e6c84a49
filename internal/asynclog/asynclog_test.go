package asynclog

import (
	"fmt"
	"testing"
	"time"

	"github.com/elcorderodedios/assemblyline/internal/eventbus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newTestLogger(minLevel Level, bus *eventbus.Bus) (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	return New(minLevel, zap.New(core), bus), logs
}

func TestLogIsNonBlockingAndDrainsInOrder(t *testing.T) {
	l, logs := newTestLogger(Debug, nil)
	go l.Run()
	defer l.Stop()

	for i := 0; i < 5; i++ {
		l.Log(Info, "worker", "test", fmt.Sprintf("message %d", i))
	}

	require.Eventually(t, func() bool {
		return logs.Len() == 5
	}, time.Second, 5*time.Millisecond)

	entries := logs.All()
	for i, e := range entries {
		require.Equal(t, fmt.Sprintf("message %d", i), e.Message)
	}
}

func TestLevelBelowMinimumIsDropped(t *testing.T) {
	l, logs := newTestLogger(Warning, nil)
	go l.Run()
	defer l.Stop()

	l.Log(Debug, "worker", "test", "dropped")
	l.Log(Info, "worker", "test", "also dropped")
	l.Log(Error, "worker", "test", "kept")

	require.Eventually(t, func() bool {
		return logs.Len() == 1
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, "kept", logs.All()[0].Message)
}

func TestStopDrainsRemainingQueueBeforeReturning(t *testing.T) {
	l, logs := newTestLogger(Debug, nil)
	go l.Run()

	for i := 0; i < 50; i++ {
		l.Log(Info, "worker", "test", "burst")
	}
	l.Stop()

	require.Equal(t, 50, logs.Len())
	require.Equal(t, 0, l.PendingCount())
}

func TestLogPublishesLogEntryAddedOnBus(t *testing.T) {
	bus := eventbus.New()
	l, _ := newTestLogger(Debug, bus)
	go l.Run()
	defer l.Stop()

	events := make(chan eventbus.Event, 1)
	bus.Subscribe(eventbus.LogEntryAdded, func(e eventbus.Event) { events <- e })

	l.Log(Critical, "quality", "rework", "product rejected after rework cap")

	select {
	case e := <-events:
		require.Equal(t, "CRITICAL", e.LogRecord.Level)
		require.Equal(t, "quality", e.LogRecord.ThreadName)
		require.Equal(t, "rework", e.LogRecord.Category)
	case <-time.After(time.Second):
		t.Fatal("logEntryAdded never published")
	}
}

func TestNamedLoggerBindsThreadName(t *testing.T) {
	bus := eventbus.New()
	l, _ := newTestLogger(Debug, bus)
	go l.Run()
	defer l.Stop()

	events := make(chan eventbus.Event, 1)
	bus.Subscribe(eventbus.LogEntryAdded, func(e eventbus.Event) { events <- e })

	named := l.Named("Packaging")
	named.Warnf("push", "buffer nearly full: %d/%d", 18, 20)

	select {
	case e := <-events:
		require.Equal(t, "Packaging", e.LogRecord.ThreadName)
		require.Equal(t, "WARNING", e.LogRecord.Level)
		require.Equal(t, "buffer nearly full: 18/20", e.LogRecord.Message)
	case <-time.After(time.Second):
		t.Fatal("logEntryAdded never published")
	}
}

func TestLogAfterStopIsDroppedNotPanicking(t *testing.T) {
	l, logs := newTestLogger(Debug, nil)
	go l.Run()
	l.Stop()

	require.NotPanics(t, func() {
		l.Log(Info, "worker", "test", "too late")
	})
	require.Equal(t, 0, logs.Len())
	require.Equal(t, 0, l.PendingCount())
}
