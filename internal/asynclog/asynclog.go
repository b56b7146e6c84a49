// Package asynclog implements the AsyncLogger of spec.md §4.7: log calls
// are non-blocking for every producer, enqueued on a mutex+condition
// guarded FIFO, and drained in order by a single dedicated sink goroutine
// so that no station, controller, or aggregator goroutine ever blocks on
// log I/O.
//
// Grounded on original_source/logging/Logger.{h,cpp}: Logger::log enqueues
// and signals a wait condition; LoggerWorker::processLogs waits on that
// condition, drains one entry at a time, and on stop drains whatever
// remains before exiting. File rotation (Logger::rotateLogFile,
// LoggerWorker::checkFileRotation) is named out of scope by spec.md §1 and
// is not reimplemented.
package asynclog

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/elcorderodedios/assemblyline/internal/eventbus"
)

// Level is the total order Debug < Info < Warning < Error < Critical from
// spec.md §4.7.
type Level int

const (
	Debug Level = iota
	Info
	Warning
	Error
	Critical
)

var levelNames = [...]string{"DEBUG", "INFO", "WARNING", "ERROR", "CRITICAL"}

func (l Level) String() string {
	if int(l) < 0 || int(l) >= len(levelNames) {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// zapLevel maps this package's five-level order onto zapcore.Level.
// Critical collapses onto zapcore.ErrorLevel rather than DPanicLevel: this
// module's own minLevel filter (applied before enqueue) is what realizes
// spec.md §4.7's level ordering, so zap's core only needs to not discard
// or panic on the write — the "CRITICAL" distinction survives in the
// written "level" field and in the logEntryAdded event regardless of
// which zapcore.Level carries it to the sink.
func (l Level) zapLevel() zapcore.Level {
	switch l {
	case Debug:
		return zapcore.DebugLevel
	case Info:
		return zapcore.InfoLevel
	case Warning:
		return zapcore.WarnLevel
	case Error, Critical:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Entry is one queued log record, timestamped on the producer side per
// spec.md §4.7 ("the record is timestamped on the producer side").
type Entry struct {
	Timestamp  time.Time
	Level      Level
	Category   string
	ThreadName string
	Message    string
}

// Logger is the AsyncLogger: log(level, category, message) enqueues onto
// an unbounded FIFO; a single sink goroutine dequeues and writes through a
// zap core.
type Logger struct {
	minLevel Level
	core     *zap.Logger
	bus      *eventbus.Bus

	mu    sync.Mutex
	cond  *sync.Cond
	queue []Entry

	stopping bool

	doneCh chan struct{}
}

// New builds a Logger that writes through core (pass a zap.Logger built
// with whatever core the caller wants — a JSON console core in
// production, an in-memory observer core in tests) and publishes
// logEntryAdded on bus for every record accepted past the level filter.
// The sink goroutine is started by Run, not by New, so a caller can wire
// everything up before log traffic begins.
func New(minLevel Level, core *zap.Logger, bus *eventbus.Bus) *Logger {
	l := &Logger{
		minLevel: minLevel,
		core:     core,
		bus:      bus,
		doneCh:   make(chan struct{}),
	}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Log enqueues a record for the sink to write. It never blocks on I/O: it
// takes the queue mutex just long enough to append and signal, matching
// spec.md §4.7's "non-blocking for all producers". Records below minLevel
// are dropped before enqueue. threadName identifies the logical producer
// (a station name, "metrics", "registry", ...) — Go has no
// QThread::currentThread() to default it from, so every producer names
// itself explicitly, the same way zap.Logger.Named requires an explicit
// name rather than inferring one.
func (l *Logger) Log(level Level, threadName, category, message string) {
	if level < l.minLevel {
		return
	}
	entry := Entry{
		Timestamp:  time.Now(),
		Level:      level,
		Category:   category,
		ThreadName: threadName,
		Message:    message,
	}

	l.mu.Lock()
	if l.stopping {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, entry)
	l.mu.Unlock()
	l.cond.Signal()
}

// Named returns a NamedLogger bound to threadName, so a station or
// background worker doesn't have to repeat its own name on every call.
func (l *Logger) Named(threadName string) NamedLogger {
	return NamedLogger{logger: l, threadName: threadName}
}

// NamedLogger is a Logger pre-bound to one producer's thread name.
type NamedLogger struct {
	logger     *Logger
	threadName string
}

func (n NamedLogger) Debugf(category, format string, args ...interface{}) {
	n.logger.Log(Debug, n.threadName, category, fmt.Sprintf(format, args...))
}
func (n NamedLogger) Infof(category, format string, args ...interface{}) {
	n.logger.Log(Info, n.threadName, category, fmt.Sprintf(format, args...))
}
func (n NamedLogger) Warnf(category, format string, args ...interface{}) {
	n.logger.Log(Warning, n.threadName, category, fmt.Sprintf(format, args...))
}
func (n NamedLogger) Errorf(category, format string, args ...interface{}) {
	n.logger.Log(Error, n.threadName, category, fmt.Sprintf(format, args...))
}
func (n NamedLogger) Criticalf(category, format string, args ...interface{}) {
	n.logger.Log(Critical, n.threadName, category, fmt.Sprintf(format, args...))
}

// Run drives the sink loop until Stop is called. It is meant to run in
// its own goroutine for the life of the process — "a single dedicated
// sink worker" per spec.md §4.7.
func (l *Logger) Run() {
	defer close(l.doneCh)
	for {
		l.mu.Lock()
		for len(l.queue) == 0 && !l.stopping {
			l.cond.Wait()
		}
		if len(l.queue) == 0 && l.stopping {
			l.mu.Unlock()
			return
		}
		entry := l.queue[0]
		l.queue = l.queue[1:]
		l.mu.Unlock()

		l.write(entry)
	}
}

func (l *Logger) write(entry Entry) {
	l.core.Check(entry.Level.zapLevel(), entry.Message).Write(
		zap.Time("timestamp", entry.Timestamp),
		zap.String("level", entry.Level.String()),
		zap.String("category", entry.Category),
		zap.String("thread", entry.ThreadName),
	)

	if l.bus != nil {
		l.bus.Publish(eventbus.Event{
			Kind: eventbus.LogEntryAdded,
			LogRecord: eventbus.LogRecord{
				Timestamp:  entry.Timestamp.Format(time.RFC3339Nano),
				Level:      entry.Level.String(),
				Category:   entry.Category,
				ThreadName: entry.ThreadName,
				Message:    entry.Message,
			},
		})
	}
}

// Stop sets the stopping flag and wakes the sink; per spec.md §4.7 the
// sink drains the queue once more before exiting, and any record enqueued
// after Stop may be dropped. Stop blocks until the sink has exited.
func (l *Logger) Stop() {
	l.mu.Lock()
	l.stopping = true
	l.mu.Unlock()
	l.cond.Broadcast()
	<-l.doneCh
}

// PendingCount reports the current queue depth, for tests and diagnostics.
func (l *Logger) PendingCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}
