package audit

import (
	"log/slog"
	"sync"
	"time"
)

// Logger serializes audit appends behind one writer goroutine. The queue is
// unbounded: audit pressure must never push back into request handling, and
// losing records on overload would defeat the trail's purpose.
type Logger struct {
	sink Sink

	mu    sync.Mutex
	queue []Record

	wake chan struct{}
	done chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
}

// NewLogger creates a logger draining to the given sink.
func NewLogger(sink Sink) *Logger {
	return &Logger{
		sink: sink,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Start launches the writer goroutine. Safe to call once; later calls are
// no-ops.
func (l *Logger) Start() {
	l.startOnce.Do(func() {
		go l.run()
	})
}

// Shutdown stops the writer after draining everything queued so far.
func (l *Logger) Shutdown() {
	l.stopOnce.Do(func() {
		close(l.done)
	})
	// Final synchronous drain: records appended before Shutdown are flushed
	// even if the goroutine already observed done.
	l.drain()
}

// Healthy reports whether the writer goroutine is still accepting records.
func (l *Logger) Healthy() bool {
	select {
	case <-l.done:
		return false
	default:
		return true
	}
}

// Append enqueues one record. A zero Timestamp is stamped with the current
// time. Never blocks on I/O.
func (l *Logger) Append(r Record) {
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}

	l.mu.Lock()
	l.queue = append(l.queue, r)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Logger) run() {
	for {
		select {
		case <-l.wake:
			l.drain()
		case <-l.done:
			l.drain()
			return
		}
	}
}

// drain swaps out the queue and writes it as one batch.
func (l *Logger) drain() {
	l.mu.Lock()
	batch := l.queue
	l.queue = nil
	l.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	if err := l.sink.Write(batch); err != nil {
		slog.Error("Audit batch write failed", "records", len(batch), "error", err)
	}
}
