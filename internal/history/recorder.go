package history

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/backendvisor/internal/supervisor"
)

const (
	defaultBuffer      = 64
	defaultSendTimeout = 5 * time.Second
)

// Recorder forwards supervisor events to a Sink on its own goroutine so
// lifecycle transitions never wait on storage. When the buffer is full the
// event is dropped and logged.
type Recorder struct {
	sink Sink
	log  *slog.Logger
	ch   chan Event
	wg   sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewRecorder starts a recorder writing to sink.
func NewRecorder(sink Sink, buffer int, log *slog.Logger) *Recorder {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	if log == nil {
		log = slog.Default()
	}
	r := &Recorder{sink: sink, log: log, ch: make(chan Event, buffer)}
	r.wg.Add(1)
	go r.loop()
	return r
}

// Observe is a supervisor.Observer.
func (r *Recorder) Observe(e supervisor.Event) {
	r.Record(FromSupervisor(e))
}

// Record enqueues e without blocking.
func (r *Recorder) Record(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.ch <- e:
	default:
		r.log.Warn("history buffer full, event dropped", "event", e.Type, "backend", e.Record.Name)
	}
}

func (r *Recorder) loop() {
	defer r.wg.Done()
	for e := range r.ch {
		ctx, cancel := context.WithTimeout(context.Background(), defaultSendTimeout)
		if err := r.sink.Send(ctx, e); err != nil {
			r.log.Warn("history send failed", "event", e.Type, "backend", e.Record.Name, "error", err)
		}
		cancel()
	}
}

// Close flushes pending events and closes the sink when it is an io.Closer.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.ch)
	r.mu.Unlock()
	r.wg.Wait()
	if c, ok := r.sink.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
