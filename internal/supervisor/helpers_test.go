package supervisor

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/loykin/backendvisor/internal/launch"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests require sh on Unix-like systems")
	}
}

func shSpec(script string) launch.Spec {
	return launch.Spec{Mode: launch.ModeDevelopment, Program: "/bin/sh", Args: []string{"-c", script}}
}

type logEntry struct {
	Level  slog.Level
	Msg    string
	Stream string
}

// recordHandler keeps every record so tests can assert on relayed lines.
type recordHandler struct {
	mu      *sync.Mutex
	entries *[]logEntry
}

func newRecordHandler() *recordHandler {
	return &recordHandler{mu: &sync.Mutex{}, entries: &[]logEntry{}}
}

func (h *recordHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordHandler) Handle(_ context.Context, r slog.Record) error {
	e := logEntry{Level: r.Level, Msg: r.Message}
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "stream" {
			e.Stream = a.Value.String()
		}
		return true
	})
	h.mu.Lock()
	*h.entries = append(*h.entries, e)
	h.mu.Unlock()
	return nil
}

func (h *recordHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *recordHandler) WithGroup(string) slog.Handler      { return h }

// stream returns the relayed lines of one stream in arrival order.
func (h *recordHandler) stream(name string) []logEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []logEntry
	for _, e := range *h.entries {
		if e.Stream == name {
			out = append(out, e)
		}
	}
	return out
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) observe(e Event) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) types() []EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]EventType, 0, len(l.events))
	for _, e := range l.events {
		out = append(out, e.Type)
	}
	return out
}

func (l *eventLog) count(t EventType) int {
	n := 0
	for _, got := range l.types() {
		if got == t {
			n++
		}
	}
	return n
}

func (l *eventLog) last(t EventType) (Event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.events) - 1; i >= 0; i-- {
		if l.events[i].Type == t {
			return l.events[i], true
		}
	}
	return Event{}, false
}

type fixture struct {
	sup    *Supervisor
	logs   *recordHandler
	events *eventLog
}

func newFixture(t *testing.T, spec launch.Spec, opts Options) *fixture {
	t.Helper()
	f := &fixture{logs: newRecordHandler(), events: &eventLog{}}
	if opts.Logger == nil {
		opts.Logger = slog.New(f.logs)
	}
	opts.Observers = append(opts.Observers, f.events.observe)
	f.sup = New(spec, opts)
	t.Cleanup(func() {
		_ = f.sup.Stop()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = f.sup.Wait(ctx)
	})
	return f
}

func waitDone(t *testing.T, s *Supervisor) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("backend did not finish: %v", err)
	}
}
