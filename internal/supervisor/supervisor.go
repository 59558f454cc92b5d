package supervisor

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/loykin/backendvisor/internal/launch"
	"github.com/loykin/backendvisor/internal/logger"
	"github.com/loykin/backendvisor/internal/metrics"
)

// DefaultDrainGrace bounds how long the monitor waits for output to drain
// after the backend exits before closing the read ends. The backend is
// already reported as stopped during that time.
const DefaultDrainGrace = 2 * time.Second

// Options configure a Supervisor. The zero value is usable.
type Options struct {
	Name       string            // label for logs, metrics and events (default "backend")
	Env        []string          // full child environment; nil inherits the host environment
	Logger     *slog.Logger      // receives relayed output and lifecycle logs (default slog.Default())
	Capture    logger.FileConfig // optional rotating files for raw backend output
	Observers  []Observer
	DrainGrace time.Duration
}

// Supervisor owns at most one backend process at a time.
// Start and Stop are serialized; observers see events in transition order.
type Supervisor struct {
	mu     sync.Mutex
	spec   launch.Spec
	name   string
	env    []string
	log    *slog.Logger
	opts   Options
	proc   *supervised // live process, nil when stopped
	last   *supervised // most recent process, for Done
	status Status

	// emitMu is taken before mu is released so events are delivered in the
	// same order as the transitions that produced them.
	emitMu    sync.Mutex
	obsMu     sync.RWMutex
	observers []Observer
}

// supervised is the runtime handle of one spawned backend.
type supervised struct {
	cmd       *exec.Cmd
	pid       int
	startedAt time.Time
	outR      *os.File
	errR      *os.File
	outCap    io.WriteCloser
	errCap    io.WriteCloser
	relays    sync.WaitGroup
	done      chan struct{} // closed once the process is reaped and relays ended
}

var closedChan = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()

// New creates a stopped Supervisor for spec.
func New(spec launch.Spec, opts Options) *Supervisor {
	name := opts.Name
	if name == "" {
		name = "backend"
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	if opts.DrainGrace <= 0 {
		opts.DrainGrace = DefaultDrainGrace
	}
	s := &Supervisor{
		spec:      spec,
		name:      name,
		env:       opts.Env,
		log:       log,
		opts:      opts,
		observers: append([]Observer(nil), opts.Observers...),
	}
	s.status = Status{Name: name, State: StateStopped, Command: spec.String()}
	metrics.SetRunning(name, false)
	return s
}

// Name returns the label used for logs, metrics and events.
func (s *Supervisor) Name() string { return s.name }

// Spec returns the launch spec this supervisor starts.
func (s *Supervisor) Spec() launch.Spec { return s.spec }

// Subscribe adds an observer for subsequent events.
func (s *Supervisor) Subscribe(o Observer) {
	if o == nil {
		return
	}
	s.obsMu.Lock()
	s.observers = append(s.observers, o)
	s.obsMu.Unlock()
}

// Start spawns the backend. It returns ErrAlreadyRunning while a process is
// live and a *SpawnError when the launch fails; in both cases no new process
// exists afterwards. On success output relays and the exit monitor run in
// the background and Start returns immediately.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	if s.proc != nil {
		pid := s.proc.pid
		s.mu.Unlock()
		s.log.Warn("backend start rejected", "backend", s.name, "pid", pid, "error", ErrAlreadyRunning)
		return ErrAlreadyRunning
	}

	p, err := s.spawn()
	if err != nil {
		s.status.LastError = err.Error()
		ev := s.event(EventSpawnFailure, 0)
		ev.Err = err
		s.emitMu.Lock()
		s.mu.Unlock()
		metrics.IncSpawnFailure(s.name)
		s.log.Error("backend spawn failed", "backend", s.name, "command", s.status.Command, "error", err)
		s.emit(ev)
		s.emitMu.Unlock()
		return err
	}

	s.proc = p
	s.last = p
	s.status.State = StateRunning
	s.status.PID = p.pid
	s.status.StartedAt = p.startedAt
	s.status.StoppedAt = time.Time{}
	s.status.LastError = ""
	ev := s.event(EventStarted, p.pid)
	s.emitMu.Lock()
	s.mu.Unlock()

	metrics.IncStart(s.name)
	metrics.SetRunning(s.name, true)
	s.log.Info("backend started", "backend", s.name, "pid", p.pid, "command", ev.Command)
	s.emit(ev)
	s.emitMu.Unlock()

	go s.relay(p, p.outR, StreamStdout, p.outCap)
	go s.relay(p, p.errR, StreamStderr, p.errCap)
	go s.monitor(p)
	return nil
}

// spawn starts the OS process. Caller holds s.mu.
func (s *Supervisor) spawn() (*supervised, error) {
	command := s.spec.String()
	cmd := s.spec.Cmd()
	if s.env != nil {
		cmd.Env = s.env
	}
	configureSysProcAttr(cmd)

	outR, outW, err := os.Pipe()
	if err != nil {
		return nil, &SpawnError{Command: command, Err: err}
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		closeAll(outR, outW)
		return nil, &SpawnError{Command: command, Err: err}
	}
	cmd.Stdout = outW
	cmd.Stderr = errW

	p := &supervised{cmd: cmd, outR: outR, errR: errR, done: make(chan struct{})}
	if s.opts.Capture.Enabled() {
		outCap, errCap, err := s.opts.Capture.Writers(s.name)
		if err != nil {
			s.log.Warn("backend output capture disabled", "backend", s.name, "error", err)
		} else {
			p.outCap, p.errCap = outCap, errCap
		}
	}

	if err := cmd.Start(); err != nil {
		closeAll(outR, outW, errR, errW)
		closeAll(p.outCap, p.errCap)
		return nil, &SpawnError{Command: command, Err: err}
	}
	// the child holds its own copies of the write ends
	closeAll(outW, errW)

	p.pid = cmd.Process.Pid
	p.startedAt = time.Now()
	p.relays.Add(2)
	return p, nil
}

// Stop signals the live backend and releases it. It does not wait for the
// process to exit and is a no-op when nothing is running.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	p := s.proc
	if p == nil {
		s.mu.Unlock()
		return nil
	}
	s.proc = nil
	s.status.State = StateStopped
	s.status.PID = 0
	s.status.StoppedAt = time.Now()
	sigErr := terminate(p.cmd.Process)
	ev := s.event(EventStopped, p.pid)
	ev.Err = sigErr
	s.emitMu.Lock()
	s.mu.Unlock()

	metrics.IncStop(s.name)
	metrics.SetRunning(s.name, false)
	if sigErr != nil {
		s.log.Warn("backend stop signal failed", "backend", s.name, "pid", p.pid, "error", sigErr)
	} else {
		s.log.Info("backend stopped", "backend", s.name, "pid", p.pid)
	}
	s.emit(ev)
	s.emitMu.Unlock()
	return sigErr
}

// monitor reaps the process and records the exit at once, so State and
// Start see the backend as gone even while a grandchild keeps the output
// pipes open. The exit event is emitted in transition order; done closes
// only after the relays have drained.
func (s *Supervisor) monitor(p *supervised) {
	_ = p.cmd.Wait()
	code := exitCode(p.cmd)

	s.mu.Lock()
	unexpected := s.proc == p
	if unexpected {
		s.proc = nil
		s.status.State = StateStopped
		s.status.PID = 0
		s.status.StoppedAt = time.Now()
	}
	if s.last == p {
		c := code
		s.status.LastExitCode = &c
	}
	typ := EventExited
	if unexpected {
		typ = EventUnexpectedExit
	}
	ev := s.event(typ, p.pid)
	ev.ExitCode = code
	s.emitMu.Lock()
	s.mu.Unlock()

	metrics.SetLastExitCode(s.name, code)
	if unexpected {
		metrics.IncUnexpectedExit(s.name)
		metrics.SetRunning(s.name, false)
		s.log.Error("backend exited unexpectedly", "backend", s.name, "pid", p.pid, "exit_code", code)
	} else {
		s.log.Info("backend exited", "backend", s.name, "pid", p.pid, "exit_code", code)
	}
	s.emit(ev)
	s.emitMu.Unlock()

	s.drain(p)
	close(p.done)
}

// drain waits for both relays, closing the read ends once the grace
// period passes.
func (s *Supervisor) drain(p *supervised) {
	drained := make(chan struct{})
	go func() {
		p.relays.Wait()
		close(drained)
	}()
	t := time.NewTimer(s.opts.DrainGrace)
	select {
	case <-drained:
		t.Stop()
	case <-t.C:
		// a grandchild may still hold the pipes open
		s.log.Warn("backend output still open after exit, closing", "backend", s.name, "pid", p.pid)
		closeAll(p.outR, p.errR)
		<-drained
	}
	closeAll(p.outR, p.errR, p.outCap, p.errCap)
}

// event builds an event stamped now. Caller holds s.mu.
func (s *Supervisor) event(t EventType, pid int) Event {
	return Event{Type: t, Name: s.name, PID: pid, Command: s.status.Command, OccurredAt: time.Now()}
}

// emit delivers ev to observers. Caller holds s.emitMu.
func (s *Supervisor) emit(ev Event) {
	s.obsMu.RLock()
	obs := append([]Observer(nil), s.observers...)
	s.obsMu.RUnlock()
	for _, o := range obs {
		o(ev)
	}
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status.State
}

// Status returns a snapshot of the supervisor.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	st := s.status
	s.mu.Unlock()
	if st.LastExitCode != nil {
		c := *st.LastExitCode
		st.LastExitCode = &c
	}
	return st
}

// Done returns a channel closed once the most recent backend process has
// been reaped and its output fully relayed. It is already closed if
// nothing was ever started.
func (s *Supervisor) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return closedChan
	}
	return s.last.done
}

// Wait blocks until Done is closed or ctx ends.
func (s *Supervisor) Wait(ctx context.Context) error {
	select {
	case <-s.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func exitCode(cmd *exec.Cmd) int {
	if cmd.ProcessState == nil {
		return -1
	}
	return cmd.ProcessState.ExitCode()
}

func closeAll(cs ...io.Closer) {
	for _, c := range cs {
		if c == nil {
			continue
		}
		_ = c.Close()
	}
}
