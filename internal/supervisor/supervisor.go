// Package supervisor runs the capture pipeline as a child process and relays
// the events it reports.
//
// At most one child runs at a time. Start and Stop are serialised by one lock
// and are idempotent: starting a running pipeline or stopping an idle one is
// reported as a notice, not an error.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/clarimeet/clarimeet/internal/ipc"
	"github.com/clarimeet/clarimeet/internal/observe"
)

// ErrChildProcessTimeout is reported when the child ignores the termination
// signal and has to be killed.
var ErrChildProcessTimeout = errors.New("child process did not exit in time")

// DefaultStopTimeout is how long Stop waits after the termination signal.
const DefaultStopTimeout = 5 * time.Second

// Status lines returned by Start and Stop and published on unexpected exits.
const (
	StatusStarted        = "Transcription started."
	StatusAlreadyRunning = "Hover widget is already running"
	StatusStopped        = "Transcription stopped."
	StatusNotRunning     = "Transcription is not running"
)

// scanGrace bounds how long an exited child's output is still read.
const scanGrace = time.Second

// Sink receives the events of the running child.
type Sink interface {
	Publish(ctx context.Context, ev ipc.Event)
}

// Option configures a [Supervisor].
type Option func(*Supervisor)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) { s.log = l }
}

// WithMetrics sets the metric instruments. Default: observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Supervisor) { s.metrics = m }
}

// WithStopTimeout overrides DefaultStopTimeout.
func WithStopTimeout(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.stopTimeout = d
		}
	}
}

// WithEnv adds variables to the child's environment, which otherwise
// inherits the supervisor's.
func WithEnv(env ...string) Option {
	return func(s *Supervisor) { s.env = append(s.env, env...) }
}

// WithStdin connects r to the child's standard input, which the pipeline
// reads a device index from when loopback discovery fails. Default: none, so
// the child reads end of file.
func WithStdin(r io.Reader) Option {
	return func(s *Supervisor) { s.stdin = r }
}

// Supervisor owns the lifecycle of the pipeline child process.
type Supervisor struct {
	command     []string
	sink        Sink
	log         *slog.Logger
	metrics     *observe.Metrics
	stopTimeout time.Duration
	env         []string
	stdin       io.Reader

	mu    sync.Mutex
	child *child
}

type child struct {
	cmd      *exec.Cmd
	done     chan struct{}
	scanDone chan struct{}
	waitErr  error
	stopping atomic.Bool
}

// New creates a Supervisor that runs command (program and arguments) and
// publishes its events to sink.
func New(command []string, sink Sink, opts ...Option) *Supervisor {
	s := &Supervisor{
		command:     command,
		sink:        sink,
		log:         slog.Default(),
		stopTimeout: DefaultStopTimeout,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Start launches the child unless one is running.
func (s *Supervisor) Start(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.child != nil {
		s.log.Info("supervisor: pipeline already running", "pid", s.child.cmd.Process.Pid)
		return StatusAlreadyRunning, nil
	}
	if len(s.command) == 0 {
		return "", errors.New("supervisor: start: no pipeline command configured")
	}

	r, w, err := os.Pipe()
	if err != nil {
		return "", fmt.Errorf("supervisor: start: %w", err)
	}
	cmd := exec.Command(s.command[0], s.command[1:]...)
	cmd.Env = append(os.Environ(), s.env...)
	cmd.Stdin = s.stdin
	cmd.Stdout = w
	cmd.Stderr = w
	if err := cmd.Start(); err != nil {
		_ = r.Close()
		_ = w.Close()
		return "", fmt.Errorf("supervisor: start %s: %w", s.command[0], err)
	}
	// The child holds its own copy of the write end.
	_ = w.Close()

	c := &child{cmd: cmd, done: make(chan struct{}), scanDone: make(chan struct{})}
	s.child = c
	s.metrics.PipelineStarts.Add(ctx, 1)
	s.log.Info("supervisor: pipeline started", "pid", cmd.Process.Pid, "command", s.command)

	go s.scan(c, r)
	go s.wait(c)
	return StatusStarted, nil
}

// Stop terminates the running child: a termination signal first, then a kill
// if it has not exited within the stop timeout.
func (s *Supervisor) Stop(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.child
	if c == nil {
		s.log.Info("supervisor: no pipeline running")
		return StatusNotRunning, nil
	}
	c.stopping.Store(true)
	pid := c.cmd.Process.Pid

	if err := terminate(c.cmd.Process); err != nil {
		s.log.Debug("supervisor: signal pipeline", "pid", pid, "err", err)
	}

	reason := "stopped"
	timer := time.NewTimer(s.stopTimeout)
	defer timer.Stop()
	select {
	case <-c.done:
	case <-timer.C:
		s.log.Warn("supervisor: killing pipeline", "pid", pid, "err", ErrChildProcessTimeout, "timeout", s.stopTimeout)
		reason = "killed"
		_ = c.cmd.Process.Kill()
		<-c.done
	case <-ctx.Done():
		s.log.Warn("supervisor: killing pipeline", "pid", pid, "err", ctx.Err())
		reason = "killed"
		_ = c.cmd.Process.Kill()
		<-c.done
	}

	s.child = nil
	s.metrics.RecordPipelineExit(ctx, reason)
	s.log.Info("supervisor: pipeline stopped", "pid", pid, "reason", reason)
	return StatusStopped, nil
}

// Running reports whether a child is active.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.child != nil
}

// Close stops the child if one is running.
func (s *Supervisor) Close(ctx context.Context) error {
	_, err := s.Stop(ctx)
	return err
}

func (s *Supervisor) scan(c *child, r *os.File) {
	defer close(c.scanDone)
	defer r.Close()

	ctx := context.Background()
	sc := ipc.NewScanner(r)
	for sc.Scan() {
		ev, ok := sc.Event()
		if !ok {
			s.log.Debug("pipeline", "line", sc.Raw())
			continue
		}
		switch ev.Type {
		case ipc.TypeError:
			s.log.Error("pipeline reported an error", "err", ev.Text)
		case ipc.TypeStatus:
			s.log.Info("pipeline", "status", ev.Text)
		}
		s.sink.Publish(ctx, ev)
	}
	if err := sc.Err(); err != nil {
		s.log.Warn("supervisor: read pipeline output", "err", err)
	}
}

// wait reaps the child. An exit that Stop did not ask for returns the
// supervisor to idle and is announced on the sink.
func (s *Supervisor) wait(c *child) {
	c.waitErr = c.cmd.Wait()
	close(c.done)

	select {
	case <-c.scanDone:
	case <-time.After(scanGrace):
	}
	if c.stopping.Load() {
		return
	}

	s.mu.Lock()
	if s.child != c {
		s.mu.Unlock()
		return
	}
	s.child = nil
	s.mu.Unlock()

	ctx := context.Background()
	s.metrics.RecordPipelineExit(ctx, "exited")
	if c.waitErr != nil {
		s.log.Warn("supervisor: pipeline exited", "pid", c.cmd.Process.Pid, "err", c.waitErr)
	} else {
		s.log.Info("supervisor: pipeline exited", "pid", c.cmd.Process.Pid)
	}
	s.sink.Publish(ctx, ipc.Event{Type: ipc.TypeStatus, Text: StatusStopped})
}
