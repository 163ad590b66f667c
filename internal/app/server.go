// Package app wires the Clarimeet subsystems into the two processes the
// binary can run as.
//
// [Server] is the long-lived control process: it serves the control socket,
// supervises the capture pipeline as a child process, relays the child's
// events to every client and answers questions from the latest summary.
// [RunPipeline] is the body of that child: capture, mix, transcribe and
// summarize, reporting events on stdout.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/clarimeet/clarimeet/internal/config"
	"github.com/clarimeet/clarimeet/internal/health"
	"github.com/clarimeet/clarimeet/internal/hub"
	"github.com/clarimeet/clarimeet/internal/ipc"
	"github.com/clarimeet/clarimeet/internal/observe"
	"github.com/clarimeet/clarimeet/internal/sessionstore"
	"github.com/clarimeet/clarimeet/internal/summary"
	"github.com/clarimeet/clarimeet/internal/supervisor"
	"github.com/clarimeet/clarimeet/pkg/provider/llm"
)

// shutdownTimeout bounds the graceful shutdown of the HTTP servers.
const shutdownTimeout = 10 * time.Second

// ServerOption configures a [Server].
type ServerOption func(*Server)

// WithServerLogger sets the logger. Default: slog.Default().
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.log = l }
}

// WithServerMetrics sets the metric instruments. Default: observe.DefaultMetrics().
func WithServerMetrics(m *observe.Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// WithGatherer sets the registry served on /metrics. Default:
// prometheus.DefaultGatherer.
func WithGatherer(g prometheus.Gatherer) ServerOption {
	return func(s *Server) { s.gatherer = g }
}

// WithPipelineCommand overrides the child pipeline command line.
func WithPipelineCommand(argv ...string) ServerOption {
	return func(s *Server) { s.command = argv }
}

// WithPipelineStdin sets the child pipeline's standard input. Default:
// os.Stdin, so a device prompt in the child is answered on the server's
// terminal.
func WithPipelineStdin(r io.Reader) ServerOption {
	return func(s *Server) { s.stdin = r }
}

// WithSessionStore uses store instead of opening cfg.Sessions.Path. The
// caller keeps ownership.
func WithSessionStore(store *sessionstore.Store) ServerOption {
	return func(s *Server) { s.store, s.ownsStore = store, false }
}

// Server is the control process.
type Server struct {
	cfg      *config.Config
	log      *slog.Logger
	metrics  *observe.Metrics
	gatherer prometheus.Gatherer
	command  []string
	stdin    io.Reader

	engine    *summary.Engine
	hub       *hub.Hub
	sup       *supervisor.Supervisor
	store     *sessionstore.Store
	ownsStore bool
}

// NewServer builds the control process. model answers questions; configPath
// is handed to the child pipeline so both processes share one config.
func NewServer(ctx context.Context, cfg *config.Config, model llm.Provider, configPath string, opts ...ServerOption) (*Server, error) {
	s := &Server{
		cfg:       cfg,
		log:       slog.Default(),
		gatherer:  prometheus.DefaultGatherer,
		command:   cfg.Supervisor.Command,
		stdin:     os.Stdin,
		ownsStore: true,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}

	if len(s.command) == 0 {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("app: resolve executable: %w", err)
		}
		s.command = PipelineCommand(exe, configPath)
	}

	if s.store == nil && cfg.Server.HTTPEnabled() {
		store, err := sessionstore.Open(ctx, cfg.Sessions.Path)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		s.store = store
	}

	s.engine = summary.New(model,
		summary.WithLogger(s.log.With("component", "summary")),
		summary.WithMetrics(s.metrics),
		summary.WithMinChars(cfg.Summary.MinChars),
		summary.WithIntervalChars(cfg.Summary.IntervalChars),
		summary.WithRetry(time.Second, cfg.Summary.RetryMaxElapsed),
	)
	relay := &relay{engine: s.engine}
	s.sup = supervisor.New(s.command, relay,
		supervisor.WithLogger(s.log.With("component", "supervisor")),
		supervisor.WithMetrics(s.metrics),
		supervisor.WithStopTimeout(cfg.Supervisor.StopTimeout),
		supervisor.WithStdin(s.stdin),
	)
	s.hub = hub.New(s.sup, s.engine,
		hub.WithLogger(s.log.With("component", "hub")),
		hub.WithMetrics(s.metrics),
		hub.WithOriginPatterns(cfg.Server.AllowedOrigins...),
	)
	relay.hub = s.hub
	return s, nil
}

// PipelineCommand is the default child command line: this binary in
// pipeline mode with the same config file.
func PipelineCommand(exe, configPath string) []string {
	argv := []string{exe, "--ws-mode"}
	if configPath != "" {
		argv = append(argv, "--config", configPath)
	}
	return argv
}

// Hub returns the control socket handler.
func (s *Server) Hub() *hub.Hub { return s.hub }

// Engine returns the server-side summary engine.
func (s *Server) Engine() *summary.Engine { return s.engine }

// Handler returns the side-server routes: health checks, metrics and sessions.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	var checkers []health.Checker
	if s.store != nil {
		checkers = append(checkers, health.Checker{Name: "sessions", Check: s.store.Ping})
		sessionstore.NewHandler(s.store, s.log.With("component", "sessions")).Register(mux)
	}
	health.New(checkers...).WithGauges(
		health.Gauge{Name: "pipeline_running", Value: func() any { return s.sup.Running() }},
		health.Gauge{Name: "clients", Value: func() any { return s.hub.Len() }},
	).Register(mux)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	return observe.Middleware(s.metrics, s.log)(mux)
}

// Run listens on the configured addresses and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	var lc net.ListenConfig
	wsLn, err := lc.Listen(ctx, "tcp", s.cfg.Server.WSAddr)
	if err != nil {
		return fmt.Errorf("app: listen control socket: %w", err)
	}
	var httpLn net.Listener
	if s.cfg.Server.HTTPEnabled() {
		httpLn, err = lc.Listen(ctx, "tcp", s.cfg.Server.HTTPAddr)
		if err != nil {
			wsLn.Close()
			return fmt.Errorf("app: listen http: %w", err)
		}
	}
	return s.Serve(ctx, wsLn, httpLn)
}

// Serve serves the control socket on wsLn and, when httpLn is not nil, the
// side server on it. It returns after ctx is cancelled and everything has
// shut down: clients disconnected, the pipeline stopped, the store closed.
func (s *Server) Serve(ctx context.Context, wsLn, httpLn net.Listener) error {
	servers := []*http.Server{{Handler: s.hub, ReadHeaderTimeout: 5 * time.Second}}
	listeners := []net.Listener{wsLn}
	if httpLn != nil {
		servers = append(servers, &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second})
		listeners = append(listeners, httpLn)
	}

	s.log.Info("control socket listening", "addr", wsLn.Addr().String())
	if httpLn != nil {
		s.log.Info("http server listening", "addr", httpLn.Addr().String())
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, srv := range servers {
		g.Go(func() error {
			if err := srv.Serve(listeners[i]); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: serve %s: %w", listeners[i].Addr(), err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return s.shutdown(servers)
	})
	return g.Wait()
}

func (s *Server) shutdown(servers []*http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.log.Info("shutting down")

	var errs []error
	// Hijacked websocket connections are not tracked by http.Server, so the
	// hub closes them itself.
	errs = append(errs, s.hub.Close(ctx))
	for _, srv := range servers {
		errs = append(errs, srv.Shutdown(ctx))
	}
	errs = append(errs, s.sup.Close(ctx))
	if s.store != nil && s.ownsStore {
		errs = append(errs, s.store.Close())
	}
	return errors.Join(errs...)
}

// relay receives the child's events. Transcripts and summaries update the
// server-side engine before they are broadcast so questions are answered
// from the most recent summary.
type relay struct {
	engine *summary.Engine
	hub    *hub.Hub
}

func (r *relay) Publish(ctx context.Context, ev ipc.Event) {
	switch ev.Type {
	case ipc.TypeTranscript:
		r.engine.AddTranscript(ev.Text)
	case ipc.TypeSummary:
		r.engine.Adopt(ev.Text)
	}
	r.hub.Publish(ctx, ev)
}
