package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/clarimeet/clarimeet/internal/ipc"
	"github.com/clarimeet/clarimeet/internal/observe"
	"github.com/clarimeet/clarimeet/pkg/audio"
	"github.com/clarimeet/clarimeet/pkg/audio/mixer"
)

// Source is the pair of live audio inputs a session mixes. *capture.Capture
// implements it.
type Source interface {
	// Prepare resolves devices and returns the negotiated sample rate without
	// starting any audio.
	Prepare() (int, error)
	StartMicrophone() error
	StartSpeakerLoopback() error
	Mic() <-chan audio.Frame
	Speaker() <-chan audio.Frame
	Stop() error
}

// RunnerOption configures a [Runner].
type RunnerOption func(*Runner)

// WithRunnerLogger sets the logger. Default: slog.Default().
func WithRunnerLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) { r.log = l }
}

// WithRunnerMetrics sets the metric instruments. Default: observe.DefaultMetrics().
func WithRunnerMetrics(m *observe.Metrics) RunnerOption {
	return func(r *Runner) { r.metrics = m }
}

// WithQueueSize sets the mixed-frame queue capacity. Default: mixer.DefaultQueueSize.
func WithQueueSize(n int) RunnerOption {
	return func(r *Runner) { r.queueSize = n }
}

// Runner wires capture, mixer and transcription client together for the
// lifetime of one child process.
type Runner struct {
	source    Source
	client    *Client
	emitter   Emitter
	log       *slog.Logger
	metrics   *observe.Metrics
	queueSize int
}

// NewRunner creates a Runner.
func NewRunner(source Source, client *Client, emitter Emitter, opts ...RunnerOption) *Runner {
	r := &Runner{
		source:    source,
		client:    client,
		emitter:   emitter,
		log:       slog.Default(),
		queueSize: mixer.DefaultQueueSize,
	}
	for _, o := range opts {
		o(r)
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	return r
}

// Run captures, mixes and transcribes until ctx is cancelled or the session
// ends. Device and sample-rate problems are reported before any stream is
// opened. Every failure is also emitted as an error event.
func (r *Runner) Run(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			r.emit(ipc.Event{Type: ipc.TypeError, Text: err.Error()})
		}
	}()

	rate, err := r.source.Prepare()
	if err != nil {
		_ = r.source.Stop()
		return fmt.Errorf("pipeline: prepare audio: %w", err)
	}

	defer func() {
		if stopErr := r.source.Stop(); stopErr != nil {
			r.log.Warn("stop capture", "err", stopErr)
		}
	}()
	if err := r.source.StartMicrophone(); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	if err := r.source.StartSpeakerLoopback(); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}

	mx := mixer.New(r.source.Mic(), r.source.Speaker(),
		mixer.WithQueueSize(r.queueSize),
		mixer.WithOnMixed(func() { r.metrics.FramesMixed.Add(ctx, 1) }),
		mixer.WithOnReplaced(func(source string) { r.metrics.RecordFrameDropped(ctx, source, "mixer") }),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := mx.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		defer func() {
			mx.Close()
			audio.Drain(mx.Output())
		}()
		return r.client.Run(gctx, rate, mx.Output())
	})

	r.log.Info("pipeline running", "sample_rate", rate)
	return g.Wait()
}

func (r *Runner) emit(ev ipc.Event) {
	if r.emitter == nil {
		return
	}
	if err := r.emitter.Emit(ev); err != nil {
		r.log.Warn("emit event", "type", ev.Type, "err", err)
	}
}
