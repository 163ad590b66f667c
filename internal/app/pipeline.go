package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/clarimeet/clarimeet/internal/config"
	"github.com/clarimeet/clarimeet/internal/ipc"
	"github.com/clarimeet/clarimeet/internal/observe"
	"github.com/clarimeet/clarimeet/internal/pipeline"
	"github.com/clarimeet/clarimeet/internal/summary"
	"github.com/clarimeet/clarimeet/pkg/provider/llm"
	"github.com/clarimeet/clarimeet/pkg/provider/stt"
)

// PipelineDeps are the external pieces of the child pipeline.
type PipelineDeps struct {
	// Source delivers microphone and loopback frames.
	Source pipeline.Source

	STT     stt.Provider
	STTName string
	LLM     llm.Provider

	// Events reports to the supervisor. Normally an encoder on os.Stdout.
	Events *ipc.Encoder

	Logger  *slog.Logger
	Metrics *observe.Metrics
}

// RunPipeline captures, transcribes and summarizes until ctx is cancelled or
// the session fails. Failures are reported on Events before they are
// returned.
func RunPipeline(ctx context.Context, cfg *config.Config, deps PipelineDeps) error {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	m := deps.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	enc := deps.Events
	if enc == nil {
		enc = ipc.NewEncoder(io.Discard)
	}

	engine := summary.New(deps.LLM,
		summary.WithLogger(log.With("component", "summary")),
		summary.WithMetrics(m),
		summary.WithMinChars(cfg.Summary.MinChars),
		summary.WithIntervalChars(cfg.Summary.IntervalChars),
		summary.WithRetry(time.Second, cfg.Summary.RetryMaxElapsed),
	)
	keywords, err := cfg.Providers.STT.Keywords()
	if err != nil {
		return fmt.Errorf("app: providers.stt.%w", err)
	}
	client := pipeline.NewClient(deps.STT, engine, enc,
		pipeline.WithKeywords(keywords),
		pipeline.WithClientLogger(log.With("component", "transcription")),
		pipeline.WithClientMetrics(m),
		pipeline.WithProviderName(deps.STTName),
		pipeline.WithOnTranscript(func(ev pipeline.TranscriptEvent) {
			log.Debug("transcript accepted",
				"final", ev.IsFinal,
				"confidence", ev.Confidence,
				"offset", ev.Start,
				"duration", ev.Duration,
				"transcript_chars", ev.TranscriptLen,
			)
		}),
	)
	runner := pipeline.NewRunner(deps.Source, client, enc,
		pipeline.WithRunnerLogger(log.With("component", "pipeline")),
		pipeline.WithRunnerMetrics(m),
		pipeline.WithQueueSize(cfg.Audio.QueueSize),
	)
	return runner.Run(ctx)
}
