// Package pipeline runs one transcription session: mixed audio goes out to a
// streaming speech-to-text service and transcript fragments come back, feed
// the summary engine and are reported to the supervisor as IPC events.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/clarimeet/clarimeet/internal/ipc"
	"github.com/clarimeet/clarimeet/internal/observe"
	"github.com/clarimeet/clarimeet/internal/summary"
	"github.com/clarimeet/clarimeet/pkg/audio"
	"github.com/clarimeet/clarimeet/pkg/provider/stt"
)

// ErrTranscriptionConnection is returned when the transcription socket cannot
// be opened. It is not retried.
var ErrTranscriptionConnection = errors.New("transcription connection failed")

// DefaultFinalSummaryTimeout bounds the summary attempted when a session ends.
const DefaultFinalSummaryTimeout = 30 * time.Second

// TranscriptEvent is one accepted transcript fragment.
type TranscriptEvent struct {
	Text       string
	IsFinal    bool
	Confidence float64

	// Start and Duration place the fragment in the stream, when the service
	// reports them.
	Start    time.Duration
	Duration time.Duration

	// TranscriptLen is the length of the full transcript after the fragment
	// was appended.
	TranscriptLen int
}

// Emitter receives the events a session produces. *ipc.Encoder implements it.
type Emitter interface {
	Emit(ev ipc.Event) error
}

// Summarizer is the part of the summary engine a session drives.
type Summarizer interface {
	AddTranscript(fragment string) int
	MaybeSummarize(ctx context.Context) (summary.Summary, bool, error)
	Summarize(ctx context.Context) (summary.Summary, error)
}

// ClientOption configures a [Client].
type ClientOption func(*Client)

// WithClientLogger sets the logger. Default: slog.Default().
func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.log = l }
}

// WithClientMetrics sets the metric instruments. Default: observe.DefaultMetrics().
func WithClientMetrics(m *observe.Metrics) ClientOption {
	return func(c *Client) { c.metrics = m }
}

// WithProviderName sets the provider label used in metrics. Default: "stt".
func WithProviderName(name string) ClientOption {
	return func(c *Client) { c.providerName = name }
}

// WithOnTranscript registers a callback for every accepted fragment. It runs
// on the receive goroutine.
func WithOnTranscript(fn func(TranscriptEvent)) ClientOption {
	return func(c *Client) { c.onTranscript = fn }
}

// WithKeywords passes vocabulary hints, such as participant names, to the
// transcription service.
func WithKeywords(kws []stt.KeywordBoost) ClientOption {
	return func(c *Client) { c.keywords = kws }
}

// WithFinalSummaryTimeout overrides DefaultFinalSummaryTimeout. Zero disables
// the final summary.
func WithFinalSummaryTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.finalTimeout = d }
}

// Client streams audio to a [stt.Provider] and handles its transcripts. A
// Client runs one session at a time.
type Client struct {
	provider     stt.Provider
	summarizer   Summarizer
	emitter      Emitter
	log          *slog.Logger
	metrics      *observe.Metrics
	providerName string
	onTranscript func(TranscriptEvent)
	finalTimeout time.Duration
	keywords     []stt.KeywordBoost

	// last is only touched by the receive goroutine.
	last string
}

// NewClient creates a Client.
func NewClient(provider stt.Provider, summarizer Summarizer, emitter Emitter, opts ...ClientOption) *Client {
	c := &Client{
		provider:     provider,
		summarizer:   summarizer,
		emitter:      emitter,
		log:          slog.Default(),
		providerName: "stt",
		finalTimeout: DefaultFinalSummaryTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// Run opens the transcription socket at sampleRate and streams frames until
// ctx is cancelled, frames is closed or the remote side ends the session.
// After the socket is closed and the last transcripts are handled, a final
// summary is attempted.
//
// Cancellation is a normal shutdown and returns nil. A failed connection
// returns an error wrapping [ErrTranscriptionConnection]; a stream that breaks
// mid-session returns the stream error.
func (c *Client) Run(ctx context.Context, sampleRate int, frames <-chan audio.Frame) error {
	cfg := stt.StreamConfig{
		SampleRate: sampleRate,
		Channels:   1,
		Encoding:   stt.EncodingLinear16,
		Keywords:   c.keywords,
	}
	sess, err := c.provider.StartStream(ctx, cfg)
	if err != nil {
		c.metrics.RecordProviderRequest(ctx, c.providerName, "stt", "error")
		return fmt.Errorf("pipeline: %w: %w", ErrTranscriptionConnection, err)
	}
	c.metrics.RecordProviderRequest(ctx, c.providerName, "stt", "ok")
	c.log.Info("transcription session opened", "sample_rate", sampleRate)
	c.last = ""

	finished := make(chan struct{})
	var recvErr error
	go func() {
		defer close(finished)
		recvErr = c.receive(ctx, sess)
	}()

	sendErr := c.send(ctx, sess, frames, finished)

	// Close flushes pending results; the receive loop ends once the
	// transcript channel is closed.
	closeErr := sess.Close()
	<-finished

	if ctx.Err() != nil {
		c.log.Info("transcription session stopped")
		recvErr = nil
	}
	if closeErr != nil {
		c.log.Debug("transcription session close", "err", closeErr)
	}

	c.finalSummary(ctx)
	return errors.Join(sendErr, recvErr)
}

// send forwards frames until one of its inputs ends. A session that was
// closed by the remote side is reported by the receive loop, not here.
func (c *Client) send(ctx context.Context, sess stt.SessionHandle, frames <-chan audio.Frame, finished <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-finished:
			return nil
		case f, ok := <-frames:
			if !ok {
				return nil
			}
			if err := sess.SendAudio(audio.Float32ToPCM16(f.Samples)); err != nil {
				if errors.Is(err, stt.ErrSessionClosed) {
					return nil
				}
				return fmt.Errorf("pipeline: send audio: %w", err)
			}
		}
	}
}

// receive handles transcripts in arrival order until the channel closes and
// returns the session's terminal error.
func (c *Client) receive(ctx context.Context, sess stt.SessionHandle) error {
	for t := range sess.Transcripts() {
		c.handle(ctx, t)
	}
	if err := sess.Err(); err != nil {
		c.log.Error("transcription stream ended", "err", err)
		return fmt.Errorf("pipeline: transcription stream: %w", err)
	}
	return nil
}

func (c *Client) handle(ctx context.Context, t stt.Transcript) {
	text := strings.TrimSpace(t.Text)
	if text == "" {
		return
	}
	if text == c.last {
		c.metrics.TranscriptsSuppressed.Add(ctx, 1)
		return
	}
	c.last = text
	c.metrics.TranscriptsReceived.Add(ctx, 1, metric.WithAttributes(
		observe.Attr("final", strconv.FormatBool(t.IsFinal)),
	))

	n := c.summarizer.AddTranscript(text)
	c.emit(ipc.Event{Type: ipc.TypeTranscript, Text: text})
	if c.onTranscript != nil {
		c.onTranscript(TranscriptEvent{
			Text:          text,
			IsFinal:       t.IsFinal,
			Confidence:    t.Confidence,
			Start:         t.Start,
			Duration:      t.Duration,
			TranscriptLen: n,
		})
	}

	s, ok, err := c.summarizer.MaybeSummarize(ctx)
	switch {
	case err != nil && !errors.Is(err, summary.ErrTranscriptTooShort):
		c.log.Warn("summary failed", "err", err)
	case ok:
		c.emit(ipc.Event{Type: ipc.TypeSummary, Text: s.Text})
	}
}

// finalSummary runs detached from ctx so that it also happens on shutdown.
func (c *Client) finalSummary(ctx context.Context) {
	if c.finalTimeout <= 0 {
		return
	}
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.finalTimeout)
	defer cancel()

	s, err := c.summarizer.Summarize(fctx)
	switch {
	case errors.Is(err, summary.ErrTranscriptTooShort):
		c.log.Info("final summary skipped", "reason", err)
	case err != nil:
		c.log.Warn("final summary failed", "err", err)
	default:
		c.emit(ipc.Event{Type: ipc.TypeSummary, Text: s.Text})
	}
}

func (c *Client) emit(ev ipc.Event) {
	if c.emitter == nil {
		return
	}
	if err := c.emitter.Emit(ev); err != nil {
		c.log.Warn("emit event", "type", ev.Type, "err", err)
	}
}
