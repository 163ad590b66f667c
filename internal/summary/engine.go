// Package summary accumulates a meeting transcript, keeps a rolling summary
// of it produced by a language model, and answers questions from that summary.
//
// The transcript grows through [Engine.AddTranscript]. [Engine.MaybeSummarize]
// requests a new summary whenever the transcript has grown past a watermark:
// first at DefaultMinChars characters, then every DefaultIntervalChars new
// characters after the previous attempt. Only one "latest" summary is kept.
package summary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/metric"

	"github.com/clarimeet/clarimeet/internal/observe"
	"github.com/clarimeet/clarimeet/pkg/provider/llm"
)

// ErrTranscriptTooShort is returned by [Engine.Summarize] when the trimmed
// transcript is below the minimum length. The latest summary is unchanged.
var ErrTranscriptTooShort = errors.New("summary: transcript too short")

const (
	// DefaultMinChars is the shortest trimmed transcript that is summarized.
	DefaultMinChars = 250

	// DefaultIntervalChars is the transcript growth between summary attempts.
	DefaultIntervalChars = 500

	// DefaultRetryMaxElapsed bounds retries of transient model failures.
	DefaultRetryMaxElapsed = 30 * time.Second

	// NoSummaryAnswer is returned by AnswerQuestion before any summary exists.
	NoSummaryAnswer = "No summary available yet. Please wait for the meeting to progress."
)

const (
	summaryTemperature = 0.3
	answerTemperature  = 0.3
	answerMaxTokens    = 100
	summaryMaxTokens   = 512

	systemPrompt = "You are an expert meeting summarizer. Summarize the meeting transcript " +
		"you are given in one concise paragraph. Capture the main topics, decisions and " +
		"action items with their owners. Do not invent details that are not in the transcript."
)

// Summary is one model-produced summary of the transcript.
type Summary struct {
	// Text is the summary itself.
	Text string

	// Watermark is the transcript length the summary was computed from.
	Watermark int

	// CreatedAt is when the summary was stored.
	CreatedAt time.Time
}

// Option configures an [Engine].
type Option func(*Engine)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithMetrics sets the metric instruments. Default: observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithMinChars overrides DefaultMinChars.
func WithMinChars(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.minChars = n
		}
	}
}

// WithIntervalChars overrides DefaultIntervalChars.
func WithIntervalChars(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.intervalChars = n
		}
	}
}

// WithRetry sets the first retry delay and the total time spent retrying a
// failed model call. A maxElapsed of zero disables retries.
func WithRetry(initial, maxElapsed time.Duration) Option {
	return func(e *Engine) {
		if initial > 0 {
			e.retryInitial = initial
		}
		e.retryMaxElapsed = maxElapsed
	}
}

// OnSummary registers fn to be called once for every new latest summary.
// Callbacks run on the goroutine that produced the summary.
func OnSummary(fn func(Summary)) Option {
	return func(e *Engine) { e.onSummary = append(e.onSummary, fn) }
}

// Engine owns the full transcript and the latest summary. All methods are
// safe for concurrent use.
type Engine struct {
	llm     llm.Provider
	log     *slog.Logger
	metrics *observe.Metrics
	now     func() time.Time

	minChars        int
	intervalChars   int
	retryInitial    time.Duration
	retryMaxElapsed time.Duration
	onSummary       []func(Summary)

	mu         sync.Mutex
	transcript strings.Builder
	nextMark   int

	latestMu sync.RWMutex
	latest   *Summary
}

// New creates an Engine that summarizes through provider.
func New(provider llm.Provider, opts ...Option) *Engine {
	e := &Engine{
		llm:             provider,
		log:             slog.Default(),
		now:             time.Now,
		minChars:        DefaultMinChars,
		intervalChars:   DefaultIntervalChars,
		retryInitial:    time.Second,
		retryMaxElapsed: DefaultRetryMaxElapsed,
	}
	for _, o := range opts {
		o(e)
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}
	e.nextMark = e.minChars
	return e
}

// AddTranscript appends fragment, preceded by a single space, to the full
// transcript and returns the new transcript length.
func (e *Engine) AddTranscript(fragment string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.transcript.WriteByte(' ')
	e.transcript.WriteString(fragment)
	return e.transcript.Len()
}

// Transcript returns the full transcript accumulated so far.
func (e *Engine) Transcript() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transcript.String()
}

// Latest returns the latest summary and whether one exists.
func (e *Engine) Latest() (Summary, bool) {
	e.latestMu.RLock()
	defer e.latestMu.RUnlock()
	if e.latest == nil {
		return Summary{}, false
	}
	return *e.latest, true
}

// MaybeSummarize summarizes when the transcript has reached the current
// watermark, then moves the watermark intervalChars past the current length.
// A failed model call still moves it; a transcript that is too short once
// trimmed leaves it in place so the next fragment tries again. It reports
// whether a new summary was stored.
func (e *Engine) MaybeSummarize(ctx context.Context) (Summary, bool, error) {
	e.mu.Lock()
	n, mark := e.transcript.Len(), e.nextMark
	if n < mark {
		e.mu.Unlock()
		return Summary{}, false, nil
	}
	e.nextMark = n + e.intervalChars
	e.mu.Unlock()

	s, err := e.Summarize(ctx)
	if errors.Is(err, ErrTranscriptTooShort) {
		e.mu.Lock()
		if e.nextMark == n+e.intervalChars {
			e.nextMark = mark
		}
		e.mu.Unlock()
	}
	if err != nil {
		return Summary{}, false, err
	}
	return s, true, nil
}

// Summarize asks the model for a summary of the whole transcript and stores
// it as the latest one. It returns ErrTranscriptTooShort, without calling the
// model, when the trimmed transcript is shorter than the minimum.
func (e *Engine) Summarize(ctx context.Context) (Summary, error) {
	full := e.Transcript()
	trimmed := strings.TrimSpace(full)
	if len(trimmed) < e.minChars {
		e.metrics.RecordSummary(ctx, "too_short")
		return Summary{}, fmt.Errorf("%w: %d of %d characters", ErrTranscriptTooShort, len(trimmed), e.minChars)
	}

	req := llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: e.fitTranscript(trimmed)}},
		Temperature:  summaryTemperature,
		MaxTokens:    summaryMaxTokens,
	}
	text, err := e.complete(ctx, "summary", req)
	if err != nil {
		e.metrics.RecordSummary(ctx, "failed")
		return Summary{}, fmt.Errorf("summary: summarize: %w", err)
	}

	s := e.store(text, len(full))
	e.metrics.RecordSummary(ctx, "produced")
	e.log.Info("summary updated", "transcript_chars", s.Watermark, "summary_chars", len(s.Text))
	return s, nil
}

// Adopt stores text as the latest summary without calling the model. The
// server process uses it for summaries relayed from the capture pipeline.
func (e *Engine) Adopt(text string) Summary {
	return e.store(strings.TrimSpace(text), e.transcriptLen())
}

// AnswerQuestion answers question from the latest summary. Before the first
// summary it returns NoSummaryAnswer without calling the model.
func (e *Engine) AnswerQuestion(ctx context.Context, question string) (string, error) {
	latest, ok := e.Latest()
	if !ok {
		return NoSummaryAnswer, nil
	}

	prompt := fmt.Sprintf("Transcript: %s\n\nQuestion: %s\nAnswer:", latest.Text, question)
	answer, err := e.complete(ctx, "answer", llm.CompletionRequest{
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		Temperature: answerTemperature,
		MaxTokens:   answerMaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("summary: answer question: %w", err)
	}
	return answer, nil
}

func (e *Engine) transcriptLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transcript.Len()
}

// store replaces the latest summary and notifies the callbacks once.
func (e *Engine) store(text string, watermark int) Summary {
	s := Summary{Text: text, Watermark: watermark, CreatedAt: e.now()}
	e.latestMu.Lock()
	e.latest = &s
	e.latestMu.Unlock()

	for _, fn := range e.onSummary {
		fn(s)
	}
	return s
}

// complete runs one model call with tracing, metrics and retries of
// transient failures. Empty replies are not retried.
func (e *Engine) complete(ctx context.Context, op string, req llm.CompletionRequest) (string, error) {
	ctx, span := observe.StartSpan(ctx, "llm."+op)
	start := time.Now()

	attempt := func() (string, error) {
		resp, err := e.llm.Complete(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return "", backoff.Permanent(err)
			}
			return "", err
		}
		if resp == nil || strings.TrimSpace(resp.Content) == "" {
			return "", backoff.Permanent(errors.New("empty completion"))
		}
		return strings.TrimSpace(resp.Content), nil
	}

	var b backoff.BackOff = &backoff.StopBackOff{}
	if e.retryMaxElapsed > 0 {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = e.retryInitial
		exp.MaxInterval = 10 * time.Second
		exp.MaxElapsedTime = e.retryMaxElapsed
		b = exp
	}
	notify := func(err error, wait time.Duration) {
		e.log.Warn("model call failed, retrying", "op", op, "err", err, "wait", wait)
	}
	text, err := backoff.RetryNotifyWithData(attempt, backoff.WithContext(b, ctx), notify)

	e.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(observe.Attr("op", op)))
	observe.EndSpan(span, err)
	return text, err
}

// fitTranscript keeps the tail of text so the request stays within the
// model's context window.
func (e *Engine) fitTranscript(text string) string {
	caps := e.llm.Capabilities()
	if caps.ContextWindow <= 0 {
		return text
	}
	budget := caps.ContextWindow - summaryMaxTokens - llm.EstimateTokens([]llm.Message{{Content: systemPrompt}})
	if budget <= 0 {
		return text
	}
	for range 4 {
		n, err := e.llm.CountTokens([]llm.Message{{Role: llm.RoleUser, Content: text}})
		if err != nil || n <= budget {
			return text
		}
		keep := len(text) * budget / n
		if keep <= 0 || keep >= len(text) {
			return text
		}
		cut := len(text) - keep
		for cut < len(text) && !utf8.RuneStart(text[cut]) {
			cut++
		}
		text = text[cut:]
		e.log.Debug("transcript truncated to fit context window", "chars", keep, "budget_tokens", budget)
	}
	return text
}
