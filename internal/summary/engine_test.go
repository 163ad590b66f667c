package summary_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/clarimeet/clarimeet/internal/observe/observetest"
	"github.com/clarimeet/clarimeet/internal/summary"
	"github.com/clarimeet/clarimeet/pkg/provider/llm"
	llmmock "github.com/clarimeet/clarimeet/pkg/provider/llm/mock"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newEngine(t *testing.T, p llm.Provider, opts ...summary.Option) (*summary.Engine, *observetest.Reader) {
	t.Helper()
	m, r := observetest.NewMetrics(t)
	base := []summary.Option{
		summary.WithLogger(quietLogger()),
		summary.WithMetrics(m),
		summary.WithRetry(time.Millisecond, 0),
	}
	return summary.New(p, append(base, opts...)...), r
}

// fragment returns a string of exactly n characters.
func fragment(n int) string {
	return strings.Repeat("a", n)
}

func TestAddTranscript(t *testing.T) {
	e, _ := newEngine(t, &llmmock.Provider{})
	if n := e.AddTranscript("hello"); n != 6 {
		t.Errorf("length = %d, want 6", n)
	}
	e.AddTranscript("world")
	if got := e.Transcript(); got != " hello world" {
		t.Errorf("Transcript() = %q, want %q", got, " hello world")
	}
}

func TestSummarize_TooShort(t *testing.T) {
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "should not be used"}}
	e, r := newEngine(t, p)

	e.AddTranscript(fragment(249))
	e.AddTranscript("   ")

	_, err := e.Summarize(context.Background())
	if !errors.Is(err, summary.ErrTranscriptTooShort) {
		t.Fatalf("err = %v, want ErrTranscriptTooShort", err)
	}
	if len(p.Calls()) != 0 {
		t.Errorf("model called %d times for a short transcript", len(p.Calls()))
	}
	if _, ok := e.Latest(); ok {
		t.Error("latest summary set after a too-short attempt")
	}
	if got := r.Sum("clarimeet.summaries", "status", "too_short"); got != 1 {
		t.Errorf("too_short count = %d, want 1", got)
	}
}

func TestSummarize_StoresLatestAndNotifiesOnce(t *testing.T) {
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "  The team agreed to ship on Friday.  "}}
	var notified atomic.Int32
	var got summary.Summary
	e, r := newEngine(t, p, summary.OnSummary(func(s summary.Summary) {
		notified.Add(1)
		got = s
	}))

	e.AddTranscript(fragment(259)) // 260 characters including the leading space

	s, err := e.Summarize(context.Background())
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if s.Text != "The team agreed to ship on Friday." {
		t.Errorf("Text = %q", s.Text)
	}
	if s.Watermark != 260 {
		t.Errorf("Watermark = %d, want 260", s.Watermark)
	}
	if notified.Load() != 1 || got.Text != s.Text {
		t.Errorf("OnSummary called %d times with %q", notified.Load(), got.Text)
	}
	latest, ok := e.Latest()
	if !ok || latest.Text != s.Text {
		t.Errorf("Latest() = %q, %v", latest.Text, ok)
	}

	calls := p.Calls()
	if len(calls) != 1 {
		t.Fatalf("model calls = %d, want 1", len(calls))
	}
	req := calls[0].Req
	if !strings.HasPrefix(req.SystemPrompt, "You are an expert meeting summarizer") {
		t.Errorf("SystemPrompt = %q", req.SystemPrompt)
	}
	if req.Temperature != 0.3 {
		t.Errorf("Temperature = %v, want 0.3", req.Temperature)
	}
	if len(req.Messages) != 1 || req.Messages[0].Content != fragment(259) {
		t.Errorf("messages = %+v, want the trimmed transcript", req.Messages)
	}
	if got := r.Sum("clarimeet.summaries", "status", "produced"); got != 1 {
		t.Errorf("produced count = %d, want 1", got)
	}
	if got := r.HistogramCount("clarimeet.llm.duration"); got != 1 {
		t.Errorf("llm duration samples = %d, want 1", got)
	}
}

func TestSummarize_FailureKeepsPrevious(t *testing.T) {
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "first"}}
	e, _ := newEngine(t, p)
	e.AddTranscript(fragment(300))
	if _, err := e.Summarize(context.Background()); err != nil {
		t.Fatalf("Summarize: %v", err)
	}

	p.CompleteResponse, p.CompleteErr = nil, errors.New("upstream 500")
	if _, err := e.Summarize(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if latest, _ := e.Latest(); latest.Text != "first" {
		t.Errorf("latest = %q, want the previous summary", latest.Text)
	}
}

func TestSummarize_RetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	p := &llmmock.Provider{
		CompleteFunc: func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
			if calls.Add(1) < 3 {
				return nil, errors.New("429 too many requests")
			}
			return &llm.CompletionResponse{Content: "recovered"}, nil
		},
	}
	e, _ := newEngine(t, p, summary.WithRetry(time.Millisecond, 5*time.Second))
	e.AddTranscript(fragment(300))

	s, err := e.Summarize(context.Background())
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if s.Text != "recovered" || calls.Load() != 3 {
		t.Errorf("got %q after %d calls, want recovered after 3", s.Text, calls.Load())
	}
}

func TestSummarize_EmptyReplyNotRetried(t *testing.T) {
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "  "}}
	e, _ := newEngine(t, p, summary.WithRetry(time.Millisecond, 5*time.Second))
	e.AddTranscript(fragment(300))

	if _, err := e.Summarize(context.Background()); err == nil {
		t.Fatal("expected error for empty completion")
	}
	if n := len(p.Calls()); n != 1 {
		t.Errorf("model called %d times, want 1", n)
	}
}

func TestSummarize_TruncatesToContextWindow(t *testing.T) {
	p := &llmmock.Provider{
		CompleteResponse:  &llm.CompletionResponse{Content: "ok"},
		ModelCapabilities: llm.ModelCapabilities{ContextWindow: 1200},
	}
	e, _ := newEngine(t, p)
	e.AddTranscript("START " + fragment(8000) + " END")

	if _, err := e.Summarize(context.Background()); err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	sent := p.Calls()[0].Req.Messages[0].Content
	if len(sent) >= 8000 {
		t.Errorf("sent %d characters, want a truncated transcript", len(sent))
	}
	if !strings.HasSuffix(sent, " END") || strings.HasPrefix(sent, "START") {
		t.Error("truncation should keep the most recent part of the transcript")
	}
}

func TestMaybeSummarize_Watermarks(t *testing.T) {
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "summary"}}
	e, _ := newEngine(t, p)
	ctx := context.Background()

	steps := []struct {
		add  int // fragment length; the engine adds one separator space
		want bool
	}{
		{add: 199, want: false}, // 200
		{add: 59, want: true},   // 260: first watermark (250) reached
		{add: 99, want: false},  // 360
		{add: 399, want: true},  // 760: 260 + 500 reached
		{add: 99, want: false},  // 860
		{add: 99, want: false},  // 960
		{add: 299, want: true},  // 1260: 760 + 500 reached
	}
	for i, step := range steps {
		e.AddTranscript(fragment(step.add))
		_, did, err := e.MaybeSummarize(ctx)
		if err != nil {
			t.Fatalf("step %d: MaybeSummarize: %v", i, err)
		}
		if did != step.want {
			t.Errorf("step %d (len %d): summarized = %v, want %v", i, len(e.Transcript()), did, step.want)
		}
	}
	if n := len(p.Calls()); n != 3 {
		t.Errorf("model calls = %d, want 3", n)
	}
}

func TestMaybeSummarize_FailureAdvancesWatermark(t *testing.T) {
	p := &llmmock.Provider{CompleteErr: errors.New("boom")}
	e, _ := newEngine(t, p)
	ctx := context.Background()

	e.AddTranscript(fragment(299))
	if _, did, err := e.MaybeSummarize(ctx); did || err == nil {
		t.Fatalf("did = %v, err = %v; want a failed attempt", did, err)
	}
	e.AddTranscript(fragment(9))
	if _, did, err := e.MaybeSummarize(ctx); did || err != nil {
		t.Fatalf("did = %v, err = %v; want no new attempt before the next watermark", did, err)
	}
	if n := len(p.Calls()); n != 1 {
		t.Errorf("model calls = %d, want 1", n)
	}
}

func TestMaybeSummarize_TooShortRetriesOnNextFragment(t *testing.T) {
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "summary"}}
	e, _ := newEngine(t, p)
	ctx := context.Background()

	// 250 characters with the separator, 249 once trimmed.
	e.AddTranscript(fragment(249))
	if _, did, err := e.MaybeSummarize(ctx); did || !errors.Is(err, summary.ErrTranscriptTooShort) {
		t.Fatalf("did = %v, err = %v; want a too-short skip", did, err)
	}

	e.AddTranscript(fragment(19)) // 270
	if _, did, err := e.MaybeSummarize(ctx); !did || err != nil {
		t.Fatalf("did = %v, err = %v; want a summary once enough text accrued", did, err)
	}
	if n := len(p.Calls()); n != 1 {
		t.Errorf("model calls = %d, want 1", n)
	}

	// The watermark moved on from the successful attempt.
	e.AddTranscript(fragment(99))
	if _, did, _ := e.MaybeSummarize(ctx); did {
		t.Error("summarized again before the next interval")
	}
}

func TestAnswerQuestion(t *testing.T) {
	t.Run("placeholder without summary", func(t *testing.T) {
		p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "unused"}}
		e, _ := newEngine(t, p)

		answer, err := e.AnswerQuestion(context.Background(), "What was decided?")
		if err != nil {
			t.Fatalf("AnswerQuestion: %v", err)
		}
		if answer != summary.NoSummaryAnswer {
			t.Errorf("answer = %q, want the placeholder", answer)
		}
		if len(p.Calls()) != 0 {
			t.Error("model called before a summary exists")
		}
	})

	t.Run("answers from summary", func(t *testing.T) {
		p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: " Ship on Friday. "}}
		e, _ := newEngine(t, p)
		e.Adopt("The team agreed to ship on Friday.")

		answer, err := e.AnswerQuestion(context.Background(), "When do we ship?")
		if err != nil {
			t.Fatalf("AnswerQuestion: %v", err)
		}
		if answer != "Ship on Friday." {
			t.Errorf("answer = %q", answer)
		}
		req := p.Calls()[0].Req
		want := "Transcript: The team agreed to ship on Friday.\n\nQuestion: When do we ship?\nAnswer:"
		if req.Messages[0].Content != want {
			t.Errorf("prompt = %q, want %q", req.Messages[0].Content, want)
		}
		if req.MaxTokens != 100 || req.Temperature != 0.3 {
			t.Errorf("MaxTokens = %d, Temperature = %v", req.MaxTokens, req.Temperature)
		}
	})

	t.Run("model failure", func(t *testing.T) {
		p := &llmmock.Provider{CompleteErr: errors.New("down")}
		e, _ := newEngine(t, p)
		e.Adopt("summary")
		if _, err := e.AnswerQuestion(context.Background(), "q"); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestAdopt(t *testing.T) {
	var notified int
	e, _ := newEngine(t, &llmmock.Provider{}, summary.OnSummary(func(summary.Summary) { notified++ }))
	e.AddTranscript("hello")

	s := e.Adopt("  relayed summary \n")
	if s.Text != "relayed summary" || s.Watermark != 6 {
		t.Errorf("Adopt = %+v", s)
	}
	if notified != 1 {
		t.Errorf("OnSummary called %d times, want 1", notified)
	}
}
