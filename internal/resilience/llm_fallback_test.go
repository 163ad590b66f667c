package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/clarimeet/clarimeet/pkg/provider/llm"
	llmmock "github.com/clarimeet/clarimeet/pkg/provider/llm/mock"
)

func testFallbackConfig(maxFailures int) FallbackConfig {
	return FallbackConfig{CircuitBreaker: CircuitBreakerConfig{MaxFailures: maxFailures, Logger: quietLogger()}}
}

func TestLLMFallback_Complete(t *testing.T) {
	t.Run("primary serves", func(t *testing.T) {
		primary := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "primary"}}
		secondary := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "secondary"}}
		fb := NewLLMFallback(primary, "openai", testFallbackConfig(3))
		fb.AddFallback("ollama", secondary)

		resp, err := fb.Complete(context.Background(), llm.CompletionRequest{})
		if err != nil {
			t.Fatalf("Complete: %v", err)
		}
		if resp.Content != "primary" {
			t.Errorf("content = %q, want primary", resp.Content)
		}
		if len(secondary.Calls()) != 0 {
			t.Errorf("secondary called %d times", len(secondary.Calls()))
		}
	})

	t.Run("fails over", func(t *testing.T) {
		primary := &llmmock.Provider{CompleteErr: errors.New("503")}
		secondary := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "secondary"}}
		fb := NewLLMFallback(primary, "openai", testFallbackConfig(3))
		fb.AddFallback("ollama", secondary)

		resp, err := fb.Complete(context.Background(), llm.CompletionRequest{})
		if err != nil {
			t.Fatalf("Complete: %v", err)
		}
		if resp.Content != "secondary" {
			t.Errorf("content = %q, want secondary", resp.Content)
		}
	})

	t.Run("all fail", func(t *testing.T) {
		last := errors.New("ollama down")
		fb := NewLLMFallback(&llmmock.Provider{CompleteErr: errors.New("503")}, "openai", testFallbackConfig(3))
		fb.AddFallback("ollama", &llmmock.Provider{CompleteErr: last})

		_, err := fb.Complete(context.Background(), llm.CompletionRequest{})
		if !errors.Is(err, ErrAllFailed) || !errors.Is(err, last) {
			t.Fatalf("err = %v, want ErrAllFailed wrapping the last failure", err)
		}
	})

	t.Run("open breaker skips primary", func(t *testing.T) {
		primary := &llmmock.Provider{CompleteErr: errors.New("503")}
		secondary := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "secondary"}}
		fb := NewLLMFallback(primary, "openai", testFallbackConfig(1))
		fb.AddFallback("ollama", secondary)

		for range 3 {
			if _, err := fb.Complete(context.Background(), llm.CompletionRequest{}); err != nil {
				t.Fatalf("Complete: %v", err)
			}
		}
		if n := len(primary.Calls()); n != 1 {
			t.Errorf("primary called %d times, want 1 (breaker should open)", n)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		primary := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "primary"}}
		fb := NewLLMFallback(primary, "openai", testFallbackConfig(3))
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := fb.Complete(ctx, llm.CompletionRequest{}); !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
		if len(primary.Calls()) != 0 {
			t.Error("provider called with a cancelled context")
		}
	})
}

func TestLLMFallback_Metadata(t *testing.T) {
	primary := &llmmock.Provider{ModelCapabilities: llm.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 16_384}, TokenCount: 7}
	secondary := &llmmock.Provider{ModelCapabilities: llm.ModelCapabilities{ContextWindow: 8_192, MaxOutputTokens: 32_768}, TokenCount: 99}
	fb := NewLLMFallback(primary, "openai", testFallbackConfig(3))
	fb.AddFallback("ollama", secondary)

	caps := fb.Capabilities()
	if caps.ContextWindow != 8_192 || caps.MaxOutputTokens != 16_384 {
		t.Errorf("Capabilities = %+v, want the smallest limits", caps)
	}
	if n, _ := fb.CountTokens(nil); n != 7 {
		t.Errorf("CountTokens = %d, want the primary's 7", n)
	}
	names := fb.Names()
	if len(names) != 2 || names[0] != "openai" || names[1] != "ollama" {
		t.Errorf("Names = %v", names)
	}
}
