package app_test

import (
	"context"
	"errors"
	"testing"

	"github.com/clarimeet/clarimeet/internal/app"
	"github.com/clarimeet/clarimeet/internal/config"
	"github.com/clarimeet/clarimeet/internal/observe/observetest"
	"github.com/clarimeet/clarimeet/pkg/provider/llm"
	llmmock "github.com/clarimeet/clarimeet/pkg/provider/llm/mock"
	"github.com/clarimeet/clarimeet/pkg/provider/stt"
	sttmock "github.com/clarimeet/clarimeet/pkg/provider/stt/mock"
)

func TestBuildLLM(t *testing.T) {
	primary := &llmmock.Provider{CompleteErr: errors.New("primary down")}
	secondary := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "from fallback"}}

	reg := config.NewRegistry()
	reg.RegisterLLM("primary", func(config.ProviderEntry) (llm.Provider, error) { return primary, nil })
	reg.RegisterLLM("secondary", func(config.ProviderEntry) (llm.Provider, error) { return secondary, nil })

	t.Run("without fallback", func(t *testing.T) {
		cfg := testConfig()
		cfg.Providers.LLM = config.ProviderEntry{Name: "secondary"}
		metrics, r := observetest.NewMetrics(t)

		p, err := app.BuildLLM(cfg, reg, metrics, quietLogger())
		if err != nil {
			t.Fatalf("BuildLLM: %v", err)
		}
		if _, err := p.Complete(context.Background(), llm.CompletionRequest{}); err != nil {
			t.Fatalf("Complete: %v", err)
		}
		if got := r.Sum("clarimeet.provider.requests", "provider", "secondary"); got != 1 {
			t.Errorf("provider requests = %d, want 1", got)
		}
	})

	t.Run("fails over", func(t *testing.T) {
		cfg := testConfig()
		cfg.Providers.LLM = config.ProviderEntry{Name: "primary"}
		cfg.Providers.LLMFallback = config.ProviderEntry{Name: "secondary"}
		metrics, r := observetest.NewMetrics(t)

		p, err := app.BuildLLM(cfg, reg, metrics, quietLogger())
		if err != nil {
			t.Fatalf("BuildLLM: %v", err)
		}
		resp, err := p.Complete(context.Background(), llm.CompletionRequest{})
		if err != nil {
			t.Fatalf("Complete: %v", err)
		}
		if resp.Content != "from fallback" {
			t.Errorf("content = %q", resp.Content)
		}
		if got := r.Sum("clarimeet.provider.requests", "status", "error"); got != 1 {
			t.Errorf("failed requests = %d, want 1", got)
		}
	})

	t.Run("unknown provider", func(t *testing.T) {
		cfg := testConfig()
		cfg.Providers.LLM = config.ProviderEntry{Name: "missing"}
		metrics, _ := observetest.NewMetrics(t)
		if _, err := app.BuildLLM(cfg, reg, metrics, quietLogger()); !errors.Is(err, config.ErrProviderNotRegistered) {
			t.Errorf("err = %v, want ErrProviderNotRegistered", err)
		}
	})
}

func TestBuildSTT(t *testing.T) {
	reg := config.NewRegistry()
	reg.RegisterSTT("deepgram", func(config.ProviderEntry) (stt.Provider, error) { return &sttmock.Provider{}, nil })

	cfg := testConfig()
	if _, err := app.BuildSTT(cfg, reg, quietLogger()); !errors.Is(err, app.ErrMissingAPIKey) {
		t.Errorf("err = %v, want ErrMissingAPIKey", err)
	}

	cfg.Providers.STT.APIKey = "dg-test"
	if _, err := app.BuildSTT(cfg, reg, quietLogger()); err != nil {
		t.Errorf("BuildSTT: %v", err)
	}
}
