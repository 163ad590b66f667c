package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/metric"

	"github.com/clarimeet/clarimeet/internal/config"
	"github.com/clarimeet/clarimeet/internal/observe"
	"github.com/clarimeet/clarimeet/internal/resilience"
	"github.com/clarimeet/clarimeet/pkg/provider/llm"
	"github.com/clarimeet/clarimeet/pkg/provider/stt"
)

// BuildLLM creates the language model named by cfg.Providers.LLM. When a
// fallback is configured the result fails over to it behind a circuit
// breaker. Every call is counted in m.ProviderRequests.
func BuildLLM(cfg *config.Config, reg *config.Registry, m *observe.Metrics, log *slog.Logger) (llm.Provider, error) {
	entry := cfg.Providers.LLM
	primary, err := reg.CreateLLM(entry)
	if err != nil {
		return nil, fmt.Errorf("app: llm provider: %w", err)
	}
	log.Info("provider created", "kind", "llm", "name", entry.Name, "model", entry.Model)

	fb := cfg.Providers.LLMFallback
	if fb.Name == "" {
		return &observedLLM{Provider: primary, name: entry.Name, metrics: m}, nil
	}

	secondary, err := reg.CreateLLM(fb)
	if err != nil {
		return nil, fmt.Errorf("app: llm fallback provider: %w", err)
	}
	log.Info("provider created", "kind", "llm_fallback", "name", fb.Name, "model", fb.Model)

	group := resilience.NewLLMFallback(
		&observedLLM{Provider: primary, name: entry.Name, metrics: m},
		entry.Name,
		resilience.FallbackConfig{CircuitBreaker: resilience.CircuitBreakerConfig{
			Logger: log,
			OnStateChange: func(name string, _, to resilience.State) {
				m.CircuitTransitions.Add(context.Background(), 1, metric.WithAttributes(
					observe.Attr("name", name),
					observe.Attr("to", to.String()),
				))
			},
		}},
	)
	name := fb.Name
	if name == entry.Name {
		name += "-fallback"
	}
	group.AddFallback(name, &observedLLM{Provider: secondary, name: fb.Name, metrics: m})
	return group, nil
}

// BuildSTT creates the transcription provider named by cfg.Providers.STT.
func BuildSTT(cfg *config.Config, reg *config.Registry, log *slog.Logger) (stt.Provider, error) {
	entry := cfg.Providers.STT
	if entry.APIKey == "" {
		return nil, fmt.Errorf("app: stt provider %q: %w", entry.Name, ErrMissingAPIKey)
	}
	p, err := reg.CreateSTT(entry)
	if err != nil {
		return nil, fmt.Errorf("app: stt provider: %w", err)
	}
	log.Info("provider created", "kind", "stt", "name", entry.Name, "model", entry.Model)
	return p, nil
}

// ErrMissingAPIKey is returned when a provider that needs a key has none.
var ErrMissingAPIKey = errors.New("missing api key")

// observedLLM counts requests per provider.
type observedLLM struct {
	llm.Provider
	name    string
	metrics *observe.Metrics
}

func (o *observedLLM) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, err := o.Provider.Complete(ctx, req)
	status := "ok"
	if err != nil {
		status = "error"
	}
	o.metrics.RecordProviderRequest(ctx, o.name, "llm", status)
	return resp, err
}
