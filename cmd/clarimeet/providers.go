package main

import (
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/clarimeet/clarimeet/internal/config"
	"github.com/clarimeet/clarimeet/pkg/provider/llm"
	"github.com/clarimeet/clarimeet/pkg/provider/llm/anyllm"
	"github.com/clarimeet/clarimeet/pkg/provider/llm/openai"
	"github.com/clarimeet/clarimeet/pkg/provider/stt"
	"github.com/clarimeet/clarimeet/pkg/provider/stt/deepgram"
)

// registerBuiltinProviders wires the provider implementations that ship with
// Clarimeet into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// Every any-llm backend shares the same pattern: optional APIKey and
	// optional BaseURL. Local servers such as ollama simply leave the key empty.
	for _, name := range anyllm.Backends {
		reg.RegisterLLM(name, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			p, err := anyllm.New(name, entry.Model, opts...)
			if err != nil {
				return nil, err
			}
			return p, nil
		})
	}

	// openai-direct talks to the OpenAI SDK without the any-llm layer, for
	// OpenAI-compatible gateways that need an organization or a timeout.
	reg.RegisterLLM("openai-direct", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if org, ok := entry.OptionString("organization"); ok {
			opts = append(opts, openai.WithOrganization(org))
		}
		if s, ok := entry.OptionString("timeout"); ok {
			if d, err := time.ParseDuration(s); err == nil {
				opts = append(opts, openai.WithTimeout(d))
			}
		}
		p, err := openai.New(entry.APIKey, entry.Model, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		if lang, ok := entry.OptionString("language"); ok {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if interim, ok := entry.OptionBool("interim_results"); ok {
			opts = append(opts, deepgram.WithInterimResults(interim))
		}
		p, err := deepgram.New(entry.APIKey, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})
}
