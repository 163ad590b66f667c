package main

import (
	"errors"
	"testing"

	"github.com/clarimeet/clarimeet/internal/config"
)

func TestRegisterBuiltinProviders(t *testing.T) {
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	t.Run("deepgram", func(t *testing.T) {
		p, err := reg.CreateSTT(config.ProviderEntry{
			Name:    "deepgram",
			APIKey:  "dg-test",
			Options: map[string]any{"language": "de", "interim_results": false},
		})
		if err != nil || p == nil {
			t.Fatalf("CreateSTT = %v, %v", p, err)
		}
	})

	t.Run("deepgram without key", func(t *testing.T) {
		if _, err := reg.CreateSTT(config.ProviderEntry{Name: "deepgram"}); err == nil {
			t.Fatal("expected error without api key")
		}
	})

	t.Run("openai direct", func(t *testing.T) {
		p, err := reg.CreateLLM(config.ProviderEntry{
			Name:    "openai-direct",
			APIKey:  "sk-test",
			Model:   "gpt-4o-mini",
			Options: map[string]any{"timeout": "20s"},
		})
		if err != nil || p == nil {
			t.Fatalf("CreateLLM = %v, %v", p, err)
		}
	})

	t.Run("every config name is registered", func(t *testing.T) {
		for _, name := range config.ValidProviderNames["llm"] {
			_, err := reg.CreateLLM(config.ProviderEntry{Name: name, Model: "m", APIKey: "k"})
			if errors.Is(err, config.ErrProviderNotRegistered) {
				t.Errorf("llm provider %q is listed but not registered", name)
			}
		}
	})
}

func TestResolveConfigPath(t *testing.T) {
	t.Chdir(t.TempDir())
	if got := resolveConfigPath(""); got != "" {
		t.Errorf("resolveConfigPath without file = %q, want empty", got)
	}
	if got := resolveConfigPath("custom.yaml"); got != "custom.yaml" {
		t.Errorf("resolveConfigPath(custom.yaml) = %q", got)
	}
}
