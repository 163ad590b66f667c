// Package config provides the configuration schema, loader, and provider registry
// for the Clarimeet meeting assistant.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/clarimeet/clarimeet/pkg/provider/stt"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Audio      AudioConfig      `yaml:"audio"`
	Summary    SummaryConfig    `yaml:"summary"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Sessions   SessionsConfig   `yaml:"sessions"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// WSAddr is the control WebSocket listen address.
	WSAddr string `yaml:"ws_addr"`

	// HTTPAddr is the listen address of the side server (health, metrics,
	// sessions). Empty means DefaultHTTPAddr; HTTPDisabled turns it off.
	HTTPAddr string `yaml:"http_addr"`

	// LogLevel controls verbosity. It is applied live on config reload.
	LogLevel LogLevel `yaml:"log_level"`

	// AllowedOrigins lists host patterns of browser origins allowed to open
	// the control socket. Clients without an Origin header are always allowed.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// ProvidersConfig declares which provider implementation to use for each
// remote service. Each entry selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	STT ProviderEntry `yaml:"stt"`
	LLM ProviderEntry `yaml:"llm"`

	// LLMFallback is tried when the primary LLM fails or its circuit is open.
	// Optional.
	LLMFallback ProviderEntry `yaml:"llm_fallback"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "deepgram").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o-mini", "nova-3").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above.
	Options map[string]any `yaml:"options"`
}

// OptionString returns Options[key] when it is a string.
func (e ProviderEntry) OptionString(key string) (string, bool) {
	v, ok := e.Options[key].(string)
	return v, ok
}

// OptionBool returns Options[key] when it is a boolean.
func (e ProviderEntry) OptionBool(key string) (bool, bool) {
	v, ok := e.Options[key].(bool)
	return v, ok
}

// Keywords parses Options["keywords"], a list of "word" or "word:boost"
// entries, into vocabulary hints for the transcription service. A word
// without a boost gets a boost of 1.
func (e ProviderEntry) Keywords() ([]stt.KeywordBoost, error) {
	raw, ok := e.Options["keywords"]
	if !ok || raw == nil {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("options.keywords must be a list, got %T", raw)
	}
	out := make([]stt.KeywordBoost, 0, len(list))
	for i, item := range list {
		s, ok := item.(string)
		if !ok || strings.TrimSpace(s) == "" {
			return nil, fmt.Errorf("options.keywords[%d] must be a non-empty string", i)
		}
		kw := stt.KeywordBoost{Keyword: strings.TrimSpace(s), Boost: 1}
		if c := strings.LastIndexByte(s, ':'); c >= 0 {
			boost, err := strconv.ParseFloat(strings.TrimSpace(s[c+1:]), 64)
			if err != nil || strings.TrimSpace(s[:c]) == "" {
				return nil, fmt.Errorf("options.keywords[%d] %q must be word or word:boost", i, s)
			}
			kw.Keyword, kw.Boost = strings.TrimSpace(s[:c]), boost
		}
		out = append(out, kw)
	}
	return out, nil
}

// HTTPEnabled reports whether the side server should run.
func (c ServerConfig) HTTPEnabled() bool {
	return c.HTTPAddr != "" && c.HTTPAddr != HTTPDisabled
}

// AudioConfig selects capture devices and buffering.
type AudioConfig struct {
	// BlockSize is the number of frames per device callback.
	BlockSize int `yaml:"block_size"`

	// QueueSize bounds the mixed-frame queue in front of the transcription
	// socket.
	QueueSize int `yaml:"queue_size"`

	// SampleRates is the candidate set for sample-rate negotiation.
	SampleRates []int `yaml:"sample_rates"`

	// MicDevice is a case-insensitive substring of the microphone name.
	// Empty selects the default input.
	MicDevice string `yaml:"mic_device"`

	// SpeakerDevice is a case-insensitive substring of the loopback device
	// name. Empty runs loopback discovery.
	SpeakerDevice string `yaml:"speaker_device"`

	// SpeakerDeviceIndex is used when discovery finds no loopback device.
	// -1 asks interactively on stdin.
	SpeakerDeviceIndex *int `yaml:"speaker_device_index"`
}

// SummaryConfig tunes the rolling summary.
type SummaryConfig struct {
	MinChars        int           `yaml:"min_chars"`
	IntervalChars   int           `yaml:"interval_chars"`
	RetryMaxElapsed time.Duration `yaml:"retry_max_elapsed"`
}

// SupervisorConfig controls the pipeline child process.
type SupervisorConfig struct {
	// Command is the program and arguments of the pipeline. Empty runs this
	// executable with --ws-mode.
	Command []string `yaml:"command"`

	// StopTimeout is how long a stop waits before killing the child.
	StopTimeout time.Duration `yaml:"stop_timeout"`
}

// SessionsConfig configures the saved-session store.
type SessionsConfig struct {
	// Path is the SQLite database file.
	Path string `yaml:"path"`
}
