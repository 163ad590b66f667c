package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment variables read by [ApplyEnv].
const EnvPrefix = "clarimeet"

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile", "openai-direct"},
	"stt": {"deepgram"},
}

// Env holds the settings that may come from the environment. API keys are
// read as CLARIMEET_<NAME> first and as <NAME> second, so the conventional
// DEEPGRAM_API_KEY works unprefixed. The other settings need the prefix.
type Env struct {
	DeepgramAPIKey    string `envconfig:"DEEPGRAM_API_KEY"`
	LLMAPIKey         string `envconfig:"LLM_API_KEY"`
	LLMFallbackAPIKey string `envconfig:"LLM_FALLBACK_API_KEY"`

	LogLevel LogLevel `split_words:"true"`
	WSAddr   string   `split_words:"true"`
	HTTPAddr string   `split_words:"true"`
}

// LoadDotEnv loads a .env file from the working directory into the process
// environment. A missing file is not an error. Variables already set win.
func LoadDotEnv(log *slog.Logger) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("config: could not load .env file", "err", err)
	}
}

// Load reads the YAML configuration file at path, applies defaults and
// environment overrides, and validates the result. An empty path yields the
// defaults with environment overrides.
func Load(path string) (*Config, error) {
	var cfg *Config
	if path == "" {
		cfg = Default()
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("config: open %q: %w", path, err)
		}
		defer f.Close()

		cfg, err = decode(f)
		if err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. The environment is not consulted.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg, err := decode(r)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	return cfg, nil
}

// ApplyEnv overrides cfg with the variables described by [Env].
func ApplyEnv(cfg *Config) error {
	var env Env
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("config: environment: %w", err)
	}

	override := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	override(&cfg.Providers.STT.APIKey, env.DeepgramAPIKey)
	override(&cfg.Providers.LLM.APIKey, env.LLMAPIKey)
	override(&cfg.Providers.LLMFallback.APIKey, env.LLMFallbackAPIKey)
	override(&cfg.Server.WSAddr, env.WSAddr)
	override(&cfg.Server.HTTPAddr, env.HTTPAddr)
	if env.LogLevel != "" {
		cfg.Server.LogLevel = env.LogLevel
	}
	return nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.WSAddr == "" {
		errs = append(errs, errors.New("server.ws_addr is required"))
	}
	if cfg.Server.HTTPEnabled() && cfg.Server.HTTPAddr == cfg.Server.WSAddr {
		errs = append(errs, fmt.Errorf("server.http_addr %q must differ from server.ws_addr", cfg.Server.HTTPAddr))
	}

	// Providers
	if cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt.name is required"))
	}
	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm.name is required"))
	}
	if cfg.Providers.LLMFallback.Name != "" && cfg.Providers.LLMFallback.Model == "" && cfg.Providers.LLMFallback.Name != cfg.Providers.LLM.Name {
		slog.Warn("providers.llm_fallback has no model; the provider default is used")
	}
	if _, err := cfg.Providers.STT.Keywords(); err != nil {
		errs = append(errs, fmt.Errorf("providers.stt.%w", err))
	}
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("llm", cfg.Providers.LLMFallback.Name)

	// Audio
	if cfg.Audio.BlockSize <= 0 {
		errs = append(errs, fmt.Errorf("audio.block_size %d must be positive", cfg.Audio.BlockSize))
	}
	if cfg.Audio.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("audio.queue_size %d must be positive", cfg.Audio.QueueSize))
	}
	for i, r := range cfg.Audio.SampleRates {
		if r < 8000 || r > 192000 {
			errs = append(errs, fmt.Errorf("audio.sample_rates[%d] %d is out of range [8000, 192000]", i, r))
		}
	}
	if idx := cfg.Audio.SpeakerDeviceIndex; idx != nil && *idx < -1 {
		errs = append(errs, fmt.Errorf("audio.speaker_device_index %d must be -1 or a device index", *idx))
	}

	// Summary
	if cfg.Summary.MinChars <= 0 {
		errs = append(errs, fmt.Errorf("summary.min_chars %d must be positive", cfg.Summary.MinChars))
	}
	if cfg.Summary.IntervalChars <= 0 {
		errs = append(errs, fmt.Errorf("summary.interval_chars %d must be positive", cfg.Summary.IntervalChars))
	}
	if cfg.Summary.RetryMaxElapsed < 0 {
		errs = append(errs, fmt.Errorf("summary.retry_max_elapsed %s must not be negative", cfg.Summary.RetryMaxElapsed))
	}

	// Supervisor
	if cfg.Supervisor.StopTimeout <= 0 {
		errs = append(errs, fmt.Errorf("supervisor.stop_timeout %s must be positive", cfg.Supervisor.StopTimeout))
	}
	for i, arg := range cfg.Supervisor.Command {
		if i == 0 && arg == "" {
			errs = append(errs, errors.New("supervisor.command[0] must name a program"))
		}
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
