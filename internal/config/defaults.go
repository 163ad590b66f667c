package config

import "time"

// Default values applied by [ApplyDefaults].
const (
	DefaultWSAddr          = ":8765"
	DefaultHTTPAddr        = ":8766"
	DefaultLogLevel        = LogInfo
	DefaultSTTProvider     = "deepgram"
	DefaultLLMProvider     = "openai"
	DefaultLLMModel        = "gpt-4o-mini"
	DefaultBlockSize       = 2048
	DefaultQueueSize       = 10
	DefaultMinChars        = 250
	DefaultIntervalChars   = 500
	DefaultRetryMaxElapsed = 30 * time.Second
	DefaultStopTimeout     = 5 * time.Second
	DefaultSessionsPath    = "clarimeet.db"

	// HTTPDisabled as server.http_addr turns the side server off.
	HTTPDisabled = "off"
)

// DefaultSampleRates is the sample-rate negotiation candidate set.
var DefaultSampleRates = []int{16000, 44100, 48000}

// ApplyDefaults fills every unset field of cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.WSAddr == "" {
		cfg.Server.WSAddr = DefaultWSAddr
	}
	if cfg.Server.HTTPAddr == "" {
		cfg.Server.HTTPAddr = DefaultHTTPAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = DefaultLogLevel
	}
	if cfg.Providers.STT.Name == "" {
		cfg.Providers.STT.Name = DefaultSTTProvider
	}
	if cfg.Providers.LLM.Name == "" {
		cfg.Providers.LLM.Name = DefaultLLMProvider
		if cfg.Providers.LLM.Model == "" {
			cfg.Providers.LLM.Model = DefaultLLMModel
		}
	}

	if cfg.Audio.BlockSize == 0 {
		cfg.Audio.BlockSize = DefaultBlockSize
	}
	if cfg.Audio.QueueSize == 0 {
		cfg.Audio.QueueSize = DefaultQueueSize
	}
	if len(cfg.Audio.SampleRates) == 0 {
		cfg.Audio.SampleRates = append([]int(nil), DefaultSampleRates...)
	}
	if cfg.Audio.SpeakerDeviceIndex == nil {
		idx := -1
		cfg.Audio.SpeakerDeviceIndex = &idx
	}

	if cfg.Summary.MinChars == 0 {
		cfg.Summary.MinChars = DefaultMinChars
	}
	if cfg.Summary.IntervalChars == 0 {
		cfg.Summary.IntervalChars = DefaultIntervalChars
	}
	if cfg.Summary.RetryMaxElapsed == 0 {
		cfg.Summary.RetryMaxElapsed = DefaultRetryMaxElapsed
	}

	if cfg.Supervisor.StopTimeout == 0 {
		cfg.Supervisor.StopTimeout = DefaultStopTimeout
	}
	if cfg.Sessions.Path == "" {
		cfg.Sessions.Path = DefaultSessionsPath
	}
}

// Default returns a Config with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
