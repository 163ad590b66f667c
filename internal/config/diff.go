package config

import "slices"

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// SummaryChanged is set when the summary thresholds differ. They apply to
	// the next pipeline start.
	SummaryChanged bool

	// RestartRequired lists the changed settings that only take effect after
	// a restart, as YAML paths.
	RestartRequired []string
}

// Empty reports whether nothing relevant changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.SummaryChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	d.SummaryChanged = old.Summary != new.Summary

	restart := func(path string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, path)
		}
	}
	restart("server.ws_addr", old.Server.WSAddr != new.Server.WSAddr)
	restart("server.http_addr", old.Server.HTTPAddr != new.Server.HTTPAddr)
	restart("server.allowed_origins", !slices.Equal(old.Server.AllowedOrigins, new.Server.AllowedOrigins))
	restart("providers.llm", !sameEntry(old.Providers.LLM, new.Providers.LLM))
	restart("providers.llm_fallback", !sameEntry(old.Providers.LLMFallback, new.Providers.LLMFallback))
	restart("sessions.path", old.Sessions.Path != new.Sessions.Path)

	return d
}

// sameEntry compares the fields of two provider entries that select and
// authenticate the provider. Options are not compared.
func sameEntry(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.Model == b.Model && a.BaseURL == b.BaseURL && a.APIKey == b.APIKey
}
