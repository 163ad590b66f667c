package config_test

import (
	"slices"
	"testing"

	"github.com/clarimeet/clarimeet/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	d := config.Diff(config.Default(), config.Default())
	if !d.Empty() {
		t.Errorf("expected empty diff, got %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old, new := config.Default(), config.Default()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("diff = %+v, want log level change to debug", d)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("log level should apply live, got restart for %v", d.RestartRequired)
	}
}

func TestDiff_SummaryChanged(t *testing.T) {
	t.Parallel()
	old, new := config.Default(), config.Default()
	new.Summary.IntervalChars = 1000

	d := config.Diff(old, new)
	if !d.SummaryChanged {
		t.Error("SummaryChanged should be set")
	}
	if d.LogLevelChanged {
		t.Error("LogLevelChanged should not be set")
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	old, new := config.Default(), config.Default()
	new.Server.WSAddr = ":9999"
	new.Providers.LLM.Model = "gpt-4o"
	new.Providers.LLM.Options = map[string]any{"ignored": true}

	d := config.Diff(old, new)
	want := []string{"server.ws_addr", "providers.llm"}
	if !slices.Equal(d.RestartRequired, want) {
		t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, want)
	}
}
