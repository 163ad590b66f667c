package app

import (
	"log/slog"

	"github.com/clarimeet/clarimeet/internal/config"
)

// LevelFor maps a configured log level to its slog level.
func LevelFor(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ReloadHandler returns a [config.Watcher] callback that applies the log
// level to level and reports the settings that need a restart.
func ReloadHandler(level *slog.LevelVar, log *slog.Logger) func(old, new *config.Config) {
	return func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			level.Set(LevelFor(d.NewLogLevel))
			log.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.SummaryChanged {
			log.Info("summary settings changed; they apply to the next pipeline start")
		}
		if len(d.RestartRequired) > 0 {
			log.Warn("config changes need a restart to take effect", "settings", d.RestartRequired)
		}
	}
}
