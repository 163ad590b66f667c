// Command clarimeet is the Clarimeet meeting assistant.
//
// Without flags it runs the control server: a WebSocket control socket, the
// side HTTP server and the supervisor of the capture pipeline. With --ws-mode
// it runs the capture pipeline itself, reporting events on stdout; the server
// starts it that way.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/clarimeet/clarimeet/internal/app"
	"github.com/clarimeet/clarimeet/internal/config"
	"github.com/clarimeet/clarimeet/internal/ipc"
	"github.com/clarimeet/clarimeet/internal/observe"
	"github.com/clarimeet/clarimeet/pkg/audio/capture"
	"github.com/clarimeet/clarimeet/pkg/provider/llm"
)

var version = "dev"

const defaultConfigFile = "config.yaml"

var (
	cfgFile string
	wsMode  bool
)

var rootCmd = &cobra.Command{
	Use:           "clarimeet",
	Short:         "Live meeting transcription and summaries",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(cmd.Context())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "clarimeet %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./"+defaultConfigFile+" when present)")
	rootCmd.Flags().BoolVar(&wsMode, "ws-mode", false, "run the capture pipeline and report events on stdout")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "clarimeet: %v\n", err)
		os.Exit(1)
	}
}

func run(parent context.Context) error {
	level := new(slog.LevelVar)
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	config.LoadDotEnv(log)
	path := resolveConfigPath(cfgFile)
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	level.Set(app.LevelFor(cfg.Server.LogLevel))

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			log.Warn("telemetry shutdown", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	model, err := app.BuildLLM(cfg, reg, metrics, log)
	if err != nil {
		return err
	}

	if wsMode {
		return runPipeline(ctx, cfg, reg, model, log, metrics)
	}
	return runServer(ctx, cfg, path, model, level, log, metrics)
}

// resolveConfigPath returns explicit when set, the default file when it exists,
// and "" for built-in defaults otherwise.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if _, err := os.Stat(defaultConfigFile); err == nil {
		return defaultConfigFile
	}
	return ""
}

func runServer(ctx context.Context, cfg *config.Config, path string, model llm.Provider, level *slog.LevelVar, log *slog.Logger, metrics *observe.Metrics) error {
	if path != "" {
		w, err := config.NewWatcher(path, app.ReloadHandler(level, log), config.WithWatcherLogger(log))
		if err != nil {
			return err
		}
		defer w.Stop()
	}

	srv, err := app.NewServer(ctx, cfg, model, path,
		app.WithServerLogger(log),
		app.WithServerMetrics(metrics),
	)
	if err != nil {
		return err
	}
	log.Info("clarimeet starting",
		"version", version,
		"config", path,
		"ws_addr", cfg.Server.WSAddr,
		"http_addr", cfg.Server.HTTPAddr,
		"llm", cfg.Providers.LLM.Name,
		"stt", cfg.Providers.STT.Name,
	)
	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("goodbye")
	return nil
}

func runPipeline(ctx context.Context, cfg *config.Config, reg *config.Registry, model llm.Provider, log *slog.Logger, metrics *observe.Metrics) error {
	transcriber, err := app.BuildSTT(cfg, reg, log)
	if err != nil {
		return err
	}

	backend, err := capture.NewMalgoBackend(log)
	if err != nil {
		return err
	}
	defer backend.Close()

	events := ipc.NewEncoder(os.Stdout)
	src := capture.New(backend,
		capture.Config{
			BlockSize:     cfg.Audio.BlockSize,
			SampleRates:   cfg.Audio.SampleRates,
			MicDevice:     cfg.Audio.MicDevice,
			SpeakerDevice: cfg.Audio.SpeakerDevice,
			SpeakerIndex:  *cfg.Audio.SpeakerDeviceIndex,
		},
		capture.WithLogger(log.With("component", "capture")),
		capture.WithPrompter(capture.StdinPrompter{In: os.Stdin, Out: events.StatusWriter()}),
		capture.WithOnDrop(func(source string) {
			metrics.RecordFrameDropped(ctx, source, "capture")
		}),
	)

	err = app.RunPipeline(ctx, cfg, app.PipelineDeps{
		Source:  src,
		STT:     transcriber,
		STTName: cfg.Providers.STT.Name,
		LLM:     model,
		Events:  events,
		Logger:  log,
		Metrics: metrics,
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
