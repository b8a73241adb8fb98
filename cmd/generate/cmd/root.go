package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuongbtq/narra-sync/internal/config"
	"github.com/cuongbtq/narra-sync/internal/orchestrator"
	"github.com/cuongbtq/narra-sync/internal/pipeline"
	"github.com/cuongbtq/narra-sync/shared/logger"
	"github.com/cuongbtq/narra-sync/shared/telemetry"
)

const defaultConfigPath = "configs/config.yaml"

// app holds what every subcommand needs once the configuration is loaded
type app struct {
	configPath string
	verbose    bool

	cfg      *config.Config
	logger   *logger.Logger
	orch     *orchestrator.Orchestrator
	backends *pipeline.Backends
	shutdown func()
}

// Execute runs the CLI until ctx is cancelled
func Execute(ctx context.Context) error {
	root, a := newRootCommand()
	defer a.close()
	return root.ExecuteContext(ctx)
}

func newRootCommand() (*cobra.Command, *app) {
	a := &app{}

	root := &cobra.Command{
		Use:   "narra-sync",
		Short: "Narra-sync generates narration audio and scene images in bounded batches",
		Long: `narra-sync drives text-to-speech and image-generation backends for a story.

Every subcommand runs one batch: each input becomes a job, jobs run concurrently
up to the backend's configured limit, and a failed job never stops the others.
Results are written next to the generated files as an info JSON in input order.

Common workflows:

  Narrate a text file, one sentence per line:
    narra-sync voice story.txt --speaker 13

  Generate an image for every scene of key_scenes.json:
    narra-sync images output/key_scenes.json --backend midjourney --aspect-ratio 16:9

  Regenerate one scene, rewriting its prompt if the backend refuses it:
    narra-sync regenerate output/key_scenes.json 4

Configuration:
  The YAML file given by --config (or NARRA_SYNC_CONFIG_PATH) is read first,
  then environment variables override it: VOICEVOX_URL, OPENAI_API_KEY,
  MIDJOURNEY_API_HOST, MIDJOURNEY_API_PORT, COMFYUI_HOST, COMFYUI_PORT.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd.Context())
		},
	}

	configPath := os.Getenv("NARRA_SYNC_CONFIG_PATH")
	if configPath == "" {
		configPath = defaultConfigPath
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", configPath, "Path to configuration file")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Log at debug level")

	root.AddCommand(
		newVoiceCommand(a),
		newImagesCommand(a),
		newRegenerateCommand(a),
		newSpeakersCommand(a),
	)
	return root, a
}

func (a *app) init(ctx context.Context) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		return fmt.Errorf("failed to apply environment: %w", err)
	}
	if err := cfg.ValidateBatchConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	level := cfg.Logging.Level
	if a.verbose {
		level = "debug"
	}
	appLogger, err := logger.New(&logger.Config{
		Level:        level,
		Format:       cfg.Logging.Format,
		Output:       cfg.Logging.Output,
		EnableSource: cfg.Logging.EnableCaller,
		TimeFormat:   time.TimeOnly,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	shutdown, err := telemetry.InitTracer(ctx, "narra-sync-cli", cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		_ = appLogger.Close()
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	a.cfg = cfg
	a.logger = appLogger
	a.shutdown = shutdown
	a.orch = orchestrator.New(orchestrator.WithLogger(appLogger.Logger))
	a.backends = pipeline.NewBackends(cfg, appLogger.Logger, nil)

	appLogger.Debug("Configuration loaded", slog.String("path", a.configPath))
	return nil
}

func (a *app) close() {
	if a.shutdown != nil {
		a.shutdown()
	}
	if a.logger != nil {
		_ = a.logger.Close()
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
