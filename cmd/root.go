package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"reelforge/internal/app"
	"reelforge/pkg/config"
)

var (
	verbose   bool
	logFormat string
	userID    string
)

var rootCmd = &cobra.Command{
	Use:   "reelforge",
	Short: "Generate social videos and publish them on a schedule",
	Long: `Reelforge turns a content request into a rendered short video through
script, voice, image and video providers, then posts it to connected
YouTube and Instagram accounts from a scheduled queue.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: console or json (default from config)")
	rootCmd.PersistentFlags().StringVarP(&userID, "user", "U", "local", "User the command acts for")
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return setupLogger(config.LogConfig{Format: logFormat})
	}
}

func Execute() error {
	return rootCmd.Execute()
}

// setupLogger replaces the global zap logger. Config loading logs through
// the global before components receive their own named loggers.
func setupLogger(cfg config.LogConfig) error {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.Set(cfg.Level); err != nil {
			return fmt.Errorf("log level %q: %w", cfg.Level, err)
		}
	}
	if verbose {
		level = zapcore.DebugLevel
	}

	format := cfg.Format
	if logFormat != "" {
		format = logFormat
	}

	var zc zap.Config
	switch format {
	case "json":
		zc = zap.NewProductionConfig()
	case "", "console":
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zc.DisableStacktrace = true
	default:
		return fmt.Errorf("log format %q: want console or json", format)
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stderr"}

	logger, err := zc.Build()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return nil
}

// loadConfig reads the configuration and rebuilds the logger from its log section.
func loadConfig(ctx context.Context) (*config.Config, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := setupLogger(cfg.Log); err != nil {
		return nil, err
	}
	return cfg, nil
}

// buildApp loads the configuration and wires the components. Commands whose
// effect must outlive the process pass durable to require a database.
func buildApp(ctx context.Context, durable bool) (*app.BuildResult, *config.Config, error) {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return nil, nil, err
	}
	if durable && cfg.DatabaseURL == "" {
		return nil, nil, errors.New("DATABASE_URL must be set: the in-memory store does not outlive this command")
	}
	res, err := app.Build(ctx, cfg, zap.L())
	if err != nil {
		return nil, nil, err
	}
	return res, cfg, nil
}
