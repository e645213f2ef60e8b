package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/v0xg/voicefill/internal/config"
	"github.com/v0xg/voicefill/internal/logging"
)

var (
	configPath string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
)

func main() {
	// Load .env file if present (silently ignore if not found)
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "voicefill",
		Short: "Fill a clinical web form by dictation",
		Long: `voicefill drives the host form in Chrome, streams the microphone to a
dictation backend, and writes the values the backend extracts into the
matching fields.

Example:
  voicefill run --url "https://clinic.example.com/consultation/42"
  voicefill scan --file snapshot.html`,
		SilenceUsage:      true,
		PersistentPreRunE: setup,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")

	rootCmd.AddCommand(newRunCmd(), newScanCmd(), newFillCmd(), newDevicesCmd())
	return rootCmd
}

func setup(cmd *cobra.Command, args []string) error {
	var err error
	logger, err = logging.New(verbose)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	if configPath != "" {
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
	} else {
		cfg = config.Default()
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger.Debug("configuration loaded",
		zap.String("path", configPath),
		zap.String("backend", cfg.Backend.URL),
		zap.Int("registered", len(cfg.Scan.Registry)))
	return nil
}
