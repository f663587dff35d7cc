package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/davidkant/rpp/internal/config"
	"github.com/spf13/cobra"
)

var version = "0.1.0-dev"

var (
	configPath string
	logLevel   string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "rpp",
	Short: "Drive the synthesis engine's offline renderer",
	Long: `rpp configures the synthesis engine over OSC and renders samples to disk.

Samples are JSON documents (one or more per file) describing a topology,
its render settings and the parameters of all four voices.`,
	Version:      version,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (defaults apply when empty)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override telemetry.log_level")

	rootCmd.AddCommand(renderCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(specCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads the configuration and builds a stderr text logger at the
// configured level.
func loadConfig() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, nil, err
	}
	if logLevel != "" {
		cfg.Telemetry.LogLevel = logLevel
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Telemetry.LogLevel)); err != nil {
		return cfg, nil, fmt.Errorf("log level %q: %w", cfg.Telemetry.LogLevel, err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	return cfg, logger, nil
}
