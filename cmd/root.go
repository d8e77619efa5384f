package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/plotchat/plotchat/internal/config"
	"github.com/plotchat/plotchat/internal/logging"
)

var (
	flagProvider string
	flagModel    string
	flagLogLevel string
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagProvider, "provider", "p", "", "Provider name from config (default from config file)")
	rootCmd.PersistentFlags().StringVarP(&flagModel, "model", "m", "", "Override the provider's model")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn, error")
}

var rootCmd = &cobra.Command{
	Use:   "plotchat",
	Short: "Chat with an AI charting assistant",
	Long: `plotchat is a terminal chat client for an AI charting assistant.
The model drives a local plotd tool server to generate chart previews
and confirm them.

Examples:
  plotchat chat "plot monthly revenue as a line chart"
  plotchat chat -p anthropic "stacked bar of signups by plan"

  plotchat tools                  # list tool server tools
  plotchat models                 # list models on the active endpoint
  plotchat config                 # show effective configuration`,
	CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig loads the config with CLI overrides applied.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	cfg.ApplyOverrides(flagProvider, flagModel)
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *zap.Logger {
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
