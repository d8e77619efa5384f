package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/plotchat/plotchat/internal/config"
)

func init() {
	rootCmd.AddCommand(configCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		configDir, _ := config.GetConfigDir()
		fmt.Printf("# config dir: %s\n", configDir)

		out, err := yaml.Marshal(redacted(cfg))
		if err != nil {
			return err
		}
		fmt.Print(string(out))
		return nil
	},
}

// redacted returns a copy safe to print: api keys are masked.
func redacted(cfg *config.Config) *config.Config {
	out := *cfg
	out.Providers = make(map[string]config.ProviderConfig, len(cfg.Providers))
	for name, p := range cfg.Providers {
		if p.APIKey != "" {
			p.APIKey = maskKey(p.APIKey)
		}
		out.Providers[name] = p
	}
	return &out
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", 6) + key[len(key)-4:]
}
