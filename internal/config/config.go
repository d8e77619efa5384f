package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Provider types understood by the transport resolver.
const (
	TypeOpenAICompat = "openai-compat" // local or self-hosted /chat/completions endpoint
	TypeAnthropic    = "anthropic"     // Anthropic-format /messages endpoint (vendor or compatible)
	TypeOpenAI       = "openai"        // api.openai.com directly
	TypeRelay        = "relay"         // hosted relay, OpenAI wire format + bearer token
)

type Config struct {
	DefaultProvider string                    `mapstructure:"provider" yaml:"provider"`
	LogLevel        string                    `mapstructure:"log_level" yaml:"log_level"`
	LogFormat       string                    `mapstructure:"log_format" yaml:"log_format"`
	Chat            ChatConfig                `mapstructure:"chat" yaml:"chat"`
	Providers       map[string]ProviderConfig `mapstructure:"providers" yaml:"providers"`
	ToolServer      ToolServerConfig          `mapstructure:"tool_server" yaml:"tool_server"`
}

// ChatConfig holds per-conversation tuning.
type ChatConfig struct {
	Temperature  float64 `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens    int     `mapstructure:"max_tokens" yaml:"max_tokens"`
	Instructions string  `mapstructure:"instructions" yaml:"instructions,omitempty"` // optional system prompt
}

// ProviderConfig describes one named LLM endpoint.
type ProviderConfig struct {
	Type    string            `mapstructure:"type" yaml:"type"`
	BaseURL string            `mapstructure:"base_url" yaml:"base_url,omitempty"`
	APIKey  string            `mapstructure:"api_key" yaml:"api_key,omitempty"`
	Model   string            `mapstructure:"model" yaml:"model,omitempty"`
	Headers map[string]string `mapstructure:"headers" yaml:"headers,omitempty"`
}

// ToolServerConfig describes the local chart tool server subprocess.
type ToolServerConfig struct {
	Command  string            `mapstructure:"command" yaml:"command"`
	Args     []string          `mapstructure:"args" yaml:"args,omitempty"`
	Env      map[string]string `mapstructure:"env" yaml:"env,omitempty"`
	TokenEnv string            `mapstructure:"token_env" yaml:"token_env"` // env var name the token is injected under
}

func Load() (*Config, error) {
	configPath, err := GetConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config dir: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configPath)
	viper.AddConfigPath(".")

	viper.SetDefault("provider", "local")
	viper.SetDefault("log_level", "warn")
	viper.SetDefault("log_format", "console")
	viper.SetDefault("chat.temperature", 0.7)
	viper.SetDefault("chat.max_tokens", 4096)
	viper.SetDefault("providers.local.type", TypeOpenAICompat)
	viper.SetDefault("providers.local.base_url", "http://localhost:11434/v1")
	viper.SetDefault("providers.anthropic.type", TypeAnthropic)
	viper.SetDefault("providers.anthropic.model", "claude-sonnet-4-5")
	viper.SetDefault("providers.openai.type", TypeOpenAI)
	viper.SetDefault("providers.openai.model", "gpt-5.2")
	viper.SetDefault("providers.relay.type", TypeRelay)
	viper.SetDefault("providers.relay.base_url", "https://relay.plotchat.dev/v1")
	viper.SetDefault("tool_server.command", "plotd")
	viper.SetDefault("tool_server.token_env", "PLOTD_TOKEN")

	// Config file is optional; defaults cover local use.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	for name, p := range cfg.Providers {
		p.APIKey = resolveAPIKey(name, p.APIKey)
		p.BaseURL = expandEnv(p.BaseURL)
		cfg.Providers[name] = p
	}

	return &cfg, nil
}

// ApplyOverrides applies provider and model flags to the loaded config.
func (c *Config) ApplyOverrides(provider, model string) {
	if provider != "" {
		c.DefaultProvider = provider
	}
	if model != "" {
		if p, ok := c.Providers[c.DefaultProvider]; ok {
			p.Model = model
			c.Providers[c.DefaultProvider] = p
		}
	}
}

// Provider returns the configuration for the named provider.
func (c *Config) Provider(name string) (ProviderConfig, bool) {
	p, ok := c.Providers[name]
	return p, ok
}

// resolveAPIKey expands the configured key and falls back to the
// conventional environment variables for the provider name
// (e.g. "openai" -> PLOTCHAT_OPENAI_API_KEY, then OPENAI_API_KEY).
func resolveAPIKey(name, configured string) string {
	key := expandEnv(configured)
	if key != "" {
		return key
	}
	upper := strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
	if v := os.Getenv("PLOTCHAT_" + upper + "_API_KEY"); v != "" {
		return v
	}
	return os.Getenv(upper + "_API_KEY")
}

// expandEnv expands ${VAR} or $VAR in a string.
func expandEnv(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		return os.Getenv(s[2 : len(s)-1])
	}
	if strings.HasPrefix(s, "$") {
		return os.Getenv(s[1:])
	}
	return s
}

// GetConfigDir returns the XDG config directory for plotchat.
func GetConfigDir() (string, error) {
	if xdgHome := os.Getenv("XDG_CONFIG_HOME"); xdgHome != "" {
		return filepath.Join(xdgHome, "plotchat"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".config", "plotchat"), nil
}

// GetDataDir returns the XDG data directory for plotchat (session store).
func GetDataDir() (string, error) {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "plotchat"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".local", "share", "plotchat"), nil
}
