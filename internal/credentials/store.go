package credentials

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// storedCredentials is the on-disk format of credentials.json.
type storedCredentials struct {
	RelayToken      string `json:"relay_token,omitempty"`
	ToolServerToken string `json:"tool_server_token,omitempty"`
}

func credentialsPath() (string, error) {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "plotchat", "credentials.json"), nil
}

func load() (*storedCredentials, error) {
	path, err := credentialsPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &storedCredentials{}, nil
		}
		return nil, err
	}
	var creds storedCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("failed to parse credentials file: %w", err)
	}
	return &creds, nil
}

func save(creds *storedCredentials) error {
	path, err := credentialsPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// GetRelayToken returns the bearer token for the hosted relay.
// The PLOTCHAT_RELAY_TOKEN environment variable takes precedence over the
// credentials file.
func GetRelayToken() (string, error) {
	if token := os.Getenv("PLOTCHAT_RELAY_TOKEN"); token != "" {
		return token, nil
	}
	creds, err := load()
	if err != nil {
		return "", err
	}
	if creds.RelayToken == "" {
		return "", fmt.Errorf("no relay token found; set PLOTCHAT_RELAY_TOKEN or run `plotchat config set-relay-token`")
	}
	return creds.RelayToken, nil
}

// SaveRelayToken persists the relay bearer token to the credentials file.
func SaveRelayToken(token string) error {
	creds, err := load()
	if err != nil {
		creds = &storedCredentials{}
	}
	creds.RelayToken = token
	return save(creds)
}

// GetToolServerToken returns the token injected into the tool server's
// environment. Missing is not an error: local tool servers commonly run
// unauthenticated.
func GetToolServerToken() string {
	if token := os.Getenv("PLOTD_TOKEN"); token != "" {
		return token
	}
	creds, err := load()
	if err != nil {
		return ""
	}
	return creds.ToolServerToken
}
