package config

import (
	"os"
	"testing"
)

func TestExpandEnv(t *testing.T) {
	os.Setenv("PLOTCHAT_TEST_VALUE", "sekret")
	defer os.Unsetenv("PLOTCHAT_TEST_VALUE")

	cases := []struct {
		in   string
		want string
	}{
		{"${PLOTCHAT_TEST_VALUE}", "sekret"},
		{"$PLOTCHAT_TEST_VALUE", "sekret"},
		{"literal", "literal"},
		{"", ""},
	}
	for _, c := range cases {
		if got := expandEnv(c.in); got != c.want {
			t.Errorf("expandEnv(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestResolveAPIKeyFallsBackToEnv(t *testing.T) {
	os.Setenv("PLOTCHAT_MYRELAY_API_KEY", "from-plotchat-env")
	defer os.Unsetenv("PLOTCHAT_MYRELAY_API_KEY")

	if got := resolveAPIKey("myrelay", ""); got != "from-plotchat-env" {
		t.Errorf("expected PLOTCHAT_ env fallback, got %q", got)
	}
	if got := resolveAPIKey("myrelay", "explicit"); got != "explicit" {
		t.Errorf("explicit key should win, got %q", got)
	}
}

func TestApplyOverrides(t *testing.T) {
	cfg := &Config{
		DefaultProvider: "local",
		Providers: map[string]ProviderConfig{
			"local":  {Type: TypeOpenAICompat, Model: "llama3"},
			"claude": {Type: TypeAnthropic, Model: "claude-sonnet-4-5"},
		},
	}

	cfg.ApplyOverrides("claude", "claude-opus-4-5")
	if cfg.DefaultProvider != "claude" {
		t.Errorf("provider override not applied: %q", cfg.DefaultProvider)
	}
	if cfg.Providers["claude"].Model != "claude-opus-4-5" {
		t.Errorf("model override not applied: %q", cfg.Providers["claude"].Model)
	}
	if cfg.Providers["local"].Model != "llama3" {
		t.Errorf("unrelated provider mutated: %q", cfg.Providers["local"].Model)
	}
}
