package llm

import (
	"net/url"
	"strings"

	"github.com/plotchat/plotchat/internal/config"
	"github.com/plotchat/plotchat/internal/credentials"
)

// WireFormat tags the JSON shape and streaming semantics a transport uses.
type WireFormat string

const (
	WireOpenAI    WireFormat = "openai"    // streaming chat/completions deltas
	WireAnthropic WireFormat = "anthropic" // whole-block messages responses
)

// Transport is the resolved wire target for one provider selection.
type Transport struct {
	Label    string // provider name, used in error messages
	Endpoint string // API root, normalized to end in /v1
	Model    string
	Headers  map[string]string
	APIKey   string
	Format   WireFormat
}

// ChatCompletionsURL returns the chat completions endpoint for this transport.
func (t Transport) ChatCompletionsURL() string {
	return chatCompletionsURL(t.Endpoint)
}

// MessagesURL returns the Anthropic-format messages endpoint.
func (t Transport) MessagesURL() string {
	return messagesURL(t.Endpoint)
}

// ModelsURL returns the model listing endpoint.
func (t Transport) ModelsURL() string {
	return modelsURL(t.Endpoint)
}

// ResolveTransport maps a named provider configuration onto a concrete wire
// transport. It fails with a typed error rather than silently falling back.
func ResolveTransport(name string, cfg *config.Config) (Transport, error) {
	p, ok := cfg.Provider(name)
	if !ok {
		return Transport{}, &EndpointError{Provider: name, Reason: "provider not configured"}
	}

	t := Transport{
		Label:   name,
		Model:   p.Model,
		APIKey:  p.APIKey,
		Headers: map[string]string{},
	}
	for k, v := range p.Headers {
		if v != "" {
			t.Headers[k] = v
		}
	}

	switch p.Type {
	case config.TypeOpenAICompat:
		if p.BaseURL == "" {
			return Transport{}, &EndpointError{Provider: name, Reason: "base_url is required"}
		}
		t.Endpoint = apiRoot(p.BaseURL)
		t.Format = WireOpenAI

	case config.TypeOpenAI:
		base := p.BaseURL
		if base == "" {
			base = "https://api.openai.com/v1"
		}
		if p.APIKey == "" {
			return Transport{}, &CredentialError{Provider: name, Reason: "set OPENAI_API_KEY or providers." + name + ".api_key"}
		}
		t.Endpoint = apiRoot(base)
		t.Format = WireOpenAI

	case config.TypeAnthropic:
		base := p.BaseURL
		if base == "" {
			base = "https://api.anthropic.com/v1"
		}
		if p.APIKey == "" {
			return Transport{}, &CredentialError{Provider: name, Reason: "set ANTHROPIC_API_KEY or providers." + name + ".api_key"}
		}
		t.Endpoint = apiRoot(base)
		t.Format = WireAnthropic

	case config.TypeRelay:
		if p.BaseURL == "" {
			return Transport{}, &EndpointError{Provider: name, Reason: "base_url is required"}
		}
		token := p.APIKey
		if token == "" {
			var err error
			token, err = credentials.GetRelayToken()
			if err != nil {
				return Transport{}, &CredentialError{Provider: name, Reason: err.Error()}
			}
		}
		t.APIKey = token
		t.Endpoint = apiRoot(p.BaseURL)
		t.Format = WireOpenAI

	default:
		return Transport{}, &EndpointError{Provider: name, Reason: "unknown provider type " + p.Type}
	}

	if _, err := url.ParseRequestURI(t.Endpoint); err != nil {
		return Transport{}, &EndpointError{Provider: name, Endpoint: t.Endpoint, Reason: err.Error()}
	}
	return t, nil
}

// operation suffixes stripped when normalizing a user-supplied base URL
// back to its API root.
var operationSuffixes = []string{
	"/chat/completions",
	"/completions",
	"/messages",
	"/models",
}

// apiRoot normalizes a user-supplied base URL to its API root ending in
// /v1. Tolerated shapes: bare host, host with /v1, host with a full
// operation path, and the common /vi typo.
func apiRoot(base string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	for _, suffix := range operationSuffixes {
		if strings.HasSuffix(base, suffix) {
			base = strings.TrimSuffix(base, suffix)
			break
		}
	}
	if strings.HasSuffix(base, "/vi") {
		base = strings.TrimSuffix(base, "/vi") + "/v1"
	}
	if !strings.HasSuffix(base, "/v1") {
		base += "/v1"
	}
	return base
}

func chatCompletionsURL(base string) string {
	return apiRoot(base) + "/chat/completions"
}

func messagesURL(base string) string {
	return apiRoot(base) + "/messages"
}

func modelsURL(base string) string {
	return apiRoot(base) + "/models"
}
