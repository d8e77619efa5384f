package llm

import (
	"go.uber.org/zap"

	"github.com/plotchat/plotchat/internal/config"
)

// NewProvider resolves a named provider configuration into a ready provider,
// wrapped with transient-error retries.
func NewProvider(name string, cfg *config.Config, logger *zap.Logger) (Provider, error) {
	transport, err := ResolveTransport(name, cfg)
	if err != nil {
		return nil, err
	}

	var provider Provider
	switch transport.Format {
	case WireAnthropic:
		provider = NewAnthropicProvider(transport, logger)
	default:
		provider = NewOpenAICompatProvider(transport, logger)
	}

	return WrapWithRetry(provider, DefaultRetryConfig()), nil
}
