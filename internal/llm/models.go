package llm

import (
	"context"
	"fmt"
	"sort"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// ModelInfo describes a model advertised by an endpoint.
type ModelInfo struct {
	ID      string
	OwnedBy string
	Created int64
}

// ListModels queries the models endpoint of an OpenAI-compatible transport.
// Anthropic-format transports do not expose a compatible listing.
func ListModels(ctx context.Context, t Transport) ([]ModelInfo, error) {
	if t.Format != WireOpenAI {
		return nil, fmt.Errorf("%s: model listing requires an OpenAI-compatible endpoint", t.Label)
	}

	// openai-go resolves request paths relative to the base URL; the
	// trailing slash keeps the /v1 segment.
	opts := []option.RequestOption{
		option.WithBaseURL(t.Endpoint + "/"),
	}
	if t.APIKey != "" {
		opts = append(opts, option.WithAPIKey(t.APIKey))
	}
	for key, value := range t.Headers {
		opts = append(opts, option.WithHeader(key, value))
	}
	client := openai.NewClient(opts...)

	page, err := client.Models.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to list models: %w", t.Label, err)
	}

	var models []ModelInfo
	for _, m := range page.Data {
		models = append(models, ModelInfo{
			ID:      m.ID,
			OwnedBy: m.OwnedBy,
			Created: m.Created,
		})
	}
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	return models, nil
}
