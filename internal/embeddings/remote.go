package embeddings

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// remoteBatchSize is the per-request cap for the remote embeddings API.
const remoteBatchSize = 100

// RemoteEmbedder generates embeddings through an OpenAI-compatible
// embeddings API, requesting vectors truncated to the configured
// dimensionality.
type RemoteEmbedder struct {
	client *openai.Client
	model  string
	dims   int
}

// NewRemoteEmbedder creates an embedder for a hosted encoder. endpoint
// overrides the API base URL for OpenAI-compatible hosts; model defaults
// to text-embedding-3-small and dims to 768.
func NewRemoteEmbedder(apiKey, endpoint, model string, dims int) *RemoteEmbedder {
	cfg := openai.DefaultConfig(apiKey)
	if endpoint != "" {
		cfg.BaseURL = endpoint
	}
	if model == "" {
		model = string(openai.SmallEmbedding3)
	}
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &RemoteEmbedder{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		dims:   dims,
	}
}

func (e *RemoteEmbedder) Name() string {
	return "remote/" + e.model
}

func (e *RemoteEmbedder) Dimensions() int {
	return e.dims
}

func (e *RemoteEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += remoteBatchSize {
		end := start + remoteBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]

		resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input:      batch,
			Model:      openai.EmbeddingModel(e.model),
			Dimensions: e.dims,
		})
		if err != nil {
			return nil, fmt.Errorf("embedding request failed: %w", err)
		}
		if len(resp.Data) != len(batch) {
			return nil, fmt.Errorf("embedding endpoint returned %d vectors, expected %d", len(resp.Data), len(batch))
		}
		for _, d := range resp.Data {
			results = append(results, d.Embedding)
		}
	}
	return results, nil
}
