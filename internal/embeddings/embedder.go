// Package embeddings turns text into the unit-length vectors the document
// store indexes by dot product.
package embeddings

import (
	"context"
	"fmt"
)

// DefaultDimensions is the vector size used when none is configured.
const DefaultDimensions = 768

// Embedder defines the interface for generating text embeddings.
type Embedder interface {
	// Embed generates embeddings for one or more texts.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the number of dimensions in the embedding vectors.
	Dimensions() int

	// Name returns the name/identifier of the embedding model.
	Name() string
}

// NewEmbedder builds an embedder from provider settings. Batch only
// applies to the local encoder; the remote API has its own cap.
func NewEmbedder(providerType, endpoint, model, apiKey string, dims, batch int) (Embedder, error) {
	switch providerType {
	case "local":
		return NewLocalEmbedder(endpoint, model, dims, batch), nil
	case "remote":
		if apiKey == "" {
			return nil, fmt.Errorf("remote embeddings require an API key (set EMBEDDING_API_KEY)")
		}
		return NewRemoteEmbedder(apiKey, endpoint, model, dims), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider type: %s", providerType)
	}
}
