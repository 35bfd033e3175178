package embeddings

import (
	"context"

	chromem "github.com/philippgille/chromem-go"
)

// QueryFunc adapts an Engine into the chromem-go embedding callback.
// Documents are always added with precomputed vectors, so chromem only
// invokes this for queries and the query prefix applies.
func QueryFunc(engine *Engine) chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return engine.EmbedQuery(ctx, text)
	}
}
