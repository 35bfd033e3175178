package embeddings

import (
	"context"
	"fmt"
	"math"
)

const (
	documentPrefix = "search_document: "
	queryPrefix    = "search_query: "
	normTolerance  = 1e-3
)

// Engine wraps an Embedder with the prefixing and normalization rules
// every persisted vector must satisfy. It is the only embedding path the
// rest of the pipeline uses.
type Engine struct {
	embedder Embedder
}

// NewEngine wraps an embedder.
func NewEngine(embedder Embedder) *Engine {
	return &Engine{embedder: embedder}
}

func (g *Engine) Dimensions() int {
	return g.embedder.Dimensions()
}

func (g *Engine) Name() string {
	return g.embedder.Name()
}

// EmbedDocuments embeds corpus content. Every returned vector has the
// declared dimensionality and unit length.
func (g *Engine) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	prefixed := make([]string, len(texts))
	for i, t := range texts {
		prefixed[i] = documentPrefix + t
	}
	return g.embed(ctx, prefixed)
}

// EmbedQuery embeds a search query with the query-side prefix.
func (g *Engine) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := g.embed(ctx, []string{queryPrefix + text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// embed calls the encoder, then normalizes and verifies each vector. A
// degenerate vector (zero or non-finite, so normalization cannot reach
// unit length) is re-requested once before the batch fails.
func (g *Engine) embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vecs, err := g.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("encoder returned %d vectors for %d texts", len(vecs), len(texts))
	}

	dims := g.embedder.Dimensions()
	for i, v := range vecs {
		if len(v) != dims {
			return nil, fmt.Errorf("vector %d has %d dimensions, want %d", i, len(v), dims)
		}
		if Normalize(v) {
			continue
		}

		retry, rerr := g.embedder.Embed(ctx, texts[i:i+1])
		if rerr != nil {
			return nil, fmt.Errorf("re-embedding degenerate vector: %w", rerr)
		}
		if len(retry) != 1 || len(retry[0]) != dims {
			return nil, fmt.Errorf("re-embedding returned a malformed vector for text %d", i)
		}
		if !Normalize(retry[0]) {
			return nil, fmt.Errorf("encoder produced an unnormalizable vector for text %d", i)
		}
		vecs[i] = retry[0]
	}
	return vecs, nil
}

// Norm returns the Euclidean length of v.
func Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// Normalize scales v to unit length in place. It reports false when v is
// zero or non-finite and cannot be normalized.
func Normalize(v []float32) bool {
	n := Norm(v)
	if n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return false
	}
	inv := 1 / n
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
	return true
}

// IsNormalized reports whether ‖v‖ is within tolerance of unit length.
func IsNormalized(v []float32) bool {
	return math.Abs(Norm(v)-1) < normTolerance
}
