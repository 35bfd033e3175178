package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	defaultLocalEndpoint = "http://localhost:11434"
	defaultLocalBatch    = 128
)

// LocalEmbedder generates embeddings through an Ollama-compatible
// /api/embed endpoint, sending up to batch texts per request.
type LocalEmbedder struct {
	endpoint string
	model    string
	dims     int
	batch    int
	client   *http.Client
}

// NewLocalEmbedder creates an embedder for a local encoder. endpoint
// defaults to http://localhost:11434, dims to 768 and batch to 128.
func NewLocalEmbedder(endpoint, model string, dims, batch int) *LocalEmbedder {
	endpoint = strings.TrimRight(endpoint, "/")
	if endpoint == "" {
		endpoint = defaultLocalEndpoint
	}
	if dims <= 0 {
		dims = DefaultDimensions
	}
	if batch <= 0 {
		batch = defaultLocalBatch
	}
	return &LocalEmbedder{
		endpoint: endpoint,
		model:    model,
		dims:     dims,
		batch:    batch,
		client:   &http.Client{},
	}
}

func (e *LocalEmbedder) Name() string {
	return "local/" + e.model
}

func (e *LocalEmbedder) Dimensions() int {
	return e.dims
}

type localEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type localEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (e *LocalEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batch {
		end := start + e.batch
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := e.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		results = append(results, vecs...)
	}
	return results, nil
}

func (e *LocalEmbedder) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	body, err := json.Marshal(localEmbedRequest{
		Model: e.model,
		Input: batch,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embed endpoint returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var result localEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}

	if len(result.Embeddings) != len(batch) {
		return nil, fmt.Errorf("embed endpoint returned %d vectors, expected %d", len(result.Embeddings), len(batch))
	}
	return result.Embeddings, nil
}
