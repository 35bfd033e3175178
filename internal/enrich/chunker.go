package enrich

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/raglet/raglet/internal/llm"
	"github.com/raglet/raglet/internal/parser"
)

// ChunkRequest asks the LLM to propose index regions for one
// under-chunked file.
type ChunkRequest struct {
	Path     string
	Language string
	Code     string
	Variant  parser.PromptVariant
}

// ProposeChunks runs the LLM chunking pass. An empty slice with a nil error
// means the model found nothing worth indexing. On failure the caller keeps
// the parser's symbols and moves on.
func (e *Enricher) ProposeChunks(ctx context.Context, req ChunkRequest) ([]parser.Chunk, error) {
	messages := buildChunkMessages(req)
	chatReq := llm.CompletionRequest{
		Model:       e.model,
		Messages:    messages,
		MaxTokens:   2048,
		Temperature: 0.1,
		JSONMode:    true,
	}

	resp, err := e.callLLM(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("chunking %s: %w", req.Path, err)
	}

	chunks, perr := parseChunkReply(resp.Content)
	if perr != nil {
		e.logger.Warn("enrich.malformed_chunks", "path", req.Path, "error", perr)
		retryReq := chatReq
		retryReq.Messages = reinforce(messages, resp.Content, reinforcedChunkInstruction)
		retryResp, rerr := e.callLLM(ctx, retryReq)
		if rerr != nil {
			return nil, fmt.Errorf("chunking %s: %w", req.Path, rerr)
		}
		chunks, perr = parseChunkReply(retryResp.Content)
		if perr != nil {
			return nil, fmt.Errorf("chunking %s: %w", req.Path, perr)
		}
	}
	return chunks, nil
}

func parseChunkReply(raw string) ([]parser.Chunk, error) {
	var reply struct {
		Chunks []parser.Chunk `json:"chunks"`
	}
	if err := json.Unmarshal([]byte(stripFences(raw)), &reply); err != nil {
		return nil, fmt.Errorf("json parse: %w", err)
	}
	return reply.Chunks, nil
}
