// Package enrich produces LLM summaries for symbols, files, modules and
// repositories, with a circuit breaker and deterministic fallbacks so a dead
// or misbehaving endpoint never stalls an ingestion run.
package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/raglet/raglet/internal/llm"
)

// Level tags how a summary was produced.
type Level string

const (
	// LevelNone marks content that is not a summary at all.
	LevelNone Level = "none"
	// LevelBasic marks deterministic fallback summaries.
	LevelBasic Level = "basic"
	// LevelSummary marks LLM summaries built from child summaries only.
	LevelSummary Level = "llm_summary"
	// LevelFull marks LLM summaries built from full code context.
	LevelFull Level = "llm_full"
)

// Kind identifies what is being summarized.
type Kind string

const (
	KindSymbol Kind = "symbol"
	KindFile   Kind = "file"
	KindModule Kind = "module"
	KindRepo   Kind = "repo"
)

// Request carries the text to summarize plus the structural metadata the
// deterministic fallback is built from.
type Request struct {
	Kind     Kind
	Name     string // symbol name, file path, module path, or repo id
	Language string
	Text     string // code for symbols/files, child summaries for modules/repos

	SymbolNames []string       // file fallback
	Doc         string         // symbol/file fallback, first sentence used
	KeyFiles    []string       // module fallback
	Languages   map[string]int // repo fallback histogram
	TopDirs     []string       // repo fallback
}

// Response is the outcome of one Summarize call. A summary is always
// produced; Level and LLMAvailable tell the caller what it is worth.
type Response struct {
	Summary      string
	Level        Level
	Source       string // model name, or "fallback"
	LLMAvailable bool
	Tokens       int
}

const (
	breakerThreshold = 5
	breakerReset     = 60 * time.Second
	defaultTimeout   = 60 * time.Second
)

// ErrBreakerOpen reports that the circuit breaker rejected a call before
// it reached the provider.
var ErrBreakerOpen = errors.New("circuit breaker open")

// Enricher is safe for concurrent use. All callers share one token counter
// and one circuit breaker.
type Enricher struct {
	provider llm.Provider
	model    string
	logger   *slog.Logger

	breaker     *breaker
	tokens      atomic.Int64
	callTimeout time.Duration
	backoff     []time.Duration
}

// New creates an Enricher around the given provider.
func New(provider llm.Provider, model string, logger *slog.Logger) *Enricher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Enricher{
		provider:    provider,
		model:       model,
		logger:      logger,
		breaker:     newBreaker(breakerThreshold, breakerReset),
		callTimeout: defaultTimeout,
		backoff:     []time.Duration{time.Second, 4 * time.Second, 16 * time.Second},
	}
}

// TokensUsed returns the prompt+completion tokens consumed so far.
func (e *Enricher) TokensUsed() int64 {
	return e.tokens.Load()
}

// BreakerEvent returns a one-line description of the circuit breaker
// opening, or "" if it never did. The run report includes it once.
func (e *Enricher) BreakerEvent() string {
	if e.breaker.everTripped() {
		return fmt.Sprintf("llm circuit breaker opened after %d consecutive failures", breakerThreshold)
	}
	return ""
}

// Summarize produces a summary for the request. It never fails: when the
// LLM is unreachable, the breaker is open, or the model keeps returning
// malformed JSON, the deterministic fallback is returned instead.
func (e *Enricher) Summarize(ctx context.Context, req Request) Response {
	messages := buildSummaryMessages(req)
	chatReq := llm.CompletionRequest{
		Model:       e.model,
		Messages:    messages,
		MaxTokens:   1024,
		Temperature: 0.2,
		JSONMode:    true,
	}

	resp, err := e.callLLM(ctx, chatReq)
	if err != nil {
		e.logger.Warn("enrich.fallback", "kind", req.Kind, "name", req.Name, "error", err)
		return e.fallbackResponse(req, false, 0)
	}
	tokens := resp.InputTokens + resp.OutputTokens

	summary, perr := parseSummaryReply(resp.Content)
	if perr != nil {
		e.logger.Warn("enrich.malformed_reply", "kind", req.Kind, "name", req.Name, "error", perr)
		retryReq := chatReq
		retryReq.Messages = reinforce(messages, resp.Content, reinforcedInstruction)
		retryResp, rerr := e.callLLM(ctx, retryReq)
		if rerr != nil {
			return e.fallbackResponse(req, false, tokens)
		}
		tokens += retryResp.InputTokens + retryResp.OutputTokens
		summary, perr = parseSummaryReply(retryResp.Content)
		if perr != nil {
			e.logger.Warn("enrich.malformed_reply_final", "kind", req.Kind, "name", req.Name, "error", perr)
			return e.fallbackResponse(req, true, tokens)
		}
	}

	return Response{
		Summary:      summary,
		Level:        levelFor(req.Kind),
		Source:       e.model,
		LLMAvailable: true,
		Tokens:       tokens,
	}
}

func (e *Enricher) fallbackResponse(req Request, reachable bool, tokens int) Response {
	return Response{
		Summary:      FallbackSummary(req),
		Level:        LevelBasic,
		Source:       "fallback",
		LLMAvailable: reachable,
		Tokens:       tokens,
	}
}

// callLLM runs one completion with the breaker and transient-error retries.
// Each attempt gets its own wall-clock budget; only network errors and 5xx
// replies are retried, with 1 s / 4 s / 16 s pauses in between.
func (e *Enricher) callLLM(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		if !e.breaker.allow() {
			if lastErr != nil {
				return nil, fmt.Errorf("%w (last error: %v)", ErrBreakerOpen, lastErr)
			}
			return nil, ErrBreakerOpen
		}

		attemptCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
		resp, err := e.provider.Complete(attemptCtx, req)
		cancel()
		if err == nil {
			e.breaker.success()
			e.tokens.Add(int64(resp.InputTokens + resp.OutputTokens))
			return resp, nil
		}

		if tripped := e.breaker.failure(); tripped {
			e.logger.Warn("enrich.breaker_open", "consecutive_failures", breakerThreshold)
		}
		lastErr = err
		if !llm.IsRetryable(err) || attempt >= len(e.backoff) {
			return nil, lastErr
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(e.backoff[attempt]):
		}
	}
}

func levelFor(kind Kind) Level {
	switch kind {
	case KindSymbol, KindFile:
		return LevelFull
	default:
		return LevelSummary
	}
}

// parseSummaryReply validates the reply against the flat schema
// {"summary": "..."}. Unknown keys and empty summaries are rejected so the
// reinforced retry fires.
func parseSummaryReply(raw string) (string, error) {
	dec := json.NewDecoder(strings.NewReader(stripFences(raw)))
	dec.DisallowUnknownFields()
	var reply struct {
		Summary string `json:"summary"`
	}
	if err := dec.Decode(&reply); err != nil {
		return "", fmt.Errorf("json parse: %w", err)
	}
	summary := strings.TrimSpace(reply.Summary)
	if summary == "" {
		return "", errors.New("empty summary field")
	}
	return summary, nil
}

// stripFences removes a markdown code fence if the model wrapped its JSON
// in one.
func stripFences(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "```") {
		return raw
	}
	lines := strings.Split(raw, "\n")
	if len(lines) < 2 {
		return raw
	}
	end := len(lines)
	if strings.TrimSpace(lines[end-1]) == "```" {
		end--
	}
	return strings.Join(lines[1:end], "\n")
}
