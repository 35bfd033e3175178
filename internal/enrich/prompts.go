package enrich

import (
	"fmt"
	"strings"

	"github.com/raglet/raglet/internal/llm"
	"github.com/raglet/raglet/internal/parser"
)

const summarySystemPrompt = `You are a senior software engineer writing documentation for a code search index. Summarize the provided input precisely and factually. Never invent details that are not present in the input. Always reply with a single JSON object and nothing else.`

const symbolPromptTemplate = `Summarize this %s symbol in one or two sentences for a code search index. Focus on what it does and why a developer would look for it.

Return a JSON object with exactly this field:

{"summary": "one or two sentence description"}

Symbol: %s
Docstring: %s

` + "```%s\n%s\n```"

const filePromptTemplate = `Summarize this source file in two or three sentences for a code search index. Cover its responsibility and the main things it defines.

Return a JSON object with exactly this field:

{"summary": "two or three sentence description"}

File: %s
Symbols: %s

` + "```%s\n%s\n```"

const modulePromptTemplate = `Summarize this code module in two or three sentences based on the summaries of its files. Describe the module's responsibility, not the individual files.

Return a JSON object with exactly this field:

{"summary": "two or three sentence description"}

Module: %s

File summaries:
%s`

const repoPromptTemplate = `Summarize this repository in three or four sentences based on the summaries of its modules. Describe what the project is and its main areas.

Return a JSON object with exactly this field:

{"summary": "three or four sentence description"}

Repository: %s

Module summaries:
%s`

const reinforcedInstruction = `Your previous reply was not valid. Reply again with ONLY a JSON object of the form {"summary": "..."}. No other keys, no markdown fences, no commentary.`

const chunkSystemPrompt = `You are a senior software engineer identifying logical regions in source files that automated parsing missed. Always reply with a single JSON object and nothing else.`

const embeddedCodePromptTemplate = `This %s file embeds code in another language inside string literals (SQL, HTML, GraphQL, shell). Identify each embedded block so it can be indexed separately.

Return a JSON object with exactly this field:

{"chunks": [{"name": "short descriptive name", "kind": "embedded", "start_line": 1, "end_line": 1, "tags": ["sql"], "confidence": 0.0}]}

Use the line numbers shown in the listing. Confidence is between 0.0 and 1.0. Omit regions you are unsure about.

File: %s

%s`

const businessLogicPromptTemplate = `This %s file contains large stretches of code that produced few named symbols. Identify cohesive regions of business logic (validation, calculation, state transitions, orchestration) that deserve their own index entries.

Return a JSON object with exactly this field:

{"chunks": [{"name": "short descriptive name", "kind": "logic", "start_line": 1, "end_line": 1, "tags": [], "confidence": 0.0}]}

Use the line numbers shown in the listing. Confidence is between 0.0 and 1.0. Omit regions you are unsure about.

File: %s

%s`

const apiContractsPromptTemplate = `This %s file sits on a request-handling path. Identify route registrations, endpoint handlers and API contract definitions that deserve their own index entries.

Return a JSON object with exactly this field:

{"chunks": [{"name": "short descriptive name", "kind": "endpoint", "start_line": 1, "end_line": 1, "tags": [], "confidence": 0.0}]}

Use the line numbers shown in the listing. Confidence is between 0.0 and 1.0. Omit regions you are unsure about.

File: %s

%s`

const reinforcedChunkInstruction = `Your previous reply was not valid. Reply again with ONLY a JSON object of the form {"chunks": [...]} where every chunk has name, kind, start_line, end_line, tags and confidence. No markdown fences, no commentary.`

func buildSummaryMessages(req Request) []llm.Message {
	var prompt string
	switch req.Kind {
	case KindSymbol:
		prompt = fmt.Sprintf(symbolPromptTemplate, req.Language, req.Name, orNone(req.Doc), req.Language, req.Text)
	case KindFile:
		prompt = fmt.Sprintf(filePromptTemplate, req.Name, orNone(strings.Join(req.SymbolNames, ", ")), req.Language, req.Text)
	case KindModule:
		prompt = fmt.Sprintf(modulePromptTemplate, req.Name, req.Text)
	default:
		prompt = fmt.Sprintf(repoPromptTemplate, req.Name, req.Text)
	}
	return []llm.Message{
		{Role: llm.RoleSystem, Content: summarySystemPrompt},
		{Role: llm.RoleUser, Content: prompt},
	}
}

func buildChunkMessages(req ChunkRequest) []llm.Message {
	var template string
	switch req.Variant {
	case parser.PromptEmbeddedCode:
		template = embeddedCodePromptTemplate
	case parser.PromptAPIContracts:
		template = apiContractsPromptTemplate
	default:
		template = businessLogicPromptTemplate
	}
	prompt := fmt.Sprintf(template, req.Language, req.Path, numberedListing(req.Code))
	return []llm.Message{
		{Role: llm.RoleSystem, Content: chunkSystemPrompt},
		{Role: llm.RoleUser, Content: prompt},
	}
}

// reinforce extends a failed exchange with the model's bad reply and a
// corrective instruction, so the retry sees what it did wrong.
func reinforce(messages []llm.Message, previousReply, instruction string) []llm.Message {
	out := make([]llm.Message, 0, len(messages)+2)
	out = append(out, messages...)
	out = append(out,
		llm.Message{Role: llm.RoleAssistant, Content: previousReply},
		llm.Message{Role: llm.RoleUser, Content: instruction},
	)
	return out
}

// numberedListing prefixes each line with its 1-indexed number so the model
// can report chunk boundaries the caller can trust.
func numberedListing(code string) string {
	lines := strings.Split(code, "\n")
	var b strings.Builder
	for i, line := range lines {
		fmt.Fprintf(&b, "%d: %s\n", i+1, line)
	}
	return b.String()
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(none)"
	}
	return s
}
