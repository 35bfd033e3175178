package parser

import (
	"bytes"
	"regexp"
	"strings"
)

// Detector thresholds. A file tripping any heuristic is considered
// under-chunked: structural parsing likely missed content an LLM could name.
const (
	DefaultMinBytes          = 5000
	DefaultMaxLinesPerSymbol = 100
	DefaultMaxFormatCalls    = 5
)

// PromptVariant selects which chunking prompt the LLM pass should use.
type PromptVariant string

const (
	PromptEmbeddedCode  PromptVariant = "embedded_code"
	PromptBusinessLogic PromptVariant = "business_logic"
	PromptAPIContracts  PromptVariant = "api_contracts"
)

var embeddedContentPatterns = []*regexp.Regexp{
	// SQL statements opening a multi-line string
	regexp.MustCompile("(?i)(\"\"\"|'''|`)\\s*(SELECT|INSERT\\s+INTO|UPDATE\\s+\\w+\\s+SET|DELETE\\s+FROM|CREATE\\s+(TABLE|INDEX|VIEW)|WITH\\s+\\w+\\s+AS)\\b"),
	// HTML or JSX markup inside a string literal
	regexp.MustCompile("(?i)[\"'`]\\s*<(div|span|html|body|head|table|form|input|button|section|ul|li|nav|main)[\\s>/]"),
	// GraphQL operation blocks
	regexp.MustCompile("(?i)(\"\"\"|'''|`)\\s*(query|mutation|subscription|fragment)\\s+\\w+"),
	// Shell here-docs
	regexp.MustCompile(`<<-?\s*['"]?(EOF|EOT|END|SQL|SCRIPT)\b`),
}

var formatCallPattern = regexp.MustCompile(`\.format\(|\bf["']|\.Sprintf\(|String\.format\(|%\(\w+\)s`)

// Paths carrying these markers tend to hide routing tables and endpoint
// definitions that parse into few or no symbols.
var hotPathMarkers = []string{"service", "handler", "controller", "view", "router"}

// DetectorConfig tunes the under-chunking heuristics. Zero values fall back
// to the defaults.
type DetectorConfig struct {
	MinBytes          int
	MaxLinesPerSymbol int
	MaxFormatCalls    int
}

// Detector flags files whose structural parse looks too coarse.
type Detector struct {
	cfg DetectorConfig
}

// NewDetector returns a Detector with zero config values defaulted.
func NewDetector(cfg DetectorConfig) *Detector {
	if cfg.MinBytes <= 0 {
		cfg.MinBytes = DefaultMinBytes
	}
	if cfg.MaxLinesPerSymbol <= 0 {
		cfg.MaxLinesPerSymbol = DefaultMaxLinesPerSymbol
	}
	if cfg.MaxFormatCalls <= 0 {
		cfg.MaxFormatCalls = DefaultMaxFormatCalls
	}
	return &Detector{cfg: cfg}
}

// Verdict reports whether a file was flagged, why, and which prompt variant
// fits the dominant signal.
type Verdict struct {
	Flagged bool
	Reasons []string
	Prompt  PromptVariant
}

// Inspect applies every heuristic to the file. Symbols are counted
// recursively so a class dense with methods is not mistaken for a monolith.
func (d *Detector) Inspect(path string, content []byte, symbols []Symbol) Verdict {
	var v Verdict
	symbolCount := countSymbols(symbols)

	if len(content) >= d.cfg.MinBytes && symbolCount <= 1 {
		v.Reasons = append(v.Reasons, "large_file_few_symbols")
	}

	if symbolCount > 0 {
		lines := bytes.Count(content, []byte("\n")) + 1
		if lines/symbolCount > d.cfg.MaxLinesPerSymbol {
			v.Reasons = append(v.Reasons, "high_lines_per_symbol")
		}
	}

	embedded := false
	for _, re := range embeddedContentPatterns {
		if re.Match(content) {
			embedded = true
			break
		}
	}
	if embedded {
		v.Reasons = append(v.Reasons, "embedded_content")
	}

	if len(formatCallPattern.FindAllIndex(content, d.cfg.MaxFormatCalls+1)) > d.cfg.MaxFormatCalls {
		v.Reasons = append(v.Reasons, "format_calls")
	}

	hot := isHotPath(path) && symbolCount < 2
	if hot {
		v.Reasons = append(v.Reasons, "hot_path_few_symbols")
	}

	if len(v.Reasons) == 0 {
		return v
	}
	v.Flagged = true
	switch {
	case embedded:
		v.Prompt = PromptEmbeddedCode
	case hot:
		v.Prompt = PromptAPIContracts
	default:
		v.Prompt = PromptBusinessLogic
	}
	return v
}

func isHotPath(path string) bool {
	lower := strings.ToLower(path)
	for _, marker := range hotPathMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func countSymbols(symbols []Symbol) int {
	n := 0
	for _, s := range symbols {
		n += 1 + countSymbols(s.Methods)
	}
	return n
}
