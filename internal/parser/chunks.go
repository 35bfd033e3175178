package parser

import "sort"

// Chunk is one region proposed by the LLM chunking pass over an
// under-chunked file.
type Chunk struct {
	Name       string   `json:"name"`
	Kind       string   `json:"kind"`
	StartLine  int      `json:"start_line"`
	EndLine    int      `json:"end_line"`
	Tags       []string `json:"tags"`
	Confidence float64  `json:"confidence"`
}

// MergeChunks folds accepted chunks into the parsed symbol list. Chunks
// below minConfidence or with invalid line ranges are dropped; on any line
// overlap the parser's symbol wins. Accepted chunks become symbols with an
// "embedded:<tag>" kind and the result is returned in source order.
func MergeChunks(symbols []Symbol, chunks []Chunk, minConfidence float64) []Symbol {
	merged := append([]Symbol(nil), symbols...)
	for _, c := range chunks {
		if c.Name == "" || c.Confidence < minConfidence {
			continue
		}
		if c.StartLine < 1 || c.EndLine < c.StartLine {
			continue
		}
		if overlapsAny(merged, c.StartLine, c.EndLine) {
			continue
		}
		merged = append(merged, Symbol{
			Name:      c.Name,
			Kind:      embeddedKind(c),
			StartLine: c.StartLine,
			EndLine:   c.EndLine,
		})
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].StartLine < merged[j].StartLine
	})
	return merged
}

func overlapsAny(symbols []Symbol, start, end int) bool {
	for _, s := range symbols {
		if start <= s.EndLine && s.StartLine <= end {
			return true
		}
	}
	return false
}

func embeddedKind(c Chunk) SymbolKind {
	if len(c.Tags) > 0 {
		return SymbolKind("embedded:" + c.Tags[0])
	}
	return SymbolKind("embedded")
}
