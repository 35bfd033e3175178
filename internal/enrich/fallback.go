package enrich

import (
	"fmt"
	"sort"
	"strings"
)

// FallbackSummary builds the deterministic summary used when no LLM summary
// can be produced. It relies only on structural metadata already extracted
// from the repository.
func FallbackSummary(req Request) string {
	switch req.Kind {
	case KindSymbol:
		if s := firstSentence(req.Doc); s != "" {
			return s
		}
		return fmt.Sprintf("Code symbol %s.", req.Name)
	case KindFile:
		var parts []string
		if len(req.SymbolNames) > 0 {
			parts = append(parts, "Defines "+strings.Join(req.SymbolNames, ", ")+".")
		}
		if s := firstSentence(req.Doc); s != "" {
			parts = append(parts, s)
		}
		if len(parts) == 0 {
			return fmt.Sprintf("Source file %s.", req.Name)
		}
		return strings.Join(parts, " ")
	case KindModule:
		if len(req.KeyFiles) > 0 {
			return "Module with key files: " + strings.Join(req.KeyFiles, ", ") + "."
		}
		return fmt.Sprintf("Module %s.", req.Name)
	default:
		var parts []string
		if len(req.Languages) > 0 {
			parts = append(parts, "Languages: "+formatHistogram(req.Languages)+".")
		}
		if len(req.TopDirs) > 0 {
			parts = append(parts, "Top-level directories: "+strings.Join(req.TopDirs, ", ")+".")
		}
		if len(parts) == 0 {
			return fmt.Sprintf("Repository %s.", req.Name)
		}
		return strings.Join(parts, " ")
	}
}

// formatHistogram renders a language histogram as "Go (12), Python (4)",
// ordered by count descending, then name.
func formatHistogram(counts map[string]int) string {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if counts[names[i]] != counts[names[j]] {
			return counts[names[i]] > counts[names[j]]
		}
		return names[i] < names[j]
	})
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s (%d)", name, counts[name])
	}
	return strings.Join(parts, ", ")
}

// firstSentence returns the text up to and including the first sentence
// terminator, or the first line when there is none.
func firstSentence(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	for i := 0; i < len(s)-1; i++ {
		if s[i] == '.' && (s[i+1] == ' ' || s[i+1] == '\n') {
			return s[:i+1]
		}
	}
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}
