// Package parser extracts symbols from source files using tree-sitter
// grammars. Files in languages without a grammar yield an empty result so
// callers can still index them at file granularity.
package parser

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// SymbolKind classifies an extracted symbol.
type SymbolKind string

const (
	KindFunction SymbolKind = "function"
	KindClass    SymbolKind = "class"
	KindMethod   SymbolKind = "method"
)

// Symbol is a named declaration extracted from source. Nested definitions
// appear under their enclosing class's Methods, never flattened.
type Symbol struct {
	Name      string     `json:"name"`
	Kind      SymbolKind `json:"kind"`
	StartLine int        `json:"start_line"`
	EndLine   int        `json:"end_line"`
	Docstring string     `json:"docstring,omitempty"`
	Methods   []Symbol   `json:"methods,omitempty"`
}

// Lines returns the inclusive line count spanned by the symbol.
func (s Symbol) Lines() int { return s.EndLine - s.StartLine + 1 }

// Result holds everything extracted from one source file. ModuleDoc is the
// file-level docstring or leading comment, if any. Skipped counts
// declarations whose name could not be determined; they are never reported
// under a placeholder name.
type Result struct {
	Symbols   []Symbol
	Imports   []string
	ModuleDoc string
	Skipped   int
}

// Parser parses source files. It is safe for concurrent use; tree-sitter
// parser instances are pooled per language.
type Parser struct {
	logger *slog.Logger

	initOnce sync.Once
	pools    map[string]*sync.Pool
}

// New returns a Parser that logs through the given logger.
func New(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{logger: logger}
}

func (p *Parser) init() {
	grammars := map[string]*sitter.Language{
		"Go":         golang.GetLanguage(),
		"Python":     python.GetLanguage(),
		"JavaScript": javascript.GetLanguage(),
		"JSX":        javascript.GetLanguage(),
		"TypeScript": typescript.GetLanguage(),
		"TSX":        tsx.GetLanguage(),
	}
	p.pools = make(map[string]*sync.Pool, len(grammars))
	for name, lang := range grammars {
		lang := lang
		p.pools[name] = &sync.Pool{New: func() any {
			sp := sitter.NewParser()
			sp.SetLanguage(lang)
			return sp
		}}
	}
}

// Supported reports whether a grammar exists for the given language name as
// produced by language detection.
func (p *Parser) Supported(language string) bool {
	p.initOnce.Do(p.init)
	_, ok := p.pools[language]
	return ok
}

// Parse extracts symbols and imports from content. Line numbers are
// byte-accurate with respect to the bytes passed in, which must come from
// the pinned commit, not the working tree. Unsupported languages return an
// empty Result and no error.
func (p *Parser) Parse(ctx context.Context, path, language string, content []byte) (Result, error) {
	p.initOnce.Do(p.init)

	pool, ok := p.pools[language]
	if !ok {
		return Result{}, nil
	}

	sp := pool.Get().(*sitter.Parser)
	defer pool.Put(sp)

	tree, err := sp.ParseCtx(ctx, nil, content)
	if err != nil {
		return Result{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		p.logger.Warn("parser.syntax_errors",
			"path", path,
			"language", language,
			"count", countErrors(root))
	}

	var res Result
	switch language {
	case "Go":
		res = extractGo(root, content)
	case "Python":
		res = extractPython(root, content)
	case "JavaScript", "JSX":
		res = extractJavaScript(root, content)
	case "TypeScript", "TSX":
		res = extractTypeScript(root, content)
	}
	res.ModuleDoc = bodyDocstring(root, content)

	if res.Skipped > 0 {
		p.logger.Warn("parser.unnamed_symbols_skipped",
			"path", path,
			"count", res.Skipped)
	}
	return res, nil
}

func countErrors(node *sitter.Node) int {
	count := 0
	if node.Type() == "ERROR" {
		count++
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		count += countErrors(node.Child(i))
	}
	return count
}

func nodeText(n *sitter.Node, src []byte) string {
	return string(src[n.StartByte():n.EndByte()])
}

func lineSpan(n *sitter.Node) (int, int) {
	return int(n.StartPoint().Row) + 1, int(n.EndPoint().Row) + 1
}

// bodyDocstring returns the first string or comment statement inside a body
// node, if any, cleaned of quotes and comment markers.
func bodyDocstring(body *sitter.Node, src []byte) string {
	if body == nil || body.NamedChildCount() == 0 {
		return ""
	}
	first := body.NamedChild(0)
	switch first.Type() {
	case "comment":
		return cleanComment(nodeText(first, src))
	case "expression_statement":
		if first.NamedChildCount() == 0 {
			return ""
		}
		expr := first.NamedChild(0)
		if t := expr.Type(); t == "string" || t == "template_string" {
			return trimStringQuotes(nodeText(expr, src))
		}
	}
	return ""
}

func cleanComment(text string) string {
	text = strings.TrimSpace(text)
	switch {
	case strings.HasPrefix(text, "/*"):
		text = strings.TrimSuffix(strings.TrimPrefix(text, "/*"), "*/")
	case strings.HasPrefix(text, "//"):
		text = strings.TrimPrefix(text, "//")
	case strings.HasPrefix(text, "#"):
		text = strings.TrimPrefix(text, "#")
	}
	return strings.TrimSpace(text)
}

func trimStringQuotes(text string) string {
	// Prefixes like r"..." or f'...' sit before the opening quote.
	for len(text) > 0 && text[0] != '"' && text[0] != '\'' && text[0] != '`' {
		text = text[1:]
	}
	for _, q := range []string{`"""`, "'''", `"`, "'", "`"} {
		if len(text) >= 2*len(q) && strings.HasPrefix(text, q) && strings.HasSuffix(text, q) {
			return strings.TrimSpace(text[len(q) : len(text)-len(q)])
		}
	}
	return strings.TrimSpace(text)
}
