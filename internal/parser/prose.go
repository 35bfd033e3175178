package parser

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// Section is one heading-delimited span of a prose document. StartLine and
// EndLine are 1-based and inclusive; Content includes the heading line.
type Section struct {
	Heading   string
	StartLine int
	EndLine   int
	Content   string
}

// proseLanguages are the detected languages routed to SplitProse instead of
// the symbol extractors.
var proseLanguages = map[string]bool{
	"Markdown":         true,
	"reStructuredText": true,
	"Text":             true,
}

// IsProse reports whether a detected language is documentation prose.
func IsProse(language string) bool { return proseLanguages[language] }

// SplitProse splits a prose file into sections. Markdown splits on level 1
// and 2 headings (deeper headings stay inside their parent section),
// reStructuredText on underlined titles, and anything else comes back as a
// single section. Blank files yield no sections.
func SplitProse(language string, content []byte) []Section {
	if len(bytes.TrimSpace(content)) == 0 {
		return nil
	}

	lines := splitLines(content)

	var marks []headingMark
	switch language {
	case "Markdown":
		marks = markdownHeadings(content)
	case "reStructuredText":
		marks = restHeadings(lines)
	}

	return assemble(lines, marks)
}

// headingMark records a section boundary: the 1-based line the heading
// starts on and its display text.
type headingMark struct {
	line int
	text string
}

// markdownHeadings locates level 1-2 headings through the markdown AST, so
// heading-shaped text inside fenced code blocks or blockquotes does not
// split the document.
func markdownHeadings(content []byte) []headingMark {
	doc := goldmark.New().Parser().Parse(text.NewReader(content))

	var marks []headingMark
	for node := doc.FirstChild(); node != nil; node = node.NextSibling() {
		h, ok := node.(*ast.Heading)
		if !ok || h.Level > 2 || h.Lines().Len() == 0 {
			continue
		}
		seg := h.Lines().At(0)
		marks = append(marks, headingMark{
			line: 1 + bytes.Count(content[:seg.Start], []byte("\n")),
			text: headingText(seg.Value(content)),
		})
	}
	return marks
}

// headingText cleans one heading line: ATX markers survive in the segment
// for setext headings and trailing closing hashes are legal markdown.
func headingText(raw []byte) string {
	s := strings.TrimSpace(string(raw))
	s = strings.TrimLeft(s, "#")
	s = strings.TrimRight(s, "#")
	return strings.TrimSpace(s)
}

// restAdornments are the punctuation characters reStructuredText accepts
// for title underlines.
const restAdornments = `=-~^"'` + "`" + `:._*+#!$%&(),/;<>?@[\]{|}`

// restHeadings locates underlined titles: a non-blank line followed by a
// line of one repeated adornment character at least as long as the title.
func restHeadings(lines []string) []headingMark {
	var marks []headingMark
	for i := 0; i+1 < len(lines); i++ {
		title := strings.TrimSpace(lines[i])
		if title == "" || isAdornment(lines[i]) {
			continue
		}
		under := strings.TrimRight(lines[i+1], " \t")
		if isAdornment(under) && len(under) >= len(title) {
			marks = append(marks, headingMark{line: i + 1, text: title})
		}
	}
	return marks
}

// isAdornment reports whether the line consists of a single repeated
// adornment character, at least two long.
func isAdornment(line string) bool {
	line = strings.TrimRight(line, " \t")
	if len(line) < 2 {
		return false
	}
	c := line[0]
	if !strings.ContainsRune(restAdornments, rune(c)) {
		return false
	}
	for i := 1; i < len(line); i++ {
		if line[i] != c {
			return false
		}
	}
	return true
}

// assemble slices the file at heading marks. Content before the first
// heading becomes an untitled preamble section when non-blank, and a file
// with no headings becomes one untitled section.
func assemble(lines []string, marks []headingMark) []Section {
	boundaries := append([]headingMark{{line: 1}}, marks...)
	if len(marks) > 0 && marks[0].line == 1 {
		boundaries = boundaries[1:]
	}

	var sections []Section
	for i, b := range boundaries {
		end := len(lines)
		if i+1 < len(boundaries) {
			end = boundaries[i+1].line - 1
		}
		body := strings.Join(lines[b.line-1:end], "\n")
		if strings.TrimSpace(body) == "" {
			continue
		}
		sections = append(sections, Section{
			Heading:   b.text,
			StartLine: b.line,
			EndLine:   end,
			Content:   body,
		})
	}
	return sections
}

// splitLines splits on \n, tolerating CRLF and a missing final newline.
func splitLines(content []byte) []string {
	s := strings.ReplaceAll(string(content), "\r\n", "\n")
	s = strings.TrimSuffix(s, "\n")
	return strings.Split(s, "\n")
}
