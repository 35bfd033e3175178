package parser

import (
	"reflect"
	"strings"
	"testing"
)

func testDetector() *Detector {
	return NewDetector(DetectorConfig{})
}

func hasReason(v Verdict, reason string) bool {
	for _, r := range v.Reasons {
		if r == reason {
			return true
		}
	}
	return false
}

func TestDetectorLargeFileFewSymbols(t *testing.T) {
	content := []byte(strings.Repeat("x", 6000))
	v := testDetector().Inspect("big.py", content, []Symbol{{Name: "only", StartLine: 1, EndLine: 2}})
	if !v.Flagged || !hasReason(v, "large_file_few_symbols") {
		t.Fatalf("verdict = %+v", v)
	}
	if v.Prompt != PromptBusinessLogic {
		t.Errorf("prompt = %s, want %s", v.Prompt, PromptBusinessLogic)
	}
}

func TestDetectorHighLinesPerSymbol(t *testing.T) {
	content := []byte(strings.Repeat("x\n", 300))
	symbols := []Symbol{
		{Name: "a", StartLine: 1, EndLine: 2},
		{Name: "b", StartLine: 3, EndLine: 4},
	}
	v := testDetector().Inspect("dense.py", content, symbols)
	if !v.Flagged || !hasReason(v, "high_lines_per_symbol") {
		t.Fatalf("verdict = %+v", v)
	}
}

func TestDetectorEmbeddedSQL(t *testing.T) {
	content := []byte(`def fetch(db):
    q = """SELECT id, name FROM users WHERE active = 1"""
    return db.run(q)
`)
	symbols := make([]Symbol, 3)
	v := testDetector().Inspect("queries.py", content, symbols)
	if !v.Flagged || !hasReason(v, "embedded_content") {
		t.Fatalf("verdict = %+v", v)
	}
	if v.Prompt != PromptEmbeddedCode {
		t.Errorf("prompt = %s, want %s", v.Prompt, PromptEmbeddedCode)
	}
}

func TestDetectorEmbeddedHTML(t *testing.T) {
	content := []byte(`def page():
    return "<div class='wrap'>hello</div>"
`)
	v := testDetector().Inspect("page.py", content, make([]Symbol, 3))
	if !v.Flagged || !hasReason(v, "embedded_content") {
		t.Fatalf("verdict = %+v", v)
	}
}

func TestDetectorEmbeddedGraphQL(t *testing.T) {
	content := []byte("const q = `query GetUser { user { id } }`;\n")
	v := testDetector().Inspect("api.js", content, make([]Symbol, 3))
	if !v.Flagged || !hasReason(v, "embedded_content") {
		t.Fatalf("verdict = %+v", v)
	}
}

func TestDetectorHeredoc(t *testing.T) {
	content := []byte("deploy() {\n  cat <<EOF\nhello\nEOF\n}\n")
	v := testDetector().Inspect("deploy.sh", content, make([]Symbol, 3))
	if !v.Flagged || !hasReason(v, "embedded_content") {
		t.Fatalf("verdict = %+v", v)
	}
}

func TestDetectorFormatCalls(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 6; i++ {
		b.WriteString("q = template.format(i)\n")
	}
	v := testDetector().Inspect("report.py", []byte(b.String()), make([]Symbol, 3))
	if !v.Flagged || !hasReason(v, "format_calls") {
		t.Fatalf("verdict = %+v", v)
	}

	b.Reset()
	for i := 0; i < 5; i++ {
		b.WriteString("q = template.format(i)\n")
	}
	v = testDetector().Inspect("report.py", []byte(b.String()), make([]Symbol, 3))
	if hasReason(v, "format_calls") {
		t.Fatalf("5 occurrences must not trip the threshold: %+v", v)
	}
}

func TestDetectorHotPath(t *testing.T) {
	content := []byte("routes = build_table()\n")
	v := testDetector().Inspect("internal/user_service.py", content, []Symbol{{Name: "one"}})
	if !v.Flagged || !hasReason(v, "hot_path_few_symbols") {
		t.Fatalf("verdict = %+v", v)
	}
	if v.Prompt != PromptAPIContracts {
		t.Errorf("prompt = %s, want %s", v.Prompt, PromptAPIContracts)
	}

	v = testDetector().Inspect("internal/user_service.py", content, make([]Symbol, 2))
	if hasReason(v, "hot_path_few_symbols") {
		t.Fatalf("two symbols must not trip the hot path rule: %+v", v)
	}
}

func TestDetectorPromptPrecedence(t *testing.T) {
	content := []byte(`q = """SELECT 1"""` + "\n")
	v := testDetector().Inspect("query_handler.py", content, []Symbol{})
	if !v.Flagged {
		t.Fatal("expected flag")
	}
	if v.Prompt != PromptEmbeddedCode {
		t.Errorf("embedded content should pick %s, got %s", PromptEmbeddedCode, v.Prompt)
	}
}

func TestDetectorCleanFile(t *testing.T) {
	content := []byte("def a():\n    pass\n\ndef b():\n    pass\n\ndef c():\n    pass\n")
	v := testDetector().Inspect("clean.py", content, make([]Symbol, 3))
	if v.Flagged {
		t.Fatalf("clean file flagged: %+v", v)
	}
}

func TestDetectorCountsNestedSymbols(t *testing.T) {
	content := []byte(strings.Repeat("x", 6000))
	symbols := []Symbol{{
		Name: "Big",
		Kind: KindClass,
		Methods: []Symbol{
			{Name: "a", Kind: KindMethod},
			{Name: "b", Kind: KindMethod},
		},
	}}
	v := testDetector().Inspect("big.py", content, symbols)
	if hasReason(v, "large_file_few_symbols") {
		t.Fatalf("methods must count toward the symbol total: %+v", v)
	}
}

func TestMergeChunksConfidence(t *testing.T) {
	chunks := []Chunk{
		{Name: "low", StartLine: 1, EndLine: 5, Confidence: 0.5},
		{Name: "high", StartLine: 10, EndLine: 15, Confidence: 0.9, Tags: []string{"sql"}},
	}
	merged := MergeChunks(nil, chunks, 0.7)
	if got := symbolNames(merged); !reflect.DeepEqual(got, []string{"high"}) {
		t.Fatalf("merged = %v", got)
	}
	if merged[0].Kind != SymbolKind("embedded:sql") {
		t.Errorf("kind = %s, want embedded:sql", merged[0].Kind)
	}
}

func TestMergeChunksParserWins(t *testing.T) {
	symbols := []Symbol{{Name: "parsed", Kind: KindFunction, StartLine: 15, EndLine: 25}}
	chunks := []Chunk{
		{Name: "overlap", StartLine: 10, EndLine: 20, Confidence: 0.95},
		{Name: "separate", StartLine: 30, EndLine: 40, Confidence: 0.95},
	}
	merged := MergeChunks(symbols, chunks, 0.7)
	want := []string{"parsed", "separate"}
	if got := symbolNames(merged); !reflect.DeepEqual(got, want) {
		t.Fatalf("merged = %v, want %v", got, want)
	}
}

func TestMergeChunksChunkOverlap(t *testing.T) {
	chunks := []Chunk{
		{Name: "first", StartLine: 1, EndLine: 10, Confidence: 0.8},
		{Name: "second", StartLine: 5, EndLine: 15, Confidence: 0.9},
	}
	merged := MergeChunks(nil, chunks, 0.7)
	if got := symbolNames(merged); !reflect.DeepEqual(got, []string{"first"}) {
		t.Fatalf("merged = %v", got)
	}
}

func TestMergeChunksInvalid(t *testing.T) {
	chunks := []Chunk{
		{Name: "", StartLine: 1, EndLine: 2, Confidence: 0.9},
		{Name: "zero", StartLine: 0, EndLine: 2, Confidence: 0.9},
		{Name: "inverted", StartLine: 9, EndLine: 3, Confidence: 0.9},
	}
	if merged := MergeChunks(nil, chunks, 0.7); len(merged) != 0 {
		t.Fatalf("merged = %v", symbolNames(merged))
	}
}

func TestMergeChunksSourceOrder(t *testing.T) {
	symbols := []Symbol{{Name: "late", Kind: KindFunction, StartLine: 50, EndLine: 60}}
	chunks := []Chunk{
		{Name: "early", StartLine: 1, EndLine: 10, Confidence: 0.9},
		{Name: "untagged", StartLine: 20, EndLine: 30, Confidence: 0.9},
	}
	merged := MergeChunks(symbols, chunks, 0.7)
	want := []string{"early", "untagged", "late"}
	if got := symbolNames(merged); !reflect.DeepEqual(got, want) {
		t.Fatalf("merged = %v, want %v", got, want)
	}
	if merged[1].Kind != SymbolKind("embedded") {
		t.Errorf("untagged kind = %s, want embedded", merged[1].Kind)
	}
}
