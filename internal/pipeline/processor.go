package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Jeffail/tunny"

	"github.com/raglet/raglet/internal/docstore"
	"github.com/raglet/raglet/internal/embeddings"
	"github.com/raglet/raglet/internal/enrich"
	"github.com/raglet/raglet/internal/gitcli"
	"github.com/raglet/raglet/internal/parser"
	"github.com/raglet/raglet/internal/walker"
)

// symbolPreviewBytes is how much symbol source accompanies the summary in
// the embedding input.
const symbolPreviewBytes = 800

// filePrefixLines is how much of the file accompanies its summary in the
// LLM context and the embedding input.
const filePrefixLines = 200

// errStopped aborts the remaining steps of a file when the run is
// draining after a signal.
var errStopped = errors.New("ingestion stopping")

// FileJob is one file to index at a pinned commit. Language may be empty;
// the processor then detects it from the materialized bytes.
type FileJob struct {
	RepoID   string
	Dir      string // clone directory
	RelPath  string // slash-separated path inside the repo
	Language string
	Head     string // repo tip the run is indexing toward
}

// FileStatus is a file's processing outcome.
type FileStatus string

const (
	FileOK      FileStatus = "ok"
	FileSkipped FileStatus = "skip"
	FileError   FileStatus = "err"
	FileStopped FileStatus = "stopped"
)

// FileResult reports one file's outcome. Symbols counts the index entries
// written (symbol documents for code, sections for prose).
type FileResult struct {
	Path    string
	Status  FileStatus
	Reason  string
	Symbols int
	Err     error
}

// processorConfig is the slice of pipeline configuration the per-file
// processor needs.
type processorConfig struct {
	SymbolMinLines     int
	LLMChunking        bool
	MinChunkConfidence float64
}

// processor turns one file at a pinned commit into its file_index and
// symbol_index documents, or into document chunks for prose. It is shared
// by all file workers.
type processor struct {
	git      gitcli.Runner
	cache    *gitcli.CommitCache
	store    docstore.Store
	enricher *enrich.Enricher
	engine   *embeddings.Engine
	detector *parser.Detector
	pool     *tunny.Pool
	cfg      processorConfig
	version  string
	logger   *slog.Logger
	stopped  func() bool
}

// Process indexes one file. Failures come back in the result; the worker
// loop records them and moves on, they never abort the repository.
func (pr *processor) Process(ctx context.Context, job FileJob) FileResult {
	res := FileResult{Path: job.RelPath}
	if pr.stopped() {
		res.Status = FileStopped
		return res
	}

	commit, err := pr.fileCommit(ctx, job)
	if err != nil {
		return pr.failed(res, err)
	}
	if commit == "" {
		res.Status = FileSkipped
		res.Reason = "no commit touches path"
		return res
	}

	// A surviving document at the same pinned commit would get the same
	// content-addressed IDs, so the whole file short-circuits.
	if existing, reason := pr.shortCircuit(ctx, job, commit); existing {
		res.Status = FileSkipped
		res.Reason = reason
		return res
	}

	content, err := pr.git.Show(ctx, job.Dir, commit, job.RelPath)
	if err != nil {
		if gitcli.IsMissingPath(err) {
			return pr.failed(res, fmt.Errorf("not present at %s: %w", shortHash(commit), err))
		}
		return pr.failed(res, err)
	}
	if walker.IsBinary(content) {
		res.Status = FileSkipped
		res.Reason = "binary"
		return res
	}

	language := job.Language
	if language == "" {
		language = walker.DetectLanguage(path.Base(job.RelPath), content)
	}

	if parser.IsProse(language) {
		return pr.processProse(ctx, job, commit, language, content, res)
	}
	return pr.processCode(ctx, job, commit, language, content, res)
}

// fileCommit resolves the last commit that touched the path, through the
// cache when the repo tip is unchanged since the cache entry was written.
func (pr *processor) fileCommit(ctx context.Context, job FileJob) (string, error) {
	if pr.cache != nil {
		if commit, ok := pr.cache.Get(job.RepoID, job.Head, job.RelPath); ok {
			return commit, nil
		}
	}
	commit, err := pr.git.LastCommit(ctx, job.Dir, job.Head, job.RelPath)
	if err != nil {
		return "", fmt.Errorf("resolving commit for %s: %w", job.RelPath, err)
	}
	if pr.cache != nil && commit != "" {
		if err := pr.cache.Put(job.RepoID, job.Head, job.RelPath, commit); err != nil {
			pr.logger.Warn("pipeline.commit_cache_write", "path", job.RelPath, "error", err)
		}
	}
	return commit, nil
}

// shortCircuit reports whether the stored documents for this path already
// sit at the pinned commit, or are protected from updates.
func (pr *processor) shortCircuit(ctx context.Context, job FileJob, commit string) (bool, string) {
	for _, t := range []docstore.Type{docstore.TypeFileIndex, docstore.TypeDocument} {
		doc, err := pr.store.FindOne(ctx, docstore.Query{RepoID: job.RepoID, Type: t, FilePath: job.RelPath})
		if errors.Is(err, docstore.ErrNotFound) {
			continue
		}
		if err != nil {
			pr.logger.Warn("pipeline.short_circuit_lookup", "path", job.RelPath, "error", err)
			return false, ""
		}
		if doc.ProtectFromUpdate {
			return true, "protected"
		}
		if doc.CommitHash == commit {
			return true, "unchanged at " + shortHash(commit)
		}
	}
	return false, ""
}

// processCode runs the parse, enrichment, embedding and persist steps for
// a source file.
func (pr *processor) processCode(ctx context.Context, job FileJob, commit, language string, content []byte, res FileResult) FileResult {
	parsed, err := pr.parse(ctx, job.RelPath, language, content)
	if err != nil {
		return pr.failed(res, fmt.Errorf("parsing: %w", err))
	}
	symbols := parsed.Symbols

	if verdict := pr.detector.Inspect(job.RelPath, content, symbols); verdict.Flagged && pr.cfg.LLMChunking {
		chunks, cerr := pr.enricher.ProposeChunks(ctx, enrich.ChunkRequest{
			Path:     job.RelPath,
			Language: language,
			Code:     string(content),
			Variant:  verdict.Prompt,
		})
		if cerr != nil {
			pr.logger.Warn("pipeline.llm_chunking", "path", job.RelPath, "error", cerr)
		} else {
			symbols = parser.MergeChunks(symbols, chunks, pr.cfg.MinChunkConfidence)
		}
	}
	if pr.stopped() {
		res.Status = FileStopped
		return res
	}

	lines := splitContentLines(content)
	fileID := docstore.NewID(docstore.TypeFileIndex, job.RepoID, job.RelPath, commit)
	moduleID := docstore.NewID(docstore.TypeModuleSummary, job.RepoID, path.Dir(job.RelPath), job.Head)

	flat := flattenSymbols(symbols)
	now := time.Now().UTC()

	var symbolDocs []*docstore.Document
	var embedTexts []string
	for _, fs := range flat {
		if fs.sym.Lines() < pr.cfg.SymbolMinLines {
			continue
		}
		if pr.stopped() {
			res.Status = FileStopped
			return res
		}
		text := sliceLines(lines, fs.sym.StartLine, fs.sym.EndLine)
		reply := pr.enricher.Summarize(ctx, enrich.Request{
			Kind:     enrich.KindSymbol,
			Name:     fs.name,
			Language: language,
			Text:     text,
			Doc:      fs.sym.Docstring,
		})
		symbolDocs = append(symbolDocs, &docstore.Document{
			DocumentID: docstore.NewID(docstore.TypeSymbolIndex, job.RepoID, docstore.SymbolScope(job.RelPath, fs.name), commit),
			Type:       docstore.TypeSymbolIndex,
			RepoID:     job.RepoID,
			CommitHash: commit,
			Content:    reply.Summary,
			ParentID:   fileID,
			FilePath:   job.RelPath,
			SymbolName: fs.name,
			SymbolType: string(fs.sym.Kind),
			Metadata: docstore.Metadata{
				StartLine: fs.sym.StartLine,
				EndLine:   fs.sym.EndLine,
				Docstring: fs.sym.Docstring,
				Methods:   methodNames(fs.sym),
			},
			Quality: docstore.Quality{
				EnrichmentLevel: string(reply.Level),
				LLMAvailable:    reply.LLMAvailable,
				SummarySource:   reply.Source,
			},
			Version: stampVersion(pr.version, now),
		})
		embedTexts = append(embedTexts, reply.Summary+"\n\n"+truncateBytes(text, symbolPreviewBytes))
	}

	prefix := sliceLines(lines, 1, filePrefixLines)
	fileText := prefix
	if len(symbolDocs) > 0 {
		var summaries []string
		for _, doc := range symbolDocs {
			summaries = append(summaries, doc.SymbolName+": "+doc.Content)
		}
		fileText = strings.Join(summaries, "\n") + "\n\n" + prefix
	}
	fileReply := pr.enricher.Summarize(ctx, enrich.Request{
		Kind:        enrich.KindFile,
		Name:        job.RelPath,
		Language:    language,
		Text:        fileText,
		SymbolNames: symbolNamesOf(flat),
		Doc:         parsed.ModuleDoc,
	})
	embedTexts = append(embedTexts, fileReply.Summary+"\n\n"+prefix)

	vectors, err := pr.engine.EmbedDocuments(ctx, embedTexts)
	if err != nil {
		return pr.failed(res, fmt.Errorf("embedding: %w", err))
	}

	childIDs := make([]string, len(symbolDocs))
	for i, doc := range symbolDocs {
		doc.Embedding = vectors[i]
		childIDs[i] = doc.DocumentID
	}
	fileDoc := &docstore.Document{
		DocumentID:  fileID,
		Type:        docstore.TypeFileIndex,
		RepoID:      job.RepoID,
		CommitHash:  commit,
		Content:     fileReply.Summary,
		Embedding:   vectors[len(vectors)-1],
		ParentID:    moduleID,
		ChildrenIDs: childIDs,
		FilePath:    job.RelPath,
		Metadata: docstore.Metadata{
			Language:  language,
			LineCount: len(lines),
			Imports:   parsed.Imports,
			Symbols:   symbolTable(flat, pr.cfg.SymbolMinLines),
		},
		Quality: docstore.Quality{
			EnrichmentLevel: string(fileReply.Level),
			LLMAvailable:    fileReply.LLMAvailable,
			SummarySource:   fileReply.Source,
		},
		Version: stampVersion(pr.version, now),
	}

	if err := pr.replace(ctx, job, symbolDocs, fileDoc); err != nil {
		return pr.failed(res, err)
	}
	if parsed.Skipped > 0 {
		res.Reason = fmt.Sprintf("%d unnamed declarations skipped", parsed.Skipped)
	}
	res.Status = FileOK
	res.Symbols = len(symbolDocs)
	return res
}

// processProse splits documentation into sections and writes one document
// chunk per section. No LLM is involved.
func (pr *processor) processProse(ctx context.Context, job FileJob, commit, language string, content []byte, res FileResult) FileResult {
	sections := parser.SplitProse(language, content)
	if len(sections) == 0 {
		res.Status = FileSkipped
		res.Reason = "blank"
		return res
	}

	texts := make([]string, len(sections))
	for i, s := range sections {
		texts[i] = s.Content
	}
	vectors, err := pr.engine.EmbedDocuments(ctx, texts)
	if err != nil {
		return pr.failed(res, fmt.Errorf("embedding: %w", err))
	}

	moduleID := docstore.NewID(docstore.TypeModuleSummary, job.RepoID, path.Dir(job.RelPath), job.Head)
	now := time.Now().UTC()
	docs := make([]*docstore.Document, len(sections))
	for i, s := range sections {
		docs[i] = &docstore.Document{
			DocumentID: docstore.NewID(docstore.TypeDocument, job.RepoID, docstore.ChunkScope(job.RelPath, i), commit),
			Type:       docstore.TypeDocument,
			RepoID:     job.RepoID,
			CommitHash: commit,
			Content:    s.Content,
			Embedding:  vectors[i],
			ParentID:   moduleID,
			FilePath:   job.RelPath,
			Section:    s.Heading,
			Metadata: docstore.Metadata{
				Language:  language,
				StartLine: s.StartLine,
				EndLine:   s.EndLine,
			},
			Quality: docstore.Quality{
				EnrichmentLevel: string(enrich.LevelNone),
				LLMAvailable:    true,
			},
			Version: stampVersion(pr.version, now),
		}
	}

	if err := pr.purgePath(ctx, job.RepoID, job.RelPath); err != nil {
		return pr.failed(res, err)
	}
	for _, doc := range docs {
		if err := pr.store.Upsert(ctx, doc); err != nil {
			return pr.failed(res, fmt.Errorf("writing chunk %s: %w", doc.DocumentID, err))
		}
	}
	res.Status = FileOK
	res.Symbols = len(docs)
	return res
}

// replace atomically swaps the path's documents: prior generations are
// deleted first so no orphan symbol rows survive a changed file id, then
// symbols are written before the file document that lists them.
func (pr *processor) replace(ctx context.Context, job FileJob, symbolDocs []*docstore.Document, fileDoc *docstore.Document) error {
	if err := pr.purgePath(ctx, job.RepoID, job.RelPath); err != nil {
		return err
	}
	for _, doc := range symbolDocs {
		if err := pr.store.Upsert(ctx, doc); err != nil {
			return fmt.Errorf("writing symbol %s: %w", doc.SymbolName, err)
		}
	}
	if err := pr.store.Upsert(ctx, fileDoc); err != nil {
		return fmt.Errorf("writing file document: %w", err)
	}
	return nil
}

// purgePath removes every document any prior generation wrote for the
// path, whatever shape the file had then.
func (pr *processor) purgePath(ctx context.Context, repoID, relPath string) error {
	for _, t := range []docstore.Type{docstore.TypeSymbolIndex, docstore.TypeFileIndex, docstore.TypeDocument} {
		if _, err := pr.store.DeleteByQuery(ctx, docstore.Query{RepoID: repoID, Type: t, FilePath: relPath}); err != nil {
			return fmt.Errorf("purging %s documents: %w", t, err)
		}
	}
	return nil
}

// parse runs the extraction on the CPU-bound worker pool.
func (pr *processor) parse(ctx context.Context, relPath, language string, content []byte) (parser.Result, error) {
	out, err := pr.pool.ProcessCtx(ctx, parseTask{
		ctx:      ctx,
		path:     relPath,
		language: language,
		content:  content,
	})
	if err != nil {
		return parser.Result{}, err
	}
	parsed := out.(parseOut)
	return parsed.result, parsed.err
}

func (pr *processor) failed(res FileResult, err error) FileResult {
	res.Status = FileError
	res.Err = err
	return res
}

// parseTask is one parse request handed to the worker pool.
type parseTask struct {
	ctx      context.Context
	path     string
	language string
	content  []byte
}

type parseOut struct {
	result parser.Result
	err    error
}

// flatSymbol pairs a symbol with its qualified name. Go methods arrive
// pre-qualified from the extractor; class members get "Class.method".
type flatSymbol struct {
	sym  parser.Symbol
	name string
}

func flattenSymbols(symbols []parser.Symbol) []flatSymbol {
	var flat []flatSymbol
	for _, s := range symbols {
		flat = append(flat, flatSymbol{sym: s, name: s.Name})
		for _, m := range s.Methods {
			flat = append(flat, flatSymbol{sym: m, name: s.Name + "." + m.Name})
		}
	}
	return flat
}

func methodNames(s parser.Symbol) []string {
	if len(s.Methods) == 0 {
		return nil
	}
	names := make([]string, len(s.Methods))
	for i, m := range s.Methods {
		names[i] = m.Name
	}
	return names
}

func symbolNamesOf(flat []flatSymbol) []string {
	names := make([]string, len(flat))
	for i, fs := range flat {
		names[i] = fs.name
	}
	return names
}

// symbolTable builds the file's full symbol listing, significant or not.
func symbolTable(flat []flatSymbol, minLines int) []docstore.SymbolMeta {
	table := make([]docstore.SymbolMeta, len(flat))
	for i, fs := range flat {
		table[i] = docstore.SymbolMeta{
			Name:        fs.name,
			Kind:        string(fs.sym.Kind),
			StartLine:   fs.sym.StartLine,
			EndLine:     fs.sym.EndLine,
			Significant: fs.sym.Lines() >= minLines,
		}
	}
	return table
}

func splitContentLines(content []byte) []string {
	s := strings.ReplaceAll(string(content), "\r\n", "\n")
	s = strings.TrimSuffix(s, "\n")
	return strings.Split(s, "\n")
}

// sliceLines joins the 1-based inclusive line range, clamped to the file.
func sliceLines(lines []string, start, end int) string {
	if start < 1 {
		start = 1
	}
	if end > len(lines) {
		end = len(lines)
	}
	if start > end {
		return ""
	}
	return strings.Join(lines[start-1:end], "\n")
}

// truncateBytes cuts s to at most n bytes without splitting a rune.
func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func shortHash(commit string) string {
	if len(commit) > 12 {
		return commit[:12]
	}
	return commit
}
