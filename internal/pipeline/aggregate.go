package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/raglet/raglet/internal/docstore"
	"github.com/raglet/raglet/internal/embeddings"
	"github.com/raglet/raglet/internal/enrich"
)

// chunkInputBytes bounds how much of a prose section feeds the module
// summary prompt.
const chunkInputBytes = 300

// keyFileCount is how many file names a module summary carries as
// metadata.
const keyFileCount = 5

// aggregator rolls file documents up into module summaries and the repo
// summary. It works leaves-first off the store's current state, so full
// and surgical runs share one code path.
type aggregator struct {
	store    docstore.Store
	enricher *enrich.Enricher
	engine   *embeddings.Engine
	version  string
	logger   *slog.Logger
	stopped  func() bool
}

// dirNode is one directory of the minimal tree: every directory holding
// at least one indexed file, plus all ancestors up to the repo root ".".
type dirNode struct {
	path    string
	files   []*docstore.Document
	chunks  []*docstore.Document
	subdirs []string
}

// moduleResult is the aggregation outcome for one directory.
type moduleResult struct {
	doc       *docstore.Document
	summary   string
	fileCount int
	reused    bool
}

// Aggregate regenerates the summaries above the repo's current file
// documents. Directories whose child-ID set is unchanged keep their
// existing document untouched; everything on a changed path is rewritten
// at the new head and stale module documents are swept away.
func (a *aggregator) Aggregate(ctx context.Context, repoID, head string) error {
	files, err := a.store.List(ctx, docstore.Query{RepoID: repoID, Type: docstore.TypeFileIndex})
	if err != nil {
		return fmt.Errorf("listing file documents: %w", err)
	}
	chunks, err := a.store.List(ctx, docstore.Query{RepoID: repoID, Type: docstore.TypeDocument})
	if err != nil {
		return fmt.Errorf("listing prose chunks: %w", err)
	}

	tree := buildTree(files, chunks)
	results := make(map[string]moduleResult, len(tree))
	for _, node := range orderDeepestFirst(tree) {
		if a.stopped() {
			return errStopped
		}
		res, err := a.module(ctx, repoID, head, node, results)
		if err != nil {
			return fmt.Errorf("module %s: %w", node.path, err)
		}
		results[node.path] = res
	}

	if err := a.sweepModules(ctx, repoID, tree); err != nil {
		return err
	}
	return a.repoSummary(ctx, repoID, head, tree, results, files, chunks)
}

// module produces the summary document for one directory, reusing the
// stored one when its child-ID set is bit-identical.
func (a *aggregator) module(ctx context.Context, repoID, head string, node *dirNode, results map[string]moduleResult) (moduleResult, error) {
	sortDocs(node.files)
	sortDocs(node.chunks)
	sort.Strings(node.subdirs)

	fileCount := len(node.files) + countDistinctPaths(node.chunks)
	childIDs := make([]string, 0, len(node.files)+len(node.chunks)+len(node.subdirs))
	for _, f := range node.files {
		childIDs = append(childIDs, f.DocumentID)
	}
	for _, c := range node.chunks {
		childIDs = append(childIDs, c.DocumentID)
	}
	for _, sub := range node.subdirs {
		childIDs = append(childIDs, results[sub].doc.DocumentID)
		fileCount += results[sub].fileCount
	}
	sort.Strings(childIDs)

	existing, err := a.store.FindOne(ctx, docstore.Query{RepoID: repoID, Type: docstore.TypeModuleSummary, ModulePath: node.path})
	if errors.Is(err, docstore.ErrNotFound) {
		existing = nil
	} else if err != nil {
		return moduleResult{}, fmt.Errorf("looking up stored summary: %w", err)
	}

	if existing != nil && sameIDSet(existing.ChildrenIDs, childIDs) && existing.Content != "" {
		return moduleResult{doc: existing, summary: existing.Content, fileCount: fileCount, reused: true}, nil
	}

	keyFiles := keyFilesOf(node.files)
	reply := a.enricher.Summarize(ctx, enrich.Request{
		Kind:     enrich.KindModule,
		Name:     node.path,
		Text:     a.moduleInput(node, results),
		KeyFiles: keyFiles,
	})
	vectors, err := a.engine.EmbedDocuments(ctx, []string{reply.Summary})
	if err != nil {
		return moduleResult{}, fmt.Errorf("embedding summary: %w", err)
	}

	newID := docstore.NewID(docstore.TypeModuleSummary, repoID, node.path, head)
	parentID := docstore.NewID(docstore.TypeRepoSummary, repoID, "", head)
	if node.path != "." {
		parentID = docstore.NewID(docstore.TypeModuleSummary, repoID, path.Dir(node.path), head)
	}
	doc := &docstore.Document{
		DocumentID:  newID,
		Type:        docstore.TypeModuleSummary,
		RepoID:      repoID,
		CommitHash:  head,
		Content:     reply.Summary,
		Embedding:   vectors[0],
		ParentID:    parentID,
		ChildrenIDs: childIDs,
		ModulePath:  node.path,
		Metadata: docstore.Metadata{
			FileCount: fileCount,
			KeyFiles:  keyFiles,
		},
		Quality: docstore.Quality{
			EnrichmentLevel: string(reply.Level),
			LLMAvailable:    reply.LLMAvailable,
			SummarySource:   reply.Source,
		},
		Version: stampVersion(a.version, time.Now().UTC()),
	}
	if existing != nil {
		// Curated scores survive regeneration until the next backfill.
		doc.CriticalityScore = existing.CriticalityScore
		if _, err := a.store.DeleteByQuery(ctx, docstore.Query{RepoID: repoID, Type: docstore.TypeModuleSummary, ModulePath: node.path}); err != nil {
			return moduleResult{}, fmt.Errorf("deleting stale summary: %w", err)
		}
	}
	if err := a.store.Upsert(ctx, doc); err != nil {
		return moduleResult{}, fmt.Errorf("writing summary: %w", err)
	}

	if err := a.repointChildren(ctx, node, results, newID); err != nil {
		return moduleResult{}, err
	}
	return moduleResult{doc: doc, summary: reply.Summary, fileCount: fileCount}, nil
}

// repointChildren repairs the parent link of children that survived from
// an earlier generation and still name the replaced module document.
func (a *aggregator) repointChildren(ctx context.Context, node *dirNode, results map[string]moduleResult, parentID string) error {
	relink := func(doc *docstore.Document) error {
		if doc.ParentID == parentID {
			return nil
		}
		doc.ParentID = parentID
		if err := a.store.Upsert(ctx, doc); err != nil {
			return fmt.Errorf("repointing %s: %w", doc.DocumentID, err)
		}
		return nil
	}

	for _, f := range node.files {
		if err := relink(f); err != nil {
			return err
		}
	}
	for _, c := range node.chunks {
		if err := relink(c); err != nil {
			return err
		}
	}
	for _, sub := range node.subdirs {
		if err := relink(results[sub].doc); err != nil {
			return err
		}
	}
	return nil
}

// moduleInput renders the child summaries fed to the module prompt. Prose
// chunks have no summary of their own, so a bounded excerpt stands in.
func (a *aggregator) moduleInput(node *dirNode, results map[string]moduleResult) string {
	var lines []string
	for _, sub := range node.subdirs {
		lines = append(lines, sub+"/: "+results[sub].summary)
	}
	for _, f := range node.files {
		lines = append(lines, path.Base(f.FilePath)+": "+f.Content)
	}
	for _, c := range node.chunks {
		label := path.Base(c.FilePath)
		if c.Section != "" {
			label += " § " + c.Section
		}
		lines = append(lines, label+": "+truncateBytes(c.Content, chunkInputBytes))
	}
	return strings.Join(lines, "\n")
}

// repoSummary collates the root module into the repository document. A
// run whose aggregation changed nothing leaves the stored summary (and
// its recorded commit) alone, so an ineffective update is retried.
func (a *aggregator) repoSummary(ctx context.Context, repoID, head string, tree map[string]*dirNode, results map[string]moduleResult, files, chunks []*docstore.Document) error {
	existing, err := a.store.FindOne(ctx, docstore.Query{RepoID: repoID, Type: docstore.TypeRepoSummary})
	if errors.Is(err, docstore.ErrNotFound) {
		existing = nil
	} else if err != nil {
		return fmt.Errorf("looking up repo summary: %w", err)
	}

	root, hasRoot := results["."]
	if hasRoot && root.reused && existing != nil && existing.Content != "" &&
		sameIDSet(existing.ChildrenIDs, []string{root.doc.DocumentID}) {
		return nil
	}

	languages := languageHistogram(files)
	modules := firstLevelModules(tree)
	topDirs := firstLevelDirs(tree)

	var inputs []string
	if hasRoot {
		inputs = append(inputs, "./: "+root.summary)
		for _, sub := range tree["."].subdirs {
			inputs = append(inputs, sub+"/: "+results[sub].summary)
		}
	}
	reply := a.enricher.Summarize(ctx, enrich.Request{
		Kind:      enrich.KindRepo,
		Name:      repoID,
		Text:      strings.Join(inputs, "\n"),
		Languages: languages,
		TopDirs:   topDirs,
	})
	vectors, err := a.engine.EmbedDocuments(ctx, []string{reply.Summary})
	if err != nil {
		return fmt.Errorf("embedding repo summary: %w", err)
	}

	doc := &docstore.Document{
		DocumentID: docstore.NewID(docstore.TypeRepoSummary, repoID, "", head),
		Type:       docstore.TypeRepoSummary,
		RepoID:     repoID,
		CommitHash: head,
		Content:    reply.Summary,
		Embedding:  vectors[0],
		Metadata: docstore.Metadata{
			TotalFiles: len(files) + countDistinctPaths(chunks),
			Modules:    modules,
			TechStack:  techStack(languages),
		},
		Quality: docstore.Quality{
			EnrichmentLevel: string(reply.Level),
			LLMAvailable:    reply.LLMAvailable,
			SummarySource:   reply.Source,
		},
		Version: stampVersion(a.version, time.Now().UTC()),
	}
	if hasRoot {
		doc.ChildrenIDs = []string{root.doc.DocumentID}
	}

	// At most one repo_summary per repo.
	if existing != nil {
		if _, err := a.store.DeleteByQuery(ctx, docstore.Query{RepoID: repoID, Type: docstore.TypeRepoSummary}); err != nil {
			return fmt.Errorf("deleting stale repo summary: %w", err)
		}
	}
	if err := a.store.Upsert(ctx, doc); err != nil {
		return fmt.Errorf("writing repo summary: %w", err)
	}

	if hasRoot && root.doc.ParentID != doc.DocumentID {
		root.doc.ParentID = doc.DocumentID
		if err := a.store.Upsert(ctx, root.doc); err != nil {
			return fmt.Errorf("repointing root module: %w", err)
		}
	}
	a.logger.Info("pipeline.aggregated",
		"repo_id", repoID,
		"commit", shortHash(head),
		"modules", len(results),
		"total_files", doc.Metadata.TotalFiles)
	return nil
}

// sweepModules deletes module documents for directories no longer in the
// tree, which is how deleted or renamed-away directories disappear.
func (a *aggregator) sweepModules(ctx context.Context, repoID string, tree map[string]*dirNode) error {
	mods, err := a.store.List(ctx, docstore.Query{RepoID: repoID, Type: docstore.TypeModuleSummary})
	if err != nil {
		return fmt.Errorf("listing module summaries: %w", err)
	}
	for _, mod := range mods {
		if _, ok := tree[mod.ModulePath]; ok {
			continue
		}
		if _, err := a.store.DeleteByQuery(ctx, docstore.Query{RepoID: repoID, Type: docstore.TypeModuleSummary, ModulePath: mod.ModulePath}); err != nil {
			return fmt.Errorf("sweeping module %s: %w", mod.ModulePath, err)
		}
		a.logger.Info("pipeline.module_swept", "repo_id", repoID, "module", mod.ModulePath)
	}
	return nil
}

// buildTree groups documents by directory and closes the set over
// ancestors, so intermediate directories with only sub-modules still get
// a summary.
func buildTree(files, chunks []*docstore.Document) map[string]*dirNode {
	tree := make(map[string]*dirNode)
	var ensure func(p string) *dirNode
	ensure = func(p string) *dirNode {
		if n, ok := tree[p]; ok {
			return n
		}
		n := &dirNode{path: p}
		tree[p] = n
		if p != "." {
			parent := ensure(path.Dir(p))
			parent.subdirs = append(parent.subdirs, p)
		}
		return n
	}
	for _, f := range files {
		n := ensure(path.Dir(f.FilePath))
		n.files = append(n.files, f)
	}
	for _, c := range chunks {
		n := ensure(path.Dir(c.FilePath))
		n.chunks = append(n.chunks, c)
	}
	return tree
}

// orderDeepestFirst sorts so every directory is handled after all its
// descendants.
func orderDeepestFirst(tree map[string]*dirNode) []*dirNode {
	nodes := make([]*dirNode, 0, len(tree))
	for _, n := range tree {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool {
		di, dj := dirDepth(nodes[i].path), dirDepth(nodes[j].path)
		if di != dj {
			return di > dj
		}
		return nodes[i].path < nodes[j].path
	})
	return nodes
}

func dirDepth(p string) int {
	if p == "." {
		return 0
	}
	return strings.Count(p, "/") + 1
}

// firstLevelModules lists the repo's top-level module names: "." when the
// root itself holds files, plus every depth-one directory.
func firstLevelModules(tree map[string]*dirNode) []string {
	var out []string
	if root, ok := tree["."]; ok && (len(root.files) > 0 || len(root.chunks) > 0) {
		out = append(out, ".")
	}
	for p := range tree {
		if dirDepth(p) == 1 {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

func firstLevelDirs(tree map[string]*dirNode) []string {
	var out []string
	for p := range tree {
		if dirDepth(p) == 1 {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

func languageHistogram(files []*docstore.Document) map[string]int {
	hist := make(map[string]int)
	for _, f := range files {
		if f.Metadata.Language != "" {
			hist[f.Metadata.Language]++
		}
	}
	return hist
}

// techStack orders the detected languages by frequency.
func techStack(hist map[string]int) []string {
	out := make([]string, 0, len(hist))
	for lang := range hist {
		out = append(out, lang)
	}
	sort.Slice(out, func(i, j int) bool {
		if hist[out[i]] != hist[out[j]] {
			return hist[out[i]] > hist[out[j]]
		}
		return out[i] < out[j]
	})
	return out
}

func keyFilesOf(files []*docstore.Document) []string {
	ranked := append([]*docstore.Document(nil), files...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Metadata.LineCount > ranked[j].Metadata.LineCount
	})
	if len(ranked) > keyFileCount {
		ranked = ranked[:keyFileCount]
	}
	out := make([]string, len(ranked))
	for i, f := range ranked {
		out[i] = path.Base(f.FilePath)
	}
	return out
}

func countDistinctPaths(docs []*docstore.Document) int {
	seen := make(map[string]bool)
	for _, d := range docs {
		seen[d.FilePath] = true
	}
	return len(seen)
}

func sortDocs(docs []*docstore.Document) {
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].FilePath != docs[j].FilePath {
			return docs[i].FilePath < docs[j].FilePath
		}
		return docs[i].Metadata.StartLine < docs[j].Metadata.StartLine
	})
}

func sameIDSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

func stampVersion(version string, now time.Time) docstore.Version {
	return docstore.Version{
		SchemaVersion:   docstore.SchemaVersion,
		PipelineVersion: version,
		CreatedAt:       now,
	}
}
