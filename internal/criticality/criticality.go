// Package criticality scores modules by how depended-upon they are.
// It builds a directed graph from the imports recorded on file_index
// documents, collapses it to module granularity and runs PageRank over
// it. The scores land on the matching module_summary documents; the
// pass is additive and the main pipeline never waits on it.
package criticality

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"path"
	"sort"
	"strings"

	"github.com/raglet/raglet/internal/docstore"
)

const (
	damping       = 0.85
	convergence   = 1e-6
	maxIterations = 100
)

// ModuleScore pairs a module path with its PageRank score.
type ModuleScore struct {
	Path  string
	Score float64
}

// Scorer computes and stores criticality scores for one repository at a
// time.
type Scorer struct {
	store  docstore.Store
	logger *slog.Logger
}

// NewScorer returns a Scorer writing through the given store.
func NewScorer(store docstore.Store, logger *slog.Logger) *Scorer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scorer{store: store, logger: logger}
}

// Score builds the repo's module import graph, ranks it and updates each
// module_summary's criticality_score in place. It returns the ranking
// ordered by score descending, ties broken by module path.
func (s *Scorer) Score(ctx context.Context, repoID string) ([]ModuleScore, error) {
	moduleDocs, err := s.store.List(ctx, docstore.Query{RepoID: repoID, Type: docstore.TypeModuleSummary})
	if err != nil {
		return nil, fmt.Errorf("listing modules for %s: %w", repoID, err)
	}
	if len(moduleDocs) == 0 {
		return nil, nil
	}
	files, err := s.store.List(ctx, docstore.Query{RepoID: repoID, Type: docstore.TypeFileIndex})
	if err != nil {
		return nil, fmt.Errorf("listing files for %s: %w", repoID, err)
	}

	modules := make([]string, 0, len(moduleDocs))
	byPath := make(map[string]*docstore.Document, len(moduleDocs))
	for _, doc := range moduleDocs {
		modules = append(modules, doc.ModulePath)
		byPath[doc.ModulePath] = doc
	}
	sort.Strings(modules)

	graph := buildGraph(modules, files)
	ranks := pageRank(graph)

	scores := make([]ModuleScore, 0, len(ranks))
	for p, r := range ranks {
		scores = append(scores, ModuleScore{Path: p, Score: r})
	}
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score > scores[j].Score
		}
		return scores[i].Path < scores[j].Path
	})

	updated := 0
	for _, ms := range scores {
		doc := byPath[ms.Path]
		if doc == nil {
			continue
		}
		if doc.CriticalityScore != nil && *doc.CriticalityScore == ms.Score {
			continue
		}
		score := ms.Score
		doc.CriticalityScore = &score
		if err := s.store.Upsert(ctx, doc); err != nil {
			return scores, fmt.Errorf("updating score for %s: %w", ms.Path, err)
		}
		updated++
	}
	s.logger.Info("criticality.scored", "repo_id", repoID, "modules", len(modules), "updated", updated)
	return scores, nil
}

// graph is a module-level adjacency set: edges[src][dst] for src imports
// dst. Every module appears as a node even with no edges.
type graph struct {
	nodes []string
	edges map[string]map[string]bool
}

// buildGraph collapses per-file imports to directed module-to-module
// edges. Imports that resolve outside the repo's module set are dropped;
// self-edges are dropped too.
func buildGraph(modules []string, files []*docstore.Document) graph {
	g := graph{nodes: modules, edges: make(map[string]map[string]bool, len(modules))}
	moduleSet := make(map[string]bool, len(modules))
	for _, m := range modules {
		moduleSet[m] = true
	}

	for _, doc := range files {
		src := moduleOf(doc.FilePath)
		if !moduleSet[src] {
			continue
		}
		for _, imp := range doc.Metadata.Imports {
			dst := resolveImport(imp, doc.FilePath, doc.Metadata.Language, modules, moduleSet)
			if dst == "" || dst == src {
				continue
			}
			if g.edges[src] == nil {
				g.edges[src] = make(map[string]bool)
			}
			g.edges[src][dst] = true
		}
	}
	return g
}

// moduleOf maps a repo-relative file path to its module path.
func moduleOf(filePath string) string {
	return path.Dir(filePath)
}

// resolveImport maps one import string to a module path in the repo, or
// "" for imports of external packages. Relative imports resolve against
// the importing file; absolute ones fall back to suffix matching, which
// tolerates the repository-qualified prefixes compiled languages use.
func resolveImport(imp, fromFile, language string, modules []string, moduleSet map[string]bool) string {
	imp = strings.TrimSpace(imp)
	if imp == "" {
		return ""
	}

	switch language {
	case "Python":
		imp = resolvePythonImport(imp, fromFile)
	case "JavaScript", "TypeScript", "JSX", "TSX":
		if strings.HasPrefix(imp, ".") {
			imp = path.Join(path.Dir(fromFile), imp)
		}
	}
	if imp == "" {
		return ""
	}
	imp = strings.Trim(path.Clean(strings.ReplaceAll(imp, "\\", "/")), "/")

	if moduleSet[imp] {
		return imp
	}
	// A pathed import often names a file, not a directory; the module is
	// then the file's directory. Bare names like "react" or "fmt" must
	// not fall back to the repo root this way.
	if strings.Contains(imp, "/") {
		if dir := path.Dir(imp); moduleSet[dir] {
			return dir
		}
	}
	return suffixMatch(imp, modules)
}

// resolvePythonImport turns dotted module syntax into a slash path.
// Leading dots walk up from the importing file's package.
func resolvePythonImport(imp, fromFile string) string {
	dots := 0
	for dots < len(imp) && imp[dots] == '.' {
		dots++
	}
	rest := strings.ReplaceAll(imp[dots:], ".", "/")
	if dots == 0 {
		return rest
	}
	base := path.Dir(fromFile)
	for i := 1; i < dots; i++ {
		base = path.Dir(base)
	}
	return path.Join(base, rest)
}

// suffixMatch finds the module whose path the import ends with, exactly
// the trick used to match package-qualified dependency names against
// repo directories. The longest match wins; ties go lexicographic.
func suffixMatch(imp string, modules []string) string {
	best := ""
	for _, m := range modules {
		if m == "." || m == "" {
			continue
		}
		if imp != m && !strings.HasSuffix(imp, "/"+m) {
			continue
		}
		if len(m) > len(best) {
			best = m
		}
	}
	return best
}

// pageRank runs the standard damped iteration over the module graph.
// Dangling mass is redistributed uniformly.
func pageRank(g graph) map[string]float64 {
	n := len(g.nodes)
	if n == 0 {
		return nil
	}

	ranks := make(map[string]float64, n)
	for _, node := range g.nodes {
		ranks[node] = 1.0 / float64(n)
	}

	for iter := 0; iter < maxIterations; iter++ {
		next := make(map[string]float64, n)
		base := (1 - damping) / float64(n)
		for _, node := range g.nodes {
			next[node] = base
		}

		dangling := 0.0
		for _, node := range g.nodes {
			out := g.edges[node]
			if len(out) == 0 {
				dangling += ranks[node]
				continue
			}
			share := damping * ranks[node] / float64(len(out))
			for dst := range out {
				next[dst] += share
			}
		}
		if dangling > 0 {
			spread := damping * dangling / float64(n)
			for _, node := range g.nodes {
				next[node] += spread
			}
		}

		delta := 0.0
		for _, node := range g.nodes {
			delta += math.Abs(next[node] - ranks[node])
		}
		ranks = next
		if delta < convergence {
			break
		}
	}
	return ranks
}
