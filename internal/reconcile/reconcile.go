// Package reconcile decides per-repository work: which repos to clone,
// process, purge or leave alone, and for repos already indexed, how much
// of them an update must reprocess.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/raglet/raglet/internal/docstore"
	"github.com/raglet/raglet/internal/gitcli"
)

// ActionKind is the planned step for one repository.
type ActionKind string

const (
	// ActionClone clones the repo and then processes it.
	ActionClone ActionKind = "clone"
	// ActionProcess hands an existing clone to the change detector.
	ActionProcess ActionKind = "process"
	// ActionDeleteIndexed purges every document the repo owns.
	ActionDeleteIndexed ActionKind = "delete_indexed"
	// ActionIgnore marks an orphan clone; its files are never deleted.
	ActionIgnore ActionKind = "ignore"
)

// Action pairs a repository with its planned step.
type Action struct {
	RepoID string
	Kind   ActionKind
	Reason string
}

// Planner derives the action list from the desired, on-disk and indexed
// repository sets.
type Planner struct {
	store     docstore.Store
	reposPath string
	apiURL    string
	reposFile string
	client    *http.Client
	logger    *slog.Logger
}

// NewPlanner returns a Planner. apiURL and reposFile may be empty; the
// desired set then falls back to the clone directory listing.
func NewPlanner(store docstore.Store, reposPath, apiURL, reposFile string, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{
		store:     store,
		reposPath: reposPath,
		apiURL:    apiURL,
		reposFile: reposFile,
		client:    &http.Client{Timeout: 30 * time.Second},
		logger:    logger,
	}
}

// Plan computes one action per repository in the union of the three sets,
// ordered by repository id.
func (p *Planner) Plan(ctx context.Context) ([]Action, error) {
	desired, err := p.desiredSet(ctx)
	if err != nil {
		return nil, err
	}
	disk, err := p.diskSet()
	if err != nil {
		return nil, err
	}
	indexed, err := p.indexedSet(ctx)
	if err != nil {
		return nil, err
	}

	union := map[string]bool{}
	for id := range desired {
		union[id] = true
	}
	for id := range disk {
		union[id] = true
	}
	for id := range indexed {
		union[id] = true
	}
	ids := make([]string, 0, len(union))
	for id := range union {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	actions := make([]Action, 0, len(ids))
	for _, id := range ids {
		switch {
		case desired[id] && !disk[id]:
			actions = append(actions, Action{RepoID: id, Kind: ActionClone, Reason: "not on disk"})
		case desired[id] && !indexed[id]:
			actions = append(actions, Action{RepoID: id, Kind: ActionProcess, Reason: "not indexed"})
		case desired[id]:
			actions = append(actions, Action{RepoID: id, Kind: ActionProcess, Reason: "change detection decides"})
		case indexed[id]:
			actions = append(actions, Action{RepoID: id, Kind: ActionDeleteIndexed, Reason: "removed from desired set"})
		default:
			actions = append(actions, Action{RepoID: id, Kind: ActionIgnore, Reason: "orphan clone"})
		}
	}

	p.logger.Info("reconcile.plan",
		"desired", len(desired), "on_disk", len(disk), "indexed", len(indexed), "actions", len(actions))
	return actions, nil
}

// desiredSet resolves the repositories that should be indexed. Sources are
// tried in precedence order: API endpoint, repos file, clone directory
// listing. A configured source that fails is an error, not a fallthrough;
// silently indexing a different set than the operator configured is worse
// than stopping.
func (p *Planner) desiredSet(ctx context.Context) (map[string]bool, error) {
	switch {
	case p.apiURL != "":
		ids, err := p.fromAPI(ctx)
		if err != nil {
			return nil, fmt.Errorf("desired set from %s: %w", p.apiURL, err)
		}
		return p.toSet(ids, "api"), nil
	case p.reposFile != "":
		ids, err := p.fromFile()
		if err != nil {
			return nil, fmt.Errorf("desired set from %s: %w", p.reposFile, err)
		}
		return p.toSet(ids, "file"), nil
	default:
		ids, err := p.fromDisk()
		if err != nil {
			return nil, fmt.Errorf("desired set from %s: %w", p.reposPath, err)
		}
		return p.toSet(ids, "disk"), nil
	}
}

func (p *Planner) fromAPI(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return parseRepoList(body)
}

func (p *Planner) fromFile() ([]string, error) {
	data, err := os.ReadFile(p.reposFile)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ids = append(ids, line)
	}
	return ids, nil
}

func (p *Planner) fromDisk() ([]string, error) {
	ids, err := listClones(p.reposPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return ids, err
}

// diskSet lists the clones present under the repos path. A missing path
// reads as empty; the orchestrator creates it before cloning.
func (p *Planner) diskSet() (map[string]bool, error) {
	ids, err := listClones(p.reposPath)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]bool{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing clones in %s: %w", p.reposPath, err)
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set, nil
}

func (p *Planner) indexedSet(ctx context.Context) (map[string]bool, error) {
	ids, err := p.store.ListRepoIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing indexed repos: %w", err)
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set, nil
}

// toSet filters out malformed ids with a warning so one bad line in a
// repos file cannot take down the run.
func (p *Planner) toSet(ids []string, source string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		if !validRepoID(id) {
			p.logger.Warn("reconcile.bad_repo_id", "repo_id", id, "source", source)
			continue
		}
		set[id] = true
	}
	return set
}

// listClones returns the repo ids of the git clones directly under dir.
func listClones(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(dir, entry.Name(), ".git")); err != nil {
			continue
		}
		ids = append(ids, gitcli.RepoID(entry.Name()))
	}
	return ids, nil
}

// parseRepoList accepts either a bare JSON string array or an array of
// objects carrying full_name, which covers GitHub-style list endpoints.
func parseRepoList(data []byte) ([]string, error) {
	var names []string
	if err := json.Unmarshal(data, &names); err == nil {
		return names, nil
	}
	var objs []struct {
		FullName string `json:"full_name"`
	}
	if err := json.Unmarshal(data, &objs); err == nil {
		names = make([]string, 0, len(objs))
		for _, o := range objs {
			if o.FullName != "" {
				names = append(names, o.FullName)
			}
		}
		return names, nil
	}
	return nil, errors.New("repository list is neither a string array nor an object array")
}

// validRepoID reports whether s has the owner/name shape.
func validRepoID(s string) bool {
	owner, name, ok := strings.Cut(s, "/")
	return ok && owner != "" && name != "" && !strings.Contains(name, "/")
}
