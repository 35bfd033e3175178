package reconcile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/raglet/raglet/internal/docstore"
	"github.com/raglet/raglet/internal/gitcli"
)

// stubGit serves canned answers for the few operations the detector and
// planner perform against a clone.
type stubGit struct {
	head     string
	changes  []gitcli.Change
	diffErr  error
	fetchErr error
	fetches  int
}

func (g *stubGit) Clone(ctx context.Context, url, dir string) error { return nil }

func (g *stubGit) Fetch(ctx context.Context, dir string) error {
	g.fetches++
	return g.fetchErr
}

func (g *stubGit) Head(ctx context.Context, dir string) (string, error) { return g.head, nil }

func (g *stubGit) FetchedHead(ctx context.Context, dir string) (string, error) {
	return g.head, nil
}

func (g *stubGit) LastCommit(ctx context.Context, dir, commit, path string) (string, error) {
	return g.head, nil
}

func (g *stubGit) Show(ctx context.Context, dir, commit, path string) ([]byte, error) {
	return nil, nil
}

func (g *stubGit) DiffNameStatus(ctx context.Context, dir, from, to string) ([]gitcli.Change, error) {
	if g.diffErr != nil {
		return nil, g.diffErr
	}
	return g.changes, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testStore(t *testing.T) *docstore.EmbeddedStore {
	t.Helper()
	store, err := docstore.OpenMemoryStore(nil)
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func seedSummary(t *testing.T, store docstore.Store, repoID, commit string, totalFiles int) {
	t.Helper()
	doc := &docstore.Document{
		DocumentID: docstore.NewID(docstore.TypeRepoSummary, repoID, "", commit),
		Type:       docstore.TypeRepoSummary,
		RepoID:     repoID,
		CommitHash: commit,
		Content:    "summary of " + repoID,
		Metadata:   docstore.Metadata{TotalFiles: totalFiles},
	}
	if err := store.Upsert(context.Background(), doc); err != nil {
		t.Fatalf("seeding summary for %s: %v", repoID, err)
	}
}

func TestDetectFullWhenNeverIndexed(t *testing.T) {
	store := testStore(t)
	git := &stubGit{head: "bbb"}
	d := NewDetector(git, store, 0, testLogger())

	dec, err := d.Detect(context.Background(), "acme/widget", "/clones/acme_widget")
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if dec.Strategy != StrategyFull {
		t.Errorf("strategy = %s, want full", dec.Strategy)
	}
	if dec.Commit != "bbb" {
		t.Errorf("commit = %s, want bbb", dec.Commit)
	}
	if dec.Stored != "" {
		t.Errorf("stored = %s, want empty", dec.Stored)
	}
}

func TestDetectSkipWhenStoredAtHead(t *testing.T) {
	store := testStore(t)
	seedSummary(t, store, "acme/widget", "aaa", 10)
	git := &stubGit{head: "aaa"}
	d := NewDetector(git, store, 0, testLogger())

	dec, err := d.Detect(context.Background(), "acme/widget", "/clones/acme_widget")
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if dec.Strategy != StrategySkip {
		t.Errorf("strategy = %s, want skip", dec.Strategy)
	}
	if dec.Commit != "aaa" || dec.Stored != "aaa" {
		t.Errorf("commit/stored = %s/%s, want aaa/aaa", dec.Commit, dec.Stored)
	}
}

func TestDetectSurgicalBelowThreshold(t *testing.T) {
	store := testStore(t)
	seedSummary(t, store, "acme/widget", "aaa", 100)
	git := &stubGit{head: "bbb", changes: []gitcli.Change{
		{Status: gitcli.StatusModified, Path: "a.go"},
		{Status: gitcli.StatusAdded, Path: "b.go"},
		{Status: gitcli.StatusDeleted, Path: "c.go"},
	}}
	d := NewDetector(git, store, 0, testLogger())

	dec, err := d.Detect(context.Background(), "acme/widget", "/clones/acme_widget")
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if dec.Strategy != StrategySurgical {
		t.Fatalf("strategy = %s, want surgical", dec.Strategy)
	}
	if len(dec.Changes) != 3 {
		t.Errorf("changes = %d, want 3", len(dec.Changes))
	}
	if dec.Ratio != 0.03 {
		t.Errorf("ratio = %g, want 0.03", dec.Ratio)
	}
}

func TestDetectSurgicalAtExactThreshold(t *testing.T) {
	store := testStore(t)
	seedSummary(t, store, "acme/widget", "aaa", 20)
	git := &stubGit{head: "bbb", changes: []gitcli.Change{
		{Status: gitcli.StatusModified, Path: "a.go"},
	}}
	d := NewDetector(git, store, 0.05, testLogger())

	dec, err := d.Detect(context.Background(), "acme/widget", "/clones/acme_widget")
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if dec.Strategy != StrategySurgical {
		t.Errorf("strategy at ratio == threshold = %s, want surgical", dec.Strategy)
	}
}

func TestDetectFullAboveThreshold(t *testing.T) {
	store := testStore(t)
	seedSummary(t, store, "acme/widget", "aaa", 10)
	git := &stubGit{head: "bbb", changes: []gitcli.Change{
		{Status: gitcli.StatusModified, Path: "a.go"},
		{Status: gitcli.StatusModified, Path: "b.go"},
		{Status: gitcli.StatusModified, Path: "c.go"},
	}}
	d := NewDetector(git, store, 0, testLogger())

	dec, err := d.Detect(context.Background(), "acme/widget", "/clones/acme_widget")
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if dec.Strategy != StrategyFull {
		t.Fatalf("strategy = %s, want full", dec.Strategy)
	}
	if dec.Changes != nil {
		t.Errorf("full re-ingest must not carry a change list, got %d entries", len(dec.Changes))
	}
	if dec.Ratio != 0.3 {
		t.Errorf("ratio = %g, want 0.3", dec.Ratio)
	}
}

func TestDetectFullWhenFileCountUnknown(t *testing.T) {
	store := testStore(t)
	seedSummary(t, store, "acme/widget", "aaa", 0)
	git := &stubGit{head: "bbb", changes: []gitcli.Change{
		{Status: gitcli.StatusModified, Path: "a.go"},
	}}
	d := NewDetector(git, store, 0, testLogger())

	dec, err := d.Detect(context.Background(), "acme/widget", "/clones/acme_widget")
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if dec.Strategy != StrategyFull {
		t.Errorf("strategy without a file count = %s, want full", dec.Strategy)
	}
	if dec.Changes != nil {
		t.Errorf("full re-ingest must not carry a change list, got %d entries", len(dec.Changes))
	}
}

func TestDetectFullWhenStoredCommitUnreachable(t *testing.T) {
	store := testStore(t)
	seedSummary(t, store, "acme/widget", "aaa", 10)
	git := &stubGit{head: "bbb", diffErr: errors.New("fatal: bad object aaa")}
	d := NewDetector(git, store, 0, testLogger())

	dec, err := d.Detect(context.Background(), "acme/widget", "/clones/acme_widget")
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if dec.Strategy != StrategyFull {
		t.Errorf("strategy = %s, want full", dec.Strategy)
	}
	if dec.Commit != "bbb" || dec.Stored != "aaa" {
		t.Errorf("commit/stored = %s/%s, want bbb/aaa", dec.Commit, dec.Stored)
	}
}

func TestDetectDiffErrorPropagates(t *testing.T) {
	store := testStore(t)
	seedSummary(t, store, "acme/widget", "aaa", 10)
	git := &stubGit{head: "bbb", diffErr: errors.New("fatal: unable to read tree")}
	d := NewDetector(git, store, 0, testLogger())

	if _, err := d.Detect(context.Background(), "acme/widget", "/clones/acme_widget"); err == nil {
		t.Fatal("a diff failure that is not a missing revision must surface")
	}
}

func TestDetectFetchErrorPropagates(t *testing.T) {
	store := testStore(t)
	git := &stubGit{head: "bbb", fetchErr: errors.New("remote hung up")}
	d := NewDetector(git, store, 0, testLogger())

	if _, err := d.Detect(context.Background(), "acme/widget", "/clones/acme_widget"); err == nil {
		t.Fatal("fetch failure must surface")
	}
}

func TestSkipExistingChecksLocalHeadOnly(t *testing.T) {
	store := testStore(t)
	git := &stubGit{head: "aaa"}
	d := NewDetector(git, store, 0, testLogger())
	ctx := context.Background()

	ok, err := d.SkipExisting(ctx, "acme/widget", "/clones/acme_widget")
	if err != nil {
		t.Fatalf("SkipExisting failed: %v", err)
	}
	if ok {
		t.Error("unindexed repo must not be skippable")
	}

	seedSummary(t, store, "acme/widget", "aaa", 10)
	ok, err = d.SkipExisting(ctx, "acme/widget", "/clones/acme_widget")
	if err != nil {
		t.Fatalf("SkipExisting failed: %v", err)
	}
	if !ok {
		t.Error("summary at the local head should be skippable")
	}

	git.head = "bbb"
	ok, err = d.SkipExisting(ctx, "acme/widget", "/clones/acme_widget")
	if err != nil {
		t.Fatalf("SkipExisting failed: %v", err)
	}
	if ok {
		t.Error("a moved head must not be skippable")
	}

	if git.fetches != 0 {
		t.Errorf("SkipExisting fetched %d times, want 0", git.fetches)
	}
}
