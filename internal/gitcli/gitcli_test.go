package gitcli

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

func testGit(t *testing.T) *Git {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// initRepo creates a git repository with one committed file and returns
// its path.
func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	gitIn(t, dir, "init", "-q")
	writeFile(t, dir, "main.go", "package main\n")
	gitIn(t, dir, "add", ".")
	gitIn(t, dir, "commit", "-q", "-m", "initial")
	return dir
}

func gitIn(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
		"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com",
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git %v: %v\n%s", args, err, out)
	}
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestHeadAndLastCommit(t *testing.T) {
	g := testGit(t)
	dir := initRepo(t)
	ctx := context.Background()

	head, err := g.Head(ctx, dir)
	if err != nil {
		t.Fatalf("Head failed: %v", err)
	}
	if len(head) != 40 {
		t.Errorf("head should be a 40-char hash, got %q", head)
	}

	first, err := g.LastCommit(ctx, dir, head, "main.go")
	if err != nil {
		t.Fatalf("LastCommit failed: %v", err)
	}
	if first != head {
		t.Errorf("last commit of only file should equal HEAD: %q vs %q", first, head)
	}

	// A commit that does not touch main.go must not move its last commit.
	writeFile(t, dir, "other.go", "package main\n")
	gitIn(t, dir, "add", ".")
	gitIn(t, dir, "commit", "-q", "-m", "add other")

	newHead, err := g.Head(ctx, dir)
	if err != nil {
		t.Fatalf("Head failed: %v", err)
	}
	if newHead == head {
		t.Fatal("HEAD should advance after a commit")
	}

	unchanged, err := g.LastCommit(ctx, dir, newHead, "main.go")
	if err != nil {
		t.Fatalf("LastCommit failed: %v", err)
	}
	if unchanged != first {
		t.Errorf("last commit of untouched file moved: %q vs %q", unchanged, first)
	}

	// A path absent at the pinned commit has no last commit.
	missing, err := g.LastCommit(ctx, dir, head, "other.go")
	if err != nil {
		t.Fatalf("LastCommit failed: %v", err)
	}
	if missing != "" {
		t.Errorf("path absent at the commit should have no last commit, got %q", missing)
	}
}

func TestFetchedHead(t *testing.T) {
	g := testGit(t)
	src := initRepo(t)
	ctx := context.Background()

	// Without a remote, FetchedHead falls back to the local HEAD.
	localHead, err := g.Head(ctx, src)
	if err != nil {
		t.Fatalf("Head failed: %v", err)
	}
	fetched, err := g.FetchedHead(ctx, src)
	if err != nil {
		t.Fatalf("FetchedHead failed: %v", err)
	}
	if fetched != localHead {
		t.Errorf("FetchedHead without remote = %q, want local HEAD %q", fetched, localHead)
	}

	clone := filepath.Join(t.TempDir(), "clone")
	if err := g.Clone(ctx, src, clone); err != nil {
		t.Fatalf("Clone failed: %v", err)
	}

	// Advance the source; fetch must expose the new tip while the clone's
	// own HEAD stays behind.
	writeFile(t, src, "extra.go", "package main\n")
	gitIn(t, src, "add", ".")
	gitIn(t, src, "commit", "-q", "-m", "advance")
	srcHead, err := g.Head(ctx, src)
	if err != nil {
		t.Fatalf("Head failed: %v", err)
	}

	if err := g.Fetch(ctx, clone); err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	cloneHead, err := g.Head(ctx, clone)
	if err != nil {
		t.Fatalf("Head failed: %v", err)
	}
	if cloneHead == srcHead {
		t.Fatal("fetch should not move the clone's local HEAD")
	}
	fetched, err = g.FetchedHead(ctx, clone)
	if err != nil {
		t.Fatalf("FetchedHead failed: %v", err)
	}
	if fetched != srcHead {
		t.Errorf("FetchedHead = %q, want source tip %q", fetched, srcHead)
	}

	// Content at the fetched tip is readable without touching the
	// working tree.
	if _, err := g.Show(ctx, clone, fetched, "extra.go"); err != nil {
		t.Errorf("Show at fetched tip failed: %v", err)
	}
}

func TestShow(t *testing.T) {
	g := testGit(t)
	dir := initRepo(t)
	ctx := context.Background()

	head, err := g.Head(ctx, dir)
	if err != nil {
		t.Fatalf("Head failed: %v", err)
	}

	content, err := g.Show(ctx, dir, head, "main.go")
	if err != nil {
		t.Fatalf("Show failed: %v", err)
	}
	if string(content) != "package main\n" {
		t.Errorf("Show content = %q, want %q", content, "package main\n")
	}

	_, err = g.Show(ctx, dir, head, "missing.go")
	if err == nil {
		t.Fatal("Show of a missing path should fail")
	}
	if !IsMissingPath(err) {
		t.Errorf("expected a missing-path error, got: %v", err)
	}
}

func TestDiffNameStatus(t *testing.T) {
	g := testGit(t)
	dir := initRepo(t)
	ctx := context.Background()

	from, err := g.Head(ctx, dir)
	if err != nil {
		t.Fatalf("Head failed: %v", err)
	}

	writeFile(t, dir, "added.go", "package main\n")
	writeFile(t, dir, "main.go", "package main\n\nfunc main() {}\n")
	gitIn(t, dir, "add", ".")
	gitIn(t, dir, "commit", "-q", "-m", "changes")

	to, err := g.Head(ctx, dir)
	if err != nil {
		t.Fatalf("Head failed: %v", err)
	}

	changes, err := g.DiffNameStatus(ctx, dir, from, to)
	if err != nil {
		t.Fatalf("DiffNameStatus failed: %v", err)
	}
	byPath := map[string]ChangeStatus{}
	for _, ch := range changes {
		byPath[ch.Path] = ch.Status
	}
	if byPath["added.go"] != StatusAdded {
		t.Errorf("added.go status = %c, want A", byPath["added.go"])
	}
	if byPath["main.go"] != StatusModified {
		t.Errorf("main.go status = %c, want M", byPath["main.go"])
	}
}

func TestDiffUnknownRevision(t *testing.T) {
	g := testGit(t)
	dir := initRepo(t)
	ctx := context.Background()

	head, err := g.Head(ctx, dir)
	if err != nil {
		t.Fatalf("Head failed: %v", err)
	}

	_, err = g.DiffNameStatus(ctx, dir, "0123456789abcdef0123456789abcdef01234567", head)
	if err == nil {
		t.Fatal("diff against an absent commit should fail")
	}
	if !IsUnknownRevision(err) {
		t.Errorf("expected an unknown-revision error, got: %v", err)
	}
}

func TestParseNameStatus(t *testing.T) {
	out := "A\tcmd/main.go\n" +
		"M\tinternal/app.go\n" +
		"D\told.go\n" +
		"R100\tpkg/a.go\tpkg/b.go\n" +
		"T\tscripts/run\n" +
		"C75\ttpl.go\tcopy.go\n" +
		"garbage line\n" +
		"\n"

	changes := parseNameStatus(out)
	want := []Change{
		{Status: StatusAdded, Path: "cmd/main.go"},
		{Status: StatusModified, Path: "internal/app.go"},
		{Status: StatusDeleted, Path: "old.go"},
		{Status: StatusRenamed, Path: "pkg/b.go", OldPath: "pkg/a.go"},
		{Status: StatusModified, Path: "scripts/run"},
		{Status: StatusAdded, Path: "copy.go"},
	}
	if len(changes) != len(want) {
		t.Fatalf("parsed %d changes, want %d: %+v", len(changes), len(want), changes)
	}
	for i, ch := range changes {
		if ch != want[i] {
			t.Errorf("change[%d] = %+v, want %+v", i, ch, want[i])
		}
	}
}

func TestUnquotePath(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"plain.go", "plain.go"},
		{`"with space.go"`, "with space.go"},
		{`"tab\there"`, "tab\there"},
		{`"quote\"inside"`, `quote"inside`},
	}
	for _, tt := range tests {
		if got := unquotePath(tt.input); got != tt.want {
			t.Errorf("unquotePath(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestRepoDirRoundTrip(t *testing.T) {
	tests := []struct {
		repoID string
		dir    string
	}{
		{"acme/widgets", "acme_widgets"},
		{"acme/multi_word_repo", "acme_multi_word_repo"},
		{"a-b/c.d", "a-b_c.d"},
	}
	for _, tt := range tests {
		if got := RepoDir(tt.repoID); got != tt.dir {
			t.Errorf("RepoDir(%q) = %q, want %q", tt.repoID, got, tt.dir)
		}
		if got := RepoID(tt.dir); got != tt.repoID {
			t.Errorf("RepoID(%q) = %q, want %q", tt.dir, got, tt.repoID)
		}
	}
}

func TestCloneURL(t *testing.T) {
	if got := CloneURL("acme/widgets", ""); got != "https://github.com/acme/widgets.git" {
		t.Errorf("CloneURL without credential = %q", got)
	}
	if got := CloneURL("acme/widgets", "token"); got != "https://token@github.com/acme/widgets.git" {
		t.Errorf("CloneURL with credential = %q", got)
	}
}

func TestErrorClassifiers(t *testing.T) {
	if IsUnknownRevision(nil) || IsMissingPath(nil) {
		t.Error("nil error should not classify")
	}
	if !IsUnknownRevision(errors.New("git diff: fatal: bad object abc123")) {
		t.Error("bad object should classify as unknown revision")
	}
	if !IsMissingPath(errors.New("git show: fatal: path 'x.go' does not exist in 'HEAD'")) {
		t.Error("missing path error not recognized")
	}
	if IsUnknownRevision(errors.New("git fetch: network unreachable")) {
		t.Error("network error should not classify as unknown revision")
	}
}

func TestCommitCache(t *testing.T) {
	cache, err := OpenMemoryCache()
	if err != nil {
		t.Fatalf("OpenMemoryCache failed: %v", err)
	}
	defer cache.Close()

	if _, ok := cache.Get("acme/widgets", "head1", "main.go"); ok {
		t.Error("empty cache should miss")
	}

	if err := cache.Put("acme/widgets", "head1", "main.go", "commit1"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	got, ok := cache.Get("acme/widgets", "head1", "main.go")
	if !ok || got != "commit1" {
		t.Errorf("Get = %q, %v; want commit1, true", got, ok)
	}

	// Same path at a different head is a distinct entry.
	if _, ok := cache.Get("acme/widgets", "head2", "main.go"); ok {
		t.Error("lookup at a different head should miss")
	}

	// Put is idempotent.
	if err := cache.Put("acme/widgets", "head1", "main.go", "commit1"); err != nil {
		t.Fatalf("repeat Put failed: %v", err)
	}

	// Prune drops entries for superseded heads only.
	if err := cache.Put("acme/widgets", "head2", "main.go", "commit2"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := cache.Prune("acme/widgets", "head2"); err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if _, ok := cache.Get("acme/widgets", "head1", "main.go"); ok {
		t.Error("pruned head should miss")
	}
	if got, ok := cache.Get("acme/widgets", "head2", "main.go"); !ok || got != "commit2" {
		t.Errorf("current head entry should survive prune, got %q, %v", got, ok)
	}
}

func TestCommitCachePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache", "commits.db")

	cache, err := OpenCache(path)
	if err != nil {
		t.Fatalf("OpenCache failed: %v", err)
	}
	if err := cache.Put("acme/widgets", "h", "a.go", "c1"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	cache.Close()

	reopened, err := OpenCache(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()
	if got, ok := reopened.Get("acme/widgets", "h", "a.go"); !ok || got != "c1" {
		t.Errorf("entry should survive reopen, got %q, %v", got, ok)
	}
}

func TestDiffPathsUnaffectedByWorkingTree(t *testing.T) {
	g := testGit(t)
	dir := initRepo(t)
	ctx := context.Background()

	head, err := g.Head(ctx, dir)
	if err != nil {
		t.Fatalf("Head failed: %v", err)
	}

	// Dirty the working tree; Show must still return the committed bytes.
	writeFile(t, dir, "main.go", "package main // dirtied\n")

	content, err := g.Show(ctx, dir, head, "main.go")
	if err != nil {
		t.Fatalf("Show failed: %v", err)
	}
	if strings.Contains(string(content), "dirtied") {
		t.Error("Show must read the pinned commit, not the working tree")
	}
}
