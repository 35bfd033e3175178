package docstore

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newMemStore(t *testing.T) *EmbeddedStore {
	t.Helper()
	store, err := OpenMemoryStore(nil)
	if err != nil {
		t.Fatalf("OpenMemoryStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestEmbeddedUpsertGetRoundTrip(t *testing.T) {
	store := newMemStore(t)
	ctx := context.Background()

	doc := testDoc("doc-1", "acme/api", TypeFileIndex)
	doc.FilePath = "src/auth.py"
	doc.ParentID = "module-1"
	doc.ChildrenIDs = []string{"sym-1", "sym-2"}
	doc.Metadata = Metadata{
		Language:  "Python",
		LineCount: 120,
		Imports:   []string{"os", "flask"},
		Symbols: []SymbolMeta{
			{Name: "login", Kind: "function", StartLine: 10, EndLine: 42, Significant: true},
			{Name: "noop", Kind: "function", StartLine: 44, EndLine: 45},
		},
	}
	doc.Version = Version{SchemaVersion: 1, PipelineVersion: "0.3.0", CreatedAt: time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)}

	if err := store.Upsert(ctx, doc); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := store.Get(ctx, "doc-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.FilePath != "src/auth.py" || got.ParentID != "module-1" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if len(got.ChildrenIDs) != 2 || got.ChildrenIDs[0] != "sym-1" {
		t.Fatalf("children lost: %v", got.ChildrenIDs)
	}
	if len(got.Metadata.Symbols) != 2 || !got.Metadata.Symbols[0].Significant || got.Metadata.Symbols[1].Significant {
		t.Fatalf("symbol table lost: %+v", got.Metadata.Symbols)
	}
	if !got.Version.CreatedAt.Equal(doc.Version.CreatedAt) {
		t.Fatalf("created_at = %v", got.Version.CreatedAt)
	}
}

func TestEmbeddedUpsertOverwrites(t *testing.T) {
	store := newMemStore(t)
	ctx := context.Background()

	doc := testDoc("doc-1", "acme/api", TypeFileIndex)
	if err := store.Upsert(ctx, doc); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	doc.Content = "updated summary"
	if err := store.Upsert(ctx, doc); err != nil {
		t.Fatalf("second Upsert: %v", err)
	}

	got, err := store.Get(ctx, "doc-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Content != "updated summary" {
		t.Fatalf("content = %q", got.Content)
	}
	n, err := store.CountBy(ctx, Query{RepoID: "acme/api"})
	if err != nil || n != 1 {
		t.Fatalf("count = %d (%v), want 1", n, err)
	}
}

func TestEmbeddedUpsertRejectsUnnormalized(t *testing.T) {
	store := newMemStore(t)

	doc := testDoc("doc-1", "acme/api", TypeFileIndex)
	doc.Embedding = []float32{3, 4}
	if err := store.Upsert(context.Background(), doc); err == nil {
		t.Fatal("unnormalized embedding accepted")
	}
	if _, err := store.Get(context.Background(), "doc-1"); !errors.Is(err, ErrNotFound) {
		t.Fatal("rejected document was written")
	}
}

func TestEmbeddedUpsertWithoutEmbedding(t *testing.T) {
	store := newMemStore(t)
	ctx := context.Background()

	doc := testDoc("run-1", "", TypeIngestionLog)
	doc.RepoID = "-"
	doc.Embedding = nil
	doc.Metadata = Metadata{RunID: "run-1", Status: "running", PID: 4242, Hostname: "host-a"}

	if err := store.Upsert(ctx, doc); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	got, err := store.Get(ctx, "run-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Metadata.Status != "running" || got.Metadata.PID != 4242 {
		t.Fatalf("run fields lost: %+v", got.Metadata)
	}
}

func TestEmbeddedFindOne(t *testing.T) {
	store := newMemStore(t)
	ctx := context.Background()

	if err := store.Upsert(ctx, testDoc("doc-1", "acme/api", TypeRepoSummary)); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := store.FindOne(ctx, Query{RepoID: "acme/api", Type: TypeRepoSummary})
	if err != nil {
		t.Fatalf("FindOne: %v", err)
	}
	if got.DocumentID != "doc-1" {
		t.Fatalf("found %q", got.DocumentID)
	}

	_, err = store.FindOne(ctx, Query{RepoID: "acme/web", Type: TypeRepoSummary})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestEmbeddedListAndCount(t *testing.T) {
	store := newMemStore(t)
	ctx := context.Background()

	docs := []*Document{
		testDoc("doc-1", "acme/api", TypeFileIndex),
		testDoc("doc-2", "acme/api", TypeSymbolIndex),
		testDoc("doc-3", "acme/web", TypeFileIndex),
	}
	docs[0].FilePath = "a.py"
	docs[1].FilePath = "a.py"
	docs[2].FilePath = "b.py"
	for _, doc := range docs {
		if err := store.Upsert(ctx, doc); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	listed, err := store.List(ctx, Query{RepoID: "acme/api"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(listed) != 2 || listed[0].DocumentID != "doc-1" || listed[1].DocumentID != "doc-2" {
		t.Fatalf("listed %v", listed)
	}

	n, err := store.CountBy(ctx, Query{Type: TypeFileIndex})
	if err != nil || n != 2 {
		t.Fatalf("count = %d (%v), want 2", n, err)
	}
	n, err = store.CountBy(ctx, Query{RepoID: "acme/api", FilePath: "a.py"})
	if err != nil || n != 2 {
		t.Fatalf("file count = %d (%v), want 2", n, err)
	}
}

func TestEmbeddedListRepoIDs(t *testing.T) {
	store := newMemStore(t)
	ctx := context.Background()

	for _, doc := range []*Document{
		testDoc("doc-1", "acme/web", TypeRepoSummary),
		testDoc("doc-2", "acme/api", TypeRepoSummary),
		testDoc("doc-3", "acme/zulu", TypeFileIndex),
	} {
		if err := store.Upsert(ctx, doc); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	ids, err := store.ListRepoIDs(ctx)
	if err != nil {
		t.Fatalf("ListRepoIDs: %v", err)
	}
	if len(ids) != 2 || ids[0] != "acme/api" || ids[1] != "acme/web" {
		t.Fatalf("ids = %v", ids)
	}
}

func TestEmbeddedDeleteByQuery(t *testing.T) {
	store := newMemStore(t)
	ctx := context.Background()

	for _, doc := range []*Document{
		testDoc("doc-1", "acme/api", TypeFileIndex),
		testDoc("doc-2", "acme/api", TypeSymbolIndex),
		testDoc("doc-3", "acme/web", TypeFileIndex),
	} {
		if err := store.Upsert(ctx, doc); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	n, err := store.DeleteByQuery(ctx, Query{RepoID: "acme/api"})
	if err != nil {
		t.Fatalf("DeleteByQuery: %v", err)
	}
	if n != 2 {
		t.Fatalf("deleted %d, want 2", n)
	}
	if _, err := store.Get(ctx, "doc-1"); !errors.Is(err, ErrNotFound) {
		t.Fatal("doc-1 survived the delete")
	}
	if _, err := store.Get(ctx, "doc-3"); err != nil {
		t.Fatalf("doc-3 was deleted: %v", err)
	}

	if _, err := store.DeleteByQuery(ctx, Query{}); err == nil {
		t.Fatal("unfiltered delete accepted")
	}
}

func TestEmbeddedSearch(t *testing.T) {
	store := newMemStore(t)
	ctx := context.Background()

	a := testDoc("doc-a", "acme/api", TypeFileIndex)
	a.Embedding = []float32{1, 0}
	b := testDoc("doc-b", "acme/api", TypeFileIndex)
	b.Embedding = []float32{0, 1}
	for _, doc := range []*Document{a, b} {
		if err := store.Upsert(ctx, doc); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	hits, err := store.Search(ctx, Query{RepoID: "acme/api"}, []float32{1, 0}, 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != "doc-a" {
		t.Fatalf("hits = %+v", hits)
	}
	if hits[0].Score < 0.99 {
		t.Fatalf("score = %f", hits[0].Score)
	}
}

func TestEmbeddedSearchEmpty(t *testing.T) {
	store := newMemStore(t)

	hits, err := store.Search(context.Background(), Query{}, []float32{1, 0}, 5)
	if err != nil || hits != nil {
		t.Fatalf("got %v, %v", hits, err)
	}
}

func TestEmbeddedPersistence(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := OpenEmbedded(dir, nil)
	if err != nil {
		t.Fatalf("OpenEmbedded: %v", err)
	}
	if err := store.Upsert(ctx, testDoc("doc-1", "acme/api", TypeFileIndex)); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := OpenEmbedded(dir, nil)
	if err != nil {
		t.Fatalf("reopening: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Get(ctx, "doc-1")
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if got.Content != "summary of doc-1" {
		t.Fatalf("content = %q", got.Content)
	}

	hits, err := reopened.Search(ctx, Query{}, []float32{1, 0}, 1)
	if err != nil {
		t.Fatalf("Search after reopen: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != "doc-1" {
		t.Fatalf("hits = %+v", hits)
	}
}
