package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// fakeStoreServer implements just enough of the REST contract to exercise
// the HTTP adapter: doc CRUD under /{bucket}/{id} plus _find and _search.
type fakeStoreServer struct {
	t *testing.T

	mu       sync.Mutex
	docs     map[string]*Document
	puts     int
	failPuts int
}

func newFakeStoreServer(t *testing.T) (*fakeStoreServer, *httptest.Server) {
	f := &fakeStoreServer{t: t, docs: make(map[string]*Document)}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeStoreServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user, pass, ok := r.BasicAuth()
	if !ok || user != "admin" || pass != "secret" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if !strings.HasPrefix(r.URL.Path, "/code") {
		http.NotFound(w, r)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/code")
	rest = strings.TrimPrefix(rest, "/")

	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case rest == "" && r.Method == http.MethodGet:
		w.WriteHeader(http.StatusOK)
	case rest == "_find" && r.Method == http.MethodPost:
		f.handleFind(w, r)
	case rest == "_search" && r.Method == http.MethodPost:
		json.NewEncoder(w).Encode(map[string]any{
			"hits": []map[string]any{
				{"id": "doc-1", "score": 0.93},
				{"id": "doc-2", "score": 0.81},
			},
		})
	case r.Method == http.MethodGet:
		doc, ok := f.docs[rest]
		if !ok {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(doc)
	case r.Method == http.MethodPut:
		f.puts++
		if f.failPuts > 0 {
			f.failPuts--
			http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
			return
		}
		var doc Document
		if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.docs[rest] = &doc
		w.WriteHeader(http.StatusCreated)
	case r.Method == http.MethodDelete:
		if _, ok := f.docs[rest]; !ok {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		delete(f.docs, rest)
		w.WriteHeader(http.StatusOK)
	default:
		http.Error(w, "bad request", http.StatusBadRequest)
	}
}

func (f *fakeStoreServer) handleFind(w http.ResponseWriter, r *http.Request) {
	var req findRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var out []map[string]any
	for _, doc := range f.docs {
		if v, ok := req.Selector["repo_id"]; ok && doc.RepoID != v {
			continue
		}
		if v, ok := req.Selector["type"]; ok && string(doc.Type) != v {
			continue
		}
		if v, ok := req.Selector["file_path"]; ok && doc.FilePath != v {
			continue
		}
		if len(req.Fields) > 0 {
			row := make(map[string]any)
			for _, field := range req.Fields {
				switch field {
				case "document_id":
					row[field] = doc.DocumentID
				case "repo_id":
					row[field] = doc.RepoID
				}
			}
			out = append(out, row)
		} else {
			var full map[string]any
			raw, _ := json.Marshal(doc)
			json.Unmarshal(raw, &full)
			out = append(out, full)
		}
		if req.Limit > 0 && len(out) == req.Limit {
			break
		}
	}
	json.NewEncoder(w).Encode(map[string]any{"docs": out})
}

func newHTTPTestStore(srv *httptest.Server) *HTTPStore {
	return NewHTTPStore(srv.URL, "admin", "secret", "code")
}

func testDoc(id, repoID string, docType Type) *Document {
	return &Document{
		DocumentID: id,
		Type:       docType,
		RepoID:     repoID,
		CommitHash: "abc123",
		Content:    "summary of " + id,
		Embedding:  []float32{1, 0},
		Quality:    Quality{EnrichmentLevel: "llm_full", LLMAvailable: true, SummarySource: "test-model"},
	}
}

func TestHTTPStoreUpsertAndGet(t *testing.T) {
	_, srv := newFakeStoreServer(t)
	store := newHTTPTestStore(srv)
	ctx := context.Background()

	doc := testDoc("doc-1", "acme/api", TypeFileIndex)
	doc.FilePath = "src/auth.py"
	if err := store.Upsert(ctx, doc); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := store.Get(ctx, "doc-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.RepoID != "acme/api" || got.FilePath != "src/auth.py" || got.Content != "summary of doc-1" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if !got.Quality.LLMAvailable || got.Quality.EnrichmentLevel != "llm_full" {
		t.Fatalf("quality bag lost: %+v", got.Quality)
	}
}

func TestHTTPStoreGetNotFound(t *testing.T) {
	_, srv := newFakeStoreServer(t)
	store := newHTTPTestStore(srv)

	_, err := store.Get(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestHTTPStoreUpsertRejectsUnnormalized(t *testing.T) {
	f, srv := newFakeStoreServer(t)
	store := newHTTPTestStore(srv)

	doc := testDoc("doc-1", "acme/api", TypeFileIndex)
	doc.Embedding = []float32{3, 4}
	if err := store.Upsert(context.Background(), doc); err == nil {
		t.Fatal("unnormalized embedding accepted")
	}
	if f.puts != 0 {
		t.Fatalf("server saw %d puts, want 0", f.puts)
	}
}

func TestHTTPStoreUpsertRetriesTransient(t *testing.T) {
	f, srv := newFakeStoreServer(t)
	f.failPuts = 2
	store := newHTTPTestStore(srv)

	if err := store.Upsert(context.Background(), testDoc("doc-1", "acme/api", TypeFileIndex)); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if f.puts != 3 {
		t.Fatalf("server saw %d puts, want 3", f.puts)
	}
}

func TestHTTPStoreUpsertGivesUpAfterRetries(t *testing.T) {
	f, srv := newFakeStoreServer(t)
	f.failPuts = 5
	store := newHTTPTestStore(srv)

	if err := store.Upsert(context.Background(), testDoc("doc-1", "acme/api", TypeFileIndex)); err == nil {
		t.Fatal("expected an error after exhausting retries")
	}
	if f.puts != 3 {
		t.Fatalf("server saw %d puts, want 3", f.puts)
	}
}

func TestHTTPStoreFindOne(t *testing.T) {
	_, srv := newFakeStoreServer(t)
	store := newHTTPTestStore(srv)
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

func TestHTTPStoreDeleteByQuery(t *testing.T) {
	f, srv := newFakeStoreServer(t)
	store := newHTTPTestStore(srv)
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
	if len(f.docs) != 1 {
		t.Fatalf("server holds %d docs, want 1", len(f.docs))
	}

	if _, err := store.DeleteByQuery(ctx, Query{}); err == nil {
		t.Fatal("unfiltered delete accepted")
	}
}

func TestHTTPStoreCountBy(t *testing.T) {
	_, srv := newFakeStoreServer(t)
	store := newHTTPTestStore(srv)
	ctx := context.Background()

	for _, doc := range []*Document{
		testDoc("doc-1", "acme/api", TypeFileIndex),
		testDoc("doc-2", "acme/api", TypeFileIndex),
		testDoc("doc-3", "acme/api", TypeRepoSummary),
	} {
		if err := store.Upsert(ctx, doc); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	n, err := store.CountBy(ctx, Query{RepoID: "acme/api", Type: TypeFileIndex})
	if err != nil {
		t.Fatalf("CountBy: %v", err)
	}
	if n != 2 {
		t.Fatalf("count = %d, want 2", n)
	}
}

func TestHTTPStoreListRepoIDs(t *testing.T) {
	_, srv := newFakeStoreServer(t)
	store := newHTTPTestStore(srv)
	ctx := context.Background()

	for _, doc := range []*Document{
		testDoc("doc-1", "acme/web", TypeRepoSummary),
		testDoc("doc-2", "acme/api", TypeRepoSummary),
		testDoc("doc-3", "acme/api", TypeFileIndex),
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

func TestHTTPStoreSearch(t *testing.T) {
	_, srv := newFakeStoreServer(t)
	store := newHTTPTestStore(srv)

	hits, err := store.Search(context.Background(), Query{RepoID: "acme/api"}, []float32{1, 0}, 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 2 || hits[0].ID != "doc-1" || hits[0].Score != 0.93 {
		t.Fatalf("hits = %+v", hits)
	}
}

func TestHTTPStorePing(t *testing.T) {
	_, srv := newFakeStoreServer(t)
	store := newHTTPTestStore(srv)

	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	bad := NewHTTPStore(srv.URL, "admin", "wrong", "code")
	if err := bad.Ping(context.Background()); err == nil {
		t.Fatal("ping with bad credentials succeeded")
	}
}
