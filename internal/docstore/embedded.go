package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	_ "modernc.org/sqlite"
)

const collectionName = "documents"

// schema contains the full embedded-store schema. New columns are added here.
const schema = `
CREATE TABLE IF NOT EXISTS documents (
    id TEXT PRIMARY KEY,
    repo_id TEXT NOT NULL,
    type TEXT NOT NULL,
    file_path TEXT NOT NULL DEFAULT '',
    module_path TEXT NOT NULL DEFAULT '',
    body TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_repo_type ON documents(repo_id, type);
CREATE INDEX IF NOT EXISTS idx_documents_file ON documents(repo_id, file_path);
`

// EmbeddedStore keeps full documents in SQLite and their vectors in a
// chromem-go collection, both under one directory. It serves single-host
// setups with no external document store.
type EmbeddedStore struct {
	mu         sync.RWMutex
	db         *sql.DB
	vectors    *chromem.DB
	collection *chromem.Collection
}

// OpenEmbedded creates or opens an embedded store rooted at dir. embedFn
// is the collection's text-query callback; all writes carry precomputed
// vectors.
func OpenEmbedded(dir string, embedFn chromem.EmbeddingFunc) (*EmbeddedStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dir, "documents.db")+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening document database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging document database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	vectors, err := chromem.NewPersistentDB(filepath.Join(dir, "vectors"), false)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("opening vector database: %w", err)
	}
	col, err := vectors.GetOrCreateCollection(collectionName, nil, embedFn)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating vector collection: %w", err)
	}

	return &EmbeddedStore{db: db, vectors: vectors, collection: col}, nil
}

// OpenMemoryStore creates an in-memory embedded store (useful for testing).
func OpenMemoryStore(embedFn chromem.EmbeddingFunc) (*EmbeddedStore, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("opening in-memory database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	vectors := chromem.NewDB()
	col, err := vectors.GetOrCreateCollection(collectionName, nil, embedFn)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating vector collection: %w", err)
	}

	return &EmbeddedStore{db: db, vectors: vectors, collection: col}, nil
}

func (s *EmbeddedStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *EmbeddedStore) Upsert(ctx context.Context, doc *Document) error {
	if err := validateForWrite(doc); err != nil {
		return err
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", doc.DocumentID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (id, repo_id, type, file_path, module_path, body)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			repo_id = excluded.repo_id,
			type = excluded.type,
			file_path = excluded.file_path,
			module_path = excluded.module_path,
			body = excluded.body`,
		doc.DocumentID, doc.RepoID, string(doc.Type), doc.FilePath, doc.ModulePath, string(body))
	if err != nil {
		return fmt.Errorf("upserting %s: %w", doc.DocumentID, err)
	}

	if len(doc.Embedding) == 0 {
		return nil
	}
	err = s.collection.AddDocument(ctx, chromem.Document{
		ID:        doc.DocumentID,
		Content:   doc.Content,
		Embedding: doc.Embedding,
		Metadata: map[string]string{
			"repo_id":     doc.RepoID,
			"type":        string(doc.Type),
			"file_path":   doc.FilePath,
			"module_path": doc.ModulePath,
		},
	})
	if err != nil {
		return fmt.Errorf("indexing vector for %s: %w", doc.DocumentID, err)
	}
	return nil
}

func (s *EmbeddedStore) Get(ctx context.Context, id string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM documents WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting %s: %w", id, err)
	}
	return decodeBody(id, body)
}

func decodeBody(id, body string) (*Document, error) {
	var doc Document
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", id, err)
	}
	return &doc, nil
}

// whereSQL renders the query as a SQL condition. Empty queries match all.
func (q Query) whereSQL() (string, []any) {
	var conds []string
	var args []any
	if q.RepoID != "" {
		conds = append(conds, "repo_id = ?")
		args = append(args, q.RepoID)
	}
	if q.Type != "" {
		conds = append(conds, "type = ?")
		args = append(args, string(q.Type))
	}
	if q.FilePath != "" {
		conds = append(conds, "file_path = ?")
		args = append(args, q.FilePath)
	}
	if q.ModulePath != "" {
		conds = append(conds, "module_path = ?")
		args = append(args, q.ModulePath)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (s *EmbeddedStore) FindOne(ctx context.Context, q Query) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where, args := q.whereSQL()
	var body, id string
	err := s.db.QueryRowContext(ctx, `SELECT id, body FROM documents`+where+` ORDER BY id LIMIT 1`, args...).Scan(&id, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding document: %w", err)
	}
	return decodeBody(id, body)
}

func (s *EmbeddedStore) List(ctx context.Context, q Query) ([]*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where, args := q.whereSQL()
	rows, err := s.db.QueryContext(ctx, `SELECT id, body FROM documents`+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		var id, body string
		if err := rows.Scan(&id, &body); err != nil {
			return nil, fmt.Errorf("scanning document row: %w", err)
		}
		doc, err := decodeBody(id, body)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *EmbeddedStore) ListRepoIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT repo_id FROM documents WHERE type = ? ORDER BY repo_id`, string(TypeRepoSummary))
	if err != nil {
		return nil, fmt.Errorf("listing repo ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning repo id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *EmbeddedStore) DeleteByQuery(ctx context.Context, q Query) (int, error) {
	where, args := q.whereSQL()
	if where == "" {
		return 0, errors.New("delete requires at least one filter")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM documents`+where, args...)
	if err != nil {
		return 0, fmt.Errorf("deleting documents: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting deleted documents: %w", err)
	}
	if n > 0 {
		if err := s.collection.Delete(ctx, whereOrNil(q.selector()), nil); err != nil {
			return int(n), fmt.Errorf("deleting vectors: %w", err)
		}
	}
	return int(n), nil
}

func (s *EmbeddedStore) CountBy(ctx context.Context, q Query) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where, args := q.whereSQL()
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting documents: %w", err)
	}
	return n, nil
}

func (s *EmbeddedStore) Search(ctx context.Context, q Query, vector []float32, k int) ([]SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := s.collection.Count()
	if count == 0 {
		return nil, nil
	}
	if k <= 0 {
		k = 10
	}
	if k > count {
		k = count
	}

	results, err := s.collection.QueryEmbedding(ctx, vector, k, whereOrNil(q.selector()), nil)
	if err != nil {
		return nil, fmt.Errorf("vector query: %w", err)
	}
	hits := make([]SearchResult, len(results))
	for i, r := range results {
		hits[i] = SearchResult{ID: r.ID, Score: r.Similarity}
	}
	return hits, nil
}

func (s *EmbeddedStore) Close() error {
	return s.db.Close()
}

// whereOrNil drops empty filters; chromem treats nil as match-all.
func whereOrNil(sel map[string]string) map[string]string {
	if len(sel) == 0 {
		return nil
	}
	return sel
}
