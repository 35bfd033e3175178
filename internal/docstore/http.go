package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

const upsertAttempts = 3

// HTTPStore talks to a hosted schema-less document store over its REST
// API with basic auth. Documents live at {host}/{bucket}/{id}; queries go
// through POST {bucket}/_find with a flat selector and vector search
// through POST {bucket}/_search. Content and vector indexes are assumed
// to be configured on the server out-of-band.
type HTTPStore struct {
	host     string
	bucket   string
	user     string
	password string
	client   *http.Client
}

// NewHTTPStore creates an adapter for the store at host.
func NewHTTPStore(host, user, password, bucket string) *HTTPStore {
	return &HTTPStore{
		host:     strings.TrimRight(host, "/"),
		bucket:   bucket,
		user:     user,
		password: password,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

// httpError carries the response status so transient failures can be told
// apart from permanent ones.
type httpError struct {
	Status int
	Body   string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("store returned %d: %s", e.Status, e.Body)
}

func isTransient(err error) bool {
	if he, ok := err.(*httpError); ok {
		return he.Status >= 500
	}
	// Anything without a status reached the wire and failed: network.
	return true
}

func (s *HTTPStore) bucketURL() string {
	return s.host + "/" + s.bucket
}

func (s *HTTPStore) docURL(id string) string {
	return s.bucketURL() + "/" + url.PathEscape(id)
}

func (s *HTTPStore) do(ctx context.Context, method, rawURL string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(s.user, s.password)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("store request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read store response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &httpError{Status: resp.StatusCode, Body: truncate(respBody)}
	}
	return respBody, nil
}

func truncate(b []byte) string {
	const max = 200
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}

func (s *HTTPStore) Ping(ctx context.Context) error {
	_, err := s.do(ctx, http.MethodGet, s.bucketURL(), nil)
	if err != nil {
		return fmt.Errorf("pinging document store: %w", err)
	}
	return nil
}

func (s *HTTPStore) Upsert(ctx context.Context, doc *Document) error {
	if err := validateForWrite(doc); err != nil {
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= upsertAttempts; attempt++ {
		_, err := s.do(ctx, http.MethodPut, s.docURL(doc.DocumentID), doc)
		if err == nil {
			return nil
		}
		lastErr = err
		if !isTransient(err) || attempt == upsertAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * 200 * time.Millisecond):
		}
	}
	return fmt.Errorf("upserting %s: %w", doc.DocumentID, lastErr)
}

func (s *HTTPStore) Get(ctx context.Context, id string) (*Document, error) {
	body, err := s.do(ctx, http.MethodGet, s.docURL(id), nil)
	if err != nil {
		if he, ok := err.(*httpError); ok && he.Status == http.StatusNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting %s: %w", id, err)
	}
	var doc Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", id, err)
	}
	return &doc, nil
}

// selector converts a query into the flat match object the _find endpoint
// accepts.
func (q Query) selector() map[string]string {
	sel := make(map[string]string)
	if q.RepoID != "" {
		sel["repo_id"] = q.RepoID
	}
	if q.Type != "" {
		sel["type"] = string(q.Type)
	}
	if q.FilePath != "" {
		sel["file_path"] = q.FilePath
	}
	if q.ModulePath != "" {
		sel["module_path"] = q.ModulePath
	}
	return sel
}

type findRequest struct {
	Selector map[string]string `json:"selector"`
	Fields   []string          `json:"fields,omitempty"`
	Limit    int               `json:"limit,omitempty"`
}

func (s *HTTPStore) find(ctx context.Context, req findRequest) ([]json.RawMessage, error) {
	body, err := s.do(ctx, http.MethodPost, s.bucketURL()+"/_find", req)
	if err != nil {
		return nil, err
	}
	var result struct {
		Docs []json.RawMessage `json:"docs"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decoding find response: %w", err)
	}
	return result.Docs, nil
}

func (s *HTTPStore) FindOne(ctx context.Context, q Query) (*Document, error) {
	raw, err := s.find(ctx, findRequest{Selector: q.selector(), Limit: 1})
	if err != nil {
		return nil, fmt.Errorf("finding document: %w", err)
	}
	if len(raw) == 0 {
		return nil, ErrNotFound
	}
	var doc Document
	if err := json.Unmarshal(raw[0], &doc); err != nil {
		return nil, fmt.Errorf("decoding find result: %w", err)
	}
	return &doc, nil
}

func (s *HTTPStore) List(ctx context.Context, q Query) ([]*Document, error) {
	raw, err := s.find(ctx, findRequest{Selector: q.selector()})
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	docs := make([]*Document, 0, len(raw))
	for _, r := range raw {
		var doc Document
		if err := json.Unmarshal(r, &doc); err != nil {
			return nil, fmt.Errorf("decoding list result: %w", err)
		}
		docs = append(docs, &doc)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].DocumentID < docs[j].DocumentID })
	return docs, nil
}

func (s *HTTPStore) ListRepoIDs(ctx context.Context) ([]string, error) {
	raw, err := s.find(ctx, findRequest{
		Selector: Query{Type: TypeRepoSummary}.selector(),
		Fields:   []string{"repo_id"},
	})
	if err != nil {
		return nil, fmt.Errorf("listing repo ids: %w", err)
	}
	seen := make(map[string]bool)
	var ids []string
	for _, r := range raw {
		var row struct {
			RepoID string `json:"repo_id"`
		}
		if err := json.Unmarshal(r, &row); err != nil {
			return nil, fmt.Errorf("decoding repo id row: %w", err)
		}
		if row.RepoID != "" && !seen[row.RepoID] {
			seen[row.RepoID] = true
			ids = append(ids, row.RepoID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *HTTPStore) DeleteByQuery(ctx context.Context, q Query) (int, error) {
	sel := q.selector()
	if len(sel) == 0 {
		return 0, errors.New("delete requires at least one filter")
	}
	raw, err := s.find(ctx, findRequest{Selector: sel, Fields: []string{"document_id"}})
	if err != nil {
		return 0, fmt.Errorf("querying for delete: %w", err)
	}

	deleted := 0
	for _, r := range raw {
		var row struct {
			DocumentID string `json:"document_id"`
		}
		if err := json.Unmarshal(r, &row); err != nil {
			return deleted, fmt.Errorf("decoding delete row: %w", err)
		}
		if row.DocumentID == "" {
			continue
		}
		if _, err := s.do(ctx, http.MethodDelete, s.docURL(row.DocumentID), nil); err != nil {
			if he, ok := err.(*httpError); ok && he.Status == http.StatusNotFound {
				continue
			}
			return deleted, fmt.Errorf("deleting %s: %w", row.DocumentID, err)
		}
		deleted++
	}
	return deleted, nil
}

func (s *HTTPStore) CountBy(ctx context.Context, q Query) (int, error) {
	raw, err := s.find(ctx, findRequest{Selector: q.selector(), Fields: []string{"document_id"}})
	if err != nil {
		return 0, fmt.Errorf("counting documents: %w", err)
	}
	return len(raw), nil
}

type searchRequest struct {
	Selector map[string]string `json:"selector"`
	Vector   []float32         `json:"vector"`
	K        int               `json:"k"`
}

func (s *HTTPStore) Search(ctx context.Context, q Query, vector []float32, k int) ([]SearchResult, error) {
	body, err := s.do(ctx, http.MethodPost, s.bucketURL()+"/_search", searchRequest{
		Selector: q.selector(),
		Vector:   vector,
		K:        k,
	})
	if err != nil {
		return nil, fmt.Errorf("searching: %w", err)
	}
	var result struct {
		Hits []struct {
			ID    string  `json:"id"`
			Score float32 `json:"score"`
		} `json:"hits"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}
	hits := make([]SearchResult, len(result.Hits))
	for i, h := range result.Hits {
		hits[i] = SearchResult{ID: h.ID, Score: h.Score}
	}
	return hits, nil
}

func (s *HTTPStore) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
