// Package docstore persists the document hierarchy produced by ingestion.
// Two backends implement the same interface: an HTTP adapter for a hosted
// schema-less document store and an embedded SQLite + chromem-go store for
// single-host setups.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/raglet/raglet/internal/embeddings"
)

// Type discriminates the document hierarchy.
type Type string

const (
	TypeRepoSummary   Type = "repo_summary"
	TypeModuleSummary Type = "module_summary"
	TypeFileIndex     Type = "file_index"
	TypeSymbolIndex   Type = "symbol_index"
	TypeDocument      Type = "document"
	TypeIngestionLog  Type = "ingestion_log"
)

// SchemaVersion is stamped into every written document. Bump it when the
// wire format changes incompatibly.
const SchemaVersion = 1

// ErrNotFound reports that no document matched. It is a normal signal on
// read paths, not a failure.
var ErrNotFound = errors.New("document not found")

// Document is the persisted unit. The wire format is its JSON
// serialization; DocumentID doubles as the store's primary key.
type Document struct {
	DocumentID  string    `json:"document_id"`
	Type        Type      `json:"type"`
	RepoID      string    `json:"repo_id"`
	CommitHash  string    `json:"commit_hash"`
	Content     string    `json:"content"`
	Embedding   []float32 `json:"embedding,omitempty"`
	ParentID    string    `json:"parent_id,omitempty"`
	ChildrenIDs []string  `json:"children_ids,omitempty"`

	FilePath   string `json:"file_path,omitempty"`
	ModulePath string `json:"module_path,omitempty"`
	SymbolName string `json:"symbol_name,omitempty"`
	SymbolType string `json:"symbol_type,omitempty"`
	Section    string `json:"section,omitempty"`

	CriticalityScore  *float64 `json:"criticality_score,omitempty"`
	ProtectFromUpdate bool     `json:"protect_from_update,omitempty"`

	Metadata Metadata `json:"metadata"`
	Quality  Quality  `json:"quality"`
	Version  Version  `json:"version"`
}

// Metadata is the type-specific bag. Fields that do not apply to a
// document type stay zero and are omitted on the wire.
type Metadata struct {
	// repo_summary
	TotalFiles int      `json:"total_files,omitempty"`
	Modules    []string `json:"modules,omitempty"`
	TechStack  []string `json:"tech_stack,omitempty"`

	// module_summary
	FileCount int      `json:"file_count,omitempty"`
	KeyFiles  []string `json:"key_files,omitempty"`

	// file_index
	Language  string       `json:"language,omitempty"`
	LineCount int          `json:"line_count,omitempty"`
	Imports   []string     `json:"imports,omitempty"`
	Symbols   []SymbolMeta `json:"symbols,omitempty"`

	// symbol_index
	StartLine int      `json:"start_line,omitempty"`
	EndLine   int      `json:"end_line,omitempty"`
	Docstring string   `json:"docstring,omitempty"`
	Methods   []string `json:"methods,omitempty"`

	// ingestion_log
	RunID           string           `json:"run_id,omitempty"`
	Status          string           `json:"status,omitempty"`
	PID             int              `json:"pid,omitempty"`
	Hostname        string           `json:"hostname,omitempty"`
	StartedAt       string           `json:"started_at,omitempty"`
	FinishedAt      string           `json:"finished_at,omitempty"`
	DurationSeconds float64          `json:"duration_seconds,omitempty"`
	Counters        map[string]int64 `json:"counters,omitempty"`
	Errors          []string         `json:"errors,omitempty"`
}

// SymbolMeta is one entry of a file_index symbol table. Every parsed
// symbol appears here, significant or not.
type SymbolMeta struct {
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	StartLine   int    `json:"start_line"`
	EndLine     int    `json:"end_line"`
	Significant bool   `json:"significant"`
}

// Quality records how the document's content was produced.
type Quality struct {
	EnrichmentLevel string `json:"enrichment_level"`
	LLMAvailable    bool   `json:"llm_available"`
	SummarySource   string `json:"summary_source"`
}

// Version pins the schema and pipeline that wrote the document.
type Version struct {
	SchemaVersion   int       `json:"schema_version"`
	PipelineVersion string    `json:"pipeline_version"`
	CreatedAt       time.Time `json:"created_at"`
}

// Query narrows list, count and delete operations. Zero fields match
// everything.
type Query struct {
	RepoID     string
	Type       Type
	FilePath   string
	ModulePath string
}

// SearchResult is one ranked hit from a vector search.
type SearchResult struct {
	ID    string
	Score float32
}

// Store is the adapter every pipeline component writes through.
type Store interface {
	// Ping verifies the store is reachable; runs fail fast when it is not.
	Ping(ctx context.Context) error

	// Upsert writes a document keyed by its DocumentID, retrying
	// transient failures. Documents with a non-unit embedding are
	// rejected before any network traffic.
	Upsert(ctx context.Context, doc *Document) error

	// Get fetches one document by ID; ErrNotFound when absent.
	Get(ctx context.Context, id string) (*Document, error)

	// FindOne returns the first document matching the query;
	// ErrNotFound when none does.
	FindOne(ctx context.Context, q Query) (*Document, error)

	// List returns every document matching the query, ordered by ID.
	List(ctx context.Context, q Query) ([]*Document, error)

	// ListRepoIDs returns the repo IDs that have a repo_summary.
	ListRepoIDs(ctx context.Context) ([]string, error)

	// DeleteByQuery removes matching documents and reports how many.
	DeleteByQuery(ctx context.Context, q Query) (int, error)

	// CountBy counts matching documents.
	CountBy(ctx context.Context, q Query) (int, error)

	// Search ranks documents by dot-product similarity to vector.
	Search(ctx context.Context, q Query, vector []float32, k int) ([]SearchResult, error)

	// Close releases backend resources.
	Close() error
}

// validateForWrite enforces the write-path invariants shared by all
// backends: a primary key and, when present, a unit-length embedding.
func validateForWrite(doc *Document) error {
	if doc.DocumentID == "" {
		return errors.New("document missing document_id")
	}
	if doc.Type == "" {
		return fmt.Errorf("document %s missing type", doc.DocumentID)
	}
	if len(doc.Embedding) > 0 && !embeddings.IsNormalized(doc.Embedding) {
		return fmt.Errorf("document %s: embedding is not unit length (norm %.6f)", doc.DocumentID, embeddings.Norm(doc.Embedding))
	}
	return nil
}
