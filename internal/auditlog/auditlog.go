// Package auditlog maintains the ingestion_log record of every pipeline
// run: one document written at start, finalized at the end, and repaired
// at startup when a previous run died without finalizing.
package auditlog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/raglet/raglet/internal/docstore"
	"github.com/raglet/raglet/internal/runlock"
)

// Status is the lifecycle state recorded on an ingestion_log document.
type Status string

const (
	StatusRunning             Status = "running"
	StatusCompleted           Status = "completed"
	StatusCompletedWithErrors Status = "completed_with_errors"
	StatusFailed              Status = "failed"
	StatusInterrupted         Status = "interrupted"
)

// Counter names recorded on a run.
const (
	CounterReposProcessed    = "repos_processed"
	CounterReposSkipped      = "repos_skipped"
	CounterReposUpdated      = "repos_updated"
	CounterReposFullReingest = "repos_full_reingest"
	CounterReposCloned       = "repos_cloned"
	CounterReposDeleted      = "repos_deleted"
	CounterReposError        = "repos_error"
	CounterFilesProcessed    = "files_processed"
	CounterFilesDeleted      = "files_deleted"
	CounterTokensUsed        = "tokens_used"
)

// runRepoID is the repo_id column value for run records, which belong to
// no repository.
const runRepoID = "-"

// Run accumulates the audit state of one ingestion run. Counter and error
// updates are safe from concurrent file workers.
type Run struct {
	id        string
	startedAt time.Time
	pid       int
	hostname  string

	mu       sync.Mutex
	counters map[string]int64
	errors   []string
}

// ID returns the run identifier.
func (r *Run) ID() string { return r.id }

// StartedAt returns the run's start time.
func (r *Run) StartedAt() time.Time { return r.startedAt }

// Add increments a named counter.
func (r *Run) Add(name string, delta int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[name] += delta
}

// AddError appends one entry to the run's errors list.
func (r *Run) AddError(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, msg)
}

// Errorf formats and appends one entry to the run's errors list.
func (r *Run) Errorf(format string, args ...any) {
	r.AddError(fmt.Sprintf(format, args...))
}

// Counters returns a copy of the current counter values.
func (r *Run) Counters() map[string]int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int64, len(r.counters))
	for k, v := range r.counters {
		out[k] = v
	}
	return out
}

// Errors returns a copy of the recorded error entries.
func (r *Run) Errors() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.errors...)
}

// Outcome is the terminal status implied by the run's own bookkeeping:
// completed_with_errors when anything went wrong, completed otherwise.
// Callers override it with failed or interrupted when they know better.
func (r *Run) Outcome() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.errors) > 0 || r.counters[CounterReposError] > 0 {
		return StatusCompletedWithErrors
	}
	return StatusCompleted
}

// Recorder writes run records to the document store.
type Recorder struct {
	store   docstore.Store
	version string
	logger  *slog.Logger

	now   func() time.Time
	alive func(pid int) bool
}

// NewRecorder returns a Recorder stamping documents with the given
// pipeline version. A nil logger falls back to slog.Default().
func NewRecorder(store docstore.Store, version string, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		store:   store,
		version: version,
		logger:  logger,
		now:     time.Now,
		alive:   runlock.Alive,
	}
}

// Begin creates the run record with status running. It is the first store
// write of a run; if it fails, the run must not proceed.
func (r *Recorder) Begin(ctx context.Context) (*Run, error) {
	hostname, _ := os.Hostname()
	run := &Run{
		id:        uuid.New().String(),
		startedAt: r.now().UTC(),
		pid:       os.Getpid(),
		hostname:  hostname,
		counters:  make(map[string]int64),
	}
	if err := r.store.Upsert(ctx, r.document(run, StatusRunning, time.Time{})); err != nil {
		return nil, fmt.Errorf("writing audit record %s: %w", run.id, err)
	}
	r.logger.Info("auditlog.run_started", "run_id", run.id, "pid", run.pid, "hostname", run.hostname)
	return run, nil
}

// Finalize stamps the terminal status, counters and errors onto the run
// record.
func (r *Recorder) Finalize(ctx context.Context, run *Run, status Status) error {
	finished := r.now().UTC()
	if err := r.store.Upsert(ctx, r.document(run, status, finished)); err != nil {
		return fmt.Errorf("finalizing audit record %s: %w", run.id, err)
	}
	r.logger.Info("auditlog.run_finished",
		"run_id", run.id,
		"status", string(status),
		"duration_seconds", finished.Sub(run.startedAt).Seconds())
	return nil
}

// MarkInterrupted finds records still marked running whose process is gone
// and flips them to interrupted. It runs at startup while the run lock is
// held, so a running record is live only if it names a live process on
// this host. Finish time and duration of a dead run are unknown and stay
// unset.
func (r *Recorder) MarkInterrupted(ctx context.Context) (int, error) {
	docs, err := r.store.List(ctx, docstore.Query{Type: docstore.TypeIngestionLog})
	if err != nil {
		return 0, fmt.Errorf("listing run records: %w", err)
	}

	hostname, _ := os.Hostname()
	marked := 0
	for _, doc := range docs {
		if doc.Metadata.Status != string(StatusRunning) {
			continue
		}
		if doc.Metadata.Hostname == hostname && r.alive(doc.Metadata.PID) {
			continue
		}
		doc.Metadata.Status = string(StatusInterrupted)
		if err := r.store.Upsert(ctx, doc); err != nil {
			return marked, fmt.Errorf("marking run %s interrupted: %w", doc.Metadata.RunID, err)
		}
		r.logger.Warn("auditlog.run_interrupted",
			"run_id", doc.Metadata.RunID,
			"pid", doc.Metadata.PID,
			"hostname", doc.Metadata.Hostname,
			"started_at", doc.Metadata.StartedAt)
		marked++
	}
	return marked, nil
}

// document builds the persisted form of a run. A zero finished time means
// the run is still in flight.
func (r *Recorder) document(run *Run, status Status, finished time.Time) *docstore.Document {
	meta := docstore.Metadata{
		RunID:     run.id,
		Status:    string(status),
		PID:       run.pid,
		Hostname:  run.hostname,
		StartedAt: run.startedAt.Format(time.RFC3339),
		Counters:  run.Counters(),
		Errors:    run.Errors(),
	}
	if !finished.IsZero() {
		meta.FinishedAt = finished.Format(time.RFC3339)
		meta.DurationSeconds = finished.Sub(run.startedAt).Seconds()
	}
	return &docstore.Document{
		DocumentID: run.id,
		Type:       docstore.TypeIngestionLog,
		RepoID:     runRepoID,
		Content:    fmt.Sprintf("ingestion run %s (%s)", run.id, status),
		Metadata:   meta,
		Version: docstore.Version{
			SchemaVersion:   docstore.SchemaVersion,
			PipelineVersion: r.version,
			CreatedAt:       run.startedAt,
		},
	}
}
