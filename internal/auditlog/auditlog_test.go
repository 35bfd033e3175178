package auditlog

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/raglet/raglet/internal/docstore"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupRecorder(t *testing.T) (*Recorder, docstore.Store) {
	t.Helper()
	store, err := docstore.OpenMemoryStore(nil)
	if err != nil {
		t.Fatalf("OpenMemoryStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewRecorder(store, "0.3.0", discardLogger()), store
}

func TestBeginWritesRunningRecord(t *testing.T) {
	rec, store := setupRecorder(t)
	ctx := context.Background()

	started := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	rec.now = func() time.Time { return started }

	run, err := rec.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if run.ID() == "" {
		t.Fatal("expected generated run id")
	}
	if !run.StartedAt().Equal(started) {
		t.Errorf("StartedAt = %v, want %v", run.StartedAt(), started)
	}

	doc, err := store.Get(ctx, run.ID())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if doc.Type != docstore.TypeIngestionLog {
		t.Errorf("Type = %q, want %q", doc.Type, docstore.TypeIngestionLog)
	}
	if doc.Metadata.Status != string(StatusRunning) {
		t.Errorf("Status = %q, want %q", doc.Metadata.Status, StatusRunning)
	}
	if doc.Metadata.RunID != run.ID() {
		t.Errorf("RunID = %q, want %q", doc.Metadata.RunID, run.ID())
	}
	if doc.Metadata.PID != os.Getpid() {
		t.Errorf("PID = %d, want %d", doc.Metadata.PID, os.Getpid())
	}
	if doc.Metadata.Hostname == "" {
		t.Error("expected hostname on run record")
	}
	if doc.Metadata.StartedAt != "2026-08-24T10:00:00Z" {
		t.Errorf("StartedAt = %q, want RFC3339 start time", doc.Metadata.StartedAt)
	}
	if doc.Metadata.FinishedAt != "" {
		t.Errorf("FinishedAt = %q, want empty while running", doc.Metadata.FinishedAt)
	}
	if doc.Version.SchemaVersion != docstore.SchemaVersion {
		t.Errorf("SchemaVersion = %d, want %d", doc.Version.SchemaVersion, docstore.SchemaVersion)
	}
	if doc.Version.PipelineVersion != "0.3.0" {
		t.Errorf("PipelineVersion = %q, want %q", doc.Version.PipelineVersion, "0.3.0")
	}
}

func TestFinalizeStampsOutcome(t *testing.T) {
	rec, store := setupRecorder(t)
	ctx := context.Background()

	started := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	rec.now = func() time.Time { return started }

	run, err := rec.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}

	run.Add(CounterReposProcessed, 3)
	run.Add(CounterFilesProcessed, 42)
	run.Add(CounterTokensUsed, 1234)
	run.Errorf("%s: operation: parse failed", "src/broken.py")

	rec.now = func() time.Time { return started.Add(90 * time.Second) }
	if err := rec.Finalize(ctx, run, run.Outcome()); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	doc, err := store.Get(ctx, run.ID())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if doc.Metadata.Status != string(StatusCompletedWithErrors) {
		t.Errorf("Status = %q, want %q", doc.Metadata.Status, StatusCompletedWithErrors)
	}
	if doc.Metadata.Counters[CounterReposProcessed] != 3 {
		t.Errorf("repos_processed = %d, want 3", doc.Metadata.Counters[CounterReposProcessed])
	}
	if doc.Metadata.Counters[CounterFilesProcessed] != 42 {
		t.Errorf("files_processed = %d, want 42", doc.Metadata.Counters[CounterFilesProcessed])
	}
	if doc.Metadata.Counters[CounterTokensUsed] != 1234 {
		t.Errorf("tokens_used = %d, want 1234", doc.Metadata.Counters[CounterTokensUsed])
	}
	if len(doc.Metadata.Errors) != 1 || !strings.Contains(doc.Metadata.Errors[0], "src/broken.py") {
		t.Errorf("Errors = %v, want one entry naming the file", doc.Metadata.Errors)
	}
	if doc.Metadata.FinishedAt != "2026-08-24T10:01:30Z" {
		t.Errorf("FinishedAt = %q, want finalize time", doc.Metadata.FinishedAt)
	}
	if doc.Metadata.DurationSeconds != 90 {
		t.Errorf("DurationSeconds = %v, want 90", doc.Metadata.DurationSeconds)
	}
}

func TestOutcome(t *testing.T) {
	clean := &Run{counters: make(map[string]int64)}
	clean.Add(CounterReposProcessed, 2)
	if got := clean.Outcome(); got != StatusCompleted {
		t.Errorf("clean run Outcome = %q, want %q", got, StatusCompleted)
	}

	withErrors := &Run{counters: make(map[string]int64)}
	withErrors.AddError("something broke")
	if got := withErrors.Outcome(); got != StatusCompletedWithErrors {
		t.Errorf("errored run Outcome = %q, want %q", got, StatusCompletedWithErrors)
	}

	repoFailed := &Run{counters: make(map[string]int64)}
	repoFailed.Add(CounterReposError, 1)
	if got := repoFailed.Outcome(); got != StatusCompletedWithErrors {
		t.Errorf("repo-failed run Outcome = %q, want %q", got, StatusCompletedWithErrors)
	}
}

func TestMarkInterrupted(t *testing.T) {
	rec, store := setupRecorder(t)
	ctx := context.Background()
	hostname, _ := os.Hostname()

	seed := func(id string, status Status, pid int, host string) {
		t.Helper()
		err := store.Upsert(ctx, &docstore.Document{
			DocumentID: id,
			Type:       docstore.TypeIngestionLog,
			RepoID:     runRepoID,
			Metadata: docstore.Metadata{
				RunID:    id,
				Status:   string(status),
				PID:      pid,
				Hostname: host,
			},
		})
		if err != nil {
			t.Fatalf("seeding %s: %v", id, err)
		}
	}
	seed("run-live", StatusRunning, 111, hostname)
	seed("run-dead", StatusRunning, 222, hostname)
	seed("run-foreign", StatusRunning, 333, "other-host")
	seed("run-done", StatusCompleted, 444, hostname)

	rec.alive = func(pid int) bool { return pid == 111 }

	marked, err := rec.MarkInterrupted(ctx)
	if err != nil {
		t.Fatalf("MarkInterrupted: %v", err)
	}
	if marked != 2 {
		t.Errorf("marked = %d, want 2", marked)
	}

	want := map[string]Status{
		"run-live":    StatusRunning,
		"run-dead":    StatusInterrupted,
		"run-foreign": StatusInterrupted,
		"run-done":    StatusCompleted,
	}
	for id, status := range want {
		doc, err := store.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get %s: %v", id, err)
		}
		if doc.Metadata.Status != string(status) {
			t.Errorf("%s status = %q, want %q", id, doc.Metadata.Status, status)
		}
	}
}

func TestMarkInterruptedEmptyStore(t *testing.T) {
	rec, _ := setupRecorder(t)

	marked, err := rec.MarkInterrupted(context.Background())
	if err != nil {
		t.Fatalf("MarkInterrupted: %v", err)
	}
	if marked != 0 {
		t.Errorf("marked = %d, want 0", marked)
	}
}

func TestBeginFailsWhenStoreDown(t *testing.T) {
	rec, store := setupRecorder(t)
	store.Close()

	if _, err := rec.Begin(context.Background()); err == nil {
		t.Fatal("Begin should fail when the store is unreachable")
	}
}

func TestRunCountersConcurrent(t *testing.T) {
	run := &Run{counters: make(map[string]int64)}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				run.Add(CounterFilesProcessed, 1)
				run.Errorf("worker error %d", j)
			}
		}()
	}
	wg.Wait()

	if got := run.Counters()[CounterFilesProcessed]; got != 800 {
		t.Errorf("files_processed = %d, want 800", got)
	}
	if got := len(run.Errors()); got != 800 {
		t.Errorf("errors = %d, want 800", got)
	}
}
