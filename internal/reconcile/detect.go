package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/raglet/raglet/internal/docstore"
	"github.com/raglet/raglet/internal/gitcli"
)

// DefaultThreshold is the changed-file ratio above which an update stops
// being surgical and re-ingests the whole repo.
const DefaultThreshold = 0.05

// Strategy is how much of an already indexed repository to reprocess.
type Strategy string

const (
	StrategySkip     Strategy = "skip"
	StrategyFull     Strategy = "full"
	StrategySurgical Strategy = "surgical"
)

// Decision is the detector's verdict for one repository. Commit is the
// tip the run must index; Changes is populated for surgical updates.
type Decision struct {
	Strategy Strategy
	Commit   string
	Stored   string
	Changes  []gitcli.Change
	Ratio    float64
}

// Detector compares a clone against what the index recorded for it.
type Detector struct {
	git       gitcli.Runner
	store     docstore.Store
	threshold float64
	logger    *slog.Logger
}

// NewDetector returns a Detector. A non-positive threshold falls back to
// DefaultThreshold.
func NewDetector(git gitcli.Runner, store docstore.Store, threshold float64, logger *slog.Logger) *Detector {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{git: git, store: store, threshold: threshold, logger: logger}
}

// Detect fetches the remote and decides the update strategy for the clone
// at dir. A repo with no stored summary is ingested whole; a stored
// commit the clone can no longer resolve (shallow history moved on) also
// forces a full re-ingest.
func (d *Detector) Detect(ctx context.Context, repoID, dir string) (Decision, error) {
	stored := ""
	totalFiles := 0
	summary, err := d.store.FindOne(ctx, docstore.Query{RepoID: repoID, Type: docstore.TypeRepoSummary})
	switch {
	case err == nil:
		stored = summary.CommitHash
		totalFiles = summary.Metadata.TotalFiles
	case errors.Is(err, docstore.ErrNotFound):
	default:
		return Decision{}, fmt.Errorf("looking up stored summary for %s: %w", repoID, err)
	}

	if err := d.git.Fetch(ctx, dir); err != nil {
		return Decision{}, fmt.Errorf("fetching %s: %w", repoID, err)
	}
	head, err := d.git.FetchedHead(ctx, dir)
	if err != nil {
		return Decision{}, fmt.Errorf("resolving head of %s: %w", repoID, err)
	}

	if stored == "" {
		return d.decided(repoID, Decision{Strategy: StrategyFull, Commit: head}), nil
	}
	if stored == head {
		return d.decided(repoID, Decision{Strategy: StrategySkip, Commit: head, Stored: stored}), nil
	}

	changes, err := d.git.DiffNameStatus(ctx, dir, stored, head)
	if err != nil {
		if gitcli.IsUnknownRevision(err) {
			d.logger.Info("reconcile.stored_commit_unreachable", "repo_id", repoID, "stored", stored)
			return d.decided(repoID, Decision{Strategy: StrategyFull, Commit: head, Stored: stored}), nil
		}
		return Decision{}, fmt.Errorf("diffing %s %s..%s: %w", repoID, stored, head, err)
	}

	decision := Decision{Commit: head, Stored: stored, Changes: changes}
	if totalFiles > 0 {
		decision.Ratio = float64(len(changes)) / float64(totalFiles)
	}
	if totalFiles <= 0 || decision.Ratio > d.threshold {
		decision.Strategy = StrategyFull
		decision.Changes = nil
		return d.decided(repoID, decision), nil
	}
	decision.Strategy = StrategySurgical
	return d.decided(repoID, decision), nil
}

// SkipExisting reports whether the repo already has a summary at the
// clone's local head. It never touches the network, which is the point:
// it lets a re-run of a large batch pass over finished repos cheaply.
func (d *Detector) SkipExisting(ctx context.Context, repoID, dir string) (bool, error) {
	summary, err := d.store.FindOne(ctx, docstore.Query{RepoID: repoID, Type: docstore.TypeRepoSummary})
	if errors.Is(err, docstore.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("looking up stored summary for %s: %w", repoID, err)
	}
	head, err := d.git.Head(ctx, dir)
	if err != nil {
		return false, fmt.Errorf("resolving head of %s: %w", repoID, err)
	}
	return summary.CommitHash == head, nil
}

func (d *Detector) decided(repoID string, decision Decision) Decision {
	d.logger.Info("reconcile.detect",
		"repo_id", repoID,
		"strategy", string(decision.Strategy),
		"commit", decision.Commit,
		"changed", len(decision.Changes),
		"ratio", decision.Ratio)
	return decision
}
