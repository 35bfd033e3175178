package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/raglet/raglet/internal/auditlog"
	"github.com/raglet/raglet/internal/docstore"
	"github.com/raglet/raglet/internal/gitcli"
	"github.com/raglet/raglet/internal/progress"
	"github.com/raglet/raglet/internal/reconcile"
	"github.com/raglet/raglet/internal/walker"
)

// processRepo runs change detection for one clone and applies the chosen
// strategy. Counters are bumped per strategy; repos_processed covers every
// repo that reached this point, including ones detection later skips.
func (p *Pipeline) processRepo(ctx context.Context, run *auditlog.Run, opts Options, repoID string) error {
	run.Add(auditlog.CounterReposProcessed, 1)
	dir := p.repoDir(repoID)

	if opts.SkipExisting {
		done, err := p.detector.SkipExisting(ctx, repoID, dir)
		if err != nil {
			return err
		}
		if done {
			run.Add(auditlog.CounterReposSkipped, 1)
			p.logger.Info("pipeline.skip_existing", "repo_id", repoID)
			return nil
		}
	}

	decision, err := p.detector.Detect(ctx, repoID, dir)
	if err != nil {
		return err
	}

	switch decision.Strategy {
	case reconcile.StrategySkip:
		run.Add(auditlog.CounterReposSkipped, 1)
		return nil
	case reconcile.StrategyFull:
		run.Add(auditlog.CounterReposFullReingest, 1)
		if err := p.fullIngest(ctx, run, repoID, dir, decision.Commit); err != nil {
			return err
		}
	case reconcile.StrategySurgical:
		run.Add(auditlog.CounterReposUpdated, 1)
		if err := p.surgicalUpdate(ctx, run, repoID, dir, decision); err != nil {
			return err
		}
	}

	if p.stopping.Load() || ctx.Err() != nil {
		return nil
	}
	if p.scorer != nil {
		if _, err := p.scorer.Score(ctx, repoID); err != nil {
			p.logger.Warn("pipeline.criticality", "repo_id", repoID, "error", err)
		}
	}
	return nil
}

// fullIngest walks the clone and processes every selected file at the
// pinned commit, then reconciles deletions and rebuilds the hierarchy.
// File contents are read with `git show` at the pin, so a working tree
// that drifted from it (checkout left behind by an operator, failed
// earlier run) would serve stale bytes; when the local HEAD disagrees
// with the pin the clone is thrown away and re-cloned first.
func (p *Pipeline) fullIngest(ctx context.Context, run *auditlog.Run, repoID, dir, head string) error {
	local, err := p.git.Head(ctx, dir)
	if err != nil {
		return fmt.Errorf("resolving local head: %w", err)
	}
	if local != head {
		p.logger.Info("pipeline.reclone", "repo_id", repoID, "local", local, "pinned", head)
		if err := p.reclone(ctx, repoID, dir); err != nil {
			return err
		}
		if head, err = p.git.Head(ctx, dir); err != nil {
			return fmt.Errorf("resolving head after re-clone: %w", err)
		}
	}

	files, err := walker.Walk(walker.Config{
		RootDir: dir,
		Include: p.cfg.Include,
		Exclude: p.cfg.Exclude,
	})
	if err != nil {
		return fmt.Errorf("walking clone: %w", err)
	}

	jobs := make([]FileJob, 0, len(files))
	current := make(map[string]bool, len(files))
	for _, f := range files {
		current[f.RelPath] = true
		jobs = append(jobs, FileJob{
			RepoID:   repoID,
			Dir:      dir,
			RelPath:  f.RelPath,
			Language: f.Language,
			Head:     head,
		})
	}
	p.logger.Info("pipeline.full_ingest", "repo_id", repoID, "commit", head, "files", len(jobs))

	p.reporter.Start(repoID, len(jobs))
	p.processFiles(ctx, run, jobs)
	p.reporter.Finish()
	if p.stopping.Load() || ctx.Err() != nil {
		return nil
	}

	if err := p.pruneStale(ctx, run, repoID, current); err != nil {
		return err
	}
	if err := p.aggregate(ctx, repoID, head); err != nil {
		return err
	}
	p.pruneCache(repoID, head)
	return nil
}

// surgicalUpdate reprocesses only the files the diff names. Deletions and
// rename sources are purged; added, modified and rename targets are
// re-run through the same file processor a full ingest uses, then the
// hierarchy is rebuilt on top of the surviving documents.
func (p *Pipeline) surgicalUpdate(ctx context.Context, run *auditlog.Run, repoID, dir string, decision reconcile.Decision) error {
	head := decision.Commit
	p.logger.Info("pipeline.surgical_update",
		"repo_id", repoID,
		"from", decision.Stored,
		"to", head,
		"changed", len(decision.Changes))

	var jobs []FileJob
	for _, ch := range decision.Changes {
		switch ch.Status {
		case gitcli.StatusDeleted:
			p.deletePath(ctx, run, repoID, ch.Path)
			continue
		case gitcli.StatusRenamed:
			p.deletePath(ctx, run, repoID, ch.OldPath)
		}
		if !p.selectable(ch.Path) {
			// A path the filters now reject may still carry documents
			// from before the filter change.
			p.deletePath(ctx, run, repoID, ch.Path)
			continue
		}
		jobs = append(jobs, FileJob{
			RepoID:  repoID,
			Dir:     dir,
			RelPath: ch.Path,
			Head:    head,
		})
	}

	p.reporter.Start(repoID, len(jobs))
	p.processFiles(ctx, run, jobs)
	p.reporter.Finish()
	if p.stopping.Load() || ctx.Err() != nil {
		return nil
	}

	if err := p.aggregate(ctx, repoID, head); err != nil {
		return err
	}
	p.pruneCache(repoID, head)
	return nil
}

// processFiles fans jobs out to at most ConcurrencyFiles workers. Workers
// never fail the group: every per-file outcome lands on the run record
// and the next file proceeds, so one broken file cannot sink a repo.
func (p *Pipeline) processFiles(ctx context.Context, run *auditlog.Run, jobs []FileJob) {
	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, p.cfg.ConcurrencyFiles)

dispatch:
	for _, job := range jobs {
		if p.stopping.Load() {
			break
		}
		select {
		case sem <- struct{}{}:
		case <-gctx.Done():
			break dispatch
		}
		job := job
		g.Go(func() error {
			defer func() { <-sem }()
			p.recordFile(run, p.processor.Process(gctx, job))
			return nil
		})
	}
	_ = g.Wait()
}

func (p *Pipeline) recordFile(run *auditlog.Run, res FileResult) {
	switch res.Status {
	case FileOK:
		run.Add(auditlog.CounterFilesProcessed, 1)
		p.reporter.File(res.Path, progress.StatusOK, res.Symbols)
		if res.Reason != "" {
			p.logger.Warn("pipeline.file_warning", "path", res.Path, "detail", res.Reason)
		}
	case FileSkipped:
		p.reporter.File(res.Path, progress.StatusSkipped, 0)
		p.logger.Debug("pipeline.file_skipped", "path", res.Path, "reason", res.Reason)
	case FileError:
		run.Errorf("%s: %s: %v", Classify(res.Err), res.Path, res.Err)
		p.reporter.File(res.Path, progress.StatusError, 0)
		p.logger.Error("pipeline.file_failed", "path", res.Path, "error", res.Err)
	case FileStopped:
		// Drained before finishing; the next run picks it up.
	}
}

// aggregate rebuilds module and repo summaries. A drain during
// aggregation is not an error: the stored repo commit stays old, so the
// next run redoes the missing levels.
func (p *Pipeline) aggregate(ctx context.Context, repoID, head string) error {
	err := p.aggregator.Aggregate(ctx, repoID, head)
	if errors.Is(err, errStopped) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("aggregating %s: %w", repoID, err)
	}
	return nil
}

// pruneStale removes documents for paths a full ingest no longer walked:
// deleted files, but also paths newly caught by exclude filters.
func (p *Pipeline) pruneStale(ctx context.Context, run *auditlog.Run, repoID string, current map[string]bool) error {
	seen := make(map[string]bool)
	for _, t := range []docstore.Type{docstore.TypeFileIndex, docstore.TypeDocument} {
		docs, err := p.store.List(ctx, docstore.Query{RepoID: repoID, Type: t})
		if err != nil {
			return fmt.Errorf("listing %s documents: %w", t, err)
		}
		for _, doc := range docs {
			if doc.FilePath == "" || current[doc.FilePath] || seen[doc.FilePath] {
				continue
			}
			seen[doc.FilePath] = true
			p.deletePath(ctx, run, repoID, doc.FilePath)
		}
	}
	return nil
}

// deletePath purges every document rooted at one file path and counts the
// deletion when anything was actually removed.
func (p *Pipeline) deletePath(ctx context.Context, run *auditlog.Run, repoID, relPath string) {
	total := 0
	for _, t := range []docstore.Type{docstore.TypeSymbolIndex, docstore.TypeFileIndex, docstore.TypeDocument} {
		n, err := p.store.DeleteByQuery(ctx, docstore.Query{RepoID: repoID, Type: t, FilePath: relPath})
		if err != nil {
			run.Errorf("%s: deleting documents for %s: %v", ClassOperation, relPath, err)
			return
		}
		total += n
	}
	if total > 0 {
		run.Add(auditlog.CounterFilesDeleted, 1)
		p.logger.Debug("pipeline.path_deleted", "repo_id", repoID, "path", relPath, "documents", total)
	}
}

// purgeRepo removes every document a repository owns. Run records live
// under their own repo id and are never touched.
func (p *Pipeline) purgeRepo(ctx context.Context, run *auditlog.Run, repoID string) error {
	n, err := p.store.DeleteByQuery(ctx, docstore.Query{RepoID: repoID})
	if err != nil {
		return fmt.Errorf("purging documents: %w", err)
	}
	run.Add(auditlog.CounterReposDeleted, 1)
	p.pruneCache(repoID, "")
	p.logger.Info("pipeline.repo_purged", "repo_id", repoID, "documents", n)
	return nil
}

// reclone discards the clone directory and clones fresh.
func (p *Pipeline) reclone(ctx context.Context, repoID, dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("removing stale clone: %w", err)
	}
	if err := p.git.Clone(ctx, gitcli.CloneURL(repoID, p.cfg.GitCredential), dir); err != nil {
		return fmt.Errorf("re-cloning: %w", err)
	}
	return nil
}

func (p *Pipeline) pruneCache(repoID, head string) {
	if p.cache == nil {
		return
	}
	if err := p.cache.Prune(repoID, head); err != nil {
		p.logger.Warn("pipeline.cache_prune", "repo_id", repoID, "error", err)
	}
}

// selectable applies the walker's path filters to a diff entry, which
// never went through the walker itself.
func (p *Pipeline) selectable(relPath string) bool {
	if walker.IsVendored(relPath) {
		return false
	}
	if !walker.MatchesInclude(relPath, p.cfg.Include) {
		return false
	}
	if walker.MatchesExclude(relPath, p.cfg.Exclude) {
		return false
	}
	return true
}
