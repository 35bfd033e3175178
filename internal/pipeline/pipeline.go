// Package pipeline orchestrates ingestion runs: it reconciles the
// repository set, processes files through parsing, enrichment and
// embedding, aggregates the document hierarchy and records every run in
// the audit log. Repositories are handled sequentially; files within a
// repository fan out to a bounded worker group.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/Jeffail/tunny"

	"github.com/raglet/raglet/internal/auditlog"
	"github.com/raglet/raglet/internal/config"
	"github.com/raglet/raglet/internal/criticality"
	"github.com/raglet/raglet/internal/docstore"
	"github.com/raglet/raglet/internal/embeddings"
	"github.com/raglet/raglet/internal/enrich"
	"github.com/raglet/raglet/internal/gitcli"
	"github.com/raglet/raglet/internal/parser"
	"github.com/raglet/raglet/internal/progress"
	"github.com/raglet/raglet/internal/reconcile"
	"github.com/raglet/raglet/internal/runlock"
)

// Options selects what a run covers.
type Options struct {
	// Repo restricts the run to one repository id; empty means the full
	// reconciled set.
	Repo string
	// SkipExisting passes over repos that already have a summary at the
	// clone's local head, without fetching.
	SkipExisting bool
}

// Report is what a finished run hands back to the command layer. The
// same numbers are persisted on the ingestion_log document.
type Report struct {
	RunID    string
	Status   auditlog.Status
	Duration time.Duration
	Counters map[string]int64
	Errors   []string
}

// Interrupted reports whether the run was stopped by a signal.
func (r *Report) Interrupted() bool { return r.Status == auditlog.StatusInterrupted }

// Deps bundles everything a Pipeline needs. Cache, Scorer and Reporter
// are optional.
type Deps struct {
	Config   *config.Config
	Git      gitcli.Runner
	Cache    *gitcli.CommitCache
	Store    docstore.Store
	Enricher *enrich.Enricher
	Engine   *embeddings.Engine
	Parser   *parser.Parser
	Planner  *reconcile.Planner
	Detector *reconcile.Detector
	Recorder *auditlog.Recorder
	Scorer   *criticality.Scorer
	Reporter progress.Reporter
	Logger   *slog.Logger
	Version  string
}

// Pipeline is the ingestion orchestrator. One Pipeline runs one ingestion
// at a time; the run lock additionally keeps concurrent processes out.
type Pipeline struct {
	cfg        *config.Config
	git        gitcli.Runner
	cache      *gitcli.CommitCache
	store      docstore.Store
	enricher   *enrich.Enricher
	detector   *reconcile.Detector
	planner    *reconcile.Planner
	recorder   *auditlog.Recorder
	scorer     *criticality.Scorer
	reporter   progress.Reporter
	logger     *slog.Logger
	version    string
	pool       *tunny.Pool
	parser     *parser.Parser
	processor  *processor
	aggregator *aggregator

	stopping atomic.Bool
}

// New wires a Pipeline from its dependencies.
func New(deps Deps) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	reporter := deps.Reporter
	if reporter == nil {
		reporter = progress.Silent{}
	}
	cfg := deps.Config

	p := &Pipeline{
		cfg:      cfg,
		git:      deps.Git,
		cache:    deps.Cache,
		store:    deps.Store,
		enricher: deps.Enricher,
		detector: deps.Detector,
		planner:  deps.Planner,
		recorder: deps.Recorder,
		scorer:   deps.Scorer,
		reporter: reporter,
		logger:   logger,
		version:  deps.Version,
		parser:   deps.Parser,
	}
	p.pool = tunny.NewFunc(cfg.ParseWorkers, p.parseWorker)
	p.processor = &processor{
		git:      deps.Git,
		cache:    deps.Cache,
		store:    deps.Store,
		enricher: deps.Enricher,
		engine:   deps.Engine,
		detector: parser.NewDetector(parser.DetectorConfig{
			MinBytes:          cfg.Underchunk.MinBytes,
			MaxLinesPerSymbol: cfg.Underchunk.MaxLinesPerSymbol,
			MaxFormatCalls:    cfg.Underchunk.FormatCalls,
		}),
		pool: p.pool,
		cfg: processorConfig{
			SymbolMinLines:     cfg.SymbolMinLines,
			LLMChunking:        cfg.Underchunk.LLMChunking,
			MinChunkConfidence: cfg.Underchunk.MinChunkConfidence,
		},
		version: deps.Version,
		logger:  logger,
		stopped: p.stopping.Load,
	}
	p.aggregator = &aggregator{
		store:    deps.Store,
		enricher: deps.Enricher,
		engine:   deps.Engine,
		version:  deps.Version,
		logger:   logger,
		stopped:  p.stopping.Load,
	}
	return p
}

// Close releases the parse worker pool.
func (p *Pipeline) Close() {
	p.pool.Close()
}

// Stop asks the run to drain: workers finish the step they are on, no new
// work starts, and the run finalizes as interrupted.
func (p *Pipeline) Stop() {
	if p.stopping.CompareAndSwap(false, true) {
		p.logger.Info("pipeline.stopping")
	}
}

// Run executes one ingestion. It returns an error only for fatal
// preconditions (lock held, store unreachable, audit write failed);
// everything else is recorded on the report.
func (p *Pipeline) Run(ctx context.Context, opts Options) (*Report, error) {
	lock, err := runlock.Acquire(p.cfg.RunLockPath, p.logger)
	if err != nil {
		return nil, fmt.Errorf("acquiring run lock: %w", err)
	}
	defer func() {
		if rerr := lock.Release(); rerr != nil {
			p.logger.Warn("pipeline.lock_release", "error", rerr)
		}
	}()

	if err := p.store.Ping(ctx); err != nil {
		return nil, fmt.Errorf("document store unreachable: %w", err)
	}
	if _, err := p.recorder.MarkInterrupted(ctx); err != nil {
		p.logger.Warn("pipeline.mark_interrupted", "error", err)
	}

	run, err := p.recorder.Begin(ctx)
	if err != nil {
		return nil, err
	}
	tokenBase := p.enricher.TokensUsed()

	actions, err := p.plan(ctx, opts)
	if err != nil {
		run.Errorf("planning: %v", err)
		status := p.settle(ctx, run, tokenBase, auditlog.StatusFailed)
		return p.report(run, status), fmt.Errorf("planning: %w", err)
	}

	for _, action := range actions {
		if p.stopping.Load() || ctx.Err() != nil {
			break
		}
		p.dispatch(ctx, run, opts, action)
	}

	status := p.settle(ctx, run, tokenBase, "")
	return p.report(run, status), nil
}

// settle stamps the trailing bookkeeping onto the run, derives the
// terminal status unless the caller forces one, and finalizes the record.
func (p *Pipeline) settle(ctx context.Context, run *auditlog.Run, tokenBase int64, forced auditlog.Status) auditlog.Status {
	if ev := p.enricher.BreakerEvent(); ev != "" {
		run.AddError(ev)
	}
	if used := p.enricher.TokensUsed() - tokenBase; used > 0 {
		run.Add(auditlog.CounterTokensUsed, used)
	}

	status := forced
	if status == "" {
		status = run.Outcome()
		if p.stopping.Load() || ctx.Err() != nil {
			status = auditlog.StatusInterrupted
		}
	}
	if err := p.recorder.Finalize(ctx, run, status); err != nil {
		p.logger.Error("pipeline.finalize", "run_id", run.ID(), "error", err)
	}
	return status
}

func (p *Pipeline) report(run *auditlog.Run, status auditlog.Status) *Report {
	return &Report{
		RunID:    run.ID(),
		Status:   status,
		Duration: time.Since(run.StartedAt()),
		Counters: run.Counters(),
		Errors:   run.Errors(),
	}
}

// plan resolves the action list: the reconciler's for a batch run, a
// synthesized one for a single named repository.
func (p *Pipeline) plan(ctx context.Context, opts Options) ([]reconcile.Action, error) {
	if opts.Repo == "" {
		return p.planner.Plan(ctx)
	}
	if _, err := os.Stat(p.repoDir(opts.Repo)); err != nil {
		if os.IsNotExist(err) {
			return []reconcile.Action{{RepoID: opts.Repo, Kind: reconcile.ActionClone, Reason: "not on disk"}}, nil
		}
		return nil, fmt.Errorf("inspecting clone of %s: %w", opts.Repo, err)
	}
	return []reconcile.Action{{RepoID: opts.Repo, Kind: reconcile.ActionProcess, Reason: "requested"}}, nil
}

func (p *Pipeline) dispatch(ctx context.Context, run *auditlog.Run, opts Options, action reconcile.Action) {
	switch action.Kind {
	case reconcile.ActionClone:
		run.Add(auditlog.CounterReposCloned, 1)
		dir := p.repoDir(action.RepoID)
		if err := p.git.Clone(ctx, gitcli.CloneURL(action.RepoID, p.cfg.GitCredential), dir); err != nil {
			p.repoFailed(run, action.RepoID, fmt.Errorf("cloning: %w", err))
			return
		}
		if err := p.processRepo(ctx, run, opts, action.RepoID); err != nil {
			p.repoFailed(run, action.RepoID, err)
		}
	case reconcile.ActionProcess:
		if err := p.processRepo(ctx, run, opts, action.RepoID); err != nil {
			p.repoFailed(run, action.RepoID, err)
		}
	case reconcile.ActionDeleteIndexed:
		if err := p.purgeRepo(ctx, run, action.RepoID); err != nil {
			p.repoFailed(run, action.RepoID, err)
		}
	case reconcile.ActionIgnore:
		p.logger.Debug("pipeline.orphan_clone", "repo_id", action.RepoID, "reason", action.Reason)
	}
}

func (p *Pipeline) repoFailed(run *auditlog.Run, repoID string, err error) {
	run.Add(auditlog.CounterReposError, 1)
	run.Errorf("%s: repo %s: %v", Classify(err), repoID, err)
	p.logger.Error("pipeline.repo_failed", "repo_id", repoID, "class", string(Classify(err)), "error", err)
}

func (p *Pipeline) repoDir(repoID string) string {
	return filepath.Join(p.cfg.ReposPath, gitcli.RepoDir(repoID))
}

// parseWorker runs on the CPU-bound pool shared by all file workers.
func (p *Pipeline) parseWorker(payload any) any {
	task := payload.(parseTask)
	result, err := p.parser.Parse(task.ctx, task.path, task.language, task.content)
	return parseOut{result: result, err: err}
}
