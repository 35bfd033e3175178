package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/raglet/raglet/internal/auditlog"
	"github.com/raglet/raglet/internal/config"
	"github.com/raglet/raglet/internal/docstore"
	"github.com/raglet/raglet/internal/gitcli"
	"github.com/raglet/raglet/internal/pipeline"
	"github.com/raglet/raglet/internal/runlock"
	"github.com/raglet/raglet/internal/walker"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Run the ingestion pipeline over the configured repositories",
	Long: `Reconciles the repository set, detects changes since the last run,
and refreshes the document hierarchy: symbol and file documents,
module summaries, and the repository summary.`,
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().Bool("all", false, "process the full reconciled repository set")
	ingestCmd.Flags().String("repo", "", "process a single repository (owner/name)")
	ingestCmd.Flags().Bool("dry-run", false, "run the pipeline without writing to the document store")
	ingestCmd.Flags().Bool("skip-existing", false, "skip repos already indexed at their local head")
	ingestCmd.Flags().Bool("status", false, "report whether an ingestion is currently running")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	all, _ := cmd.Flags().GetBool("all")
	repo, _ := cmd.Flags().GetString("repo")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	skipExisting, _ := cmd.Flags().GetBool("skip-existing")
	status, _ := cmd.Flags().GetBool("status")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if status {
		return printStatus(cfg)
	}
	if all == (repo != "") {
		return fmt.Errorf("exactly one of --all or --repo is required")
	}

	logger := newLogger(cfg)
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	if dryRun {
		store = docstore.NewDryRun(store)
		printDryRunEstimate(cfg, repo)
	}
	defer store.Close()

	p, cleanup, err := buildPipeline(cfg, store, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nInterrupt received, draining; press Ctrl-C again to abort")
		p.Stop()
		<-sigCh
		fmt.Fprintln(os.Stderr, "Aborting")
		cancel()
	}()

	report, err := p.Run(ctx, pipeline.Options{Repo: repo, SkipExisting: skipExisting})
	if err != nil {
		return err
	}
	printReport(report, dryRun)

	switch report.Status {
	case auditlog.StatusCompleted:
		return nil
	case auditlog.StatusInterrupted:
		return &exitError{code: 130, msg: "interrupted"}
	default:
		return &exitError{code: 1, msg: fmt.Sprintf("run %s finished %s", report.RunID, report.Status)}
	}
}

func printStatus(cfg *config.Config) error {
	info, held := runlock.Inspect(cfg.RunLockPath)
	if held {
		fmt.Printf("running (pid %d on %s, started %s)\n", info.PID, info.Hostname, info.StartedAt.Format(time.RFC3339))
	} else {
		fmt.Println("idle")
	}
	return nil
}

// printDryRunEstimate previews the work a real run could do: the
// candidate files of the on-disk clones and a rough input-token count.
func printDryRunEstimate(cfg *config.Config, repoID string) {
	var dirs []string
	if repoID != "" {
		dirs = []string{filepath.Join(cfg.ReposPath, gitcli.RepoDir(repoID))}
	} else {
		entries, err := os.ReadDir(cfg.ReposPath)
		if err != nil {
			fmt.Println("Dry run: no store writes will be made.")
			return
		}
		for _, entry := range entries {
			if entry.IsDir() {
				dirs = append(dirs, filepath.Join(cfg.ReposPath, entry.Name()))
			}
		}
	}

	var files, tokens int64
	for _, dir := range dirs {
		infos, err := walker.Walk(walker.Config{RootDir: dir, Include: cfg.Include, Exclude: cfg.Exclude})
		if err != nil {
			continue
		}
		for _, f := range infos {
			files++
			tokens += f.Size / 4
		}
	}
	fmt.Println("Dry run: no store writes will be made.")
	fmt.Printf("  Candidate files: %d (~%d input tokens if all were reprocessed)\n", files, tokens)
}

func printReport(report *pipeline.Report, dryRun bool) {
	c := report.Counters
	fmt.Println()
	if dryRun {
		fmt.Println("Dry run complete; nothing was written.")
	} else {
		fmt.Println("Ingestion complete.")
	}
	fmt.Printf("  Repos:     %d processed, %d skipped, %d updated, %d re-ingested, %d cloned, %d purged\n",
		c[auditlog.CounterReposProcessed], c[auditlog.CounterReposSkipped], c[auditlog.CounterReposUpdated],
		c[auditlog.CounterReposFullReingest], c[auditlog.CounterReposCloned], c[auditlog.CounterReposDeleted])
	fmt.Printf("  Files:     %d processed, %d deleted\n",
		c[auditlog.CounterFilesProcessed], c[auditlog.CounterFilesDeleted])
	fmt.Printf("  Tokens:    %d\n", c[auditlog.CounterTokensUsed])
	fmt.Printf("  Duration:  %s\n", report.Duration.Round(time.Millisecond))
	fmt.Printf("  Run:       %s (%s)\n", report.RunID, report.Status)

	if len(report.Errors) > 0 {
		fmt.Fprintf(os.Stderr, "\nErrors (%d):\n", len(report.Errors))
		for _, msg := range report.Errors {
			fmt.Fprintf(os.Stderr, "  - %s\n", msg)
		}
	}
}
