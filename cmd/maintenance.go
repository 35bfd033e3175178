package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/raglet/raglet/internal/criticality"
	"github.com/raglet/raglet/internal/docstore"
	"github.com/raglet/raglet/internal/embeddings"
)

var normalizeCmd = &cobra.Command{
	Use:   "normalize-embeddings",
	Short: "Re-normalize stored embeddings in place",
	Long: `Scans every stored document and rescales embeddings that drifted
from unit length, which repairs an index written before normalization
was enforced on the write path.`,
	RunE: runNormalize,
}

var backfillCmd = &cobra.Command{
	Use:   "backfill-criticality",
	Short: "Recompute criticality scores for all indexed repositories",
	Long: `Builds the import graph of each indexed repository and writes
PageRank-derived criticality scores onto its module summaries.`,
	RunE: runBackfill,
}

func init() {
	normalizeCmd.Flags().Bool("dry-run", false, "report what would change without writing")
	rootCmd.AddCommand(normalizeCmd)
	rootCmd.AddCommand(backfillCmd)
}

func runNormalize(cmd *cobra.Command, args []string) error {
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	docs, err := store.List(ctx, docstore.Query{})
	if err != nil {
		return fmt.Errorf("listing documents: %w", err)
	}

	var embedded, fixed, broken int
	for _, doc := range docs {
		if len(doc.Embedding) == 0 {
			continue
		}
		embedded++
		if embeddings.IsNormalized(doc.Embedding) {
			continue
		}
		if !embeddings.Normalize(doc.Embedding) {
			broken++
			logger.Warn("cmd.embedding_unfixable", "document_id", doc.DocumentID, "norm", embeddings.Norm(doc.Embedding))
			continue
		}
		fixed++
		if dryRun {
			continue
		}
		if err := store.Upsert(ctx, doc); err != nil {
			return fmt.Errorf("rewriting %s: %w", doc.DocumentID, err)
		}
	}

	verb := "normalized"
	if dryRun {
		verb = "would normalize"
	}
	fmt.Printf("%s %d of %d embedded documents (%d unfixable)\n", verb, fixed, embedded, broken)
	return nil
}

func runBackfill(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	repoIDs, err := store.ListRepoIDs(ctx)
	if err != nil {
		return fmt.Errorf("listing indexed repos: %w", err)
	}
	if len(repoIDs) == 0 {
		fmt.Println("no indexed repositories")
		return nil
	}

	scorer := criticality.NewScorer(store, logger)
	for _, repoID := range repoIDs {
		scores, err := scorer.Score(ctx, repoID)
		if err != nil {
			return fmt.Errorf("scoring %s: %w", repoID, err)
		}
		fmt.Printf("%s: scored %d modules\n", repoID, len(scores))
	}
	return nil
}
