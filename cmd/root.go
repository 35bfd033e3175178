package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/raglet/raglet/internal/config"
	"github.com/raglet/raglet/internal/runlock"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "raglet",
	Short: "Incremental semantic indexing for Git repositories",
	Long: `Raglet keeps a hierarchical semantic index of Git repositories up to
date: symbols, files, modules and whole repos become documents with
LLM summaries and normalized embeddings, refreshed incrementally as
commits land.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "raglet.yml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// exitError pins the process exit code for outcomes that are not plain
// failures, like a run interrupted by a signal.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

// ExitCode maps the error returned by Execute to the process exit code:
// 0 success, 1 repo-scoped failures, 2 run lock held, 3 bad
// configuration, 130 interrupted.
func ExitCode(err error) int {
	var ee *exitError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &ee):
		return ee.code
	case errors.Is(err, runlock.ErrAlreadyRunning):
		return 2
	case errors.Is(err, config.ErrInvalid):
		return 3
	default:
		return 1
	}
}
