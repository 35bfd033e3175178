// Package progress reports per-file ingestion progress, as a live bar on
// interactive terminals and as plain `[i/N]` lines in CI logs.
package progress

import (
	"fmt"
	"os"
	"sync"

	"github.com/schollz/progressbar/v3"
)

// Status is a file's processing outcome.
type Status string

const (
	StatusOK      Status = "ok"
	StatusSkipped Status = "skip"
	StatusError   Status = "err"
)

// Reporter provides progress feedback while a repository's files are being
// ingested. File may be called from concurrent workers.
type Reporter interface {
	Start(repoID string, total int)
	File(path string, status Status, symbols int)
	Finish()
}

// NewReporter returns a TerminalReporter on interactive terminals and a
// CIReporter when the CI environment variable is set.
func NewReporter() Reporter {
	if os.Getenv("CI") != "" || os.Getenv("GITHUB_ACTIONS") != "" {
		return &CIReporter{}
	}
	return &TerminalReporter{}
}

// TerminalReporter displays a progress bar in the terminal.
type TerminalReporter struct {
	mu  sync.Mutex
	bar *progressbar.ProgressBar
}

func (r *TerminalReporter) Start(repoID string, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bar = progressbar.NewOptions(total,
		progressbar.OptionSetDescription(repoID),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
}

func (r *TerminalReporter) File(path string, status Status, symbols int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bar == nil {
		return
	}
	r.bar.Describe(fmt.Sprintf("%s (%s, %d symbols)", path, status, symbols))
	_ = r.bar.Add(1)
}

func (r *TerminalReporter) Finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bar != nil {
		_ = r.bar.Finish()
		r.bar = nil
	}
}

// CIReporter prints one line per file, suitable for CI logs.
type CIReporter struct {
	mu      sync.Mutex
	total   int
	current int
}

func (r *CIReporter) Start(repoID string, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.total = total
	r.current = 0
	fmt.Fprintf(os.Stderr, "Ingesting %s: %d files\n", repoID, total)
}

func (r *CIReporter) File(path string, status Status, symbols int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current++
	fmt.Fprintf(os.Stderr, "[%d/%d] %s (%s, %d symbols)\n", r.current, r.total, path, status, symbols)
}

func (r *CIReporter) Finish() {}

// Silent discards all progress events. Used by dry runs driven from tests
// and by callers that only want the audit record.
type Silent struct{}

func (Silent) Start(string, int) {}

func (Silent) File(string, Status, int) {}

func (Silent) Finish() {}
