// Package runlock guarantees that at most one ingestion run executes at a
// time on a given host.
package runlock

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
)

// ErrAlreadyRunning is returned when another live process holds the lock.
// The wrapped error carries the holder's pid and start time.
var ErrAlreadyRunning = errors.New("already running")

// Info is the lock file payload identifying the holding process.
type Info struct {
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
	StartedAt time.Time `json:"started_at"`
}

// Lock is a held run lock. Release it on every termination path.
type Lock struct {
	path     string
	flock    *flock.Flock
	info     Info
	released bool
}

// Acquire takes the run lock at the given path. If the lock file names a
// live process, it fails with ErrAlreadyRunning. A lock file left behind by
// a dead process is reclaimed with a warning.
func Acquire(path string, logger *slog.Logger) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}

	fl := flock.New(path)
	acquired, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring lock %s: %w", path, err)
	}
	if !acquired {
		return nil, holderError(path)
	}

	// We hold the flock, but the file may still carry a previous holder:
	// either a crashed process or one started before the flock existed.
	if prev, ok := readInfo(path); ok {
		if prev.PID != os.Getpid() && Alive(prev.PID) {
			fl.Unlock()
			return nil, fmt.Errorf("%w: pid %d, started %s", ErrAlreadyRunning, prev.PID, prev.StartedAt.Format(time.RFC3339))
		}
		logger.Warn("runlock.stale_reclaimed", "path", path, "stale_pid", prev.PID, "stale_started_at", prev.StartedAt.Format(time.RFC3339))
	}

	hostname, _ := os.Hostname()
	info := Info{
		PID:       os.Getpid(),
		Hostname:  hostname,
		StartedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(info)
	if err != nil {
		fl.Unlock()
		return nil, fmt.Errorf("encoding lock info: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		fl.Unlock()
		return nil, fmt.Errorf("writing lock file %s: %w", path, err)
	}

	return &Lock{path: path, flock: fl, info: info}, nil
}

// Release removes the lock file and drops the flock. Safe to call more
// than once.
func (l *Lock) Release() error {
	if l.released {
		return nil
	}
	l.released = true

	removeErr := os.Remove(l.path)
	if removeErr != nil && os.IsNotExist(removeErr) {
		removeErr = nil
	}
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("releasing lock %s: %w", l.path, err)
	}
	if removeErr != nil {
		return fmt.Errorf("removing lock file %s: %w", l.path, removeErr)
	}
	return nil
}

// Info returns the identity recorded in the lock file.
func (l *Lock) Info() Info {
	return l.info
}

// holderError builds the ErrAlreadyRunning error from whatever the lock
// file says about the current holder.
func holderError(path string) error {
	if info, ok := readInfo(path); ok {
		return fmt.Errorf("%w: pid %d, started %s", ErrAlreadyRunning, info.PID, info.StartedAt.Format(time.RFC3339))
	}
	return ErrAlreadyRunning
}

// readInfo parses the lock file payload. ok is false when the file is
// missing, empty, or unparseable.
func readInfo(path string) (Info, bool) {
	data, err := os.ReadFile(path)
	if err != nil || len(data) == 0 {
		return Info{}, false
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return Info{}, false
	}
	return info, info.PID > 0
}

// Inspect reads the lock file without acquiring it. held is true when the
// file names a live process.
func Inspect(path string) (info Info, held bool) {
	info, ok := readInfo(path)
	if !ok {
		return Info{}, false
	}
	return info, Alive(info.PID)
}

// Alive reports whether a process with the given pid exists. On
// Unix, FindProcess always succeeds, so signal 0 is used as the probe.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
