// Package gitcli shells out to the local git binary. The pipeline only ever
// invokes clone, fetch, rev-parse, log, show and diff; no other working-tree
// mutations are performed.
package gitcli

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// Runner abstracts git command execution so processors can be tested
// without a git binary.
type Runner interface {
	Clone(ctx context.Context, url, dir string) error
	Fetch(ctx context.Context, dir string) error
	Head(ctx context.Context, dir string) (string, error)
	FetchedHead(ctx context.Context, dir string) (string, error)
	LastCommit(ctx context.Context, dir, commit, path string) (string, error)
	Show(ctx context.Context, dir, commit, path string) ([]byte, error)
	DiffNameStatus(ctx context.Context, dir, from, to string) ([]Change, error)
}

// Git runs git commands against local clones.
type Git struct {
	logger *slog.Logger
}

// New returns a Git runner that logs each invocation at debug level.
func New(logger *slog.Logger) *Git {
	if logger == nil {
		logger = slog.Default()
	}
	return &Git{logger: logger}
}

// run executes git with the given arguments in dir and returns stdout.
// Stderr is folded into the error on failure.
func (g *Git) run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	g.logger.Debug("gitcli.run", "dir", dir, "args", strings.Join(args, " "))

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("git %s: %w", args[0], ctx.Err())
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("git %s: %s", args[0], msg)
		}
		return "", fmt.Errorf("git %s: %w", args[0], err)
	}
	return stdout.String(), nil
}

// Clone creates a shallow clone of url at dir.
func (g *Git) Clone(ctx context.Context, url, dir string) error {
	_, err := g.run(ctx, ".", "clone", "--depth", "1", url, dir)
	return err
}

// Fetch updates remote-tracking refs from origin.
func (g *Git) Fetch(ctx context.Context, dir string) error {
	_, err := g.run(ctx, dir, "fetch", "origin")
	return err
}

// Head returns the commit hash the clone currently points at.
func (g *Git) Head(ctx context.Context, dir string) (string, error) {
	out, err := g.run(ctx, dir, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// FetchedHead returns the tip of the remote default branch as of the last
// fetch. Fetch updates remote-tracking refs without moving the local HEAD,
// so origin/HEAD is the commit an update must index. Clones without a
// remote fall back to the local HEAD.
func (g *Git) FetchedHead(ctx context.Context, dir string) (string, error) {
	out, err := g.run(ctx, dir, "rev-parse", "origin/HEAD")
	if err == nil {
		return strings.TrimSpace(out), nil
	}
	if IsUnknownRevision(err) {
		return g.Head(ctx, dir)
	}
	return "", err
}

// LastCommit returns the hash of the last commit reachable from commit
// that touched path, or "" when no commit did (the path is untracked or
// newer than the pin).
func (g *Git) LastCommit(ctx context.Context, dir, commit, path string) (string, error) {
	out, err := g.run(ctx, dir, "log", "-1", "--format=%H", commit, "--", path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Show returns the bytes of path as stored at commit. The working tree is
// never read; it may diverge from the pinned commit.
func (g *Git) Show(ctx context.Context, dir, commit, path string) ([]byte, error) {
	out, err := g.run(ctx, dir, "show", commit+":"+path)
	if err != nil {
		return nil, err
	}
	return []byte(out), nil
}

// DiffNameStatus lists the paths changed between two commits.
func (g *Git) DiffNameStatus(ctx context.Context, dir, from, to string) ([]Change, error) {
	out, err := g.run(ctx, dir, "diff", "--name-status", from+".."+to)
	if err != nil {
		return nil, err
	}
	return parseNameStatus(out), nil
}

// ChangeStatus is the git name-status letter for a changed path.
type ChangeStatus byte

const (
	StatusAdded    ChangeStatus = 'A'
	StatusModified ChangeStatus = 'M'
	StatusDeleted  ChangeStatus = 'D'
	StatusRenamed  ChangeStatus = 'R'
)

// Change is one entry of `git diff --name-status` output. For renames,
// Path is the new path and OldPath the previous one.
type Change struct {
	Status  ChangeStatus
	Path    string
	OldPath string
}

// parseNameStatus parses `git diff --name-status` output. Lines are
// "STATUS\tpath" or "STATUS\told\tnew" for renames and copies.
func parseNameStatus(out string) []Change {
	var changes []Change
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimRight(line, "\r"); line == "" {
			continue
		}
		parts := strings.Split(line, "\t")
		if len(parts) < 2 {
			continue
		}
		status := parts[0]
		paths := parts[1:]
		for i, p := range paths {
			paths[i] = unquotePath(p)
		}

		switch status[0] {
		case 'A':
			changes = append(changes, Change{Status: StatusAdded, Path: paths[0]})
		case 'M', 'T':
			changes = append(changes, Change{Status: StatusModified, Path: paths[0]})
		case 'D':
			changes = append(changes, Change{Status: StatusDeleted, Path: paths[0]})
		case 'R':
			if len(paths) >= 2 {
				changes = append(changes, Change{Status: StatusRenamed, Path: paths[1], OldPath: paths[0]})
			}
		case 'C':
			if len(paths) >= 2 {
				changes = append(changes, Change{Status: StatusAdded, Path: paths[1]})
			}
		}
	}
	return changes
}

// unquotePath strips the quoting git applies to paths with special
// characters.
func unquotePath(path string) string {
	if len(path) < 2 || path[0] != '"' || path[len(path)-1] != '"' {
		return path
	}
	unquoted := path[1 : len(path)-1]
	unquoted = strings.ReplaceAll(unquoted, `\t`, "\t")
	unquoted = strings.ReplaceAll(unquoted, `\n`, "\n")
	unquoted = strings.ReplaceAll(unquoted, `\"`, `"`)
	unquoted = strings.ReplaceAll(unquoted, `\\`, `\`)
	return unquoted
}

// IsUnknownRevision reports whether err came from referencing a commit the
// local clone does not have, which happens when the stored commit predates
// a shallow clone's history.
func IsUnknownRevision(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, marker := range []string{
		"unknown revision",
		"bad revision",
		"bad object",
		"Invalid revision range",
		"invalid object name",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// IsMissingPath reports whether err came from `git show` on a path that
// does not exist at the requested commit.
func IsMissingPath(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "does not exist") ||
		strings.Contains(msg, "exists on disk, but not in")
}

// CloneURL builds the remote URL for a repo, embedding the credential when
// one is configured.
func CloneURL(repoID, credential string) string {
	if credential != "" {
		return "https://" + credential + "@github.com/" + repoID + ".git"
	}
	return "https://github.com/" + repoID + ".git"
}

// RepoDir converts "owner/name" to the on-disk clone directory name.
func RepoDir(repoID string) string {
	return strings.ReplaceAll(repoID, "/", "_")
}

// RepoID is the inverse of RepoDir. Owner logins cannot contain
// underscores, so the first underscore is the separator.
func RepoID(dir string) string {
	owner, name, ok := strings.Cut(dir, "_")
	if !ok {
		return dir
	}
	return owner + "/" + name
}
