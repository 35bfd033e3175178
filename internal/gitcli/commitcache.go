package gitcli

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// CommitCache memoizes per-path last-commit lookups in SQLite. The value
// for a (repo, head, path) triple never changes, so entries are valid for
// as long as the repo stays on that head.
type CommitCache struct {
	db *sql.DB
}

// OpenCache creates or opens the cache database at the given path.
func OpenCache(path string) (*CommitCache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening cache: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging cache: %w", err)
	}

	c := &CommitCache{db: db}
	if err := c.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating cache: %w", err)
	}
	return c, nil
}

// OpenMemoryCache creates an in-memory cache (useful for testing).
func OpenMemoryCache() (*CommitCache, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("opening in-memory cache: %w", err)
	}
	c := &CommitCache{db: db}
	if err := c.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating cache: %w", err)
	}
	return c, nil
}

func (c *CommitCache) migrate() error {
	_, err := c.db.Exec(cacheSchema)
	return err
}

const cacheSchema = `
CREATE TABLE IF NOT EXISTS path_commits (
    repo_id TEXT NOT NULL,
    head TEXT NOT NULL,
    path TEXT NOT NULL,
    commit_hash TEXT NOT NULL,
    PRIMARY KEY(repo_id, head, path)
);

CREATE INDEX IF NOT EXISTS idx_path_commits_repo ON path_commits(repo_id);
`

// Get returns the cached last-commit hash for path at the given head.
func (c *CommitCache) Get(repoID, head, path string) (string, bool) {
	var commit string
	err := c.db.QueryRow(
		`SELECT commit_hash FROM path_commits WHERE repo_id = ? AND head = ? AND path = ?`,
		repoID, head, path,
	).Scan(&commit)
	if err != nil {
		return "", false
	}
	return commit, true
}

// Put stores the last-commit hash for path at the given head.
func (c *CommitCache) Put(repoID, head, path, commit string) error {
	_, err := c.db.Exec(
		`INSERT OR REPLACE INTO path_commits (repo_id, head, path, commit_hash) VALUES (?, ?, ?, ?)`,
		repoID, head, path, commit,
	)
	if err != nil {
		return fmt.Errorf("caching commit for %s: %w", path, err)
	}
	return nil
}

// Prune drops entries for heads the repo has moved past.
func (c *CommitCache) Prune(repoID, head string) error {
	_, err := c.db.Exec(
		`DELETE FROM path_commits WHERE repo_id = ? AND head != ?`,
		repoID, head,
	)
	if err != nil {
		return fmt.Errorf("pruning cache for %s: %w", repoID, err)
	}
	return nil
}

// Close closes the underlying database.
func (c *CommitCache) Close() error {
	return c.db.Close()
}
