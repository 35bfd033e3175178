package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// ErrInvalid wraps all configuration validation failures so callers can map
// them to the configuration exit code.
var ErrInvalid = errors.New("invalid configuration")

// envKeys maps recognized environment variables to their koanf paths.
// Unlisted variables are ignored, so the process environment cannot leak
// into the configuration.
var envKeys = map[string]string{
	"REPOS_PATH":                      "repos_path",
	"REPOS_API_URL":                   "repos_api_url",
	"REPOS_FILE":                      "repos_file",
	"DOC_STORE_PROVIDER":              "doc_store.provider",
	"DOC_STORE_HOST":                  "doc_store.host",
	"DOC_STORE_USER":                  "doc_store.user",
	"DOC_STORE_PASSWORD":              "doc_store.password",
	"DOC_STORE_BUCKET":                "doc_store.bucket",
	"DOC_STORE_PATH":                  "doc_store.path",
	"LLM_PROVIDER":                    "llm.provider",
	"LLM_ENDPOINT":                    "llm.endpoint",
	"LLM_MODEL":                       "llm.model",
	"LLM_API_KEY":                     "llm.api_key",
	"LLM_CHUNKING":                    "underchunk.llm_chunking",
	"EMBEDDING_PROVIDER":              "embedding.provider",
	"EMBEDDING_ENDPOINT":              "embedding.endpoint",
	"EMBEDDING_MODEL":                 "embedding.model",
	"EMBEDDING_API_KEY":               "embedding.api_key",
	"EMBEDDING_DIM":                   "embedding.dim",
	"EMBEDDING_BATCH":                 "embedding.batch",
	"CONCURRENCY_FILES":               "concurrency_files",
	"PARSE_WORKERS":                   "parse_workers",
	"SYMBOL_MIN_LINES":                "symbol_min_lines",
	"FULL_REINGEST_THRESHOLD":         "full_reingest_threshold",
	"GIT_CREDENTIAL":                  "git_credential",
	"RUN_LOCK_PATH":                   "run_lock_path",
	"UNDERCHUNK_MIN_BYTES":            "underchunk.min_bytes",
	"UNDERCHUNK_MAX_LINES_PER_SYMBOL": "underchunk.max_lines_per_symbol",
	"UNDERCHUNK_FORMAT_CALLS":         "underchunk.format_calls",
	"LOG_LEVEL":                       "log_level",
}

// Load reads configuration from the given YAML file (if it exists), then
// overlays recognized environment variables on top.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	cfg := DefaultConfig()

	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("accessing config %s: %w", path, err)
	}

	if err := k.Load(env.Provider("", ".", func(s string) string {
		return envKeys[s]
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env overrides: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	cfg.applyDerived()
	return cfg, nil
}

// applyDerived fills in fields whose defaults depend on other fields.
func (c *Config) applyDerived() {
	if c.RunLockPath == "" && c.ReposPath != "" {
		c.RunLockPath = filepath.Join(c.ReposPath, ".ingestion.lock")
	}
	if c.DocStore.Path == "" && c.ReposPath != "" {
		c.DocStore.Path = filepath.Join(c.ReposPath, ".raglet", "store")
	}
}

// Save writes the configuration to the given YAML file path.
func (c *Config) Save(path string) error {
	data, err := yamlv3.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Validate checks the configuration before any I/O happens. Every failure
// wraps ErrInvalid.
func (c *Config) Validate() error {
	fail := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
	}

	if c.ReposPath == "" {
		return fail("REPOS_PATH is required")
	}

	switch c.DocStore.Provider {
	case StoreHTTP:
		if c.DocStore.Host == "" {
			return fail("DOC_STORE_HOST is required")
		}
		if c.DocStore.User == "" || c.DocStore.Password == "" {
			return fail("DOC_STORE_USER and DOC_STORE_PASSWORD are required")
		}
		if c.DocStore.Bucket == "" {
			return fail("DOC_STORE_BUCKET is required")
		}
	case StoreEmbedded:
		if c.DocStore.Path == "" {
			return fail("DOC_STORE_PATH is required for the embedded store")
		}
	default:
		return fail("invalid DOC_STORE_PROVIDER %q: must be http or embedded", c.DocStore.Provider)
	}

	switch c.LLM.Provider {
	case LLMLocal, LLMRemote:
	default:
		return fail("invalid LLM_PROVIDER %q: must be local or remote", c.LLM.Provider)
	}
	if c.LLM.Model == "" {
		return fail("LLM_MODEL is required")
	}

	switch c.Embedding.Provider {
	case EmbeddingLocal, EmbeddingRemote:
	default:
		return fail("invalid EMBEDDING_PROVIDER %q: must be local or remote", c.Embedding.Provider)
	}
	if c.Embedding.Dim <= 0 {
		return fail("EMBEDDING_DIM must be positive, got %d", c.Embedding.Dim)
	}
	if c.Embedding.Batch <= 0 {
		return fail("EMBEDDING_BATCH must be positive, got %d", c.Embedding.Batch)
	}

	if c.ConcurrencyFiles < 1 {
		return fail("CONCURRENCY_FILES must be at least 1, got %d", c.ConcurrencyFiles)
	}
	if c.ParseWorkers < 1 {
		return fail("PARSE_WORKERS must be at least 1, got %d", c.ParseWorkers)
	}
	if c.SymbolMinLines < 1 {
		return fail("SYMBOL_MIN_LINES must be at least 1, got %d", c.SymbolMinLines)
	}
	if c.FullReingestThreshold <= 0 || c.FullReingestThreshold > 1 {
		return fail("FULL_REINGEST_THRESHOLD must be in (0, 1], got %g", c.FullReingestThreshold)
	}
	if c.Underchunk.MinChunkConfidence < 0 || c.Underchunk.MinChunkConfidence > 1 {
		return fail("underchunk min_chunk_confidence must be in [0, 1], got %g", c.Underchunk.MinChunkConfidence)
	}

	return nil
}
