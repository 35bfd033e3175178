package config

// LLMProvider identifies which kind of LLM endpoint the enricher talks to.
type LLMProvider string

const (
	// LLMLocal is an Ollama-compatible HTTP endpoint on the local network.
	LLMLocal LLMProvider = "local"
	// LLMRemote is an OpenAI-compatible hosted API.
	LLMRemote LLMProvider = "remote"
)

// EmbeddingProvider identifies which kind of embedding encoder is used.
type EmbeddingProvider string

const (
	EmbeddingLocal  EmbeddingProvider = "local"
	EmbeddingRemote EmbeddingProvider = "remote"
)

// StoreProvider identifies the document store backend.
type StoreProvider string

const (
	// StoreHTTP is the external document database reached over its REST
	// query service.
	StoreHTTP StoreProvider = "http"
	// StoreEmbedded keeps the index in a local file, useful for development
	// and tests.
	StoreEmbedded StoreProvider = "embedded"
)

// Config is the top-level pipeline configuration, populated from raglet.yml
// and environment variables.
type Config struct {
	// ReposPath is the directory holding owner_name clones.
	ReposPath string `yaml:"repos_path" koanf:"repos_path"`
	// ReposAPIURL, if set, is queried for the desired repository list.
	ReposAPIURL string `yaml:"repos_api_url" koanf:"repos_api_url"`
	// ReposFile, if set, is a newline-separated owner/name list.
	ReposFile string `yaml:"repos_file" koanf:"repos_file"`

	DocStore   DocStoreConfig   `yaml:"doc_store" koanf:"doc_store"`
	LLM        LLMConfig        `yaml:"llm" koanf:"llm"`
	Embedding  EmbeddingConfig  `yaml:"embedding" koanf:"embedding"`
	Underchunk UnderchunkConfig `yaml:"underchunk" koanf:"underchunk"`

	ConcurrencyFiles      int     `yaml:"concurrency_files" koanf:"concurrency_files"`
	ParseWorkers          int     `yaml:"parse_workers" koanf:"parse_workers"`
	SymbolMinLines        int     `yaml:"symbol_min_lines" koanf:"symbol_min_lines"`
	FullReingestThreshold float64 `yaml:"full_reingest_threshold" koanf:"full_reingest_threshold"`

	GitCredential string `yaml:"git_credential" koanf:"git_credential"`
	RunLockPath   string `yaml:"run_lock_path" koanf:"run_lock_path"`

	Include  []string `yaml:"include" koanf:"include"`
	Exclude  []string `yaml:"exclude" koanf:"exclude"`
	LogLevel string   `yaml:"log_level" koanf:"log_level"`
}

// DocStoreConfig holds connection settings for the document store.
type DocStoreConfig struct {
	Provider StoreProvider `yaml:"provider" koanf:"provider"`
	Host     string        `yaml:"host" koanf:"host"`
	User     string        `yaml:"user" koanf:"user"`
	Password string        `yaml:"password" koanf:"password"`
	Bucket   string        `yaml:"bucket" koanf:"bucket"`
	// Path is the on-disk location of the embedded store.
	Path string `yaml:"path" koanf:"path"`
}

// LLMConfig holds settings for the text LLM used by the enricher.
type LLMConfig struct {
	Provider LLMProvider `yaml:"provider" koanf:"provider"`
	Endpoint string      `yaml:"endpoint" koanf:"endpoint"`
	Model    string      `yaml:"model" koanf:"model"`
	APIKey   string      `yaml:"api_key" koanf:"api_key"`
}

// EmbeddingConfig holds settings for the embedding encoder.
type EmbeddingConfig struct {
	Provider EmbeddingProvider `yaml:"provider" koanf:"provider"`
	Endpoint string            `yaml:"endpoint" koanf:"endpoint"`
	Model    string            `yaml:"model" koanf:"model"`
	APIKey   string            `yaml:"api_key" koanf:"api_key"`
	Dim      int               `yaml:"dim" koanf:"dim"`
	Batch    int               `yaml:"batch" koanf:"batch"`
}

// UnderchunkConfig holds the heuristic thresholds for the under-chunking
// detector and the switch for the optional LLM chunking pass.
type UnderchunkConfig struct {
	MinBytes           int     `yaml:"min_bytes" koanf:"min_bytes"`
	MaxLinesPerSymbol  int     `yaml:"max_lines_per_symbol" koanf:"max_lines_per_symbol"`
	FormatCalls        int     `yaml:"format_calls" koanf:"format_calls"`
	LLMChunking        bool    `yaml:"llm_chunking" koanf:"llm_chunking"`
	MinChunkConfidence float64 `yaml:"min_chunk_confidence" koanf:"min_chunk_confidence"`
}
