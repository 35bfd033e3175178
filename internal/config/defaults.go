package config

// DefaultExcludes are glob patterns excluded from indexing by default.
var DefaultExcludes = []string{
	"vendor/**",
	"node_modules/**",
	".git/**",
	"dist/**",
	"build/**",
	"*.min.js",
	"*.min.css",
	"*.lock",
	"go.sum",
	"package-lock.json",
	"yarn.lock",
}

// DefaultConfig returns a Config with the documented defaults. Required
// fields (repos path, store credentials) are left empty and caught by
// Validate.
func DefaultConfig() *Config {
	return &Config{
		DocStore: DocStoreConfig{
			Provider: StoreHTTP,
		},
		LLM: LLMConfig{
			Provider: LLMLocal,
			Endpoint: "http://localhost:11434",
			Model:    "qwen2.5-coder:7b",
		},
		Embedding: EmbeddingConfig{
			Provider: EmbeddingLocal,
			Endpoint: "http://localhost:11434",
			Model:    "nomic-embed-text",
			Dim:      768,
			Batch:    128,
		},
		Underchunk: UnderchunkConfig{
			MinBytes:           5000,
			MaxLinesPerSymbol:  100,
			FormatCalls:        5,
			LLMChunking:        false,
			MinChunkConfidence: 0.7,
		},
		ConcurrencyFiles:      10,
		ParseWorkers:          4,
		SymbolMinLines:        5,
		FullReingestThreshold: 0.05,
		Include:               []string{"**"},
		Exclude:               DefaultExcludes,
		LogLevel:              "info",
	}
}
