package config

import (
	"fmt"
	"strings"

	"github.com/manifoldco/promptui"
)

// RunWizard runs an interactive configuration wizard and returns the
// resulting Config. It also saves the config to raglet.yml.
func RunWizard() (*Config, error) {
	fmt.Println("Welcome to raglet! Let's configure your index.")
	fmt.Println()

	cfg := DefaultConfig()

	// 1. Where clones live.
	reposPrompt := promptui.Prompt{
		Label:   "Directory for repository clones",
		Default: "repos",
	}
	reposPath, err := reposPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("repos path: %w", err)
	}
	cfg.ReposPath = reposPath

	// 2. Document store backend.
	storePrompt := promptui.Select{
		Label: "Select document store",
		Items: []string{
			"embedded - local on-disk store, no server needed",
			"http     - remote document store over HTTP",
		},
	}
	storeIdx, _, err := storePrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("store selection: %w", err)
	}
	if storeIdx == 1 {
		cfg.DocStore.Provider = StoreHTTP
		hostPrompt := promptui.Prompt{
			Label:   "Document store host",
			Default: "http://localhost:8091",
		}
		if cfg.DocStore.Host, err = hostPrompt.Run(); err != nil {
			return nil, fmt.Errorf("store host: %w", err)
		}
		userPrompt := promptui.Prompt{Label: "Document store user"}
		if cfg.DocStore.User, err = userPrompt.Run(); err != nil {
			return nil, fmt.Errorf("store user: %w", err)
		}
		passPrompt := promptui.Prompt{Label: "Document store password", Mask: '*'}
		if cfg.DocStore.Password, err = passPrompt.Run(); err != nil {
			return nil, fmt.Errorf("store password: %w", err)
		}
		bucketPrompt := promptui.Prompt{
			Label:   "Document store bucket",
			Default: "code-index",
		}
		if cfg.DocStore.Bucket, err = bucketPrompt.Run(); err != nil {
			return nil, fmt.Errorf("store bucket: %w", err)
		}
	} else {
		cfg.DocStore.Provider = StoreEmbedded
	}

	// 3. LLM provider.
	llmPrompt := promptui.Select{
		Label: "Select LLM provider",
		Items: []string{
			"local  - Ollama-compatible endpoint (qwen2.5-coder:7b)",
			"remote - OpenAI-compatible API",
		},
	}
	llmIdx, _, err := llmPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("llm selection: %w", err)
	}
	if llmIdx == 1 {
		cfg.LLM.Provider = LLMRemote
		cfg.LLM.Endpoint = ""
		modelPrompt := promptui.Prompt{
			Label:   "LLM model",
			Default: "gpt-4o-mini",
		}
		if cfg.LLM.Model, err = modelPrompt.Run(); err != nil {
			return nil, fmt.Errorf("llm model: %w", err)
		}
		cfg.Embedding.Provider = EmbeddingRemote
		cfg.Embedding.Endpoint = ""
		cfg.Embedding.Model = "text-embedding-3-small"
		fmt.Println("\nNote: Set LLM_API_KEY and EMBEDDING_API_KEY in your environment before running raglet ingest.")
	} else {
		endpointPrompt := promptui.Prompt{
			Label:   "Ollama endpoint",
			Default: cfg.LLM.Endpoint,
		}
		if cfg.LLM.Endpoint, err = endpointPrompt.Run(); err != nil {
			return nil, fmt.Errorf("llm endpoint: %w", err)
		}
		cfg.Embedding.Endpoint = cfg.LLM.Endpoint
	}

	// 4. Extra exclude patterns.
	excludePrompt := promptui.Prompt{
		Label:   "Extra exclude patterns (comma-separated, leave blank for defaults)",
		Default: "",
	}
	excludeStr, err := excludePrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("exclude patterns: %w", err)
	}
	if excludeStr != "" {
		cfg.Exclude = append(cfg.Exclude, splitAndTrim(excludeStr)...)
	}

	cfg.applyDerived()

	configPath := "raglet.yml"
	if err := cfg.Save(configPath); err != nil {
		return nil, fmt.Errorf("saving config: %w", err)
	}

	fmt.Printf("\nConfiguration saved to %s\n", configPath)
	return cfg, nil
}

// splitAndTrim splits a comma-separated string and trims whitespace.
func splitAndTrim(s string) []string {
	var result []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			result = append(result, part)
		}
	}
	return result
}
