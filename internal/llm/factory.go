package llm

import "fmt"

// NewProvider creates an LLM provider. Supported provider types: "local"
// (Ollama-compatible endpoint) and "remote" (OpenAI-compatible API).
func NewProvider(providerType, endpoint, model, apiKey string) (Provider, error) {
	switch providerType {
	case "local":
		return NewLocalProvider(endpoint, model), nil

	case "remote":
		if apiKey == "" {
			return nil, fmt.Errorf("remote provider requires an API key (set LLM_API_KEY)")
		}
		return NewRemoteProvider(apiKey, endpoint, model), nil

	default:
		return nil, fmt.Errorf("unsupported provider type: %s", providerType)
	}
}
