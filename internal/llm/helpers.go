package llm

import (
	"os"
)

// DefaultProvider constructs a Provider from environment variables, checked
// in order: OLLAMA_HOST/OLLAMA_BASE_URL/OLLAMA_MODEL, OPENAI_API_KEY,
// ANTHROPIC_API_KEY — falling back to mock when none are set, so a
// workspace with synthesis_disabled or llm_requirement=disabled never
// needs real credentials configured.
func DefaultProvider() (Provider, error) {
	if os.Getenv("OLLAMA_HOST") != "" || os.Getenv("OLLAMA_BASE_URL") != "" || os.Getenv("OLLAMA_MODEL") != "" {
		return NewProvider(ProviderConfig{Type: "ollama"})
	}
	if os.Getenv("OPENAI_API_KEY") != "" {
		return NewProvider(ProviderConfig{Type: "openai"})
	}
	if os.Getenv("ANTHROPIC_API_KEY") != "" {
		return NewProvider(ProviderConfig{Type: "anthropic"})
	}
	return NewProvider(ProviderConfig{Type: "mock"})
}
