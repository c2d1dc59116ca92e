package embed

import "os"

// DefaultProviderType inspects the environment the same way
// internal/llm.DefaultProvider does, so a workspace that already has an
// Ollama or OpenAI endpoint configured for chat synthesis picks up the
// matching embeddings endpoint without a second set of env vars.
func DefaultProviderType() string {
	if os.Getenv("OLLAMA_HOST") != "" || os.Getenv("OLLAMA_BASE_URL") != "" || os.Getenv("OLLAMA_EMBED_MODEL") != "" {
		return "ollama"
	}
	if os.Getenv("OPENAI_API_KEY") != "" {
		return "openai"
	}
	return "mock"
}
