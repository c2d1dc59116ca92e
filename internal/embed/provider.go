// Package embed implements the Embedding Service: a pluggable
// text-to-vector provider behind a single batched, retrying contract.
// Grounded on the teacher's pkg/llm/provider.go provider-switch idiom and
// pkg/ingestion/embedding.go's retry/normalize logic, retargeted from chat
// completion to the Embed contract spec.md §4.3 requires.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"strings"
	"time"

	cieerrors "github.com/kodecortex/cie/internal/errors"
)

// Provider generates a single embedding vector for one text. Returned
// vectors are NOT required to be normalized; the Generator normalizes.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Name() string
	Dim() int
}

// ProviderConfig mirrors the teacher's llm.ProviderConfig shape,
// retargeted to embedding endpoints.
type ProviderConfig struct {
	Type         string // "ollama", "openai", "anthropic", "mock"
	BaseURL      string
	APIKey       string
	DefaultModel string
	Dim          int
	Timeout      time.Duration
}

// NewProvider builds a Provider per cfg.Type. "anthropic" has no public
// embeddings endpoint as of this writing, so it is aliased to the mock
// provider rather than fabricated — surfaced via Name() so callers can
// detect the substitution.
//
// Environment variables (mirroring the teacher's llm provider):
//   - OLLAMA_HOST / OLLAMA_BASE_URL: Ollama server URL
//   - OLLAMA_EMBED_MODEL: default Ollama embedding model
//   - OPENAI_API_KEY / OPENAI_BASE_URL: OpenAI-compatible embeddings API
func NewProvider(cfg ProviderConfig) (Provider, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Dim == 0 {
		cfg.Dim = 768
	}

	switch strings.ToLower(cfg.Type) {
	case "ollama", "local", "":
		return newOllamaProvider(cfg), nil
	case "openai", "openai-compatible":
		return newOpenAIProvider(cfg), nil
	case "anthropic", "claude":
		return &MockProvider{ModelName: "mock-anthropic-embed", DimSize: cfg.Dim}, nil
	case "mock", "test":
		return &MockProvider{ModelName: cfg.DefaultModel, DimSize: cfg.Dim}, nil
	default:
		return nil, fmt.Errorf("unknown embedding provider type: %s (supported: ollama, openai, anthropic, mock)", cfg.Type)
	}
}

// =============================================================================
// OLLAMA PROVIDER
// =============================================================================

type ollamaProvider struct {
	baseURL string
	model   string
	dim     int
	client  *http.Client
}

func newOllamaProvider(cfg ProviderConfig) *ollamaProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = os.Getenv("OLLAMA_HOST")
	}
	if baseURL == "" {
		baseURL = os.Getenv("OLLAMA_BASE_URL")
	}
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}

	model := cfg.DefaultModel
	if model == "" {
		model = os.Getenv("OLLAMA_EMBED_MODEL")
	}
	if model == "" {
		model = "nomic-embed-text"
	}

	return &ollamaProvider{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   model,
		dim:     cfg.Dim,
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

func (p *ollamaProvider) Name() string { return "ollama:" + p.model }
func (p *ollamaProvider) Dim() int     { return p.dim }

func (p *ollamaProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	payload := map[string]any{"model": p.model, "prompt": text}
	body, _ := json.Marshal(payload)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama embed error (status %d): %s", resp.StatusCode, string(bodyBytes))
	}

	var result struct {
		Embedding []float64 `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	vec := make([]float32, len(result.Embedding))
	for i, v := range result.Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}

// =============================================================================
// OPENAI-COMPATIBLE PROVIDER
// =============================================================================

type openaiProvider struct {
	baseURL string
	apiKey  string
	model   string
	dim     int
	client  *http.Client
}

func newOpenAIProvider(cfg ProviderConfig) *openaiProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = os.Getenv("OPENAI_BASE_URL")
	}
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}

	model := cfg.DefaultModel
	if model == "" {
		model = os.Getenv("OPENAI_EMBED_MODEL")
	}
	if model == "" {
		model = "text-embedding-3-small"
	}

	return &openaiProvider{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		dim:     cfg.Dim,
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

func (p *openaiProvider) Name() string { return "openai:" + p.model }
func (p *openaiProvider) Dim() int     { return p.dim }

func (p *openaiProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	payload := map[string]any{"model": p.model, "input": text}
	body, _ := json.Marshal(payload)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai embed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("openai embed error (status %d): %s", resp.StatusCode, string(bodyBytes))
	}

	var result struct {
		Data []struct {
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	if len(result.Data) == 0 {
		return nil, cieerrors.New(cieerrors.KindProviderUnavailable, "openai embed returned no data", cieerrors.Context{}, nil, nil)
	}

	vec := make([]float32, len(result.Data[0].Embedding))
	for i, v := range result.Data[0].Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}

// =============================================================================
// MOCK PROVIDER
// =============================================================================

// MockProvider generates deterministic, non-semantic embeddings. Grounded
// on the teacher's MockEmbeddingProvider hash-based construction.
type MockProvider struct {
	ModelName string
	DimSize   int
}

func (p *MockProvider) Name() string {
	if p.ModelName != "" {
		return "mock:" + p.ModelName
	}
	return "mock"
}

func (p *MockProvider) Dim() int {
	if p.DimSize == 0 {
		return 384
	}
	return p.DimSize
}

func (p *MockProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	dim := p.Dim()
	hash := hashString(text)
	vec := make([]float32, dim)
	for i := 0; i < dim; i++ {
		v := float32((hash+uint64(i)*7919)%10000) / 10000.0
		vec[i] = v*2.0 - 1.0
	}
	return vec, nil
}

func hashString(s string) uint64 {
	var hash uint64 = 5381
	for _, c := range s {
		hash = ((hash << 5) + hash) + uint64(c)
	}
	return hash
}

func l2Norm(vec []float32) float64 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}
