package llm

import (
	"context"
	"fmt"
	"strings"
)

// ContextPack is the provider-facing shape of one context pack fed into
// synthesis — just enough of storage.ContextPack/query.PackResult (pack
// type, summary, key facts) to build a prompt, without this package
// importing internal/query (which already imports internal/llm).
type ContextPack struct {
	PackType string
	Summary  string
	KeyFacts []string
}

// SynthesisRequest is a natural-language-summary request over a ranked set
// of context packs, per spec.md §4.7 stage 7.
type SynthesisRequest struct {
	Intent string
	Packs  []ContextPack
}

// synthesisSystemPrompt is the fixed system message steering every
// synthesis Chat call: summarize, don't invent, and ground the answer in
// the packs actually handed over.
const synthesisSystemPrompt = "Summarize the following code context packs to answer the user's question. " +
	"Be concise and reference file paths and symbol names directly. Do not invent facts not present in the packs."

// BuildSynthesisPrompt renders req's intent and packs into the user-turn
// content of a synthesis Chat call.
func BuildSynthesisPrompt(req SynthesisRequest) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Question: %s\n\nContext packs:\n", req.Intent)
	if len(req.Packs) == 0 {
		sb.WriteString("(none matched)\n")
		return sb.String()
	}
	for _, pack := range req.Packs {
		fmt.Fprintf(&sb, "- (%s) %s\n", pack.PackType, pack.Summary)
		for _, fact := range pack.KeyFacts {
			fmt.Fprintf(&sb, "    %s\n", fact)
		}
	}
	return sb.String()
}

// Synthesize runs req through provider's Chat as a single-turn
// summarization call and returns the assistant's reply. Callers that need
// a deterministic fallback (e.g. when provider is nil, or this returns an
// error or empty content) own that decision themselves — this function
// only speaks the provider's request/response shape on req's behalf.
func Synthesize(ctx context.Context, provider Provider, req SynthesisRequest) (string, error) {
	if provider == nil {
		return "", fmt.Errorf("llm: Synthesize called with a nil provider")
	}
	resp, err := provider.Chat(ctx, ChatRequest{
		Messages: []Message{
			{Role: "system", Content: synthesisSystemPrompt},
			{Role: "user", Content: BuildSynthesisPrompt(req)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("llm synthesize: %w", err)
	}
	if resp == nil || resp.Message.Content == "" {
		return "", fmt.Errorf("llm synthesize: provider %s returned empty content", provider.Name())
	}
	return resp.Message.Content, nil
}
