package llm

import (
	"context"
	"strings"
	"testing"
)

func TestBuildSynthesisPrompt_ListsPacksAndKeyFacts(t *testing.T) {
	prompt := BuildSynthesisPrompt(SynthesisRequest{
		Intent: "find ParseFile",
		Packs: []ContextPack{
			{PackType: "symbol", Summary: "function ParseFile defined in parser.go", KeyFacts: []string{"calls: tokenize"}},
		},
	})
	if !strings.Contains(prompt, "find ParseFile") {
		t.Errorf("expected prompt to contain the intent, got %q", prompt)
	}
	if !strings.Contains(prompt, "function ParseFile defined in parser.go") {
		t.Errorf("expected prompt to contain the pack summary, got %q", prompt)
	}
	if !strings.Contains(prompt, "calls: tokenize") {
		t.Errorf("expected prompt to contain the pack's key facts, got %q", prompt)
	}
}

func TestBuildSynthesisPrompt_NoPacksIsExplicit(t *testing.T) {
	prompt := BuildSynthesisPrompt(SynthesisRequest{Intent: "find Foo"})
	if !strings.Contains(prompt, "none matched") {
		t.Errorf("expected an explicit no-match marker, got %q", prompt)
	}
}

func TestSynthesize_NilProviderErrors(t *testing.T) {
	_, err := Synthesize(context.Background(), nil, SynthesisRequest{Intent: "find Foo"})
	if err == nil {
		t.Fatal("expected an error for a nil provider")
	}
}

func TestSynthesize_UsesMockProviderChat(t *testing.T) {
	p := &MockProvider{
		ChatFunc: func(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
			if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
				t.Fatalf("expected a system message followed by the prompt, got %+v", req.Messages)
			}
			return &ChatResponse{Message: Message{Role: "assistant", Content: "a summary"}, Done: true}, nil
		},
	}
	text, err := Synthesize(context.Background(), p, SynthesisRequest{Intent: "find Foo"})
	if err != nil {
		t.Fatalf("Synthesize error = %v", err)
	}
	if text != "a summary" {
		t.Errorf("unexpected summary: %q", text)
	}
}

func TestSynthesize_EmptyContentErrors(t *testing.T) {
	p := &MockProvider{
		ChatFunc: func(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
			return &ChatResponse{Message: Message{Role: "assistant", Content: ""}, Done: true}, nil
		},
	}
	_, err := Synthesize(context.Background(), p, SynthesisRequest{Intent: "find Foo"})
	if err == nil {
		t.Fatal("expected an error for empty provider content")
	}
}
