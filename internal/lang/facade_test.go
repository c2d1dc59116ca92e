package lang

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectLanguage(t *testing.T) {
	assert.Equal(t, "go", DetectLanguage("main.go"))
	assert.Equal(t, "typescript", DetectLanguage("app.tsx"))
	assert.Equal(t, "javascript", DetectLanguage("app.mjs"))
	assert.Equal(t, "python", DetectLanguage("script.py"))
	assert.Equal(t, "protobuf", DetectLanguage("service.proto"))
	assert.Equal(t, "", DetectLanguage("README.md"))
}

func TestFacade_Extract_Go_TreeSitter(t *testing.T) {
	f := NewFacade(ModeTreeSitter)
	src := []byte(`package main

import "fmt"

func main() {
	greet()
}

func greet() {
	fmt.Println("hi")
}

type Server struct{}

func (s *Server) Start() {
	greet()
}
`)
	result, err := f.Extract("main.go", src, "")
	require.NoError(t, err)
	require.Empty(t, result.SkippedReason)

	var names []string
	for _, s := range result.Symbols {
		names = append(names, s.Name)
	}
	assert.Contains(t, names, "main")
	assert.Contains(t, names, "greet")
	assert.Contains(t, names, "Server.Start")

	var hasEntryPoint bool
	for _, s := range result.Symbols {
		if s.Kind == KindEntryPoint {
			hasEntryPoint = true
		}
	}
	assert.True(t, hasEntryPoint)

	var hasCall bool
	for _, r := range result.References {
		if r.Kind == RefCalls && r.ToUnresolvedName == "greet" {
			hasCall = true
		}
	}
	assert.True(t, hasCall)
}

func TestFacade_Extract_UnsupportedLanguage(t *testing.T) {
	f := NewFacade(ModeAuto)
	result, err := f.Extract("notes.txt", []byte("hello"), "")
	require.NoError(t, err)
	assert.Equal(t, SkippedUnsupportedLanguage, result.SkippedReason)
}

func TestFacade_Extract_SimplifiedMode_Go(t *testing.T) {
	f := NewFacade(ModeSimplified)
	src := []byte("func main() {\n}\n\nfunc helper() {\n}\n")
	result, err := f.Extract("main.go", src, "go")
	require.NoError(t, err)

	var names []string
	for _, s := range result.Symbols {
		names = append(names, s.Name)
	}
	assert.Contains(t, names, "main")
	assert.Contains(t, names, "helper")
}

func TestFacade_Extract_Protobuf(t *testing.T) {
	f := NewFacade(ModeAuto)
	src := []byte(`syntax = "proto3";

message SearchRequest {
  string query = 1;
}

service SearchService {
  rpc Search(SearchRequest) returns (SearchResponse);
}
`)
	result, err := f.Extract("search.proto", src, "")
	require.NoError(t, err)

	var names []string
	for _, s := range result.Symbols {
		names = append(names, s.Name)
	}
	assert.Contains(t, names, "SearchRequest")
	assert.Contains(t, names, "SearchService")
	assert.Contains(t, names, "SearchService.Search")
}

func TestQualifiedName(t *testing.T) {
	qn := QualifiedName("pkg/server.go", []string{"Server"}, "Start")
	assert.Contains(t, qn, "Server::Start")
}
