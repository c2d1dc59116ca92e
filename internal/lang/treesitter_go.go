package lang

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"

	"github.com/kodecortex/cie/internal/fingerprint"
)

// goTreeSitterExtractor walks a Go AST to find top-level function and
// method declarations, imports, and the calls made from within each
// function body. Grounded directly on the teacher's parser_go.go
// walkGoAST/extractGoCallsFromNodeV2 structure, generalized from the
// teacher's FunctionEntity/CallsEdge shape to lang.Symbol/lang.Reference.
type goTreeSitterExtractor struct{}

func (e *goTreeSitterExtractor) Extract(filePath string, source []byte) (*ExtractResult, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(golang.GetLanguage())

	tree, err := parser.ParseCtx(context.Background(), nil, source)
	if err != nil {
		return nil, fmt.Errorf("tree-sitter parse: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()

	result := &ExtractResult{}
	nameToID := make(map[string]string)
	var funcNodes []*sitter.Node

	var walk func(node *sitter.Node)
	walk = func(node *sitter.Node) {
		if node == nil {
			return
		}
		switch node.Type() {
		case "function_declaration":
			sym := e.extractFunction(node, source, filePath)
			result.Symbols = append(result.Symbols, sym)
			nameToID[sym.Name] = sym.ID()
			funcNodes = append(funcNodes, node)
		case "method_declaration":
			sym := e.extractMethod(node, source, filePath)
			result.Symbols = append(result.Symbols, sym)
			nameToID[simpleMethodName(sym.Name)] = sym.ID()
			funcNodes = append(funcNodes, node)
		case "import_spec":
			if ref := e.extractImport(node, source, filePath); ref != nil {
				result.References = append(result.References, *ref)
			}
		}
		for i := 0; i < int(node.ChildCount()); i++ {
			walk(node.Child(i))
		}
	}
	walk(root)

	// Second pass: calls made within each extracted function body.
	for _, fn := range funcNodes {
		fromID := e.functionIDForNode(fn, source, filePath)
		e.extractCalls(fn, source, filePath, fromID, nameToID, result)
	}

	if e.hasMain(root, source) {
		result.Symbols = append(result.Symbols, Symbol{
			FilePath:      filePath,
			Kind:          KindEntryPoint,
			Name:          "main",
			QualifiedName: QualifiedName(filePath, nil, "main"),
			Visibility:    "public",
		})
	}

	return result, nil
}

func (e *goTreeSitterExtractor) extractFunction(node *sitter.Node, source []byte, filePath string) Symbol {
	name := ""
	if nameNode := node.ChildByFieldName("name"); nameNode != nil {
		name = nameNode.Content(source)
	}
	span := nodeSpan(node)
	return Symbol{
		FilePath:      filePath,
		Kind:          KindFunction,
		Name:          name,
		QualifiedName: QualifiedName(filePath, nil, name),
		Span:          span,
		Signature:     node.Content(source),
		Visibility:    visibilityFromName(name),
	}
}

func (e *goTreeSitterExtractor) extractMethod(node *sitter.Node, source []byte, filePath string) Symbol {
	name := ""
	if nameNode := node.ChildByFieldName("name"); nameNode != nil {
		name = nameNode.Content(source)
	}
	receiver := ""
	if recvNode := node.ChildByFieldName("receiver"); recvNode != nil {
		receiver = strings.TrimSpace(recvNode.Content(source))
	}
	fullName := name
	if receiver != "" {
		fullName = receiverTypeName(receiver) + "." + name
	}
	span := nodeSpan(node)
	return Symbol{
		FilePath:      filePath,
		Kind:          KindMethod,
		Name:          fullName,
		QualifiedName: QualifiedName(filePath, nil, fullName),
		Span:          span,
		Signature:     node.Content(source),
		Visibility:    visibilityFromName(name),
	}
}

func (e *goTreeSitterExtractor) extractImport(node *sitter.Node, source []byte, filePath string) *Reference {
	pathNode := node.ChildByFieldName("path")
	if pathNode == nil {
		return nil
	}
	importPath := strings.Trim(pathNode.Content(source), `"`)
	return &Reference{
		ToUnresolvedName: importPath,
		Kind:             RefImports,
		FilePath:         filePath,
		Line:             int(node.StartPoint().Row) + 1,
	}
}

func (e *goTreeSitterExtractor) functionIDForNode(node *sitter.Node, source []byte, filePath string) string {
	if node.Type() == "method_declaration" {
		return e.extractMethod(node, source, filePath).ID()
	}
	return e.extractFunction(node, source, filePath).ID()
}

func (e *goTreeSitterExtractor) extractCalls(node *sitter.Node, source []byte, filePath, fromID string, nameToID map[string]string, result *ExtractResult) {
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if n == nil {
			return
		}
		if n.Type() == "call_expression" {
			if fnNode := n.ChildByFieldName("function"); fnNode != nil {
				callee := fnNode.Content(source)
				// Keep the full callee expression ("helper.DoThing" or
				// "DoThing") rather than stripping to the bare name: the
				// Ingestion Pipeline's CallResolver needs the package
				// qualifier to resolve cross-file/cross-package calls
				// against a file's import table.
				result.References = append(result.References, Reference{
					FromSymbolID:     fromID,
					ToUnresolvedName: callee,
					Kind:             RefCalls,
					FilePath:         filePath,
					Line:             int(n.StartPoint().Row) + 1,
				})
			}
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i))
		}
	}
	walk(node)
}

func (e *goTreeSitterExtractor) hasMain(root *sitter.Node, source []byte) bool {
	found := false
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if n == nil || found {
			return
		}
		if n.Type() == "function_declaration" {
			if nameNode := n.ChildByFieldName("name"); nameNode != nil && nameNode.Content(source) == "main" {
				found = true
				return
			}
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i))
		}
	}
	walk(root)
	return found
}

func nodeSpan(node *sitter.Node) fingerprint.Span {
	return fingerprint.Span{
		StartLine: int(node.StartPoint().Row) + 1,
		EndLine:   int(node.EndPoint().Row) + 1,
		StartCol:  int(node.StartPoint().Column),
		EndCol:    int(node.EndPoint().Column),
	}
}

func visibilityFromName(name string) string {
	if name != "" && strings.ToUpper(name[:1]) == name[:1] {
		return "public"
	}
	return "private"
}

// receiverTypeName extracts the bare type name from a Go receiver clause
// like "(s *Server)" -> "Server".
func receiverTypeName(receiver string) string {
	receiver = strings.Trim(receiver, "()")
	fields := strings.Fields(receiver)
	if len(fields) == 0 {
		return ""
	}
	t := fields[len(fields)-1]
	return strings.TrimPrefix(t, "*")
}

func simpleMethodName(name string) string {
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		return name[idx+1:]
	}
	return name
}
