package lang

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// tsTreeSitterExtractor covers TypeScript and JavaScript, which share
// enough grammar node names (function_declaration, class_declaration,
// method_definition, import_statement) to extract with one walker
// parameterized by dialect, the way the teacher's parser_typescript.go
// covers both under one file.
type tsTreeSitterExtractor struct {
	dialect string // "typescript" or "javascript"
}

func (e *tsTreeSitterExtractor) Extract(filePath string, source []byte) (*ExtractResult, error) {
	parser := sitter.NewParser()
	if e.dialect == "javascript" {
		parser.SetLanguage(javascript.GetLanguage())
	} else {
		parser.SetLanguage(typescript.GetLanguage())
	}

	tree, err := parser.ParseCtx(context.Background(), nil, source)
	if err != nil {
		return nil, fmt.Errorf("tree-sitter parse (%s): %w", e.dialect, err)
	}
	defer tree.Close()

	result := &ExtractResult{}
	var currentClass string

	var walk func(node *sitter.Node)
	walk = func(node *sitter.Node) {
		if node == nil {
			return
		}
		switch node.Type() {
		case "class_declaration":
			name := fieldContent(node, "name", source)
			result.Symbols = append(result.Symbols, Symbol{
				FilePath:      filePath,
				Kind:          KindClass,
				Name:          name,
				QualifiedName: QualifiedName(filePath, nil, name),
				Span:          nodeSpan(node),
				Visibility:    "public",
			})
			prevClass := currentClass
			currentClass = name
			for i := 0; i < int(node.ChildCount()); i++ {
				walk(node.Child(i))
			}
			currentClass = prevClass
			return

		case "function_declaration", "function":
			name := fieldContent(node, "name", source)
			kind := KindFunction
			namespaces := []string(nil)
			if name == "" {
				name = "$anon"
			}
			result.Symbols = append(result.Symbols, Symbol{
				FilePath:      filePath,
				Kind:          kind,
				Name:          name,
				QualifiedName: QualifiedName(filePath, namespaces, name),
				Span:          nodeSpan(node),
				Visibility:    "public",
			})

		case "method_definition":
			name := fieldContent(node, "name", source)
			full := name
			namespaces := []string(nil)
			if currentClass != "" {
				full = currentClass + "." + name
				namespaces = []string{currentClass}
			}
			result.Symbols = append(result.Symbols, Symbol{
				FilePath:      filePath,
				Kind:          KindMethod,
				Name:          full,
				QualifiedName: QualifiedName(filePath, namespaces, name),
				Span:          nodeSpan(node),
				Visibility:    "public",
			})

		case "import_statement":
			if src := node.ChildByFieldName("source"); src != nil {
				result.References = append(result.References, Reference{
					ToUnresolvedName: trimQuotes(src.Content(source)),
					Kind:             RefImports,
					FilePath:         filePath,
					Line:             int(node.StartPoint().Row) + 1,
				})
			}
		}

		for i := 0; i < int(node.ChildCount()); i++ {
			walk(node.Child(i))
		}
	}
	walk(tree.RootNode())

	if hasExpressionByContent(tree.RootNode(), source, "export default") {
		result.Symbols = append(result.Symbols, Symbol{
			FilePath:      filePath,
			Kind:          KindExport,
			Name:          "default",
			QualifiedName: QualifiedName(filePath, nil, "default"),
			Visibility:    "public",
		})
	}

	return result, nil
}

// pyTreeSitterExtractor covers Python function_definition/class_definition.
type pyTreeSitterExtractor struct{}

func (e *pyTreeSitterExtractor) Extract(filePath string, source []byte) (*ExtractResult, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())

	tree, err := parser.ParseCtx(context.Background(), nil, source)
	if err != nil {
		return nil, fmt.Errorf("tree-sitter parse (python): %w", err)
	}
	defer tree.Close()

	result := &ExtractResult{}
	var currentClass string

	var walk func(node *sitter.Node)
	walk = func(node *sitter.Node) {
		if node == nil {
			return
		}
		switch node.Type() {
		case "class_definition":
			name := fieldContent(node, "name", source)
			result.Symbols = append(result.Symbols, Symbol{
				FilePath:      filePath,
				Kind:          KindClass,
				Name:          name,
				QualifiedName: QualifiedName(filePath, nil, name),
				Span:          nodeSpan(node),
				Visibility:    "public",
			})
			prevClass := currentClass
			currentClass = name
			for i := 0; i < int(node.ChildCount()); i++ {
				walk(node.Child(i))
			}
			currentClass = prevClass
			return

		case "function_definition":
			name := fieldContent(node, "name", source)
			kind := KindFunction
			full := name
			namespaces := []string(nil)
			if currentClass != "" {
				kind = KindMethod
				full = currentClass + "." + name
				namespaces = []string{currentClass}
			}
			result.Symbols = append(result.Symbols, Symbol{
				FilePath:      filePath,
				Kind:          kind,
				Name:          full,
				QualifiedName: QualifiedName(filePath, namespaces, name),
				Span:          nodeSpan(node),
				Visibility:    pyVisibility(name),
			})

		case "import_statement", "import_from_statement":
			result.References = append(result.References, Reference{
				ToUnresolvedName: node.Content(source),
				Kind:             RefImports,
				FilePath:         filePath,
				Line:             int(node.StartPoint().Row) + 1,
			})
		}

		for i := 0; i < int(node.ChildCount()); i++ {
			walk(node.Child(i))
		}
	}
	walk(tree.RootNode())

	for _, sym := range result.Symbols {
		if sym.Name == "main" && sym.Kind == KindFunction {
			result.Symbols = append(result.Symbols, Symbol{
				FilePath:      filePath,
				Kind:          KindEntryPoint,
				Name:          "main",
				QualifiedName: QualifiedName(filePath, nil, "main"),
				Visibility:    "public",
			})
			break
		}
	}

	return result, nil
}

func fieldContent(node *sitter.Node, field string, source []byte) string {
	if n := node.ChildByFieldName(field); n != nil {
		return n.Content(source)
	}
	return ""
}

func trimQuotes(s string) string {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') {
		return s[1 : len(s)-1]
	}
	return s
}

func pyVisibility(name string) string {
	if len(name) > 0 && name[0] == '_' {
		return "private"
	}
	return "public"
}

func hasExpressionByContent(root *sitter.Node, source []byte, needle string) bool {
	found := false
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if n == nil || found {
			return
		}
		if n.Type() == "export_statement" {
			content := n.Content(source)
			if len(content) >= len(needle) && content[:len(needle)] == needle {
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
