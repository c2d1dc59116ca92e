package lang

import (
	"strings"

	"github.com/kodecortex/cie/internal/fingerprint"
)

// protobufExtractor extracts services, RPCs, messages, and enums from
// .proto files using line-oriented scanning rather than a grammar, since
// no tree-sitter-proto binding is in the pack. Grounded directly on the
// teacher's parser_protobuf.go parseProtobufContent/findProtobufBlockEnd.
type protobufExtractor struct{}

func (e *protobufExtractor) Extract(filePath string, source []byte) (*ExtractResult, error) {
	result := &ExtractResult{}
	lines := strings.Split(string(source), "\n")

	var currentService string
	var serviceStartLine int
	braceCount := 0

	emit := func(kind, name string, span fingerprint.Span) {
		result.Symbols = append(result.Symbols, Symbol{
			FilePath:      filePath,
			Kind:          kind,
			Name:          name,
			QualifiedName: QualifiedName(filePath, nil, name),
			Span:          span,
			Visibility:    "public",
		})
	}

	for i, line := range lines {
		lineNum := i + 1
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "//") || strings.HasPrefix(trimmed, "/*") {
			continue
		}

		if strings.HasPrefix(trimmed, "service ") && strings.Contains(trimmed, "{") {
			parts := strings.Fields(trimmed)
			if len(parts) >= 2 {
				currentService = strings.TrimSuffix(parts[1], "{")
				serviceStartLine = lineNum
				braceCount = strings.Count(trimmed, "{") - strings.Count(trimmed, "}")
				if braceCount == 0 {
					emit(KindModule, currentService, fingerprint.Span{StartLine: serviceStartLine, EndLine: lineNum})
					currentService = ""
				}
			}
			continue
		}

		if currentService != "" {
			braceCount += strings.Count(trimmed, "{") - strings.Count(trimmed, "}")

			if strings.HasPrefix(trimmed, "rpc ") {
				rpcName := extractRPCName(trimmed)
				if rpcName != "" {
					emit(KindFunction, currentService+"."+rpcName, fingerprint.Span{StartLine: lineNum, EndLine: lineNum})
				}
			}

			if braceCount == 0 {
				emit(KindModule, currentService, fingerprint.Span{StartLine: serviceStartLine, EndLine: lineNum})
				currentService = ""
			}
			continue
		}

		if strings.HasPrefix(trimmed, "message ") && strings.Contains(trimmed, "{") {
			parts := strings.Fields(trimmed)
			if len(parts) >= 2 {
				name := strings.TrimSuffix(parts[1], "{")
				end := findProtoBlockEnd(lines, i)
				emit(KindClass, name, fingerprint.Span{StartLine: lineNum, EndLine: end})
			}
		}

		if strings.HasPrefix(trimmed, "enum ") && strings.Contains(trimmed, "{") {
			parts := strings.Fields(trimmed)
			if len(parts) >= 2 {
				name := strings.TrimSuffix(parts[1], "{")
				end := findProtoBlockEnd(lines, i)
				emit(KindClass, name, fingerprint.Span{StartLine: lineNum, EndLine: end})
			}
		}

		if strings.HasPrefix(trimmed, "import ") {
			imp := strings.Trim(strings.TrimSuffix(strings.TrimPrefix(trimmed, "import "), ";"), `" `)
			result.References = append(result.References, Reference{
				ToUnresolvedName: imp,
				Kind:             RefImports,
				FilePath:         filePath,
				Line:             lineNum,
			})
		}
	}

	return result, nil
}

func extractRPCName(line string) string {
	trimmed := strings.TrimPrefix(strings.TrimSpace(line), "rpc ")
	parenIdx := strings.Index(trimmed, "(")
	if parenIdx == -1 {
		return ""
	}
	return strings.TrimSpace(trimmed[:parenIdx])
}

func findProtoBlockEnd(lines []string, startIdx int) int {
	braceCount := 0
	started := false
	for i := startIdx; i < len(lines); i++ {
		line := lines[i]
		braceCount += strings.Count(line, "{") - strings.Count(line, "}")
		if !started && strings.Contains(line, "{") {
			started = true
		}
		if started && braceCount == 0 {
			return i + 1
		}
	}
	return len(lines)
}
