package lang

import (
	"regexp"
	"strings"

	"github.com/kodecortex/cie/internal/fingerprint"
)

// regexExtractor is the simplified fallback variant: a single pass of
// line-oriented regex matching that needs no grammar binding, used when
// Mode is "simplified" or when ModeAuto finds no tree-sitter grammar
// registered for the language. Grounded on the teacher's
// parser_protobuf.go's line-scanning style, generalized with per-language
// declaration patterns instead of one hardcoded grammar.
type regexExtractor struct {
	lang string
}

var declPatterns = map[string][]*regexp.Regexp{
	"go": {
		regexp.MustCompile(`^func\s+(?:\(\s*(?:\w+\s+)?\*?(\w+)\s*\)\s*)?(\w+)\s*\(`),
	},
	"typescript": {
		regexp.MustCompile(`^(?:export\s+)?(?:default\s+)?function\s+(\w+)\s*\(`),
		regexp.MustCompile(`^(?:export\s+)?(?:default\s+)?class\s+(\w+)`),
	},
	"javascript": {
		regexp.MustCompile(`^(?:export\s+)?(?:default\s+)?function\s+(\w+)\s*\(`),
		regexp.MustCompile(`^(?:export\s+)?(?:default\s+)?class\s+(\w+)`),
	},
	"python": {
		regexp.MustCompile(`^\s*def\s+(\w+)\s*\(`),
		regexp.MustCompile(`^\s*class\s+(\w+)`),
	},
}

var importPatterns = map[string]*regexp.Regexp{
	"go":         regexp.MustCompile(`^\s*"([^"]+)"\s*$`),
	"typescript": regexp.MustCompile(`^import\s+.*\s+from\s+['"]([^'"]+)['"]`),
	"javascript": regexp.MustCompile(`^(?:import\s+.*\s+from\s+['"]([^'"]+)['"]|const\s+\w+\s*=\s*require\(['"]([^'"]+)['"]\))`),
	"python":     regexp.MustCompile(`^\s*(?:import|from)\s+([\w.]+)`),
}

func (e *regexExtractor) Extract(filePath string, source []byte) (*ExtractResult, error) {
	result := &ExtractResult{}
	lines := strings.Split(string(source), "\n")
	patterns := declPatterns[e.lang]

	for i, line := range lines {
		lineNum := i + 1
		trimmed := strings.TrimRight(line, "\r")

		for _, pat := range patterns {
			m := pat.FindStringSubmatch(trimmed)
			if m == nil {
				continue
			}
			name := m[len(m)-1]
			if name == "" {
				continue
			}
			kind := KindFunction
			if strings.Contains(pat.String(), "class") {
				kind = KindClass
			} else if e.lang == "go" && len(m) == 3 && m[1] != "" {
				kind = KindMethod
				name = m[1] + "." + m[2]
			}
			span := fingerprint.Span{StartLine: lineNum, EndLine: lineNum}
			result.Symbols = append(result.Symbols, Symbol{
				FilePath:      filePath,
				Kind:          kind,
				Name:          name,
				QualifiedName: QualifiedName(filePath, nil, name),
				Span:          span,
				Visibility:    regexVisibility(e.lang, name),
			})
		}

		if ip, ok := importPatterns[e.lang]; ok {
			if m := ip.FindStringSubmatch(trimmed); m != nil {
				target := lastNonEmpty(m[1:])
				if target != "" {
					result.References = append(result.References, Reference{
						ToUnresolvedName: target,
						Kind:             RefImports,
						FilePath:         filePath,
						Line:             lineNum,
					})
				}
			}
		}

		if (e.lang == "go" || e.lang == "python") && strings.Contains(trimmed, "main(") &&
			(strings.HasPrefix(strings.TrimSpace(trimmed), "func main(") || strings.HasPrefix(strings.TrimSpace(trimmed), "def main(")) {
			result.Symbols = append(result.Symbols, Symbol{
				FilePath:      filePath,
				Kind:          KindEntryPoint,
				Name:          "main",
				QualifiedName: QualifiedName(filePath, nil, "main"),
				Visibility:    "public",
			})
		}
	}

	return result, nil
}

func regexVisibility(lang, name string) string {
	if lang == "go" {
		return visibilityFromName(lastSegment(name))
	}
	return pyVisibility(lastSegment(name))
}

func lastSegment(name string) string {
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		return name[idx+1:]
	}
	return name
}

func lastNonEmpty(groups []string) string {
	for i := len(groups) - 1; i >= 0; i-- {
		if groups[i] != "" {
			return groups[i]
		}
	}
	return ""
}
