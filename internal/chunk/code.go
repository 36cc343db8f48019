package chunk

import (
	"regexp"
	"strings"
)

// topLevelContext labels code that precedes the first definition.
const topLevelContext = "(top-level)"

// definitionPatterns match top-level function or class definitions. The first
// non-empty capture group is the symbol name. Line-oriented matching keeps the
// splitter deterministic across languages, including ones without parsers.
var definitionPatterns = []*regexp.Regexp{
	// PowerShell: function Verb-Noun { / filter Name {
	regexp.MustCompile(`^\s*(?i:function|filter|workflow)\s+([A-Za-z_][\w-]*)`),
	// Go: func Name( / func (r Recv) Name(
	regexp.MustCompile(`^func\s+(?:\([^)]*\)\s*)?([A-Za-z_]\w*)`),
	// Python: def name( / class Name(
	regexp.MustCompile(`^(?:async\s+)?(?:def|class)\s+([A-Za-z_]\w*)`),
	// JavaScript/TypeScript/C#/Java: function name( / class Name
	regexp.MustCompile(`^(?:export\s+)?(?:default\s+)?(?:async\s+)?function\s*\*?\s*([A-Za-z_$][\w$]*)`),
	regexp.MustCompile(`^(?:export\s+)?(?:public\s+|internal\s+|abstract\s+|sealed\s+|static\s+)*class\s+([A-Za-z_$][\w$]*)`),
	// Ruby: def name / class Name
	regexp.MustCompile(`^(?:def|module)\s+([A-Za-z_]\w*[?!]?)`),
}

// matchDefinition returns the symbol name if the line opens a top-level
// definition.
func matchDefinition(line string) (string, bool) {
	// Indented lines are nested definitions, except PowerShell where leading
	// whitespace before function is common in module files.
	for i, p := range definitionPatterns {
		if i > 0 && len(line) > 0 && (line[0] == ' ' || line[0] == '\t') {
			continue
		}
		if m := p.FindStringSubmatch(line); m != nil {
			for _, g := range m[1:] {
				if g != "" {
					return g, true
				}
			}
		}
	}
	return "", false
}

// splitCode splits source on top-level function/class definitions. Each
// section's headerContext is the symbol name; leading code without a
// definition gets "(top-level)".
func splitCode(text string) []section {
	lines := strings.Split(text, "\n")

	var sections []section
	var buf strings.Builder
	context := topLevelContext

	flush := func() {
		if strings.TrimSpace(buf.String()) != "" {
			sections = append(sections, section{
				text:          strings.TrimRight(buf.String(), "\n"),
				headerContext: context,
			})
		}
		buf.Reset()
	}

	for _, line := range lines {
		if name, ok := matchDefinition(line); ok {
			flush()
			context = name
		}
		buf.WriteString(line)
		buf.WriteString("\n")
	}
	flush()

	return sections
}
