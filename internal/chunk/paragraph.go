package chunk

import (
	"fmt"
	"regexp"
	"strings"
)

var blankLinePattern = regexp.MustCompile(`\n\s*\n`)

// splitParagraphs is the default strategy: blank-line separated paragraphs,
// each labelled "(paragraph N)".
func splitParagraphs(text string) []section {
	parts := blankLinePattern.Split(text, -1)

	var sections []section
	n := 0
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		n++
		sections = append(sections, section{
			text:          trimmed,
			headerContext: fmt.Sprintf("(paragraph %d)", n),
		})
	}
	return sections
}
