package chunk

import (
	"regexp"
	"strings"
)

// atxHeaderPattern matches ATX headers: # Title through ###### Title.
var atxHeaderPattern = regexp.MustCompile(`^(#{1,6})\s+(.+?)\s*$`)

// splitMarkdown splits on ATX headers, maintaining a stack of (level, title)
// so each section's headerContext is the breadcrumb "A > B > C".
func splitMarkdown(text string) []section {
	lines := strings.Split(text, "\n")

	var sections []section
	var stack [6]string // header titles by level-1
	var buf strings.Builder
	context := ""

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
		if m := atxHeaderPattern.FindStringSubmatch(line); m != nil {
			flush()

			level := len(m[1])
			stack[level-1] = m[2]
			for i := level; i < len(stack); i++ {
				stack[i] = ""
			}

			var parts []string
			for i := range level {
				if stack[i] != "" {
					parts = append(parts, stack[i])
				}
			}
			context = strings.Join(parts, " > ")
		}
		buf.WriteString(line)
		buf.WriteString("\n")
	}
	flush()

	return sections
}
