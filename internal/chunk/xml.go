package chunk

import (
	"encoding/xml"
	"errors"
	"io"
	"strings"
)

// splitXML splits a document on the top-level children of the root element.
// Each section's headerContext is the element path "root > child". Documents
// that fail to parse fall back to paragraph splitting.
func splitXML(text string) []section {
	dec := xml.NewDecoder(strings.NewReader(text))
	dec.Strict = false

	var sections []section
	var rootName string
	depth := 0
	childStart := int64(-1)
	childName := ""

	for {
		tokenStart := dec.InputOffset()
		tok, err := dec.Token()
		if tok == nil {
			if err != nil && !errors.Is(err, io.EOF) && len(sections) == 0 {
				return splitParagraphs(text)
			}
			break
		}

		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			switch depth {
			case 1:
				rootName = t.Name.Local
			case 2:
				childStart = tokenStart
				childName = t.Name.Local
			}
		case xml.EndElement:
			if depth == 2 && childStart >= 0 {
				end := dec.InputOffset()
				body := strings.TrimSpace(text[childStart:end])
				if body != "" {
					sections = append(sections, section{
						text:          body,
						headerContext: rootName + " > " + childName,
					})
				}
				childStart = -1
			}
			depth--
		}
	}

	if len(sections) == 0 {
		// No top-level children (or not really XML): treat as plain text.
		return splitParagraphs(text)
	}
	return sections
}
