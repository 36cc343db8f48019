package chunk

import (
	"path/filepath"
	"strings"
)

// strategy is a primary splitter: full text in, ordered sections out.
type strategy func(text string) []section

// strategies maps a file extension to its primary splitter. Extensions not
// listed fall back to paragraph splitting.
var strategies = map[string]strategy{
	".md":       splitMarkdown,
	".markdown": splitMarkdown,
	".xml":      splitXML,
	".ps1":      splitCode,
	".psm1":     splitCode,
	".go":       splitCode,
	".py":       splitCode,
	".js":       splitCode,
	".ts":       splitCode,
	".cs":       splitCode,
	".java":     splitCode,
	".rb":       splitCode,
}

// Dispatch splits text by the strategy registered for the file extension and
// refines oversized sections with the sliding window. Chunk indices are
// contiguous and follow source order.
func Dispatch(text, fileExtension string, opts Options) []Chunk {
	opts = opts.withDefaults()

	if strings.TrimSpace(text) == "" {
		return nil
	}

	split, ok := strategies[strings.ToLower(fileExtension)]
	if !ok {
		split = splitParagraphs
	}

	var chunks []Chunk
	for _, sec := range split(text) {
		for _, piece := range slidingWindow(sec.text, opts.MaxChunkSize, opts.Overlap) {
			chunks = append(chunks, Chunk{
				Text:          piece,
				HeaderContext: sec.headerContext,
				Index:         len(chunks),
			})
		}
	}
	return chunks
}

// plainTextExtensions have no dedicated strategy but are still worth
// ingesting via paragraph splitting.
var plainTextExtensions = map[string]bool{
	".txt":  true,
	".text": true,
	".rst":  true,
	".adoc": true,
}

// SupportedExtension reports whether files with this extension should be
// ingested: either a dedicated strategy exists or the file is plain text.
func SupportedExtension(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if _, ok := strategies[ext]; ok {
		return true
	}
	return plainTextExtensions[ext]
}
