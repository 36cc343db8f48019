// Package chunk splits document text into retrievable chunks. The splitting
// strategy is chosen by file extension: markdown by header path, code by
// function boundary, XML by top-level element, everything else by paragraph.
// Oversized sections are refined with a sliding window that backs up to
// sentence boundaries.
package chunk

import "strings"

// Default chunking parameters, in characters.
const (
	DefaultMaxChunkSize = 1000
	DefaultOverlap      = 200

	// previewLength is the maximum textPreview length.
	previewLength = 100
)

// Chunk is one contiguous text fragment, the unit of embedding and retrieval.
type Chunk struct {
	// Text is the full chunk text.
	Text string

	// HeaderContext is the breadcrumb locating the chunk in its file,
	// e.g. "Install > Linux" or a function name.
	HeaderContext string

	// Index is the zero-based position of the chunk within its file.
	Index int
}

// Options configures the chunker.
type Options struct {
	// MaxChunkSize is the maximum chunk size in characters.
	MaxChunkSize int

	// Overlap is the sliding-window overlap in characters.
	Overlap int
}

// withDefaults fills zero fields and clamps overlap below the chunk size.
func (o Options) withDefaults() Options {
	if o.MaxChunkSize <= 0 {
		o.MaxChunkSize = DefaultMaxChunkSize
	}
	if o.Overlap < 0 {
		o.Overlap = DefaultOverlap
	}
	if o.Overlap >= o.MaxChunkSize {
		o.Overlap = o.MaxChunkSize / 5
	}
	return o
}

// section is an intermediate unit produced by a primary splitter, before
// sliding-window refinement.
type section struct {
	text          string
	headerContext string
}

// Preview returns the first 100 characters of text with whitespace collapsed,
// for UI and log use.
func Preview(text string) string {
	collapsed := strings.Join(strings.Fields(text), " ")
	if len(collapsed) > previewLength {
		return collapsed[:previewLength]
	}
	return collapsed
}
