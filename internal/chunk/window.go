package chunk

import (
	"strings"
	"unicode"
)

// sentenceEnders terminate a sentence when followed by whitespace or EOF.
var sentenceEnders = map[byte]bool{'.': true, '?': true, '!': true}

// slidingWindow refines a section into pieces of at most maxSize characters.
// Pieces step by maxSize-overlap; each window end backs up to the nearest
// sentence boundary within the last 20% of the window, then to the nearest
// whitespace. Words are never split unless a single word exceeds maxSize.
func slidingWindow(text string, maxSize, overlap int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= maxSize {
		return []string{text}
	}

	step := maxSize - overlap
	if step <= 0 {
		step = maxSize
	}

	var pieces []string
	start := 0
	for start < len(text) {
		if len(text)-start <= maxSize {
			if tail := strings.TrimSpace(text[start:]); tail != "" {
				pieces = append(pieces, tail)
			}
			break
		}

		cut := backupToBoundary(text, start, start+maxSize)
		if piece := strings.TrimSpace(text[start:cut]); piece != "" {
			pieces = append(pieces, piece)
		}

		next := cut - overlap
		if next <= start {
			next = start + step
		}
		next = wordStart(text, next, start)
		if next <= start {
			next = start + step
		}
		start = next
	}
	return pieces
}

// backupToBoundary returns the cut position for a window [start, end).
// Preference order: sentence boundary (". ? ! or blank line") within the last
// 20% of the window, then any whitespace, then the raw end (mid-word split of
// a single oversized token).
func backupToBoundary(text string, start, end int) int {
	threshold := end - (end-start)/5

	for i := end - 1; i >= threshold; i-- {
		if i+1 < len(text) && text[i] == '\n' && text[i+1] == '\n' {
			return i
		}
		if sentenceEnders[text[i]] && (i+1 >= len(text) || isSpaceByte(text[i+1])) {
			return i + 1
		}
	}

	for i := end - 1; i > start; i-- {
		if isSpaceByte(text[i]) {
			return i
		}
	}
	return end
}

// wordStart moves pos back to the beginning of the word it lands in, so the
// overlap region starts on a word boundary. Returns floor when it would cross it.
func wordStart(text string, pos, floor int) int {
	if pos >= len(text) || pos <= floor {
		return pos
	}
	for pos > floor && !isSpaceByte(text[pos-1]) {
		pos--
	}
	return pos
}

func isSpaceByte(b byte) bool {
	return unicode.IsSpace(rune(b))
}
