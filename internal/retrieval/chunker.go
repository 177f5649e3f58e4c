package retrieval

import (
	"strings"
	"unicode"
)

// Résumé chunking parameters, in characters.
const (
	ChunkSize    = 500
	ChunkOverlap = 50
)

// Chunk splits text into windows of at most size runes, each starting
// overlap runes before the previous one ended. Cuts move back to the last
// whitespace in the window when there is one in its second half.
func Chunk(text string, size, overlap int) []string {
	text = strings.TrimSpace(text)
	if text == "" || size <= 0 {
		return nil
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	runes := []rune(text)
	if len(runes) <= size {
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + size
		if end >= len(runes) {
			end = len(runes)
		} else {
			for i := end; i > start+size/2; i-- {
				if unicode.IsSpace(runes[i]) {
					end = i
					break
				}
			}
		}

		if c := strings.TrimSpace(string(runes[start:end])); c != "" {
			chunks = append(chunks, c)
		}
		if end == len(runes) {
			break
		}
		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}
