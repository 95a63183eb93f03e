package ingest

import (
	"strings"
	"unicode/utf8"
)

const DefaultChunkSize = 4000

// Chunk splits content into pieces of at most size runes where possible,
// preferring "## " section boundaries, then paragraph boundaries. A single
// paragraph longer than size is kept whole.
func Chunk(content string, size int) []string {
	if utf8.RuneCountInString(content) <= size {
		return []string{content}
	}

	var (
		chunks  []string
		current strings.Builder
	)
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			chunks = append(chunks, s)
		}
		current.Reset()
	}
	fits := func(s string) bool {
		return utf8.RuneCountInString(current.String())+utf8.RuneCountInString(s) <= size
	}

	for i, section := range strings.Split(content, "\n## ") {
		if i > 0 {
			section = "## " + section
		}

		if fits(section) {
			current.WriteString(section + "\n")
			continue
		}
		flush()

		if utf8.RuneCountInString(section) <= size {
			current.WriteString(section + "\n")
			continue
		}

		for _, para := range strings.Split(section, "\n\n") {
			if !fits(para) {
				flush()
			}
			current.WriteString(para + "\n\n")
		}
	}
	flush()

	return chunks
}
