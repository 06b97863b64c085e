// Package chunker splits document text into overlapping word windows,
// grouped under markdown-style headings when present.
package chunker

import "strings"

// Chunk is one retrievable unit of text. Heading is "" when the source text
// carries no heading for the section.
type Chunk struct {
	Heading string
	Text    string
}

// Chunker holds the window parameters. MaxWords bounds the words per chunk;
// Overlap is the number of trailing words repeated at the start of the next
// window.
type Chunker struct {
	MaxWords int
	Overlap  int
}

// New returns a chunker with the given window size and overlap. Invalid
// values fall back to the pipeline defaults, with the overlap always kept
// below the window so Split advances.
func New(maxWords, overlap int) *Chunker {
	if maxWords <= 0 {
		maxWords = 800
	}
	if overlap < 0 || overlap >= maxWords {
		overlap = 120
		if overlap >= maxWords {
			overlap = maxWords - 1
		}
	}
	return &Chunker{MaxWords: maxWords, Overlap: overlap}
}

type section struct {
	heading string
	text    string
}

// splitSections partitions text at lines starting with "#". Content before
// the first heading belongs to a heading-less section. Blank lines are
// dropped; a heading consisting only of "#" characters yields no heading.
func splitSections(text string) []section {
	var sections []section
	var heading string
	var lines []string
	sawHeading := false

	flush := func() {
		if len(lines) > 0 {
			sections = append(sections, section{
				heading: heading,
				text:    strings.TrimSpace(strings.Join(lines, "\n")),
			})
			lines = nil
		}
	}

	for _, line := range strings.Split(text, "\n") {
		stripped := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(stripped, "#"):
			flush()
			heading = strings.TrimSpace(strings.TrimLeft(stripped, "#"))
			sawHeading = true
		case stripped != "":
			lines = append(lines, stripped)
		}
	}
	flush()

	if len(sections) == 0 && !sawHeading {
		sections = append(sections, section{text: strings.TrimSpace(text)})
	}
	return sections
}

// Split chunks the text into word windows of at most MaxWords words, with
// Overlap words shared between consecutive windows of the same section.
// Empty input yields no chunks; no returned chunk is ever empty.
func (c *Chunker) Split(text string) []Chunk {
	var chunks []Chunk
	for _, sec := range splitSections(text) {
		words := strings.Fields(sec.text)
		if len(words) == 0 {
			continue
		}
		start := 0
		for start < len(words) {
			end := start + c.MaxWords
			if end > len(words) {
				end = len(words)
			}
			piece := strings.Join(words[start:end], " ")
			if piece != "" {
				chunks = append(chunks, Chunk{Heading: sec.heading, Text: piece})
			}
			if end == len(words) {
				break
			}
			start = end - c.Overlap
			if start < 0 {
				start = 0
			}
		}
	}
	return chunks
}
