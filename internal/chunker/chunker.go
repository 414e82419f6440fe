// Package chunker splits extracted text into word windows and sentences.
// Words are approximated by whitespace-delimited fields to avoid heavy dependencies.
package chunker

import (
	"strings"
	"unicode"
)

// Options controls how text is chunked.
type Options struct {
	MaxWords int
	Overlap  int
}

// Chunk represents a slice of the document text.
type Chunk struct {
	Index     int
	Text      string
	WordCount int
}

// ChunkText performs a simple word-based sliding window with overlap.
func ChunkText(text string, opts Options) []Chunk {
	if opts.MaxWords <= 0 {
		opts.MaxWords = 400
	}
	if opts.Overlap < 0 {
		opts.Overlap = 0
	}

	words := strings.Fields(text)
	var chunks []Chunk
	if len(words) == 0 {
		return chunks
	}

	step := opts.MaxWords - opts.Overlap
	if step <= 0 {
		step = opts.MaxWords
	}

	for start := 0; start < len(words); start += step {
		end := min(start+opts.MaxWords, len(words))
		chunks = append(chunks, Chunk{
			Index:     len(chunks),
			Text:      strings.Join(words[start:end], " "),
			WordCount: end - start,
		})
		if end == len(words) {
			break
		}
	}
	return chunks
}

// Sentences splits text after '.', '!', '?' and the Devanagari danda when followed by
// whitespace or end of input. Whitespace inside a sentence is collapsed.
func Sentences(text string) []string {
	var (
		out  []string
		cur  []string
		word strings.Builder
	)
	flushWord := func() {
		if word.Len() > 0 {
			cur = append(cur, word.String())
			word.Reset()
		}
	}
	flushSentence := func() {
		flushWord()
		if len(cur) > 0 {
			out = append(out, strings.Join(cur, " "))
			cur = cur[:0]
		}
	}

	runes := []rune(text)
	for i, r := range runes {
		if unicode.IsSpace(r) {
			flushWord()
			continue
		}
		word.WriteRune(r)
		if isTerminal(r) && (i+1 == len(runes) || unicode.IsSpace(runes[i+1])) {
			flushSentence()
		}
	}
	flushSentence()
	return out
}

func isTerminal(r rune) bool {
	switch r {
	case '.', '!', '?', '।':
		return true
	}
	return false
}

// Lead returns the leading whole sentences of text that fit in maxWords.
// When the first sentence alone is longer, its first maxWords words are returned.
func Lead(text string, maxWords int) string {
	if maxWords <= 0 {
		return ""
	}
	var (
		picked []string
		used   int
	)
	for _, s := range Sentences(text) {
		n := len(strings.Fields(s))
		if used+n > maxWords {
			break
		}
		picked = append(picked, s)
		used += n
	}
	if len(picked) > 0 {
		return strings.Join(picked, " ")
	}
	chunks := ChunkText(text, Options{MaxWords: maxWords})
	if len(chunks) == 0 {
		return ""
	}
	return chunks[0].Text
}
