package tts

import "strings"

// SentenceBuffer accumulates streamed text and extracts complete
// sentences so each can be synthesized as soon as it closes.
type SentenceBuffer struct {
	buffer strings.Builder
}

// NewSentenceBuffer creates an empty sentence buffer.
func NewSentenceBuffer() *SentenceBuffer {
	return &SentenceBuffer{}
}

// Add appends text and returns any sentences completed by it.
func (b *SentenceBuffer) Add(text string) []string {
	b.buffer.WriteString(text)

	content := b.buffer.String()
	var sentences []string

	lastEnd := 0
	for i := 0; i < len(content); i++ {
		if isSentenceEnd(content, i) {
			sentence := strings.TrimSpace(content[lastEnd : i+1])
			if sentence != "" {
				sentences = append(sentences, sentence)
			}
			lastEnd = i + 1
		}
	}

	if lastEnd > 0 {
		rest := content[lastEnd:]
		b.buffer.Reset()
		b.buffer.WriteString(rest)
	}

	return sentences
}

// Flush returns any trailing partial sentence and clears the buffer.
func (b *SentenceBuffer) Flush() string {
	result := strings.TrimSpace(b.buffer.String())
	b.buffer.Reset()
	return result
}

// Pending returns the buffered partial text without clearing it.
func (b *SentenceBuffer) Pending() string {
	return b.buffer.String()
}

func isSentenceEnd(s string, i int) bool {
	c := s[i]
	if c != '.' && c != '!' && c != '?' {
		return false
	}
	if c == '.' && isAbbreviation(s, i) {
		return false
	}
	// A boundary needs whitespace or end of stream after it, so "3.5"
	// and "I-80.5" stay intact.
	if i+1 < len(s) && s[i+1] != ' ' && s[i+1] != '\n' && s[i+1] != '\r' && s[i+1] != '\t' {
		return false
	}
	return true
}

// Abbreviations that show up in dispatch-style speech.
var abbreviations = []string{
	"Dr.", "Mr.", "Mrs.", "Ms.", "Jr.", "Sr.",
	"St.", "Ave.", "Blvd.", "Rd.", "Hwy.", "Rte.",
	"No.", "Dept.", "Inc.", "Ltd.", "Co.", "vs.", "etc.",
	"i.e.", "e.g.", "a.m.", "p.m.", "approx.",
}

func isAbbreviation(s string, i int) bool {
	if i < 1 {
		return false
	}

	start := i
	for start > 0 && s[start-1] != ' ' && s[start-1] != '\n' {
		start--
	}
	word := s[start : i+1]

	for _, abbr := range abbreviations {
		if strings.EqualFold(word, abbr) {
			return true
		}
	}

	// Single uppercase letter followed by a period reads as an initial.
	if s[i-1] >= 'A' && s[i-1] <= 'Z' {
		if i < 2 || s[i-2] == ' ' || s[i-2] == '\n' {
			return true
		}
	}

	return false
}
