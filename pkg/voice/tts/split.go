package tts

import "strings"

// SplitConfig configures the spoken/detail split of the response stream.
// When the agent wraps a short span in the tag pair, only that span is
// synthesized; everything else is detail text for the dashboard. If no
// open tag appears within FallbackThreshold buffered bytes, the whole
// stream is treated as spoken so the user is never left in silence.
type SplitConfig struct {
	OpenTag           string
	CloseTag          string
	FallbackThreshold int
}

// DefaultSplitConfig returns the standard tag pair and threshold.
func DefaultSplitConfig() SplitConfig {
	return SplitConfig{
		OpenTag:           "<speak>",
		CloseTag:          "</speak>",
		FallbackThreshold: 160,
	}
}

type splitMode int

const (
	splitUndecided splitMode = iota
	splitInSpoken
	splitDetailOnly
	splitAllSpoken
)

// SpokenSplitter incrementally partitions streamed text into spoken and
// detail-only parts. Not safe for concurrent use.
type SpokenSplitter struct {
	cfg  SplitConfig
	mode splitMode
	buf  strings.Builder
}

// NewSpokenSplitter creates a splitter in the undecided state.
func NewSpokenSplitter(cfg SplitConfig) *SpokenSplitter {
	if cfg.OpenTag == "" || cfg.CloseTag == "" {
		cfg.OpenTag = DefaultSplitConfig().OpenTag
		cfg.CloseTag = DefaultSplitConfig().CloseTag
	}
	if cfg.FallbackThreshold <= 0 {
		cfg.FallbackThreshold = DefaultSplitConfig().FallbackThreshold
	}
	return &SpokenSplitter{cfg: cfg}
}

// Feed consumes one text delta and returns the spoken and detail text it
// releases. Text may be withheld across calls while a tag could still be
// forming.
func (p *SpokenSplitter) Feed(delta string) (string, string) {
	var spoken, detail strings.Builder
	p.feed(delta, &spoken, &detail)
	return spoken.String(), detail.String()
}

func (p *SpokenSplitter) feed(delta string, spoken, detail *strings.Builder) {
	switch p.mode {
	case splitAllSpoken:
		spoken.WriteString(delta)

	case splitDetailOnly:
		detail.WriteString(delta)

	case splitUndecided:
		p.buf.WriteString(delta)
		content := p.buf.String()
		if idx := strings.Index(content, p.cfg.OpenTag); idx >= 0 {
			detail.WriteString(content[:idx])
			rest := content[idx+len(p.cfg.OpenTag):]
			p.buf.Reset()
			p.mode = splitInSpoken
			p.feed(rest, spoken, detail)
			return
		}
		if len(content) >= p.cfg.FallbackThreshold {
			p.mode = splitAllSpoken
			p.buf.Reset()
			spoken.WriteString(content)
		}

	case splitInSpoken:
		p.buf.WriteString(delta)
		content := p.buf.String()
		if idx := strings.Index(content, p.cfg.CloseTag); idx >= 0 {
			spoken.WriteString(content[:idx])
			rest := content[idx+len(p.cfg.CloseTag):]
			p.buf.Reset()
			p.mode = splitDetailOnly
			detail.WriteString(rest)
			return
		}
		// Release all but a suffix that could be the start of the close tag.
		hold := partialSuffixLen(content, p.cfg.CloseTag)
		if emit := content[:len(content)-hold]; emit != "" {
			spoken.WriteString(emit)
			p.buf.Reset()
			p.buf.WriteString(content[len(content)-hold:])
		}
	}
}

// Finish flushes any withheld text. An undecided stream is released as
// spoken; an unterminated spoken span is spoken through its end.
func (p *SpokenSplitter) Finish() (string, string) {
	content := p.buf.String()
	p.buf.Reset()
	switch p.mode {
	case splitUndecided:
		p.mode = splitAllSpoken
		return content, ""
	case splitInSpoken:
		p.mode = splitDetailOnly
		return content, ""
	default:
		return "", ""
	}
}

func partialSuffixLen(s, tag string) int {
	max := len(tag) - 1
	if max > len(s) {
		max = len(s)
	}
	for l := max; l > 0; l-- {
		if strings.HasSuffix(s, tag[:l]) {
			return l
		}
	}
	return 0
}
