package tts

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSplitterSpokenSpan(t *testing.T) {
	p := NewSpokenSplitter(DefaultSplitConfig())

	spoken, detail := p.Feed("<speak>Engine two is overheating.</speak> Coolant at 240F, pressure dropping.")
	require.Equal(t, "Engine two is overheating.", spoken)
	require.Equal(t, " Coolant at 240F, pressure dropping.", detail)

	// Everything after the close tag stays detail-only.
	spoken, detail = p.Feed(" More detail.")
	require.Equal(t, "", spoken)
	require.Equal(t, " More detail.", detail)
}

func TestSplitterTagAcrossDeltas(t *testing.T) {
	p := NewSpokenSplitter(DefaultSplitConfig())

	var spoken, detail string
	for _, d := range []string{"<sp", "eak>Check ", "truck nine.</sp", "eak>rest"} {
		s, dd := p.Feed(d)
		spoken += s
		detail += dd
	}
	require.Equal(t, "Check truck nine.", spoken)
	require.Equal(t, "rest", detail)
}

func TestSplitterPrefixBeforeTagIsDetail(t *testing.T) {
	p := NewSpokenSplitter(DefaultSplitConfig())
	spoken, detail := p.Feed("preamble <speak>say this</speak>")
	require.Equal(t, "say this", spoken)
	require.Equal(t, "preamble ", detail)
}

func TestSplitterFallbackAtThreshold(t *testing.T) {
	cfg := DefaultSplitConfig()
	cfg.FallbackThreshold = 10
	p := NewSpokenSplitter(cfg)

	spoken, detail := p.Feed("no tags in this text at all")
	require.Equal(t, "no tags in this text at all", spoken)
	require.Equal(t, "", detail)

	// Once fallen back, everything is spoken.
	spoken, _ = p.Feed(" and more")
	require.Equal(t, " and more", spoken)
}

func TestSplitterFinishNeverSilent(t *testing.T) {
	p := NewSpokenSplitter(DefaultSplitConfig())

	spoken, detail := p.Feed("short answer")
	require.Equal(t, "", spoken)
	require.Equal(t, "", detail)

	spoken, detail = p.Finish()
	require.Equal(t, "short answer", spoken)
	require.Equal(t, "", detail)
}

func TestSplitterFinishUnterminatedSpokenSpan(t *testing.T) {
	p := NewSpokenSplitter(DefaultSplitConfig())

	spoken, _ := p.Feed("<speak>cut off mid")
	require.Equal(t, "cut off mid", spoken)

	// A partial close tag is withheld until Finish proves the stream
	// ended before the tag completed.
	spoken, _ = p.Feed("dle</spe")
	require.Equal(t, "dle", spoken)

	more, detail := p.Finish()
	require.Equal(t, "</spe", more)
	require.Equal(t, "", detail)
}
