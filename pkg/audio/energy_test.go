package audio

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func constantPCM(sample int16, n int) []byte {
	return pcmFromSamples(func() []int16 {
		s := make([]int16, n)
		for i := range s {
			s[i] = sample
		}
		return s
	}())
}

func TestRMSEnergy(t *testing.T) {
	require.Equal(t, 0.0, RMSEnergy(nil))
	require.Equal(t, 0.0, RMSEnergy(constantPCM(0, 100)))

	got := RMSEnergy(constantPCM(16384, 100))
	require.InDelta(t, 0.5, got, 0.001)
}

func TestPeakAmplitude(t *testing.T) {
	require.Equal(t, 0.0, PeakAmplitude(nil))

	pcm := pcmFromSamples([]int16{100, -32768, 200})
	require.InDelta(t, 1.0, PeakAmplitude(pcm), 0.0001)
}

func TestApplyGain(t *testing.T) {
	pcm := pcmFromSamples([]int16{1000, -1000})
	out := samplesFromPCM(ApplyGain(pcm, 2.0))
	require.Equal(t, []int16{2000, -2000}, out)

	// Unity gain returns an equal copy without touching the input.
	same := ApplyGain(pcm, 1.0)
	require.Equal(t, pcm, same)
}

func TestApplyGainClips(t *testing.T) {
	pcm := pcmFromSamples([]int16{30000, -30000})
	out := samplesFromPCM(ApplyGain(pcm, 4.0))
	require.Equal(t, []int16{32767, -32768}, out)
}

func TestApplyGainScalesRMS(t *testing.T) {
	pcm := constantPCM(2000, 160)
	before := RMSEnergy(pcm)
	after := RMSEnergy(ApplyGain(pcm, 3.0))
	require.InDelta(t, before*3, after, 0.001)
	require.True(t, math.Abs(after-before*3) < 0.001)
}
