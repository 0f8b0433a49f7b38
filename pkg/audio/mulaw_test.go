package audio

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestMulawKnownValues(t *testing.T) {
	require.Equal(t, byte(0xFF), EncodeMulawSample(0))
	require.Equal(t, int16(0), DecodeMulawSample(0xFF))
	require.Equal(t, int16(0), DecodeMulawSample(0x7F))

	// Sign is preserved through the companding path.
	require.Less(t, DecodeMulawSample(EncodeMulawSample(-8000)), int16(0))
	require.Greater(t, DecodeMulawSample(EncodeMulawSample(8000)), int16(0))
}

func TestMulawCodeIdempotent(t *testing.T) {
	// Every mu-law code except negative zero (0x7F) survives a
	// decode/encode cycle unchanged.
	for b := 0; b < 256; b++ {
		if b == 0x7F {
			continue
		}
		got := EncodeMulawSample(DecodeMulawSample(byte(b)))
		require.Equal(t, byte(b), got, "code 0x%02X", b)
	}
}

func TestMulawRoundTripBound(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		sample := int16(rapid.IntRange(-32768, 32767).Draw(t, "sample"))
		decoded := DecodeMulawSample(EncodeMulawSample(sample))

		abs := int(sample)
		if abs < 0 {
			abs = -abs
		}
		err := int(decoded) - int(sample)
		if err < 0 {
			err = -err
		}
		// Per-segment quantization error plus the encoder clip margin.
		bound := (abs+132)/32 + 132
		require.LessOrEqual(t, err, bound, "sample=%d decoded=%d", sample, decoded)
	})
}

func TestMulawSliceRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		pcm := rapid.SliceOfN(rapid.Byte(), 0, 640).Draw(t, "pcm")
		if len(pcm)%2 != 0 {
			pcm = pcm[:len(pcm)-1]
		}
		encoded := EncodeMulaw(pcm)
		require.Len(t, encoded, len(pcm)/2)
		decoded := DecodeMulaw(encoded)
		require.Len(t, decoded, len(pcm))
	})
}

func TestTelephonyFrameRoundTrip(t *testing.T) {
	pcm := make([]byte, TelephonyFrameSamples*2)
	for i := 0; i < TelephonyFrameSamples; i++ {
		v := int16(i * 100)
		pcm[i*2] = byte(v)
		pcm[i*2+1] = byte(v >> 8)
	}

	payload := EncodeTelephonyFrame(pcm)
	require.NotEmpty(t, payload)

	decoded, err := DecodeTelephonyFrame(payload)
	require.NoError(t, err)
	require.Len(t, decoded, len(pcm))
}

func TestTelephonyFrameBadBase64(t *testing.T) {
	_, err := DecodeTelephonyFrame("not base64!!!")
	require.Error(t, err)
}
