package audio

import "math"

// RMSEnergy computes the root-mean-square energy of 16-bit signed
// little-endian PCM. Returns a value between 0.0 and 1.0.
func RMSEnergy(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}

	var sum float64
	for i := 0; i+1 < len(pcm); i += 2 {
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		normalized := float64(sample) / 32768.0
		sum += normalized * normalized
	}

	return math.Sqrt(sum / float64(samples))
}

// PeakAmplitude returns the maximum absolute amplitude in the PCM data.
// Returns a value between 0.0 and 1.0.
func PeakAmplitude(pcm []byte) float64 {
	if len(pcm) < 2 {
		return 0
	}

	var maxAbs float64
	for i := 0; i+1 < len(pcm); i += 2 {
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		// float64 avoids overflow when negating -32768
		abs := math.Abs(float64(sample))
		if abs > maxAbs {
			maxAbs = abs
		}
	}

	return maxAbs / 32768.0
}

// ApplyGain multiplies each 16-bit sample by gain, clipping to the int16
// range. Returns a new buffer; the input is not modified.
func ApplyGain(pcm []byte, gain float64) []byte {
	out := make([]byte, len(pcm))
	copy(out, pcm)
	if gain == 1.0 {
		return out
	}
	for i := 0; i+1 < len(out); i += 2 {
		sample := float64(int16(out[i]) | int16(out[i+1])<<8)
		sample *= gain
		if sample > 32767 {
			sample = 32767
		} else if sample < -32768 {
			sample = -32768
		}
		v := int16(sample)
		out[i] = byte(v)
		out[i+1] = byte(v >> 8)
	}
	return out
}
