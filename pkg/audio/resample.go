package audio

// Resample converts 16-bit little-endian PCM from one sample rate to
// another using linear interpolation. Positions past the final input
// sample are clamped to it rather than extrapolated. Equal rates return
// a copy of the input. A trailing odd byte is ignored.
func Resample(pcm []byte, fromRate, toRate int) []byte {
	if fromRate <= 0 || toRate <= 0 {
		return nil
	}
	n := len(pcm) / 2
	if fromRate == toRate {
		out := make([]byte, n*2)
		copy(out, pcm[:n*2])
		return out
	}
	if n == 0 {
		return []byte{}
	}

	outSamples := int(int64(n) * int64(toRate) / int64(fromRate))
	if outSamples == 0 {
		outSamples = 1
	}
	out := make([]byte, outSamples*2)
	step := float64(fromRate) / float64(toRate)

	for i := 0; i < outSamples; i++ {
		pos := float64(i) * step
		idx := int(pos)
		frac := pos - float64(idx)
		if idx >= n-1 {
			idx = n - 1
			frac = 0
		}
		s0 := int16(pcm[idx*2]) | int16(pcm[idx*2+1])<<8
		s1 := s0
		if idx+1 < n {
			s1 = int16(pcm[(idx+1)*2]) | int16(pcm[(idx+1)*2+1])<<8
		}
		v := float64(s0) + (float64(s1)-float64(s0))*frac
		sample := int16(v)
		out[i*2] = byte(sample)
		out[i*2+1] = byte(sample >> 8)
	}
	return out
}
