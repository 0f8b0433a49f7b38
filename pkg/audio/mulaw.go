package audio

import "encoding/base64"

// ITU-T G.711 mu-law companding constants.
const (
	mulawBias = 0x84
	mulawClip = 32635
)

// Telephony leg framing: the phone network exchanges 8 kHz mu-law audio in
// 20 ms frames, base64-encoded over the message transport.
const (
	TelephonyFrameSamples = 160 // 20 ms at 8 kHz
	TelephonyFrameBytes   = TelephonyFrameSamples
)

// EncodeMulawSample compresses one 16-bit linear PCM sample to 8-bit mu-law.
func EncodeMulawSample(sample int16) byte {
	v := int(sample)
	sign := byte(0)
	if v < 0 {
		v = -v
		sign = 0x80
	}
	if v > mulawClip {
		v = mulawClip
	}
	v += mulawBias
	exp := byte(7)
	for mask := 0x4000; v&mask == 0 && exp > 0; mask >>= 1 {
		exp--
	}
	mant := byte((v >> (uint(exp) + 3)) & 0x0F)
	return ^(sign | exp<<4 | mant)
}

// DecodeMulawSample expands one 8-bit mu-law byte to a 16-bit linear sample.
func DecodeMulawSample(u byte) int16 {
	u = ^u
	sign := u & 0x80
	exp := (u >> 4) & 0x07
	mant := u & 0x0F
	value := (int(mant) << 3) + mulawBias
	value <<= uint(exp)
	value -= mulawBias
	if sign != 0 {
		return int16(-value)
	}
	return int16(value)
}

// EncodeMulaw converts 16-bit little-endian PCM to mu-law bytes.
// A trailing odd byte is ignored.
func EncodeMulaw(pcm []byte) []byte {
	out := make([]byte, 0, len(pcm)/2)
	for i := 0; i+1 < len(pcm); i += 2 {
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		out = append(out, EncodeMulawSample(sample))
	}
	return out
}

// DecodeMulaw converts mu-law bytes to 16-bit little-endian PCM.
func DecodeMulaw(mulaw []byte) []byte {
	out := make([]byte, 0, len(mulaw)*2)
	for _, u := range mulaw {
		sample := DecodeMulawSample(u)
		out = append(out, byte(sample), byte(sample>>8))
	}
	return out
}

// EncodeTelephonyFrame converts 8 kHz 16-bit PCM to the base64 mu-law
// payload exchanged with the phone network.
func EncodeTelephonyFrame(pcm []byte) string {
	return base64.StdEncoding.EncodeToString(EncodeMulaw(pcm))
}

// DecodeTelephonyFrame converts a base64 mu-law payload from the phone
// network to 8 kHz 16-bit PCM.
func DecodeTelephonyFrame(payload string) ([]byte, error) {
	mulaw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, err
	}
	return DecodeMulaw(mulaw), nil
}
