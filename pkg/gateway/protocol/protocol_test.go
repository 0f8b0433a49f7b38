package protocol

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func validHello() string {
	return `{
		"type": "hello",
		"protocol_version": "1",
		"api_key": "sk-secret",
		"operator": {"name": "Dana"},
		"audio_in": {"encoding": "pcm16", "sample_rate_hz": 16000, "channels": 1},
		"audio_out": {"encoding": "pcm16", "sample_rate_hz": 24000, "channels": 1}
	}`
}

func TestDecodeHello(t *testing.T) {
	msg, err := DecodeClientMessage([]byte(validHello()))
	require.NoError(t, err)
	hello, ok := msg.(ClientHello)
	require.True(t, ok)
	require.Equal(t, "Dana", hello.Operator.Name)
	require.Equal(t, 16000, hello.AudioIn.SampleRateHz)
}

func TestDecodeRejectsBadHello(t *testing.T) {
	cases := []struct {
		name  string
		json  string
		param string
	}{
		{"missing version", `{"type":"hello","audio_in":{"encoding":"pcm16","sample_rate_hz":16000,"channels":1},"audio_out":{"encoding":"pcm16","sample_rate_hz":24000,"channels":1}}`, "protocol_version"},
		{"bad version", `{"type":"hello","protocol_version":"9","audio_in":{"encoding":"pcm16","sample_rate_hz":16000,"channels":1},"audio_out":{"encoding":"pcm16","sample_rate_hz":24000,"channels":1}}`, "protocol_version"},
		{"bad encoding", `{"type":"hello","protocol_version":"1","audio_in":{"encoding":"opus","sample_rate_hz":16000,"channels":1},"audio_out":{"encoding":"pcm16","sample_rate_hz":24000,"channels":1}}`, "audio_in.encoding"},
		{"stereo", `{"type":"hello","protocol_version":"1","audio_in":{"encoding":"pcm16","sample_rate_hz":16000,"channels":2},"audio_out":{"encoding":"pcm16","sample_rate_hz":24000,"channels":1}}`, "audio_in.channels"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeClientMessage([]byte(tc.json))
			require.Error(t, err)
			var de *DecodeError
			require.True(t, errors.As(err, &de))
			require.Equal(t, tc.param, de.Param)
		})
	}
}

func TestDecodeAudioFrame(t *testing.T) {
	msg, err := DecodeClientMessage([]byte(`{"type":"audio_frame","seq":7,"data_b64":"AAAA"}`))
	require.NoError(t, err)
	frame := msg.(ClientAudioFrame)
	require.Equal(t, int64(7), frame.Seq)

	_, err = DecodeClientMessage([]byte(`{"type":"audio_frame","seq":8}`))
	require.Error(t, err)
}

func TestDecodeControl(t *testing.T) {
	for _, op := range []string{OpSpeechStart, OpSpeechEnd, OpInterrupt, OpEndSession} {
		msg, err := DecodeClientMessage([]byte(`{"type":"control","op":" ` + op + ` "}`))
		require.NoError(t, err)
		require.Equal(t, op, msg.(ClientControl).Op)
	}

	_, err := DecodeClientMessage([]byte(`{"type":"control","op":"reboot"}`))
	var de *DecodeError
	require.True(t, errors.As(err, &de))
	require.Equal(t, "unsupported", de.Code)
}

func TestDecodeRejectsUnknownAndMalformed(t *testing.T) {
	_, err := DecodeClientMessage([]byte(`{"type":"telemetry"}`))
	require.Error(t, err)
	_, err = DecodeClientMessage([]byte(`{not json`))
	require.Error(t, err)
	_, err = DecodeClientMessage([]byte(`{"op":"interrupt"}`))
	require.Error(t, err)
}

func TestRedactedHelloHidesAPIKey(t *testing.T) {
	msg, err := DecodeClientMessage([]byte(validHello()))
	require.NoError(t, err)
	red := msg.(ClientHello).RedactedForLog()
	require.Equal(t, true, red["has_api_key"])
	for k, v := range red {
		s, ok := v.(string)
		if ok {
			require.NotContains(t, s, "sk-secret", "field %s leaks the key", k)
		}
	}
}
