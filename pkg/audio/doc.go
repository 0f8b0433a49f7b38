// Package audio provides the raw audio primitives used across the voice
// pipeline: G.711 mu-law companding for the telephony leg, linear
// resampling between the pipeline's PCM domains, WAV framing for
// browser-playable output, and energy measurement for gain control and
// barge-in detection.
//
// Everything in this package is deterministic and side-effect-free.
package audio
