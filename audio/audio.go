// Package audio implements the audio playback worker: it drains a bounded
// queue of encoded packets, decodes and resamples them, and streams the
// samples to the output device through a wait-free ring buffer, pacing
// output against the shared playback clock.
package audio

import "github.com/zsiec/cadence/media"

// Decoder turns one encoded audio packet into interleaved stereo samples
// already resampled to the output device's spec. Decoding one packet may
// yield zero samples (decoder latency) or several frames' worth.
type Decoder interface {
	Decode(pkt *media.Packet) ([][2]float64, error)
	Close() error
}

// DecoderOpener constructs an audio Decoder for a stream, resampling to the
// given output spec. Implemented by container.Input.
type DecoderOpener interface {
	OpenAudioDecoder(info media.StreamInfo, spec media.AudioSpec) (Decoder, error)
}

// Output is an audio output device. Start installs a pull callback that the
// device invokes from its own real-time thread whenever it needs samples;
// the callback must fill the whole slice and never block. The worker that
// starts an Output owns it and closes it when the worker exits.
type Output interface {
	Spec() media.AudioSpec
	Start(pull func(samples [][2]float64)) error
	Close() error
}
