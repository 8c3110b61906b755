// Package media defines the value types that flow through the Cadence
// playback pipeline, from demuxing through decode to output.
package media

import "time"

// Queue capacities shared by the demuxer controller (producer) and the
// playback workers (consumers). Packet queues are bounded so that a slow
// decoder stalls demuxing instead of growing memory; a full queue is the
// pipeline's only backpressure mechanism. Control queues carry rare,
// user-initiated commands and senders block rather than drop.
const (
	AudioQueueSize   = 64
	VideoQueueSize   = 64
	ControlQueueSize = 16

	// RingCapacity is the audio sample ring size in stereo sample pairs,
	// ~85ms at 48kHz. Small enough that pause cuts output quickly.
	RingCapacity = 4096
)

// ControlCommand is a playback control verb delivered to the demuxer
// controller and fanned out to both playback workers.
type ControlCommand uint8

const (
	CommandPlay ControlCommand = iota
	CommandPause
)

func (c ControlCommand) String() string {
	switch c {
	case CommandPlay:
		return "play"
	case CommandPause:
		return "pause"
	}
	return "unknown"
}

// MediaType identifies the kind of elementary stream a StreamInfo or Packet
// belongs to.
type MediaType uint8

const (
	TypeUnknown MediaType = iota
	TypeVideo
	TypeAudio
)

func (t MediaType) String() string {
	switch t {
	case TypeVideo:
		return "video"
	case TypeAudio:
		return "audio"
	}
	return "unknown"
}

// Rational is an exact fraction, used for stream time bases and frame rates.
type Rational struct {
	Num int
	Den int
}

// Duration converts a timestamp expressed in this time base to a
// time.Duration. A zero denominator yields zero.
func (r Rational) Duration(ts int64) time.Duration {
	if r.Den == 0 {
		return 0
	}
	return time.Duration(ts * int64(r.Num) * int64(time.Second) / int64(r.Den))
}

// Float returns the rational as a float64, or zero for a zero denominator.
func (r Rational) Float() float64 {
	if r.Den == 0 {
		return 0
	}
	return float64(r.Num) / float64(r.Den)
}

// StreamInfo describes one elementary stream of an opened container:
// enough for the controller to route packets and for decoder constructors
// to locate the stream they must decode.
type StreamInfo struct {
	Index    int
	Type     MediaType
	TimeBase Rational
	Duration time.Duration

	// Video streams.
	Width     int
	Height    int
	FrameRate Rational

	// Audio streams.
	SampleRate int
	Channels   int
}

// Packet is an opaque, stream-tagged unit of compressed media data read from
// the container. It is produced by the demuxer, forwarded to exactly one
// worker, and discarded after decode. Timestamps are in the stream time base.
type Packet struct {
	StreamIndex int
	Data        []byte
	PTS         int64
	DTS         int64
	Duration    int64
}

// AudioSpec is an audio output device's negotiated configuration. Decoders
// resample to this spec so the worker can push samples straight to the ring.
type AudioSpec struct {
	SampleRate int
	Channels   int
}

// VideoFrame is a decoded, display-ready picture in RGBA layout. PTS is the
// frame's presentation time relative to the start of the stream.
type VideoFrame struct {
	Data   []byte
	Width  int
	Height int
	Stride int
	PTS    time.Duration
}
