// Package output provides audio output devices for the playback pipeline:
// Speaker, backed by the system default device through beep, and Null, a
// real-time-paced sink for headless runs and tests. Both satisfy the audio
// worker's Output contract: a pull callback invoked off the worker's
// goroutine whenever the device wants samples.
package output

import (
	"fmt"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/speaker"

	"github.com/zsiec/cadence/media"
)

// defaultSpec is the configuration negotiated with the speaker. beep mixes
// in stereo float64; 48kHz is the usual hardware native rate.
var defaultSpec = media.AudioSpec{SampleRate: 48000, Channels: 2}

// speakerBuffer is the device-side buffer length. Short enough that pause
// feels immediate, long enough to ride out scheduling hiccups.
const speakerBuffer = 50 * time.Millisecond

// Speaker is the default system audio output device.
type Speaker struct {
	spec media.AudioSpec

	mu       sync.Mutex
	streamer *pullStreamer
	closed   bool
}

// Default opens the system default output device.
func Default() (*Speaker, error) {
	sr := beep.SampleRate(defaultSpec.SampleRate)
	if err := speaker.Init(sr, sr.N(speakerBuffer)); err != nil {
		return nil, fmt.Errorf("%w: %s", media.ErrOutputDevice, err)
	}
	return &Speaker{spec: defaultSpec}, nil
}

// Spec returns the device's negotiated output configuration.
func (s *Speaker) Spec() media.AudioSpec {
	return s.spec
}

// Start installs the pull callback. The speaker invokes it from its own
// playback goroutine; the callback must fill the whole slice and never block.
func (s *Speaker) Start(pull func(samples [][2]float64)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("%w: device closed", media.ErrOutputDevice)
	}
	s.streamer = &pullStreamer{pull: pull}
	speaker.Play(s.streamer)
	return nil
}

// Close detaches the streamer so the device stops pulling. Safe to call
// repeatedly.
func (s *Speaker) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.streamer != nil {
		s.streamer.stop()
	}
	speaker.Clear()
	return nil
}

// pullStreamer adapts the worker's pull callback to beep's Streamer. Stream
// runs on the speaker's goroutine.
type pullStreamer struct {
	pull    func(samples [][2]float64)
	mu      sync.Mutex
	stopped bool
}

func (p *pullStreamer) stop() {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
}

func (p *pullStreamer) Stream(samples [][2]float64) (int, bool) {
	p.mu.Lock()
	stopped := p.stopped
	p.mu.Unlock()
	if stopped {
		return 0, false
	}
	p.pull(samples)
	return len(samples), true
}

func (p *pullStreamer) Err() error {
	return nil
}
