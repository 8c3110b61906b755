// Package player owns the playback pipeline: it selects the best audio and
// video streams from a source, starts one playback worker per stream, and
// runs the demuxer controller that routes packets and fans out control
// commands. The Player handle is the only public surface; stopping or
// closing it tears the whole pipeline down and joins every goroutine.
package player

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/cadence/audio"
	"github.com/zsiec/cadence/clock"
	"github.com/zsiec/cadence/media"
	"github.com/zsiec/cadence/video"
)

// Source yields stream descriptors and a sequential, restartable-only-at-
// start sequence of encoded packets. container.Input is the production
// implementation; tests substitute scripted fakes.
type Source interface {
	Streams() []media.StreamInfo
	// ReadPacket returns the next packet in container order, or io.EOF
	// once the container is exhausted.
	ReadPacket() (*media.Packet, error)
	Close() error
}

// DecoderProvider constructs decoders for the selected streams.
// container.Input implements both halves.
type DecoderProvider interface {
	audio.DecoderOpener
	video.DecoderOpener
}

// Config wires a Player's collaborators.
type Config struct {
	Source   Source
	Decoders DecoderProvider
	Output   audio.Output

	// OnFrame receives display-ready frames on the video worker's
	// goroutine at presentation time.
	OnFrame video.FrameFunc

	// OnStateChanged is invoked with the new state, once and synchronously,
	// on every play/pause transition (including the initial start).
	OnStateChanged func(playing bool)

	Logger *slog.Logger
}

// Player is the externally owned playback handle. It owns the controller
// goroutine and the shared clock; Close joins everything exactly once.
type Player struct {
	log     *slog.Logger
	clk     *clock.Clock
	control chan media.ControlCommand
	done    chan struct{}

	onStateChanged func(playing bool)

	mu      sync.Mutex
	playing bool
	stopped bool
}

// Start opens decoders for the source's best video and audio streams, starts
// both playback workers and the demuxer controller, and begins playback.
// Startup failures stop whatever was already started and are returned to the
// caller; the pipeline never runs degraded.
func Start(cfg Config) (*Player, error) {
	if cfg.Source == nil || cfg.Decoders == nil || cfg.Output == nil {
		return nil, errors.New("player: Source, Decoders and Output are required")
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	videoInfo, audioInfo, err := selectStreams(cfg.Source.Streams())
	if err != nil {
		return nil, err
	}

	p := &Player{
		log:            log.With("component", "player"),
		clk:            clock.New(),
		control:        make(chan media.ControlCommand, media.ControlQueueSize),
		done:           make(chan struct{}),
		onStateChanged: cfg.OnStateChanged,
		playing:        true,
	}

	onFrame := cfg.OnFrame
	if onFrame == nil {
		onFrame = func(*media.VideoFrame) {}
	}

	vw, err := video.Start(videoInfo, cfg.Decoders, onFrame, p.clk, log)
	if err != nil {
		return nil, fmt.Errorf("player: starting video worker: %w", err)
	}
	aw, err := audio.Start(audioInfo, cfg.Decoders, cfg.Output, p.clk, log)
	if err != nil {
		vw.Stop()
		return nil, fmt.Errorf("player: starting audio worker: %w", err)
	}

	p.clk.Start()
	go p.run(cfg.Source, aw, vw, audioInfo.Index, videoInfo.Index)

	if p.onStateChanged != nil {
		p.onStateChanged(true)
	}
	return p, nil
}

// selectStreams picks the first video and first audio stream in container
// order. Either one missing fails the whole start.
func selectStreams(streams []media.StreamInfo) (videoInfo, audioInfo media.StreamInfo, err error) {
	haveVideo, haveAudio := false, false
	for _, s := range streams {
		switch s.Type {
		case media.TypeVideo:
			if !haveVideo {
				videoInfo = s
				haveVideo = true
			}
		case media.TypeAudio:
			if !haveAudio {
				audioInfo = s
				haveAudio = true
			}
		}
	}
	if !haveVideo {
		err = fmt.Errorf("player: no video stream: %w", media.ErrNoStreamFound)
		return
	}
	if !haveAudio {
		err = fmt.Errorf("player: no audio stream: %w", media.ErrNoStreamFound)
	}
	return
}

// run is the demuxer controller. A reader goroutine pulls packets from the
// source so that "next packet" and "next command" can race in one select;
// the unbuffered packets channel keeps at most one packet in flight, making
// a packet forward non-preemptible but command delivery prompt at packet
// boundaries. While paused the packet branch is disabled (nil channel), so
// the only wakeup is a command or control-channel close.
func (p *Player) run(src Source, aw *audio.Worker, vw *video.Worker, audioIdx, videoIdx int) {
	defer close(p.done)
	defer func() {
		vw.Stop()
		aw.Stop()
		if err := src.Close(); err != nil {
			p.log.Error("closing source", "error", err)
		}
		p.log.Debug("controller exited")
	}()

	packets := make(chan *media.Packet)
	stopReading := make(chan struct{})

	g := new(errgroup.Group)
	g.Go(func() error {
		defer close(packets)
		for {
			pkt, err := src.ReadPacket()
			if err != nil {
				if !errors.Is(err, io.EOF) {
					p.log.Error("reading container", "error", err)
				}
				return nil
			}
			select {
			case packets <- pkt:
			case <-stopReading:
				return nil
			}
		}
	})
	g.Go(func() error {
		defer close(stopReading)
		playing := true
		for {
			in := packets
			if !playing {
				in = nil
			}
			select {
			case pkt, ok := <-in:
				if !ok {
					p.log.Info("end of stream")
					return p.drain(aw, vw)
				}
				var q chan<- *media.Packet
				var dead <-chan struct{}
				switch pkt.StreamIndex {
				case audioIdx:
					q, dead = aw.Queue(), aw.Done()
				case videoIdx:
					q, dead = vw.Queue(), vw.Done()
				default:
					continue
				}
				if !p.route(q, dead, pkt, &playing, aw, vw) {
					return nil
				}
			case cmd, ok := <-p.control:
				if !ok {
					// Channel closed by Stop/Close: the shutdown signal.
					return nil
				}
				p.apply(cmd, aw, vw, &playing)
			}
		}
	})
	g.Wait()
}

// route delivers one packet to a worker queue. The send races against the
// control channel so that a queue stalled by backpressure never makes the
// controller deaf: commands received mid-stall are applied and, if playback
// pauses, the packet is held until Play or shutdown. Returns false when the
// control channel closes.
func (p *Player) route(q chan<- *media.Packet, dead <-chan struct{}, pkt *media.Packet, playing *bool, aw *audio.Worker, vw *video.Worker) bool {
	for {
		if *playing {
			select {
			case q <- pkt:
				return true
			case <-dead:
				// Worker already gone; drop the packet and let the loop
				// discover the exit on its own.
				return true
			case cmd, ok := <-p.control:
				if !ok {
					return false
				}
				p.apply(cmd, aw, vw, playing)
			}
		} else {
			select {
			case <-dead:
				return true
			case cmd, ok := <-p.control:
				if !ok {
					return false
				}
				p.apply(cmd, aw, vw, playing)
			}
		}
	}
}

// apply fans a command out to both workers (each send acknowledges receipt),
// then toggles the shared clock and the forwarding flag.
func (p *Player) apply(cmd media.ControlCommand, aw *audio.Worker, vw *video.Worker, playing *bool) {
	vw.SendControl(cmd)
	aw.SendControl(cmd)
	switch cmd {
	case media.CommandPlay:
		p.clk.Resume()
		*playing = true
	case media.CommandPause:
		p.clk.Pause()
		*playing = false
	}
	p.log.Debug("command applied", "command", cmd)
}

// drain runs after end of stream: both workers are told no more packets are
// coming and the controller keeps forwarding control commands until they
// have delivered everything still queued (or the control channel closes).
// This is what makes the final frames of a file reach the display callback
// instead of being cut off at EOF.
func (p *Player) drain(aw *audio.Worker, vw *video.Worker) error {
	aw.CloseQueue()
	vw.CloseQueue()

	// Drain is only reached from the playing branch.
	playing := true
	awDone, vwDone := aw.Done(), vw.Done()
	for awDone != nil || vwDone != nil {
		select {
		case cmd, ok := <-p.control:
			if !ok {
				return nil
			}
			p.apply(cmd, aw, vw, &playing)
		case <-awDone:
			awDone = nil
		case <-vwDone:
			vwDone = nil
		}
	}
	return nil
}

// TogglePause flips between playing and paused, adjusting the shared clock
// immediately, forwarding the command to the controller, and firing the
// state-changed callback once. It is a no-op after Stop or Close.
func (p *Player) TogglePause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.playing = !p.playing
	if p.playing {
		p.clk.Resume()
		p.send(media.CommandPlay)
	} else {
		p.clk.Pause()
		p.send(media.CommandPause)
	}
	if p.onStateChanged != nil {
		p.onStateChanged(p.playing)
	}
}

// send forwards a command unless the controller has already exited.
func (p *Player) send(cmd media.ControlCommand) {
	select {
	case p.control <- cmd:
	case <-p.done:
	}
}

// Playing reports the handle's current play/pause state.
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// Clock exposes the shared playback clock, the authoritative position for
// anything that needs to align with audio/video delivery.
func (p *Player) Clock() *clock.Clock {
	return p.clk
}

// Stop pauses the clock and closes the control channel, which the controller
// observes at its next scheduling point. It does not wait for shutdown; use
// Close or Done for that. Safe to call repeatedly.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.stopped = true
	p.playing = false
	p.clk.Pause()
	close(p.control)
}

// Done is closed once the controller and both workers have exited.
func (p *Player) Done() <-chan struct{} {
	return p.done
}

// Close stops playback and joins the controller goroutine (which in turn
// joins both workers), so teardown is synchronous for the caller.
func (p *Player) Close() {
	p.Stop()
	<-p.done
}
