// Package video implements the video playback worker. It has the same shape
// as the audio worker (bounded packet queue, decoder, control channel) but
// delivers decoded frames to a caller-supplied callback, pacing delivery
// against the shared clock so frames never run ahead of real time.
package video

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zsiec/cadence/clock"
	"github.com/zsiec/cadence/media"
)

// frameWait bounds how long the worker sleeps between clock checks while a
// frame is not yet due or playback is paused.
const frameWait = 16 * time.Millisecond

// Decoder turns one encoded video packet into zero or more display-ready
// frames in the pixel layout the frame callback expects.
type Decoder interface {
	Decode(pkt *media.Packet) ([]*media.VideoFrame, error)
	Close() error
}

// DecoderOpener constructs a video Decoder for a stream. Implemented by
// container.Input.
type DecoderOpener interface {
	OpenVideoDecoder(info media.StreamInfo) (Decoder, error)
}

// FrameFunc receives each decoded frame, invoked on the worker's goroutine
// when the frame's presentation time has been reached. Callers needing a
// particular rendering thread must marshal the frame themselves.
type FrameFunc func(frame *media.VideoFrame)

// Worker decodes video packets on its own goroutine and delivers frames to
// the callback at presentation time.
type Worker struct {
	log     *slog.Logger
	clk     *clock.Clock
	dec     Decoder
	onFrame FrameFunc

	packets chan *media.Packet
	control chan media.ControlCommand
	done    chan struct{}

	stopOnce  sync.Once
	queueOnce sync.Once

	// playing is touched only by the run goroutine.
	playing bool
}

// Start opens a decoder for the stream and launches the worker goroutine.
// The worker owns the decoder from here on.
func Start(info media.StreamInfo, opener DecoderOpener, onFrame FrameFunc, clk *clock.Clock, log *slog.Logger) (*Worker, error) {
	if log == nil {
		log = slog.Default()
	}
	w := &Worker{
		log:     log.With("component", "video"),
		clk:     clk,
		onFrame: onFrame,
		packets: make(chan *media.Packet, media.VideoQueueSize),
		control: make(chan media.ControlCommand, media.ControlQueueSize),
		done:    make(chan struct{}),
		playing: true,
	}

	dec, err := opener.OpenVideoDecoder(info)
	if err != nil {
		return nil, fmt.Errorf("video: opening decoder: %w", err)
	}
	w.dec = dec

	w.log.Debug("worker started",
		"stream", info.Index,
		"size", fmt.Sprintf("%dx%d", info.Width, info.Height),
		"fps", info.FrameRate.Float(),
	)

	go w.run()
	return w, nil
}

// ReceivePacket enqueues an encoded packet, blocking while the queue is full
// (backpressure toward the demuxer controller). Returns false if the worker
// has already exited.
func (w *Worker) ReceivePacket(pkt *media.Packet) bool {
	select {
	case w.packets <- pkt:
		return true
	case <-w.done:
		return false
	}
}

// SendControl delivers a play/pause command; the send acknowledges receipt,
// not completion. Returns false if the worker has already exited.
func (w *Worker) SendControl(cmd media.ControlCommand) bool {
	select {
	case w.control <- cmd:
		return true
	case <-w.done:
		return false
	}
}

// Queue exposes the packet queue's send side so the controller can race a
// blocked send against control-channel activity in one select. ReceivePacket
// is the simple wrapper around it.
func (w *Worker) Queue() chan<- *media.Packet {
	return w.packets
}

// CloseQueue signals end of stream: the worker exits once the queued
// packets have been decoded and their frames delivered. The controller must
// not call ReceivePacket afterwards.
func (w *Worker) CloseQueue() {
	w.queueOnce.Do(func() {
		close(w.packets)
	})
}

// Done is closed when the worker goroutine has exited.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Stop closes the control channel and waits for the worker goroutine to
// exit, abandoning any undelivered frames. Safe to call repeatedly.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.control)
	})
	<-w.done
}

func (w *Worker) run() {
	defer close(w.done)
	defer func() {
		if err := w.dec.Close(); err != nil {
			w.log.Error("closing decoder", "error", err)
		}
		w.log.Debug("worker exited")
	}()

	for {
		// While paused the packet branch is disabled entirely, not polled:
		// queued packets stay queued and backpressure reaches the demuxer.
		packets := w.packets
		if !w.playing {
			packets = nil
		}

		select {
		case pkt, ok := <-packets:
			if !ok {
				// End of stream, queue drained and all frames delivered.
				return
			}
			frames, err := w.dec.Decode(pkt)
			if err != nil {
				w.log.Error("decode failed, skipping packet", "error", err)
				continue
			}
			for _, frame := range frames {
				if !w.deliver(frame) {
					return
				}
			}
		case cmd, ok := <-w.control:
			if !ok {
				return
			}
			w.playing = cmd == media.CommandPlay
		}
	}
}

// deliver emits one frame once the shared clock reaches its presentation
// time. While paused (or whenever the clock reports no elapsed time) the
// frame is held, not dropped, and delivery resumes on the next Play.
// Returns false when the control channel closes.
func (w *Worker) deliver(frame *media.VideoFrame) bool {
	for {
		if w.playing {
			if elapsed, ok := w.clk.Elapsed(); ok && elapsed >= frame.PTS {
				w.onFrame(frame)
				return true
			}
		}
		select {
		case cmd, ok := <-w.control:
			if !ok {
				return false
			}
			w.playing = cmd == media.CommandPlay
		case <-time.After(frameWait):
		}
	}
}
