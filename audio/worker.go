package audio

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zsiec/cadence/clock"
	"github.com/zsiec/cadence/internal/ring"
	"github.com/zsiec/cadence/media"
)

// ringWait is how long the worker sleeps between retries when the sample
// ring lacks room or playback is paused. Small enough to stay responsive,
// large enough not to spin.
const ringWait = 16 * time.Millisecond

// Worker decodes audio packets on its own goroutine and feeds the output
// device. Backpressure toward the demuxer controller comes from the bounded
// packet queue; the handoff to the device callback is the wait-free ring.
type Worker struct {
	log *slog.Logger
	clk *clock.Clock
	dec Decoder
	out Output

	ring    *ring.Buffer[[2]float64]
	packets chan *media.Packet
	control chan media.ControlCommand
	done    chan struct{}

	stopOnce  sync.Once
	queueOnce sync.Once

	// playing is touched only by the run goroutine.
	playing bool
}

// Start opens a decoder for the stream, starts the output device with a
// callback that pops the sample ring (zero-filling any shortfall), and
// launches the worker goroutine. The worker owns dec and out from here on.
func Start(info media.StreamInfo, opener DecoderOpener, out Output, clk *clock.Clock, log *slog.Logger) (*Worker, error) {
	if log == nil {
		log = slog.Default()
	}
	w := &Worker{
		log:     log.With("component", "audio"),
		clk:     clk,
		out:     out,
		ring:    ring.New[[2]float64](media.RingCapacity),
		packets: make(chan *media.Packet, media.AudioQueueSize),
		control: make(chan media.ControlCommand, media.ControlQueueSize),
		done:    make(chan struct{}),
		playing: true,
	}

	dec, err := opener.OpenAudioDecoder(info, out.Spec())
	if err != nil {
		return nil, fmt.Errorf("audio: opening decoder: %w", err)
	}
	w.dec = dec

	if err := w.out.Start(w.pull); err != nil {
		dec.Close()
		return nil, fmt.Errorf("audio: starting output: %w", err)
	}

	w.log.Debug("worker started",
		"stream", info.Index,
		"rate", out.Spec().SampleRate,
		"channels", out.Spec().Channels,
	)

	go w.run()
	return w, nil
}

// pull runs on the device's real-time thread: pop whatever the ring holds
// and zero-fill the rest. It must never block.
func (w *Worker) pull(samples [][2]float64) {
	n := w.ring.Pop(samples)
	for i := n; i < len(samples); i++ {
		samples[i] = [2]float64{}
	}
}

// ReceivePacket enqueues an encoded packet for decoding, blocking while the
// queue is full; this stall is how the worker slows the demuxer down. It
// returns false if the worker has already exited.
func (w *Worker) ReceivePacket(pkt *media.Packet) bool {
	select {
	case w.packets <- pkt:
		return true
	case <-w.done:
		return false
	}
}

// SendControl delivers a play/pause command. The send completing only
// acknowledges receipt, not that the worker has acted on it. Returns false
// if the worker has already exited.
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

// CloseQueue signals end of stream: no more packets will arrive, and the
// worker should exit once it has drained the ones already queued. The
// controller must not call ReceivePacket afterwards.
func (w *Worker) CloseQueue() {
	w.queueOnce.Do(func() {
		close(w.packets)
	})
}

// Done is closed when the worker goroutine has exited.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Stop closes the control channel, which ends the worker goroutine at its
// next scheduling point (abandoning any still-queued packets), and waits
// for it to exit. Safe to call repeatedly.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.control)
	})
	<-w.done
}

func (w *Worker) run() {
	defer close(w.done)
	defer func() {
		if err := w.out.Close(); err != nil {
			w.log.Error("closing output", "error", err)
		}
		if err := w.dec.Close(); err != nil {
			w.log.Error("closing decoder", "error", err)
		}
		w.log.Debug("worker exited")
	}()

	for {
		select {
		case pkt, ok := <-w.packets:
			if !ok {
				// End of stream and the queue is drained.
				return
			}
			if !w.process(pkt) {
				return
			}
		case cmd, ok := <-w.control:
			if !ok {
				return
			}
			w.playing = cmd == media.CommandPlay
		}
	}
}

// process decodes one packet and, when playing, forwards the samples to the
// ring. Packets queued while paused are still decoded so the decoder's
// internal state stays consistent, but their samples are withheld whenever
// the shared clock reports no elapsed time.
func (w *Worker) process(pkt *media.Packet) bool {
	samples, err := w.dec.Decode(pkt)
	if err != nil {
		w.log.Error("decode failed, skipping packet", "error", err)
		return true
	}
	if len(samples) == 0 || !w.playing {
		return true
	}
	if _, ok := w.clk.Elapsed(); !ok {
		return true
	}
	return w.forward(samples)
}

// forward pushes samples into the ring, waiting in small increments while
// the ring lacks room so nothing is dropped. Control commands are still
// observed during the wait; a pause stalls the remaining samples until
// playback resumes, and channel close abandons them and exits.
func (w *Worker) forward(samples [][2]float64) bool {
	for {
		if w.playing {
			if _, ok := w.clk.Elapsed(); ok {
				n := w.ring.Push(samples)
				samples = samples[n:]
				if len(samples) == 0 {
					return true
				}
			}
		}
		select {
		case cmd, ok := <-w.control:
			if !ok {
				return false
			}
			w.playing = cmd == media.CommandPlay
		case <-time.After(ringWait):
		}
	}
}
