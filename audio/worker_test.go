package audio

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zsiec/cadence/clock"
	"github.com/zsiec/cadence/media"
)

// stubDecoder counts decodes and returns a fixed number of marker samples
// per packet. If gate is non-nil, Decode signals entered and then blocks
// until the gate is closed, letting tests hold the worker mid-decode.
type stubDecoder struct {
	samplesPer int
	gate       chan struct{}
	entered    chan struct{}

	decoded atomic.Int64
	closed  atomic.Bool
}

func (d *stubDecoder) Decode(pkt *media.Packet) ([][2]float64, error) {
	if d.gate != nil {
		select {
		case d.entered <- struct{}{}:
		default:
		}
		<-d.gate
	}
	d.decoded.Add(1)
	out := make([][2]float64, d.samplesPer)
	for i := range out {
		out[i] = [2]float64{0.5, -0.5}
	}
	return out, nil
}

func (d *stubDecoder) Close() error {
	d.closed.Store(true)
	return nil
}

type stubOpener struct {
	dec Decoder
	err error
}

func (o *stubOpener) OpenAudioDecoder(info media.StreamInfo, spec media.AudioSpec) (Decoder, error) {
	return o.dec, o.err
}

// stubOutput records the pull callback so tests can drive the device side
// by hand.
type stubOutput struct {
	mu     sync.Mutex
	pull   func([][2]float64)
	closed bool
}

func (o *stubOutput) Spec() media.AudioSpec {
	return media.AudioSpec{SampleRate: 48000, Channels: 2}
}

func (o *stubOutput) Start(pull func(samples [][2]float64)) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pull = pull
	return nil
}

func (o *stubOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	return nil
}

// read drives the device callback once and returns the sample slice.
func (o *stubOutput) read(n int) [][2]float64 {
	o.mu.Lock()
	pull := o.pull
	o.mu.Unlock()
	buf := make([][2]float64, n)
	pull(buf)
	return buf
}

func startedClock() *clock.Clock {
	c := clock.New()
	c.Start()
	return c
}

func TestStartDecoderFailureIsFatal(t *testing.T) {
	t.Parallel()
	opener := &stubOpener{err: errors.New("boom")}

	_, err := Start(media.StreamInfo{}, opener, &stubOutput{}, startedClock(), nil)
	if err == nil {
		t.Fatal("Start with failing decoder opener should return an error")
	}
}

func TestForwardsSamplesWhilePlaying(t *testing.T) {
	t.Parallel()
	dec := &stubDecoder{samplesPer: 8}
	out := &stubOutput{}

	w, err := Start(media.StreamInfo{}, &stubOpener{dec: dec}, out, startedClock(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if !w.ReceivePacket(&media.Packet{}) {
		t.Fatal("ReceivePacket should succeed on a running worker")
	}

	// The device callback should see the decoded samples shortly.
	deadline := time.After(2 * time.Second)
	for {
		got := out.read(8)
		if got[0] != ([2]float64{}) {
			if got[0] != ([2]float64{0.5, -0.5}) {
				t.Fatalf("sample: got %v, want {0.5 -0.5}", got[0])
			}
			return
		}
		select {
		case <-deadline:
			t.Fatal("no samples reached the device callback")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestPullZeroFillsShortfall(t *testing.T) {
	t.Parallel()
	out := &stubOutput{}

	w, err := Start(media.StreamInfo{}, &stubOpener{dec: &stubDecoder{}}, out, startedClock(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	// Nothing decoded yet: the callback must fill everything with silence.
	for i, s := range out.read(64) {
		if s != ([2]float64{}) {
			t.Fatalf("sample %d: got %v, want silence", i, s)
		}
	}
}

// The packet queue holds exactly 64 packets: with one more stuck in the
// decoder, a 66th delivery must block until the worker drains, and nothing
// is dropped.
func TestQueueBackpressure(t *testing.T) {
	t.Parallel()
	dec := &stubDecoder{
		samplesPer: 1,
		gate:       make(chan struct{}),
		entered:    make(chan struct{}, 1),
	}
	clk := clock.New() // never started: decoded samples are discarded

	w, err := Start(media.StreamInfo{}, &stubOpener{dec: dec}, &stubOutput{}, clk, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	// First packet is pulled out of the queue and held inside Decode.
	if !w.ReceivePacket(&media.Packet{}) {
		t.Fatal("first ReceivePacket failed")
	}
	<-dec.entered

	// Fill the queue to its capacity of 64.
	for i := 0; i < media.AudioQueueSize; i++ {
		if !w.ReceivePacket(&media.Packet{}) {
			t.Fatalf("ReceivePacket %d failed", i)
		}
	}

	extra := make(chan bool, 1)
	go func() {
		extra <- w.ReceivePacket(&media.Packet{})
	}()

	select {
	case <-extra:
		t.Fatal("66th packet was accepted while the queue was full")
	case <-time.After(50 * time.Millisecond):
	}

	// Draining the decoder frees queue slots and unblocks the sender.
	close(dec.gate)

	select {
	case ok := <-extra:
		if !ok {
			t.Fatal("blocked ReceivePacket should succeed once room frees up")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ReceivePacket stayed blocked after the queue drained")
	}
}

// While paused, queued packets are still decoded (decoder state stays
// consistent) but no samples reach the ring.
func TestPauseDecodesWithoutForwarding(t *testing.T) {
	t.Parallel()
	dec := &stubDecoder{samplesPer: 8}
	out := &stubOutput{}
	clk := startedClock()

	w, err := Start(media.StreamInfo{}, &stubOpener{dec: dec}, out, clk, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	clk.Pause()
	if !w.SendControl(media.CommandPause) {
		t.Fatal("SendControl failed")
	}

	const packets = 5
	for i := 0; i < packets; i++ {
		w.ReceivePacket(&media.Packet{})
	}

	deadline := time.After(2 * time.Second)
	for dec.decoded.Load() < packets {
		select {
		case <-deadline:
			t.Fatalf("decoded %d packets while paused, want %d", dec.decoded.Load(), packets)
		case <-time.After(5 * time.Millisecond):
		}
	}

	for i, s := range out.read(64) {
		if s != ([2]float64{}) {
			t.Fatalf("sample %d: got %v, want silence while paused", i, s)
		}
	}
}

func TestStopJoinsAndReleasesResources(t *testing.T) {
	t.Parallel()
	dec := &stubDecoder{samplesPer: 1}
	out := &stubOutput{}

	w, err := Start(media.StreamInfo{}, &stubOpener{dec: dec}, out, startedClock(), nil)
	if err != nil {
		t.Fatal(err)
	}

	stopped := make(chan struct{})
	go func() {
		w.Stop()
		w.Stop() // idempotent
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}

	if !dec.closed.Load() {
		t.Error("decoder was not closed on worker exit")
	}
	out.mu.Lock()
	closed := out.closed
	out.mu.Unlock()
	if !closed {
		t.Error("output was not closed on worker exit")
	}

	if w.ReceivePacket(&media.Packet{}) {
		t.Error("ReceivePacket after Stop should report a dead worker")
	}
	if w.SendControl(media.CommandPlay) {
		t.Error("SendControl after Stop should report a dead worker")
	}
}

// CloseQueue lets the worker finish everything already queued, then exit.
func TestCloseQueueDrainsThenExits(t *testing.T) {
	t.Parallel()
	dec := &stubDecoder{samplesPer: 1}
	clk := clock.New()

	w, err := Start(media.StreamInfo{}, &stubOpener{dec: dec}, &stubOutput{}, clk, nil)
	if err != nil {
		t.Fatal(err)
	}

	const packets = 10
	for i := 0; i < packets; i++ {
		w.ReceivePacket(&media.Packet{})
	}
	w.CloseQueue()

	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not exit after CloseQueue")
	}
	if got := dec.decoded.Load(); got != packets {
		t.Errorf("decoded: got %d, want %d", got, packets)
	}
	w.Stop()
}
