package output

import (
	"sync"
	"time"

	"github.com/zsiec/cadence/media"
)

// nullInterval is how often the null device pulls a batch of samples.
const nullInterval = 20 * time.Millisecond

// Null is an output device that consumes samples at real-time rate and
// discards them. It gives the audio worker a live consumer in headless runs
// and tests without touching any hardware.
type Null struct {
	spec media.AudioSpec

	mu       sync.Mutex
	started  bool
	stopOnce sync.Once
	quit     chan struct{}
	done     chan struct{}
}

// NewNull creates a null device with the given spec. A zero spec defaults to
// the speaker's 48kHz stereo.
func NewNull(spec media.AudioSpec) *Null {
	if spec.SampleRate == 0 {
		spec = defaultSpec
	}
	return &Null{
		spec: spec,
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Spec returns the device's configured output spec.
func (n *Null) Spec() media.AudioSpec {
	return n.spec
}

// Start launches a goroutine that pulls batches at the configured sample
// rate, emulating a hardware callback cadence.
func (n *Null) Start(pull func(samples [][2]float64)) error {
	batch := n.spec.SampleRate * int(nullInterval) / int(time.Second)
	if batch < 1 {
		batch = 1
	}
	n.mu.Lock()
	n.started = true
	n.mu.Unlock()
	go func() {
		defer close(n.done)
		buf := make([][2]float64, batch)
		t := time.NewTicker(nullInterval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				pull(buf)
			case <-n.quit:
				return
			}
		}
	}()
	return nil
}

// Close stops the pull goroutine and waits for it. Safe to call repeatedly.
func (n *Null) Close() error {
	n.stopOnce.Do(func() {
		close(n.quit)
	})
	n.mu.Lock()
	started := n.started
	n.mu.Unlock()
	if started {
		<-n.done
	}
	return nil
}
