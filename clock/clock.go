// Package clock provides the shared playback clock that the audio and video
// workers use as the single time reference for A/V synchronization.
package clock

import (
	"sync"
	"time"
)

// Clock is a monotonic playback-time reference shared across the demuxer
// controller and both playback workers. All field access goes through one
// mutex; individual operations are serialized but check-then-act sequences
// spanning two calls are not atomic, which A/V sync tolerates.
type Clock struct {
	mu      sync.Mutex
	start   time.Time
	started bool
	playing bool
}

// New returns a stopped clock with no reference instant.
func New() *Clock {
	return &Clock{}
}

// Start records the reference instant and marks the clock playing.
func (c *Clock) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.start = time.Now()
	c.started = true
	c.playing = true
}

// Pause clears the playing flag. The reference instant is kept.
func (c *Clock) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.playing = false
}

// Resume sets the playing flag again. The original reference instant is
// reused, not rebased: elapsed time reported after a pause/resume cycle
// includes the paused duration.
func (c *Clock) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.playing = true
}

// Elapsed returns the time since the reference instant. The second return is
// false while the clock is paused or has never been started; elapsed time is
// only meaningful while playing.
func (c *Clock) Elapsed() (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.playing || !c.started {
		return 0, false
	}
	return time.Since(c.start), true
}

// Playing reports whether the clock is currently marked playing.
func (c *Clock) Playing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playing
}
