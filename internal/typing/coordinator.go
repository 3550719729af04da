// Package typing debounces keystrokes into typing.start / typing.stop
// commands: one start per burst, one stop when the burst goes idle or the
// message is sent.
package typing

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"forumsync/internal/logging"
)

// DefaultIdleTimeout is how long after the last keystroke the user stops
// counting as typing.
const DefaultIdleTimeout = 3 * time.Second

// Emitter sends the two typing commands.
type Emitter interface {
	StartTyping() error
	StopTyping() error
}

// Coordinator is safe for concurrent use.
type Coordinator struct {
	emitter Emitter
	idle    time.Duration
	logger  zerolog.Logger

	mu     sync.Mutex
	typing bool
	closed bool
	timer  *time.Timer
	// generation is bumped on every state change so that a timer which
	// fires after being superseded does nothing.
	generation uint64
}

// New creates an idle coordinator. A non-positive idle uses
// DefaultIdleTimeout.
func New(emitter Emitter, idle time.Duration) *Coordinator {
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	return &Coordinator{
		emitter: emitter,
		idle:    idle,
		logger:  logging.Component("typing"),
	}
}

// Keystroke records input activity.
func (c *Coordinator) Keystroke() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	c.generation++
	gen := c.generation
	c.stopTimerLocked()
	c.timer = time.AfterFunc(c.idle, func() { c.expire(gen) })

	if !c.typing {
		c.typing = true
		if err := c.emitter.StartTyping(); err != nil {
			c.logger.Debug().Err(err).Msg("typing start not sent")
		}
	}
}

// Sent ends the current burst because the message went out.
func (c *Coordinator) Sent() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || !c.typing {
		return
	}
	c.generation++
	c.stopTimerLocked()
	c.stopLocked()
}

// Close cancels the idle timer without emitting anything.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	c.typing = false
	c.generation++
	c.stopTimerLocked()
}

// Typing reports whether a burst is in progress.
func (c *Coordinator) Typing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.typing
}

func (c *Coordinator) expire(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.generation || !c.typing {
		return
	}
	c.timer = nil
	c.stopLocked()
}

func (c *Coordinator) stopLocked() {
	c.typing = false
	if err := c.emitter.StopTyping(); err != nil {
		c.logger.Debug().Err(err).Msg("typing stop not sent")
	}
}

func (c *Coordinator) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}
