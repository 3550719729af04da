package typing

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmitter struct {
	mu     sync.Mutex
	events []string
	err    error
}

func (f *fakeEmitter) StartTyping() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, "start")
	return f.err
}

func (f *fakeEmitter) StopTyping() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, "stop")
	return f.err
}

func (f *fakeEmitter) Events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

func TestCoordinator_OneStartPerBurst(t *testing.T) {
	em := &fakeEmitter{}
	c := New(em, 50*time.Millisecond)
	defer c.Close()

	for i := 0; i < 5; i++ {
		c.Keystroke()
		time.Sleep(5 * time.Millisecond)
	}

	assert.Equal(t, []string{"start"}, em.Events())
	assert.True(t, c.Typing())
}

func TestCoordinator_IdleEmitsStopOnce(t *testing.T) {
	em := &fakeEmitter{}
	c := New(em, 30*time.Millisecond)
	defer c.Close()

	c.Keystroke()
	require.Eventually(t, func() bool { return !c.Typing() }, time.Second, 5*time.Millisecond)

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, []string{"start", "stop"}, em.Events())
}

func TestCoordinator_KeystrokeResetsIdleTimer(t *testing.T) {
	em := &fakeEmitter{}
	c := New(em, 60*time.Millisecond)
	defer c.Close()

	c.Keystroke()
	time.Sleep(40 * time.Millisecond)
	c.Keystroke()
	time.Sleep(40 * time.Millisecond)

	// 80ms since the first keystroke but only 40ms since the last
	assert.Equal(t, []string{"start"}, em.Events())
	require.Eventually(t, func() bool { return len(em.Events()) == 2 }, time.Second, 5*time.Millisecond)
}

func TestCoordinator_SentStopsImmediately(t *testing.T) {
	em := &fakeEmitter{}
	c := New(em, 30*time.Millisecond)
	defer c.Close()

	c.Keystroke()
	c.Sent()
	assert.Equal(t, []string{"start", "stop"}, em.Events())

	// the cancelled idle timer must not emit a second stop
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, []string{"start", "stop"}, em.Events())

	c.Sent()
	assert.Len(t, em.Events(), 2)
}

func TestCoordinator_NewBurstAfterStop(t *testing.T) {
	em := &fakeEmitter{}
	c := New(em, time.Hour)
	defer c.Close()

	c.Keystroke()
	c.Sent()
	c.Keystroke()

	assert.Equal(t, []string{"start", "stop", "start"}, em.Events())
}

func TestCoordinator_CloseIsSilent(t *testing.T) {
	em := &fakeEmitter{}
	c := New(em, 20*time.Millisecond)

	c.Keystroke()
	c.Close()
	time.Sleep(50 * time.Millisecond)
	c.Keystroke()

	assert.Equal(t, []string{"start"}, em.Events())
	assert.False(t, c.Typing())
}

func TestCoordinator_EmitErrorsDoNotStick(t *testing.T) {
	em := &fakeEmitter{err: errors.New("not connected")}
	c := New(em, time.Hour)
	defer c.Close()

	c.Keystroke()
	assert.True(t, c.Typing())
	c.Sent()
	assert.False(t, c.Typing())
}

func TestNew_DefaultIdle(t *testing.T) {
	c := New(&fakeEmitter{}, 0)
	assert.Equal(t, DefaultIdleTimeout, c.idle)
}
