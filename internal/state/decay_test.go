package state

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"forumsync/pkg/protocol"
)

func TestDecayer_RemovesReactionsAfterWindow(t *testing.T) {
	s := NewStore(Options{ReactionWindow: 50 * time.Millisecond})
	s.Apply(protocol.InitialState{})

	var removed atomic.Int64
	d := NewDecayer(s, func(n int) { removed.Add(int64(n)) })
	d.Start(context.Background())
	defer d.Stop()

	s.Apply(protocol.ReactionReceived{Reaction: protocol.Reaction{ReactionType: "clap"}})
	d.Notify()
	s.Apply(protocol.ReactionReceived{Reaction: protocol.Reaction{ReactionType: "fire"}})
	d.Notify()

	assert.Len(t, s.Snapshot().Reactions, 2)
	assert.Eventually(t, func() bool {
		return len(s.Snapshot().Reactions) == 0
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(2), removed.Load())
}

func TestDecayer_IdleWithoutReactions(t *testing.T) {
	s := NewStore(Options{ReactionWindow: 20 * time.Millisecond})
	var calls atomic.Int64
	d := NewDecayer(s, func(int) { calls.Add(1) })
	d.Start(context.Background())

	time.Sleep(50 * time.Millisecond)
	d.Stop()
	assert.Equal(t, int64(0), calls.Load())
}

func TestDecayer_StopIsIdempotent(t *testing.T) {
	d := NewDecayer(NewStore(Options{}), nil)
	d.Stop()

	d2 := NewDecayer(NewStore(Options{}), nil)
	d2.Start(context.Background())
	d2.Stop()
	d2.Stop()
}

func TestDecayer_ContextCancelStopsLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	d := NewDecayer(NewStore(Options{}), nil)
	d.Start(ctx)
	cancel()

	select {
	case <-d.done:
	case <-time.After(time.Second):
		t.Fatal("decayer did not exit after cancel")
	}
}
