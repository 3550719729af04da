package state

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// ChangeReactionsExpired is the Change type reported when a sweep removes
// reactions.
const ChangeReactionsExpired = "reactions.expired"

// Decayer removes expired reactions from a Store. Reactions expire in
// arrival order, so one timer armed for the earliest deadline is enough.
type Decayer struct {
	store    *Store
	onExpire func(removed int)

	wake chan struct{}
	stop chan struct{}
	done chan struct{}

	started   atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewDecayer creates a decayer for store. onExpire may be nil.
func NewDecayer(store *Store, onExpire func(removed int)) *Decayer {
	return &Decayer{
		store:    store,
		onExpire: onExpire,
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the decay loop until Stop or ctx cancellation.
func (d *Decayer) Start(ctx context.Context) {
	d.startOnce.Do(func() {
		d.started.Store(true)
		go d.run(ctx)
	})
}

// Notify re-arms the timer after a reaction has been added.
func (d *Decayer) Notify() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Stop ends the loop and waits for it to exit. Safe to call more than once
// and before Start.
func (d *Decayer) Stop() {
	d.stopOnce.Do(func() {
		close(d.stop)
	})
	if d.started.Load() {
		<-d.done
	}
}

func (d *Decayer) run(ctx context.Context) {
	defer close(d.done)

	for {
		var timer *time.Timer
		var fire <-chan time.Time
		if next, ok := d.store.NextExpiry(); ok {
			wait := next.Sub(d.store.Now())
			if wait < 0 {
				wait = 0
			}
			timer = time.NewTimer(wait)
			fire = timer.C
		}

		select {
		case <-fire:
			if removed := d.store.Sweep(d.store.Now()); removed > 0 && d.onExpire != nil {
				d.onExpire(removed)
			}
		case <-d.wake:
		case <-d.stop:
			stopTimer(timer)
			return
		case <-ctx.Done():
			stopTimer(timer)
			return
		}
		stopTimer(timer)
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}
