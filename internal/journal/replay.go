package journal

import (
	"time"

	"forumsync/internal/state"
	"forumsync/pkg/protocol"
)

// ReplayResult is the state rebuilt from a recording.
type ReplayResult struct {
	View    state.View `json:"view"`
	Applied int        `json:"applied"`
	Skipped int        `json:"skipped"`
}

// Replay feeds the inbound entries through a fresh store whose clock follows
// RecordedAt, so reactions decay exactly as they did live. Outbound entries
// are ignored.
func Replay(entries []Entry, opts state.Options) ReplayResult {
	var now time.Time
	opts.Clock = func() time.Time { return now }
	store := state.NewStore(opts)

	var result ReplayResult
	for _, e := range entries {
		if e.Direction != DirectionIn {
			continue
		}
		now = e.RecordedAt
		store.Sweep(now)

		frame, err := protocol.Decode([]byte(e.Payload))
		if err != nil {
			result.Skipped++
			continue
		}
		if change := store.Apply(frame); change.Applied {
			result.Applied++
		}
	}

	result.View = store.Snapshot()
	return result
}
