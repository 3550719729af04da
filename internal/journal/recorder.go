package journal

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"forumsync/internal/logging"
)

const recorderQueue = 1024

// Recorder writes socket traffic into one recording. It satisfies
// client.Tap: Inbound and Outbound only queue the frame, and a background
// goroutine writes the queue in order. Frames arriving while the queue is
// full are dropped and counted. Close flushes the queue.
type Recorder struct {
	journal     *Journal
	recordingID string
	ctx         context.Context
	clock       func() time.Time
	logger      zerolog.Logger

	queue   chan Entry
	done    chan struct{}
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

// NewRecorder starts a recording for (kind, resourceID). ctx bounds every
// write the recorder makes.
func NewRecorder(ctx context.Context, j *Journal, kind string, resourceID int64) (*Recorder, error) {
	id, err := j.StartRecording(ctx, kind, resourceID)
	if err != nil {
		return nil, err
	}
	r := &Recorder{
		journal:     j,
		recordingID: id,
		ctx:         ctx,
		clock:       time.Now,
		logger:      logging.Component("recorder").With().Str("recording", id).Logger(),
		queue:       make(chan Entry, recorderQueue),
		done:        make(chan struct{}),
	}
	go r.writeLoop()
	return r, nil
}

// RecordingID is the id entries are stored under.
func (r *Recorder) RecordingID() string {
	return r.recordingID
}

// Dropped counts frames lost to a full queue.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

// Inbound queues a frame received from the server.
func (r *Recorder) Inbound(data []byte) {
	r.record(DirectionIn, data)
}

// Outbound queues a command sent to the server.
func (r *Recorder) Outbound(data []byte) {
	r.record(DirectionOut, data)
}

// Close stops accepting frames and waits until every queued frame is
// written. Safe to call more than once.
func (r *Recorder) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()
	<-r.done
}

func (r *Recorder) record(direction string, data []byte) {
	entry := Entry{
		RecordingID: r.recordingID,
		Direction:   direction,
		Type:        peekType(data),
		Payload:     string(data),
		RecordedAt:  r.clock(),
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- entry:
	default:
		r.dropped.Add(1)
		r.logger.Warn().Str("direction", direction).Str("type", entry.Type).Msg("recorder queue full, frame dropped")
	}
}

func (r *Recorder) writeLoop() {
	defer close(r.done)
	for entry := range r.queue {
		if err := r.journal.Record(r.ctx, entry); err != nil {
			r.logger.Warn().Err(err).Str("direction", entry.Direction).Msg("failed to record frame")
		}
	}
}

// peekType reads the discriminator without decoding the body. Malformed
// payloads are still recorded so replay can report them.
func peekType(data []byte) string {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
		return "malformed"
	}
	return env.Type
}
