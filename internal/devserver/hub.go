package devserver

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"forumsync/internal/logging"
	"forumsync/internal/metrics"
	"forumsync/pkg/protocol"
)

type inbound struct {
	conn *Connection
	cmd  protocol.Command
}

type joinRequest struct {
	conn   *Connection
	joined chan struct{}
}

// Hub owns every Room. Joins, leaves, commands and API requests are
// processed one at a time on the hub goroutine, so each room sees a total
// order and every connection gets its initial.state before any broadcast.
type Hub struct {
	registry      *Registry
	metrics       *metrics.Server
	typingTimeout time.Duration
	now           func() time.Time
	logger        zerolog.Logger

	rooms map[RoomKey]*Room

	joinCh    chan joinRequest
	leaveCh   chan *Connection
	commandCh chan inbound
	requestCh chan func()
	shutdown  chan struct{}
	done      chan struct{}

	mu       sync.Mutex
	running  bool
	stopOnce sync.Once
}

// HubOptions configures a Hub.
type HubOptions struct {
	TypingTimeout time.Duration
	Metrics       *metrics.Server
	Clock         func() time.Time
}

// NewHub creates a stopped hub.
func NewHub(registry *Registry, opts HubOptions) *Hub {
	if opts.TypingTimeout <= 0 {
		opts.TypingTimeout = 5 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Hub{
		registry:      registry,
		metrics:       opts.Metrics,
		typingTimeout: opts.TypingTimeout,
		now:           opts.Clock,
		logger:        logging.Component("hub"),
		rooms:         make(map[RoomKey]*Room),
		joinCh:        make(chan joinRequest, 100),
		leaveCh:       make(chan *Connection, 100),
		commandCh:     make(chan inbound, 1000),
		requestCh:     make(chan func()),
		shutdown:      make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Start launches the hub goroutine.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return ErrHubAlreadyRunning
	}
	h.running = true

	h.logger.Info().Dur("typing_timeout", h.typingTimeout).Msg("starting hub")
	go h.run(ctx)
	return nil
}

// Stop ends the hub goroutine and waits for it.
func (h *Hub) Stop() error {
	h.mu.Lock()
	running := h.running
	h.running = false
	h.mu.Unlock()
	if !running {
		return ErrHubNotRunning
	}

	h.stopOnce.Do(func() { close(h.shutdown) })
	<-h.done
	return nil
}

// Join registers conn and sends it the room snapshot. It returns once the
// hub has processed the join, so commands and the leave submitted afterwards
// are always handled after it.
func (h *Hub) Join(conn *Connection) error {
	if h.stopped() {
		return ErrHubNotRunning
	}
	req := joinRequest{conn: conn, joined: make(chan struct{})}
	select {
	case h.joinCh <- req:
	case <-h.shutdown:
		return ErrHubNotRunning
	case <-h.done:
		return ErrHubNotRunning
	}
	select {
	case <-req.joined:
		return nil
	case <-h.done:
		return ErrHubNotRunning
	}
}

// Leave unregisters conn and broadcasts any resulting presence changes.
func (h *Hub) Leave(conn *Connection) error {
	select {
	case h.leaveCh <- conn:
		return nil
	case <-h.shutdown:
		return ErrHubNotRunning
	case <-h.done:
		return ErrHubNotRunning
	}
}

// Submit queues a decoded command from conn.
func (h *Hub) Submit(conn *Connection, cmd protocol.Command) error {
	if h.stopped() {
		return ErrHubNotRunning
	}
	select {
	case h.commandCh <- inbound{conn: conn, cmd: cmd}:
		return nil
	case <-conn.Done():
		return ErrConnectionClosed
	case <-h.shutdown:
		return ErrHubNotRunning
	case <-h.done:
		return ErrHubNotRunning
	}
}

// SetEventStatus changes an event's status and broadcasts the change.
func (h *Hub) SetEventStatus(ctx context.Context, key RoomKey, status string) (RoomStats, error) {
	var stats RoomStats
	var err error
	doErr := h.do(ctx, func() {
		room, ok := h.rooms[key]
		if !ok {
			err = ErrRoomNotFound
			return
		}
		var frame protocol.Frame
		frame, err = room.SetEventStatus(status)
		if err != nil {
			return
		}
		h.broadcast(key, frame, nil)
		stats = room.Stats()
	})
	if doErr != nil {
		return RoomStats{}, doErr
	}
	return stats, err
}

// RoomStats lists every room the hub knows about, ordered by key.
func (h *Hub) RoomStats(ctx context.Context) ([]RoomStats, error) {
	var stats []RoomStats
	err := h.do(ctx, func() {
		for _, room := range h.rooms {
			stats = append(stats, room.Stats())
		}
	})
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Key.Kind != stats[j].Key.Kind {
			return stats[i].Key.Kind < stats[j].Key.Kind
		}
		return stats[i].Key.ID < stats[j].Key.ID
	})
	return stats, err
}

func (h *Hub) stopped() bool {
	select {
	case <-h.shutdown:
		return true
	case <-h.done:
		return true
	default:
		return false
	}
}

// do runs fn on the hub goroutine and waits for it.
func (h *Hub) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	select {
	case h.requestCh <- func() { fn(); close(finished) }:
	case <-ctx.Done():
		return ctx.Err()
	case <-h.shutdown:
		return ErrHubNotRunning
	case <-h.done:
		return ErrHubNotRunning
	}
	select {
	case <-finished:
		return nil
	case <-h.done:
		return ErrHubNotRunning
	}
}

func (h *Hub) run(ctx context.Context) {
	defer close(h.done)
	defer h.logger.Info().Msg("hub stopped")

	sweep := h.typingTimeout / 5
	if sweep < 10*time.Millisecond {
		sweep = 10 * time.Millisecond
	}
	ticker := time.NewTicker(sweep)
	defer ticker.Stop()

	for {
		select {
		case req := <-h.joinCh:
			h.handleJoin(req.conn)
			close(req.joined)
		case conn := <-h.leaveCh:
			h.handleLeave(conn)
		case in := <-h.commandCh:
			h.handleCommand(in)
		case fn := <-h.requestCh:
			fn()
		case <-ticker.C:
			h.expireTyping()
		case <-h.shutdown:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) room(key RoomKey) *Room {
	room, ok := h.rooms[key]
	if !ok {
		room = newRoom(key, h.typingTimeout, h.now)
		h.rooms[key] = room
	}
	return room
}

func (h *Hub) handleJoin(conn *Connection) {
	if err := h.registry.Register(conn); err != nil {
		h.logger.Error().Err(err).Msg("failed to register connection")
		return
	}
	h.metrics.ConnectionOpened(conn.Room().Kind)

	room := h.room(conn.Room())
	joined, first := room.Join(conn.Identity())

	h.send(conn, room.Snapshot())
	if first {
		h.broadcast(conn.Room(), joined, conn)
	}

	h.logger.Info().
		Str("room", conn.Room().String()).
		Str("user", conn.Identity().User.Username).
		Str("conn", conn.ID()).
		Msg("connection joined")
}

func (h *Hub) handleLeave(conn *Connection) {
	if !h.registry.Unregister(conn) {
		return
	}
	h.metrics.ConnectionClosed(conn.Room().Kind)

	room, ok := h.rooms[conn.Room()]
	if !ok {
		return
	}
	for _, frame := range room.Leave(conn.UserID()) {
		h.broadcast(conn.Room(), frame, nil)
	}

	h.logger.Info().
		Str("room", conn.Room().String()).
		Str("user", conn.Identity().User.Username).
		Str("conn", conn.ID()).
		Msg("connection left")
}

func (h *Hub) handleCommand(in inbound) {
	room, ok := h.rooms[in.conn.Room()]
	if !ok || !h.registry.Has(in.conn) {
		h.metrics.CommandRejected("not_joined")
		h.send(in.conn, protocol.ErrorFrame{Message: ErrNotJoined.Error()})
		return
	}

	frames, err := room.Apply(in.conn.Identity(), in.cmd)
	if err != nil {
		h.metrics.CommandRejected("invalid")
		h.logger.Debug().
			Err(err).
			Str("command", in.cmd.CommandType()).
			Str("user", in.conn.Identity().User.Username).
			Msg("command rejected")
		h.send(in.conn, protocol.ErrorFrame{Message: err.Error()})
		return
	}

	h.metrics.CommandProcessed(in.cmd.CommandType())
	for _, frame := range frames {
		h.broadcast(in.conn.Room(), frame, nil)
	}
}

func (h *Hub) expireTyping() {
	now := h.now()
	for key, room := range h.rooms {
		if frame, changed := room.ExpireTyping(now); changed {
			h.broadcast(key, frame, nil)
		}
	}
}

// broadcast encodes frame once and offers it to every connection in the
// room except skip. A connection whose buffer is full is dropped rather
// than stalling the hub.
func (h *Hub) broadcast(key RoomKey, frame protocol.Frame, skip *Connection) {
	data, err := protocol.Encode(frame)
	if err != nil {
		h.logger.Error().Err(err).Str("type", frame.FrameType()).Msg("failed to encode frame")
		return
	}
	h.metrics.Broadcast()

	for _, conn := range h.registry.Connections(key) {
		if conn == skip {
			continue
		}
		h.deliver(conn, data)
	}
}

// send encodes frame for a single connection.
func (h *Hub) send(conn *Connection, frame protocol.Frame) {
	data, err := protocol.Encode(frame)
	if err != nil {
		h.logger.Error().Err(err).Str("type", frame.FrameType()).Msg("failed to encode frame")
		return
	}
	h.deliver(conn, data)
}

func (h *Hub) deliver(conn *Connection, data []byte) {
	if !conn.offer(data) {
		h.logger.Warn().Str("conn", conn.ID()).Msg("send buffer full, dropping connection")
		_ = conn.Close()
	}
}
