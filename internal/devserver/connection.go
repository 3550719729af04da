package devserver

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"forumsync/pkg/protocol"
)

// Connection wraps one client socket. Frames are written by a single
// goroutine; everything else enqueues.
type Connection struct {
	id       string
	conn     *websocket.Conn
	writeCh  chan []byte
	identity Identity
	room     RoomKey
	limiter  *rate.Limiter
	timeout  time.Duration

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// ConnectionOptions tunes buffering and rate limiting.
type ConnectionOptions struct {
	SendBuffer   int
	WriteTimeout time.Duration
	CommandRate  float64
	CommandBurst int
}

// NewConnection wraps an upgraded socket and starts its writer.
func NewConnection(conn *websocket.Conn, identity Identity, room RoomKey, opts ConnectionOptions) *Connection {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 100
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	limit := rate.Inf
	if opts.CommandRate > 0 {
		limit = rate.Limit(opts.CommandRate)
	}
	if opts.CommandBurst <= 0 {
		opts.CommandBurst = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:       uuid.NewString(),
		conn:     conn,
		writeCh:  make(chan []byte, opts.SendBuffer),
		identity: identity,
		room:     room,
		limiter:  rate.NewLimiter(limit, opts.CommandBurst),
		timeout:  opts.WriteTimeout,
		ctx:      ctx,
		cancel:   cancel,
	}

	go c.writeLoop()
	return c
}

func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
				_ = c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				_ = c.Close()
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// WriteFrame encodes frame and queues it for delivery.
func (c *Connection) WriteFrame(frame protocol.Frame) error {
	data, err := protocol.Encode(frame)
	if err != nil {
		return err
	}
	return c.write(data)
}

func (c *Connection) write(data []byte) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case c.writeCh <- data:
		return nil
	case <-timer.C:
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// offer queues data without waiting. It reports false when the buffer is
// full or the connection is closed.
func (c *Connection) offer(data []byte) bool {
	select {
	case <-c.ctx.Done():
		return true
	default:
	}
	select {
	case c.writeCh <- data:
		return true
	default:
		return false
	}
}

// Allow consumes one token from the per-connection command budget.
func (c *Connection) Allow() bool {
	return c.limiter.Allow()
}

// Close tears the socket down. Safe to call more than once.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.conn.Close()
	})
	return err
}

// CloseWith sends a close frame with code before closing.
func (c *Connection) CloseWith(code int, reason string) error {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.timeout))
	return c.Close()
}

func (c *Connection) ID() string            { return c.id }
func (c *Connection) Identity() Identity    { return c.identity }
func (c *Connection) UserID() int64         { return c.identity.User.ID }
func (c *Connection) Room() RoomKey         { return c.room }
func (c *Connection) Done() <-chan struct{} { return c.ctx.Done() }
