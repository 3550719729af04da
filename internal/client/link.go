package client

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// link wraps one open socket. All data frames go through writeLoop; gorilla
// allows only one concurrent writer.
type link struct {
	ws        *websocket.Conn
	send      chan []byte
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func newLink(ws *websocket.Conn, buffer int) *link {
	ctx, cancel := context.WithCancel(context.Background())
	return &link{
		ws:     ws,
		send:   make(chan []byte, buffer),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (l *link) writeLoop(timeout time.Duration, logger zerolog.Logger) {
	for {
		select {
		case data := <-l.send:
			if err := l.ws.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
				l.shutdown()
				return
			}
			if err := l.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Debug().Err(err).Msg("write failed")
				// closing the socket unblocks the read loop, which reports the drop
				l.shutdown()
				return
			}
		case <-l.ctx.Done():
			return
		}
	}
}

func (l *link) enqueue(data []byte, timeout time.Duration) error {
	select {
	case <-l.ctx.Done():
		return ErrNotConnected
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case l.send <- data:
		return nil
	case <-timer.C:
		return ErrSendTimeout
	case <-l.ctx.Done():
		return ErrNotConnected
	}
}

// closeNormal sends a 1000 close frame before tearing the socket down.
// WriteControl may run concurrently with writeLoop.
func (l *link) closeNormal(timeout time.Duration) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = l.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(timeout))
	l.shutdown()
}

func (l *link) shutdown() {
	l.closeOnce.Do(func() {
		l.cancel()
		_ = l.ws.Close()
	})
}
