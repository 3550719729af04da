package client

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"forumsync/internal/config"
	"forumsync/internal/metrics"
	"forumsync/pkg/protocol"
)

// ReadyState mirrors the socket lifecycle seen by the host.
type ReadyState int32

const (
	StateClosed ReadyState = iota
	StateConnecting
	StateOpen
)

func (s ReadyState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

// Dialer opens client sockets. *websocket.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// Tap observes raw frames in both directions. Calls happen on the socket
// goroutines and must not block for long.
type Tap interface {
	Inbound(data []byte)
	Outbound(data []byte)
}

// Options configures a Manager.
type Options struct {
	BaseURL             string
	Kind                string
	Dialer              Dialer
	HandshakeTimeout    time.Duration
	WriteTimeout        time.Duration
	HeartbeatInterval   time.Duration
	ReconnectDelay      time.Duration
	ReconnectMultiplier float64
	MaxReconnectDelay   time.Duration
	SendBuffer          int

	// OnFrame receives every decoded inbound frame, in arrival order, on the
	// read goroutine.
	OnFrame func(protocol.Frame)
	// OnStatus reports transitions of the connected flag. Calls are
	// serialised and must not call back into the Manager.
	OnStatus func(connected bool)

	Tap     Tap
	Metrics *metrics.Client
	Logger  *zerolog.Logger
}

// OptionsFromConfig copies the client settings into Options.
func OptionsFromConfig(cfg config.ClientConfig) Options {
	return Options{
		BaseURL:             cfg.BaseURL,
		Kind:                cfg.Kind,
		HandshakeTimeout:    cfg.HandshakeTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		HeartbeatInterval:   cfg.HeartbeatInterval,
		ReconnectDelay:      cfg.ReconnectDelay,
		ReconnectMultiplier: cfg.ReconnectMultiplier,
		MaxReconnectDelay:   cfg.MaxReconnectDelay,
		SendBuffer:          cfg.SendBuffer,
	}
}

func (o *Options) applyDefaults() {
	d := config.DefaultConfig().Client
	if o.Kind == "" {
		o.Kind = d.Kind
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = d.HandshakeTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = d.WriteTimeout
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = d.HeartbeatInterval
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = d.ReconnectDelay
	}
	if o.ReconnectMultiplier < 1 {
		o.ReconnectMultiplier = 1
	}
	if o.MaxReconnectDelay < o.ReconnectDelay {
		o.MaxReconnectDelay = o.ReconnectDelay
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = d.SendBuffer
	}
	if o.Dialer == nil {
		o.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: o.HandshakeTimeout,
		}
	}
}

// Manager keeps at most one socket open per (resource id, token). Abnormal
// closes are retried indefinitely; a normal close (1000) never is.
type Manager struct {
	opts   Options
	logger zerolog.Logger

	mu             sync.Mutex
	state          ReadyState
	resourceID     int64
	token          string
	link           *link
	reconnectTimer *time.Timer
	attempts       int
	// gen invalidates dials, timers and links that belong to an earlier
	// Connect/Disconnect cycle.
	gen uint64

	statusMu sync.Mutex
	reported bool
}

// NewManager creates a closed manager.
func NewManager(opts Options) *Manager {
	opts.applyDefaults()
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Manager{
		opts:   opts,
		logger: logger.With().Str("component", "client").Str("kind", opts.Kind).Logger(),
	}
}

// Connect opens a socket for resourceID. It is a no-op while a socket is
// already open or connecting.
func (m *Manager) Connect(resourceID int64, token string) error {
	url, err := protocol.BuildURL(m.opts.BaseURL, m.opts.Kind, resourceID, token)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.state == StateOpen || m.state == StateConnecting {
		m.mu.Unlock()
		return nil
	}
	m.stopReconnectLocked()
	m.state = StateConnecting
	m.resourceID = resourceID
	m.token = token
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	go m.dial(gen, url)
	return nil
}

// Reconnect tears down the current socket and connects under a new identity.
func (m *Manager) Reconnect(resourceID int64, token string) error {
	m.Disconnect()
	return m.Connect(resourceID, token)
}

// Disconnect cancels any pending reconnect and heartbeat and closes the
// socket with the normal-closure code.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.gen++
	m.stopReconnectLocked()
	l := m.link
	m.link = nil
	wasOpen := m.state == StateOpen
	m.state = StateClosed
	m.attempts = 0
	m.mu.Unlock()

	if l != nil {
		l.closeNormal(m.opts.WriteTimeout)
	}
	if wasOpen {
		m.notifyStatus(false)
	}
}

// Send encodes cmd and queues it on the single writer. It never buffers
// across connections: if the socket is not open the command is dropped.
func (m *Manager) Send(cmd protocol.Command) error {
	m.mu.Lock()
	l := m.link
	open := m.state == StateOpen
	m.mu.Unlock()

	if !open || l == nil {
		return ErrNotConnected
	}

	data, err := protocol.EncodeCommand(cmd)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEncode, err)
	}

	if err := l.enqueue(data, m.opts.WriteTimeout); err != nil {
		return err
	}
	if m.opts.Tap != nil {
		m.opts.Tap.Outbound(data)
	}
	m.opts.Metrics.CommandSent(cmd.CommandType())
	return nil
}

// Connected reports whether the socket is open.
func (m *Manager) Connected() bool {
	return m.State() == StateOpen
}

// State returns the current ready state.
func (m *Manager) State() ReadyState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Attempts is the number of reconnects scheduled since the last open.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// ReconnectPending reports whether a reconnect timer is armed.
func (m *Manager) ReconnectPending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reconnectTimer != nil
}

func (m *Manager) dial(gen uint64, url string) {
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.HandshakeTimeout)
	defer cancel()

	ws, resp, err := m.opts.Dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		if ws != nil {
			_ = ws.Close()
		}
		return
	}

	if err != nil {
		m.state = StateClosed
		event := m.logger.Warn().Err(err).Int64("resource", m.resourceID)
		if resp != nil {
			event = event.Int("status", resp.StatusCode)
		}
		event.Msg("dial failed")
		m.scheduleReconnectLocked(websocket.CloseAbnormalClosure)
		m.mu.Unlock()
		return
	}

	l := newLink(ws, m.opts.SendBuffer)
	m.link = l
	m.state = StateOpen
	m.attempts = 0
	resourceID := m.resourceID
	m.mu.Unlock()

	m.logger.Info().Int64("resource", resourceID).Msg("socket open")
	m.notifyStatus(true)

	go l.writeLoop(m.opts.WriteTimeout, m.logger)
	go m.heartbeat(l)
	go m.readLoop(l)
}

func (m *Manager) readLoop(l *link) {
	for {
		messageType, data, err := l.ws.ReadMessage()
		if err != nil {
			m.handleClose(l, err)
			return
		}
		if messageType != websocket.TextMessage {
			m.opts.Metrics.FrameDropped("binary")
			continue
		}

		if m.opts.Tap != nil {
			m.opts.Tap.Inbound(data)
		}

		frame, err := protocol.Decode(data)
		if err != nil {
			m.logger.Warn().Err(err).Msg("dropping malformed frame")
			m.opts.Metrics.FrameDropped("malformed")
			continue
		}
		if _, unknown := frame.(protocol.Unknown); unknown {
			m.opts.Metrics.FrameDropped("unknown_type")
		} else {
			m.opts.Metrics.FrameReceived(frame.FrameType())
		}
		m.dispatch(frame)
	}
}

func (m *Manager) dispatch(frame protocol.Frame) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().Interface("panic", r).Str("type", frame.FrameType()).Msg("frame handler panicked")
		}
	}()
	if m.opts.OnFrame != nil {
		m.opts.OnFrame(frame)
	}
}

func (m *Manager) heartbeat(l *link) {
	ticker := time.NewTicker(m.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := m.Send(protocol.PresenceUpdate{}); err != nil {
				m.logger.Debug().Err(err).Msg("heartbeat not sent")
			}
		case <-l.ctx.Done():
			return
		}
	}
}

// handleClose runs once per link when its read loop ends.
func (m *Manager) handleClose(l *link, err error) {
	code := closeCode(err)
	l.shutdown()

	m.mu.Lock()
	if m.link != l {
		// Disconnect already detached this link
		m.mu.Unlock()
		return
	}
	m.link = nil
	m.state = StateClosed
	if code != websocket.CloseNormalClosure {
		m.scheduleReconnectLocked(code)
	} else {
		m.logger.Info().Int("code", code).Msg("socket closed normally")
	}
	m.mu.Unlock()

	m.logger.Debug().Err(err).Int("code", code).Msg("read loop ended")
	m.notifyStatus(false)
}

func (m *Manager) scheduleReconnectLocked(code int) {
	m.stopReconnectLocked()

	delay := m.backoffLocked()
	m.attempts++
	gen := m.gen
	m.reconnectTimer = time.AfterFunc(delay, func() { m.fireReconnect(gen) })

	m.opts.Metrics.ReconnectScheduled()
	m.logger.Info().
		Int("code", code).
		Int("attempt", m.attempts).
		Dur("delay", delay).
		Int64("resource", m.resourceID).
		Msg("reconnect scheduled")
}

func (m *Manager) fireReconnect(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.state != StateClosed {
		m.mu.Unlock()
		return
	}
	m.reconnectTimer = nil
	resourceID, token := m.resourceID, m.token
	m.mu.Unlock()

	if err := m.Connect(resourceID, token); err != nil {
		m.logger.Error().Err(err).Msg("reconnect failed")
	}
}

func (m *Manager) backoffLocked() time.Duration {
	if m.opts.ReconnectMultiplier <= 1 {
		return m.opts.ReconnectDelay
	}
	delay := float64(m.opts.ReconnectDelay) * math.Pow(m.opts.ReconnectMultiplier, float64(m.attempts))
	if delay > float64(m.opts.MaxReconnectDelay) {
		return m.opts.MaxReconnectDelay
	}
	return time.Duration(delay)
}

func (m *Manager) stopReconnectLocked() {
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
}

// notifyStatus reports connected only if it still matches the socket state
// and differs from the last report. A dial that lost a race with Disconnect
// therefore reports nothing.
func (m *Manager) notifyStatus(connected bool) {
	m.statusMu.Lock()
	defer m.statusMu.Unlock()

	if connected != m.Connected() || connected == m.reported {
		return
	}
	m.reported = connected
	m.opts.Metrics.SetConnected(connected)
	if m.opts.OnStatus != nil {
		m.opts.OnStatus(connected)
	}
}

// closeCode extracts the close code; a drop without a close frame counts as
// abnormal closure.
func closeCode(err error) int {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return websocket.CloseAbnormalClosure
}
