package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "forumsync"

// Client collects connection-manager and reducer counters. A nil *Client is
// valid and records nothing.
type Client struct {
	framesReceived   *prometheus.CounterVec
	framesDropped    *prometheus.CounterVec
	commandsSent     *prometheus.CounterVec
	commandsRejected *prometheus.CounterVec
	reconnects       prometheus.Counter
	connected        prometheus.Gauge
}

// NewClient registers the client collectors with reg.
func NewClient(reg prometheus.Registerer) *Client {
	c := &Client{
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "frames_received_total",
			Help:      "Inbound frames applied, by frame type.",
		}, []string{"type"}),
		framesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "frames_dropped_total",
			Help:      "Inbound frames ignored, by reason.",
		}, []string{"reason"}),
		commandsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "commands_sent_total",
			Help:      "Outbound commands written to the socket, by command type.",
		}, []string{"type"}),
		commandsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "commands_rejected_total",
			Help:      "Outbound commands refused locally, by reason.",
		}, []string{"reason"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "reconnects_total",
			Help:      "Reconnect attempts scheduled after abnormal closes.",
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "connected",
			Help:      "1 while the socket is open.",
		}),
	}
	reg.MustRegister(c.framesReceived, c.framesDropped, c.commandsSent, c.commandsRejected, c.reconnects, c.connected)
	return c
}

// FrameReceived counts a decoded inbound frame by type.
func (c *Client) FrameReceived(frameType string) {
	if c == nil {
		return
	}
	c.framesReceived.WithLabelValues(frameType).Inc()
}

// FrameDropped counts an inbound frame that was not applied.
func (c *Client) FrameDropped(reason string) {
	if c == nil {
		return
	}
	c.framesDropped.WithLabelValues(reason).Inc()
}

// CommandSent counts a command written to the socket.
func (c *Client) CommandSent(commandType string) {
	if c == nil {
		return
	}
	c.commandsSent.WithLabelValues(commandType).Inc()
}

// CommandRejected counts a command refused before sending.
func (c *Client) CommandRejected(reason string) {
	if c == nil {
		return
	}
	c.commandsRejected.WithLabelValues(reason).Inc()
}

// ReconnectScheduled counts armed reconnect timers.
func (c *Client) ReconnectScheduled() {
	if c == nil {
		return
	}
	c.reconnects.Inc()
}

// SetConnected sets the connected gauge to 1 or 0.
func (c *Client) SetConnected(connected bool) {
	if c == nil {
		return
	}
	if connected {
		c.connected.Set(1)
	} else {
		c.connected.Set(0)
	}
}

// Server collects dev-server counters. A nil *Server records nothing.
type Server struct {
	connections *prometheus.GaugeVec
	commands    *prometheus.CounterVec
	broadcasts  prometheus.Counter
	rejected    *prometheus.CounterVec
}

// NewServer registers the dev-server collectors with reg.
func NewServer(reg prometheus.Registerer) *Server {
	s := &Server{
		connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "connections",
			Help:      "Open sockets, by resource kind.",
		}, []string{"kind"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "commands_total",
			Help:      "Commands processed, by command type.",
		}, []string{"type"}),
		broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "broadcasts_total",
			Help:      "Frames fanned out to a room.",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "commands_rejected_total",
			Help:      "Commands answered with an error frame, by reason.",
		}, []string{"reason"}),
	}
	reg.MustRegister(s.connections, s.commands, s.broadcasts, s.rejected)
	return s
}

// ConnectionOpened increments the per-kind connection gauge.
func (s *Server) ConnectionOpened(kind string) {
	if s == nil {
		return
	}
	s.connections.WithLabelValues(kind).Inc()
}

// ConnectionClosed decrements the per-kind connection gauge.
func (s *Server) ConnectionClosed(kind string) {
	if s == nil {
		return
	}
	s.connections.WithLabelValues(kind).Dec()
}

// CommandProcessed counts a command the hub applied.
func (s *Server) CommandProcessed(commandType string) {
	if s == nil {
		return
	}
	s.commands.WithLabelValues(commandType).Inc()
}

// CommandRejected counts a command answered with an error frame.
func (s *Server) CommandRejected(reason string) {
	if s == nil {
		return
	}
	s.rejected.WithLabelValues(reason).Inc()
}

// Broadcast counts one encoded broadcast.
func (s *Server) Broadcast() {
	if s == nil {
		return
	}
	s.broadcasts.Inc()
}
