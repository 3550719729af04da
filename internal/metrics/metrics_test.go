package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewClient(reg)

	c.FrameReceived("message.new")
	c.FrameReceived("message.new")
	c.FrameDropped("malformed")
	c.CommandSent("message.send")
	c.CommandRejected("not_connected")
	c.ReconnectScheduled()
	c.SetConnected(true)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.framesReceived.WithLabelValues("message.new")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.framesDropped.WithLabelValues("malformed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.commandsRejected.WithLabelValues("not_connected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.reconnects))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.connected))

	c.SetConnected(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(c.connected))

	count, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Positive(t, count)
}

func TestNilReceiversAreNoops(t *testing.T) {
	var c *Client
	var s *Server
	assert.NotPanics(t, func() {
		c.FrameReceived("x")
		c.FrameDropped("x")
		c.CommandSent("x")
		c.CommandRejected("x")
		c.ReconnectScheduled()
		c.SetConnected(true)
		s.ConnectionOpened("event")
		s.ConnectionClosed("event")
		s.CommandProcessed("x")
		s.CommandRejected("x")
		s.Broadcast()
	})
}

func TestServer_Connections(t *testing.T) {
	s := NewServer(prometheus.NewRegistry())
	s.ConnectionOpened("event")
	s.ConnectionOpened("event")
	s.ConnectionClosed("event")
	s.Broadcast()

	assert.Equal(t, 1.0, testutil.ToFloat64(s.connections.WithLabelValues("event")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.broadcasts))
}
