package app

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forumsync/internal/config"
	"forumsync/internal/devserver"
	"forumsync/pkg/protocol"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = freePort(t)
	return cfg
}

func TestNewApplication_RejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*config.Config)
	}{
		{"zero port", func(c *config.Config) { c.Server.Port = 0 }},
		{"empty host", func(c *config.Config) { c.Server.Host = "" }},
		{"pong before ping", func(c *config.Config) { c.Server.PongTimeout = c.Server.PingInterval }},
		{"metrics without addr", func(c *config.Config) {
			c.Metrics.Enabled = true
			c.Metrics.Addr = ""
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			tt.modify(cfg)

			app, err := NewApplication(cfg)
			assert.Error(t, err)
			assert.Nil(t, app)
		})
	}
}

func TestNewApplication_NilConfigUsesDefaults(t *testing.T) {
	app, err := NewApplication(nil)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:8080", app.Addr())
}

func TestApplication_StartServeStop(t *testing.T) {
	cfg := testConfig(t)
	cfg.Metrics.Enabled = true
	cfg.Metrics.Addr = net.JoinHostPort("127.0.0.1", "0")

	app, err := NewApplication(cfg)
	require.NoError(t, err)
	require.NoError(t, app.Start(context.Background()))

	resp, err := http.Get("http://" + app.Addr() + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var health devserver.HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "healthy", health.Status)

	ws, _, err := websocket.DefaultDialer.Dial("ws://"+app.Addr()+"/ws/event/1/?token=ada", nil)
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	frame, err := protocol.Decode(data)
	require.NoError(t, err)
	assert.IsType(t, protocol.InitialState{}, frame)

	metrics, err := http.Get("http://" + app.Addr() + "/metrics")
	require.NoError(t, err)
	defer metrics.Body.Close()
	body, err := io.ReadAll(metrics.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "go_goroutines")
	assert.Contains(t, string(body), "forumsync_server_connections")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, app.Stop(ctx))

	_, _, err = ws.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func TestApplication_StartFailsWhenPortTaken(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	cfg := config.DefaultConfig()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = ln.Addr().(*net.TCPAddr).Port

	app, err := NewApplication(cfg)
	require.NoError(t, err)
	assert.Error(t, app.Start(context.Background()))
}
