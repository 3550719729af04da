// Package integration drives client sessions against the dev server over
// real sockets.
package integration

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"forumsync/internal/client"
	"forumsync/internal/config"
	"forumsync/internal/devserver"
	"forumsync/internal/session"
	"forumsync/internal/state"
)

const WaitFor = 3 * time.Second

// Env is a running dev server with a fixed token table:
// t-ada (host), t-bo and t-cy (attendees).
type Env struct {
	Server *devserver.Server
	HTTP   *httptest.Server
}

// StartEnv runs a dev server on an httptest listener until the test ends.
func StartEnv(t *testing.T) *Env {
	t.Helper()

	cfg := config.DefaultConfig().Server
	cfg.Tokens = map[string]string{
		"t-ada": "ada:host",
		"t-bo":  "bo",
		"t-cy":  "cy",
	}
	srv := devserver.New(cfg, devserver.Options{})
	require.NoError(t, srv.Start(context.Background()))

	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		_ = srv.Stop()
		ts.Close()
	})
	return &Env{Server: srv, HTTP: ts}
}

// ClientConfig returns a session config pointed at the env with short
// reconnect delays and the typing idle timer effectively disabled.
func (e *Env) ClientConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Client.BaseURL = e.HTTP.URL
	cfg.Client.ReconnectDelay = 20 * time.Millisecond
	cfg.Client.HeartbeatInterval = time.Hour
	cfg.Ephemeral.ReactionWindow = 200 * time.Millisecond
	cfg.Ephemeral.TypingIdle = time.Hour
	return cfg
}

// DropUser closes every server-side socket of username without a close
// frame, as a network failure would.
func (e *Env) DropUser(username string) int {
	dropped := 0
	for _, conn := range e.Server.Registry.All() {
		if conn.Identity().User.Username == username {
			_ = conn.Close()
			dropped++
		}
	}
	return dropped
}

// Client is a started session plus everything its host callbacks saw.
type Client struct {
	*session.Session

	mu       sync.Mutex
	changes  []state.Change
	statuses []bool
	errors   []string
}

// Join starts a session for token on kind/id and waits for the first sync.
func (e *Env) Join(t *testing.T, kind string, id int64, token string, tap client.Tap) *Client {
	t.Helper()
	return e.JoinWith(t, e.ClientConfig(), kind, id, token, tap)
}

// JoinWith is Join with an explicit config.
func (e *Env) JoinWith(t *testing.T, cfg *config.Config, kind string, id int64, token string, tap client.Tap) *Client {
	t.Helper()

	c := &Client{}
	opts := session.Options{
		Config:     cfg,
		Kind:       kind,
		ResourceID: id,
		Token:      token,
		OnChange:   c.onChange,
		OnStatus:   c.onStatus,
		OnError:    c.onError,
		Tap:        tap,
	}

	s, err := session.New(opts)
	require.NoError(t, err)
	c.Session = s
	t.Cleanup(s.Close)

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return s.Snapshot().Synced }, WaitFor, 5*time.Millisecond, "session never synced")
	return c
}

func (c *Client) onChange(change state.Change) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.changes = append(c.changes, change)
}

func (c *Client) onStatus(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses = append(c.statuses, connected)
}

func (c *Client) onError(message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors = append(c.errors, message)
}

// Statuses returns every connected/disconnected report so far.
func (c *Client) Statuses() []bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]bool(nil), c.statuses...)
}

// Errors returns every error message reported so far.
func (c *Client) Errors() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.errors...)
}

// Saw reports whether an applied change of changeType was delivered.
func (c *Client) Saw(changeType string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.changes {
		if ch.Type == changeType && ch.Applied {
			return true
		}
	}
	return false
}

// Eventually waits for cond against the client's current view.
func (c *Client) Eventually(t *testing.T, cond func(state.View) bool, msg string) {
	t.Helper()
	require.Eventually(t, func() bool { return cond(c.Snapshot()) }, WaitFor, 5*time.Millisecond, msg)
}
