package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forumsync/internal/config"
	"forumsync/internal/state"
	"forumsync/pkg/protocol"
)

const waitFor = 2 * time.Second

const initialState = `{"type":"initial.state",
	"messages":[{"id":1,"author":{"id":1,"username":"ada"},"content":"welcome","created_at":"2024-01-01T00:00:00Z"}],
	"questions":[],
	"participants":[{"id":1,"username":"ada","role":"host"}]}`

// scriptedServer greets every connection with initialState and hands the
// socket to the test.
type scriptedServer struct {
	*httptest.Server
	conns  chan *websocket.Conn
	tokens chan string
	inbox  chan []byte
}

func newScriptedServer(t *testing.T) *scriptedServer {
	t.Helper()
	ss := &scriptedServer{
		conns:  make(chan *websocket.Conn, 8),
		tokens: make(chan string, 8),
		inbox:  make(chan []byte, 64),
	}
	upgrader := websocket.Upgrader{}
	ss.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ss.tokens <- r.URL.Query().Get("token")
		if err := conn.WriteMessage(websocket.TextMessage, []byte(initialState)); err != nil {
			return
		}
		ss.conns <- conn
		go func() {
			for {
				_, data, err := conn.ReadMessage()
				if err != nil {
					return
				}
				ss.inbox <- data
			}
		}()
	}))
	t.Cleanup(ss.Close)
	return ss
}

func (ss *scriptedServer) nextConn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-ss.conns:
		return c
	case <-time.After(waitFor):
		t.Fatal("no connection")
		return nil
	}
}

type hostRecorder struct {
	mu       sync.Mutex
	changes  []state.Change
	statuses []bool
	errors   []string
}

func (h *hostRecorder) options() (func(state.Change), func(bool), func(string)) {
	return func(c state.Change) {
			h.mu.Lock()
			h.changes = append(h.changes, c)
			h.mu.Unlock()
		}, func(connected bool) {
			h.mu.Lock()
			h.statuses = append(h.statuses, connected)
			h.mu.Unlock()
		}, func(msg string) {
			h.mu.Lock()
			h.errors = append(h.errors, msg)
			h.mu.Unlock()
		}
}

func (h *hostRecorder) Errors() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.errors...)
}

func (h *hostRecorder) ChangeTypes() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var types []string
	for _, c := range h.changes {
		types = append(types, c.Type)
	}
	return types
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Client.ReconnectDelay = 20 * time.Millisecond
	cfg.Client.HeartbeatInterval = time.Hour
	cfg.Ephemeral.ReactionWindow = 40 * time.Millisecond
	cfg.Ephemeral.TypingIdle = time.Hour
	return cfg
}

func newTestSession(t *testing.T, ss *scriptedServer, host *hostRecorder) *Session {
	t.Helper()
	cfg := testConfig()
	cfg.Client.BaseURL = ss.URL

	onChange, onStatus, onError := host.options()
	s, err := New(Options{
		Config:     cfg,
		Kind:       protocol.KindDiscussion,
		ResourceID: 42,
		Token:      "first",
		OnChange:   onChange,
		OnStatus:   onStatus,
		OnError:    onError,
	})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Options{Kind: "chat", ResourceID: 1, Token: "t"})
	assert.ErrorIs(t, err, protocol.ErrInvalidKind)

	_, err = New(Options{Kind: protocol.KindEvent, Token: "t"})
	assert.ErrorIs(t, err, protocol.ErrInvalidResource)

	_, err = New(Options{Kind: protocol.KindEvent, ResourceID: 1})
	assert.ErrorIs(t, err, protocol.ErrMissingToken)

	s, err := New(Options{ResourceID: 1, Token: "t"})
	require.NoError(t, err)
	s.Close()
}

func TestSession_SyncsAndAppliesFrames(t *testing.T) {
	ss := newScriptedServer(t)
	host := &hostRecorder{}
	s := newTestSession(t, ss, host)

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyStarted)
	conn := ss.nextConn(t)
	assert.Equal(t, "first", <-ss.tokens)

	require.Eventually(t, func() bool { return s.Snapshot().Synced }, waitFor, 5*time.Millisecond)
	assert.True(t, s.Connected())

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"message.new","message":{"id":2,"author":{"id":2,"username":"bo"},"content":"hi","created_at":"2024-01-01T00:01:00Z"}}`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"error","message":"Rate limited"}`)))

	require.Eventually(t, func() bool { return len(s.Snapshot().Messages) == 2 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, int64(2), s.Snapshot().Messages[0].ID)
	require.Eventually(t, func() bool { return len(host.Errors()) == 1 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, []string{"Rate limited"}, host.Errors())
	assert.Equal(t, []string{protocol.TypeInitialState, protocol.TypeMessageNew}, host.ChangeTypes())
}

func TestSession_ReconnectResyncs(t *testing.T) {
	ss := newScriptedServer(t)
	host := &hostRecorder{}
	s := newTestSession(t, ss, host)

	require.NoError(t, s.Start(context.Background()))
	conn := ss.nextConn(t)
	require.Eventually(t, func() bool { return s.Snapshot().Synced }, waitFor, 5*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"user.joined","user":{"id":9,"username":"zed"}}`)))
	require.Eventually(t, func() bool { return len(s.Snapshot().Participants) == 2 }, waitFor, 5*time.Millisecond)

	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "")
	require.NoError(t, conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)))

	ss.nextConn(t)
	require.Eventually(t, func() bool {
		v := s.Snapshot()
		return v.Synced && len(v.Participants) == 1
	}, waitFor, 5*time.Millisecond)

	host.mu.Lock()
	defer host.mu.Unlock()
	assert.Equal(t, []bool{true, false, true}, host.statuses)
}

func TestSession_CommandsWhileOffline(t *testing.T) {
	host := &hostRecorder{}
	onChange, onStatus, onError := host.options()
	s, err := New(Options{
		Config:     testConfig(),
		ResourceID: 1,
		Token:      "t",
		OnChange:   onChange,
		OnStatus:   onStatus,
		OnError:    onError,
	})
	require.NoError(t, err)
	defer s.Close()

	assert.Error(t, s.SendMessage("hello", nil))
	assert.Error(t, s.UpvoteQuestion(1))
	assert.Equal(t, []string{"not connected", "not connected"}, host.Errors())
}

func TestSession_ReactionsDecay(t *testing.T) {
	ss := newScriptedServer(t)
	host := &hostRecorder{}
	s := newTestSession(t, ss, host)

	require.NoError(t, s.Start(context.Background()))
	conn := ss.nextConn(t)
	require.Eventually(t, func() bool { return s.Snapshot().Synced }, waitFor, 5*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"reaction.received","reaction":{"user":{"id":1,"username":"ada"},"reaction_type":"clap","timestamp":"2024-01-01T00:00:00Z"}}`)))
	require.Eventually(t, func() bool { return len(s.Snapshot().Reactions) == 1 }, waitFor, 2*time.Millisecond)
	require.Eventually(t, func() bool { return len(s.Snapshot().Reactions) == 0 }, waitFor, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		types := host.ChangeTypes()
		return len(types) > 0 && types[len(types)-1] == state.ChangeReactionsExpired
	}, waitFor, 5*time.Millisecond)
}

func TestSession_TypingAndSend(t *testing.T) {
	ss := newScriptedServer(t)
	s := newTestSession(t, ss, &hostRecorder{})

	require.NoError(t, s.Start(context.Background()))
	ss.nextConn(t)
	require.Eventually(t, s.Connected, waitFor, 5*time.Millisecond)

	s.Keystroke()
	s.Keystroke()
	require.NoError(t, s.SendMessage("done", nil))

	var got []string
	for len(got) < 3 {
		select {
		case data := <-ss.inbox:
			got = append(got, string(data))
		case <-time.After(waitFor):
			t.Fatalf("received only %v", got)
		}
	}
	assert.JSONEq(t, `{"type":"typing.start"}`, got[0])
	assert.JSONEq(t, `{"type":"typing.stop"}`, got[1])
	assert.JSONEq(t, `{"type":"message.send","content":"done"}`, got[2])
}

func TestSession_SetTokenReconnects(t *testing.T) {
	ss := newScriptedServer(t)
	s := newTestSession(t, ss, &hostRecorder{})

	require.NoError(t, s.SetToken("before-start"))
	require.NoError(t, s.Start(context.Background()))
	ss.nextConn(t)
	assert.Equal(t, "before-start", <-ss.tokens)

	require.NoError(t, s.SetToken("second"))
	ss.nextConn(t)
	assert.Equal(t, "second", <-ss.tokens)

	assert.ErrorIs(t, s.SetToken(""), protocol.ErrMissingToken)
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	ss := newScriptedServer(t)
	s := newTestSession(t, ss, &hostRecorder{})

	require.NoError(t, s.Start(context.Background()))
	ss.nextConn(t)

	s.Close()
	s.Close()
	assert.False(t, s.Connected())
	assert.ErrorIs(t, s.Start(context.Background()), ErrClosed)
	assert.ErrorIs(t, s.SetToken("x"), ErrClosed)
}
