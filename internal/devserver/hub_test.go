package devserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forumsync/pkg/protocol"
)

// socketPair returns both ends of one upgraded socket.
func socketPair(t *testing.T) (server, client *websocket.Conn) {
	t.Helper()

	accepted := make(chan *websocket.Conn, 1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		accepted <- ws
	}))
	t.Cleanup(ts.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	select {
	case server = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("socket not accepted")
	}
	t.Cleanup(func() { _ = server.Close() })
	return server, client
}

func startHub(t *testing.T) (*Hub, *Registry) {
	t.Helper()
	registry := NewRegistry()
	hub := NewHub(registry, HubOptions{})
	require.NoError(t, hub.Start(context.Background()))
	t.Cleanup(func() { _ = hub.Stop() })
	return hub, registry
}

func TestHub_JoinIsProcessedBeforeItReturns(t *testing.T) {
	hub, registry := startHub(t)
	server, client := socketPair(t)
	conn := NewConnection(server, ada, NewRoomKey(protocol.KindEvent, 5), ConnectionOptions{})
	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, hub.Join(conn))
	assert.True(t, registry.Has(conn))

	require.NoError(t, hub.Submit(conn, protocol.SendMessage{Content: "first"}))
	next[protocol.InitialState](t, client)
	assert.Equal(t, "first", next[protocol.MessageNew](t, client).Message.Content)
}

func TestHub_CommandBeforeJoinGetsError(t *testing.T) {
	hub, registry := startHub(t)
	server, client := socketPair(t)
	conn := NewConnection(server, bo, NewRoomKey(protocol.KindEvent, 6), ConnectionOptions{})
	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, hub.Submit(conn, protocol.SendMessage{Content: "early"}))

	frame := next[protocol.ErrorFrame](t, client)
	assert.Equal(t, ErrNotJoined.Error(), frame.Message)
	assert.False(t, registry.Has(conn))
}

func TestHub_RejectionToFullBufferDropsConnection(t *testing.T) {
	hub, _ := startHub(t)
	server, _ := socketPair(t)

	// no writer goroutine, so the single buffered slot never drains
	ctx, cancel := context.WithCancel(context.Background())
	conn := &Connection{
		id:       "stalled",
		conn:     server,
		writeCh:  make(chan []byte, 1),
		identity: bo,
		room:     NewRoomKey(protocol.KindEvent, 7),
		timeout:  time.Minute,
		ctx:      ctx,
		cancel:   cancel,
	}

	require.NoError(t, hub.Submit(conn, protocol.SendMessage{Content: "one"}))
	require.NoError(t, hub.Submit(conn, protocol.SendMessage{Content: "two"}))

	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("stalled connection was not dropped")
	}

	reqCtx, reqCancel := context.WithTimeout(context.Background(), time.Second)
	defer reqCancel()
	_, err := hub.RoomStats(reqCtx)
	assert.NoError(t, err)
}
