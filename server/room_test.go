package server_test

import (
	"errors"
	"net"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/automerge/automerge-sub002/actor"
	"github.com/automerge/automerge-sub002/document"
	"github.com/automerge/automerge-sub002/patch"
	"github.com/automerge/automerge-sub002/server"
	"github.com/automerge/automerge-sub002/syncproto"
)

func newActor(b byte) actor.ID { return actor.ID{b, b, b, b} }

// testClient is a minimal stand-in for a browser tab: it owns its own
// document and drives the sync protocol over a real WebSocket
// connection to a Room, exactly the way Peer.Serve drives it
// server-side. doc and st are only ever touched under mu, since a
// local Change and the read loop's ReceiveSyncMessage race otherwise.
type testClient struct {
	mu   sync.Mutex
	conn *websocket.Conn
	doc  *document.Document
	st   *syncproto.State
}

func dialClient(t *testing.T, wsURL string, actorID actor.ID) *testClient {
	t.Helper()
	doc, err := document.Init(document.WithActor(actorID))
	require.NoError(t, err)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	return &testClient{conn: conn, doc: doc, st: syncproto.NewState()}
}

// change applies fn locally then immediately offers the result.
func (c *testClient) change(t *testing.T, msg string, fn func(tx *document.Tx) error) {
	t.Helper()
	c.mu.Lock()
	err := c.doc.Change(msg, fn)
	c.mu.Unlock()
	require.NoError(t, err)
	c.trySend(t)
}

func (c *testClient) trySend(t *testing.T) {
	t.Helper()
	c.mu.Lock()
	m, ok := syncproto.GenerateMessage(c.st, c.doc)
	var payload []byte
	if ok {
		payload = syncproto.EncodeMessage(m, c.doc)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	require.NoError(t, c.conn.WriteMessage(websocket.BinaryMessage, payload))
}

// runLoop answers every inbound sync message until done closes,
// applying it and replying in kind. It never touches *testing.T:
// errors here are a peer hanging up, not a test failure.
func (c *testClient) runLoop(done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		default:
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			return
		}
		msg, derr := syncproto.DecodeMessage(data)
		if derr != nil {
			continue
		}
		c.mu.Lock()
		_ = syncproto.ReceiveSyncMessage(c.st, c.doc, msg)
		reply, ok := syncproto.GenerateMessage(c.st, c.doc)
		var payload []byte
		if ok {
			payload = syncproto.EncodeMessage(reply, c.doc)
		}
		c.mu.Unlock()
		if ok {
			_ = c.conn.WriteMessage(websocket.BinaryMessage, payload)
		}
	}
}

func (c *testClient) getStr(path patch.Path) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok, err := c.doc.Get(path)
	if err != nil || !ok {
		return "", false
	}
	return v.AsStr(), true
}

// TestRoomSyncConvergesTwoPeers joins two independent clients to the
// same room and checks that an edit made on one side reaches the
// other purely by exchanging sync messages through the room's
// goroutine — neither client ever sees the other's connection.
func TestRoomSyncConvergesTwoPeers(t *testing.T) {
	hub := server.NewHub(zerolog.Nop())
	handler := server.NewHandler(hub, zerolog.Nop())
	ts := httptest.NewServer(handler)
	defer ts.Close()
	defer hub.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/room-1"

	clientA := dialClient(t, wsURL, newActor(1))
	defer clientA.conn.Close()
	clientB := dialClient(t, wsURL, newActor(2))
	defer clientB.conn.Close()

	done := make(chan struct{})
	defer close(done)
	go clientA.runLoop(done)
	go clientB.runLoop(done)

	clientA.change(t, "a writes", func(tx *document.Tx) error {
		return tx.Put(patch.Path{"from"}, "alice")
	})
	clientB.change(t, "b writes", func(tx *document.Tx) error {
		return tx.Put(patch.Path{"greeting"}, "hello")
	})

	require.Eventually(t, func() bool {
		greet, ok := clientA.getStr(patch.Path{"greeting"})
		if !ok || greet != "hello" {
			return false
		}
		from, ok := clientB.getStr(patch.Path{"from"})
		return ok && from == "alice"
	}, 3*time.Second, 50*time.Millisecond, "documents did not converge via room sync")

	greet, ok := clientA.getStr(patch.Path{"greeting"})
	require.True(t, ok)
	require.Equal(t, "hello", greet)

	from, ok := clientB.getStr(patch.Path{"from"})
	require.True(t, ok)
	require.Equal(t, "alice", from)
}

// TestHubGetOrCreateReusesRoom checks the registry half of the join
// path: the same document id always resolves to the same Room, and a
// fresh id starts its own independent document.
func TestHubGetOrCreateReusesRoom(t *testing.T) {
	hub := server.NewHub(zerolog.Nop())
	defer hub.Close()

	r1 := hub.GetOrCreate("alpha")
	r2 := hub.GetOrCreate("alpha")
	require.Same(t, r1, r2)

	r3 := hub.GetOrCreate("beta")
	require.NotSame(t, r1, r3)

	ids := hub.Rooms()
	require.ElementsMatch(t, []string{"alpha", "beta"}, ids)
}
