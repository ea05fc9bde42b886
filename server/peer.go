package server

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/automerge/automerge-sub002/syncproto"
)

const writeTimeout = 10 * time.Second

// Peer is one connected WebSocket client attached to a Room.
type Peer struct {
	id   string
	room *Room
	conn *websocket.Conn
	log  zerolog.Logger

	writeMu sync.Mutex
}

// NewPeer wraps an upgraded WebSocket connection and attaches it to room.
func NewPeer(id string, conn *websocket.Conn, room *Room, log zerolog.Logger) *Peer {
	return &Peer{id: id, room: room, conn: conn, log: log.With().Str("peer", id).Logger()}
}

// send writes one binary sync message frame, safe for concurrent callers.
func (p *Peer) send(data []byte) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := p.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		p.log.Warn().Err(err).Msg("write failed")
	}
}

// Serve runs the peer's read loop until the connection closes. It
// registers with room on entry and unregisters on exit; call it from
// the HTTP handler's goroutine for this connection.
func (p *Peer) Serve() {
	p.room.Join(p)
	defer p.room.Leave(p)
	defer p.conn.Close()

	for {
		kind, data, err := p.conn.ReadMessage()
		if err != nil {
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		msg, err := syncproto.DecodeMessage(data)
		if err != nil {
			p.log.Warn().Err(err).Msg("malformed sync message frame")
			continue
		}
		p.room.Receive(p, msg)
	}
}
