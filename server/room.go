// Package server hosts collaborative documents over WebSocket, routing
// each connected peer's sync messages through a single goroutine per
// room so concurrent local transactions and inbound network traffic
// never race on the underlying document.Document.
package server

import (
	"github.com/rs/zerolog"

	"github.com/automerge/automerge-sub002/document"
	"github.com/automerge/automerge-sub002/syncproto"
)

// Room owns one document and the sync state of every peer currently
// subscribed to it. All access happens on the goroutine Run starts;
// callers only ever send onto the room's channels, never touch doc
// directly, so no mutex is needed even though a room interleaves local
// edits with concurrent peers' sync messages.
type Room struct {
	ID  string
	doc *document.Document
	log zerolog.Logger

	peers map[*Peer]*syncproto.State

	join    chan *Peer
	leave   chan *Peer
	inbound chan peerMessage
	local   chan func(*document.Document)
	closed  chan struct{}
}

type peerMessage struct {
	peer *Peer
	msg  *syncproto.Message
}

// NewRoom creates a room around doc. Call Run in its own goroutine
// before registering any peers.
func NewRoom(id string, doc *document.Document, log zerolog.Logger) *Room {
	return &Room{
		ID:      id,
		doc:     doc,
		log:     log.With().Str("room", id).Logger(),
		peers:   make(map[*Peer]*syncproto.State),
		join:    make(chan *Peer),
		leave:   make(chan *Peer),
		inbound: make(chan peerMessage, 16),
		local:   make(chan func(*document.Document), 16),
		closed:  make(chan struct{}),
	}
}

// Run is the room's single owning goroutine; it must run for the
// room's whole lifetime. Closing the room's stop channel (via Close)
// ends it.
func (r *Room) Run() {
	for {
		select {
		case p := <-r.join:
			r.peers[p] = syncproto.NewState()
			r.syncWith(p)
		case p := <-r.leave:
			delete(r.peers, p)
		case pm := <-r.inbound:
			st, ok := r.peers[pm.peer]
			if !ok {
				continue
			}
			if err := syncproto.ReceiveSyncMessage(st, r.doc, pm.msg); err != nil {
				r.log.Warn().Err(err).Str("peer", pm.peer.id).Msg("malformed sync message")
				continue
			}
			r.broadcastSync()
		case fn := <-r.local:
			fn(r.doc)
			r.broadcastSync()
		case <-r.closed:
			return
		}
	}
}

// Close stops the room's goroutine.
func (r *Room) Close() { close(r.closed) }

// Join registers p with the room and immediately offers it whatever
// the room already knows.
func (r *Room) Join(p *Peer) { r.join <- p }

// Leave removes p from the room.
func (r *Room) Leave(p *Peer) { r.leave <- p }

// Receive feeds an inbound sync message from p into the room.
func (r *Room) Receive(p *Peer, msg *syncproto.Message) { r.inbound <- peerMessage{peer: p, msg: msg} }

// Mutate runs fn against the room's document on its owning goroutine,
// then re-syncs every peer — the path a local HTTP/CLI edit takes.
func (r *Room) Mutate(fn func(*document.Document)) { r.local <- fn }

func (r *Room) syncWith(p *Peer) {
	st := r.peers[p]
	msg, ok := syncproto.GenerateMessage(st, r.doc)
	if !ok {
		return
	}
	p.send(syncproto.EncodeMessage(msg, r.doc))
}

func (r *Room) broadcastSync() {
	for p := range r.peers {
		r.syncWith(p)
	}
}
