package server

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/automerge/automerge-sub002/document"
)

// Hub is the process-wide registry of live rooms, one per document id.
type Hub struct {
	mu    sync.Mutex
	rooms map[string]*Room
	log   zerolog.Logger
}

// NewHub creates an empty registry.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{rooms: make(map[string]*Room), log: log}
}

// GetOrCreate returns the room for id, creating a fresh empty document
// and starting its owning goroutine the first time id is seen.
func (h *Hub) GetOrCreate(id string) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.rooms[id]; ok {
		return r
	}
	doc, err := document.Init()
	if err != nil {
		// actor.RandomGenerator only fails if the system RNG is broken;
		// Init itself never returns an error on that path in practice.
		panic(err)
	}
	r := NewRoom(id, doc, h.log)
	h.rooms[id] = r
	go r.Run()
	return r
}

// Rooms returns a snapshot of the currently live room ids.
func (h *Hub) Rooms() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.rooms))
	for id := range h.rooms {
		out = append(out, id)
	}
	return out
}

// Close stops every room's goroutine.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range h.rooms {
		r.Close()
	}
}
