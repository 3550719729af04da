package devserver

import (
	"fmt"
	"sync"

	"forumsync/pkg/protocol"
)

// RoomKey identifies one event or discussion. Forum paths share the
// discussion rooms.
type RoomKey struct {
	Kind string `json:"kind"`
	ID   int64  `json:"id"`
}

// NewRoomKey builds a key, folding forum into discussion.
func NewRoomKey(kind string, id int64) RoomKey {
	if kind == protocol.KindForum {
		kind = protocol.KindDiscussion
	}
	return RoomKey{Kind: kind, ID: id}
}

func (k RoomKey) String() string {
	return fmt.Sprintf("%s/%d", k.Kind, k.ID)
}

// Registry tracks open connections by room.
type Registry struct {
	mu    sync.RWMutex
	rooms map[RoomKey]map[string]*Connection
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{rooms: make(map[RoomKey]map[string]*Connection)}
}

// Register adds conn to its room.
func (r *Registry) Register(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	room := r.rooms[conn.Room()]
	if room == nil {
		room = make(map[string]*Connection)
		r.rooms[conn.Room()] = room
	}
	room[conn.ID()] = conn
	return nil
}

// Unregister removes conn. It is idempotent; removed is false on repeats.
func (r *Registry) Unregister(conn *Connection) (removed bool) {
	if conn == nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[conn.Room()]
	if !ok {
		return false
	}
	if _, ok := room[conn.ID()]; !ok {
		return false
	}
	delete(room, conn.ID())
	if len(room) == 0 {
		delete(r.rooms, conn.Room())
	}
	return true
}

// Has reports whether conn is registered.
func (r *Registry) Has(conn *Connection) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[conn.Room()][conn.ID()]
	return ok
}

// Connections returns a snapshot of a room's connections.
func (r *Registry) Connections(key RoomKey) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room := r.rooms[key]
	conns := make([]*Connection, 0, len(room))
	for _, c := range room {
		conns = append(conns, c)
	}
	return conns
}

// All returns every open connection.
func (r *Registry) All() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var conns []*Connection
	for _, room := range r.rooms {
		for _, c := range room {
			conns = append(conns, c)
		}
	}
	return conns
}

// Stats reports connection and room totals for /health.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	for _, room := range r.rooms {
		total += len(room)
	}
	return map[string]int{
		"total_connections": total,
		"active_rooms":      len(r.rooms),
	}
}
