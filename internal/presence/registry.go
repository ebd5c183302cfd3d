// Package presence tracks which identity sits behind each live connection and
// which room that connection currently belongs to.
//
// A Registry is not safe for concurrent use. It is owned by a single event
// loop (the server hub) which serializes every mutation.
package presence

import (
	"sort"

	"github.com/Tyrowin/companychat/internal/chat"
)

// Entry is the registry record for one connection.
type Entry struct {
	ConnectionID string
	Identity     chat.Identity
	RoomID       string

	seq uint64
}

// Registry maps connection id to identity and room.
type Registry struct {
	entries map[string]*Entry
	nextSeq uint64
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// Register stores the identity for connID. Registering an existing id
// replaces its identity and keeps its room.
func (r *Registry) Register(connID string, id chat.Identity) {
	if e, ok := r.entries[connID]; ok {
		e.Identity = id
		return
	}
	r.nextSeq++
	r.entries[connID] = &Entry{ConnectionID: connID, Identity: id, seq: r.nextSeq}
}

// Unregister removes connID and returns the room it last belonged to.
func (r *Registry) Unregister(connID string) (roomID string, ok bool) {
	e, ok := r.entries[connID]
	if !ok {
		return "", false
	}
	delete(r.entries, connID)
	return e.RoomID, true
}

// SetRoom points connID at roomID and returns the previous room. Unknown
// connections are ignored.
func (r *Registry) SetRoom(connID, roomID string) (previous string) {
	e, ok := r.entries[connID]
	if !ok {
		return ""
	}
	previous = e.RoomID
	e.RoomID = roomID
	return previous
}

// Room returns the room connID belongs to, or "".
func (r *Registry) Room(connID string) string {
	if e, ok := r.entries[connID]; ok {
		return e.RoomID
	}
	return ""
}

// Lookup returns a copy of the entry for connID.
func (r *Registry) Lookup(connID string) (Entry, bool) {
	e, ok := r.entries[connID]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// ListByRoom returns a snapshot of the connections in roomID ordered by
// registration time.
func (r *Registry) ListByRoom(roomID string) []Entry {
	out := make([]Entry, 0)
	if roomID == "" {
		return out
	}
	for _, e := range r.entries {
		if e.RoomID == roomID {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	return len(r.entries)
}

// PresenceUsers converts a snapshot to its wire form.
func PresenceUsers(entries []Entry) []chat.PresenceUser {
	users := make([]chat.PresenceUser, len(entries))
	for i, e := range entries {
		users[i] = chat.PresenceUser{
			ConnectionID: e.ConnectionID,
			UserID:       e.Identity.UserID,
			UserName:     e.Identity.UserName,
			UserRole:     e.Identity.UserRole,
		}
	}
	return users
}
