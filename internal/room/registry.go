// Package room tracks signaling rooms and the connections paired in them.
//
// A room holds at most two participants. All registry operations take the
// registry lock for their full duration, so the room set, the per-room
// participant lists, and the connection-to-room index always agree.
package room

import (
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	ErrRoomNotFound  = errors.New("room not found")
	ErrRoomFull      = errors.New("room full")
	ErrAlreadyInRoom = errors.New("already in a room")
	ErrTooManyRooms  = errors.New("too many rooms")
)

// ID is an opaque room identifier handed to clients.
type ID string

// ConnID identifies one signaling connection for the lifetime of its socket.
type ConnID string

const roomCapacity = 2

type state struct {
	id           ID
	participants [roomCapacity]ConnID
	n            int
	createdAt    time.Time
}

type Options struct {
	// MaxRooms caps the number of concurrent rooms. Zero means unlimited.
	MaxRooms int
	// IDLength is the length of generated room IDs in base36 characters.
	IDLength int
}

// Registry is the authoritative map of live rooms. Safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	rooms    map[ID]*state
	byConn   map[ConnID]ID
	maxRooms int
	idLen    int
}

func NewRegistry(opts Options) *Registry {
	idLen := opts.IDLength
	if idLen <= 0 {
		idLen = 9
	}
	return &Registry{
		rooms:    make(map[ID]*state),
		byConn:   make(map[ConnID]ID),
		maxRooms: opts.MaxRooms,
		idLen:    idLen,
	}
}

// Create allocates a fresh room with conn as its sole participant and returns
// the generated room ID.
func (r *Registry) Create(conn ConnID) (ID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byConn[conn]; ok {
		return "", ErrAlreadyInRoom
	}
	if r.maxRooms > 0 && len(r.rooms) >= r.maxRooms {
		return "", ErrTooManyRooms
	}

	id, err := r.newIDLocked()
	if err != nil {
		return "", err
	}

	st := &state{id: id, createdAt: time.Now()}
	st.participants[0] = conn
	st.n = 1
	r.rooms[id] = st
	r.byConn[conn] = id
	return id, nil
}

// Join adds conn to an existing room. ready reports whether the room reached
// two participants, in which case peer is the other connection.
func (r *Registry) Join(roomID ID, conn ConnID) (ready bool, peer ConnID, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byConn[conn]; ok {
		return false, "", ErrAlreadyInRoom
	}
	st, ok := r.rooms[roomID]
	if !ok {
		return false, "", ErrRoomNotFound
	}
	if st.n >= roomCapacity {
		return false, "", ErrRoomFull
	}

	peer = st.participants[0]
	st.participants[st.n] = conn
	st.n++
	r.byConn[conn] = roomID
	return st.n == roomCapacity, peer, nil
}

// Leave dissolves conn's room, if any. The room is removed from the registry
// and the remaining peer (empty if conn was alone) is evicted along with conn:
// a pairing does not outlive either of its members, so a departed room's ID is
// immediately invalid for new joiners. Calling Leave for a connection that is
// not in a room is a no-op.
func (r *Registry) Leave(conn ConnID) (roomID ID, peer ConnID, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	roomID, ok = r.byConn[conn]
	if !ok {
		return "", "", false
	}

	st := r.rooms[roomID]
	for i := 0; i < st.n; i++ {
		if st.participants[i] != conn {
			peer = st.participants[i]
		}
		delete(r.byConn, st.participants[i])
	}
	delete(r.rooms, roomID)
	return roomID, peer, true
}

// Peer returns the other participant of conn's room, if both are present.
func (r *Registry) Peer(roomID ID, conn ConnID) (ConnID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.rooms[roomID]
	if !ok {
		return "", false
	}
	for i := 0; i < st.n; i++ {
		if st.participants[i] == conn {
			other := st.participants[1-i]
			return other, other != ""
		}
	}
	return "", false
}

// RoomOf returns the room conn currently occupies.
func (r *Registry) RoomOf(conn ConnID) (ID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byConn[conn]
	return id, ok
}

// Len returns the number of live rooms.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

const base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// newIDLocked draws random base36 IDs until one misses the live room set.
// With 36^9 possible IDs a collision is vanishingly rare, but the check is
// cheap and a duplicate would silently merge two unrelated rooms.
func (r *Registry) newIDLocked() (ID, error) {
	for attempt := 0; attempt < 1000; attempt++ {
		id, err := randomBase36(r.idLen)
		if err != nil {
			return "", err
		}
		if _, taken := r.rooms[id]; !taken {
			return id, nil
		}
	}
	return "", fmt.Errorf("room id space exhausted after 1000 attempts")
}

func randomBase36(n int) (ID, error) {
	buf := make([]byte, n)
	out := make([]byte, n)
	filled := 0
	for filled < n {
		if _, err := rand.Read(buf[:n-filled]); err != nil {
			return "", fmt.Errorf("read random bytes: %w", err)
		}
		for _, b := range buf[:n-filled] {
			// Rejection sampling keeps the distribution uniform:
			// 252 is the largest multiple of 36 below 256.
			if b >= 252 {
				continue
			}
			out[filled] = base36Alphabet[b%36]
			filled++
		}
	}
	return ID(out), nil
}
