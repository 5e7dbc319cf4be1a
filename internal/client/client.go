// Package client tracks live connections. Every accepted socket gets a
// Session keyed by an opaque UUID; the Registry answers the "who is online,
// what are they called, where are they" questions the dispatcher asks.
package client

import (
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session is one live client connection and its conversational state.
type Session struct {
	ID          string
	Conn        net.Conn
	ConnectedAt time.Time

	mu              sync.RWMutex
	username        string
	roomID          string // empty while in the lobby
	isOwner         bool
	ownerLeaveArmed bool

	writeMu sync.Mutex
}

// NewSession wraps an accepted connection with a fresh opaque ID.
func NewSession(conn net.Conn) *Session {
	return &Session{
		ID:          uuid.NewString(),
		Conn:        conn,
		ConnectedAt: time.Now(),
	}
}

// Send writes one protocol line to the client. Writes are serialized so the
// broadcaster and the dispatcher never interleave partial lines.
func (s *Session) Send(line string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.Conn.Write([]byte(line))
	return err
}

// Username returns the display name, empty until SETNAME succeeds.
func (s *Session) Username() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username
}

// SetUsername records the display name chosen via SETNAME.
func (s *Session) SetUsername(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.username = name
}

// RoomID returns the current room, empty while in the lobby.
func (s *Session) RoomID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roomID
}

// SetRoomID moves the session into a room, or with "" back to the lobby.
// Any pending owner-leave confirmation is cancelled by the move, and the
// owner flag is reset; room creation sets it again via SetIsOwner.
func (s *Session) SetRoomID(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roomID = roomID
	s.isOwner = false
	s.ownerLeaveArmed = false
}

// IsOwner reports whether the session owns its current room.
func (s *Session) IsOwner() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isOwner
}

// SetIsOwner flips the owner flag, after creation, transfer, or promotion.
func (s *Session) SetIsOwner(owner bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isOwner = owner
}

// ArmOwnerLeave marks that the session, as room owner, has been warned and
// the next FORCELEAVE is expected.
func (s *Session) ArmOwnerLeave() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ownerLeaveArmed = true
}

// DisarmOwnerLeave clears a pending owner-leave confirmation.
func (s *Session) DisarmOwnerLeave() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ownerLeaveArmed = false
}

// OwnerLeaveArmed reports whether an OWNER_LEAVE_WARNING is outstanding.
func (s *Session) OwnerLeaveArmed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ownerLeaveArmed
}

// Registry is the set of live sessions.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Add registers a session under its ID.
func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
}

// Remove drops a session; safe to call for an unknown ID.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Get looks up a session by ID.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// IsUsernameAvailable reports whether no live session other than exceptID
// holds the name. Uniqueness is checked against connected clients only.
func (r *Registry) IsUsernameAvailable(name, exceptID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sessions {
		if s.ID != exceptID && s.Username() == name {
			return false
		}
	}
	return true
}

// FindByUsername returns the session with the given name inside the given
// room, or nil. Private message routing only sees the sender's room.
func (r *Registry) FindByUsername(name, roomID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sessions {
		if s.Username() == name && s.RoomID() == roomID {
			return s
		}
	}
	return nil
}

// All returns a snapshot of every live session.
func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}
