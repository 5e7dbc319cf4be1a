// Package room holds the live room state: membership, join order, the
// in-memory history ring, ban list, and the registry that owns room
// lifecycle including deferred empty-room cleanup.
package room

import (
	"sort"
	"strings"
	"sync"
	"time"

	"chatserver/internal/client"
)

// Room is one live chat room.
type Room struct {
	ID        string
	Private   bool
	CreatedAt time.Time

	mu           sync.RWMutex
	password     string
	owner        string                     // username
	members      map[string]*client.Session // keyed by session ID
	joinTimes    map[string]time.Time
	banned       map[string]struct{} // usernames
	history      []string
	historyLimit int
}

// New creates a live room.
func New(id string, private bool, owner, password string, historyLimit int) *Room {
	return &Room{
		ID:           id,
		Private:      private,
		CreatedAt:    time.Now(),
		password:     password,
		owner:        owner,
		members:      make(map[string]*client.Session),
		joinTimes:    make(map[string]time.Time),
		banned:       make(map[string]struct{}),
		historyLimit: historyLimit,
	}
}

// Password returns the room password, empty for public rooms.
func (r *Room) Password() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.password
}

// SetPassword replaces the room password.
func (r *Room) SetPassword(password string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.password = password
}

// Owner returns the owner's username.
func (r *Room) Owner() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.owner
}

// SetOwner records an ownership transfer.
func (r *Room) SetOwner(username string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.owner = username
}

// IsOwner reports whether the username currently owns the room.
func (r *Room) IsOwner(username string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.owner == username
}

// AddMember admits a session and records its join time.
func (r *Room) AddMember(s *client.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[s.ID] = s
	r.joinTimes[s.ID] = time.Now()
}

// Join streams the replay to the session and then admits it, all under the
// room lock. replay receives a copy of the history ring; while it runs no
// chat broadcast can reach the room, so the joiner never sees a live line
// inside or before the replay. The member is not added when replay fails.
func (r *Room) Join(s *client.Session, replay func(ring []string) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if replay != nil {
		ring := make([]string, len(r.history))
		copy(ring, r.history)
		if err := replay(ring); err != nil {
			return err
		}
	}

	r.members[s.ID] = s
	r.joinTimes[s.ID] = time.Now()
	return nil
}

// RemoveMember drops a session; safe for unknown IDs.
func (r *Room) RemoveMember(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members, sessionID)
	delete(r.joinTimes, sessionID)
}

// HasMember reports whether the session is in the room.
func (r *Room) HasMember(sessionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[sessionID]
	return ok
}

// MemberCount returns the current member count.
func (r *Room) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Members returns the member sessions ordered by join time, earliest first.
func (r *Room) Members() []*client.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*client.Session, 0, len(r.members))
	for _, s := range r.members {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		return r.joinTimes[out[i].ID].Before(r.joinTimes[out[j].ID])
	})
	return out
}

// FindMemberByName returns the member session with the given username, nil
// if absent.
func (r *Room) FindMemberByName(username string) *client.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.members {
		if s.Username() == username {
			return s
		}
	}
	return nil
}

// LongestMember returns the earliest-joined member excluding the given
// session ID, nil if none. Used to pick the new owner on forced leave.
func (r *Room) LongestMember(excludeID string) *client.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *client.Session
	var bestTime time.Time
	for id, s := range r.members {
		if id == excludeID {
			continue
		}
		t := r.joinTimes[id]
		if best == nil || t.Before(bestTime) {
			best = s
			bestTime = t
		}
	}
	return best
}

// BroadcastChat delivers one public chat line: persist runs first (it may be
// nil), the line lands in the history ring, then fan-out to every member
// except exceptID. The whole sequence holds the room lock, so a joiner is
// handed a ring that either contains this line or will receive it live,
// never both. Returns the number of failed deliveries.
func (r *Room) BroadcastChat(line, exceptID string, persist func()) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if persist != nil {
		persist()
	}

	r.history = append(r.history, strings.TrimSuffix(line, "\n"))
	if len(r.history) > r.historyLimit {
		r.history = r.history[len(r.history)-r.historyLimit:]
	}

	var failed int
	for id, s := range r.members {
		if id == exceptID {
			continue
		}
		if err := s.Send(line); err != nil {
			failed++
		}
	}
	return failed
}

// Broadcast sends a line to every member except the given session ID.
// Returns the number of failed deliveries.
func (r *Room) Broadcast(line, exceptID string) int {
	var failed int
	for _, s := range r.snapshot() {
		if s.ID == exceptID {
			continue
		}
		if err := s.Send(line); err != nil {
			failed++
		}
	}
	return failed
}

// BroadcastToAll sends a line to every member including the sender.
func (r *Room) BroadcastToAll(line string) int {
	var failed int
	for _, s := range r.snapshot() {
		if err := s.Send(line); err != nil {
			failed++
		}
	}
	return failed
}

// snapshot copies the member list so sends happen outside the room lock.
func (r *Room) snapshot() []*client.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*client.Session, 0, len(r.members))
	for _, s := range r.members {
		out = append(out, s)
	}
	return out
}

// Ban adds a username to the room's ban list.
func (r *Room) Ban(username string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.banned[username] = struct{}{}
}

// IsBanned reports whether the username is banned from the room.
func (r *Room) IsBanned(username string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.banned[username]
	return ok
}

// History returns a copy of the buffered lines, oldest first.
func (r *Room) History() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.history))
	copy(out, r.history)
	return out
}
