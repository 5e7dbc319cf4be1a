package room

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"
)

// CleanupGrace is how long an empty room survives before the sweeper
// destroys it. A member rejoining within the grace period cancels cleanup.
const CleanupGrace = 100 * time.Millisecond

// sweepInterval is how often the sweeper checks pending rooms.
const sweepInterval = 20 * time.Millisecond

// ErrNoFreeID is returned when room ID generation keeps colliding.
var ErrNoFreeID = errors.New("room: could not allocate a free room ID")

// Registry owns the set of live rooms and their cleanup lifecycle.
type Registry struct {
	historyLimit int

	mu      sync.RWMutex
	rooms   map[string]*Room
	pending map[string]time.Time // roomID -> destroy-after deadline
	rng     *rand.Rand

	// onDestroy runs after a room is removed, outside the registry lock.
	onDestroy func(roomID string)
}

// NewRegistry creates an empty registry. onDestroy may be nil.
func NewRegistry(historyLimit int, onDestroy func(roomID string)) *Registry {
	return &Registry{
		historyLimit: historyLimit,
		rooms:        make(map[string]*Room),
		pending:      make(map[string]time.Time),
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
		onDestroy:    onDestroy,
	}
}

// GenerateID allocates an unused six-digit room ID. taken is an extra
// predicate over persisted rooms; it may be nil.
func (r *Registry) GenerateID(taken func(string) (bool, error)) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for attempt := 0; attempt < 100; attempt++ {
		id := fmt.Sprintf("%06d", r.rng.Intn(900000)+100000)
		if _, live := r.rooms[id]; live {
			continue
		}
		if taken != nil {
			used, err := taken(id)
			if err != nil {
				return "", err
			}
			if used {
				continue
			}
		}
		return id, nil
	}
	return "", ErrNoFreeID
}

// Create builds a live room and registers it.
func (r *Registry) Create(id string, private bool, owner, password string) *Room {
	rm := New(id, private, owner, password, r.historyLimit)
	r.mu.Lock()
	r.rooms[id] = rm
	delete(r.pending, id)
	r.mu.Unlock()
	return rm
}

// Get looks up a live room.
func (r *Registry) Get(id string) (*Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rm, ok := r.rooms[id]
	return rm, ok
}

// Join resolves a live room and cancels any pending cleanup in one step, so
// the sweeper cannot destroy the room between lookup and admission.
func (r *Registry) Join(id string) (*Room, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[id]
	if !ok {
		return nil, false
	}
	delete(r.pending, id)
	return rm, true
}

// HistoryLimit returns the per-room history ring capacity.
func (r *Registry) HistoryLimit() int {
	return r.historyLimit
}

// All returns a snapshot of the live rooms.
func (r *Registry) All() []*Room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		out = append(out, rm)
	}
	return out
}

// Count returns the number of live rooms.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// ScheduleCleanup marks a room for destruction after the grace period. The
// sweeper skips it if anyone joins in the meantime.
func (r *Registry) ScheduleCleanup(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rooms[id]; !ok {
		return
	}
	r.pending[id] = time.Now().Add(CleanupGrace)
}

// Run drives the cleanup sweeper until ctx is cancelled. One goroutine
// handles every pending room.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(time.Now())
		}
	}
}

// sweep destroys every pending room whose deadline passed and is still
// empty.
func (r *Registry) sweep(now time.Time) {
	var destroyed []string

	r.mu.Lock()
	for id, deadline := range r.pending {
		if now.Before(deadline) {
			continue
		}
		delete(r.pending, id)
		rm, ok := r.rooms[id]
		if !ok {
			continue
		}
		if rm.MemberCount() > 0 {
			continue
		}
		delete(r.rooms, id)
		destroyed = append(destroyed, id)
	}
	r.mu.Unlock()

	for _, id := range destroyed {
		log.Printf("[room] destroyed empty room %s", id)
		if r.onDestroy != nil {
			r.onDestroy(id)
		}
	}
}
