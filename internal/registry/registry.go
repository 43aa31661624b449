// Package registry holds the authoritative mapping of rooms to their
// participants. Every mutation, including the idle sweep, happens under a
// single mutex.
package registry

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/mossy-p/webrtc-meet/internal/models"
)

const (
	// DefaultIdleTimeout is how long an empty room may linger before the sweep removes it.
	DefaultIdleTimeout = 30 * time.Minute

	// DefaultHistoryLimit bounds the chat history kept per room.
	DefaultHistoryLimit = 100
)

// ErrRoomFull is returned by Join when a capacity is given and already reached.
var ErrRoomFull = errors.New("room is full")

// Outbox delivers frames to one connection. Neither method may block.
type Outbox interface {
	Deliver(frame models.Frame) bool
	// Evict sends a final error frame with reason and closes the connection
	Evict(reason string)
}

// Participant is one connection's membership in a room
type Participant struct {
	ConnID   string
	User     string
	JoinedAt time.Time
	Outbox   Outbox
}

// Snapshot is a consistent view of a room taken at the moment of a mutation
type Snapshot struct {
	Room    string
	Count   int
	Created bool
	Deleted bool
	Members []Participant
}

type room struct {
	id           string
	createdAt    time.Time
	emptySince   time.Time
	participants map[string]Participant
	history      []models.ChatMessage
}

// Registry maps room IDs to rooms
type Registry struct {
	mu           sync.Mutex
	rooms        map[string]*room
	idleTimeout  time.Duration
	historyLimit int
	now          func() time.Time
}

// Option configures a Registry
type Option func(*Registry)

// WithIdleTimeout sets how long an empty room survives the sweep
func WithIdleTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.idleTimeout = d
		}
	}
}

// WithHistoryLimit bounds the number of chat messages kept per room
func WithHistoryLimit(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.historyLimit = n
		}
	}
}

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// New creates an empty registry
func New(opts ...Option) *Registry {
	r := &Registry{
		rooms:        make(map[string]*room),
		idleTimeout:  DefaultIdleTimeout,
		historyLimit: DefaultHistoryLimit,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Join inserts p into roomID, creating the room if absent. Re-joining with
// the same ConnID replaces the earlier entry. A positive capacity rejects a
// new connection once the room holds that many participants.
func (r *Registry) Join(roomID string, p Participant, capacity int) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, created := r.rooms[roomID], false
	if rm == nil {
		rm = &room{
			id:           roomID,
			createdAt:    r.now(),
			participants: make(map[string]Participant),
		}
		r.rooms[roomID] = rm
		created = true
	}

	if _, rejoin := rm.participants[p.ConnID]; !rejoin && capacity > 0 && len(rm.participants) >= capacity {
		return Snapshot{}, ErrRoomFull
	}

	if p.JoinedAt.IsZero() {
		p.JoinedAt = r.now()
	}
	rm.participants[p.ConnID] = p
	rm.emptySince = time.Time{}

	snap := rm.snapshot()
	snap.Created = created
	return snap, nil
}

// Leave removes connID from roomID. The room is deleted as soon as it is
// empty. The boolean is false when the connection was not a member.
func (r *Registry) Leave(roomID, connID string) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm := r.rooms[roomID]
	if rm == nil {
		return Snapshot{Room: roomID}, false
	}
	if _, ok := rm.participants[connID]; !ok {
		return rm.snapshot(), false
	}
	delete(rm.participants, connID)

	snap := rm.snapshot()
	if len(rm.participants) == 0 {
		delete(r.rooms, roomID)
		snap.Deleted = true
	}
	return snap, true
}

// Ensure creates an empty room if it does not exist yet. An empty room is
// only reclaimed by the idle sweep.
func (r *Registry) Ensure(roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rooms[roomID]; ok {
		return false
	}
	now := r.now()
	r.rooms[roomID] = &room{
		id:           roomID,
		createdAt:    now,
		emptySince:   now,
		participants: make(map[string]Participant),
	}
	return true
}

// Remove drops a room regardless of its members and returns who was in it
func (r *Registry) Remove(roomID string) ([]Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm := r.rooms[roomID]
	if rm == nil {
		return nil, false
	}
	delete(r.rooms, roomID)
	return rm.snapshot().Members, true
}

// Member reports whether connID is currently a participant of roomID
func (r *Registry) Member(roomID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm := r.rooms[roomID]
	if rm == nil {
		return false
	}
	_, ok := rm.participants[connID]
	return ok
}

// FindByUser resolves a display name to a live participant. Display names
// are not unique; the earliest joiner with that name wins.
func (r *Registry) FindByUser(roomID, user string) (Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm := r.rooms[roomID]
	if rm == nil {
		return Participant{}, false
	}

	var (
		found Participant
		ok    bool
	)
	for _, p := range rm.participants {
		if p.User != user {
			continue
		}
		if !ok || p.JoinedAt.Before(found.JoinedAt) || (p.JoinedAt.Equal(found.JoinedAt) && p.ConnID < found.ConnID) {
			found, ok = p, true
		}
	}
	return found, ok
}

// Snapshot returns the current state of a room
func (r *Registry) Snapshot(roomID string) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm := r.rooms[roomID]
	if rm == nil {
		return Snapshot{Room: roomID}, false
	}
	return rm.snapshot(), true
}

// Count returns the number of participants in roomID
func (r *Registry) Count(roomID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rm := r.rooms[roomID]; rm != nil {
		return len(rm.participants)
	}
	return 0
}

// Stats returns the number of live rooms and participants
func (r *Registry) Stats() (rooms, participants int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rm := range r.rooms {
		participants += len(rm.participants)
	}
	return len(r.rooms), participants
}

// AppendChat records msg in the room's history, dropping the oldest entry
// when the limit is reached. It reports false if the room does not exist.
func (r *Registry) AppendChat(roomID string, msg models.ChatMessage) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm := r.rooms[roomID]
	if rm == nil {
		return false
	}
	rm.history = append(rm.history, msg)
	if over := len(rm.history) - r.historyLimit; over > 0 {
		rm.history = append([]models.ChatMessage(nil), rm.history[over:]...)
	}
	return true
}

// History returns a copy of the room's chat history
func (r *Registry) History(roomID string) []models.ChatMessage {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm := r.rooms[roomID]
	if rm == nil || len(rm.history) == 0 {
		return nil
	}
	return append([]models.ChatMessage(nil), rm.history...)
}

// Sweep removes rooms that have been empty for longer than the idle timeout
// and returns their IDs.
func (r *Registry) Sweep() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var swept []string
	for id, rm := range r.rooms {
		if len(rm.participants) > 0 {
			continue
		}
		if rm.emptySince.IsZero() {
			rm.emptySince = now
			continue
		}
		if now.Sub(rm.emptySince) > r.idleTimeout {
			delete(r.rooms, id)
			swept = append(swept, id)
		}
	}
	sort.Strings(swept)
	return swept
}

// RunSweeper calls Sweep every interval until ctx is done. onSwept, if set,
// receives the IDs of each non-empty sweep.
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration, onSwept func([]string)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if swept := r.Sweep(); len(swept) > 0 && onSwept != nil {
				onSwept(swept)
			}
		}
	}
}

func (rm *room) snapshot() Snapshot {
	members := make([]Participant, 0, len(rm.participants))
	for _, p := range rm.participants {
		members = append(members, p)
	}
	sort.Slice(members, func(i, j int) bool {
		if members[i].JoinedAt.Equal(members[j].JoinedAt) {
			return members[i].ConnID < members[j].ConnID
		}
		return members[i].JoinedAt.Before(members[j].JoinedAt)
	})
	return Snapshot{
		Room:    rm.id,
		Count:   len(rm.participants),
		Members: members,
	}
}
