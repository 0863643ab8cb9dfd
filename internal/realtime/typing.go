package realtime

import (
	"sort"
	"sync"
	"time"
)

// TypingChange is a room's typing set after a mutation.
type TypingChange struct {
	Room  RoomKey
	Users []string
}

// TypingTracker owns the per-room sets of users currently typing. Entries
// expire after the TTL unless refreshed by another start; empty sets are
// pruned.
//
// This type is safe for concurrent use.
type TypingTracker struct {
	mu    sync.Mutex
	rooms map[RoomKey]map[string]time.Time // user -> expiry
	ttl   time.Duration
	now   func() time.Time
}

// NewTypingTracker returns a tracker with the given entry TTL.
func NewTypingTracker(ttl time.Duration, now func() time.Time) *TypingTracker {
	if now == nil {
		now = time.Now
	}
	return &TypingTracker{
		rooms: make(map[RoomKey]map[string]time.Time),
		ttl:   ttl,
		now:   now,
	}
}

// Start marks userID as typing in room. A repeated start only refreshes the
// expiry and reports no change.
func (t *TypingTracker) Start(room RoomKey, userID string) (TypingChange, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	set, ok := t.rooms[room]
	if !ok {
		set = make(map[string]time.Time)
		t.rooms[room] = set
	}
	_, existed := set[userID]
	set[userID] = t.now().Add(t.ttl)
	return TypingChange{Room: room, Users: sortedUsers(set)}, !existed
}

// Stop clears userID in room. Absent users are a no-op with no change.
func (t *TypingTracker) Stop(room RoomKey, userID string) (TypingChange, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	set, ok := t.rooms[room]
	if !ok {
		return TypingChange{Room: room, Users: []string{}}, false
	}
	if _, ok := set[userID]; !ok {
		return TypingChange{Room: room, Users: sortedUsers(set)}, false
	}
	delete(set, userID)
	return TypingChange{Room: room, Users: t.pruneLocked(room, set)}, true
}

// RemoveUser clears userID from every room and returns each affected room's
// updated set.
func (t *TypingTracker) RemoveUser(userID string) []TypingChange {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []TypingChange
	for room, set := range t.rooms {
		if _, ok := set[userID]; !ok {
			continue
		}
		delete(set, userID)
		out = append(out, TypingChange{Room: room, Users: t.pruneLocked(room, set)})
	}
	sortChanges(out)
	return out
}

// Sweep drops expired entries and returns each affected room's updated set.
func (t *TypingTracker) Sweep() []TypingChange {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	var out []TypingChange
	for room, set := range t.rooms {
		changed := false
		for user, exp := range set {
			if !now.Before(exp) {
				delete(set, user)
				changed = true
			}
		}
		if changed {
			out = append(out, TypingChange{Room: room, Users: t.pruneLocked(room, set)})
		}
	}
	sortChanges(out)
	return out
}

// Members lists the users typing in room, sorted.
func (t *TypingTracker) Members(room RoomKey) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return sortedUsers(t.rooms[room])
}

// Rooms reports how many rooms have at least one typist.
func (t *TypingTracker) Rooms() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.rooms)
}

func (t *TypingTracker) pruneLocked(room RoomKey, set map[string]time.Time) []string {
	if len(set) == 0 {
		delete(t.rooms, room)
		return []string{}
	}
	return sortedUsers(set)
}

func sortedUsers(set map[string]time.Time) []string {
	out := make([]string, 0, len(set))
	for u := range set {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

func sortChanges(cs []TypingChange) {
	sort.Slice(cs, func(i, j int) bool { return cs[i].Room.String() < cs[j].Room.String() })
}
