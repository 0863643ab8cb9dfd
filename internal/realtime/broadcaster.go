package realtime

import (
	"sort"
	"sync"
)

type member struct {
	sender Sender
	rooms  map[RoomKey]struct{}
}

// Broadcaster resolves rooms to live connections and enqueues events on
// them. Delivery is at-most-once: a connection whose send buffer is full
// misses the event, and offline users are not queued for.
//
// This type is safe for concurrent use.
type Broadcaster struct {
	mu      sync.RWMutex
	rooms   map[RoomKey]map[string]Sender
	members map[string]*member
}

// NewBroadcaster returns an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		rooms:   make(map[RoomKey]map[string]Sender),
		members: make(map[string]*member),
	}
}

// Join subscribes s to room. It reports whether s was newly added.
func (b *Broadcaster) Join(room RoomKey, s Sender) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := s.ID()
	m, ok := b.members[id]
	if !ok {
		m = &member{sender: s, rooms: make(map[RoomKey]struct{})}
		b.members[id] = m
	}
	if _, in := m.rooms[room]; in {
		return false
	}
	m.rooms[room] = struct{}{}
	set, ok := b.rooms[room]
	if !ok {
		set = make(map[string]Sender)
		b.rooms[room] = set
	}
	set[id] = s
	return true
}

// Leave unsubscribes connID from room. It reports whether it was subscribed.
func (b *Broadcaster) Leave(room RoomKey, connID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.members[connID]
	if !ok {
		return false
	}
	if _, in := m.rooms[room]; !in {
		return false
	}
	delete(m.rooms, room)
	b.dropLocked(room, connID)
	return true
}

// LeaveAll unsubscribes connID from every room and forgets it. It returns
// the rooms it left.
func (b *Broadcaster) LeaveAll(connID string) []RoomKey {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.members[connID]
	if !ok {
		return nil
	}
	out := make([]RoomKey, 0, len(m.rooms))
	for room := range m.rooms {
		b.dropLocked(room, connID)
		out = append(out, room)
	}
	delete(b.members, connID)
	sortRooms(out)
	return out
}

func (b *Broadcaster) dropLocked(room RoomKey, connID string) {
	set := b.rooms[room]
	delete(set, connID)
	if len(set) == 0 {
		delete(b.rooms, room)
	}
}

// Sender returns the connection registered under connID.
func (b *Broadcaster) Sender(connID string) (Sender, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	m, ok := b.members[connID]
	if !ok {
		return nil, false
	}
	return m.sender, true
}

// InRoom reports whether connID is subscribed to room.
func (b *Broadcaster) InRoom(room RoomKey, connID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	m, ok := b.members[connID]
	if !ok {
		return false
	}
	_, in := m.rooms[room]
	return in
}

// Rooms lists connID's subscriptions, sorted.
func (b *Broadcaster) Rooms(connID string) []RoomKey {
	b.mu.RLock()
	defer b.mu.RUnlock()
	m, ok := b.members[connID]
	if !ok {
		return nil
	}
	out := make([]RoomKey, 0, len(m.rooms))
	for room := range m.rooms {
		out = append(out, room)
	}
	sortRooms(out)
	return out
}

// ToRoom enqueues ev on every connection in room and returns how many
// accepted it.
func (b *Broadcaster) ToRoom(room RoomKey, ev Event) int {
	b.mu.RLock()
	targets := make([]Sender, 0, len(b.rooms[room]))
	for _, s := range b.rooms[room] {
		targets = append(targets, s)
	}
	b.mu.RUnlock()

	delivered := 0
	for _, s := range targets {
		if s.Send(ev) {
			delivered++
		} else {
			droppedEvents.Inc()
		}
	}
	return delivered
}

// ToUser delivers to every connection of userID.
func (b *Broadcaster) ToUser(userID string, ev Event) int {
	return b.ToRoom(UserRoom(userID), ev)
}

// ToConversation delivers to every connection joined to the conversation.
func (b *Broadcaster) ToConversation(conversationID string, ev Event) int {
	return b.ToRoom(ConversationRoom(conversationID), ev)
}

// ToGroup delivers to every connection joined to the group.
func (b *Broadcaster) ToGroup(groupID string, ev Event) int {
	return b.ToRoom(GroupRoom(groupID), ev)
}

func sortRooms(rs []RoomKey) {
	sort.Slice(rs, func(i, j int) bool { return rs[i].String() < rs[j].String() })
}
