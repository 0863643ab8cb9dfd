// Package realtime implements presence and room messaging for connected
// clients: which users are reachable, what their status is, who is typing
// where, and how events reach every connection of a room.
//
// The Hub owns four components and is the only place where they affect each
// other:
//
//   - Registry: user -> live connections.
//   - PresenceTracker: online/away/busy/offline state machine per user.
//   - TypingTracker: per-room sets of typists with a TTL.
//   - Broadcaster: room -> subscribed connections, at-most-once fan-out.
//
// Behavior:
//   - Connect registers the socket, joins it to the user's private room and
//     marks the user online.
//   - Disconnect leaves every room. When it was the user's last connection
//     the user is removed from every typing set (each affected room is told)
//     and goes offline.
//   - Presence changes go to the user's own sessions and to accepted friends
//     only, resolved through SocialGraph.
//   - Typing and presence events are only broadcast when state changed.
//   - Connect, Disconnect and SetStatus for one user never interleave, so a
//     reconnect racing the old socket's teardown still ends online.
//   - Serve runs the presence idle sweep and the typing expiry sweep.
package realtime

import (
	"context"
	"fmt"
	"hash/maphash"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SocialGraph resolves accepted friendships.
type SocialGraph interface {
	FriendIDs(ctx context.Context, userID string) ([]string, error)
}

// MembershipLookup lists the conversation and group rooms a user belongs to.
type MembershipLookup interface {
	Rooms(ctx context.Context, userID string) ([]RoomKey, error)
}

// MembershipRefresher is implemented by lookups that cache their answers.
// The hub asks for a refresh before rejecting a room the user named.
type MembershipRefresher interface {
	Invalidate(ctx context.Context, userID string)
}

// MessageRecorder writes the durable complement of a realtime message so
// offline members still see it on their next fetch.
type MessageRecorder interface {
	RecordMessage(ctx context.Context, msg Message) error
}

// Config tunes the hub's sweeps.
type Config struct {
	IdleThreshold      time.Duration
	PresenceSweepEvery time.Duration
	TypingTTL          time.Duration
	TypingSweepEvery   time.Duration
}

// Deps are the hub's collaborators. Rooms, Recorder, Now and Logger are
// optional.
type Deps struct {
	Rooms    *Broadcaster
	Graph    SocialGraph
	Members  MembershipLookup
	Recorder MessageRecorder
	Logger   zerolog.Logger
	Now      func() time.Time
}

// Hub coordinates the realtime components.
type Hub struct {
	cfg      Config
	registry *Registry
	presence *PresenceTracker
	typing   *TypingTracker
	rooms    *Broadcaster

	graph    SocialGraph
	members  MembershipLookup
	recorder MessageRecorder
	log      zerolog.Logger
	now      func() time.Time

	mu    sync.RWMutex
	names map[string]string // userID -> display name while connected

	// lifecycle serializes connect, disconnect and status changes per user
	// so offline is only ever set while the user has no connection.
	lifecycle [lifecycleStripes]sync.Mutex
	seed      maphash.Seed
}

const lifecycleStripes = 64

func (h *Hub) lockUser(userID string) func() {
	m := &h.lifecycle[maphash.String(h.seed, userID)%lifecycleStripes]
	m.Lock()
	return m.Unlock
}

// NewHub wires a hub with fresh component instances.
func NewHub(cfg Config, deps Deps) *Hub {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	rooms := deps.Rooms
	if rooms == nil {
		rooms = NewBroadcaster()
	}
	return &Hub{
		cfg:      cfg,
		registry: NewRegistry(now),
		presence: NewPresenceTracker(cfg.IdleThreshold, now),
		typing:   NewTypingTracker(cfg.TypingTTL, now),
		rooms:    rooms,
		graph:    deps.Graph,
		members:  deps.Members,
		recorder: deps.Recorder,
		log:      deps.Logger,
		now:      now,
		names:    make(map[string]string),
		seed:     maphash.MakeSeed(),
	}
}

// Registry exposes the connection registry for read access.
func (h *Hub) Registry() *Registry { return h.registry }

// PresenceTracker exposes presence state for read access.
func (h *Hub) PresenceTracker() *PresenceTracker { return h.presence }

// Typing exposes the typing tracker for read access.
func (h *Hub) Typing() *TypingTracker { return h.typing }

// Rooms exposes the broadcaster.
func (h *Hub) Rooms() *Broadcaster { return h.rooms }

// Connect registers s for id and announces the user if it came online.
func (h *Hub) Connect(ctx context.Context, id Identity, s Sender) Connection {
	unlock := h.lockUser(id.UserID)
	defer unlock()

	first := h.registry.Register(id.UserID, s.ID())
	h.mu.Lock()
	if id.DisplayName != "" {
		h.names[id.UserID] = id.DisplayName
	}
	h.mu.Unlock()

	h.rooms.Join(UserRoom(id.UserID), s)
	st, changed := h.presence.Connected(id.UserID)
	_, conns := h.registry.Stats()
	liveConnections.Set(float64(conns))

	s.Send(Event{Name: EventSession, Data: SessionPayload{
		ConnectionID: s.ID(),
		UserID:       id.UserID,
		Status:       st.Status,
	}})
	if changed {
		h.broadcastPresence(ctx, st)
	}

	h.log.Info().
		Str("user_id", id.UserID).
		Str("conn_id", s.ID()).
		Bool("first", first).
		Msg("realtime connect")

	c, _ := h.registry.Connection(s.ID())
	return c
}

// Disconnect tears down connID. Unknown or already removed connections are
// treated as cleaned up.
func (h *Hub) Disconnect(ctx context.Context, connID string) {
	h.rooms.LeaveAll(connID)
	c, ok := h.registry.Connection(connID)
	if !ok {
		h.log.Debug().Str("conn_id", connID).Msg("disconnect for unknown connection")
		return
	}
	unlock := h.lockUser(c.UserID)
	defer unlock()

	userID, offline := h.registry.Unregister(connID)
	_, conns := h.registry.Stats()
	liveConnections.Set(float64(conns))
	if userID == "" {
		h.log.Debug().Str("conn_id", connID).Msg("disconnect for unknown connection")
		return
	}

	h.log.Info().
		Str("user_id", userID).
		Str("conn_id", connID).
		Bool("offline", offline).
		Msg("realtime disconnect")
	if !offline {
		return
	}

	for _, ch := range h.typing.RemoveUser(userID) {
		h.broadcastTyping(ch)
	}
	h.mu.Lock()
	delete(h.names, userID)
	h.mu.Unlock()
	if st, changed := h.presence.Offline(userID); changed {
		h.broadcastPresence(ctx, st)
	}
}

func (h *Hub) sender(connID string) (Sender, Connection, error) {
	c, ok := h.registry.Connection(connID)
	if !ok {
		return nil, Connection{}, ErrNotConnected
	}
	s, ok := h.rooms.Sender(connID)
	if !ok {
		return nil, Connection{}, ErrNotConnected
	}
	return s, c, nil
}

// JoinRooms subscribes connID to chat rooms. With no request it joins every
// room the user belongs to. Requested rooms must all be member rooms or
// nothing is joined. The joined rooms are echoed as room:joined.
func (h *Hub) JoinRooms(ctx context.Context, connID string, requested []RoomKey) ([]RoomKey, error) {
	s, c, err := h.sender(connID)
	if err != nil {
		return nil, err
	}
	allowed, err := h.memberRooms(ctx, c.UserID, requested...)
	if err != nil {
		return nil, err
	}

	targets := allowed
	if len(requested) > 0 {
		set := make(map[RoomKey]struct{}, len(allowed))
		for _, r := range allowed {
			set[r] = struct{}{}
		}
		for _, r := range requested {
			if _, ok := set[r]; !ok {
				return nil, fmt.Errorf("%w: %s", ErrUnknownRoom, r)
			}
		}
		targets = requested
	}

	joined := make([]RoomKey, 0, len(targets))
	for _, r := range targets {
		h.rooms.Join(r, s)
		joined = append(joined, r)
	}
	sortRooms(joined)
	s.Send(Event{Name: EventRoomJoined, Data: joined})
	return joined, nil
}

// LeaveRoom unsubscribes connID from room and clears any typing it had there
// when no other connection of the user remains in the room.
func (h *Hub) LeaveRoom(ctx context.Context, connID string, room RoomKey) error {
	_, c, err := h.sender(connID)
	if err != nil {
		return err
	}
	if !h.rooms.Leave(room, connID) {
		return fmt.Errorf("%w: %s", ErrUnknownRoom, room)
	}
	for _, other := range h.registry.Connections(c.UserID) {
		if h.rooms.InRoom(room, other) {
			return nil
		}
	}
	if ch, changed := h.typing.Stop(room, c.UserID); changed {
		h.broadcastTyping(ch)
	}
	return nil
}

// StartTyping marks the connection's user as typing in a joined chat room.
func (h *Hub) StartTyping(ctx context.Context, connID string, room RoomKey) error {
	c, err := h.joined(connID, room)
	if err != nil {
		return err
	}
	if ch, changed := h.typing.Start(room, c.UserID); changed {
		h.broadcastTyping(ch)
	}
	return nil
}

// StopTyping clears the connection's user from room's typing set.
func (h *Hub) StopTyping(ctx context.Context, connID string, room RoomKey) error {
	c, err := h.joined(connID, room)
	if err != nil {
		return err
	}
	if ch, changed := h.typing.Stop(room, c.UserID); changed {
		h.broadcastTyping(ch)
	}
	return nil
}

// memberRooms lists userID's rooms. When any of want is missing and the
// lookup caches, the answer is refreshed once before the caller rejects.
func (h *Hub) memberRooms(ctx context.Context, userID string, want ...RoomKey) ([]RoomKey, error) {
	rooms, err := h.members.Rooms(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("membership lookup: %w", err)
	}
	ref, ok := h.members.(MembershipRefresher)
	if !ok {
		return rooms, nil
	}
	for _, r := range want {
		if slices.Contains(rooms, r) {
			continue
		}
		ref.Invalidate(ctx, userID)
		if rooms, err = h.members.Rooms(ctx, userID); err != nil {
			return nil, fmt.Errorf("membership lookup: %w", err)
		}
		break
	}
	return rooms, nil
}

func (h *Hub) joined(connID string, room RoomKey) (Connection, error) {
	c, ok := h.registry.Connection(connID)
	if !ok {
		return Connection{}, ErrNotConnected
	}
	if !room.Chat() || !h.rooms.InRoom(room, connID) {
		return Connection{}, fmt.Errorf("%w: %s", ErrUnknownRoom, room)
	}
	return c, nil
}

// SetStatus applies an explicit status request from userID.
func (h *Hub) SetStatus(ctx context.Context, userID, raw string) (PresenceState, error) {
	unlock := h.lockUser(userID)
	defer unlock()

	if !h.registry.IsReachable(userID) {
		return PresenceState{}, ErrNotConnected
	}
	st, changed, err := h.presence.SetStatus(userID, raw)
	if err != nil {
		return PresenceState{}, err
	}
	if changed {
		h.broadcastPresence(ctx, st)
	}
	return st, nil
}

// Heartbeat records activity for the connection's user.
func (h *Hub) Heartbeat(ctx context.Context, connID string) error {
	c, ok := h.registry.Connection(connID)
	if !ok {
		return ErrNotConnected
	}
	if st, changed := h.presence.Touch(c.UserID); changed {
		h.broadcastPresence(ctx, st)
	}
	return nil
}

// Presence returns userID's presence as visible to viewerID: themselves or
// an accepted friend.
func (h *Hub) Presence(ctx context.Context, viewerID, userID string) (PresenceState, error) {
	if viewerID != userID {
		if h.graph == nil {
			return PresenceState{}, ErrNotVisible
		}
		friends, err := h.graph.FriendIDs(ctx, viewerID)
		if err != nil {
			return PresenceState{}, fmt.Errorf("friend lookup: %w", err)
		}
		if !slices.Contains(friends, userID) {
			return PresenceState{}, ErrNotVisible
		}
	}
	return h.presence.Get(userID), nil
}

// SendMessage fans body out to room as message:new on behalf of sender and
// hands it to the recorder for durable delivery. The sender must be a member
// of room. Sending clears the sender's typing indicator there.
func (h *Hub) SendMessage(ctx context.Context, sender Identity, room RoomKey, body string) (Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return Message{}, ErrEmptyMessage
	}
	if !room.Chat() {
		return Message{}, fmt.Errorf("%w: %s", ErrUnknownRoom, room)
	}
	rooms, err := h.memberRooms(ctx, sender.UserID, room)
	if err != nil {
		return Message{}, err
	}
	if !slices.Contains(rooms, room) {
		return Message{}, fmt.Errorf("%w: %s", ErrUnknownRoom, room)
	}

	name := sender.DisplayName
	if name == "" {
		h.mu.RLock()
		name = h.names[sender.UserID]
		h.mu.RUnlock()
	}
	msg := Message{
		ID:         uuid.NewString(),
		Room:       room,
		SenderID:   sender.UserID,
		SenderName: name,
		Body:       body,
		SentAt:     h.now().UTC(),
	}

	h.rooms.ToRoom(room, Event{Name: EventMessageNew, Data: msg})
	if ch, changed := h.typing.Stop(room, sender.UserID); changed {
		h.broadcastTyping(ch)
	}
	if st, changed := h.presence.Touch(sender.UserID); changed {
		h.broadcastPresence(ctx, st)
	}

	if h.recorder != nil {
		if err := h.recorder.RecordMessage(ctx, msg); err != nil {
			h.log.Warn().Err(err).Str("message_id", msg.ID).Str("room", room.String()).Msg("record message failed")
		}
	}
	return msg, nil
}

// PushToUser delivers ev to every connection of userID.
func (h *Hub) PushToUser(userID string, ev Event) int {
	return h.rooms.ToUser(userID, ev)
}

func (h *Hub) broadcastTyping(ch TypingChange) {
	h.rooms.ToRoom(ch.Room, Event{Name: EventTypingUpdate, Data: TypingPayload{
		RoomType: ch.Room.Type,
		RoomID:   ch.Room.ID,
		Users:    ch.Users,
	}})
}

func (h *Hub) broadcastPresence(ctx context.Context, st PresenceState) {
	presenceTransitions.WithLabelValues(string(st.Status)).Inc()
	ev := Event{Name: EventPresenceUpdate, Data: st}
	h.rooms.ToUser(st.UserID, ev)

	if h.graph == nil {
		return
	}
	friends, err := h.graph.FriendIDs(ctx, st.UserID)
	if err != nil {
		h.log.Warn().Err(err).Str("user_id", st.UserID).Msg("friend lookup failed, presence sent to self only")
		return
	}
	for _, f := range friends {
		if f != st.UserID {
			h.rooms.ToUser(f, ev)
		}
	}
}

// SweepPresence runs one idle sweep.
func (h *Hub) SweepPresence(ctx context.Context) int {
	changed := h.presence.Sweep()
	presenceSweeps.Inc()
	for _, st := range changed {
		h.broadcastPresence(ctx, st)
	}
	h.log.Debug().Int("tracked", h.presence.Len()).Int("went_away", len(changed)).Msg("presence sweep")
	return len(changed)
}

// SweepTyping runs one typing expiry sweep.
func (h *Hub) SweepTyping() int {
	changes := h.typing.Sweep()
	for _, ch := range changes {
		typingExpired.Inc()
		h.broadcastTyping(ch)
	}
	if len(changes) > 0 {
		h.log.Debug().Int("rooms", len(changes)).Msg("typing sweep expired entries")
	}
	return len(changes)
}

// Serve runs the periodic sweeps until ctx ends.
func (h *Hub) Serve(ctx context.Context) error {
	presenceEvery := h.cfg.PresenceSweepEvery
	if presenceEvery <= 0 {
		presenceEvery = time.Minute
	}
	typingEvery := h.cfg.TypingSweepEvery
	if typingEvery <= 0 {
		typingEvery = 2 * time.Second
	}
	pt := time.NewTicker(presenceEvery)
	defer pt.Stop()
	tt := time.NewTicker(typingEvery)
	defer tt.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-pt.C:
			h.SweepPresence(ctx)
		case <-tt.C:
			h.SweepTyping()
		}
	}
}

func (h *Hub) String() string { return "realtime-hub" }
