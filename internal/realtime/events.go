package realtime

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Inbound event names (client -> server).
const (
	EventRoomJoin    = "room:join"
	EventRoomLeave   = "room:leave"
	EventTypingStart = "typing:start"
	EventTypingStop  = "typing:stop"
	EventStatusSet   = "status:set"
	EventHeartbeat   = "heartbeat"
	EventMessageSend = "message:send"
)

// Outbound event names (server -> client).
const (
	EventSession         = "session"
	EventRoomJoined      = "room:joined"
	EventTypingUpdate    = "typing:update"
	EventPresenceUpdate  = "presence:update"
	EventMessageNew      = "message:new"
	EventNotificationNew = "notification:new"
	EventError           = "error"
)

// Event is the envelope written to a connection.
type Event struct {
	Name string `json:"event"`
	Data any    `json:"data,omitempty"`
}

// Sender is one live connection as seen by the broadcaster. Send must not
// block; it reports false when the event was dropped.
type Sender interface {
	ID() string
	Send(Event) bool
}

// RoomType distinguishes the logical room namespaces.
type RoomType string

const (
	RoomUser         RoomType = "user"
	RoomConversation RoomType = "conversation"
	RoomGroup        RoomType = "group"
)

// RoomKey addresses a broadcast room.
type RoomKey struct {
	Type RoomType `json:"type"`
	ID   string   `json:"id"`
}

// UserRoom is the private room every connection of userID joins.
func UserRoom(userID string) RoomKey { return RoomKey{Type: RoomUser, ID: userID} }

// ConversationRoom addresses a direct or group conversation.
func ConversationRoom(id string) RoomKey { return RoomKey{Type: RoomConversation, ID: id} }

// GroupRoom addresses a group.
func GroupRoom(id string) RoomKey { return RoomKey{Type: RoomGroup, ID: id} }

func (k RoomKey) String() string { return string(k.Type) + ":" + k.ID }

// Chat reports whether the room carries chat traffic (typing, messages).
func (k RoomKey) Chat() bool {
	return k.Type == RoomConversation || k.Type == RoomGroup
}

// ParseRoomKey parses "conversation:<id>" or "group:<id>".
func ParseRoomKey(s string) (RoomKey, error) {
	typ, id, ok := strings.Cut(strings.TrimSpace(s), ":")
	k := RoomKey{Type: RoomType(typ), ID: strings.TrimSpace(id)}
	if !ok || k.ID == "" || !k.Chat() {
		return RoomKey{}, fmt.Errorf("%w: %q", ErrUnknownRoom, s)
	}
	return k, nil
}

// Identity is a verified user as returned by the token verifier.
type Identity struct {
	UserID      string
	DisplayName string
}

// Message is a chat message fanned out to a room.
type Message struct {
	ID         string    `json:"id"`
	Room       RoomKey   `json:"room"`
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name,omitempty"`
	Body       string    `json:"body"`
	SentAt     time.Time `json:"sent_at"`
}

// TypingPayload is the data of a typing:update event.
type TypingPayload struct {
	RoomType RoomType `json:"room_type"`
	RoomID   string   `json:"room_id"`
	Users    []string `json:"users"`
}

// SessionPayload is sent once to a freshly connected socket.
type SessionPayload struct {
	ConnectionID string `json:"connection_id"`
	UserID       string `json:"user_id"`
	Status       Status `json:"status"`
}

// ErrorPayload is the data of an error event.
type ErrorPayload struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

var (
	// ErrInvalidStatus rejects a status outside online|away|busy.
	ErrInvalidStatus = errors.New("invalid status value")
	// ErrUnknownRoom rejects a room the caller is not a member of, or a
	// malformed room reference.
	ErrUnknownRoom = errors.New("unknown room")
	// ErrNotConnected is returned for an unknown connection or a user with no
	// live connections.
	ErrNotConnected = errors.New("not connected")
	// ErrEmptyMessage rejects a blank message body.
	ErrEmptyMessage = errors.New("empty message")
	// ErrNotVisible hides presence from users outside the friend graph.
	ErrNotVisible = errors.New("presence not visible")
)
