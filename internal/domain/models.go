// Package domain defines the core persistence models for the application.
// These types are used by GORM for database schema mapping and are shared
// across the repository and service layers.
//
// The realtime layer never reads these tables directly: friendships and room
// memberships are resolved through services.Directory, and messages and
// notifications are written by services.NotificationService after the
// realtime fan-out.
package domain

import "time"

// FriendshipStatus is the lifecycle state of a friend request.
type FriendshipStatus string

const (
	FriendshipPending  FriendshipStatus = "pending"
	FriendshipAccepted FriendshipStatus = "accepted"
	FriendshipBlocked  FriendshipStatus = "blocked"
)

// Friendship links two users. Only accepted friendships make presence
// visible; the relation is symmetric once accepted.
type Friendship struct {
	ID          string           `json:"id"           gorm:"type:char(36);primaryKey"`
	RequesterID string           `json:"requester_id" gorm:"type:varchar(64);not null;uniqueIndex:ux_friend_pair,priority:1;index"`
	AddresseeID string           `json:"addressee_id" gorm:"type:varchar(64);not null;uniqueIndex:ux_friend_pair,priority:2;index"`
	Status      FriendshipStatus `json:"status"       gorm:"type:varchar(16);not null;default:'pending'"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// TableName implements the GORM tabler interface.
func (Friendship) TableName() string { return "friendships" }

// ConversationMember places a user in a direct or group conversation.
type ConversationMember struct {
	ConversationID string    `json:"conversation_id" gorm:"type:varchar(64);primaryKey"`
	UserID         string    `json:"user_id"         gorm:"type:varchar(64);primaryKey;index"`
	JoinedAt       time.Time `json:"joined_at"`
}

func (ConversationMember) TableName() string { return "conversation_members" }

// GroupMember places a user in a group.
type GroupMember struct {
	GroupID  string    `json:"group_id"  gorm:"type:varchar(64);primaryKey"`
	UserID   string    `json:"user_id"   gorm:"type:varchar(64);primaryKey;index"`
	Role     string    `json:"role"      gorm:"type:varchar(16);not null;default:'member'"`
	JoinedAt time.Time `json:"joined_at"`
}

func (GroupMember) TableName() string { return "group_members" }

// Message is the durable copy of a chat message sent to a conversation or
// group room.
type Message struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	RoomType  string    `json:"room_type"  gorm:"type:varchar(16);not null;index:idx_room_msgs,priority:1"`
	RoomID    string    `json:"room_id"    gorm:"type:varchar(64);not null;index:idx_room_msgs,priority:2"`
	SenderID  string    `json:"sender_id"  gorm:"type:varchar(64);not null"`
	Body      string    `json:"body"       gorm:"type:text;not null"`
	CreatedAt time.Time `json:"created_at" gorm:"index:idx_room_msgs,priority:3"`
}

func (Message) TableName() string { return "messages" }

// Notification kinds.
const (
	NotificationMessage = "message"
)

// Notification is a durable, per-recipient record of something the user may
// have missed while offline.
type Notification struct {
	ID        string     `json:"id"                 gorm:"type:char(36);primaryKey"`
	UserID    string     `json:"user_id"            gorm:"type:varchar(64);not null;index:idx_user_notifs,priority:1"`
	Kind      string     `json:"kind"               gorm:"type:varchar(32);not null"`
	ActorID   string     `json:"actor_id"           gorm:"type:varchar(64);not null"`
	RoomType  string     `json:"room_type"          gorm:"type:varchar(16)"`
	RoomID    string     `json:"room_id"            gorm:"type:varchar(64)"`
	MessageID string     `json:"message_id"         gorm:"type:char(36)"`
	Preview   string     `json:"preview"            gorm:"type:varchar(280)"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"         gorm:"index:idx_user_notifs,priority:2"`
}

func (Notification) TableName() string { return "notifications" }
