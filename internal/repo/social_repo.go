// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the social graph and room membership
// queries the realtime layer depends on.
//
// Functions:
//
//   - AcceptedFriendIDs(ctx, db, userID) -> []string, error
//     Returns the other side of every accepted friendship, in either
//     direction, sorted.
//
//   - ConversationIDsForUser / GroupIDsForUser(ctx, db, userID)
//     Return the conversation or group ids the user is a member of.
//
//   - ConversationMemberIDs / GroupMemberIDs(ctx, db, id)
//     Return the user ids of a conversation or group.
package repo

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/gossip-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateFriendship records a friend request from requesterID to addresseeID
// with the given status.
func CreateFriendship(ctx context.Context, db *gorm.DB, requesterID, addresseeID string, status domain.FriendshipStatus) (*domain.Friendship, error) {
	if requesterID == addresseeID {
		return nil, errors.New("cannot befriend yourself")
	}
	now := time.Now().UTC()
	f := &domain.Friendship{
		ID:          uuid.NewString(),
		RequesterID: requesterID,
		AddresseeID: addresseeID,
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := db.WithContext(ctx).Create(f).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return f, nil
}

// AcceptedFriendIDs returns the ids of userID's accepted friends.
func AcceptedFriendIDs(ctx context.Context, db *gorm.DB, userID string) ([]string, error) {
	var rows []domain.Friendship
	err := db.WithContext(ctx).
		Where("status = ? AND (requester_id = ? OR addressee_id = ?)", domain.FriendshipAccepted, userID, userID).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(rows))
	out := make([]string, 0, len(rows))
	for _, f := range rows {
		other := f.AddresseeID
		if other == userID {
			other = f.RequesterID
		}
		if _, dup := seen[other]; dup {
			continue
		}
		seen[other] = struct{}{}
		out = append(out, other)
	}
	sort.Strings(out)
	return out, nil
}

// AddConversationMember adds userID to a conversation. Adding an existing
// member is a no-op.
func AddConversationMember(ctx context.Context, db *gorm.DB, conversationID, userID string) error {
	m := &domain.ConversationMember{ConversationID: conversationID, UserID: userID, JoinedAt: time.Now().UTC()}
	err := db.WithContext(ctx).Create(m).Error
	if isUniqueViolation(err) {
		return nil
	}
	return err
}

// AddGroupMember adds userID to a group with role. Adding an existing member
// is a no-op.
func AddGroupMember(ctx context.Context, db *gorm.DB, groupID, userID, role string) error {
	if role == "" {
		role = "member"
	}
	m := &domain.GroupMember{GroupID: groupID, UserID: userID, Role: role, JoinedAt: time.Now().UTC()}
	err := db.WithContext(ctx).Create(m).Error
	if isUniqueViolation(err) {
		return nil
	}
	return err
}

// ConversationIDsForUser lists the conversations userID belongs to.
func ConversationIDsForUser(ctx context.Context, db *gorm.DB, userID string) ([]string, error) {
	var ids []string
	err := db.WithContext(ctx).
		Model(&domain.ConversationMember{}).
		Where("user_id = ?", userID).
		Order("conversation_id ASC").
		Pluck("conversation_id", &ids).Error
	return ids, err
}

// GroupIDsForUser lists the groups userID belongs to.
func GroupIDsForUser(ctx context.Context, db *gorm.DB, userID string) ([]string, error) {
	var ids []string
	err := db.WithContext(ctx).
		Model(&domain.GroupMember{}).
		Where("user_id = ?", userID).
		Order("group_id ASC").
		Pluck("group_id", &ids).Error
	return ids, err
}

// ConversationMemberIDs lists the members of a conversation.
func ConversationMemberIDs(ctx context.Context, db *gorm.DB, conversationID string) ([]string, error) {
	var ids []string
	err := db.WithContext(ctx).
		Model(&domain.ConversationMember{}).
		Where("conversation_id = ?", conversationID).
		Order("user_id ASC").
		Pluck("user_id", &ids).Error
	return ids, err
}

// GroupMemberIDs lists the members of a group.
func GroupMemberIDs(ctx context.Context, db *gorm.DB, groupID string) ([]string, error) {
	var ids []string
	err := db.WithContext(ctx).
		Model(&domain.GroupMember{}).
		Where("group_id = ?", groupID).
		Order("user_id ASC").
		Pluck("user_id", &ids).Error
	return ids, err
}
