// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file stores the durable copy of room messages.
package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/gossip-backend/internal/domain"
)

// CreateMessage inserts m as is; the id and timestamp come from the realtime
// fan-out so both copies agree.
func CreateMessage(ctx context.Context, db *gorm.DB, m *domain.Message) error {
	return db.WithContext(ctx).Create(m).Error
}

// CountMessages returns the number of messages stored for a room.
func CountMessages(ctx context.Context, db *gorm.DB, roomType, roomID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("room_type = ? AND room_id = ?", roomType, roomID).
		Count(&total).Error
	return total, err
}

// ListMessagesPage returns a page of a room's history, oldest first.
func ListMessagesPage(ctx context.Context, db *gorm.DB, roomType, roomID string, offset, limit int) ([]domain.Message, error) {
	var out []domain.Message
	err := db.WithContext(ctx).
		Where("room_type = ? AND room_id = ?", roomType, roomID).
		Order("created_at ASC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}
