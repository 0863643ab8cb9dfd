// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for notifications.
//
// Error semantics:
//   - MarkNotificationRead returns ErrNotFound when the notification does not
//     exist or belongs to another user.
//   - On DB errors the raw gorm error is propagated.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/gossip-backend/internal/domain"
)

// CreateNotifications inserts ns in one statement. An empty slice is a no-op.
func CreateNotifications(ctx context.Context, db *gorm.DB, ns []domain.Notification) error {
	if len(ns) == 0 {
		return nil
	}
	return db.WithContext(ctx).Create(&ns).Error
}

func notificationScope(db *gorm.DB, userID string, unreadOnly bool) *gorm.DB {
	q := db.Model(&domain.Notification{}).Where("user_id = ?", userID)
	if unreadOnly {
		q = q.Where("read_at IS NULL")
	}
	return q
}

// CountNotifications returns how many notifications userID has.
func CountNotifications(ctx context.Context, db *gorm.DB, userID string, unreadOnly bool) (int64, error) {
	var total int64
	err := notificationScope(db.WithContext(ctx), userID, unreadOnly).Count(&total).Error
	return total, err
}

// ListNotificationsPage returns userID's notifications, newest first.
func ListNotificationsPage(ctx context.Context, db *gorm.DB, userID string, unreadOnly bool, offset, limit int) ([]domain.Notification, error) {
	var out []domain.Notification
	err := notificationScope(db.WithContext(ctx), userID, unreadOnly).
		Order("created_at DESC, id DESC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// MarkNotificationRead sets read_at on a notification owned by userID.
// Marking an already read notification keeps the original timestamp.
func MarkNotificationRead(ctx context.Context, db *gorm.DB, id, userID string, now time.Time) error {
	var n domain.Notification
	err := db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&n).Error
	if err != nil {
		return err
	}
	if n.ReadAt != nil {
		return nil
	}
	return db.WithContext(ctx).
		Model(&domain.Notification{}).
		Where("id = ?", id).
		Update("read_at", now).Error
}
