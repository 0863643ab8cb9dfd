package services

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/gossip-backend/internal/domain"
	"github.com/tbourn/gossip-backend/internal/realtime"
	"github.com/tbourn/gossip-backend/internal/repo"
	"github.com/tbourn/gossip-backend/internal/utils"
)

// Pusher delivers a realtime event to every live connection of a user.
type Pusher interface {
	ToUser(userID string, ev realtime.Event) int
}

// NotificationService is the durable side of room messaging: it stores each
// message, writes one notification per recipient and pushes notification:new
// to recipients that are online.
//
// It implements realtime.MessageRecorder.
type NotificationService struct {
	DB           *gorm.DB
	Directory    *Directory
	Pusher       Pusher
	Log          zerolog.Logger
	PreviewRunes int
	Now          func() time.Time
}

var _ realtime.MessageRecorder = (*NotificationService)(nil)

func (s *NotificationService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// RecordMessage persists msg and notifies every room member except the
// sender.
func (s *NotificationService) RecordMessage(ctx context.Context, msg realtime.Message) error {
	tr := otel.Tracer("services/NotificationService")
	ctx, span := tr.Start(ctx, "RecordMessage",
		trace.WithAttributes(
			attribute.String("room", msg.Room.String()),
			attribute.String("message.id", msg.ID),
		),
	)
	defer span.End()

	members, err := s.Directory.RoomMembers(ctx, msg.Room)
	if err != nil {
		return err
	}

	preview := s.preview(msg.Body)
	ns := make([]domain.Notification, 0, len(members))
	for _, uid := range members {
		if uid == msg.SenderID {
			continue
		}
		ns = append(ns, domain.Notification{
			ID:        uuid.NewString(),
			UserID:    uid,
			Kind:      domain.NotificationMessage,
			ActorID:   msg.SenderID,
			RoomType:  string(msg.Room.Type),
			RoomID:    msg.Room.ID,
			MessageID: msg.ID,
			Preview:   preview,
			CreatedAt: msg.SentAt,
		})
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.CreateMessage(ctx, tx, &domain.Message{
			ID:        msg.ID,
			RoomType:  string(msg.Room.Type),
			RoomID:    msg.Room.ID,
			SenderID:  msg.SenderID,
			Body:      msg.Body,
			CreatedAt: msg.SentAt,
		}); err != nil {
			return err
		}
		return repo.CreateNotifications(ctx, tx, ns)
	})
	if err != nil {
		return err
	}

	if s.Pusher != nil {
		for i := range ns {
			s.Pusher.ToUser(ns[i].UserID, realtime.Event{Name: realtime.EventNotificationNew, Data: ns[i]})
		}
	}
	s.Log.Debug().Str("message_id", msg.ID).Int("recipients", len(ns)).Msg("message recorded")
	return nil
}

func (s *NotificationService) preview(body string) string {
	limit := s.PreviewRunes
	if limit <= 0 {
		limit = 140
	}
	if utf8.RuneCountInString(body) <= limit {
		return body
	}
	runes := []rune(body)
	return string(runes[:limit-1]) + "…"
}

// ListPage returns a page of userID's notifications, newest first.
func (s *NotificationService) ListPage(ctx context.Context, userID string, unreadOnly bool, page, pageSize int) ([]domain.Notification, int64, error) {
	tr := otel.Tracer("services/NotificationService")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	_, pageSize, offset := utils.PageOffset(page, pageSize, 20)

	total, err := repo.CountNotifications(ctx, s.DB, userID, unreadOnly)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Notification{}, 0, nil
	}
	items, err := repo.ListNotificationsPage(ctx, s.DB, userID, unreadOnly, offset, pageSize)
	return items, total, err
}

// MarkRead marks a notification owned by userID as read.
func (s *NotificationService) MarkRead(ctx context.Context, userID, id string) error {
	err := repo.MarkNotificationRead(ctx, s.DB, id, userID, s.now().UTC())
	if errors.Is(err, repo.ErrNotFound) {
		return ErrNotificationNotFound
	}
	return err
}
