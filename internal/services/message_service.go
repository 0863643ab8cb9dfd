package services

import (
	"context"
	"errors"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/goccy/go-json"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/gossip-backend/internal/domain"
	"github.com/tbourn/gossip-backend/internal/realtime"
	"github.com/tbourn/gossip-backend/internal/repo"
	"github.com/tbourn/gossip-backend/internal/utils"
)

// MessageSender fans a message out in realtime. *realtime.Hub satisfies it.
type MessageSender interface {
	SendMessage(ctx context.Context, sender realtime.Identity, room realtime.RoomKey, body string) (realtime.Message, error)
}

// Posted is the result of a REST message post.
type Posted struct {
	Status   int
	Body     []byte // JSON response body
	Replayed bool
}

// MessageService backs the REST message endpoints: posting through the hub
// with optional idempotent replay, and paginated room history.
type MessageService struct {
	DB             *gorm.DB
	Sender         MessageSender
	Directory      *Directory
	MaxBodyRunes   int
	IdempotencyTTL time.Duration
}

// Post sends body to room on behalf of id. When idemKey is set and a
// previous post with the same key succeeded, the stored response is
// returned and nothing is sent again.
func (s *MessageService) Post(ctx context.Context, id realtime.Identity, room realtime.RoomKey, body, idemKey string) (Posted, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "Post",
		trace.WithAttributes(
			attribute.String("room", room.String()),
			attribute.Bool("idempotent", idemKey != ""),
		),
	)
	defer span.End()

	if idemKey != "" {
		rec, err := repo.GetIdempotency(ctx, s.DB, id.UserID, room.String(), idemKey, time.Now().UTC())
		if err == nil {
			return Posted{Status: rec.Status, Body: []byte(rec.Response), Replayed: true}, nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return Posted{}, err
		}
	}

	if s.MaxBodyRunes > 0 && utf8.RuneCountInString(body) > s.MaxBodyRunes {
		return Posted{}, ErrTooLong
	}
	msg, err := s.Sender.SendMessage(ctx, id, room, body)
	if err != nil {
		return Posted{}, err
	}
	out, err := json.Marshal(msg)
	if err != nil {
		return Posted{}, err
	}
	if idemKey != "" {
		ttl := s.IdempotencyTTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		_, err := repo.CreateIdempotency(ctx, s.DB, id.UserID, room.String(), idemKey, msg.ID, http.StatusCreated, string(out), ttl)
		if err != nil && !errors.Is(err, repo.ErrDuplicate) {
			span.RecordError(err)
		}
	}
	return Posted{Status: http.StatusCreated, Body: out}, nil
}

// HistoryPage returns a page of room history for a member of room.
func (s *MessageService) HistoryPage(ctx context.Context, userID string, room realtime.RoomKey, page, pageSize int) ([]domain.Message, int64, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "HistoryPage",
		trace.WithAttributes(
			attribute.String("room", room.String()),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	ok, err := s.Directory.IsMember(ctx, userID, room)
	if err != nil {
		return nil, 0, err
	}
	if !ok {
		return nil, 0, ErrNotMember
	}

	_, pageSize, offset := utils.PageOffset(page, pageSize, 50)

	total, err := repo.CountMessages(ctx, s.DB, string(room.Type), room.ID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Message{}, 0, nil
	}
	items, err := repo.ListMessagesPage(ctx, s.DB, string(room.Type), room.ID, offset, pageSize)
	return items, total, err
}
