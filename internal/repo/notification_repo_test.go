package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tbourn/gossip-backend/internal/domain"
)


func TestNotifications_CreateListCountMarkRead(t *testing.T) {
	db := newTestDB(t, &domain.Notification{})
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

	ns := []domain.Notification{
		{ID: "n1", UserID: "u1", Kind: domain.NotificationMessage, ActorID: "u2", CreatedAt: base},
		{ID: "n2", UserID: "u1", Kind: domain.NotificationMessage, ActorID: "u2", CreatedAt: base.Add(time.Minute)},
		{ID: "n3", UserID: "u1", Kind: domain.NotificationMessage, ActorID: "u3", CreatedAt: base.Add(2 * time.Minute)},
		{ID: "n4", UserID: "u9", Kind: domain.NotificationMessage, ActorID: "u2", CreatedAt: base},
	}
	if err := CreateNotifications(ctx, db, ns); err != nil {
		t.Fatalf("CreateNotifications: %v", err)
	}
	if err := CreateNotifications(ctx, db, nil); err != nil {
		t.Fatalf("empty insert should be a no-op: %v", err)
	}

	page, err := ListNotificationsPage(ctx, db, "u1", false, 0, 2)
	if err != nil {
		t.Fatalf("ListNotificationsPage: %v", err)
	}
	if len(page) != 2 || page[0].ID != "n3" || page[1].ID != "n2" {
		t.Fatalf("expected newest first [n3 n2], got %+v", page)
	}
	if total, _ := CountNotifications(ctx, db, "u1", false); total != 3 {
		t.Fatalf("total = %d, want 3", total)
	}

	readAt := base.Add(time.Hour)
	if err := MarkNotificationRead(ctx, db, "n3", "u1", readAt); err != nil {
		t.Fatalf("MarkNotificationRead: %v", err)
	}
	if err := MarkNotificationRead(ctx, db, "n3", "u1", readAt.Add(time.Hour)); err != nil {
		t.Fatalf("second mark should be a no-op: %v", err)
	}
	var n3 domain.Notification
	_ = db.First(&n3, "id = ?", "n3").Error
	if n3.ReadAt == nil || !n3.ReadAt.Equal(readAt) {
		t.Fatalf("read_at should keep the first timestamp, got %v", n3.ReadAt)
	}

	if unread, _ := CountNotifications(ctx, db, "u1", true); unread != 2 {
		t.Fatalf("unread = %d, want 2", unread)
	}
	if page, _ := ListNotificationsPage(ctx, db, "u1", true, 0, 10); len(page) != 2 || page[0].ID != "n2" {
		t.Fatalf("unread page = %+v", page)
	}

	if err := MarkNotificationRead(ctx, db, "n4", "u1", readAt); !errors.Is(err, ErrNotFound) {
		t.Fatalf("foreign notification should be not found, got %v", err)
	}
}

func TestMessages_CreateCountPage(t *testing.T) {
	db := newTestDB(t, &domain.Message{})
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

	for i, id := range []string{"m1", "m2", "m3"} {
		m := &domain.Message{ID: id, RoomType: "conversation", RoomID: "c1", SenderID: "u1", Body: id, CreatedAt: base.Add(time.Duration(i) * time.Second)}
		if err := CreateMessage(ctx, db, m); err != nil {
			t.Fatalf("CreateMessage: %v", err)
		}
	}
	_ = CreateMessage(ctx, db, &domain.Message{ID: "x", RoomType: "group", RoomID: "c1", SenderID: "u1", Body: "x", CreatedAt: base})

	if total, _ := CountMessages(ctx, db, "conversation", "c1"); total != 3 {
		t.Fatalf("count = %d, want 3", total)
	}
	page, err := ListMessagesPage(ctx, db, "conversation", "c1", 1, 5)
	if err != nil {
		t.Fatalf("ListMessagesPage: %v", err)
	}
	if len(page) != 2 || page[0].ID != "m2" || page[1].ID != "m3" {
		t.Fatalf("page = %+v", page)
	}
}

func TestIdempotency_CreateGetDuplicatePurge(t *testing.T) {
	db := newTestDB(t, &domain.Idempotency{})
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := GetIdempotency(ctx, db, "u1", "", "k", now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("empty room should be not found, got %v", err)
	}

	rec, err := CreateIdempotency(ctx, db, "u1", "conversation:c1", "k1", "m1", 201, `{"id":"m1"}`, time.Hour)
	if err != nil {
		t.Fatalf("CreateIdempotency: %v", err)
	}
	if _, err := CreateIdempotency(ctx, db, "u1", "conversation:c1", "k1", "m2", 201, "{}", time.Hour); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	got, err := GetIdempotency(ctx, db, "u1", "conversation:c1", "k1", now)
	if err != nil || got.ID != rec.ID || got.Response != `{"id":"m1"}` {
		t.Fatalf("GetIdempotency = %+v %v", got, err)
	}
	if _, err := GetIdempotency(ctx, db, "u1", "conversation:c1", "k1", now.Add(2*time.Hour)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired record should be not found, got %v", err)
	}

	n, err := PurgeExpiredIdempotency(ctx, db, now.Add(2*time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("purge = %d %v", n, err)
	}
}
