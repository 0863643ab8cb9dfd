package services

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/gossip-backend/internal/breaker"
	"github.com/tbourn/gossip-backend/internal/cache"
	"github.com/tbourn/gossip-backend/internal/realtime"
	"github.com/tbourn/gossip-backend/internal/repo"
)

// BreakerDirectoryDB guards the directory's database reads.
const BreakerDirectoryDB = "directory-db"

// Directory answers "who are my friends" and "which rooms am I in" for the
// realtime hub. Answers are cached for TTL; the database is consulted through
// a circuit breaker.
//
// Directory implements realtime.SocialGraph, realtime.MembershipLookup and
// realtime.MembershipRefresher.
type Directory struct {
	DB       *gorm.DB
	Cache    *cache.Cache
	Breakers *breaker.Gate
	TTL      time.Duration
}

// NewDirectory wires a Directory. A zero ttl disables caching.
func NewDirectory(db *gorm.DB, c *cache.Cache, g *breaker.Gate, ttl time.Duration) *Directory {
	return &Directory{DB: db, Cache: c, Breakers: g, TTL: ttl}
}

var (
	_ realtime.SocialGraph         = (*Directory)(nil)
	_ realtime.MembershipLookup    = (*Directory)(nil)
	_ realtime.MembershipRefresher = (*Directory)(nil)
)

// FriendIDs returns userID's accepted friends.
func (d *Directory) FriendIDs(ctx context.Context, userID string) ([]string, error) {
	tr := otel.Tracer("services/Directory")
	ctx, span := tr.Start(ctx, "FriendIDs", trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	return cached(ctx, d, "friends:"+userID, func(ctx context.Context) ([]string, error) {
		return repo.AcceptedFriendIDs(ctx, d.DB, userID)
	})
}

// Rooms returns every conversation and group room userID belongs to.
func (d *Directory) Rooms(ctx context.Context, userID string) ([]realtime.RoomKey, error) {
	tr := otel.Tracer("services/Directory")
	ctx, span := tr.Start(ctx, "Rooms", trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	return cached(ctx, d, "rooms:"+userID, func(ctx context.Context) ([]realtime.RoomKey, error) {
		convs, err := repo.ConversationIDsForUser(ctx, d.DB, userID)
		if err != nil {
			return nil, err
		}
		groups, err := repo.GroupIDsForUser(ctx, d.DB, userID)
		if err != nil {
			return nil, err
		}
		out := make([]realtime.RoomKey, 0, len(convs)+len(groups))
		for _, id := range convs {
			out = append(out, realtime.ConversationRoom(id))
		}
		for _, id := range groups {
			out = append(out, realtime.GroupRoom(id))
		}
		return out, nil
	})
}

// RoomMembers returns the user ids in a conversation or group room.
func (d *Directory) RoomMembers(ctx context.Context, room realtime.RoomKey) ([]string, error) {
	return cached(ctx, d, "members:"+room.String(), func(ctx context.Context) ([]string, error) {
		switch room.Type {
		case realtime.RoomConversation:
			return repo.ConversationMemberIDs(ctx, d.DB, room.ID)
		case realtime.RoomGroup:
			return repo.GroupMemberIDs(ctx, d.DB, room.ID)
		default:
			return nil, fmt.Errorf("%w: %s", realtime.ErrUnknownRoom, room)
		}
	})
}

// IsMember reports whether userID belongs to room. A negative cached answer
// is re-checked against the database once, so a user added to a room can
// use it right away.
func (d *Directory) IsMember(ctx context.Context, userID string, room realtime.RoomKey) (bool, error) {
	rooms, err := d.Rooms(ctx, userID)
	if err != nil {
		return false, err
	}
	if slices.Contains(rooms, room) || d.Cache == nil || d.TTL <= 0 {
		return slices.Contains(rooms, room), nil
	}
	d.Invalidate(ctx, userID)
	if rooms, err = d.Rooms(ctx, userID); err != nil {
		return false, err
	}
	return slices.Contains(rooms, room), nil
}

// Invalidate drops cached answers for userID after a friendship or
// membership change. The realtime hub calls it when a user names a room the
// cached membership does not list.
//
// The local copy always goes. The Redis copy is skipped while the cache-del
// breaker is open, so other processes may serve the old answer for up to TTL.
func (d *Directory) Invalidate(ctx context.Context, userID string) {
	if d.Cache == nil {
		return
	}
	_ = d.Cache.Delete(ctx, "friends:"+userID)
	_ = d.Cache.Delete(ctx, "rooms:"+userID)
}

func cached[T any](ctx context.Context, d *Directory, key string, load func(context.Context) (T, error)) (T, error) {
	var out T
	if d.Cache != nil && d.TTL > 0 {
		if ok, err := d.Cache.Get(ctx, key, &out); err == nil && ok {
			return out, nil
		}
	}

	var err error
	if d.Breakers != nil {
		out, err = breaker.Do(ctx, d.Breakers, BreakerDirectoryDB, load, nil)
	} else {
		out, err = load(ctx)
	}
	if err != nil {
		return out, err
	}

	if d.Cache != nil && d.TTL > 0 {
		_ = d.Cache.Set(ctx, key, out, d.TTL)
	}
	return out, nil
}
