package repo

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/tbourn/gossip-backend/internal/domain"
)

func TestAcceptedFriendIDs_BothDirectionsOnlyAccepted(t *testing.T) {
	db := newTestDB(t, &domain.Friendship{})
	ctx := context.Background()

	mustFriend := func(a, b string, st domain.FriendshipStatus) {
		t.Helper()
		if _, err := CreateFriendship(ctx, db, a, b, st); err != nil {
			t.Fatalf("CreateFriendship(%s,%s): %v", a, b, err)
		}
	}
	mustFriend("alice", "bob", domain.FriendshipAccepted)
	mustFriend("carol", "alice", domain.FriendshipAccepted)
	mustFriend("alice", "dave", domain.FriendshipPending)
	mustFriend("erin", "alice", domain.FriendshipBlocked)

	got, err := AcceptedFriendIDs(ctx, db, "alice")
	if err != nil {
		t.Fatalf("AcceptedFriendIDs: %v", err)
	}
	if want := []string{"bob", "carol"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("friends = %v, want %v", got, want)
	}

	got, _ = AcceptedFriendIDs(ctx, db, "bob")
	if !reflect.DeepEqual(got, []string{"alice"}) {
		t.Fatalf("friendship should be symmetric, got %v", got)
	}
}

func TestCreateFriendship_DuplicateAndSelf(t *testing.T) {
	db := newTestDB(t, &domain.Friendship{})
	ctx := context.Background()

	if _, err := CreateFriendship(ctx, db, "a", "b", domain.FriendshipPending); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := CreateFriendship(ctx, db, "a", "b", domain.FriendshipAccepted); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if _, err := CreateFriendship(ctx, db, "a", "a", domain.FriendshipAccepted); err == nil {
		t.Fatalf("self friendship should be rejected")
	}
}

func TestAcceptedFriendIDs_Error_NoTable(t *testing.T) {
	db := newTestDB(t)
	if _, err := AcceptedFriendIDs(context.Background(), db, "a"); err == nil {
		t.Fatalf("expected error without table")
	}
}

func TestMembershipQueries(t *testing.T) {
	db := newTestDB(t, &domain.ConversationMember{}, &domain.GroupMember{})
	ctx := context.Background()

	for _, m := range [][2]string{{"c2", "u1"}, {"c1", "u1"}, {"c1", "u2"}} {
		if err := AddConversationMember(ctx, db, m[0], m[1]); err != nil {
			t.Fatalf("AddConversationMember: %v", err)
		}
	}
	if err := AddConversationMember(ctx, db, "c1", "u1"); err != nil {
		t.Fatalf("re-adding a member should be a no-op, got %v", err)
	}
	if err := AddGroupMember(ctx, db, "g1", "u1", ""); err != nil {
		t.Fatalf("AddGroupMember: %v", err)
	}
	if err := AddGroupMember(ctx, db, "g1", "u3", "admin"); err != nil {
		t.Fatalf("AddGroupMember: %v", err)
	}

	if got, _ := ConversationIDsForUser(ctx, db, "u1"); !reflect.DeepEqual(got, []string{"c1", "c2"}) {
		t.Fatalf("conversations for u1 = %v", got)
	}
	if got, _ := ConversationMemberIDs(ctx, db, "c1"); !reflect.DeepEqual(got, []string{"u1", "u2"}) {
		t.Fatalf("members of c1 = %v", got)
	}
	if got, _ := GroupIDsForUser(ctx, db, "u3"); !reflect.DeepEqual(got, []string{"g1"}) {
		t.Fatalf("groups for u3 = %v", got)
	}
	if got, _ := GroupMemberIDs(ctx, db, "g1"); !reflect.DeepEqual(got, []string{"u1", "u3"}) {
		t.Fatalf("members of g1 = %v", got)
	}
	if got, _ := GroupIDsForUser(ctx, db, "nobody"); len(got) != 0 {
		t.Fatalf("unknown user should have no groups, got %v", got)
	}
}
