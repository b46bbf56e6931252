package store

import (
	"context"
	"testing"
)

func TestUserCreateAndGet(t *testing.T) {
	db := setupTestDB(t)
	us := NewUserStore(db)
	ctx := context.Background()

	u, err := us.Create(ctx, "alice", "13800000001", "hash", testNow)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if u.Username != "alice" {
		t.Errorf("username = %q, want %q", u.Username, "alice")
	}
	if !u.IsNewUser {
		t.Error("new users should start with is_new_user set")
	}
	if !u.CreatedAt.Equal(testNow) {
		t.Errorf("created_at = %v, want %v", u.CreatedAt, testNow)
	}

	got, err := us.GetByPhone(ctx, "13800000001")
	if err != nil {
		t.Fatalf("get by phone: %v", err)
	}
	if got == nil || got.ID != u.ID {
		t.Fatalf("get by phone = %+v, want id %d", got, u.ID)
	}

	missing, err := us.GetByPhone(ctx, "nope")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if missing != nil {
		t.Error("expected nil for unknown phone")
	}
}

func TestUserClearNewUser(t *testing.T) {
	db := setupTestDB(t)
	us := NewUserStore(db)
	ctx := context.Background()
	u := createTestUser(t, db, "bob", "13800000002")

	if err := us.ClearNewUser(ctx, u.ID, testNow); err != nil {
		t.Fatalf("clear new user: %v", err)
	}
	got, _ := us.GetByID(ctx, u.ID)
	if got.IsNewUser {
		t.Error("is_new_user should be false")
	}

	// Second call is a no-op.
	if err := us.ClearNewUser(ctx, u.ID, testNow); err != nil {
		t.Fatalf("clear new user again: %v", err)
	}
}

func TestUserListIDs(t *testing.T) {
	db := setupTestDB(t)
	a := createTestUser(t, db, "a", "1")
	b := createTestUser(t, db, "b", "2")

	ids, err := NewUserStore(db).ListIDs(context.Background())
	if err != nil {
		t.Fatalf("list ids: %v", err)
	}
	if len(ids) != 2 || ids[0] != a.ID || ids[1] != b.ID {
		t.Errorf("ids = %v, want [%d %d]", ids, a.ID, b.ID)
	}
}
