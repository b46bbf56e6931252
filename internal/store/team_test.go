package store

import (
	"context"
	"testing"
	"time"

	"github.com/dukerupert/perkup/internal/database"
	"github.com/dukerupert/perkup/internal/model"
)

func createTestTeam(t *testing.T, ts *TeamStore, captainID int64, name, code string) *model.Team {
	t.Helper()
	team, err := ts.Create(context.Background(), &model.Team{
		CaptainID:  captainID,
		Name:       name,
		InviteCode: code,
		StartTime:  testNow,
		EndTime:    testNow.Add(3 * time.Hour),
		CreatedAt:  testNow,
	})
	if err != nil {
		t.Fatalf("create team: %v", err)
	}
	if err := ts.AddMember(context.Background(), team.ID, captainID, model.RoleCaptain, true, testNow); err != nil {
		t.Fatalf("add captain: %v", err)
	}
	return team
}

func TestTeamInviteCodeUniqueAmongActive(t *testing.T) {
	db := setupTestDB(t)
	ts := NewTeamStore(db)
	ctx := context.Background()
	a := createTestUser(t, db, "a", "1")
	b := createTestUser(t, db, "b", "2")

	first := createTestTeam(t, ts, a.ID, "alpha", "ABC123")

	_, err := ts.Create(ctx, &model.Team{CaptainID: b.ID, Name: "beta", InviteCode: "ABC123", StartTime: testNow, EndTime: testNow, CreatedAt: testNow})
	if !database.IsUniqueViolation(err) {
		t.Fatalf("duplicate active code err = %v, want unique violation", err)
	}

	// Once the first team is no longer active the code is free.
	if err := ts.SetStatus(ctx, first.ID, model.TeamExpired); err != nil {
		t.Fatalf("set status: %v", err)
	}
	if _, err := ts.Create(ctx, &model.Team{CaptainID: b.ID, Name: "beta", InviteCode: "ABC123", StartTime: testNow, EndTime: testNow, CreatedAt: testNow}); err != nil {
		t.Fatalf("reuse code: %v", err)
	}
}

func TestTeamCompleteOnce(t *testing.T) {
	db := setupTestDB(t)
	ts := NewTeamStore(db)
	ctx := context.Background()
	a := createTestUser(t, db, "a", "1")
	team := createTestTeam(t, ts, a.ID, "alpha", "ABC123")

	ok, err := ts.Complete(ctx, team.ID)
	if err != nil || !ok {
		t.Fatalf("complete = %v, %v; want true", ok, err)
	}
	ok, err = ts.Complete(ctx, team.ID)
	if err != nil {
		t.Fatalf("complete again: %v", err)
	}
	if ok {
		t.Error("second complete should report false")
	}
}

func TestTeamMembership(t *testing.T) {
	db := setupTestDB(t)
	ts := NewTeamStore(db)
	ctx := context.Background()
	a := createTestUser(t, db, "a", "1")
	b := createTestUser(t, db, "b", "2")
	team := createTestTeam(t, ts, a.ID, "alpha", "ABC123")

	if err := ts.AddMember(ctx, team.ID, b.ID, model.RoleMember, false, testNow); err != nil {
		t.Fatalf("add member: %v", err)
	}

	n, _ := ts.CountMembers(ctx, team.ID)
	if n != 2 {
		t.Errorf("members = %d, want 2", n)
	}

	members, err := ts.ListMembers(ctx, team.ID)
	if err != nil {
		t.Fatalf("list members: %v", err)
	}
	if members[0].Role != model.RoleCaptain || members[0].Username != "a" || !members[0].IsNewUser {
		t.Errorf("first member = %+v, want captain a (new)", members[0])
	}

	active, err := ts.ActiveTeamOf(ctx, b.ID, testNow.Add(time.Hour))
	if err != nil || active == nil || active.ID != team.ID {
		t.Fatalf("active team of b = %+v, %v", active, err)
	}
	after, _ := ts.ActiveTeamOf(ctx, b.ID, testNow.Add(3*time.Hour))
	if after != nil {
		t.Error("team past its end time should not count as active")
	}

	captainOf, _ := ts.LatestByMember(ctx, a.ID, model.RoleCaptain)
	if captainOf == nil || captainOf.ID != team.ID {
		t.Errorf("captain team = %+v", captainOf)
	}
	none, _ := ts.LatestByMember(ctx, b.ID, model.RoleCaptain)
	if none != nil {
		t.Error("b is not a captain")
	}

	if err := ts.RemoveMember(ctx, team.ID, b.ID); err != nil {
		t.Fatalf("remove member: %v", err)
	}
	n, _ = ts.CountMembers(ctx, team.ID)
	if n != 1 {
		t.Errorf("members after leave = %d, want 1", n)
	}
}

func TestTeamExpireOverdueAndReopen(t *testing.T) {
	db := setupTestDB(t)
	ts := NewTeamStore(db)
	ctx := context.Background()
	a := createTestUser(t, db, "a", "1")
	team := createTestTeam(t, ts, a.ID, "alpha", "ABC123")

	n, err := ts.ExpireOverdue(ctx, testNow.Add(time.Hour))
	if err != nil || n != 0 {
		t.Fatalf("early expire = %d, %v; want 0", n, err)
	}
	n, err = ts.ExpireOverdue(ctx, testNow.Add(3*time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("expire = %d, %v; want 1", n, err)
	}

	inUse, _ := ts.NameInUse(ctx, "alpha")
	if !inUse {
		t.Error("expired team name should still be in use")
	}

	later := testNow.Add(4 * time.Hour)
	if err := ts.Reopen(ctx, team.ID, "XYZ789", later, later.Add(3*time.Hour)); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, _ := ts.GetActiveByInviteCode(ctx, "XYZ789")
	if got == nil || got.ID != team.ID || got.Status != model.TeamActive {
		t.Errorf("reopened team = %+v", got)
	}

	if err := ts.Delete(ctx, team.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got, _ := ts.GetByID(ctx, team.ID); got != nil {
		t.Error("team should be deleted")
	}
}

func TestTeamRecords(t *testing.T) {
	db := setupTestDB(t)
	ts := NewTeamStore(db)
	ctx := context.Background()
	a := createTestUser(t, db, "a", "1")

	for _, st := range []model.TeamStatus{model.TeamCompleted, model.TeamExpired} {
		if err := ts.CreateRecord(ctx, &model.TeamRecord{TeamID: 1, UserID: a.ID, TeamName: "alpha", Role: model.RoleCaptain, PointsEarned: 70, Status: st, CreatedAt: testNow}); err != nil {
			t.Fatalf("create record: %v", err)
		}
	}

	records, total, err := ts.ListRecords(ctx, a.ID, model.TeamCompleted, NewPage(1, 10))
	if err != nil {
		t.Fatalf("list records: %v", err)
	}
	if total != 1 || len(records) != 1 || records[0].PointsEarned != 70 {
		t.Errorf("records = %+v total %d", records, total)
	}
}
