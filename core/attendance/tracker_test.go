package attendance_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/edutracker/core/attendance"
	"github.com/trezcool/edutracker/storage/inmem"
	"github.com/trezcool/edutracker/tests"
)

var ctx = context.Background()

func TestTracker_scenarioA(t *testing.T) {
	clock := testutil.NewClock(1000)
	tracker := testutil.NewTracker(t, testutil.WithClock(clock))

	grp, _ := tracker.AddGroup(ctx, "Team A")
	alice, _ := tracker.AddStudent(ctx, "Alice", grp.ID)

	if _, err := tracker.ClockIn(ctx, alice.ID); err != nil {
		t.Fatalf("ClockIn() failed: %v", err)
	}
	clock.Set(4_600_000)
	res, err := tracker.ClockOut(ctx, alice.ID)
	if err != nil {
		t.Fatalf("ClockOut() failed: %v", err)
	}
	want := attendance.ClockOutResult{StudentID: alice.ID, StudentName: "Alice", DurationMs: 4_599_000}
	if res != want {
		t.Errorf("ClockOut() = %+v; want %+v", res, want)
	}

	stats := tracker.AggregatedStats()
	if len(stats) != 1 {
		t.Fatalf("AggregatedStats() returned %d entries; want 1", len(stats))
	}
	got := stats[0]
	if got.StudentName != "Alice" || got.TotalDurationMs != 4_599_000 || got.SessionCount != 1 || got.TeamNumber != "Team A" {
		t.Errorf("AggregatedStats()[0] = %+v", got)
	}
}

func TestTracker_ClockIn(t *testing.T) {
	tracker := testutil.NewTracker(t)
	grp, _ := tracker.AddGroup(ctx, "Team A")
	alice, _ := tracker.AddStudent(ctx, "Alice", grp.ID)
	ghost, _ := tracker.AddStudent(ctx, "Ghost", "missing-group")

	tests := []struct {
		name      string
		studentID string
		wantErr   error
	}{
		{name: "first clock-in", studentID: alice.ID},
		{name: "already active", studentID: alice.ID, wantErr: attendance.ErrAlreadyActive},
		{name: "unknown student", studentID: "nope", wantErr: attendance.ErrInvalidReference},
		{name: "dangling group", studentID: ghost.ID, wantErr: attendance.ErrInvalidReference},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess, err := tracker.ClockIn(ctx, tt.studentID)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ClockIn() error = %v; want %v", err, tt.wantErr)
			}
			if err == nil && (sess.TeamNumber != grp.Name || sess.StudentName != alice.Name || !sess.IsActive()) {
				t.Errorf("ClockIn() session = %+v", sess)
			}
		})
	}

	if n := len(tracker.ActiveSessions()); n != 1 {
		t.Errorf("ActiveSessions() has %d sessions; want 1", n)
	}
}

func TestTracker_ClockOut(t *testing.T) {
	tracker := testutil.NewTracker(t)
	grp, _ := tracker.AddGroup(ctx, "Team A")
	alice, _ := tracker.AddStudent(ctx, "Alice", grp.ID)
	bob, _ := tracker.AddStudent(ctx, "Bob", grp.ID)

	if _, err := tracker.ClockOut(ctx, bob.ID); !errors.Is(err, attendance.ErrNoActiveSession) {
		t.Errorf("ClockOut() without session error = %v; want %v", err, attendance.ErrNoActiveSession)
	}

	if _, err := tracker.ClockIn(ctx, alice.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := tracker.ClockOut(ctx, alice.ID); err != nil {
		t.Fatalf("ClockOut() failed: %v", err)
	}
	if _, err := tracker.ClockOut(ctx, alice.ID); !errors.Is(err, attendance.ErrNoActiveSession) {
		t.Errorf("second ClockOut() error = %v; want %v", err, attendance.ErrNoActiveSession)
	}
	// clocking in again opens a new session
	if _, err := tracker.ClockIn(ctx, alice.ID); err != nil {
		t.Errorf("ClockIn() after ClockOut() failed: %v", err)
	}
	if n := len(tracker.StudentHistory(alice.ID)); n != 2 {
		t.Errorf("StudentHistory() has %d sessions; want 2", n)
	}
}

func TestTracker_RemoveGroup(t *testing.T) {
	tracker := testutil.NewTracker(t)
	g1, _ := tracker.AddGroup(ctx, "Team A")
	g2, _ := tracker.AddGroup(ctx, "Team B")
	alice, _ := tracker.AddStudent(ctx, "Alice", g1.ID)
	bob, _ := tracker.AddStudent(ctx, "Bob", g2.ID)

	if _, err := tracker.ClockIn(ctx, alice.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := tracker.ClockOut(ctx, alice.ID); err != nil {
		t.Fatal(err)
	}

	if !tracker.RemoveGroup(ctx, g1.ID) {
		t.Fatal("RemoveGroup() = false; want true")
	}

	if groups := tracker.Groups(); len(groups) != 1 || groups[0].ID != g2.ID {
		t.Errorf("Groups() = %v; want only %v", groups, g2)
	}
	if students := tracker.Students(); len(students) != 1 || students[0].ID != bob.ID {
		t.Errorf("Students() = %v; want only %v", students, bob)
	}
	sessions := tracker.Sessions()
	if len(sessions) != 1 || sessions[0].StudentName != "Alice" || sessions[0].TeamNumber != "Team A" {
		t.Errorf("Sessions() = %+v; want Alice's session untouched", sessions)
	}

	// the orphaned session still shows up in stats with its snapshot
	stats := tracker.AggregatedStats()
	if len(stats) != 2 {
		t.Fatalf("AggregatedStats() has %d entries; want 2", len(stats))
	}
	if tracker.RemoveGroup(ctx, g1.ID) {
		t.Error("second RemoveGroup() = true; want false")
	}
}

func TestTracker_RemoveStudent(t *testing.T) {
	tracker := testutil.NewTracker(t)
	grp, _ := tracker.AddGroup(ctx, "Team A")
	alice, _ := tracker.AddStudent(ctx, "Alice", grp.ID)
	if _, err := tracker.ClockIn(ctx, alice.ID); err != nil {
		t.Fatal(err)
	}

	if !tracker.RemoveStudent(ctx, alice.ID) {
		t.Error("RemoveStudent() = false; want true")
	}
	if tracker.RemoveStudent(ctx, alice.ID) {
		t.Error("second RemoveStudent() = true; want false")
	}
	if n := len(tracker.Sessions()); n != 1 {
		t.Errorf("Sessions() has %d sessions; want 1", n)
	}
}

func TestTracker_blankNames(t *testing.T) {
	tracker := testutil.NewTracker(t)

	if _, ok := tracker.AddGroup(ctx, "   "); ok {
		t.Error("AddGroup() with a blank name succeeded")
	}
	if _, ok := tracker.AddStudent(ctx, "", "g"); ok {
		t.Error("AddStudent() with a blank name succeeded")
	}
	grp, ok := tracker.AddGroup(ctx, "  Team A ")
	if !ok || grp.Name != "Team A" {
		t.Errorf("AddGroup() = %+v, %v; want trimmed name", grp, ok)
	}
	if n := len(tracker.Groups()) + len(tracker.Students()); n != 1 {
		t.Errorf("tracker holds %d entities; want 1", n)
	}
}

func TestTracker_ResetData(t *testing.T) {
	tracker := testutil.NewTracker(t)
	grp, _ := tracker.AddGroup(ctx, "Team A")
	alice, _ := tracker.AddStudent(ctx, "Alice", grp.ID)
	if _, err := tracker.ClockIn(ctx, alice.ID); err != nil {
		t.Fatal(err)
	}

	tracker.ResetData(ctx)

	if n := len(tracker.Sessions()); n != 0 {
		t.Errorf("Sessions() has %d sessions after reset; want 0", n)
	}
	if len(tracker.Groups()) != 1 || len(tracker.Students()) != 1 {
		t.Error("ResetData() removed the roster")
	}
}

func TestTracker_AggregatedStats(t *testing.T) {
	clock := testutil.NewClock(0)
	tracker := testutil.NewTracker(t, testutil.WithClock(clock))

	grp, _ := tracker.AddGroup(ctx, "Team A")
	alice, _ := tracker.AddStudent(ctx, "Alice", grp.ID)
	bob, _ := tracker.AddStudent(ctx, "Bob", grp.ID)
	carol, _ := tracker.AddStudent(ctx, "Carol", "gone")
	dave, _ := tracker.AddStudent(ctx, "Dave", grp.ID)

	// alice: 2 closed sessions (10s + 20s)
	clockSession := func(id string, start, end int64) {
		t.Helper()
		clock.Set(start)
		if _, err := tracker.ClockIn(ctx, id); err != nil {
			t.Fatal(err)
		}
		clock.Set(end)
		if _, err := tracker.ClockOut(ctx, id); err != nil {
			t.Fatal(err)
		}
	}
	clockSession(alice.ID, 1000, 11_000)
	clockSession(alice.ID, 20_000, 40_000)
	clockSession(dave.ID, 50_000, 55_000)
	tracker.RemoveStudent(ctx, dave.ID)

	// bob: active since 60s, measured up to now
	clock.Set(60_000)
	if _, err := tracker.ClockIn(ctx, bob.ID); err != nil {
		t.Fatal(err)
	}
	clock.Set(100_000)

	want := []attendance.Stats{
		{StudentID: bob.ID, StudentName: "Bob", TeamNumber: "Team A", TotalDurationMs: 40_000, SessionCount: 1},
		{StudentID: alice.ID, StudentName: "Alice", TeamNumber: "Team A", TotalDurationMs: 30_000, SessionCount: 2},
		{StudentID: dave.ID, StudentName: "Dave", TeamNumber: "Team A", TotalDurationMs: 5_000, SessionCount: 1},
		{StudentID: carol.ID, StudentName: "Carol", TeamNumber: attendance.UnassignedTeam},
	}
	got := tracker.AggregatedStats()
	if len(got) != len(want) {
		t.Fatalf("AggregatedStats() = %+v; want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("AggregatedStats()[%d] = %+v; want %+v", i, got[i], want[i])
		}
	}
}

func TestTracker_StudentHistory(t *testing.T) {
	clock := testutil.NewClock(1000)
	tracker := testutil.NewTracker(t, testutil.WithClock(clock))
	grp, _ := tracker.AddGroup(ctx, "Team A")
	alice, _ := tracker.AddStudent(ctx, "Alice", grp.ID)

	for _, start := range []int64{1000, 5000, 9000} {
		clock.Set(start)
		if _, err := tracker.ClockIn(ctx, alice.ID); err != nil {
			t.Fatal(err)
		}
		clock.Advance(time.Second)
		if _, err := tracker.ClockOut(ctx, alice.ID); err != nil {
			t.Fatal(err)
		}
	}

	history := tracker.StudentHistory(alice.ID)
	if len(history) != 3 {
		t.Fatalf("StudentHistory() has %d sessions; want 3", len(history))
	}
	for i, start := range []int64{9000, 5000, 1000} {
		if history[i].StartTime != start {
			t.Errorf("StudentHistory()[%d].StartTime = %d; want %d", i, history[i].StartTime, start)
		}
	}
	if n := len(tracker.StudentHistory("nobody")); n != 0 {
		t.Errorf("StudentHistory(unknown) has %d sessions; want 0", n)
	}
}

func TestTracker_persistence(t *testing.T) {
	store := inmem.NewStore()
	tracker := testutil.NewTracker(t, testutil.WithStore(store))

	grp, _ := tracker.AddGroup(ctx, "Team A")
	alice, _ := tracker.AddStudent(ctx, "Alice", grp.ID)
	if _, err := tracker.ClockIn(ctx, alice.ID); err != nil {
		t.Fatal(err)
	}

	raw, ok := store.Raw(attendance.KeySessions)
	if !ok {
		t.Fatal("sessions were not written through")
	}
	var sessions []map[string]interface{}
	if err := json.Unmarshal(raw, &sessions); err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 1 || sessions[0]["studentId"] != alice.ID || sessions[0]["endTime"] != nil {
		t.Errorf("stored sessions = %v", sessions)
	}

	// a second tracker on the same store sees the same state
	reopened := testutil.NewTracker(t, testutil.WithStore(store))
	if len(reopened.Groups()) != 1 || len(reopened.Students()) != 1 || len(reopened.ActiveSessions()) != 1 {
		t.Error("reopened tracker did not load the stored collections")
	}
}

func TestTracker_corruptStore(t *testing.T) {
	store := inmem.NewStore()
	store.Put(attendance.KeyGroups, []byte("{oops"))
	store.Put(attendance.KeyStudents, []byte("null"))

	tracker := testutil.NewTracker(t, testutil.WithStore(store))

	if groups := tracker.Groups(); groups == nil || len(groups) != 0 {
		t.Errorf("Groups() = %#v; want empty", groups)
	}
	if students := tracker.Students(); students == nil || len(students) != 0 {
		t.Errorf("Students() = %#v; want empty", students)
	}
}
