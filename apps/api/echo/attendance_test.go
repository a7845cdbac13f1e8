package echoapi_test

import (
	"net/http"
	"testing"
	"time"

	. "github.com/trezcool/edutracker/apps/api/echo"
	"github.com/trezcool/edutracker/core/attendance"
)

func Test_attendanceApi_groups(t *testing.T) {
	app := newTestApp(t)

	tests := []httpTest{
		{name: "auth required", method: http.MethodPost, path: "/v1/groups", body: []byte(`{"name":"Team 1"}`), wantCode: http.StatusUnauthorized, wantData: marshalObj(t, errMissingToken)},
		{
			name: "invalid token", method: http.MethodPost, path: "/v1/groups", body: []byte(`{"name":"Team 1"}`), token: "junk",
			wantCode: http.StatusUnauthorized, wantData: marshalObj(t, httpErr{Error: "invalid or expired jwt"}),
		},
		{
			name: "blank name", method: http.MethodPost, path: "/v1/groups", body: []byte(`{"name":"   "}`), token: app.token,
			wantCode: http.StatusBadRequest, wantData: []byte(`{"name":"this field is required"}`),
		},
		{
			name: "create", method: http.MethodPost, path: "/v1/groups", body: []byte(`{"name":" Team 1 "}`), token: app.token,
			wantCode: http.StatusCreated, wantData: []byte(`{"id":"id1","name":"Team 1"}`),
		},
		{name: "list is public", path: "/v1/groups", wantData: []byte(`[{"id":"id1","name":"Team 1"}]`)},
		{
			name: "delete unknown", method: http.MethodDelete, path: "/v1/groups/lol", token: app.token,
			wantCode: http.StatusNotFound, wantData: marshalObj(t, httpErr{Error: "not found"}),
		},
		{name: "delete", method: http.MethodDelete, path: "/v1/groups/id1", token: app.token, wantCode: http.StatusNoContent},
		{name: "list after delete", path: "/v1/groups", wantData: []byte(`[]`)},
	}
	app.runTests(t, tests)
}

func Test_attendanceApi_students(t *testing.T) {
	app := newTestApp(t)
	grp, _ := app.tracker.AddGroup(bg, "Team 1")
	other, _ := app.tracker.AddGroup(bg, "Team 2")
	_, _ = app.tracker.AddStudent(bg, "Bob", other.ID)

	tests := []httpTest{
		{
			name: "missing group", method: http.MethodPost, path: "/v1/students", body: []byte(`{"name":"Ada"}`), token: app.token,
			wantCode: http.StatusBadRequest, wantData: []byte(`{"group_id":"this field is required"}`),
		},
		{
			name: "create", method: http.MethodPost, path: "/v1/students", body: []byte(`{"name":"Ada","group_id":"` + grp.ID + `"}`), token: app.token,
			wantCode: http.StatusCreated, wantData: []byte(`{"id":"id4","name":"Ada","groupId":"id1"}`),
		},
		{
			name: "list all", path: "/v1/students",
			wantData: []byte(`[{"id":"id3","name":"Bob","groupId":"id2"},{"id":"id4","name":"Ada","groupId":"id1"}]`),
		},
		{name: "list by group", path: "/v1/students?group_id=id1", wantData: []byte(`[{"id":"id4","name":"Ada","groupId":"id1"}]`)},
		{name: "history requires auth", path: "/v1/students/id4/history", wantCode: http.StatusUnauthorized, wantData: marshalObj(t, errMissingToken)},
		{name: "empty history", path: "/v1/students/id4/history", token: app.token, wantData: []byte(`[]`)},
		{name: "delete", method: http.MethodDelete, path: "/v1/students/id4", token: app.token, wantCode: http.StatusNoContent},
		{
			name: "delete twice", method: http.MethodDelete, path: "/v1/students/id4", token: app.token,
			wantCode: http.StatusNotFound, wantData: marshalObj(t, httpErr{Error: "not found"}),
		},
	}
	app.runTests(t, tests)
}

func Test_attendanceApi_clock(t *testing.T) {
	app := newTestApp(t)
	grp, _ := app.tracker.AddGroup(bg, "Team 1")
	std, _ := app.tracker.AddStudent(bg, "Ada", grp.ID)
	start := app.clock.Now().UnixNano() / int64(time.Millisecond)

	activeSession := attendance.Session{ID: "id3", StudentID: std.ID, StudentName: "Ada", TeamNumber: "Team 1", StartTime: start}
	body := []byte(`{"student_id":"` + std.ID + `"}`)

	tests := []httpTest{
		{
			name: "missing student", method: http.MethodPost, path: "/v1/clock-in", body: []byte(`{}`),
			wantCode: http.StatusBadRequest, wantData: []byte(`{"student_id":"this field is required"}`),
		},
		{
			name: "unknown student", method: http.MethodPost, path: "/v1/clock-in", body: []byte(`{"student_id":"lol"}`),
			wantCode: http.StatusNotFound, wantData: marshalObj(t, httpErr{Error: attendance.ErrInvalidReference.Error()}),
		},
		{name: "clock in", method: http.MethodPost, path: "/v1/clock-in", body: body, wantCode: http.StatusCreated, wantData: marshalObj(t, activeSession)},
		{
			name: "already active", method: http.MethodPost, path: "/v1/clock-in", body: body,
			wantCode: http.StatusConflict, wantData: marshalObj(t, httpErr{Error: attendance.ErrAlreadyActive.Error()}),
		},
		{name: "active sessions", path: "/v1/sessions/active", wantData: marshalObj(t, []attendance.Session{activeSession})},
	}
	app.runTests(t, tests)

	app.clock.Advance(90 * time.Minute)

	tests = []httpTest{
		{
			name: "clock out", method: http.MethodPost, path: "/v1/clock-out", body: body,
			wantData: marshalObj(t, ClockOutResponse{
				ClockOutResult: attendance.ClockOutResult{StudentID: std.ID, StudentName: "Ada", DurationMs: 90 * 60 * 1000},
				Quote:          "Well done!",
			}),
		},
		{
			name: "no active session", method: http.MethodPost, path: "/v1/clock-out", body: body,
			wantCode: http.StatusConflict, wantData: marshalObj(t, httpErr{Error: attendance.ErrNoActiveSession.Error()}),
		},
		{name: "no active sessions", path: "/v1/sessions/active", wantData: []byte(`[]`)},
		{name: "sessions require auth", path: "/v1/sessions", wantCode: http.StatusUnauthorized, wantData: marshalObj(t, errMissingToken)},
	}
	app.runTests(t, tests)

	rec := app.do(httpTest{path: "/v1/students/" + std.ID + "/history", token: app.token})
	var history []attendance.Session
	decode(t, rec, &history)
	if len(history) != 1 || history[0].EndTime == nil || *history[0].EndTime-history[0].StartTime != 90*60*1000 {
		t.Errorf("history = %+v; want one finished 90 minutes session", history)
	}
}

func Test_attendanceApi_resetData(t *testing.T) {
	app := newTestApp(t)
	grp, _ := app.tracker.AddGroup(bg, "Team 1")
	std, _ := app.tracker.AddStudent(bg, "Ada", grp.ID)
	if _, err := app.tracker.ClockIn(bg, std.ID); err != nil {
		t.Fatalf("ClockIn(): %v", err)
	}

	tests := []httpTest{
		{name: "auth required", method: http.MethodDelete, path: "/v1/sessions?confirm=true", wantCode: http.StatusUnauthorized, wantData: marshalObj(t, errMissingToken)},
		{
			name: "confirmation required", method: http.MethodDelete, path: "/v1/sessions", token: app.token,
			wantCode: http.StatusBadRequest, wantData: marshalObj(t, httpErr{Error: "add ?confirm=true to erase every session"}),
		},
		{name: "reset", method: http.MethodDelete, path: "/v1/sessions?confirm=true", token: app.token, wantCode: http.StatusNoContent},
		{name: "sessions gone", path: "/v1/sessions", token: app.token, wantData: []byte(`[]`)},
		{name: "groups kept", path: "/v1/groups", wantData: []byte(`[{"id":"id1","name":"Team 1"}]`)},
		{name: "students kept", path: "/v1/students", wantData: []byte(`[{"id":"id2","name":"Ada","groupId":"id1"}]`)},
	}
	app.runTests(t, tests)
}
