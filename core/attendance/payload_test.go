package attendance

import (
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

func TestDecodePayload(t *testing.T) {
	validate := validator.New()

	tests := []struct {
		name         string
		raw          string
		wantNil      bool
		wantErr      bool
		wantGroups   int
		wantStudents int
		wantSessions int
		wantDropped  int
		wantUpdated  int64
	}{
		{name: "blank", raw: "  ", wantNil: true},
		{name: "null", raw: "null", wantNil: true},
		{name: "empty object", raw: "{}", wantNil: true},
		{name: "not an object", raw: "[1,2]", wantErr: true},
		{name: "not json", raw: "{", wantErr: true},
		{name: "missing groups", raw: `{"students": []}`, wantErr: true},
		{name: "groups not array", raw: `{"groups": {}}`, wantErr: true},
		{name: "students not array", raw: `{"groups": [], "students": "x"}`, wantErr: true},
		{name: "updatedAt not number", raw: `{"groups": [], "updatedAt": "yesterday"}`, wantErr: true},
		{name: "groups only", raw: `{"groups": [{"id": "g1", "name": "A"}]}`, wantGroups: 1},
		{
			name: "full document",
			raw: `{"groups": [{"id": "g1", "name": "A"}],
				"students": [{"id": "s1", "name": "Alice", "groupId": "g1"}],
				"sessions": [{"id": "x1", "studentId": "s1", "studentName": "Alice", "teamNumber": "A", "startTime": 1000, "endTime": 2000}],
				"updatedAt": 1700000000000.0}`,
			wantGroups: 1, wantStudents: 1, wantSessions: 1, wantUpdated: 1700000000000,
		},
		{
			name: "invalid entities are dropped",
			raw: `{"groups": [{"id": "g1"}, {"name": "no id"}, 7, {"id": "g1", "name": "dup"}],
				"students": [{"id": "", "name": "x"}, {"id": "s1", "name": "Alice", "groupId": 3}],
				"sessions": [
					{"id": "x1", "studentId": "s1", "startTime": 0},
					{"id": "x2", "studentId": "s1", "startTime": 5000, "endTime": 1000},
					{"id": "x3", "studentId": "", "startTime": 1000}
				]}`,
			wantGroups: 1, wantDropped: 3 + 2 + 3,
		},
		{
			name: "duplicate active sessions keep the latest",
			raw: `{"groups": [], "sessions": [
					{"id": "x1", "studentId": "s1", "startTime": 1000},
					{"id": "x2", "studentId": "s1", "startTime": 3000},
					{"id": "x3", "studentId": "s1", "startTime": 2000, "endTime": 2500},
					{"id": "x4", "studentId": "s2", "startTime": 1000}
				]}`,
			wantSessions: 3, wantDropped: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, report, err := DecodePayload([]byte(tt.raw), validate)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidPayload) {
					t.Errorf("DecodePayload() error = %v; want ErrInvalidPayload", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodePayload() failed: %v", err)
			}
			if tt.wantNil {
				if payload != nil {
					t.Errorf("DecodePayload() = %+v; want nil", payload)
				}
				return
			}
			if payload == nil {
				t.Fatal("DecodePayload() = nil")
			}
			if len(payload.Groups) != tt.wantGroups || len(payload.Students) != tt.wantStudents || len(payload.Sessions) != tt.wantSessions {
				t.Errorf("DecodePayload() = %d groups, %d students, %d sessions; want %d, %d, %d",
					len(payload.Groups), len(payload.Students), len(payload.Sessions),
					tt.wantGroups, tt.wantStudents, tt.wantSessions)
			}
			if report.Dropped() != tt.wantDropped {
				t.Errorf("report.Dropped() = %d; want %d", report.Dropped(), tt.wantDropped)
			}
			if payload.UpdatedAt != tt.wantUpdated {
				t.Errorf("UpdatedAt = %d; want %d", payload.UpdatedAt, tt.wantUpdated)
			}
			if payload.Groups == nil || payload.Students == nil || payload.Sessions == nil {
				t.Error("DecodePayload() returned nil collections")
			}
		})
	}
}

func TestDecodePayload_latestActiveSession(t *testing.T) {
	raw := `{"groups": [], "sessions": [
		{"id": "x1", "studentId": "s1", "startTime": 1000},
		{"id": "x2", "studentId": "s1", "startTime": 3000}
	]}`
	payload, _, err := DecodePayload([]byte(raw), validator.New())
	if err != nil {
		t.Fatal(err)
	}
	if len(payload.Sessions) != 1 || payload.Sessions[0].ID != "x2" {
		t.Errorf("Sessions = %+v; want only x2", payload.Sessions)
	}
}
