package attendance

import (
	"bytes"
	"encoding/json"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

// DecodeReport tells how much of a remote document had to be discarded.
type DecodeReport struct {
	DroppedGroups   int
	DroppedStudents int
	DroppedSessions int
}

func (r DecodeReport) Dropped() int {
	return r.DroppedGroups + r.DroppedStudents + r.DroppedSessions
}

// DecodePayload validates a raw remote document against the SyncPayload schema.
//
// It returns (nil, report, nil) for an empty document (null, {} or blank),
// and ErrInvalidPayload when the top-level shape is wrong: not an object,
// `groups` missing or not an array, `sessions`/`students` present but not arrays,
// or `updatedAt` not a number. Individual entities failing validation are dropped,
// as are duplicate ids and all but the latest active session of a student.
func DecodePayload(raw []byte, validate *validator.Validate) (*SyncPayload, DecodeReport, error) {
	var report DecodeReport

	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, report, nil
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, report, errors.Wrap(ErrInvalidPayload, err.Error())
	}
	if len(doc) == 0 {
		return nil, report, nil
	}

	groupsRaw, ok := doc["groups"]
	if !ok || !isArray(groupsRaw) {
		return nil, report, errors.Wrap(ErrInvalidPayload, "groups must be an array")
	}

	payload := &SyncPayload{}

	var groups []json.RawMessage
	if err := json.Unmarshal(groupsRaw, &groups); err != nil {
		return nil, report, errors.Wrap(ErrInvalidPayload, "groups: "+err.Error())
	}
	seen := make(map[string]bool, len(groups))
	for _, r := range groups {
		var g Group
		if json.Unmarshal(r, &g) != nil || validate.Struct(g) != nil || seen[g.ID] {
			report.DroppedGroups++
			continue
		}
		seen[g.ID] = true
		payload.Groups = append(payload.Groups, g)
	}

	students, err := optionalArray(doc, "students")
	if err != nil {
		return nil, report, err
	}
	seen = make(map[string]bool, len(students))
	for _, r := range students {
		var s Student
		if json.Unmarshal(r, &s) != nil || validate.Struct(s) != nil || seen[s.ID] {
			report.DroppedStudents++
			continue
		}
		seen[s.ID] = true
		payload.Students = append(payload.Students, s)
	}

	sessions, err := optionalArray(doc, "sessions")
	if err != nil {
		return nil, report, err
	}
	seen = make(map[string]bool, len(sessions))
	for _, r := range sessions {
		var s Session
		if json.Unmarshal(r, &s) != nil || validate.Struct(s) != nil || seen[s.ID] {
			report.DroppedSessions++
			continue
		}
		seen[s.ID] = true
		payload.Sessions = append(payload.Sessions, s)
	}
	payload.Sessions, report.DroppedSessions = dedupeActive(payload.Sessions, report.DroppedSessions)

	if tsRaw, ok := doc["updatedAt"]; ok && !bytes.Equal(bytes.TrimSpace(tsRaw), []byte("null")) {
		var ts float64
		if err := json.Unmarshal(tsRaw, &ts); err != nil {
			return nil, report, errors.Wrap(ErrInvalidPayload, "updatedAt must be a number")
		}
		payload.UpdatedAt = int64(ts)
	}

	if payload.Groups == nil {
		payload.Groups = []Group{}
	}
	if payload.Students == nil {
		payload.Students = []Student{}
	}
	if payload.Sessions == nil {
		payload.Sessions = []Session{}
	}
	return payload, report, nil
}

func isArray(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '['
}

func optionalArray(doc map[string]json.RawMessage, field string) ([]json.RawMessage, error) {
	raw, ok := doc[field]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, nil
	}
	if !isArray(raw) {
		return nil, errors.Wrap(ErrInvalidPayload, field+" must be an array")
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, errors.Wrap(ErrInvalidPayload, field+": "+err.Error())
	}
	return items, nil
}

// dedupeActive keeps at most one active session per student: the one started last.
func dedupeActive(sessions []Session, dropped int) ([]Session, int) {
	latest := make(map[string]int) // studentID -> index of the latest active session
	for i, s := range sessions {
		if !s.IsActive() {
			continue
		}
		if j, ok := latest[s.StudentID]; !ok || sessions[j].StartTime <= s.StartTime {
			latest[s.StudentID] = i
		}
	}

	kept := sessions[:0:0]
	for i, s := range sessions {
		if s.IsActive() && latest[s.StudentID] != i {
			dropped++
			continue
		}
		kept = append(kept, s)
	}
	return kept, dropped
}
