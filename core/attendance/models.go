package attendance

import (
	"time"

	"github.com/trezcool/edutracker/core"
)

// UnassignedTeam is reported for students whose group no longer exists.
const UnassignedTeam = "unassigned"

// Cloud statuses
const (
	StatusDisconnected CloudStatus = "disconnected"
	StatusIdle         CloudStatus = "idle"
	StatusSyncing      CloudStatus = "syncing"
	StatusError        CloudStatus = "error"
)

// Remote providers
const (
	ProviderJSONBin   = "jsonbin"
	ProviderFirestore = "firestore"
)

type CloudStatus string

type Group struct {
	ID   string `json:"id" validate:"required"`
	Name string `json:"name"`
}

// Student is a registered student. GroupID is not enforced: a dangling id is tolerated.
type Student struct {
	ID      string `json:"id" validate:"required"`
	Name    string `json:"name"`
	GroupID string `json:"groupId"`
}

// Session is one clock-in/clock-out interval. StudentName and TeamNumber are snapshots
// taken at clock-in time. Times are unix milliseconds; EndTime is nil while active.
type Session struct {
	ID          string `json:"id" validate:"required"`
	StudentID   string `json:"studentId" validate:"required"`
	StudentName string `json:"studentName"`
	TeamNumber  string `json:"teamNumber"`
	StartTime   int64  `json:"startTime" validate:"gt=0"`
	EndTime     *int64 `json:"endTime" validate:"omitempty,gtefield=StartTime"`
}

func (s Session) IsActive() bool { return s.EndTime == nil }

// Duration returns the session length in milliseconds; active sessions are measured up to now.
func (s Session) Duration(now int64) int64 {
	if s.EndTime != nil {
		return *s.EndTime - s.StartTime
	}
	return now - s.StartTime
}

// Stats is derived per student and never persisted.
type Stats struct {
	StudentID       string `json:"studentId"`
	StudentName     string `json:"studentName"`
	TeamNumber      string `json:"teamNumber"`
	TotalDurationMs int64  `json:"totalDurationMs"`
	SessionCount    int    `json:"sessionCount"`
}

func (s Stats) Hours() float64 {
	return float64(s.TotalDurationMs) / float64(time.Hour/time.Millisecond)
}

type RemoteConfig struct {
	Provider string `json:"provider,omitempty" validate:"omitempty,oneof=jsonbin firestore"`
	BinID    string `json:"binId" validate:"required"`
	APIKey   string `json:"apiKey"`
}

// Clean trims the credentials and defaults the provider.
func (rc *RemoteConfig) Clean() {
	rc.Provider = core.CleanString(rc.Provider, true /* lower */)
	if rc.Provider == "" {
		rc.Provider = ProviderJSONBin
	}
	rc.BinID = core.CleanString(rc.BinID)
	rc.APIKey = core.CleanString(rc.APIKey)
}

// Masked returns a copy safe to display.
func (rc RemoteConfig) Masked() RemoteConfig {
	if n := len(rc.APIKey); n > 4 {
		rc.APIKey = "****" + rc.APIKey[n-4:]
	} else if n > 0 {
		rc.APIKey = "****"
	}
	return rc
}

// SyncPayload is the whole remote document.
type SyncPayload struct {
	Sessions  []Session `json:"sessions"`
	Groups    []Group   `json:"groups"`
	Students  []Student `json:"students"`
	UpdatedAt int64     `json:"updatedAt"`
}

type ClockOutResult struct {
	StudentID   string `json:"student_id"`
	StudentName string `json:"student_name"`
	DurationMs  int64  `json:"duration_ms"`
}

// CloudState is a snapshot of the synchronization status.
type CloudState struct {
	Status       CloudStatus   `json:"status"`
	Error        string        `json:"error,omitempty"`
	LastSyncedAt int64         `json:"last_synced_at,omitempty"`
	Config       *RemoteConfig `json:"config,omitempty"`
}
