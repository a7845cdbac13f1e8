// Package attendance owns the attendance state (groups, students, sessions) and keeps it
// converging with a single shared remote document.
//
// All collections are mutated through a Tracker only. Every mutation is written through
// to the local Store and, when a remote is configured, schedules a debounced push of the
// whole state. A background poll adopts the remote document when it is newer
// (last full write wins; there is no field-level merge).
package attendance

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/trezcool/edutracker/core"
)

// Deps holds the collaborators of a Tracker. Zero durations and nil funcs get defaults.
type Deps struct {
	Store    Store
	Dial     RemoteDialer
	Validate *validator.Validate
	Logger   core.Logger
	Metrics  *Metrics

	DebounceDelay  time.Duration
	PollInterval   time.Duration
	RequestTimeout time.Duration

	Now   func() time.Time
	NewID func() string
}

// Tracker is the attendance state manager.
type Tracker struct {
	store    Store
	dial     RemoteDialer
	validate *validator.Validate
	logger   core.Logger
	metrics  *Metrics

	debounceDelay  time.Duration
	pollInterval   time.Duration
	requestTimeout time.Duration

	now   func() time.Time
	newID func() string

	mu       sync.Mutex
	groups   []Group
	students []Student
	sessions []Session
	loaded   bool // mutations schedule pushes only after the initial load

	// synchronization state; see sync.go
	remoteCfg        *RemoteConfig
	remote           RemoteStore
	gen              uint64 // bumped on every connect/disconnect; stale async results are discarded
	established      bool   // the remote document has been read at least once for this generation
	status           CloudStatus
	cloudErr         string
	lastSyncedAt     int64
	lastRemoteUpdate int64
	inFlight         bool // a push or poll is talking to the remote
	pushTimer        *time.Timer
	pushSeq          uint64
	pushPending      bool // a push was due while the remote was busy or unreachable
	stopPoll         context.CancelFunc
	closed           bool

	ctx    context.Context // lifetime; cancelled by Close
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewTracker(deps Deps) *Tracker {
	t := &Tracker{
		store:          deps.Store,
		dial:           deps.Dial,
		validate:       deps.Validate,
		logger:         deps.Logger,
		metrics:        deps.Metrics,
		debounceDelay:  deps.DebounceDelay,
		pollInterval:   deps.PollInterval,
		requestTimeout: deps.RequestTimeout,
		now:            deps.Now,
		newID:          deps.NewID,
		groups:         []Group{},
		students:       []Student{},
		sessions:       []Session{},
		status:         StatusDisconnected,
	}
	if t.dial == nil {
		t.dial = func(context.Context, RemoteConfig) (RemoteStore, error) { return nil, errUnknownProvider }
	}
	if t.validate == nil {
		t.validate = validator.New()
		t.validate.RegisterStructValidation(remoteConfigStructValidation, RemoteConfig{})
	}
	if t.metrics == nil {
		t.metrics = NewMetrics(nil)
	}
	if t.debounceDelay <= 0 {
		t.debounceDelay = 2 * time.Second
	}
	if t.pollInterval <= 0 {
		t.pollInterval = 3 * time.Second
	}
	if t.requestTimeout <= 0 {
		t.requestTimeout = 10 * time.Second
	}
	if t.now == nil {
		t.now = time.Now
	}
	if t.newID == nil {
		t.newID = uuid.NewString
	}
	t.ctx, t.cancel = context.WithCancel(context.Background())
	return t
}

// Open loads the local collections and, if credentials were persisted, connects to the
// remote store. A failing startup connection is logged and the tracker keeps running on
// local data while the poll loop retries.
func (t *Tracker) Open(ctx context.Context) error {
	if t.ctx.Err() != nil {
		return fmt.Errorf("tracker closed")
	}

	t.mu.Lock()
	t.load(ctx, KeySessions, &t.sessions)
	t.load(ctx, KeyGroups, &t.groups)
	t.load(ctx, KeyStudents, &t.students)
	t.metrics.ActiveSessions.Set(float64(t.countActiveLocked()))
	t.mu.Unlock()

	var cfg RemoteConfig
	found, err := t.store.Load(ctx, KeyRemoteConfig, &cfg)
	if err != nil {
		t.logger.Error(fmt.Sprintf("loading cloud config: %v", err), err)
	}
	if found && err == nil {
		cfg.Clean()
		if err := t.connect(ctx, cfg, true /* startup */); err != nil {
			t.logger.Warn(fmt.Sprintf("auto-connect failed, running on local data: %v", err), err)
		}
	}

	t.mu.Lock()
	t.loaded = true
	t.mu.Unlock()
	return nil
}

// load reads one collection; unreadable data leaves the collection empty.
func (t *Tracker) load(ctx context.Context, key string, dst interface{}) {
	if _, err := t.store.Load(ctx, key, dst); err != nil {
		t.logger.Error(fmt.Sprintf("loading %s: %v", key, err), err)
	}
	// a stored JSON null decodes to a nil slice
	switch v := dst.(type) {
	case *[]Session:
		if *v == nil {
			*v = []Session{}
		}
	case *[]Group:
		if *v == nil {
			*v = []Group{}
		}
	case *[]Student:
		if *v == nil {
			*v = []Student{}
		}
	}
}

// Close cancels the poll loop and any pending push, then waits for in-flight work.
func (t *Tracker) Close() {
	t.mu.Lock()
	t.closed = true
	t.stopSyncLocked()
	closeRemote(t.remote)
	t.mu.Unlock()
	t.cancel()
	t.wg.Wait()
}

func (t *Tracker) nowMs() int64 {
	return t.now().UnixNano() / int64(time.Millisecond)
}

// persistLocked writes the given collections through to the local store.
// Failures are logged: the in-memory state stays authoritative.
func (t *Tracker) persistLocked(ctx context.Context, keys ...string) {
	for _, key := range keys {
		var v interface{}
		switch key {
		case KeySessions:
			v = t.sessions
		case KeyGroups:
			v = t.groups
		case KeyStudents:
			v = t.students
		default:
			continue
		}
		if err := t.store.Save(ctx, key, v); err != nil {
			t.logger.Error(fmt.Sprintf("saving %s: %v", key, err), err)
		}
	}
}

// changedLocked runs the side effects of a local mutation.
func (t *Tracker) changedLocked(ctx context.Context, keys ...string) {
	t.persistLocked(ctx, keys...)
	t.metrics.ActiveSessions.Set(float64(t.countActiveLocked()))
	t.schedulePushLocked()
}

// Management

// AddGroup appends a new group. Blank names are ignored (ok == false).
func (t *Tracker) AddGroup(ctx context.Context, name string) (grp Group, ok bool) {
	name = core.CleanString(name)
	if name == "" {
		return Group{}, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	grp = Group{ID: t.newID(), Name: name}
	t.groups = append(t.groups, grp)
	t.changedLocked(ctx, KeyGroups)
	return grp, true
}

// RemoveGroup removes the group and every student assigned to it.
// Sessions are history and are never touched.
func (t *Tracker) RemoveGroup(ctx context.Context, id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	groups := t.groups[:0:0]
	for _, g := range t.groups {
		if g.ID != id {
			groups = append(groups, g)
		}
	}
	students := t.students[:0:0]
	for _, s := range t.students {
		if s.GroupID != id {
			students = append(students, s)
		}
	}

	var keys []string
	if len(groups) != len(t.groups) {
		t.groups = groups
		keys = append(keys, KeyGroups)
	}
	if len(students) != len(t.students) {
		t.students = students
		keys = append(keys, KeyStudents)
	}
	if len(keys) == 0 {
		return false
	}
	t.changedLocked(ctx, keys...)
	return true
}

// AddStudent registers a student. The group is not required to exist.
// Blank names are ignored (ok == false).
func (t *Tracker) AddStudent(ctx context.Context, name, groupID string) (std Student, ok bool) {
	name = core.CleanString(name)
	if name == "" {
		return Student{}, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	std = Student{ID: t.newID(), Name: name, GroupID: groupID}
	t.students = append(t.students, std)
	t.changedLocked(ctx, KeyStudents)
	return std, true
}

// RemoveStudent removes the student only; their sessions remain. Removing an unknown id is a no-op.
func (t *Tracker) RemoveStudent(ctx context.Context, id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	students := t.students[:0:0]
	for _, s := range t.students {
		if s.ID != id {
			students = append(students, s)
		}
	}
	if len(students) == len(t.students) {
		return false
	}
	t.students = students
	t.changedLocked(ctx, KeyStudents)
	return true
}

// Attendance

// ClockIn opens a session for the student, snapshotting their name and group name.
func (t *Tracker) ClockIn(ctx context.Context, studentID string) (Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	std, ok := t.findStudentLocked(studentID)
	if !ok {
		return Session{}, ErrInvalidReference
	}
	grp, ok := t.findGroupLocked(std.GroupID)
	if !ok {
		return Session{}, ErrInvalidReference
	}
	if _, ok := t.activeSessionIdxLocked(studentID); ok {
		return Session{}, ErrAlreadyActive
	}

	sess := Session{
		ID:          t.newID(),
		StudentID:   std.ID,
		StudentName: std.Name,
		TeamNumber:  grp.Name,
		StartTime:   t.nowMs(),
	}
	t.sessions = append(t.sessions, sess)
	t.changedLocked(ctx, KeySessions)
	return sess, nil
}

// ClockOut closes the student's active session.
func (t *Tracker) ClockOut(ctx context.Context, studentID string) (ClockOutResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx, ok := t.activeSessionIdxLocked(studentID)
	if !ok {
		return ClockOutResult{}, ErrNoActiveSession
	}

	end := t.nowMs()
	sess := t.sessions[idx]
	sess.EndTime = &end
	// copy-on-write: readers may hold the previous slice
	sessions := make([]Session, len(t.sessions))
	copy(sessions, t.sessions)
	sessions[idx] = sess
	t.sessions = sessions

	t.changedLocked(ctx, KeySessions)
	return ClockOutResult{
		StudentID:   sess.StudentID,
		StudentName: sess.StudentName,
		DurationMs:  sess.Duration(end),
	}, nil
}

// ResetData clears every session; groups and students are kept.
// Callers are expected to have confirmed the operation.
func (t *Tracker) ResetData(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.sessions) == 0 {
		return
	}
	t.sessions = []Session{}
	t.changedLocked(ctx, KeySessions)
}

// Reads

func (t *Tracker) Groups() []Group {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Group{}, t.groups...)
}

func (t *Tracker) Students() []Student {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Student{}, t.students...)
}

func (t *Tracker) StudentsByGroup(groupID string) []Student {
	t.mu.Lock()
	defer t.mu.Unlock()

	students := []Student{}
	for _, s := range t.students {
		if s.GroupID == groupID {
			students = append(students, s)
		}
	}
	return students
}

func (t *Tracker) Student(id string) (Student, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.findStudentLocked(id)
}

func (t *Tracker) Sessions() []Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Session{}, t.sessions...)
}

func (t *Tracker) ActiveSessions() []Session {
	t.mu.Lock()
	defer t.mu.Unlock()

	active := []Session{}
	for _, s := range t.sessions {
		if s.IsActive() {
			active = append(active, s)
		}
	}
	return active
}

// StudentHistory returns the sessions of a student, most recent first.
func (t *Tracker) StudentHistory(studentID string) []Session {
	t.mu.Lock()
	history := []Session{}
	for _, s := range t.sessions {
		if s.StudentID == studentID {
			history = append(history, s)
		}
	}
	t.mu.Unlock()

	sort.SliceStable(history, func(i, j int) bool { return history[i].StartTime > history[j].StartTime })
	return history
}

// AggregatedStats folds the sessions per student. Every registered student is present
// (at zero when idle), and students only known from sessions are reported with the
// session snapshot fields. Active sessions count up to now.
// Sorted by total duration, descending; ties keep roster-then-session order.
func (t *Tracker) AggregatedStats() []Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.nowMs()
	groupNames := make(map[string]string, len(t.groups))
	for _, g := range t.groups {
		groupNames[g.ID] = g.Name
	}

	stats := make([]Stats, 0, len(t.students))
	index := make(map[string]int, len(t.students))
	for _, s := range t.students {
		if _, ok := index[s.ID]; ok {
			continue
		}
		team, ok := groupNames[s.GroupID]
		if !ok {
			team = UnassignedTeam
		}
		index[s.ID] = len(stats)
		stats = append(stats, Stats{StudentID: s.ID, StudentName: s.Name, TeamNumber: team})
	}

	for _, sess := range t.sessions {
		i, ok := index[sess.StudentID]
		if !ok {
			i = len(stats)
			index[sess.StudentID] = i
			stats = append(stats, Stats{
				StudentID:   sess.StudentID,
				StudentName: sess.StudentName,
				TeamNumber:  sess.TeamNumber,
			})
		}
		stats[i].TotalDurationMs += sess.Duration(now)
		stats[i].SessionCount++
	}

	sort.SliceStable(stats, func(i, j int) bool { return stats[i].TotalDurationMs > stats[j].TotalDurationMs })
	return stats
}

func (t *Tracker) findStudentLocked(id string) (Student, bool) {
	for _, s := range t.students {
		if s.ID == id {
			return s, true
		}
	}
	return Student{}, false
}

func (t *Tracker) findGroupLocked(id string) (Group, bool) {
	for _, g := range t.groups {
		if g.ID == id {
			return g, true
		}
	}
	return Group{}, false
}

func (t *Tracker) activeSessionIdxLocked(studentID string) (int, bool) {
	for i, s := range t.sessions {
		if s.StudentID == studentID && s.IsActive() {
			return i, true
		}
	}
	return -1, false
}

func (t *Tracker) countActiveLocked() int {
	var n int
	for _, s := range t.sessions {
		if s.IsActive() {
			n++
		}
	}
	return n
}
