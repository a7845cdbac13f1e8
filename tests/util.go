// Package testutil holds fixtures shared by the package tests.
package testutil

import (
	"context"
	"encoding/json"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"

	"github.com/trezcool/edutracker/core"
	"github.com/trezcool/edutracker/core/attendance"
	"github.com/trezcool/edutracker/core/gate"
	"github.com/trezcool/edutracker/storage/database"
	"github.com/trezcool/edutracker/storage/inmem"
)

// Config returns the test configuration without reading the environment.
func Config() *core.Config {
	return &core.Config{
		Debug:            true,
		TestMode:         true,
		Env:              "TEST",
		AppName:          "EduTracker",
		SecretKey:        "test-secret",
		FrontendBaseURL:  "http://localhost:3000",
		DefaultFromEmail: "EduTracker <noreply@localhost>",
		ReportRecipients: []string{"teacher@school.test"},
		Server: core.ServerConfig{
			Host:               ":0",
			ShutdownTimeout:    time.Second,
			JWTExpirationDelta: time.Hour,
		},
		Storage: core.StorageConfig{Engine: "memory"},
		Sync: core.SyncConfig{
			DebounceDelay:  time.Hour,
			PollInterval:   time.Hour,
			RequestTimeout: time.Second,
		},
		Gemini: core.GeminiConfig{Model: "gemini-2.5-flash", Timeout: time.Second},
		Admin:  core.AdminConfig{DefaultPassword: "admin", MinPasswordLength: 4},
	}
}

// Validator returns a validator with every rule and translation registered.
func Validator() (*validator.Validate, ut.Translator) {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")

	validate := validator.New()
	core.InitValidators(validate, translator)
	attendance.InitValidators(validate, translator)
	gate.InitValidators(validate, translator, 4)
	return validate, translator
}

// Logger discards everything.
type Logger struct{}

var _ core.Logger = Logger{}

func (Logger) Debug(string, ...interface{}) {}
func (Logger) Info(string, ...interface{})  {}
func (Logger) Warn(string, ...interface{})  {}
func (Logger) Error(string, ...interface{}) {}
func (Logger) Fatal(string, ...interface{}) {}

// Clock is a manually driven clock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(ms int64) *Clock {
	c := &Clock{}
	c.Set(ms)
	return c
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to the given unix milliseconds.
func (c *Clock) Set(ms int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = time.Unix(0, ms*int64(time.Millisecond))
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Remote is an in-memory attendance.RemoteStore shared by any number of trackers.
type Remote struct {
	mu         sync.Mutex
	doc        []byte
	fetchErr   error
	replaceErr error
	fetches    int
	replaces   int
	closes     int
	held       chan struct{}
	started    chan string
}

var _ attendance.RemoteStore = (*Remote)(nil)

func (r *Remote) Fetch(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.fetches++
	r.mu.Unlock()
	if err := r.wait(ctx, "fetch"); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fetchErr != nil {
		return nil, r.fetchErr
	}
	return append([]byte(nil), r.doc...), nil
}

func (r *Remote) Replace(ctx context.Context, payload attendance.SyncPayload) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.replaces++
	r.mu.Unlock()
	if err := r.wait(ctx, "replace"); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.replaceErr != nil {
		return r.replaceErr
	}
	r.doc = data
	return nil
}

func (r *Remote) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closes++
	return nil
}

// Hold parks every Fetch and Replace until release is called. Each parked call
// sends "fetch" or "replace" on started once it is waiting.
func (r *Remote) Hold(t *testing.T) (started <-chan string, release func()) {
	held := make(chan struct{})
	ch := make(chan string, 16)
	r.mu.Lock()
	r.held, r.started = held, ch
	r.mu.Unlock()

	var once sync.Once
	release = func() {
		once.Do(func() {
			r.mu.Lock()
			r.held, r.started = nil, nil
			r.mu.Unlock()
			close(held)
		})
	}
	t.Cleanup(release)
	return ch, release
}

func (r *Remote) wait(ctx context.Context, op string) error {
	r.mu.Lock()
	held, started := r.held, r.started
	r.mu.Unlock()
	if held == nil {
		return nil
	}
	select {
	case started <- op:
	default:
	}
	select {
	case <-held:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetRaw overwrites the document as another client would.
func (r *Remote) SetRaw(doc string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.doc = []byte(doc)
}

func (r *Remote) SetPayload(t *testing.T, payload attendance.SyncPayload) {
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("encoding payload: %v", err)
	}
	r.SetRaw(string(data))
}

func (r *Remote) SetErrors(fetchErr, replaceErr error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetchErr, r.replaceErr = fetchErr, replaceErr
}

// Payload decodes the current document.
func (r *Remote) Payload(t *testing.T) attendance.SyncPayload {
	r.mu.Lock()
	defer r.mu.Unlock()
	var payload attendance.SyncPayload
	if len(r.doc) > 0 {
		if err := json.Unmarshal(r.doc, &payload); err != nil {
			t.Fatalf("decoding remote document: %v", err)
		}
	}
	return payload
}

func (r *Remote) Counts() (fetches, replaces int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fetches, r.replaces
}

func (r *Remote) Closes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closes
}

// Dialer returns a dialer always handing out r, or failing with err when not nil.
func (r *Remote) Dialer(err error) attendance.RemoteDialer {
	return func(context.Context, attendance.RemoteConfig) (attendance.RemoteStore, error) {
		if err != nil {
			return nil, err
		}
		return r, nil
	}
}

// TrackerOption customizes NewTracker.
type TrackerOption func(*attendance.Deps)

func WithStore(store attendance.Store) TrackerOption {
	return func(d *attendance.Deps) { d.Store = store }
}

func WithRemote(r *Remote) TrackerOption {
	return func(d *attendance.Deps) { d.Dial = r.Dialer(nil) }
}

func WithDialer(dial attendance.RemoteDialer) TrackerOption {
	return func(d *attendance.Deps) { d.Dial = dial }
}

func WithValidator(validate *validator.Validate) TrackerOption {
	return func(d *attendance.Deps) { d.Validate = validate }
}

func WithClock(c *Clock) TrackerOption {
	return func(d *attendance.Deps) { d.Now = c.Now }
}

// WithTimers sets the debounce and poll intervals.
func WithTimers(debounce, poll time.Duration) TrackerOption {
	return func(d *attendance.Deps) {
		d.DebounceDelay = debounce
		d.PollInterval = poll
	}
}

// NewTracker opens a tracker on an in-memory store (unless overridden) with
// deterministic sequential ids. It is closed when the test ends.
func NewTracker(t *testing.T, opts ...TrackerOption) *attendance.Tracker {
	t.Helper()

	var (
		mu  sync.Mutex
		seq int
	)
	validate, _ := Validator()
	deps := attendance.Deps{
		Store:         inmem.NewStore(),
		Validate:      validate,
		Logger:        Logger{},
		DebounceDelay: time.Hour,
		PollInterval:  time.Hour,
		NewID: func() string {
			mu.Lock()
			defer mu.Unlock()
			seq++
			return "id" + strconv.Itoa(seq)
		},
	}
	for _, opt := range opts {
		opt(&deps)
	}

	tracker := attendance.NewTracker(deps)
	if err := tracker.Open(context.Background()); err != nil {
		t.Fatalf("tracker.Open() failed: %v", err)
	}
	t.Cleanup(tracker.Close)
	return tracker
}

// PrepareDB returns a migrated, empty test database. The test is skipped unless
// TEST_DB_HOST points at a Postgres server.
func PrepareDB(t *testing.T) *sqlx.DB {
	t.Helper()
	if os.Getenv("TEST_DB_HOST") == "" {
		t.Skip("TEST_DB_HOST not set")
	}
	t.Setenv("ENV", "TEST")
	conf := core.NewConfig()
	ctx := context.Background()

	if err := database.CreateIfNotExist(ctx, conf); err != nil {
		t.Fatalf("PrepareDB() failed: %v", err)
	}
	db, err := database.Open(ctx, conf)
	if err != nil {
		t.Fatalf("PrepareDB() failed: %v", err)
	}
	if err = database.Migrate(db.DB, "up"); err != nil {
		t.Fatalf("PrepareDB() failed: %v", err)
	}
	if _, err = db.ExecContext(ctx, "TRUNCATE kv_store"); err != nil {
		t.Fatalf("PrepareDB() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}
