package echoapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"reflect"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	. "github.com/trezcool/edutracker/apps/api/echo"
	"github.com/trezcool/edutracker/core"
	"github.com/trezcool/edutracker/core/attendance"
	"github.com/trezcool/edutracker/core/gate"
	"github.com/trezcool/edutracker/core/insight"
	"github.com/trezcool/edutracker/services/email"
	"github.com/trezcool/edutracker/storage/inmem"
	"github.com/trezcool/edutracker/tests"
)

var (
	bg              = context.Background()
	errMissingToken = httpErr{Error: "missing or malformed jwt"}
)

func TestMain(m *testing.M) {
	core.ParseEmailTemplates(testutil.Config(), testutil.Logger{})
	os.Exit(m.Run())
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
}

type fakeModel struct {
	mu    sync.Mutex
	reply string
	calls int
}

func (m *fakeModel) Generate(context.Context, string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.reply, nil
}

type testApp struct {
	*Server
	conf    *core.Config
	tracker *attendance.Tracker
	remote  *testutil.Remote
	clock   *testutil.Clock
	mailer  *emailsvc.ConsoleService
	token   string
}

func newTestApp(t *testing.T, opts ...testutil.TrackerOption) *testApp {
	t.Helper()
	return newTestAppWithConf(t, testutil.Config(), opts...)
}

func newTestAppWithConf(t *testing.T, conf *core.Config, opts ...testutil.TrackerOption) *testApp {
	t.Helper()

	validate, translator := testutil.Validator()
	store := inmem.NewStore()
	remote := new(testutil.Remote)
	clock := testutil.NewClock(1_700_000_000_000)

	opts = append([]testutil.TrackerOption{
		testutil.WithStore(store),
		testutil.WithRemote(remote),
		testutil.WithValidator(validate),
		testutil.WithClock(clock),
	}, opts...)
	tracker := testutil.NewTracker(t, opts...)
	mailer := emailsvc.NewConsoleServiceMock(conf, testutil.Logger{})

	app := NewServer(&Deps{
		Conf:       conf,
		Logger:     testutil.Logger{},
		Tracker:    tracker,
		Gate:       gate.NewGate(store, validate, conf),
		Insight:    insight.NewService(&fakeModel{reply: "Well done!"}, testutil.Logger{}, conf),
		Mailer:     mailer,
		Validate:   validate,
		Translator: translator,
		Registry:   prometheus.NewRegistry(),
	})
	t.Cleanup(func() { _ = app.Close() })

	token, err := app.IssueToken(false)
	if err != nil {
		t.Fatalf("IssueToken(): %v", err)
	}
	return &testApp{
		Server:  app,
		conf:    conf,
		tracker: tracker,
		remote:  remote,
		clock:   clock,
		mailer:  mailer,
		token:   token,
	}
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func (app *testApp) do(tt httpTest) *httptest.ResponseRecorder {
	method := tt.method
	if method == "" {
		method = http.MethodGet
	}
	req, rec := newAuthRequest(method, tt.path, tt.token, tt.body)
	app.ServeHTTP(rec, req)
	return rec
}

func (app *testApp) runTests(t *testing.T, tests []httpTest) {
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := app.do(tt)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func marshalObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marshalObj(): %v", err)
	}
	return data
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("decoding %s: %v", rec.Body.String(), err)
	}
}

func jsonBytesEqual(b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	return reflect.DeepEqual(j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	t.Helper()
	wantCode := tt.wantCode
	if wantCode == 0 {
		wantCode = http.StatusOK
	}
	if rec.Code != wantCode {
		t.Errorf("failed! code = %v; wantCode %v (body %s)", rec.Code, wantCode, rec.Body.String())
	}
	if tt.wantData == nil {
		if rec.Body.Len() > 0 {
			t.Errorf("failed! data = %v; want no content", rec.Body.String())
		}
		return
	}
	ok, err := jsonBytesEqual(rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}
