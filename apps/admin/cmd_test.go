package main

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/edutracker/core/attendance"
	"github.com/trezcool/edutracker/core/gate"
	"github.com/trezcool/edutracker/storage/inmem"
	"github.com/trezcool/edutracker/tests"
)

var ctx = context.Background()

type testCLI struct {
	*commandLine
	remote *testutil.Remote
	clock  *testutil.Clock
	out    *bytes.Buffer
}

func setup(t *testing.T) *testCLI {
	store := inmem.NewStore()
	remote := new(testutil.Remote)
	clock := testutil.NewClock(1_700_000_000_000)
	validate, _ := testutil.Validator()
	tracker := testutil.NewTracker(t,
		testutil.WithStore(store),
		testutil.WithRemote(remote),
		testutil.WithValidator(validate),
		testutil.WithClock(clock),
	)

	out := new(bytes.Buffer)
	return &testCLI{
		commandLine: &commandLine{
			tracker: tracker,
			gate:    gate.NewGate(store, validate, testutil.Config()),
			out:     out,
		},
		remote: remote,
		clock:  clock,
		out:    out,
	}
}

type cliTest struct {
	name       string
	args       []string // without program name
	wantErr    error
	wantErrStr string
	extra      interface{}
}

func (cli *testCLI) runTests(t *testing.T, tests []cliTest, check func(t *testing.T, tt cliTest)) {
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			err := cli.run(ctx, args)
			switch {
			case tt.wantErr != nil:
				if err != tt.wantErr {
					t.Errorf("cli.run() error = %v, wantErr %v", err, tt.wantErr)
				}
			case tt.wantErrStr != "":
				if err == nil || err.Error() != tt.wantErrStr {
					t.Errorf("cli.run() error = %v, wantErrStr %s", err, tt.wantErrStr)
				}
			case err != nil:
				t.Errorf("cli.run() unexpected error = %v", err)
			case check != nil:
				check(t, tt)
			}
		})
	}
}

func Test_commandLine_usage(t *testing.T) {
	cli := setup(t)

	tests := []cliTest{
		{name: "no command", wantErr: errHelp},
		{name: "unknown command", args: []string{"lol"}, wantErr: errHelp},
		{name: "migrate without subcommand", args: []string{"migrate"}, wantErr: errHelp},
		{name: "migrate without database", args: []string{"migrate", "up"}, wantErr: errNoDatabase},
	}
	cli.runTests(t, tests, nil)
	assert.Contains(t, cli.out.String(), "Usage:")
}

func Test_commandLine_migrate(t *testing.T) {
	cli := setup(t)
	db, err := sql.Open("postgres", "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	cli.db = db

	defer func(f func(*sql.DB, string, ...string) error) { migrateFunc = f }(migrateFunc)
	migrateFunc = func(_ *sql.DB, command string, args ...string) error {
		switch command {
		case "up", "up-by-one", "down", "redo", "reset", "status", "version": // pass
		case "up-to", "down-to":
			if len(args) == 0 {
				return fmt.Errorf("%s must be of form: goose [OPTIONS] DRIVER DBSTRING %s VERSION", command, command)
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		default:
			return fmt.Errorf("%q: no such command", command)
		}
		return nil
	}

	tests := []cliTest{
		{name: "unknown subcommand", args: []string{"migrate", "lol"}, wantErrStr: "\"lol\": no such command"},
		{name: "up-to: no args", args: []string{"migrate", "up-to"}, wantErrStr: "up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION"},
		{name: "up-to: non-int arg", args: []string{"migrate", "up-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "down-to: no args", args: []string{"migrate", "down-to"}, wantErrStr: "down-to must be of form: goose [OPTIONS] DRIVER DBSTRING down-to VERSION"},
		{name: "up", args: []string{"migrate", "up"}},
		{name: "up-to", args: []string{"migrate", "up-to", "2"}},
		{name: "down", args: []string{"migrate", "down"}},
		{name: "down-to", args: []string{"migrate", "down-to", "1"}},
		{name: "redo", args: []string{"migrate", "redo"}},
		{name: "status", args: []string{"migrate", "status"}},
	}
	cli.runTests(t, tests, nil)
}

func Test_commandLine_setPassword(t *testing.T) {
	cli := setup(t)

	defer func(f func(int) ([]byte, error)) { readPasswordFunc = f }(readPasswordFunc)

	type extra struct {
		pwd string
	}
	tests := []cliTest{
		{name: "no password", args: []string{"setpassword"}, wantErr: errHelp},
		{name: "too short", args: []string{"setpassword"}, extra: extra{pwd: "abc"}, wantErrStr: "password: password must contain at least 4 characters"},
		{name: "set", args: []string{"setpassword"}, extra: extra{pwd: "s3cret"}},
	}
	for i := range tests {
		tt := tests[i]
		readPasswordFunc = func(int) ([]byte, error) {
			if extra, ok := tt.extra.(extra); ok {
				return []byte(extra.pwd), nil
			}
			return nil, nil
		}
		cli.runTests(t, tests[i:i+1], func(t *testing.T, tt cliTest) {
			assert.NoError(t, cli.gate.Unlock(ctx, tt.extra.(extra).pwd))
			assert.Equal(t, gate.ErrWrongPassword, cli.gate.Unlock(ctx, "admin"))
		})
	}
}

func Test_commandLine_resetData(t *testing.T) {
	cli := setup(t)
	require.NoError(t, cli.tracker.Connect(ctx, attendance.RemoteConfig{BinID: "bin1", APIKey: "key"}))
	grp, _ := cli.tracker.AddGroup(ctx, "Team A")
	std, _ := cli.tracker.AddStudent(ctx, "Ada", grp.ID)
	_, err := cli.tracker.ClockIn(ctx, std.ID)
	require.NoError(t, err)

	tests := []cliTest{
		{name: "confirmation required", args: []string{"resetdata"}, wantErr: errHelp},
		{name: "reset", args: []string{"resetdata", "-confirm"}},
	}
	cli.runTests(t, tests, func(t *testing.T, tt cliTest) {
		assert.Empty(t, cli.tracker.Sessions())
		assert.Len(t, cli.tracker.Students(), 1)

		// the reset reached the remote document before the command returned
		payload := cli.remote.Payload(t)
		assert.Empty(t, payload.Sessions)
		assert.Len(t, payload.Groups, 1)
	})
}

func Test_commandLine_connect(t *testing.T) {
	cli := setup(t)
	cli.remote.SetPayload(t, attendance.SyncPayload{
		Groups:    []attendance.Group{{ID: "g1", Name: "Team A"}},
		Students:  []attendance.Student{},
		Sessions:  []attendance.Session{},
		UpdatedAt: 5000,
	})

	tests := []cliTest{
		{name: "missing bin", args: []string{"connect", "-key", "key"}, wantErrStr: "Key: 'RemoteConfig.binId' Error:Field validation for 'binId' failed on the 'required' tag"},
		{name: "connect", args: []string{"connect", "-bin", "bin1", "-key", "key"}},
	}
	cli.runTests(t, tests, func(t *testing.T, tt cliTest) {
		assert.Equal(t, attendance.StatusIdle, cli.tracker.CloudState().Status)
		assert.Equal(t, []attendance.Group{{ID: "g1", Name: "Team A"}}, cli.tracker.Groups())
		assert.Contains(t, cli.out.String(), "connected to jsonbin document bin1 (1 groups)")
	})

	t.Run("disconnect", func(t *testing.T) {
		require.NoError(t, cli.run(ctx, []string{"admin", "disconnect"}))
		assert.Equal(t, attendance.StatusDisconnected, cli.tracker.CloudState().Status)
		_, ok := cli.tracker.RemoteConfig()
		assert.False(t, ok)
	})
}

func Test_commandLine_stats(t *testing.T) {
	cli := setup(t)
	grp, _ := cli.tracker.AddGroup(ctx, "Team A")
	std, _ := cli.tracker.AddStudent(ctx, "Ada", grp.ID)
	_, _ = cli.tracker.ClockIn(ctx, std.ID)
	cli.clock.Advance(90 * time.Minute)
	_, _ = cli.tracker.ClockOut(ctx, std.ID)

	require.NoError(t, cli.run(ctx, []string{"admin", "stats"}))

	out := cli.out.String()
	assert.Contains(t, out, "STUDENT")
	assert.Regexp(t, `Ada\s+Team A\s+1\.50\s+1`, out)
}
