package database

import (
	"database/sql"
	"errors"
	"io/fs"
	"strings"
	"testing"

	"github.com/trezcool/edutracker/core"
)

func Test_dsn(t *testing.T) {
	conf := &core.Config{
		Database: core.DatabaseConfig{
			Engine:        "postgres",
			Host:          "db",
			Port:          5432,
			User:          "app",
			Password:      "p@ss",
			AdminUser:     "root",
			AdminPassword: "toor",
		},
	}

	tests := []struct {
		name  string
		admin bool
		tls   bool
		want  string
	}{
		{name: "app user", want: "postgres://app:p%40ss@db:5432/edutracker?sslmode=disable&timezone=utc"},
		{name: "admin user", admin: true, want: "postgres://root:toor@db:5432/edutracker?sslmode=disable&timezone=utc"},
		{name: "tls", tls: true, want: "postgres://app:p%40ss@db:5432/edutracker?sslmode=require&timezone=utc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conf.Database.DisableTLS = !tt.tls
			if got := dsn("edutracker", tt.admin, conf); got != tt.want {
				t.Errorf("dsn() = %q; want %q", got, tt.want)
			}
		})
	}
}

func TestMigrate(t *testing.T) {
	defer func(f func(string, *sql.DB, fs.FS, string, ...string) error) { gooseRunFunc = f }(gooseRunFunc)

	var gotCmd, gotDir string
	var gotArgs []string
	gooseRunFunc = func(command string, db *sql.DB, fsys fs.FS, dir string, args ...string) error {
		gotCmd, gotDir, gotArgs = command, dir, args
		if _, err := fs.Stat(fsys, dir+"/00001_create_kv_store.sql"); err != nil {
			return err
		}
		if command == "lol" {
			return errors.New(`"lol": no such command`)
		}
		return nil
	}

	if err := Migrate(nil, "up-to", "1"); err != nil {
		t.Fatalf("Migrate() failed: %v", err)
	}
	if gotCmd != "up-to" || gotDir != "migrations" || len(gotArgs) != 1 || gotArgs[0] != "1" {
		t.Errorf("goose called with %q %q %v", gotCmd, gotDir, gotArgs)
	}

	err := Migrate(nil, "lol")
	if err == nil || !strings.Contains(err.Error(), "no such command") {
		t.Errorf("Migrate(lol) error = %v", err)
	}
}
