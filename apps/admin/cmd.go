package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"syscall"
	"text/tabwriter"

	"golang.org/x/term"

	"github.com/trezcool/edutracker/core/attendance"
	"github.com/trezcool/edutracker/core/gate"
	"github.com/trezcool/edutracker/storage/database"
)

var (
	readPasswordFunc = term.ReadPassword // mockable
	migrateFunc      = database.Migrate  // mockable

	errHelp       = errors.New("help provided")
	errNoDatabase = errors.New("migrate requires the postgres storage engine")
)

type commandLine struct {
	tracker *attendance.Tracker
	gate    *gate.Gate
	db      *sql.DB // nil unless the postgres engine is used
	out     io.Writer
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  setpassword                                 - set the teacher view password (prompted)")
	fmt.Fprintln(cli.out, "  resetdata -confirm                          - erase every clock-in session")
	fmt.Fprintln(cli.out, "  connect -bin ID -key KEY [-provider NAME]   - connect to a cloud document")
	fmt.Fprintln(cli.out, "  disconnect                                  - forget the cloud credentials")
	fmt.Fprintln(cli.out, "  stats                                       - print the per-student totals")
	fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS]                      - run a database migration command")
	fmt.Fprintln(cli.out, "Stop the API before changing data: it does not reload the local store.")
}

func (cli *commandLine) run(ctx context.Context, args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	resetDataCmd := flag.NewFlagSet("resetdata", flag.ContinueOnError)
	resetDataCmd.SetOutput(cli.out)
	resetDataConfirm := resetDataCmd.Bool("confirm", false, "Confirm that every session must be erased.")

	connectCmd := flag.NewFlagSet("connect", flag.ContinueOnError)
	connectCmd.SetOutput(cli.out)
	connectBin := connectCmd.String("bin", "", "The remote document (bin) id.")
	connectKey := connectCmd.String("key", "", "The provider API key.")
	connectProvider := connectCmd.String("provider", attendance.ProviderJSONBin, "The remote provider: jsonbin or firestore.")

	switch args[1] {
	case "setpassword":
		fmt.Fprint(cli.out, "Enter password:")
		pwd, err := readPasswordFunc(int(syscall.Stdin))
		fmt.Fprintln(cli.out)
		if err != nil {
			return err
		}
		if len(pwd) == 0 {
			cli.printUsage()
			return errHelp
		}
		return cli.gate.SetPassword(ctx, string(pwd))

	case "resetdata":
		if err := resetDataCmd.Parse(args[2:]); err != nil {
			return err
		}
		if !*resetDataConfirm {
			resetDataCmd.Usage()
			return errHelp
		}
		return cli.resetData(ctx)

	case "connect":
		if err := connectCmd.Parse(args[2:]); err != nil {
			return err
		}
		return cli.connect(ctx, attendance.RemoteConfig{Provider: *connectProvider, BinID: *connectBin, APIKey: *connectKey})

	case "disconnect":
		cli.tracker.Disconnect(ctx)
		fmt.Fprintln(cli.out, "disconnected")
		return nil

	case "stats":
		return cli.printStats()

	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		if cli.db == nil {
			return errNoDatabase
		}
		return migrateFunc(cli.db, args[2], args[3:]...)

	default:
		cli.printUsage()
		return errHelp
	}
}

func (cli *commandLine) resetData(ctx context.Context) error {
	cli.tracker.ResetData(ctx)
	if err := cli.tracker.Flush(ctx); err != nil {
		return err
	}
	fmt.Fprintln(cli.out, "every session has been erased")
	return nil
}

func (cli *commandLine) connect(ctx context.Context, cfg attendance.RemoteConfig) error {
	if err := cli.tracker.Connect(ctx, cfg); err != nil {
		return err
	}
	state := cli.tracker.CloudState()
	fmt.Fprintf(cli.out, "connected to %s document %s (%d groups)\n", state.Config.Provider, state.Config.BinID, len(cli.tracker.Groups()))
	return nil
}

func (cli *commandLine) printStats() error {
	w := tabwriter.NewWriter(cli.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STUDENT\tTEAM\tHOURS\tSESSIONS")
	for _, s := range cli.tracker.AggregatedStats() {
		fmt.Fprintf(w, "%s\t%s\t%.2f\t%d\n", s.StudentName, s.TeamNumber, s.Hours(), s.SessionCount)
	}
	return w.Flush()
}
