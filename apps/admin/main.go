package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"

	dig_container "github.com/trezcool/edutracker/apps/api/di/dig"
	"github.com/trezcool/edutracker/core"
	"github.com/trezcool/edutracker/core/attendance"
	"github.com/trezcool/edutracker/core/gate"
	logsvc "github.com/trezcool/edutracker/services/logger"
	sqlxstore "github.com/trezcool/edutracker/storage/database/sqlx"
)

func main() {
	c := dig_container.New()

	var code int
	err := c.Invoke(func(
		conf *core.Config,
		store attendance.Store,
		closeStore dig_container.StoreCloser,
		tracker *attendance.Tracker,
		gt *gate.Gate,
	) {
		logger := logsvc.New("ADMIN", conf)
		ctx := context.Background()

		defer func() {
			if err := closeStore(); err != nil {
				logger.Error(fmt.Sprintf("closing store: %v", err), err)
			}
		}()

		var db *sql.DB
		if s, ok := store.(*sqlxstore.Store); ok {
			db = s.DB().DB
		}

		if err := tracker.Open(ctx); err != nil {
			logger.Fatal(fmt.Sprintf("opening tracker: %v", err), err)
		}
		defer tracker.Close()

		cli := commandLine{tracker: tracker, gate: gt, db: db, out: os.Stdout}
		if err := cli.run(ctx, os.Args); err != nil {
			if err != errHelp {
				logger.Error(fmt.Sprintf("error: %v", err), err)
			}
			code = 1
		}
	})
	if err != nil {
		log.Fatal(err)
	}
	os.Exit(code)
}
