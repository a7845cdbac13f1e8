package dig_container

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"path/filepath"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/dig"

	echoapi "github.com/trezcool/edutracker/apps/api/echo"
	"github.com/trezcool/edutracker/core"
	"github.com/trezcool/edutracker/core/attendance"
	"github.com/trezcool/edutracker/core/gate"
	"github.com/trezcool/edutracker/core/insight"
	emailsvc "github.com/trezcool/edutracker/services/email"
	"github.com/trezcool/edutracker/services/gemini"
	logsvc "github.com/trezcool/edutracker/services/logger"
	"github.com/trezcool/edutracker/services/remote"
	"github.com/trezcool/edutracker/storage/database"
	sqlxstore "github.com/trezcool/edutracker/storage/database/sqlx"
	"github.com/trezcool/edutracker/storage/file"
	"github.com/trezcool/edutracker/storage/inmem"
)

type (
	StoreLoggerParam struct {
		dig.In
		Logger core.Logger `name:"storeLogger"`
	}

	SyncLoggerParam struct {
		dig.In
		Logger core.Logger `name:"syncLogger"`
	}

	// StoreCloser releases the local store (the database pool for postgres).
	StoreCloser func() error
)

func newLogger(conf *core.Config) core.Logger      { return logsvc.New("API", conf) }
func newStoreLogger(conf *core.Config) core.Logger { return logsvc.New("STORE", conf) }
func newSyncLogger(conf *core.Config) core.Logger  { return logsvc.New("SYNC", conf) }

func newStore(conf *core.Config, loggerParam StoreLoggerParam) (attendance.Store, StoreCloser) {
	logger := loggerParam.Logger
	noop := func() error { return nil }

	switch conf.Storage.Engine {
	case "memory":
		logger.Warn("using the in-memory store: data is lost on restart")
		return inmem.NewStore(), noop

	case "postgres":
		ctx := context.Background()
		setUp := func() (*sqlxstore.Store, StoreCloser, error) {
			if err := database.CreateIfNotExist(ctx, conf); err != nil {
				return nil, nil, err
			}
			db, err := database.Open(ctx, conf)
			if err != nil {
				return nil, nil, err
			}
			if err = database.Migrate(db.DB, "up"); err != nil {
				_ = db.Close()
				return nil, nil, err
			}
			return sqlxstore.NewStore(db), db.Close, nil
		}

		store, closeFn, err := setUp()
		if err != nil {
			logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
		}
		return store, closeFn

	default:
		dir := conf.Storage.Dir
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(conf.WorkDir, dir)
		}
		store, err := file.NewStore(dir)
		if err != nil {
			logger.Fatal(fmt.Sprintf("setting up file store: %v", err), err)
		}
		logger.Info(fmt.Sprintf("using the file store at %s", dir))
		return store, noop
	}
}

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func newMetrics(reg *prometheus.Registry) *attendance.Metrics {
	return attendance.NewMetrics(reg)
}

func newTracker(
	conf *core.Config,
	store attendance.Store,
	validate *validator.Validate,
	metrics *attendance.Metrics,
	loggerParam SyncLoggerParam,
) *attendance.Tracker {
	return attendance.NewTracker(attendance.Deps{
		Store:          store,
		Dial:           remote.NewDialer(conf, &http.Client{}),
		Validate:       validate,
		Logger:         loggerParam.Logger,
		Metrics:        metrics,
		DebounceDelay:  conf.Sync.DebounceDelay,
		PollInterval:   conf.Sync.PollInterval,
		RequestTimeout: conf.Sync.RequestTimeout,
	})
}

// newLanguageModel returns a nil interface when no API key is configured.
func newLanguageModel(conf *core.Config, logger core.Logger) core.LanguageModel {
	if conf.Gemini.APIKey == "" {
		logger.Warn("no Gemini API key configured: AI features are disabled")
		return nil
	}
	return gemini.NewClient(conf, logger)
}

func newEmailService(conf *core.Config, logger core.Logger) core.EmailService {
	if conf.Debug {
		return emailsvc.NewConsoleService(conf, logger)
	}
	return emailsvc.NewSendgridService(conf, logger)
}

func newTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}

// newValidator registers every rule before anything can use the validator.
func newValidator(conf *core.Config, translator ut.Translator) *validator.Validate {
	validate := validator.New()
	core.InitValidators(validate, translator)
	attendance.InitValidators(validate, translator)
	gate.InitValidators(validate, translator, conf.Admin.MinPasswordLength)
	return validate
}

func newServerDeps(
	conf *core.Config,
	logger core.Logger,
	tracker *attendance.Tracker,
	gt *gate.Gate,
	insightSvc *insight.Service,
	mailer core.EmailService,
	validate *validator.Validate,
	translator ut.Translator,
	reg *prometheus.Registry,
) *echoapi.Deps {
	return &echoapi.Deps{
		Conf:       conf,
		Logger:     logger,
		Tracker:    tracker,
		Gate:       gt,
		Insight:    insightSvc,
		Mailer:     mailer,
		Validate:   validate,
		Translator: translator,
		Registry:   reg,
	}
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newLogger))
	must(c.Provide(newStoreLogger, dig.Name("storeLogger")))
	must(c.Provide(newSyncLogger, dig.Name("syncLogger")))
	must(c.Provide(newStore))
	must(c.Provide(newRegistry))
	must(c.Provide(newMetrics))
	must(c.Provide(newTranslator))
	must(c.Provide(newValidator))
	must(c.Provide(newTracker))
	must(c.Provide(gate.NewGate))
	must(c.Provide(newLanguageModel))
	must(c.Provide(insight.NewService))
	must(c.Provide(newEmailService))
	must(c.Provide(newServerDeps))
	must(c.Provide(echoapi.NewServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
