package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/lox/era5tools/internal/catalog"
	"github.com/lox/era5tools/internal/fetch"
	"github.com/lox/era5tools/internal/metrics"
	"github.com/lox/era5tools/internal/store"
	"github.com/lox/era5tools/internal/toolrun"
)

// App is the state shared by every subcommand.
type App struct {
	Globals *Globals
	Log     *logrus.Logger
	Metrics *metrics.Metrics
	Store   *store.Store
	Clock   clockwork.Clock
	Out     io.Writer

	ctx    context.Context
	db     *sql.DB
	runner toolrun.Runner
	dial   func(MirrorFlags) fetch.Dialer
}

func newApp(ctx context.Context, g *Globals, out io.Writer) (*App, error) {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	level, err := logrus.ParseLevel(g.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	logger.SetLevel(level)
	if g.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	app := &App{
		Globals: g,
		Log:     logger,
		Metrics: metrics.New(),
		Clock:   clockwork.NewRealClock(),
		Out:     out,
		ctx:     ctx,
		dial:    ftpDialer,
	}

	if g.DryRun {
		app.runner = toolrun.NewDryRunner(app.entry("toolrun"))
	} else {
		app.runner = toolrun.NewExecRunner(app.entry("toolrun"), app.Clock)
	}

	if g.DB != "" {
		db, err := store.Open(g.DB)
		if err != nil {
			return nil, err
		}
		st := store.New(db, app.Clock)
		applied, err := st.Migrate()
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		if len(applied) > 0 {
			logger.WithField("component", "store").Infof("ledger: applied migrations %v", applied)
		}
		app.db = db
		app.Store = st
	}

	return app, nil
}

func (a *App) entry(component string) *logrus.Entry {
	return a.Log.WithField("component", component)
}

// Close writes the metrics textfile, when configured, and closes the ledger.
func (a *App) Close() {
	if a.Globals.MetricsFile != "" {
		if err := a.Metrics.WriteTextfile(a.Globals.MetricsFile); err != nil {
			a.entry("metrics").WithError(err).Warn("metrics: write textfile")
		}
	}
	if a.db != nil {
		a.db.Close()
	}
}

func (a *App) loadCatalog() (catalog.Catalog, error) {
	if a.Globals.Catalog == "" {
		c := catalog.Default()
		return c, c.Validate()
	}
	return catalog.Load(a.Globals.Catalog)
}

// jobFunc does the work of one ledger job and reports how many items it
// attempted and how many failed.
type jobFunc func(ctx context.Context, runner toolrun.Runner) (total, failed int, err error)

// runJob records fn as one job in the ledger. Every tool invocation made
// through the runner it is handed is recorded against the job and counted in
// the metrics. A successful job sets the last-success gauge for command.
func (a *App) runJob(ctx context.Context, command string, fn jobFunc) error {
	log := a.entry("ledger")

	var job *store.JobRun
	if a.Store != nil {
		j, err := a.Store.StartJob(command)
		if err != nil {
			log.WithError(err).Warn("ledger: start job")
		} else {
			job = j
		}
	}

	observers := []toolrun.Observer{a.Metrics}
	if job != nil {
		observers = append(observers, store.NewRecorder(a.Store, job, log))
	}
	runner := &toolrun.ObservedRunner{Runner: a.runner, Observers: observers}

	total, failed, err := fn(ctx, runner)

	if job != nil {
		job.Success = err == nil
		job.ItemsTotal = sql.NullInt64{Int64: int64(total), Valid: true}
		job.ItemsFailed = sql.NullInt64{Int64: int64(failed), Valid: true}
		if err != nil {
			job.ErrorMessage = sql.NullString{String: err.Error(), Valid: true}
		}
		if cerr := a.Store.CompleteJob(job); cerr != nil {
			log.WithError(cerr).Warn("ledger: complete job")
		}
	}

	if err == nil {
		a.Metrics.LastSuccess.WithLabelValues(command).Set(float64(a.Clock.Now().Unix()))
	}
	return err
}
