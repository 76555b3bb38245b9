package main

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/lox/era5tools/internal/catalog"
	"github.com/lox/era5tools/internal/extract"
	"github.com/lox/era5tools/internal/fetch"
	"github.com/lox/era5tools/internal/schedule"
	"github.com/lox/era5tools/internal/toolrun"
)

type WatchCmd struct {
	ToolFlags   `embed:""`
	MirrorFlags `embed:""`

	LocalDir  string   `arg:"" name:"local-dir" help:"Directory receiving the archives."`
	OutputDir string   `arg:"" name:"output-dir" help:"Root of the per-variable netCDF directories."`
	Schedule  string   `help:"Cron schedule, e.g. \"15 */6 * * *\" or \"@every 6h\"." default:"@every 6h" env:"ERA5_SCHEDULE"`
	Suffix    []string `help:"Archive file suffixes." default:".grb,.grib,.grb1" env:"ERA5_ARCHIVE_SUFFIXES"`
	Field     []string `short:"f" help:"Only extract these field suffixes."`
	WorkDir   string   `help:"Directory for intermediate single-field grib files." env:"ERA5_WORK_DIR"`
	NoInitial bool     `help:"Wait for the first scheduled time instead of running at start."`
}

func (c *WatchCmd) Run(app *App) error {
	cat, err := app.loadCatalog()
	if err != nil {
		return err
	}
	fields, err := cat.FieldsFor(c.Field)
	if err != nil {
		return err
	}

	s, err := schedule.New(schedule.Config{
		Spec:       c.Schedule,
		RunOnStart: !c.NoInitial,
		Name:       "watch",
	}, c.pass(app, fields), app.Clock, app.entry("schedule"))
	if err != nil {
		return err
	}
	return s.Run(app.ctx)
}

// pass returns one watch pass: mirror the remote archives, then extract
// every archive without output yet. A failed fetch still extracts what is
// present locally.
func (c *WatchCmd) pass(app *App, fields []catalog.Field) schedule.Job {
	client := c.client(app, c.LocalDir, c.Suffix)
	log := app.entry("watch")

	return func(ctx context.Context) error {
		return app.runJob(ctx, "watch", func(ctx context.Context, runner toolrun.Runner) (int, int, error) {
			var fetched fetch.Report
			var errs *multierror.Error
			if app.Globals.DryRun {
				log.Info("watch: dry run, not fetching")
			} else {
				var err error
				fetched, err = client.Sync(ctx)
				if err != nil {
					log.WithError(err).Warn("watch: fetch incomplete, extracting what is present")
					errs = multierror.Append(errs, fmt.Errorf("fetch: %w", err))
				}
			}

			archives, err := extract.DiscoverArchives(c.LocalDir, c.Suffix)
			if err != nil {
				return fetched.Listed, fetched.Failed, multierror.Append(errs, fmt.Errorf("discover archives: %w", err)).ErrorOrNil()
			}

			e := extract.New(c.tools(), runner, extract.Config{
				OutDir:       c.OutputDir,
				WorkDir:      c.WorkDir,
				FailFast:     app.Globals.FailFast,
				SkipExisting: true,
			}, app.entry("extract"), app.Metrics)
			report, err := e.Run(ctx, archives, fields)
			if err != nil {
				errs = multierror.Append(errs, fmt.Errorf("extract: %w", err))
			}

			return fetched.Listed + report.Archives*report.Fields, fetched.Failed + report.Failed, errs.ErrorOrNil()
		})
	}
}
