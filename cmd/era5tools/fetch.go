package main

import (
	"context"
	"time"

	"github.com/lox/era5tools/internal/fetch"
	"github.com/lox/era5tools/internal/toolrun"
)

// MirrorFlags describe the FTP source of grib archives.
type MirrorFlags struct {
	FTPAddr     string        `name:"ftp-addr" help:"FTP server host:port." required:"" env:"ERA5_FTP_ADDR"`
	FTPUser     string        `name:"ftp-user" help:"FTP user; anonymous when empty." env:"ERA5_FTP_USER"`
	FTPPassword string        `name:"ftp-password" help:"FTP password." env:"ERA5_FTP_PASSWORD"`
	RemoteDir   string        `help:"Remote directory holding the archives." default:"/" env:"ERA5_FTP_DIR"`
	Timeout     time.Duration `help:"Dial timeout." default:"30s" env:"ERA5_FTP_TIMEOUT"`
	MaxElapsed  time.Duration `help:"Give up retrying a transfer after this long." default:"2m" env:"ERA5_FTP_MAX_ELAPSED"`
}

func ftpDialer(m MirrorFlags) fetch.Dialer {
	return fetch.FTPDialer(m.FTPAddr, m.FTPUser, m.FTPPassword, m.Timeout)
}

func (m MirrorFlags) client(app *App, localDir string, suffixes []string) *fetch.Client {
	return fetch.New(app.dial(m), fetch.Config{
		RemoteDir:  m.RemoteDir,
		LocalDir:   localDir,
		Suffixes:   suffixes,
		MaxElapsed: m.MaxElapsed,
		FailFast:   app.Globals.FailFast,
	}, app.entry("fetch"), app.Metrics)
}

type FetchCmd struct {
	MirrorFlags `embed:""`

	LocalDir string   `arg:"" name:"local-dir" help:"Directory receiving the archives."`
	Suffix   []string `help:"Remote file suffixes to fetch." default:".grb,.grib,.grb1" env:"ERA5_ARCHIVE_SUFFIXES"`
}

func (c *FetchCmd) Run(app *App) error {
	client := c.client(app, c.LocalDir, c.Suffix)
	if app.Globals.DryRun {
		return dryRunFetch(app, client)
	}

	return app.runJob(app.ctx, "fetch", func(ctx context.Context, _ toolrun.Runner) (int, int, error) {
		report, err := client.Sync(ctx)
		return report.Listed, report.Failed, err
	})
}

// dryRunFetch lists what a sync would download without writing anything.
func dryRunFetch(app *App, client *fetch.Client) error {
	remotes, err := client.List(app.ctx)
	if err != nil {
		return err
	}
	log := app.entry("fetch")
	for _, r := range remotes {
		log.WithField("dry_run", true).Infof("fetch: would mirror %s to %s", r.Path, client.LocalPath(r))
	}
	return nil
}
