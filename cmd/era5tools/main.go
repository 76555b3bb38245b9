// Command era5tools splits ERA5 grib archives into per-variable netCDF files
// and drives the PCA fitting scripts over them.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
)

type Globals struct {
	EnvFile     string `name:"env-file" help:"Environment file read before flags." default:".env" env:"ERA5_ENV_FILE"`
	DB          string `name:"db" help:"Path to the run ledger database; empty disables the ledger." default:"data/era5tools.db" env:"ERA5_DB"`
	LogLevel    string `help:"Log level." default:"info" enum:"debug,info,warn,error" env:"ERA5_LOG_LEVEL"`
	LogFormat   string `help:"Log format." default:"text" enum:"text,json" env:"ERA5_LOG_FORMAT"`
	MetricsFile string `help:"Write Prometheus metrics to this textfile on exit." env:"ERA5_METRICS_FILE"`
	DryRun      bool   `help:"Log external commands without running them." env:"ERA5_DRY_RUN"`
	FailFast    bool   `help:"Stop at the first failed item instead of moving on." env:"ERA5_FAIL_FAST"`
	Catalog     string `help:"YAML field catalog; the built-in ERA5 catalog when empty." env:"ERA5_CATALOG"`
}

type CLI struct {
	Globals

	Extract ExtractCmd `cmd:"" help:"Split grib archives into per-variable netCDF files."`
	Ipca    IpcaCmd    `cmd:"" help:"Fit incremental PCA per variable."`
	Pca     PcaCmd     `cmd:"" help:"Fit PCA per variable."`
	Check   CheckCmd   `cmd:"" help:"Verify catalog field indices against archive inventories."`
	Fetch   FetchCmd   `cmd:"" help:"Mirror grib archives from an FTP server."`
	Watch   WatchCmd   `cmd:"" help:"Fetch and extract on a cron schedule."`
	Runs    RunsCmd    `cmd:"" help:"Show the run ledger."`
	Plan    PlanCmd    `cmd:"" help:"Show the batches an incremental fit will use."`
}

func main() {
	if err := loadEnvFile(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "era5tools: %v\n", err)
		os.Exit(1)
	}

	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("era5tools"),
		kong.Description("ERA5 grib extraction and PCA fitting."),
		kong.UsageOnError(),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := newApp(ctx, &cli.Globals, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "era5tools: %v\n", err)
		os.Exit(1)
	}

	err = kctx.Run(app)
	app.Close()
	if err != nil {
		app.Log.WithField("command", kctx.Command()).Error(err)
		os.Exit(1)
	}
}
