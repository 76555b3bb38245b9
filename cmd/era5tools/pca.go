package main

import (
	"context"

	"github.com/lox/era5tools/internal/pca"
	"github.com/lox/era5tools/internal/toolrun"
)

// FitFlags are shared by ipca and pca.
type FitFlags struct {
	DataDir  string   `arg:"" name:"data-dir" help:"Directory holding one netCDF directory per variable."`
	OutDir   string   `arg:"" name:"out-dir" help:"Directory receiving <variable>.proj.csv and <variable>.pca.mod."`
	LogDir   string   `help:"Directory for per-variable fit logs; out-dir when empty." env:"ERA5_PCA_LOG_DIR"`
	Variable []string `short:"v" help:"Only fit these variables."`
	Python   string   `help:"Python interpreter." default:"python3" env:"ERA5_PYTHON"`
}

func (f FitFlags) paths() pca.Paths {
	return pca.Paths{DataDir: f.DataDir, OutDir: f.OutDir, LogDir: f.LogDir}
}

type IpcaCmd struct {
	FitFlags `embed:""`

	Script     string `help:"Incremental PCA script." default:"utils/ipca_era5.py" env:"ERA5_IPCA_SCRIPT"`
	BatchSize  int    `short:"b" help:"Samples per partial fit." default:"1024" env:"ERA5_BATCH_SIZE"`
	Components int    `short:"n" help:"Components to keep; the script default of 50 when zero." env:"ERA5_COMPONENTS"`
	Seed       int    `short:"r" help:"Random seed for the sample shuffle." env:"ERA5_SEED"`
}

func (c *IpcaCmd) Run(app *App) error {
	params := pca.Params{
		Mode:       pca.ModeIncremental,
		BatchSize:  c.BatchSize,
		Components: c.Components,
		RandomSeed: c.Seed,
	}
	return runFit(app, c.FitFlags, c.Script, params)
}

type PcaCmd struct {
	FitFlags `embed:""`

	Script     string `help:"PCA script." default:"utils/pca_era5.py" env:"ERA5_PCA_SCRIPT"`
	Components int    `short:"n" help:"Components to keep." default:"50" env:"ERA5_COMPONENTS"`
}

func (c *PcaCmd) Run(app *App) error {
	params := pca.Params{Mode: pca.ModeFull, Components: c.Components}
	return runFit(app, c.FitFlags, c.Script, params)
}

func runFit(app *App, f FitFlags, script string, params pca.Params) error {
	cat, err := app.loadCatalog()
	if err != nil {
		return err
	}
	variables, err := cat.Select(f.Variable)
	if err != nil {
		return err
	}

	return app.runJob(app.ctx, string(params.Mode), func(ctx context.Context, runner toolrun.Runner) (int, int, error) {
		d, err := pca.NewDriver(pca.Config{
			Script:   pca.Script{Python: f.Python, Path: script},
			Params:   params,
			Paths:    f.paths(),
			FailFast: app.Globals.FailFast,
		}, runner, app.entry(string(params.Mode)), app.Metrics)
		if err != nil {
			return len(variables), len(variables), err
		}

		report, err := d.Run(ctx, variables)
		return report.Variables, report.Failed, err
	})
}
