package main

import (
	"context"
	"fmt"

	"github.com/lox/era5tools/internal/extract"
	"github.com/lox/era5tools/internal/grib"
	"github.com/lox/era5tools/internal/toolrun"
)

// ToolFlags locate the grib tools.
type ToolFlags struct {
	Wgrib        string   `help:"wgrib executable." default:"wgrib" env:"ERA5_WGRIB"`
	GribToNetCDF string   `name:"grib-to-netcdf" help:"grib_to_netcdf executable." default:"grib_to_netcdf" env:"ERA5_GRIB_TO_NETCDF"`
	NetCDFArg    []string `name:"netcdf-arg" help:"Extra grib_to_netcdf argument, one per flag, e.g. --netcdf-arg=-D --netcdf-arg=NC_FLOAT (ERA5_NETCDF_ARGS=-D,NC_FLOAT)." env:"ERA5_NETCDF_ARGS"`
}

func (t ToolFlags) tools() grib.Tools {
	return grib.Tools{Wgrib: t.Wgrib, GribToNetCDF: t.GribToNetCDF, NetCDFArgs: t.NetCDFArg}
}

// ArchiveFlags select the grib archives to work on.
type ArchiveFlags struct {
	InputDir string   `arg:"" name:"input-dir" help:"Directory of grib archives, searched recursively."`
	Suffix   []string `help:"Archive file suffixes." default:".grb,.grib,.grb1" env:"ERA5_ARCHIVE_SUFFIXES"`
}

func (f ArchiveFlags) discover() ([]extract.Archive, error) {
	archives, err := extract.DiscoverArchives(f.InputDir, f.Suffix)
	if err != nil {
		return nil, err
	}
	if len(archives) == 0 {
		return nil, fmt.Errorf("no grib archives under %s", f.InputDir)
	}
	return archives, nil
}

type ExtractCmd struct {
	ToolFlags    `embed:""`
	ArchiveFlags `embed:""`

	OutputDir    string   `arg:"" name:"output-dir" help:"Root of the per-variable netCDF directories."`
	Field        []string `short:"f" help:"Only extract these field suffixes."`
	WorkDir      string   `help:"Directory for intermediate single-field grib files; a temporary directory when empty." env:"ERA5_WORK_DIR"`
	KeepWork     bool     `help:"Keep intermediate grib files."`
	SkipExisting bool     `help:"Skip fields whose netCDF output already exists."`
}

func (c *ExtractCmd) Run(app *App) error {
	cat, err := app.loadCatalog()
	if err != nil {
		return err
	}
	fields, err := cat.FieldsFor(c.Field)
	if err != nil {
		return err
	}
	archives, err := c.discover()
	if err != nil {
		return err
	}

	return app.runJob(app.ctx, "extract", func(ctx context.Context, runner toolrun.Runner) (int, int, error) {
		e := extract.New(c.tools(), runner, extract.Config{
			OutDir:       c.OutputDir,
			WorkDir:      c.WorkDir,
			KeepWork:     c.KeepWork,
			FailFast:     app.Globals.FailFast,
			SkipExisting: c.SkipExisting,
		}, app.entry("extract"), app.Metrics)

		report, err := e.Run(ctx, archives, fields)
		return report.Archives * report.Fields, report.Failed, err
	})
}
