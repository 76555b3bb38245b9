// Package extract splits grib archives into per-variable netCDF files: for
// each archive and each catalog field, wgrib isolates the record and
// grib_to_netcdf converts it.
package extract

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/lox/era5tools/internal/catalog"
	"github.com/lox/era5tools/internal/grib"
	"github.com/lox/era5tools/internal/metrics"
	"github.com/lox/era5tools/internal/toolrun"
)

type Config struct {
	// OutDir receives <suffix>/<timestamp>.nc.
	OutDir string
	// WorkDir holds the single-record grib files between the two tools. A
	// fresh temporary directory is used when empty.
	WorkDir string
	// KeepWork leaves intermediate grib files in WorkDir.
	KeepWork bool
	// FailFast stops at the first failed pair instead of moving on.
	FailFast bool
	// SkipExisting leaves pairs whose netCDF output already exists alone.
	SkipExisting bool
}

type Report struct {
	Archives int
	Fields   int
	Produced int
	Failed   int
	Skipped  int
	Bytes    int64
}

type Extractor struct {
	tools   grib.Tools
	runner  toolrun.Runner
	cfg     Config
	log     *logrus.Entry
	metrics *metrics.Metrics
}

func New(tools grib.Tools, runner toolrun.Runner, cfg Config, log *logrus.Entry, m *metrics.Metrics) *Extractor {
	return &Extractor{
		tools:   tools,
		runner:  runner,
		cfg:     cfg,
		log:     log.WithField("component", "extract"),
		metrics: m,
	}
}

// OutputPath is where the netCDF file for one archive and field is written.
func OutputPath(outDir string, a Archive, f catalog.Field) string {
	return filepath.Join(outDir, f.Suffix, a.Timestamp+".nc")
}

// Run processes every (archive, field) pair in order. Failures are collected
// and returned together unless FailFast is set.
func (e *Extractor) Run(ctx context.Context, archives []Archive, fields []catalog.Field) (Report, error) {
	report := Report{Archives: len(archives), Fields: len(fields)}

	for _, f := range fields {
		if err := os.MkdirAll(filepath.Join(e.cfg.OutDir, f.Suffix), 0o755); err != nil {
			return report, fmt.Errorf("create output dir: %w", err)
		}
	}

	workDir := e.cfg.WorkDir
	if workDir == "" {
		dir, err := os.MkdirTemp("", "era5tools-extract-")
		if err != nil {
			return report, fmt.Errorf("create work dir: %w", err)
		}
		workDir = dir
		if !e.cfg.KeepWork {
			defer os.RemoveAll(dir)
		}
	} else if err := os.MkdirAll(workDir, 0o755); err != nil {
		return report, fmt.Errorf("create work dir: %w", err)
	}

	var errs *multierror.Error
	for _, a := range archives {
		e.log.WithField("archive", a.Path).Infof("extract: %s (%d fields)", a.Timestamp, len(fields))

		for _, f := range fields {
			if err := ctx.Err(); err != nil {
				return report, multierror.Append(errs, err).ErrorOrNil()
			}
			if e.cfg.SkipExisting {
				if _, err := os.Stat(OutputPath(e.cfg.OutDir, a, f)); err == nil {
					report.Skipped++
					continue
				}
			}

			size, err := e.extractOne(ctx, workDir, a, f)
			if err != nil {
				report.Failed++
				errs = multierror.Append(errs, fmt.Errorf("%s/%s: %w", a.Timestamp, f.Suffix, err))
				e.log.WithError(err).WithFields(logrus.Fields{"archive": a.Path, "field": f.Suffix}).Warn("extract: field failed")
				if e.cfg.FailFast || ctx.Err() != nil {
					return report, errs.ErrorOrNil()
				}
				continue
			}
			report.Produced++
			report.Bytes += size
		}
	}

	e.log.Infof("extract: %d files written (%s), %d skipped, %d failed",
		report.Produced, humanize.Bytes(uint64(report.Bytes)), report.Skipped, report.Failed)
	return report, errs.ErrorOrNil()
}

func (e *Extractor) extractOne(ctx context.Context, workDir string, a Archive, f catalog.Field) (int64, error) {
	tmp := filepath.Join(workDir, fmt.Sprintf("%s.%s.grb", a.Timestamp, f.Suffix))
	out := OutputPath(e.cfg.OutDir, a, f)
	if !e.cfg.KeepWork {
		defer os.Remove(tmp)
	}

	if _, err := e.runner.Run(ctx, e.tools.ExtractField(a.Path, f.Index, tmp, f.Suffix)); err != nil {
		return 0, err
	}

	res, err := e.runner.Run(ctx, e.tools.ToNetCDF(tmp, out, f.Suffix))
	if err != nil {
		return 0, err
	}
	if res.DryRun {
		return 0, nil
	}

	info, err := os.Stat(out)
	if err != nil {
		return 0, fmt.Errorf("%s did not produce %s: %w", grib.ToolGribToNetCDF, out, err)
	}
	if e.metrics != nil {
		e.metrics.Produced("netcdf", info.Size())
	}
	e.log.Debugf("extract: wrote %s (%s)", out, humanize.Bytes(uint64(info.Size())))
	return info.Size(), nil
}
