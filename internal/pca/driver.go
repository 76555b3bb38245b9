package pca

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/lox/era5tools/internal/metrics"
	"github.com/lox/era5tools/internal/toolrun"
)

type Config struct {
	Script   Script
	Params   Params
	Paths    Paths
	FailFast bool
}

type Report struct {
	Variables int
	Succeeded int
	Failed    int
	Summaries map[string]ProjectionSummary
}

type Driver struct {
	cfg     Config
	runner  toolrun.Runner
	log     *logrus.Entry
	metrics *metrics.Metrics
}

func NewDriver(cfg Config, runner toolrun.Runner, log *logrus.Entry, m *metrics.Metrics) (*Driver, error) {
	if err := cfg.Params.Validate(); err != nil {
		return nil, fmt.Errorf("pca params: %w", err)
	}
	return &Driver{
		cfg:     cfg,
		runner:  runner,
		log:     log.WithField("component", string(cfg.Params.Mode)),
		metrics: m,
	}, nil
}

// Run fits every variable in order, one script invocation each.
func (d *Driver) Run(ctx context.Context, variables []string) (Report, error) {
	report := Report{Variables: len(variables), Summaries: make(map[string]ProjectionSummary)}

	var errs *multierror.Error
	for _, v := range variables {
		if err := ctx.Err(); err != nil {
			return report, multierror.Append(errs, err).ErrorOrNil()
		}

		summary, err := d.runOne(ctx, v)
		if err != nil {
			report.Failed++
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", v, err))
			d.log.WithError(err).WithField("variable", v).Warn("pca: variable failed")
			if d.cfg.FailFast || ctx.Err() != nil {
				return report, errs.ErrorOrNil()
			}
			continue
		}
		report.Succeeded++
		if summary != nil {
			report.Summaries[v] = *summary
		}
	}

	d.log.Infof("pca: %d/%d variables fitted", report.Succeeded, report.Variables)
	return report, errs.ErrorOrNil()
}

func (d *Driver) runOne(ctx context.Context, variable string) (*ProjectionSummary, error) {
	p := d.cfg.Params
	in, out, logFile := d.cfg.Paths.For(variable)
	entry := d.log.WithField("variable", variable)

	inputs, err := ListInputs(in)
	if err != nil {
		return nil, err
	}
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoInputs, in)
	}
	if len(inputs) < p.EffectiveComponents() {
		return nil, fmt.Errorf("%w: %d samples, %d components", ErrTooFewSamples, len(inputs), p.EffectiveComponents())
	}

	if p.Mode == ModeIncremental {
		batches := PlanBatches(len(inputs), p.BatchSize, p.EffectiveComponents())
		entry.Infof("pca: %d samples (%s to %s) in %d batches of up to %d",
			len(inputs), inputs[0].Timestamp, inputs[len(inputs)-1].Timestamp, len(batches), p.BatchSize)
	} else {
		entry.Infof("pca: %d samples (%s to %s), %d components",
			len(inputs), inputs[0].Timestamp, inputs[len(inputs)-1].Timestamp, p.Components)
	}

	for _, dir := range []string{filepath.Dir(out), filepath.Dir(logFile)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create dir: %w", err)
		}
	}

	res, err := d.runner.Run(ctx, BuildCommand(d.cfg.Script, variable, d.cfg.Paths, p))
	if err != nil {
		return nil, err
	}
	if res.DryRun {
		return nil, nil
	}

	model, err := os.Stat(ModelPath(out))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingOutput, ModelPath(out))
	}
	proj, err := os.Stat(ProjectionPath(out))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingOutput, ProjectionPath(out))
	}

	summary, err := ReadProjectionSummary(ProjectionPath(out))
	if err != nil {
		return nil, err
	}
	if summary.Rows != len(inputs) {
		entry.Warnf("pca: projection has %d rows for %d inputs", summary.Rows, len(inputs))
	}

	if d.metrics != nil {
		d.metrics.Produced("model", model.Size())
		d.metrics.Produced("projection", proj.Size())
	}
	entry.Infof("pca: wrote %s (%s) and %d projections with %d components in %s",
		ModelPath(out), humanize.Bytes(uint64(model.Size())), summary.Rows, summary.Components,
		res.Duration.Round(time.Millisecond))

	return &summary, nil
}
