// Package pca drives the external PCA fitting scripts, one invocation per
// variable.
package pca

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/hashicorp/go-multierror"

	"github.com/lox/era5tools/internal/toolrun"
)

// Mode selects the fitting script.
type Mode string

const (
	// ModeIncremental fits batch by batch (ipca_era5.py, -b).
	ModeIncremental Mode = "ipca"
	// ModeFull loads every sample at once (pca_era5.py, -n).
	ModeFull Mode = "pca"
)

const (
	DefaultComponents = 50
	DefaultBatchSize  = 1024
)

// Params are the numeric arguments passed to the script. Zero Components in
// incremental mode leaves the script default in place.
type Params struct {
	Mode       Mode
	BatchSize  int
	Components int
	RandomSeed int
}

func (p Params) Validate() error {
	var errs *multierror.Error
	switch p.Mode {
	case ModeIncremental:
		if p.BatchSize <= 0 {
			errs = multierror.Append(errs, fmt.Errorf("batch size must be positive, got %d", p.BatchSize))
		}
		if p.Components < 0 {
			errs = multierror.Append(errs, fmt.Errorf("components must not be negative, got %d", p.Components))
		}
		if p.BatchSize > 0 && p.BatchSize < p.EffectiveComponents() {
			errs = multierror.Append(errs, fmt.Errorf("batch size %d is smaller than the %d components to fit", p.BatchSize, p.EffectiveComponents()))
		}
	case ModeFull:
		if p.Components <= 0 {
			errs = multierror.Append(errs, fmt.Errorf("components must be positive, got %d", p.Components))
		}
	default:
		errs = multierror.Append(errs, fmt.Errorf("unknown mode %q", p.Mode))
	}
	if p.RandomSeed < 0 {
		errs = multierror.Append(errs, fmt.Errorf("random seed must not be negative, got %d", p.RandomSeed))
	}
	return errs.ErrorOrNil()
}

// EffectiveComponents is the number of components the script will fit.
func (p Params) EffectiveComponents() int {
	if p.Components > 0 {
		return p.Components
	}
	return DefaultComponents
}

// Paths are the roots for inputs, outputs and logs.
type Paths struct {
	// DataDir holds one directory of netCDF files per variable.
	DataDir string
	// OutDir receives <variable>.proj.csv and <variable>.pca.mod.
	OutDir string
	// LogDir receives <variable>.log; OutDir is used when empty.
	LogDir string
}

// For returns the input directory, output prefix and log file of variable.
func (p Paths) For(variable string) (input, output, logFile string) {
	logDir := p.LogDir
	if logDir == "" {
		logDir = p.OutDir
	}
	return filepath.Join(p.DataDir, variable),
		filepath.Join(p.OutDir, variable),
		filepath.Join(logDir, variable+".log")
}

// Script is an interpreter plus the entry point it runs.
type Script struct {
	Python string
	Path   string
}

// BuildCommand returns the invocation for one variable:
//
//	ipca: <python> <script> -i <in> -o <out> -b <batch> -l <log> [-n <components>] [-r <seed>]
//	pca:  <python> <script> -i <in> -o <out> -n <components> -l <log>
func BuildCommand(s Script, variable string, paths Paths, p Params) toolrun.Command {
	in, out, logFile := paths.For(variable)

	args := []string{s.Path, "-i", in, "-o", out}
	switch p.Mode {
	case ModeIncremental:
		args = append(args, "-b", strconv.Itoa(p.BatchSize), "-l", logFile)
		if p.Components > 0 {
			args = append(args, "-n", strconv.Itoa(p.Components))
		}
		if p.RandomSeed != 0 {
			args = append(args, "-r", strconv.Itoa(p.RandomSeed))
		}
	case ModeFull:
		args = append(args, "-n", strconv.Itoa(p.Components), "-l", logFile)
	}

	return toolrun.Command{
		Tool:   string(p.Mode),
		Path:   s.Python,
		Args:   args,
		Target: variable,
	}
}

// ProjectionPath and ModelPath are the files the scripts write for an output
// prefix.
func ProjectionPath(prefix string) string { return prefix + ".proj.csv" }

func ModelPath(prefix string) string { return prefix + ".pca.mod" }
