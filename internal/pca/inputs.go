package pca

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/lox/era5tools/internal/fsutil"
)

var (
	ErrNoInputs        = errors.New("no netCDF inputs")
	ErrTooFewSamples   = errors.New("fewer samples than components")
	ErrMissingOutput   = errors.New("expected output missing")
	ErrEmptyProjection = errors.New("projection file has no rows")
)

// Input is one netCDF sample; Timestamp is the first ten characters of the
// file name, the same key the fitting scripts sort by.
type Input struct {
	Path      string
	Timestamp string
}

// ListInputs returns the .nc files under dir, following symbolic links,
// sorted by timestamp.
func ListInputs(dir string) ([]Input, error) {
	var inputs []Input
	err := fsutil.WalkFiles(dir, func(path, name string) error {
		if !strings.HasSuffix(name, ".nc") {
			return nil
		}
		stamp := strings.TrimSuffix(name, ".nc")
		if len(stamp) > 10 {
			stamp = stamp[:10]
		}
		inputs = append(inputs, Input{Path: path, Timestamp: stamp})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("input dir: %w", err)
	}

	sort.SliceStable(inputs, func(i, j int) bool {
		return inputs[i].Timestamp < inputs[j].Timestamp
	})
	return inputs, nil
}

// ProjectionSummary describes a <prefix>.proj.csv written by the scripts: a
// header row, then one row per sample with the timestamp followed by one
// column per component.
type ProjectionSummary struct {
	Rows           int
	Components     int
	FirstTimestamp string
	LastTimestamp  string
}

func ReadProjectionSummary(path string) (ProjectionSummary, error) {
	f, err := os.Open(path)
	if err != nil {
		return ProjectionSummary{}, err
	}
	defer f.Close()

	r := csv.NewReader(f)

	header, err := r.Read()
	if err == io.EOF {
		return ProjectionSummary{}, fmt.Errorf("%s: %w", path, ErrEmptyProjection)
	}
	if err != nil {
		return ProjectionSummary{}, fmt.Errorf("read header: %w", err)
	}

	s := ProjectionSummary{Components: len(header) - 1}
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return s, fmt.Errorf("read row %d: %w", s.Rows+2, err)
		}
		if s.Rows == 0 {
			s.FirstTimestamp = row[0]
		}
		s.LastTimestamp = row[0]
		s.Rows++
	}

	if s.Rows == 0 {
		return s, fmt.Errorf("%s: %w", path, ErrEmptyProjection)
	}
	return s, nil
}
