package grib

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/lox/era5tools/internal/catalog"
	"github.com/lox/era5tools/internal/toolrun"
)

// Record is one line of a wgrib short inventory, e.g.
//
//	3:1036868:d=2019010100:T:700 mb:anl:NAve=0
type Record struct {
	Number    int
	Offset    int64
	When      time.Time
	Name      string
	Level     string
	TimeRange string
	NAve      int
}

type Inventory []Record

// ParseInventory reads wgrib -s output. Both the 2-digit (d=YYMMDDHH) and the
// -4yr (d=YYYYMMDDHH) date forms are accepted.
func ParseInventory(r io.Reader) (Inventory, error) {
	var inv Inventory

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		fields := strings.Split(line, ":")
		if len(fields) < 6 {
			return nil, fmt.Errorf("inventory line %d: too few fields", lineNo)
		}

		number, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, fmt.Errorf("inventory line %d: record number: %w", lineNo, err)
		}
		offset, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("inventory line %d: offset: %w", lineNo, err)
		}
		when, err := parseDate(fields[2])
		if err != nil {
			return nil, fmt.Errorf("inventory line %d: %w", lineNo, err)
		}

		rec := Record{
			Number:    number,
			Offset:    offset,
			When:      when,
			Name:      fields[3],
			Level:     fields[4],
			TimeRange: fields[5],
		}
		if len(fields) > 6 {
			if v, ok := strings.CutPrefix(fields[6], "NAve="); ok {
				rec.NAve, _ = strconv.Atoi(v)
			}
		}
		inv = append(inv, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read inventory: %w", err)
	}

	return inv, nil
}

func parseDate(s string) (time.Time, error) {
	v, ok := strings.CutPrefix(s, "d=")
	if !ok {
		return time.Time{}, fmt.Errorf("invalid date field %q", s)
	}
	switch len(v) {
	case 10:
		return time.Parse("2006010215", v)
	case 8:
		return time.Parse("06010215", v)
	}
	return time.Time{}, fmt.Errorf("invalid date field %q", s)
}

// Record returns the record with the given 1-based number.
func (inv Inventory) Record(number int) (Record, bool) {
	for _, r := range inv {
		if r.Number == number {
			return r, true
		}
	}
	return Record{}, false
}

// Check verifies that every field index exists in the inventory and, where the
// catalog names them, that the parameter and level agree. Every mismatch is
// reported.
func (inv Inventory) Check(fields []catalog.Field) error {
	var result *multierror.Error
	for _, f := range fields {
		rec, ok := inv.Record(f.Index)
		if !ok {
			result = multierror.Append(result, fmt.Errorf("%s: record %d not in archive (%d records)", f.Suffix, f.Index, len(inv)))
			continue
		}
		if f.Name != "" && !strings.EqualFold(rec.Name, f.Name) {
			result = multierror.Append(result, fmt.Errorf("%s: record %d is %s, want %s", f.Suffix, f.Index, rec.Name, f.Name))
		}
		if f.Level != "" && !strings.EqualFold(rec.Level, f.Level) {
			result = multierror.Append(result, fmt.Errorf("%s: record %d level is %q, want %q", f.Suffix, f.Index, rec.Level, f.Level))
		}
	}
	return result.ErrorOrNil()
}

// ReadInventory runs wgrib -s on archive and parses its output.
func (t Tools) ReadInventory(ctx context.Context, runner toolrun.Runner, archive string) (Inventory, error) {
	res, err := runner.Run(ctx, t.Inventory(archive))
	if err != nil {
		return nil, fmt.Errorf("inventory %s: %w", archive, err)
	}
	if res.DryRun {
		return nil, nil
	}
	return ParseInventory(bytes.NewReader(res.Stdout))
}
