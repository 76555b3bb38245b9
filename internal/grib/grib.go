// Package grib builds the wgrib and grib_to_netcdf command lines and parses
// wgrib short inventories.
package grib

import (
	"strconv"

	"github.com/lox/era5tools/internal/toolrun"
)

const (
	ToolWgrib        = "wgrib"
	ToolGribToNetCDF = "grib_to_netcdf"
)

// Tools holds the executables to invoke. Each is looked up in PATH when it is
// not an absolute path.
type Tools struct {
	Wgrib        string
	GribToNetCDF string
	// NetCDFArgs are passed to grib_to_netcdf before -o, one element per
	// argument: {"-D", "NC_FLOAT"}, not {"-D NC_FLOAT"}.
	NetCDFArgs []string
}

func DefaultTools() Tools {
	return Tools{Wgrib: "wgrib", GribToNetCDF: "grib_to_netcdf"}
}

// ExtractField isolates one record of archive into a single-message grib file:
//
//	wgrib <archive> -d <index> -grib -o <out>
func (t Tools) ExtractField(archive string, index int, out, target string) toolrun.Command {
	return toolrun.Command{
		Tool:   ToolWgrib,
		Path:   t.Wgrib,
		Args:   []string{archive, "-d", strconv.Itoa(index), "-grib", "-o", out},
		Target: target,
	}
}

// ToNetCDF converts a grib file to netCDF:
//
//	grib_to_netcdf [args...] -o <out> <in>
func (t Tools) ToNetCDF(in, out, target string) toolrun.Command {
	args := make([]string, 0, len(t.NetCDFArgs)+3)
	args = append(args, t.NetCDFArgs...)
	args = append(args, "-o", out, in)
	return toolrun.Command{
		Tool:   ToolGribToNetCDF,
		Path:   t.GribToNetCDF,
		Args:   args,
		Target: target,
	}
}

// Inventory lists the records of archive:
//
//	wgrib -s <archive>
func (t Tools) Inventory(archive string) toolrun.Command {
	return toolrun.Command{
		Tool:   ToolWgrib,
		Path:   t.Wgrib,
		Args:   []string{"-s", archive},
		Target: archive,
	}
}
