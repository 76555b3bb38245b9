package grib

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/era5tools/internal/catalog"
	"github.com/lox/era5tools/internal/toolrun"
	"github.com/lox/era5tools/internal/toolrun/toolruntest"
)

const sampleInventory = `1:0:d=2019010100:Z:500 mb:anl:NAve=0
2:518436:d=2019010100:T:850 mb:anl:NAve=0
3:1036868:d=2019010100:T:700 mb:anl:NAve=0
`

func TestCommands(t *testing.T) {
	tools := Tools{Wgrib: "/opt/bin/wgrib", GribToNetCDF: "grib_to_netcdf", NetCDFArgs: []string{"-D", "NC_FLOAT"}}

	c := tools.ExtractField("in/2019010100.grb", 3, "work/t700.grb", "t700")
	assert.Equal(t, "/opt/bin/wgrib in/2019010100.grb -d 3 -grib -o work/t700.grb", c.String())
	assert.Equal(t, ToolWgrib, c.Tool)
	assert.Equal(t, "t700", c.Target)

	c = tools.ToNetCDF("work/t700.grb", "out/t700/2019010100.nc", "t700")
	assert.Equal(t, "grib_to_netcdf -D NC_FLOAT -o out/t700/2019010100.nc work/t700.grb", c.String())
	assert.Equal(t, ToolGribToNetCDF, c.Tool)

	c = tools.Inventory("in/a.grb")
	assert.Equal(t, []string{"-s", "in/a.grb"}, c.Args)
}

func TestParseInventory(t *testing.T) {
	inv, err := ParseInventory(strings.NewReader(sampleInventory))
	require.NoError(t, err)
	require.Len(t, inv, 3)

	assert.Equal(t, Record{
		Number:    2,
		Offset:    518436,
		When:      time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC),
		Name:      "T",
		Level:     "850 mb",
		TimeRange: "anl",
	}, inv[1])
}

func TestParseInventory_TwoDigitYear(t *testing.T) {
	inv, err := ParseInventory(strings.NewReader("1:0:d=99123118:MSL:sfc:anl:NAve=2\n\n"))
	require.NoError(t, err)
	require.Len(t, inv, 1)
	assert.Equal(t, time.Date(1999, 12, 31, 18, 0, 0, 0, time.UTC), inv[0].When)
	assert.Equal(t, 2, inv[0].NAve)
}

func TestParseInventory_Errors(t *testing.T) {
	tests := map[string]string{
		"too few fields": "1:0:d=2019010100:Z\n",
		"bad number":     "x:0:d=2019010100:Z:500 mb:anl\n",
		"bad offset":     "1:y:d=2019010100:Z:500 mb:anl\n",
		"bad date":       "1:0:2019010100:Z:500 mb:anl\n",
		"short date":     "1:0:d=201901:Z:500 mb:anl\n",
	}
	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseInventory(strings.NewReader(input))
			assert.Error(t, err)
		})
	}
}

func TestInventoryCheck(t *testing.T) {
	inv, err := ParseInventory(strings.NewReader(sampleInventory))
	require.NoError(t, err)

	ok := []catalog.Field{
		{Index: 1, Suffix: "z500", Name: "Z", Level: "500 mb"},
		{Index: 3, Suffix: "t700", Name: "t"},
		{Index: 2, Suffix: "x"},
	}
	assert.NoError(t, inv.Check(ok))

	bad := []catalog.Field{
		{Index: 1, Suffix: "t500", Name: "T"},
		{Index: 2, Suffix: "t700", Level: "700 mb"},
		{Index: 9, Suffix: "q700"},
	}
	err = inv.Check(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "t500: record 1 is Z, want T")
	assert.Contains(t, err.Error(), `t700: record 2 level is "850 mb", want "700 mb"`)
	assert.Contains(t, err.Error(), "q700: record 9 not in archive (3 records)")
}

func TestReadInventory(t *testing.T) {
	runner := &toolruntest.Runner{Handle: func(c toolrun.Command) (toolrun.Result, error) {
		return toolrun.Result{Stdout: []byte(sampleInventory)}, nil
	}}

	inv, err := DefaultTools().ReadInventory(context.Background(), runner, "a.grb")
	require.NoError(t, err)
	assert.Len(t, inv, 3)
	assert.Equal(t, []string{"-s", "a.grb"}, runner.Commands()[0].Args)
}

func TestReadInventory_ToolFailure(t *testing.T) {
	runner := &toolruntest.Runner{Handle: func(c toolrun.Command) (toolrun.Result, error) {
		return toolruntest.Fail(c, 8, "could not open file")
	}}

	_, err := DefaultTools().ReadInventory(context.Background(), runner, "a.grb")
	require.Error(t, err)
	assert.ErrorIs(t, err, toolrun.ErrToolFailed)
}
