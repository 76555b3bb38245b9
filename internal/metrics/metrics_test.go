package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/era5tools/internal/toolrun"
)

func TestObserve(t *testing.T) {
	m := New()
	wgrib := toolrun.Command{Tool: "wgrib"}

	m.Observe(toolrun.Result{Command: wgrib, Duration: 2 * time.Second}, nil)
	m.Observe(toolrun.Result{Command: wgrib}, &toolrun.ExitError{Tool: "wgrib", ExitCode: 1})
	m.Observe(toolrun.Result{Command: wgrib}, errors.New("start wgrib: not found"))
	m.Observe(toolrun.Result{Command: wgrib, DryRun: true}, nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ToolInvocations.WithLabelValues("wgrib", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ToolInvocations.WithLabelValues("wgrib", "exit_error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ToolInvocations.WithLabelValues("wgrib", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ToolInvocations.WithLabelValues("wgrib", "dry_run")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.ToolDuration))
}

func TestProduced(t *testing.T) {
	m := New()
	m.Produced("netcdf", 1024)
	m.Produced("netcdf", 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.FilesProduced.WithLabelValues("netcdf")))
	assert.Equal(t, 1024.0, testutil.ToFloat64(m.BytesProduced.WithLabelValues("netcdf")))
}

func TestWriteTextfile(t *testing.T) {
	m := New()
	m.Produced("model", 10)

	path := filepath.Join(t.TempDir(), "era5tools.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `era5tools_files_produced_total{kind="model"} 1`)
}
