package pca

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/era5tools/internal/metrics"
	"github.com/lox/era5tools/internal/toolrun"
	"github.com/lox/era5tools/internal/toolrun/toolruntest"
)

func quietLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

var script = Script{Python: "python3", Path: "utils/ipca_era5.py"}

func TestBuildCommand_Incremental(t *testing.T) {
	paths := Paths{DataDir: "/data/era5", OutDir: "/out/ipca", LogDir: "/logs"}

	c := BuildCommand(script, "t850", paths, Params{Mode: ModeIncremental, BatchSize: 512})
	assert.Equal(t, "python3", c.Path)
	assert.Equal(t, []string{
		"utils/ipca_era5.py",
		"-i", "/data/era5/t850",
		"-o", "/out/ipca/t850",
		"-b", "512",
		"-l", "/logs/t850.log",
	}, c.Args)
	assert.Equal(t, "ipca", c.Tool)
	assert.Equal(t, "t850", c.Target)

	c = BuildCommand(script, "t850", paths, Params{Mode: ModeIncremental, BatchSize: 512, Components: 20, RandomSeed: 7})
	assert.Equal(t, []string{"-n", "20", "-r", "7"}, c.Args[len(c.Args)-4:])
}

func TestBuildCommand_Full(t *testing.T) {
	paths := Paths{DataDir: "data", OutDir: "out"}
	c := BuildCommand(Script{Python: "python", Path: "pca_era5.py"}, "z500", paths, Params{Mode: ModeFull, Components: 20})
	assert.Equal(t, "python pca_era5.py -i data/z500 -o out/z500 -n 20 -l out/z500.log", c.String())
	assert.Equal(t, "pca", c.Tool)
}

func TestParamsValidate(t *testing.T) {
	tests := []struct {
		name    string
		params  Params
		wantErr string
	}{
		{"incremental defaults", Params{Mode: ModeIncremental, BatchSize: DefaultBatchSize}, ""},
		{"full", Params{Mode: ModeFull, Components: 20}, ""},
		{"zero batch", Params{Mode: ModeIncremental}, "batch size must be positive"},
		{"batch below default components", Params{Mode: ModeIncremental, BatchSize: 32}, "smaller than the 50 components"},
		{"batch below components", Params{Mode: ModeIncremental, BatchSize: 64, Components: 100}, "smaller than the 100 components"},
		{"full without components", Params{Mode: ModeFull}, "components must be positive"},
		{"negative seed", Params{Mode: ModeFull, Components: 1, RandomSeed: -1}, "random seed"},
		{"unknown mode", Params{Mode: "svd"}, `unknown mode "svd"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.params.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestPaths_LogDirDefaultsToOutDir(t *testing.T) {
	in, out, logFile := Paths{DataDir: "d", OutDir: "o"}.For("q700")
	assert.Equal(t, filepath.Join("d", "q700"), in)
	assert.Equal(t, filepath.Join("o", "q700"), out)
	assert.Equal(t, filepath.Join("o", "q700.log"), logFile)
}

func TestPlanBatches(t *testing.T) {
	tests := []struct {
		name       string
		n, b, comp int
		want       []Batch
	}{
		{"empty", 0, 10, 2, nil},
		{"exact", 20, 10, 2, []Batch{{0, 0, 10}, {1, 10, 20}}},
		{"remainder kept", 25, 10, 2, []Batch{{0, 0, 10}, {1, 10, 20}, {2, 20, 25}}},
		{"small remainder merged", 21, 10, 2, []Batch{{0, 0, 10}, {1, 10, 21}}},
		{"single batch when n below batch", 7, 10, 2, []Batch{{0, 0, 7}}},
		{"remainder equal to components kept", 22, 10, 2, []Batch{{0, 0, 10}, {1, 10, 20}, {2, 20, 22}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PlanBatches(tt.n, tt.b, tt.comp)
			assert.Equal(t, tt.want, got)

			total := 0
			for _, b := range got {
				total += b.Size()
				assert.GreaterOrEqual(t, b.Size(), min(tt.comp, tt.n))
			}
			assert.Equal(t, tt.n, total)
		})
	}
}

func writeInputs(t *testing.T, dir string, stamps ...string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for _, s := range stamps {
		require.NoError(t, os.WriteFile(filepath.Join(dir, s+".nc"), []byte("CDF"), 0o644))
	}
}

func stamps(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("20190101%02d", i)
	}
	return out
}

func TestListInputs(t *testing.T) {
	dir := t.TempDir()
	writeInputs(t, dir, "2019010212", "2019010100")
	writeInputs(t, filepath.Join(dir, "sub"), "2019010106_extra")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), nil, 0o644))

	inputs, err := ListInputs(dir)
	require.NoError(t, err)
	require.Len(t, inputs, 3)
	assert.Equal(t, "2019010100", inputs[0].Timestamp)
	assert.Equal(t, "2019010106", inputs[1].Timestamp)
	assert.Equal(t, "2019010212", inputs[2].Timestamp)
}

func TestReadProjectionSummary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t850.proj.csv")
	content := "timestamp,0,1,2\n2019010100,0.1,0.2,0.3\n2019010106,0.4,0.5,0.6\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	s, err := ReadProjectionSummary(path)
	require.NoError(t, err)
	assert.Equal(t, ProjectionSummary{Rows: 2, Components: 3, FirstTimestamp: "2019010100", LastTimestamp: "2019010106"}, s)
}

func TestReadProjectionSummary_Empty(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "a.proj.csv")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	_, err := ReadProjectionSummary(empty)
	assert.ErrorIs(t, err, ErrEmptyProjection)

	headerOnly := filepath.Join(dir, "b.proj.csv")
	require.NoError(t, os.WriteFile(headerOnly, []byte("timestamp,0\n"), 0o644))
	_, err = ReadProjectionSummary(headerOnly)
	assert.ErrorIs(t, err, ErrEmptyProjection)
}

// fittingRunner writes the outputs the real scripts produce for -o <prefix>.
func fittingRunner(rows int) *toolruntest.Runner {
	return &toolruntest.Runner{Handle: func(c toolrun.Command) (toolrun.Result, error) {
		var prefix string
		for i, a := range c.Args {
			if a == "-o" {
				prefix = c.Args[i+1]
			}
		}
		var b strings.Builder
		b.WriteString("timestamp,0,1\n")
		for i := 0; i < rows; i++ {
			fmt.Fprintf(&b, "20190101%02d,0.1,0.2\n", i)
		}
		if err := os.WriteFile(ProjectionPath(prefix), []byte(b.String()), 0o644); err != nil {
			return toolrun.Result{}, err
		}
		if err := os.WriteFile(ModelPath(prefix), []byte("joblib"), 0o644); err != nil {
			return toolrun.Result{}, err
		}
		return toolrun.Result{}, nil
	}}
}

func TestDriver_Run(t *testing.T) {
	root := t.TempDir()
	paths := Paths{DataDir: filepath.Join(root, "data"), OutDir: filepath.Join(root, "out"), LogDir: filepath.Join(root, "logs")}
	writeInputs(t, filepath.Join(paths.DataDir, "z500"), stamps(4)...)
	writeInputs(t, filepath.Join(paths.DataDir, "t850"), stamps(4)...)

	runner := fittingRunner(4)
	d, err := NewDriver(Config{
		Script: script,
		Params: Params{Mode: ModeIncremental, BatchSize: 2, Components: 2},
		Paths:  paths,
	}, runner, quietLog(), metrics.New())
	require.NoError(t, err)

	report, err := d.Run(context.Background(), []string{"z500", "t850"})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, 4, report.Summaries["t850"].Rows)
	assert.Equal(t, 2, report.Summaries["t850"].Components)

	cmds := runner.Commands()
	require.Len(t, cmds, 2)
	assert.Equal(t, "z500", cmds[0].Target)
	assert.Equal(t, "t850", cmds[1].Target)
	assert.DirExists(t, paths.LogDir)
}

func TestDriver_Run_ContinuesPastMissingInputs(t *testing.T) {
	root := t.TempDir()
	paths := Paths{DataDir: filepath.Join(root, "data"), OutDir: filepath.Join(root, "out")}
	writeInputs(t, filepath.Join(paths.DataDir, "t850"), stamps(3)...)
	require.NoError(t, os.MkdirAll(filepath.Join(paths.DataDir, "empty"), 0o755))

	runner := fittingRunner(3)
	d, err := NewDriver(Config{Script: script, Params: Params{Mode: ModeFull, Components: 2}, Paths: paths}, runner, quietLog(), nil)
	require.NoError(t, err)

	report, err := d.Run(context.Background(), []string{"missing", "empty", "t850"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoInputs)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 2, report.Failed)
	assert.Len(t, runner.Commands(), 1)
}

func TestDriver_Run_TooFewSamples(t *testing.T) {
	root := t.TempDir()
	paths := Paths{DataDir: filepath.Join(root, "data"), OutDir: filepath.Join(root, "out")}
	writeInputs(t, filepath.Join(paths.DataDir, "t850"), stamps(3)...)

	d, err := NewDriver(Config{Script: script, Params: Params{Mode: ModeFull, Components: 5}, Paths: paths}, &toolruntest.Runner{}, quietLog(), nil)
	require.NoError(t, err)

	_, err = d.Run(context.Background(), []string{"t850"})
	assert.ErrorIs(t, err, ErrTooFewSamples)
}

func TestDriver_Run_MissingOutputs(t *testing.T) {
	root := t.TempDir()
	paths := Paths{DataDir: filepath.Join(root, "data"), OutDir: filepath.Join(root, "out")}
	writeInputs(t, filepath.Join(paths.DataDir, "t850"), stamps(2)...)

	// Script exits 0 without writing anything.
	d, err := NewDriver(Config{Script: script, Params: Params{Mode: ModeFull, Components: 1}, Paths: paths}, &toolruntest.Runner{}, quietLog(), nil)
	require.NoError(t, err)

	_, err = d.Run(context.Background(), []string{"t850"})
	assert.ErrorIs(t, err, ErrMissingOutput)
}

func TestDriver_Run_FailFast(t *testing.T) {
	root := t.TempDir()
	paths := Paths{DataDir: filepath.Join(root, "data"), OutDir: filepath.Join(root, "out")}
	writeInputs(t, filepath.Join(paths.DataDir, "a"), stamps(2)...)
	writeInputs(t, filepath.Join(paths.DataDir, "b"), stamps(2)...)

	runner := &toolruntest.Runner{Handle: func(c toolrun.Command) (toolrun.Result, error) {
		return toolruntest.Fail(c, 1, "Traceback (most recent call last):\nValueError: bad")
	}}
	d, err := NewDriver(Config{Script: script, Params: Params{Mode: ModeFull, Components: 1}, Paths: paths, FailFast: true}, runner, quietLog(), nil)
	require.NoError(t, err)

	report, err := d.Run(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	assert.ErrorIs(t, err, toolrun.ErrToolFailed)
	assert.Contains(t, err.Error(), "ValueError: bad")
	assert.Equal(t, 1, report.Failed)
	assert.Len(t, runner.Commands(), 1)
}

func TestDriver_DryRun(t *testing.T) {
	root := t.TempDir()
	paths := Paths{DataDir: filepath.Join(root, "data"), OutDir: filepath.Join(root, "out")}
	writeInputs(t, filepath.Join(paths.DataDir, "a"), stamps(2)...)

	d, err := NewDriver(Config{Script: script, Params: Params{Mode: ModeFull, Components: 1}, Paths: paths}, toolrun.NewDryRunner(quietLog()), quietLog(), nil)
	require.NoError(t, err)

	report, err := d.Run(context.Background(), []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)
	assert.Empty(t, report.Summaries)
}

func TestNewDriver_InvalidParams(t *testing.T) {
	_, err := NewDriver(Config{Params: Params{Mode: ModeFull}}, &toolruntest.Runner{}, quietLog(), nil)
	assert.Error(t, err)
}

func TestListInputs_FollowsSymlinkedSubdir(t *testing.T) {
	year := t.TempDir()
	writeInputs(t, year, "2019010106", "2019010100")

	dir := filepath.Join(t.TempDir(), "t850")
	writeInputs(t, dir, "2018123118")
	require.NoError(t, os.Symlink(year, filepath.Join(dir, "2019")))

	inputs, err := ListInputs(dir)
	require.NoError(t, err)
	require.Len(t, inputs, 3)
	assert.Equal(t, "2018123118", inputs[0].Timestamp)
	assert.Equal(t, filepath.Join(dir, "2019", "2019010100.nc"), inputs[1].Path)
	assert.Equal(t, "2019010106", inputs[2].Timestamp)
}

func TestDriver_Run_SymlinkedInputs(t *testing.T) {
	root := t.TempDir()
	year := t.TempDir()
	writeInputs(t, year, stamps(2)...)

	paths := Paths{DataDir: filepath.Join(root, "data"), OutDir: filepath.Join(root, "out")}
	require.NoError(t, os.MkdirAll(filepath.Join(paths.DataDir, "t850"), 0o755))
	require.NoError(t, os.Symlink(year, filepath.Join(paths.DataDir, "t850", "2019")))

	runner := fittingRunner(2)
	d, err := NewDriver(Config{Script: script, Params: Params{Mode: ModeFull, Components: 1}, Paths: paths}, runner, quietLog(), nil)
	require.NoError(t, err)

	report, err := d.Run(context.Background(), []string{"t850"})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)
	assert.Len(t, runner.Commands(), 1)
}
