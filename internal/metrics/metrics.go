package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/lox/era5tools/internal/toolrun"
)

// Metrics holds the counters for one process. Registry is written out as a
// node_exporter textfile when the command finishes.
type Metrics struct {
	Registry *prometheus.Registry

	ToolInvocations *prometheus.CounterVec
	ToolDuration    *prometheus.HistogramVec
	FilesProduced   *prometheus.CounterVec
	BytesProduced   *prometheus.CounterVec
	FetchRetries    prometheus.Counter
	LastSuccess     *prometheus.GaugeVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		ToolInvocations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "era5tools_tool_invocations_total",
				Help: "Total external tool invocations",
			},
			[]string{"tool", "status"},
		),
		ToolDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "era5tools_tool_duration_seconds",
				Help:    "External tool run time in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
			},
			[]string{"tool"},
		),
		FilesProduced: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "era5tools_files_produced_total",
				Help: "Output files written, by kind",
			},
			[]string{"kind"},
		),
		BytesProduced: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "era5tools_bytes_produced_total",
				Help: "Bytes of output written, by kind",
			},
			[]string{"kind"},
		),
		FetchRetries: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "era5tools_fetch_retries_total",
				Help: "FTP operations retried after a transient error",
			},
		),
		LastSuccess: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "era5tools_last_success_timestamp_seconds",
				Help: "Unix time of the last fully successful run, by command",
			},
			[]string{"command"},
		),
	}
}

// Observe implements toolrun.Observer.
func (m *Metrics) Observe(res toolrun.Result, err error) {
	status := "success"
	switch {
	case res.DryRun:
		status = "dry_run"
	case errors.Is(err, toolrun.ErrToolFailed):
		status = "exit_error"
	case err != nil:
		status = "error"
	}
	m.ToolInvocations.WithLabelValues(res.Command.Tool, status).Inc()
	if !res.DryRun {
		m.ToolDuration.WithLabelValues(res.Command.Tool).Observe(res.Duration.Seconds())
	}
}

// Produced counts one output file of the given kind ("netcdf", "projection",
// "model", "archive").
func (m *Metrics) Produced(kind string, size int64) {
	m.FilesProduced.WithLabelValues(kind).Inc()
	if size > 0 {
		m.BytesProduced.WithLabelValues(kind).Add(float64(size))
	}
}

// WriteTextfile writes the registry in the Prometheus text format, atomically
// replacing path.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.Registry)
}
