package store

import (
	"database/sql"

	"github.com/sirupsen/logrus"

	"github.com/lox/era5tools/internal/toolrun"
)

// Recorder writes every tool invocation of a job to the ledger. It implements
// toolrun.Observer. Ledger write failures are logged, never returned: the
// ledger must not change the outcome of a tool run.
type Recorder struct {
	store *Store
	jobID string
	log   *logrus.Entry
}

func NewRecorder(s *Store, job *JobRun, log *logrus.Entry) *Recorder {
	r := &Recorder{store: s, log: log}
	if job != nil {
		r.jobID = job.ID
	}
	return r
}

func (r *Recorder) Observe(res toolrun.Result, err error) {
	run := &ToolRun{
		StartedAt:   res.StartedAt,
		Tool:        res.Command.Tool,
		CommandLine: res.Command.String(),
		DurationMS:  res.Duration.Milliseconds(),
		Success:     err == nil,
		DryRun:      res.DryRun,
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = r.store.clock.Now()
	}
	if r.jobID != "" {
		run.JobID = sql.NullString{String: r.jobID, Valid: true}
	}
	if res.Command.Target != "" {
		run.Target = sql.NullString{String: res.Command.Target, Valid: true}
	}
	if res.ExitCode >= 0 && !res.DryRun {
		run.ExitCode = sql.NullInt64{Int64: int64(res.ExitCode), Valid: true}
	}
	if err != nil {
		run.ErrorMessage = sql.NullString{String: err.Error(), Valid: true}
	}

	id, insertErr := r.store.InsertToolRun(run)
	if insertErr != nil {
		r.log.WithError(insertErr).Warn("ledger: insert tool run")
		return
	}

	if err != nil && len(res.Stderr) > 0 {
		if _, err := r.store.StoreToolOutput(id, "stderr", res.Stderr); err != nil {
			r.log.WithError(err).Warn("ledger: store tool output")
		}
	}
}
