package store

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// JobRun is one invocation of an era5tools subcommand.
type JobRun struct {
	ID           string
	Command      string // "extract", "ipca", "pca", "check", "fetch"
	StartedAt    time.Time
	FinishedAt   sql.NullTime
	Success      bool
	ItemsTotal   sql.NullInt64
	ItemsFailed  sql.NullInt64
	ErrorMessage sql.NullString
}

// ToolRun is one external binary invocation.
type ToolRun struct {
	ID           int64
	JobID        sql.NullString
	StartedAt    time.Time
	Tool         string
	Target       sql.NullString
	CommandLine  string
	ExitCode     sql.NullInt64
	DurationMS   int64
	Success      bool
	DryRun       bool
	ErrorMessage sql.NullString
}

// StartJob creates a job record with a fresh id.
func (s *Store) StartJob(command string) (*JobRun, error) {
	job := &JobRun{
		ID:        uuid.NewString(),
		Command:   command,
		StartedAt: s.clock.Now().UTC(),
	}

	_, err := s.db.Exec(`
		INSERT INTO job_runs (id, command, started_at, success)
		VALUES (?, ?, ?, FALSE)
	`, job.ID, job.Command, job.StartedAt)
	if err != nil {
		return nil, err
	}
	return job, nil
}

// CompleteJob records the outcome of a job.
func (s *Store) CompleteJob(job *JobRun) error {
	if job == nil {
		return nil
	}

	job.FinishedAt = sql.NullTime{Time: s.clock.Now().UTC(), Valid: true}

	_, err := s.db.Exec(`
		UPDATE job_runs SET
			finished_at = ?,
			success = ?,
			items_total = ?,
			items_failed = ?,
			error_message = ?
		WHERE id = ?
	`, job.FinishedAt, job.Success, job.ItemsTotal, job.ItemsFailed, job.ErrorMessage, job.ID)
	return err
}

func (s *Store) RecentJobs(limit int) ([]JobRun, error) {
	rows, err := s.db.Query(`
		SELECT id, command, started_at, finished_at, success, items_total, items_failed, error_message
		FROM job_runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []JobRun
	for rows.Next() {
		var j JobRun
		if err := rows.Scan(&j.ID, &j.Command, &j.StartedAt, &j.FinishedAt, &j.Success,
			&j.ItemsTotal, &j.ItemsFailed, &j.ErrorMessage); err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// InsertToolRun stores a finished tool invocation and sets run.ID.
func (s *Store) InsertToolRun(run *ToolRun) (int64, error) {
	result, err := s.db.Exec(`
		INSERT INTO tool_runs (job_id, started_at, tool, target, command_line, exit_code,
			duration_ms, success, dry_run, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.JobID, run.StartedAt.UTC(), run.Tool, run.Target, run.CommandLine, run.ExitCode,
		run.DurationMS, run.Success, run.DryRun, run.ErrorMessage)
	if err != nil {
		return 0, err
	}

	run.ID, err = result.LastInsertId()
	if err != nil {
		return 0, err
	}
	return run.ID, nil
}

func (s *Store) ToolRunsForJob(jobID string) ([]ToolRun, error) {
	rows, err := s.db.Query(`
		SELECT id, job_id, started_at, tool, target, command_line, exit_code,
			   duration_ms, success, dry_run, error_message
		FROM tool_runs
		WHERE job_id = ?
		ORDER BY id ASC
	`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanToolRuns(rows)
}

// RecentFailures returns the most recent failed tool runs.
func (s *Store) RecentFailures(limit int) ([]ToolRun, error) {
	rows, err := s.db.Query(`
		SELECT id, job_id, started_at, tool, target, command_line, exit_code,
			   duration_ms, success, dry_run, error_message
		FROM tool_runs
		WHERE success = FALSE
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanToolRuns(rows)
}

func scanToolRuns(rows *sql.Rows) ([]ToolRun, error) {
	var results []ToolRun
	for rows.Next() {
		var r ToolRun
		if err := rows.Scan(&r.ID, &r.JobID, &r.StartedAt, &r.Tool, &r.Target, &r.CommandLine,
			&r.ExitCode, &r.DurationMS, &r.Success, &r.DryRun, &r.ErrorMessage); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// ToolHealthSummary aggregates tool runs per day and tool.
type ToolHealthSummary struct {
	Date          string
	Tool          string
	TotalRuns     int
	SuccessRuns   int
	FailedRuns    int
	TotalDuration time.Duration
}

// ToolHealth returns per-day, per-tool summaries for the last N days.
func (s *Store) ToolHealth(days int) ([]ToolHealthSummary, error) {
	since := s.clock.Now().UTC().AddDate(0, 0, -days)

	rows, err := s.db.Query(`
		SELECT
			DATE(SUBSTR(started_at, 1, 19)) as date,
			tool,
			COUNT(*) as total_runs,
			SUM(CASE WHEN success THEN 1 ELSE 0 END) as success_runs,
			SUM(CASE WHEN NOT success THEN 1 ELSE 0 END) as failed_runs,
			COALESCE(SUM(duration_ms), 0) as total_ms
		FROM tool_runs
		WHERE SUBSTR(started_at, 1, 19) >= ?
		GROUP BY date, tool
		ORDER BY date DESC, tool
	`, since.Format("2006-01-02 15:04:05"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []ToolHealthSummary
	for rows.Next() {
		var h ToolHealthSummary
		var totalMS int64
		if err := rows.Scan(&h.Date, &h.Tool, &h.TotalRuns, &h.SuccessRuns, &h.FailedRuns, &totalMS); err != nil {
			return nil, err
		}
		h.TotalDuration = time.Duration(totalMS) * time.Millisecond
		results = append(results, h)
	}
	return results, rows.Err()
}
