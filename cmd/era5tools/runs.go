package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/lox/era5tools/internal/store"
)

type RunsCmd struct {
	Limit       int    `help:"Rows to show." default:"20"`
	Job         string `help:"Show the tool runs of one job, with stderr of failures."`
	Failures    bool   `help:"Show recent failed tool runs instead of jobs."`
	HealthDays  int    `name:"health-days" help:"Show per-day tool health for this many days."`
	CleanupDays int    `name:"cleanup-days" help:"Delete captured tool output older than this many days."`
}

func newTable(w io.Writer, header table.Row) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(header)
	return t
}

func (c *RunsCmd) Run(app *App) error {
	if app.Store == nil {
		return errors.New("the run ledger is disabled (--db is empty)")
	}

	now := app.Clock.Now()
	switch {
	case c.CleanupDays > 0:
		n, err := app.Store.CleanupOldOutput(c.CleanupDays)
		if err != nil {
			return fmt.Errorf("cleanup: %w", err)
		}
		_, _ = fmt.Fprintf(app.Out, "deleted %d captured outputs older than %d days\n", n, c.CleanupDays)
		return nil

	case c.Job != "":
		runs, err := app.Store.ToolRunsForJob(c.Job)
		if err != nil {
			return fmt.Errorf("tool runs: %w", err)
		}
		return writeToolRuns(app.Out, app.Store, runs, now, true)

	case c.Failures:
		runs, err := app.Store.RecentFailures(c.Limit)
		if err != nil {
			return fmt.Errorf("recent failures: %w", err)
		}
		return writeToolRuns(app.Out, app.Store, runs, now, false)

	case c.HealthDays > 0:
		health, err := app.Store.ToolHealth(c.HealthDays)
		if err != nil {
			return fmt.Errorf("tool health: %w", err)
		}
		t := newTable(app.Out, table.Row{"Date", "Tool", "Runs", "OK", "Failed", "Time"})
		for _, h := range health {
			t.AppendRow(table.Row{h.Date, h.Tool, h.TotalRuns, h.SuccessRuns, h.FailedRuns, h.TotalDuration})
		}
		t.Render()
		return nil
	}

	jobs, err := app.Store.RecentJobs(c.Limit)
	if err != nil {
		return fmt.Errorf("recent jobs: %w", err)
	}
	if len(jobs) == 0 {
		_, _ = fmt.Fprintln(app.Out, "(no jobs)")
		return nil
	}
	t := newTable(app.Out, table.Row{"ID", "Command", "Started", "Took", "Items", "Failed", "Status"})
	for _, j := range jobs {
		took, status := "-", "running"
		if j.FinishedAt.Valid {
			took = j.FinishedAt.Time.Sub(j.StartedAt).Round(time.Second).String()
			status = "ok"
			if !j.Success {
				status = "failed"
			}
		}
		t.AppendRow(table.Row{
			j.ID, j.Command, humanize.RelTime(j.StartedAt, now, "ago", "from now"), took,
			j.ItemsTotal.Int64, j.ItemsFailed.Int64, status,
		})
	}
	t.Render()
	return nil
}

// writeToolRuns renders runs as a table. With withOutput set, the captured
// stderr of each failed run follows the table.
func writeToolRuns(w io.Writer, st *store.Store, runs []store.ToolRun, now time.Time, withOutput bool) error {
	if len(runs) == 0 {
		_, _ = fmt.Fprintln(w, "(no tool runs)")
		return nil
	}
	t := newTable(w, table.Row{"Started", "Tool", "Target", "Exit", "Took", "Error"})
	var failed []store.ToolRun
	for _, r := range runs {
		exit := "-"
		if r.ExitCode.Valid {
			exit = fmt.Sprint(r.ExitCode.Int64)
		}
		t.AppendRow(table.Row{
			humanize.RelTime(r.StartedAt, now, "ago", "from now"), r.Tool, r.Target.String, exit,
			(time.Duration(r.DurationMS) * time.Millisecond).String(), r.ErrorMessage.String,
		})
		if withOutput && !r.Success {
			failed = append(failed, r)
		}
	}
	t.Render()

	for _, r := range failed {
		out, err := st.GetToolOutput(r.ID)
		if err != nil {
			return fmt.Errorf("tool output %d: %w", r.ID, err)
		}
		if len(out) > 0 {
			_, _ = fmt.Fprintf(w, "\n%s %s stderr:\n%s\n", r.Tool, r.Target.String, out)
		}
	}
	return nil
}
