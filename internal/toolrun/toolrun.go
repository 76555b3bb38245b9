// Package toolrun executes the external binaries (wgrib, grib_to_netcdf and
// the PCA scripts). Every invocation is a blocking subprocess.
package toolrun

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

// waitDelay bounds how long Wait keeps copying output after the process is
// killed on cancellation.
const waitDelay = 10 * time.Second

// ErrToolFailed is wrapped by every error caused by a non-zero exit status.
var ErrToolFailed = errors.New("tool failed")

// Command describes one external invocation. Tool is the logical name used in
// logs, metrics and the ledger; Target is the variable or field it produces.
type Command struct {
	Tool   string
	Path   string
	Args   []string
	Dir    string
	Target string
}

// String renders the command line with shell-style quoting of arguments that
// contain spaces.
func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, c.Path)
	for _, a := range c.Args {
		if a == "" || strings.ContainsAny(a, " \t'\"") {
			a = strconv.Quote(a)
		}
		parts = append(parts, a)
	}
	return strings.Join(parts, " ")
}

type Result struct {
	Command   Command
	StartedAt time.Time
	Duration  time.Duration
	ExitCode  int
	Stdout    []byte
	Stderr    []byte
	DryRun    bool
}

// ExitError reports a non-zero exit status.
type ExitError struct {
	Tool     string
	ExitCode int
	Stderr   string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s exited with status %d", e.Tool, e.ExitCode)
	if tail := lastLine(e.Stderr); tail != "" {
		msg += ": " + tail
	}
	return msg
}

func (e *ExitError) Unwrap() error { return ErrToolFailed }

// Runner runs a single command to completion.
type Runner interface {
	Run(ctx context.Context, c Command) (Result, error)
}

// ExecRunner runs commands with os/exec. Standard error is captured and also
// streamed to the debug log as the tool writes it.
type ExecRunner struct {
	log   *logrus.Entry
	clock clockwork.Clock
}

func NewExecRunner(log *logrus.Entry, clock clockwork.Clock) *ExecRunner {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &ExecRunner{log: log, clock: clock}
}

func (r *ExecRunner) Run(ctx context.Context, c Command) (Result, error) {
	res := Result{Command: c, StartedAt: r.clock.Now(), ExitCode: -1}

	entry := r.log.WithFields(logrus.Fields{"tool": c.Tool, "target": c.Target})
	entry.Debugf("exec: %s", c)

	stream := entry.WriterLevel(logrus.DebugLevel)
	defer stream.Close()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Dir = c.Dir
	cmd.Stdout = &stdout
	cmd.Stderr = io.MultiWriter(&stderr, stream)
	cmd.WaitDelay = waitDelay

	err := cmd.Run()
	res.Duration = r.clock.Since(res.StartedAt)
	res.Stdout = stdout.Bytes()
	res.Stderr = stderr.Bytes()

	if err == nil {
		res.ExitCode = 0
		return res, nil
	}

	if ctx.Err() != nil {
		return res, fmt.Errorf("%s: %w", c.Tool, ctx.Err())
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, &ExitError{Tool: c.Tool, ExitCode: res.ExitCode, Stderr: stderr.String()}
	}

	return res, fmt.Errorf("start %s: %w", c.Tool, err)
}

// DryRunner logs commands without executing them.
type DryRunner struct {
	log *logrus.Entry
}

func NewDryRunner(log *logrus.Entry) *DryRunner {
	return &DryRunner{log: log}
}

func (r *DryRunner) Run(_ context.Context, c Command) (Result, error) {
	r.log.WithField("tool", c.Tool).Infof("dry-run: %s", c)
	return Result{Command: c, DryRun: true}, nil
}

// Observer is notified after every invocation.
type Observer interface {
	Observe(res Result, err error)
}

// ObservedRunner forwards to Runner and reports each result to Observers.
type ObservedRunner struct {
	Runner    Runner
	Observers []Observer
}

func (r *ObservedRunner) Run(ctx context.Context, c Command) (Result, error) {
	res, err := r.Runner.Run(ctx, c)
	for _, o := range r.Observers {
		o.Observe(res, err)
	}
	return res, err
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}
