// Package toolruntest provides a fake toolrun.Runner for tests.
package toolruntest

import (
	"context"
	"sync"

	"github.com/lox/era5tools/internal/toolrun"
)

// Runner records every command. Handle, when set, decides the outcome;
// otherwise every command succeeds with empty output.
type Runner struct {
	Handle func(c toolrun.Command) (toolrun.Result, error)

	mu       sync.Mutex
	commands []toolrun.Command
}

func (r *Runner) Run(_ context.Context, c toolrun.Command) (toolrun.Result, error) {
	r.mu.Lock()
	r.commands = append(r.commands, c)
	r.mu.Unlock()

	if r.Handle == nil {
		return toolrun.Result{Command: c}, nil
	}
	res, err := r.Handle(c)
	res.Command = c
	return res, err
}

// Commands returns a copy of the recorded commands in call order.
func (r *Runner) Commands() []toolrun.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]toolrun.Command, len(r.commands))
	copy(out, r.commands)
	return out
}

// Tools returns the Tool of each recorded command in call order.
func (r *Runner) Tools() []string {
	var out []string
	for _, c := range r.Commands() {
		out = append(out, c.Tool)
	}
	return out
}

// Fail returns an ExitError result the way ExecRunner reports a failing tool.
func Fail(c toolrun.Command, code int, stderr string) (toolrun.Result, error) {
	return toolrun.Result{Command: c, ExitCode: code, Stderr: []byte(stderr)},
		&toolrun.ExitError{Tool: c.Tool, ExitCode: code, Stderr: stderr}
}
