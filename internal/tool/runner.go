package tool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Command is one external tool invocation. Args are passed as discrete exec
// arguments, never joined into a shell string, so attacker-controlled values
// cannot break out of their argument position. Env entries apply to this
// single invocation on top of the parent environment.
type Command struct {
	Name string
	Args []string
	Dir  string
	Env  []string
}

func (c Command) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// Error reports a tool that exited non-zero or failed to start.
type Error struct {
	Command  string
	ExitCode int
	Output   string
	Err      error
}

func (e *Error) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("%s: exit %d: %s", e.Command, e.ExitCode, e.Output)
	}
	return fmt.Sprintf("%s: %v", e.Command, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Runner executes external tools. The call blocks the calling goroutine until
// the child process exits.
type Runner interface {
	Run(ctx context.Context, cmd Command) (string, error)
}

// ExecRunner runs commands via os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, c Command) (string, error) {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		output := strings.TrimSpace(stderr.String())
		if output == "" {
			output = strings.TrimSpace(stdout.String())
		}
		return stdout.String(), &Error{
			Command:  c.Name,
			ExitCode: exitCode,
			Output:   output,
			Err:      err,
		}
	}

	return stdout.String(), nil
}
