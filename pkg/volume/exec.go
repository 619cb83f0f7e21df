package volume

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
)

// CommandRunner runs a host command and returns its standard output
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// CommandError describes a host command that exited unsuccessfully
type CommandError struct {
	Command string
	Args    []string
	Stderr  string
	Err     error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("command %s %s: %v", e.Command, strings.Join(e.Args, " "), e.Err)
	if e.Stderr != "" {
		msg = fmt.Sprintf("%s, stderr: %s", msg, e.Stderr)
	}
	return msg
}

func (e *CommandError) Unwrap() error { return e.Err }

// ExecRunner runs commands with os/exec, optionally through sudo
type ExecRunner struct {
	Sudo bool
}

// Run executes the command and captures stderr into the returned error.
// When ctx expires first the error wraps ctx.Err().
func (r ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	command, commandArgs := name, args
	if r.Sudo {
		command, commandArgs = "sudo", append([]string{"-n", name}, args...)
	}

	cmd := exec.CommandContext(ctx, command, commandArgs...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.Logger.Debug().
		Str("command", name).
		Strs("args", args).
		Bool("sudo", r.Sudo).
		Msg("Running host command")

	err := cmd.Run()
	metrics.HostCommandsTotal.WithLabelValues(name, metrics.Result(err)).Inc()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return stdout.Bytes(), &CommandError{
			Command: name,
			Args:    args,
			Stderr:  strings.TrimSpace(stderr.String()),
			Err:     err,
		}
	}

	return stdout.Bytes(), nil
}
