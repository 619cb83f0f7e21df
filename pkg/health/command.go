package health

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cuemby/burrow/pkg/volume"
)

// CommandChecker checks that a host command runs, for example that
// `losetup --version` works with the configured sudo settings
type CommandChecker struct {
	Name   string
	Args   []string
	Runner volume.CommandRunner
}

// NewCommandChecker creates a checker running name with args through runner
func NewCommandChecker(runner volume.CommandRunner, name string, args ...string) *CommandChecker {
	return &CommandChecker{Name: name, Args: args, Runner: runner}
}

// Check runs the command and reports the first line of its output
func (c *CommandChecker) Check(ctx context.Context) Result {
	start := time.Now()

	out, err := c.Runner.Run(ctx, c.Name, c.Args...)
	if err != nil {
		return failed(start, err.Error())
	}

	line := strings.TrimSpace(string(out))
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	if len(line) > 100 {
		line = line[:100] + "..."
	}
	if line == "" {
		line = fmt.Sprintf("%s ran successfully", c.Name)
	}
	return passed(start, line)
}

// Type returns the health check type
func (c *CommandChecker) Type() CheckType {
	return CheckTypeCommand
}

// Target returns the command line
func (c *CommandChecker) Target() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}
