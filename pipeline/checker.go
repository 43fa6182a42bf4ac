package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// StatusPassed is the run status when every check succeeded.
const StatusPassed = "All tests passed."

// Target is what a Checker validates.
type Target struct {
	ID       string
	Artifact string
}

// Report is the result of one check run.
type Report struct {
	Passed   int           `json:"passed"`
	Failed   int           `json:"failed"`
	Output   string        `json:"output,omitempty"`
	Duration time.Duration `json:"duration"`
	TimedOut bool          `json:"timed_out,omitempty"`
}

// Status renders the report as the status string returned by Run.
func (r Report) Status() string {
	switch {
	case r.TimedOut:
		return fmt.Sprintf("Error: test execution timed out after %s.", r.Duration.Round(time.Millisecond))
	case r.Failed > 0:
		return fmt.Sprintf("%d of %d checks failed.", r.Failed, r.Passed+r.Failed)
	default:
		return StatusPassed
	}
}

// Checker validates an artifact for a known identifier.
type Checker interface {
	Check(ctx context.Context, target Target) (Report, error)
}

// CheckerFunc adapts a function to the Checker interface.
type CheckerFunc func(ctx context.Context, target Target) (Report, error)

// Check calls f(ctx, target).
func (f CheckerFunc) Check(ctx context.Context, target Target) (Report, error) {
	return f(ctx, target)
}

// StaticChecker reports every artifact as passing without executing it.
type StaticChecker struct{}

// Check returns a single passed check.
func (StaticChecker) Check(context.Context, Target) (Report, error) {
	return Report{Passed: 1}, nil
}

// CommandCheckerOptions configures a CommandChecker.
type CommandCheckerOptions struct {
	// FileName is the name the artifact is written to inside the work dir.
	FileName string
	// Timeout bounds a single check run.
	Timeout time.Duration
	// Env is appended to the process environment.
	Env []string
}

// CommandChecker writes the artifact to a temporary directory and runs a
// command against it.
//
// The literal argument "{file}" is replaced by the artifact path. Output
// lines of the form "ok ..." / "not ok ..." (TAP) or "--- PASS" / "--- FAIL"
// are counted as individual checks; without such lines the exit status
// decides a single check.
type CommandChecker struct {
	command string
	args    []string
	opts    CommandCheckerOptions
}

// NewCommandChecker creates a CommandChecker running command with args.
func NewCommandChecker(command string, args []string, optFns ...func(o *CommandCheckerOptions)) *CommandChecker {
	opts := CommandCheckerOptions{
		FileName: "artifact.txt",
		Timeout:  30 * time.Second,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &CommandChecker{
		command: command,
		args:    args,
		opts:    opts,
	}
}

var (
	passLine = regexp.MustCompile(`^(ok\b|--- PASS)`)
	failLine = regexp.MustCompile(`^(not ok\b|--- FAIL)`)
)

// Check runs the command. A non-zero exit is a failed check, not an error;
// errors are returned only when the command could not be started.
func (c *CommandChecker) Check(ctx context.Context, target Target) (Report, error) {
	dir, err := os.MkdirTemp("", "pdlc-check-*")
	if err != nil {
		return Report{}, fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(dir)

	file := filepath.Join(dir, c.opts.FileName)
	if err := os.WriteFile(file, []byte(target.Artifact), 0o600); err != nil {
		return Report{}, fmt.Errorf("write artifact: %w", err)
	}

	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	args := make([]string, len(c.args))
	for i, a := range c.args {
		args[i] = strings.ReplaceAll(a, "{file}", file)
	}

	cmd := exec.CommandContext(ctx, c.command, args...)
	cmd.Dir = dir
	cmd.WaitDelay = time.Second
	cmd.Env = append(cmd.Environ(), "PDLC_TASK_ID="+target.ID)
	cmd.Env = append(cmd.Env, c.opts.Env...)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	start := time.Now()
	runErr := cmd.Run()
	report := Report{
		Output:   out.String(),
		Duration: time.Since(start),
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		report.TimedOut = true
		return report, nil
	}

	if err := ctx.Err(); err != nil {
		return report, err
	}

	var exitErr *exec.ExitError
	if runErr != nil && !errors.As(runErr, &exitErr) {
		return report, fmt.Errorf("run %s: %w", c.command, runErr)
	}

	for _, line := range strings.Split(report.Output, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case failLine.MatchString(line):
			report.Failed++
		case passLine.MatchString(line):
			report.Passed++
		}
	}

	if report.Passed+report.Failed == 0 {
		if runErr != nil {
			report.Failed = 1
		} else {
			report.Passed = 1
		}
	} else if runErr != nil && report.Failed == 0 {
		report.Failed = 1
	}

	return report, nil
}
