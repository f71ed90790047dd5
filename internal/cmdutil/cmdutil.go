// Package cmdutil runs short-lived external commands under a bounded
// timeout, adapted from the teacher daemon's internal/cmdutil helper. The HA
// core uses it for the admin "util-process start" command and one-shot
// auxiliary tooling invocations — anything that needs fork/exec but isn't a
// long-lived supervised child (those go through internal/resource instead).
package cmdutil

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"
)

const (
	fastTimeout   = 5 * time.Second
	mediumTimeout = 30 * time.Second
	slowTimeout   = 5 * time.Minute
)

// Result carries a finished command's output and exit status.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Run executes name with args under timeout, returning combined stdout and
// an error that wraps stderr when the command exits non-zero.
func Run(ctx context.Context, timeout time.Duration, name string, args ...string) (Result, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}
	if cctx.Err() == context.DeadlineExceeded {
		return res, fmt.Errorf("cmdutil: %s timed out after %s", name, timeout)
	}
	if err != nil {
		return res, fmt.Errorf("cmdutil: %s: %w: %s", name, err, stderr.String())
	}
	return res, nil
}

// RunFast runs a command expected to complete in well under 5 seconds
// (status probes, short admin helpers).
func RunFast(ctx context.Context, name string, args ...string) (Result, error) {
	return Run(ctx, fastTimeout, name, args...)
}

// RunMedium runs a command given up to 30 seconds (util-process launches).
func RunMedium(ctx context.Context, name string, args ...string) (Result, error) {
	return Run(ctx, mediumTimeout, name, args...)
}

// RunSlow runs a command given up to 5 minutes (rarely needed; reserved for
// heavyweight admin tooling invocations).
func RunSlow(ctx context.Context, name string, args ...string) (Result, error) {
	return Run(ctx, slowTimeout, name, args...)
}

// RunWithStdin behaves like Run but feeds in to the command's stdin.
func RunWithStdin(ctx context.Context, timeout time.Duration, in []byte, name string, args ...string) (Result, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, name, args...)
	cmd.Stdin = bytes.NewReader(in)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}
	if cctx.Err() == context.DeadlineExceeded {
		return res, fmt.Errorf("cmdutil: %s timed out after %s", name, timeout)
	}
	if err != nil {
		return res, fmt.Errorf("cmdutil: %s: %w: %s", name, err, stderr.String())
	}
	return res, nil
}
