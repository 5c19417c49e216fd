package build

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/ternarybob/arbor"
)

// Invocation is the build command: program name followed by its arguments
type Invocation struct {
	Program string
	Args    []string
	Dir     string // Working directory (empty = process cwd)
}

// NewInvocation builds an Invocation from an ordered token list
func NewInvocation(tokens []string) (Invocation, error) {
	if len(tokens) == 0 || strings.TrimSpace(tokens[0]) == "" {
		return Invocation{}, ErrEmptyInvocation
	}
	args := make([]string, len(tokens)-1)
	copy(args, tokens[1:])
	return Invocation{Program: tokens[0], Args: args}, nil
}

// ParseInvocation splits a whitespace-delimited command line into an Invocation.
// No shell quoting rules are applied.
func ParseInvocation(command string) (Invocation, error) {
	return NewInvocation(strings.Fields(command))
}

// Tokens returns program and arguments as one slice
func (i Invocation) Tokens() []string {
	return append([]string{i.Program}, i.Args...)
}

// String joins the tokens with single spaces, as logged before each run
func (i Invocation) String() string {
	return strings.Join(i.Tokens(), " ")
}

// Result is the outcome of a single build process
type Result struct {
	Success  bool
	ExitCode int
	Stderr   []byte
}

// Runner executes a build invocation to completion
type Runner interface {
	Run(ctx context.Context, inv Invocation) (Result, error)
}

// ExecRunner runs builds as child processes via os/exec
type ExecRunner struct {
	logger arbor.ILogger
}

// NewExecRunner creates a runner that spawns real processes
func NewExecRunner(logger arbor.ILogger) *ExecRunner {
	return &ExecRunner{logger: logger}
}

// Run spawns the process and blocks until it exits. Stdout is discarded.
// A non-zero exit is reported through Result; only a failure to start the
// process is returned as an error.
func (r *ExecRunner) Run(ctx context.Context, inv Invocation) (Result, error) {
	if inv.Program == "" {
		return Result{}, ErrEmptyInvocation
	}

	cmd := exec.CommandContext(ctx, inv.Program, inv.Args...)
	cmd.Dir = inv.Dir

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	r.logger.Debug().
		Str("program", inv.Program).
		Strs("args", inv.Args).
		Str("dir", inv.Dir).
		Msg("Starting build process")

	runErr := cmd.Run()
	if runErr == nil {
		return Result{Success: true, ExitCode: 0, Stderr: stderr.Bytes()}, nil
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		r.logger.Debug().
			Int("exit_code", exitErr.ExitCode()).
			Int("stderr_bytes", stderr.Len()).
			Msg("Build process exited with failure")
		return Result{Success: false, ExitCode: exitErr.ExitCode(), Stderr: stderr.Bytes()}, nil
	}

	return Result{}, fmt.Errorf("%w: %s: %v", ErrSpawn, inv.Program, runErr)
}
