package hook

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
)

// ErrHookFailed indicates the post-update command exited non-zero. The sync
// that preceded the hook is committed regardless, so callers log this
// instead of failing the cycle.
var ErrHookFailed = errors.New("post-update command failed")

// Result captures one hook invocation
type Result struct {
	Ran      bool   // false when no command is configured
	ExitCode int    // 0 when Ran is false
	Output   string // combined stdout/stderr
}

// Runner executes the operator's post-update command
type Runner interface {
	// Run executes command in dir and reports its outcome. An empty command
	// is a no-op returning a neutral success result.
	Run(ctx context.Context, command, dir string) (Result, error)
	// Validate performs the dry-run checks without executing anything
	Validate(command, dir string) error
}

// ShellRunner implements Runner via the system shell
type ShellRunner struct{}

// NewShellRunner creates a runner that executes commands with sh -c
func NewShellRunner() *ShellRunner {
	return &ShellRunner{}
}

// Run executes the command synchronously in the given working directory
func (r *ShellRunner) Run(ctx context.Context, command, dir string) (Result, error) {
	if command == "" {
		return Result{Ran: false, ExitCode: 0}, nil
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir

	output, err := cmd.CombinedOutput()
	result := Result{Ran: true, Output: string(output)}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, fmt.Errorf("%w: exit status %d", ErrHookFailed, result.ExitCode)
		}
		result.ExitCode = -1
		return result, fmt.Errorf("%w: %v", ErrHookFailed, err)
	}

	return result, nil
}

// Validate checks that a configured command could run: the working directory
// must exist. An empty command is valid (the hook is optional).
func (r *ShellRunner) Validate(command, dir string) error {
	if command == "" {
		return nil
	}

	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("working directory %s not usable: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("working directory %s is not a directory", dir)
	}

	return nil
}
