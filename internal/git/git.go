package git

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

var (
	// ErrNotARepo indicates the local path has no git metadata.
	ErrNotARepo = errors.New("not a git repository")
	// ErrCloneFailed indicates the initial clone could not be completed.
	ErrCloneFailed = errors.New("clone failed")
	// ErrMergeConflict indicates the tracked branch could not be fast-forwarded.
	ErrMergeConflict = errors.New("fast-forward not possible")
	// ErrDirtyWorkingTree indicates local uncommitted changes block the update.
	ErrDirtyWorkingTree = errors.New("working tree has local changes")
)

// Client provides git operations for the local working copy
type Client interface {
	// EnsureExists clones the repository into dir when no working copy is
	// present. Reports whether a clone was performed.
	EnsureExists(ctx context.Context, url, branch, dir string) (bool, error)
	// CurrentCommit returns the commit hash at the local HEAD
	CurrentCommit(ctx context.Context, dir string) (string, error)
	// Update fast-forwards the tracked branch and returns the new HEAD
	Update(ctx context.Context, dir, branch string) (string, error)
	// CheckRemote verifies the remote and branch are reachable without
	// touching the working copy
	CheckRemote(ctx context.Context, url, branch string) error
}

// ShellClient implements Client by shelling out to the git command
type ShellClient struct {
	token string
}

// NewShellClient creates a git client that uses the git binary, presenting
// the given token for HTTPS remotes (empty for unauthenticated access).
func NewShellClient(token string) *ShellClient {
	return &ShellClient{token: token}
}

// IsRepo reports whether dir contains git metadata.
func IsRepo(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ".git"))
	return err == nil
}

// EnsureExists clones the configured repository when dir is not yet a
// working copy.
func (c *ShellClient) EnsureExists(ctx context.Context, url, branch, dir string) (bool, error) {
	if IsRepo(dir) {
		return false, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return false, fmt.Errorf("%w: failed to create destination: %v", ErrCloneFailed, err)
	}

	cmd := exec.CommandContext(ctx, "git", "clone", "--branch", branch, url, dir)
	c.configureAuth(cmd, url)
	if output, err := cmd.CombinedOutput(); err != nil {
		return false, fmt.Errorf("%w: %v: %s", ErrCloneFailed, err, strings.TrimSpace(string(output)))
	}

	return true, nil
}

// CurrentCommit reads the commit hash of the local HEAD
func (c *ShellClient) CurrentCommit(ctx context.Context, dir string) (string, error) {
	if !IsRepo(dir) {
		return "", fmt.Errorf("%w: %s", ErrNotARepo, dir)
	}

	cmd := exec.CommandContext(ctx, "git", "-C", dir, "rev-parse", "HEAD")
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git rev-parse failed: %w", err)
	}

	return strings.TrimSpace(string(output)), nil
}

// Update pulls the tracked branch with fast-forward only and returns the
// resulting HEAD. Non-fast-forward situations are classified, never resolved.
func (c *ShellClient) Update(ctx context.Context, dir, branch string) (string, error) {
	if !IsRepo(dir) {
		return "", fmt.Errorf("%w: %s", ErrNotARepo, dir)
	}

	cmd := exec.CommandContext(ctx, "git", "-C", dir, "pull", "--ff-only", "origin", branch)
	c.configureAuth(cmd, "")
	if output, err := cmd.CombinedOutput(); err != nil {
		return "", classifyPullError(err, string(output))
	}

	return c.CurrentCommit(ctx, dir)
}

// CheckRemote queries the remote for the branch without mutating anything
func (c *ShellClient) CheckRemote(ctx context.Context, url, branch string) error {
	cmd := exec.CommandContext(ctx, "git", "ls-remote", "--heads", url, branch)
	c.configureAuth(cmd, url)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git ls-remote failed: %w: %s", err, strings.TrimSpace(string(output)))
	}
	if strings.TrimSpace(string(output)) == "" {
		return fmt.Errorf("branch %q not found on remote", branch)
	}
	return nil
}

// classifyPullError maps git pull output onto the failure kinds callers
// distinguish. Matching is on stderr text since the git binary does not
// expose structured errors.
func classifyPullError(err error, output string) error {
	trimmed := strings.TrimSpace(output)

	switch {
	case strings.Contains(output, "Not possible to fast-forward"),
		strings.Contains(output, "CONFLICT"),
		strings.Contains(output, "divergent branches"):
		return fmt.Errorf("%w: %s", ErrMergeConflict, trimmed)
	case strings.Contains(output, "Your local changes"),
		strings.Contains(output, "would be overwritten"),
		strings.Contains(output, "unstaged changes"):
		return fmt.Errorf("%w: %s", ErrDirtyWorkingTree, trimmed)
	case strings.Contains(output, "not a git repository"):
		return fmt.Errorf("%w: %s", ErrNotARepo, trimmed)
	default:
		return fmt.Errorf("git pull failed: %w: %s", err, trimmed)
	}
}

// configureAuth sets up authentication for git commands that contact the
// remote. The token travels in an environment variable read by an inline
// credential helper, so it never appears in the argument list.
func (c *ShellClient) configureAuth(cmd *exec.Cmd, url string) {
	if c.token == "" {
		return
	}
	if url != "" && !strings.HasPrefix(url, "https://") {
		return
	}

	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}
	cmd.Env = append(cmd.Env, "GIT_TERMINAL_PROMPT=0")
	cmd.Env = append(cmd.Env, "AUTOPULLD_GIT_TOKEN="+c.token)
	cmd.Args = insertGitFlags(cmd.Args,
		"-c", `credential.helper=!f() { echo "username=x-access-token"; echo "password=$AUTOPULLD_GIT_TOKEN"; }; f`,
	)
}

// insertGitFlags inserts flags immediately after the "git" command name,
// before the subcommand (e.g. "clone", "pull").
func insertGitFlags(args []string, flags ...string) []string {
	if len(args) == 0 {
		return flags
	}
	result := make([]string, 0, len(args)+len(flags))
	result = append(result, args[0])
	result = append(result, flags...)
	result = append(result, args[1:]...)
	return result
}
