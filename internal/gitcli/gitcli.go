// Package gitcli runs git commands against a repository directory.
//
// This package wraps the git binary for the operations diffdeck needs:
// the difference probe, raw diff output for change checksums, and commit
// history for the history API. All commands honor a context deadline.
package gitcli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Runner executes git commands in one repository's working directory.
type Runner struct {
	// Dir is the repository root the commands run in.
	Dir string

	// Git is the git binary to invoke. Empty means "git" from PATH;
	// tests point this at a stub.
	Git string
}

// New creates a Runner for the given repository directory.
func New(dir string) *Runner {
	return &Runner{Dir: dir}
}

func (r *Runner) gitBin() string {
	if r.Git != "" {
		return r.Git
	}
	return "git"
}

// Command builds an *exec.Cmd for a git invocation in the repository
// directory without running it. Callers that need to supervise the process
// themselves (the difftool launcher) use this instead of Exec.
func (r *Runner) Command(ctx context.Context, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, r.gitBin(), args...)
	cmd.Dir = r.Dir
	return cmd
}

// Exec executes a git command and returns its combined output.
func (r *Runner) Exec(ctx context.Context, args ...string) ([]byte, error) {
	cmd := r.Command(ctx, args...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return output, fmt.Errorf("git %s failed: %w\n%s",
			strings.Join(args, " "), err, string(output))
	}

	return output, nil
}

// DiffQuiet runs "git diff --quiet" with the given diff arguments and
// reports whether any differences exist.
//
// Exit code contract: 0 = identical, 1 = differs, anything else = error.
func (r *Runner) DiffQuiet(ctx context.Context, diffArgs []string) (bool, error) {
	args := append([]string{"diff", "--quiet"}, diffArgs...)
	cmd := r.Command(ctx, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return false, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return true, nil
	}

	return false, fmt.Errorf("git diff --quiet failed: %w\n%s", err, stderr.String())
}

// RawDiff runs "git diff" with the given arguments and returns the raw
// textual output. Exit codes 0 and 1 are both success (no diff / has diff).
func (r *Runner) RawDiff(ctx context.Context, diffArgs []string) ([]byte, error) {
	args := append([]string{"diff"}, diffArgs...)
	cmd := r.Command(ctx, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) || exitErr.ExitCode() != 1 {
			return nil, fmt.Errorf("git diff failed: %w\n%s", err, stderr.String())
		}
	}

	return stdout.Bytes(), nil
}

// CurrentBranch returns the current branch name, or empty string in a
// detached HEAD state.
func (r *Runner) CurrentBranch(ctx context.Context) (string, error) {
	cmd := r.Command(ctx, "rev-parse", "--abbrev-ref", "HEAD")

	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git rev-parse failed: %w", err)
	}

	branch := strings.TrimSpace(string(output))
	if branch == "HEAD" {
		return "", nil
	}
	return branch, nil
}
