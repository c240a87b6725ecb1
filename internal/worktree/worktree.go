// Package worktree manages the per-execution git worktree lane. Each claimed
// execution gets an isolated checkout under .goyais-worktrees/<execution_id>
// on its own branch; executions against non-git projects run in the project
// directory itself.
package worktree

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const (
	// laneDir is the directory under the project root that holds all
	// execution lanes.
	laneDir = ".goyais-worktrees"

	branchPrefix   = "goyais-"
	shortIDLength  = 10
	defaultTimeout = 60 * time.Second
)

// ErrNothingToCommit reports a commit request against a clean tree.
var ErrNothingToCommit = errors.New("nothing to commit, working tree is clean")

// Context describes where one execution runs.
type Context struct {
	Path    string `json:"path"`
	Created bool   `json:"created"`
}

// Manager drives git worktree lifecycle operations. The zero value is not
// usable; construct with New.
type Manager struct {
	timeout time.Duration
}

func New() *Manager {
	return &Manager{timeout: defaultTimeout}
}

// LanePath returns the lane directory for an execution under projectPath.
func LanePath(projectPath, executionID string) string {
	return filepath.Join(projectPath, laneDir, executionID)
}

// BranchName returns the lane branch for an execution.
func BranchName(executionID string) string {
	short := executionID
	if len(short) > shortIDLength {
		short = short[:shortIDLength]
	}
	return branchPrefix + short
}

// Prepare returns the directory the execution should run in. Git projects
// get a fresh worktree lane; everything else, including any git failure,
// degrades to the project directory itself. Degradation is logged, never
// returned as an error.
func (m *Manager) Prepare(ctx context.Context, executionID, projectPath string, projectIsGit bool) Context {
	root := projectPath
	if root == "" {
		if wd, err := os.Getwd(); err == nil {
			root = wd
		}
	}
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}

	if !projectIsGit {
		return Context{Path: root, Created: false}
	}
	if _, err := os.Stat(root); err != nil {
		return Context{Path: root, Created: false}
	}

	lane := LanePath(root, executionID)
	if err := os.MkdirAll(filepath.Dir(lane), 0o755); err != nil {
		slog.Warn("worktree.prepare_failed", "execution_id", executionID, "error", err)
		return Context{Path: root, Created: false}
	}
	if _, err := os.Stat(lane); err == nil {
		return Context{Path: lane, Created: true}
	}

	branch := BranchName(executionID)
	if _, err := m.runGit(ctx, root, nil, "worktree", "add", "-b", branch, lane, "HEAD"); err != nil {
		slog.Warn("worktree.fallback", "execution_id", executionID, "project_path", root, "error", err)
		return Context{Path: root, Created: false}
	}
	slog.Info("worktree.created", "execution_id", executionID, "path", lane, "branch", branch)
	return Context{Path: lane, Created: true}
}

// Commit stages every change in the worktree and commits it with the given
// author identity. Returns the commit SHA, or ErrNothingToCommit when the
// staged diff is empty.
func (m *Manager) Commit(ctx context.Context, worktreeRoot, message, gitName, gitEmail string) (string, error) {
	env := []string{
		"GIT_AUTHOR_NAME=" + gitName,
		"GIT_AUTHOR_EMAIL=" + gitEmail,
		"GIT_COMMITTER_NAME=" + gitName,
		"GIT_COMMITTER_EMAIL=" + gitEmail,
	}

	if _, err := m.runGit(ctx, worktreeRoot, env, "add", "-A"); err != nil {
		return "", err
	}

	// diff --cached --quiet exits 0 when the index matches HEAD.
	if _, err := m.runGit(ctx, worktreeRoot, nil, "diff", "--cached", "--quiet"); err == nil {
		return "", ErrNothingToCommit
	} else if !isExitError(err) {
		return "", err
	}

	if _, err := m.runGit(ctx, worktreeRoot, env, "commit", "-m", message); err != nil {
		return "", err
	}

	sha, err := m.runGit(ctx, worktreeRoot, nil, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(sha), nil
}

// Diff returns the uncommitted changes against HEAD, or the last commit's
// patch when the tree is clean.
func (m *Manager) Diff(ctx context.Context, worktreeRoot string) (string, error) {
	out, err := m.runGit(ctx, worktreeRoot, nil, "diff", "HEAD")
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(out) != "" {
		return out, nil
	}
	return m.runGit(ctx, worktreeRoot, nil, "show", "HEAD")
}

// Remove deletes the execution's lane and best-effort deletes its branch.
// Idempotent: a lane that is already gone is not an error, and git failures
// degrade to removing the directory directly.
func (m *Manager) Remove(ctx context.Context, projectPath, executionID string) {
	lane := LanePath(projectPath, executionID)
	if _, err := os.Stat(lane); err != nil {
		return
	}

	if _, err := m.runGit(ctx, projectPath, nil, "worktree", "remove", "--force", lane); err != nil {
		slog.Warn("worktree.remove_failed", "execution_id", executionID, "error", err)
		if err := os.RemoveAll(lane); err != nil {
			slog.Warn("worktree.remove_fallback_failed", "execution_id", executionID, "error", err)
			return
		}
	}

	if _, err := m.runGit(ctx, projectPath, nil, "branch", "-D", BranchName(executionID)); err != nil {
		slog.Debug("worktree.branch_delete_skipped", "execution_id", executionID, "error", err)
	}
	slog.Info("worktree.removed", "execution_id", executionID)
}

// runGit executes one git command in dir and returns its stdout. extraEnv
// entries are appended to the inherited environment.
func (m *Manager) runGit(ctx context.Context, dir string, extraEnv []string, args ...string) (string, error) {
	timeout := m.timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	gitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(gitCtx, "git", args...)
	cmd.Dir = dir
	if len(extraEnv) > 0 {
		cmd.Env = append(os.Environ(), extraEnv...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(gitCtx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("git %s timed out after %s", strings.Join(args, " "), timeout)
		}
		if detail := strings.TrimSpace(stderr.String()); detail != "" {
			return "", fmt.Errorf("git %s: %s: %w", strings.Join(args, " "), detail, err)
		}
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return stdout.String(), nil
}

func isExitError(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr)
}
