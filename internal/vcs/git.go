// Package vcs wraps the git commands the orchestrator needs: branch and
// worktree management, diff summaries, and default-branch detection. Every
// command runs with a bounded timeout; non-zero exit is an error, not a crash.
package vcs

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// commandTimeout bounds git metadata operations
const commandTimeout = 30 * time.Second

// Repo runs git commands against one working directory
type Repo struct {
	Dir     string
	Timeout time.Duration
}

// Open returns a Repo for the given directory
func Open(dir string) *Repo {
	return &Repo{Dir: dir, Timeout: commandTimeout}
}

// Run executes a git command in the repo directory and returns trimmed stdout
func (r *Repo) Run(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = r.Dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %s: %w", strings.Join(args, " "), strings.TrimSpace(string(out)), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// DefaultBranch detects the repository's default branch (main or master)
func (r *Repo) DefaultBranch(ctx context.Context) (string, error) {
	if out, err := r.Run(ctx, "symbolic-ref", "refs/remotes/origin/HEAD", "--short"); err == nil {
		parts := strings.Split(out, "/")
		return parts[len(parts)-1], nil
	}
	if _, err := r.Run(ctx, "rev-parse", "--verify", "main"); err == nil {
		return "main", nil
	}
	if _, err := r.Run(ctx, "rev-parse", "--verify", "master"); err == nil {
		return "master", nil
	}
	return "", fmt.Errorf("no default branch found in %s", r.Dir)
}

// Checkout switches the working tree to a branch
func (r *Repo) Checkout(ctx context.Context, branch string) error {
	_, err := r.Run(ctx, "checkout", branch)
	return err
}

// HasBranch reports whether a local branch exists
func (r *Repo) HasBranch(ctx context.Context, branch string) bool {
	_, err := r.Run(ctx, "rev-parse", "--verify", "refs/heads/"+branch)
	return err == nil
}

// DeleteBranch force-deletes a local branch
func (r *Repo) DeleteBranch(ctx context.Context, branch string) error {
	_, err := r.Run(ctx, "branch", "-D", branch)
	return err
}

// WorktreeAdd creates a worktree at path on a new branch rooted at start
func (r *Repo) WorktreeAdd(ctx context.Context, path, branch, start string) error {
	_, err := r.Run(ctx, "worktree", "add", "-b", branch, path, start)
	return err
}

// WorktreeRemove force-removes a worktree
func (r *Repo) WorktreeRemove(ctx context.Context, path string) error {
	_, err := r.Run(ctx, "worktree", "remove", "--force", path)
	return err
}

// WorktreePrune cleans up stale worktree bookkeeping
func (r *Repo) WorktreePrune(ctx context.Context) error {
	_, err := r.Run(ctx, "worktree", "prune")
	return err
}

// HasChanges reports whether the working tree has staged, unstaged, or
// untracked changes
func (r *Repo) HasChanges(ctx context.Context) (bool, error) {
	out, err := r.Run(ctx, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return out != "", nil
}

// CommitAll stages everything and commits with the given message
func (r *Repo) CommitAll(ctx context.Context, message string) error {
	if _, err := r.Run(ctx, "add", "-A"); err != nil {
		return err
	}
	_, err := r.Run(ctx, "commit", "-m", message)
	return err
}

// DiffStat returns the stat summary of changes from base to HEAD,
// using the merge base so upstream drift doesn't pollute the summary
func (r *Repo) DiffStat(ctx context.Context, base string) (string, error) {
	return r.Run(ctx, "diff", "--stat", base+"...HEAD")
}

// ChangedFiles lists files changed between base and HEAD
func (r *Repo) ChangedFiles(ctx context.Context, base string) ([]string, error) {
	out, err := r.Run(ctx, "diff", "--name-only", base+"...HEAD")
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// ChangedFilesBetween lists files changed between two refs
func (r *Repo) ChangedFilesBetween(ctx context.Context, base, head string) ([]string, error) {
	out, err := r.Run(ctx, "diff", "--name-only", base+"..."+head)
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// Merge merges a branch into the current branch with a merge commit
func (r *Repo) Merge(ctx context.Context, branch, message string) (string, error) {
	return r.Run(ctx, "merge", branch, "--no-ff", "-m", message)
}

// MergeAbort abandons an in-progress merge
func (r *Repo) MergeAbort(ctx context.Context) error {
	_, err := r.Run(ctx, "merge", "--abort")
	return err
}
