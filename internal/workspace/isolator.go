// Package workspace gives each concurrently running task its own git worktree
// on a dedicated branch, so parallel executions never observe each other's
// uncommitted changes.
package workspace

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/driftworks/cycle-orchestrator/internal/domain"
	"github.com/driftworks/cycle-orchestrator/internal/vcs"
)

// IsolationError wraps a version-control failure during workspace setup
type IsolationError struct {
	TaskID string
	Op     string
	Err    error
}

func (e *IsolationError) Error() string {
	return fmt.Sprintf("isolation failed for task %s (%s): %v", e.TaskID, e.Op, e.Err)
}

func (e *IsolationError) Unwrap() error { return e.Err }

// Workspace is an isolated, branch-scoped working copy for one task
type Workspace struct {
	TaskID string
	Branch string
	Path   string
}

// Isolator creates and tears down per-task worktrees under a root directory
type Isolator struct {
	repoDir string
	rootDir string
}

// NewIsolator returns an Isolator for the repository at repoDir, placing
// worktrees under rootDir
func NewIsolator(repoDir, rootDir string) *Isolator {
	return &Isolator{repoDir: repoDir, rootDir: rootDir}
}

// Acquire creates a fresh worktree for the task on its isolation branch,
// rooted at the repository's default branch. Stale artifacts from a previous
// attempt (a leftover worktree directory or branch) are forcibly removed
// first so retries always start from a clean slate.
func (i *Isolator) Acquire(ctx context.Context, task *domain.Task) (*Workspace, error) {
	repo := vcs.Open(i.repoDir)
	wtPath := filepath.Join(i.rootDir, task.ID)

	// Clean slate: a prior failed or timed-out attempt may have left a
	// worktree and branch behind. All of these are best-effort.
	if err := repo.WorktreeRemove(ctx, wtPath); err == nil {
		log.Printf("[workspace] removed stale worktree for task %s", task.ID)
	}
	os.RemoveAll(wtPath)
	repo.WorktreePrune(ctx)
	if repo.HasBranch(ctx, task.Branch) {
		if err := repo.DeleteBranch(ctx, task.Branch); err != nil {
			return nil, &IsolationError{TaskID: task.ID, Op: "delete stale branch", Err: err}
		}
	}

	defaultBranch, err := repo.DefaultBranch(ctx)
	if err != nil {
		return nil, &IsolationError{TaskID: task.ID, Op: "detect default branch", Err: err}
	}

	if err := os.MkdirAll(i.rootDir, 0755); err != nil {
		return nil, &IsolationError{TaskID: task.ID, Op: "create worktree root", Err: err}
	}

	if err := repo.WorktreeAdd(ctx, wtPath, task.Branch, defaultBranch); err != nil {
		return nil, &IsolationError{TaskID: task.ID, Op: "worktree add", Err: err}
	}

	return &Workspace{TaskID: task.ID, Branch: task.Branch, Path: wtPath}, nil
}

// Release tears down the workspace's worktree. The task branch is kept: its
// commits are what the verdict and merge steps evaluate. Removal failures are
// logged and left for SweepOrphans, never surfaced to the caller.
func (i *Isolator) Release(ctx context.Context, ws *Workspace) {
	repo := vcs.Open(i.repoDir)
	if err := repo.WorktreeRemove(ctx, ws.Path); err != nil {
		log.Printf("[workspace] release of %s failed (will be swept): %v", ws.Path, err)
		return
	}
}

// SweepOrphans removes any worktree directories left behind by crashed or
// interrupted runs. Call at startup; errors are logged, never fatal.
func (i *Isolator) SweepOrphans(ctx context.Context) {
	repo := vcs.Open(i.repoDir)
	repo.WorktreePrune(ctx)

	entries, err := os.ReadDir(i.rootDir)
	if err != nil {
		return // no worktree root yet, nothing to sweep
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(i.rootDir, entry.Name())
		repo.WorktreeRemove(ctx, path)
		if err := os.RemoveAll(path); err != nil {
			log.Printf("[workspace] sweep could not remove %s: %v", path, err)
		} else {
			log.Printf("[workspace] swept orphaned worktree %s", path)
		}
	}
	repo.WorktreePrune(ctx)
}
