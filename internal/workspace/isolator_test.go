package workspace

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/driftworks/cycle-orchestrator/internal/domain"
	"github.com/driftworks/cycle-orchestrator/internal/vcs"
)

func initRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}

	dir := t.TempDir()
	repo := vcs.Open(dir)
	ctx := context.Background()

	mustRun := func(args ...string) {
		t.Helper()
		if _, err := repo.Run(ctx, args...); err != nil {
			t.Fatal(err)
		}
	}
	mustRun("init", "-b", "main")
	mustRun("config", "user.email", "test@example.com")
	mustRun("config", "user.name", "Test")
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("# test\n"), 0644); err != nil {
		t.Fatal(err)
	}
	mustRun("add", "-A")
	mustRun("commit", "-m", "initial")
	return dir
}

func TestIsolator_AcquireRelease(t *testing.T) {
	repoDir := initRepo(t)
	iso := NewIsolator(repoDir, filepath.Join(t.TempDir(), "worktrees"))
	ctx := context.Background()

	task := domain.NewTask("demo", "t", "d", domain.TypeCode)
	ws, err := iso.Acquire(ctx, task)
	if err != nil {
		t.Fatal(err)
	}
	if ws.Branch != task.Branch {
		t.Errorf("Branch = %q, want %q", ws.Branch, task.Branch)
	}
	if _, err := os.Stat(filepath.Join(ws.Path, "README.md")); err != nil {
		t.Fatalf("worktree not populated: %v", err)
	}

	iso.Release(ctx, ws)
	if _, err := os.Stat(ws.Path); !os.IsNotExist(err) {
		t.Error("worktree dir should be removed on release")
	}
	// Branch survives release so verdict/merge can use it.
	if !vcs.Open(repoDir).HasBranch(ctx, task.Branch) {
		t.Error("task branch should survive release")
	}
}

func TestIsolator_ConcurrentWorkspacesAreIndependent(t *testing.T) {
	repoDir := initRepo(t)
	iso := NewIsolator(repoDir, filepath.Join(t.TempDir(), "worktrees"))
	ctx := context.Background()

	a := domain.NewTask("demo", "a", "d", domain.TypeCode)
	b := domain.NewTask("demo", "b", "d", domain.TypeCode)

	wsA, err := iso.Acquire(ctx, a)
	if err != nil {
		t.Fatal(err)
	}
	defer iso.Release(ctx, wsA)
	wsB, err := iso.Acquire(ctx, b)
	if err != nil {
		t.Fatal(err)
	}
	defer iso.Release(ctx, wsB)

	// A change in one workspace is invisible in the other.
	if err := os.WriteFile(filepath.Join(wsA.Path, "only-a.txt"), []byte("a"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(wsB.Path, "only-a.txt")); !os.IsNotExist(err) {
		t.Error("uncommitted change leaked between workspaces")
	}
}

func TestIsolator_AcquireCleansStaleState(t *testing.T) {
	repoDir := initRepo(t)
	root := filepath.Join(t.TempDir(), "worktrees")
	iso := NewIsolator(repoDir, root)
	ctx := context.Background()

	task := domain.NewTask("demo", "t", "d", domain.TypeCode)

	// First acquisition, then simulate a crashed run: worktree dir and
	// branch left behind.
	ws, err := iso.Acquire(ctx, task)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(ws.Path, "junk.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	// Retry must reach a clean slate regardless of the mess.
	ws2, err := iso.Acquire(ctx, task)
	if err != nil {
		t.Fatal(err)
	}
	defer iso.Release(ctx, ws2)
	if _, err := os.Stat(filepath.Join(ws2.Path, "junk.txt")); !os.IsNotExist(err) {
		t.Error("stale file survived re-acquisition")
	}
}

func TestIsolator_SweepOrphans(t *testing.T) {
	repoDir := initRepo(t)
	root := filepath.Join(t.TempDir(), "worktrees")
	iso := NewIsolator(repoDir, root)
	ctx := context.Background()

	task := domain.NewTask("demo", "t", "d", domain.TypeCode)
	ws, err := iso.Acquire(ctx, task)
	if err != nil {
		t.Fatal(err)
	}

	// Simulate a crash: nobody released the workspace.
	iso.SweepOrphans(ctx)
	if _, err := os.Stat(ws.Path); !os.IsNotExist(err) {
		t.Error("orphaned worktree should be swept")
	}
}
