// Package merge folds approved task branches back into the project's default
// branch. Conflicting branches are left intact for a human; everything else
// merges with a merge commit and the branch is deleted afterwards.
package merge

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/driftworks/cycle-orchestrator/internal/config"
	"github.com/driftworks/cycle-orchestrator/internal/domain"
	"github.com/driftworks/cycle-orchestrator/internal/statestore"
	"github.com/driftworks/cycle-orchestrator/internal/vcs"
)

// Outcome describes one branch merge attempt
type Outcome struct {
	TaskID  string
	Branch  string
	Merged  bool
	Message string
}

// Merger integrates completed task branches for one project
type Merger struct {
	project config.ProjectConfig
	repo    *vcs.Repo
}

// New creates a Merger for one project
func New(project config.ProjectConfig) *Merger {
	return &Merger{project: project, repo: vcs.Open(project.Path)}
}

// MergeTask merges one task's branch into the default branch. On conflict the
// merge is aborted and the branch kept for manual resolution.
func (m *Merger) MergeTask(ctx context.Context, task *domain.Task) Outcome {
	out := Outcome{TaskID: task.ID, Branch: task.Branch}

	defaultBranch, err := m.repo.DefaultBranch(ctx)
	if err != nil {
		out.Message = err.Error()
		return out
	}
	if !m.repo.HasBranch(ctx, task.Branch) {
		out.Message = fmt.Sprintf("branch %s does not exist", task.Branch)
		return out
	}
	if err := m.repo.Checkout(ctx, defaultBranch); err != nil {
		out.Message = err.Error()
		return out
	}

	msg := fmt.Sprintf("Merge %s: %s", task.Branch, task.Title)
	mergeOut, err := m.repo.Merge(ctx, task.Branch, msg)
	if err != nil {
		if strings.Contains(mergeOut, "CONFLICT") || strings.Contains(err.Error(), "CONFLICT") {
			if aerr := m.repo.MergeAbort(ctx); aerr != nil {
				log.Printf("[merge] abort failed for %s: %v", task.Branch, aerr)
			}
			out.Message = fmt.Sprintf("conflict merging %s, aborted: %v", task.Branch, err)
			return out
		}
		out.Message = err.Error()
		return out
	}

	// The branch has served its purpose once merged.
	if err := m.repo.DeleteBranch(ctx, task.Branch); err != nil {
		log.Printf("[merge] cannot delete %s: %v", task.Branch, err)
	}
	out.Merged = true
	out.Message = fmt.Sprintf("merged %s into %s", task.Branch, defaultBranch)
	return out
}

// MergeDone merges every done task whose branch still exists, oldest first.
// One conflict does not stop the rest.
func (m *Merger) MergeDone(ctx context.Context, store *statestore.Store) ([]Outcome, error) {
	done, err := store.ListTasks(statestore.ListOptions{
		Project: m.project.Name,
		Status:  domain.StatusDone,
	})
	if err != nil {
		return nil, fmt.Errorf("list done tasks: %w", err)
	}

	var outcomes []Outcome
	for _, task := range done {
		if !m.repo.HasBranch(ctx, task.Branch) {
			continue
		}
		out := m.MergeTask(ctx, task)
		if out.Merged {
			log.Printf("[merge] %s", out.Message)
		} else {
			log.Printf("[merge] task %s: %s", task.ID, out.Message)
		}
		outcomes = append(outcomes, out)
	}
	return outcomes, nil
}
