// Package planner turns project state into new tasks. It assembles a prompt
// from the current backlog and configured context files, asks the external
// planning collaborator, and converts its proposals into queued tasks.
package planner

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/driftworks/cycle-orchestrator/internal/audit"
	"github.com/driftworks/cycle-orchestrator/internal/collab"
	"github.com/driftworks/cycle-orchestrator/internal/config"
	"github.com/driftworks/cycle-orchestrator/internal/domain"
	"github.com/driftworks/cycle-orchestrator/internal/prompts"
	"github.com/driftworks/cycle-orchestrator/internal/statestore"
)

const (
	contextFileLimit = 3000
	taskSummaryLimit = 100
)

// Planner generates tasks for one project
type Planner struct {
	project  config.ProjectConfig
	store    *statestore.Store
	collab   collab.Planner
	auditLog *audit.Log
	prompts  *prompts.Loader
}

// New creates a Planner for one project
func New(project config.ProjectConfig, store *statestore.Store, c collab.Planner) *Planner {
	return &Planner{
		project:  project,
		store:    store,
		collab:   c,
		auditLog: audit.New(project.Path),
		prompts:  prompts.NewLoader(filepath.Join(project.Path, ".orch", "prompts")),
	}
}

// Plan asks the collaborator for new tasks. A failed or malformed planning
// call yields zero tasks and a nil error; planning trouble must never sink a
// cycle. The returned cost covers the planning call itself.
func (p *Planner) Plan(ctx context.Context, cycleID string) ([]*domain.Task, float64, error) {
	prompt, err := p.buildPrompt(cycleID)
	if err != nil {
		return nil, 0, err
	}

	system, err := p.prompts.Load("planner")
	if err != nil {
		log.Printf("[planner] %v", err)
	}
	resp, err := p.collab.Plan(ctx, collab.PlanRequest{
		Dir:          p.project.Path,
		Model:        p.project.PlannerModel,
		SystemPrompt: system,
		Prompt:       prompt,
		MaxTasks:     p.project.MaxWorkers,
		BudgetUSD:    p.project.MaxBudgetPerTask,
	})
	if err != nil {
		log.Printf("[planner] planning failed for %s: %v", p.project.Name, err)
		var cost float64
		if resp != nil {
			cost = resp.CostUSD
		}
		return nil, cost, nil
	}

	tasks := make([]*domain.Task, 0, len(resp.Proposals))
	for _, prop := range resp.Proposals {
		t := domain.NewTask(p.project.Name, prop.Title, prop.Description, prop.Type)
		t.Priority = prop.Priority
		t.CycleID = cycleID
		t.Branch = domain.BranchName(p.project.BranchPrefix, t.ID)
		tasks = append(tasks, t)
	}

	if err := p.auditLog.WritePlanLog(cycleID, resp.Reasoning, len(tasks)); err != nil {
		log.Printf("[planner] audit write failed: %v", err)
	}
	return tasks, resp.CostUSD, nil
}

// buildPrompt summarizes the task backlog and project context files
func (p *Planner) buildPrompt(cycleID string) (string, error) {
	pending, err := p.store.ListTasks(statestore.ListOptions{Project: p.project.Name, Status: domain.StatusPending})
	if err != nil {
		return "", fmt.Errorf("list pending: %w", err)
	}
	inProgress, err := p.store.ListTasks(statestore.ListOptions{Project: p.project.Name, Status: domain.StatusInProgress})
	if err != nil {
		return "", fmt.Errorf("list in-progress: %w", err)
	}
	done, err := p.store.ListTasks(statestore.ListOptions{Project: p.project.Name, Status: domain.StatusDone})
	if err != nil {
		return "", fmt.Errorf("list done: %w", err)
	}
	failed, err := p.store.ListTasks(statestore.ListOptions{Project: p.project.Name, Status: domain.StatusFailed})
	if err != nil {
		return "", fmt.Errorf("list failed: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Planning Cycle for: %s\n\n", p.project.Name)

	fmt.Fprintf(&b, "## Worker Constraints\n")
	fmt.Fprintf(&b, "- Max workers this cycle: %d\n", p.project.MaxWorkers)
	fmt.Fprintf(&b, "- Worker timeout: %ds\n", p.project.WorkerTimeoutSeconds)
	fmt.Fprintf(&b, "- Worker budget: $%.2f per task\n", p.project.MaxBudgetPerTask)
	fmt.Fprintf(&b, "- Each worker runs on an isolated git branch; workers cannot see each other's changes\n\n")

	fmt.Fprintf(&b, "## Current Task State\n")
	fmt.Fprintf(&b, "- Pending (queued, not yet started): %d\n", len(pending))
	fmt.Fprintf(&b, "- In-progress (currently running): %d\n", len(inProgress))
	fmt.Fprintf(&b, "- Recently completed: %d\n", len(done))
	fmt.Fprintf(&b, "- Recently failed: %d\n\n", len(failed))

	fmt.Fprintf(&b, "### Pending Tasks\n%s\n", formatTasks(pending))
	fmt.Fprintf(&b, "### Recently Completed Tasks\n%s\n", formatTasks(done))
	fmt.Fprintf(&b, "### Recently Failed Tasks (do not re-emit these as-is; decompose or fix prerequisites)\n%s\n", formatTasks(failed))

	fmt.Fprintf(&b, "## Project Context Files\n%s\n", p.contextFiles())

	fmt.Fprintf(&b, `## Your Job

1. Explore the codebase. Understand what exists before proposing work.
2. Identify the highest-value work: fix broken things > unblock future work > add tests > new features.
3. Write your plan to .orch/plans/cycle_%s.md explaining what you found, what you propose, and what you deferred.
4. Produce %d tasks or fewer. Each must be completable by one worker within the budget.
5. Write complete task descriptions: the worker sees only the description and the codebase.

Return the JSON task list.
`, cycleID, p.project.MaxWorkers)

	return b.String(), nil
}

func (p *Planner) contextFiles() string {
	var b strings.Builder
	for _, rel := range p.project.PlannerContextFiles {
		data, err := os.ReadFile(filepath.Join(p.project.Path, rel))
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "\n## %s\n```\n%s\n```\n", rel, audit.Truncate(string(data), contextFileLimit))
	}
	if b.Len() == 0 {
		return "(no context files found)"
	}
	return b.String()
}

func formatTasks(tasks []*domain.Task) string {
	if len(tasks) == 0 {
		return "(none)\n"
	}
	var b strings.Builder
	for _, t := range tasks {
		fmt.Fprintf(&b, "- [%s] %s: %s\n", t.Status, t.Title, audit.Truncate(t.Description, taskSummaryLimit))
	}
	return b.String()
}
