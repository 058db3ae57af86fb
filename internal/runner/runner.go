// Package runner drives one full cycle for a project: plan when the backlog
// is low, claim pending tasks, execute them in parallel, judge each result
// sequentially, and record the cycle outcome.
package runner

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/driftworks/cycle-orchestrator/internal/config"
	"github.com/driftworks/cycle-orchestrator/internal/domain"
	"github.com/driftworks/cycle-orchestrator/internal/statestore"
)

// TaskExecutor runs one task to completion. Failures are encoded in the
// result, never returned as errors.
type TaskExecutor interface {
	Run(ctx context.Context, task *domain.Task) *domain.ExecutionResult
}

// VerdictEngine judges one execution result
type VerdictEngine interface {
	Evaluate(ctx context.Context, task *domain.Task, result *domain.ExecutionResult) *domain.Verdict
}

// TaskPlanner proposes new tasks for a cycle
type TaskPlanner interface {
	Plan(ctx context.Context, cycleID string) ([]*domain.Task, float64, error)
}

// Runner executes cycles for one project
type Runner struct {
	project  config.ProjectConfig
	store    *statestore.Store
	planner  TaskPlanner
	executor TaskExecutor
	verdicts VerdictEngine
}

// New creates a Runner for one project
func New(project config.ProjectConfig, store *statestore.Store, planner TaskPlanner, executor TaskExecutor, verdicts VerdictEngine) *Runner {
	return &Runner{
		project:  project,
		store:    store,
		planner:  planner,
		executor: executor,
		verdicts: verdicts,
	}
}

// RunCycle performs one cycle. A paused project completes immediately with
// zero work and no persisted cycle row. Any internal error marks the cycle
// failed rather than propagating.
func (r *Runner) RunCycle(ctx context.Context) (*domain.Cycle, error) {
	state, err := r.store.ProjectState(r.project.Name)
	if err != nil {
		return nil, fmt.Errorf("project state: %w", err)
	}
	if state.Paused {
		log.Printf("[runner] project %s is paused, skipping cycle", r.project.Name)
		cycle := domain.NewCycle(r.project.Name)
		cycle.Status = domain.CycleCompleted
		return cycle, nil
	}

	cycle := domain.NewCycle(r.project.Name)
	if err := r.store.CreateCycle(cycle); err != nil {
		return nil, fmt.Errorf("create cycle: %w", err)
	}

	if err := r.runBody(ctx, cycle, state); err != nil {
		log.Printf("[runner] cycle %s failed for %s: %v", cycle.ID, r.project.Name, err)
		cycle.Status = domain.CycleFailed
		cycle.Error = err.Error()
		if cerr := r.store.CompleteCycle(cycle.ID, domain.CycleFailed,
			cycle.TasksCreated, cycle.TasksCompleted, cycle.TasksFailed,
			cycle.TotalCostUSD, err.Error()); cerr != nil {
			log.Printf("[runner] cannot record failed cycle %s: %v", cycle.ID, cerr)
		}
	}
	return cycle, nil
}

func (r *Runner) runBody(ctx context.Context, cycle *domain.Cycle, state *domain.ProjectState) error {
	// Plan only when the backlog cannot fill all worker slots.
	pendingCount, err := r.store.PendingCount(r.project.Name)
	if err != nil {
		return fmt.Errorf("pending count: %w", err)
	}
	if pendingCount < r.project.MaxWorkers {
		log.Printf("[runner] backlog low (%d), planning new tasks for %s", pendingCount, r.project.Name)
		newTasks, planCost, err := r.planner.Plan(ctx, cycle.ID)
		if err != nil {
			return fmt.Errorf("plan: %w", err)
		}
		cycle.TotalCostUSD += planCost
		for _, t := range newTasks {
			if err := r.store.CreateTask(t); err != nil {
				return fmt.Errorf("create task: %w", err)
			}
		}
		cycle.TasksCreated = len(newTasks)
		log.Printf("[runner] planned %d new tasks for %s", len(newTasks), r.project.Name)
	}

	// Claim up to MaxWorkers pending tasks. Losing a claim race just means
	// another runner got there first.
	pending, err := r.store.ListTasks(statestore.ListOptions{
		Project: r.project.Name,
		Status:  domain.StatusPending,
	})
	if err != nil {
		return fmt.Errorf("list pending: %w", err)
	}
	var toRun []*domain.Task
	for _, task := range pending {
		if len(toRun) >= r.project.MaxWorkers {
			break
		}
		claimed, err := r.store.TryClaimTask(task.ID)
		if err != nil {
			return fmt.Errorf("claim task %s: %w", task.ID, err)
		}
		if claimed {
			toRun = append(toRun, task)
		}
	}

	if len(toRun) == 0 {
		log.Printf("[runner] no tasks to run for %s", r.project.Name)
		return r.finishCycle(cycle, state)
	}

	log.Printf("[runner] running %d tasks for %s", len(toRun), r.project.Name)
	results := r.executeParallel(ctx, toRun)

	// Verdicts run one at a time: the engine checks out branches in the
	// shared project checkout.
	for i, result := range results {
		if err := r.store.SaveResult(result); err != nil {
			return fmt.Errorf("save result %s: %w", result.TaskID, err)
		}
		cycle.TotalCostUSD += result.CostUSD
		task := toRun[i]

		if !result.Success {
			if err := r.store.UpdateTaskStatus(task.ID, domain.StatusFailed); err != nil {
				return fmt.Errorf("fail task %s: %w", task.ID, err)
			}
			cycle.TasksFailed++
			continue
		}

		verdict := r.verdicts.Evaluate(ctx, task, result)
		if err := r.store.SaveVerdict(verdict); err != nil {
			return fmt.Errorf("save verdict %s: %w", task.ID, err)
		}
		cycle.TotalCostUSD += verdict.CostUSD

		switch {
		case verdict.Passed:
			if err := r.store.UpdateTaskStatus(task.ID, domain.StatusDone); err != nil {
				return fmt.Errorf("complete task %s: %w", task.ID, err)
			}
			cycle.TasksCompleted++
		case task.RetriesLeft():
			n, err := r.store.IncrementRetry(task.ID)
			if err != nil {
				return fmt.Errorf("requeue task %s: %w", task.ID, err)
			}
			log.Printf("[runner] task %s failed review, re-queued (retry %d)", task.ID, n)
		default:
			if err := r.store.UpdateTaskStatus(task.ID, domain.StatusFailed); err != nil {
				return fmt.Errorf("fail task %s: %w", task.ID, err)
			}
			cycle.TasksFailed++
		}
	}

	return r.finishCycle(cycle, state)
}

// executeParallel runs the claimed tasks with bounded concurrency and returns
// results in task order.
func (r *Runner) executeParallel(ctx context.Context, tasks []*domain.Task) []*domain.ExecutionResult {
	results := make([]*domain.ExecutionResult, len(tasks))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.project.MaxWorkers)
	for i, task := range tasks {
		i, task := i, task
		g.Go(func() error {
			res := r.executor.Run(gctx, task)
			mu.Lock()
			results[i] = res
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	for i, task := range tasks {
		if results[i] == nil {
			results[i] = &domain.ExecutionResult{TaskID: task.ID, Error: "executor returned no result"}
		}
	}
	return results
}

func (r *Runner) finishCycle(cycle *domain.Cycle, state *domain.ProjectState) error {
	cycle.Status = domain.CycleCompleted
	if err := r.store.CompleteCycle(cycle.ID, domain.CycleCompleted,
		cycle.TasksCreated, cycle.TasksCompleted, cycle.TasksFailed,
		cycle.TotalCostUSD, ""); err != nil {
		return fmt.Errorf("complete cycle: %w", err)
	}

	now := time.Now().UTC()
	state.LastCycleAt = &now
	state.TotalCycles++
	state.TotalTasksCompleted += cycle.TasksCompleted
	state.TotalCostUSD += cycle.TotalCostUSD
	if err := r.store.UpsertProjectState(state); err != nil {
		return fmt.Errorf("update project state: %w", err)
	}

	log.Printf("[runner] cycle %s complete for %s: %d done, %d failed, $%.4f",
		cycle.ID, r.project.Name, cycle.TasksCompleted, cycle.TasksFailed, cycle.TotalCostUSD)
	return nil
}
