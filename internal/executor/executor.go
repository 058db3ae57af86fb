// Package executor runs exactly one task to completion inside an isolated
// workspace. Failures never escape as errors; they are encoded in the
// ExecutionResult so the cycle runner can apply retry policy uniformly.
package executor

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/driftworks/cycle-orchestrator/internal/audit"
	"github.com/driftworks/cycle-orchestrator/internal/collab"
	"github.com/driftworks/cycle-orchestrator/internal/config"
	"github.com/driftworks/cycle-orchestrator/internal/domain"
	"github.com/driftworks/cycle-orchestrator/internal/prompts"
	"github.com/driftworks/cycle-orchestrator/internal/vcs"
	"github.com/driftworks/cycle-orchestrator/internal/workspace"
)

const outputLimit = 5000

// Executor dispatches one task at a time to the external work agent
type Executor struct {
	project  config.ProjectConfig
	isolator *workspace.Isolator
	agent    collab.Agent
	auditLog *audit.Log
	prompts  *prompts.Loader
}

// New creates an Executor for one project
func New(project config.ProjectConfig, isolator *workspace.Isolator, agent collab.Agent) *Executor {
	return &Executor{
		project:  project,
		isolator: isolator,
		agent:    agent,
		auditLog: audit.New(project.Path),
		prompts:  prompts.NewLoader(filepath.Join(project.Path, ".orch", "prompts")),
	}
}

// Run executes the task and returns its result. The workspace is always
// released, whatever happens in between.
func (e *Executor) Run(ctx context.Context, task *domain.Task) *domain.ExecutionResult {
	start := time.Now()
	result := &domain.ExecutionResult{TaskID: task.ID}

	ws, err := e.isolator.Acquire(ctx, task)
	if err != nil {
		log.Printf("[executor] task %s: %v", task.ID, err)
		result.Error = err.Error()
		result.DurationSeconds = time.Since(start).Seconds()
		return result
	}
	defer e.isolator.Release(ctx, ws)

	// The watchdog owns the hard timeout for stuck bookkeeping; this bound
	// just stops the subprocess from outliving the task's slot forever.
	workCtx, cancel := context.WithTimeout(ctx, 2*time.Duration(e.project.WorkerTimeoutSeconds)*time.Second)
	defer cancel()

	system, err := e.prompts.Load(prompts.ForTaskType(task.Type))
	if err != nil {
		log.Printf("[executor] task %s: %v", task.ID, err)
	}
	work, err := e.agent.Work(workCtx, collab.WorkRequest{
		Dir:          ws.Path,
		Model:        e.project.Model,
		SystemPrompt: system,
		Prompt:       task.Prompt,
		BudgetUSD:    e.project.MaxBudgetPerTask,
	})
	if work != nil {
		result.CostUSD = work.CostUSD
		result.MessagesCount = work.Messages
		result.Output = audit.Truncate(work.Output, outputLimit)
	}
	if err != nil {
		log.Printf("[executor] task %s agent call failed: %v", task.ID, err)
		result.Error = err.Error()
		result.DurationSeconds = time.Since(start).Seconds()
		e.writeAudit(task, result)
		return result
	}

	e.commitAndSummarize(ctx, task, ws, result)

	result.Success = true
	result.DurationSeconds = time.Since(start).Seconds()
	e.writeAudit(task, result)
	return result
}

// commitAndSummarize commits whatever the agent left in the working tree and
// captures a diff summary against the branch point. No changes is not an
// error; a worker can legitimately conclude nothing needed doing.
func (e *Executor) commitAndSummarize(ctx context.Context, task *domain.Task, ws *workspace.Workspace, result *domain.ExecutionResult) {
	wt := vcs.Open(ws.Path)

	changed, err := wt.HasChanges(ctx)
	if err != nil {
		log.Printf("[executor] task %s status check failed: %v", task.ID, err)
	}
	if changed {
		msg := fmt.Sprintf("orch: %s\n\nTask: %s", task.Title, task.ID)
		if err := wt.CommitAll(ctx, msg); err != nil {
			log.Printf("[executor] task %s commit failed: %v", task.ID, err)
		}
	}

	defaultBranch, err := vcs.Open(e.project.Path).DefaultBranch(ctx)
	if err != nil {
		log.Printf("[executor] task %s: %v", task.ID, err)
		return
	}
	if stat, err := wt.DiffStat(ctx, defaultBranch); err == nil {
		result.DiffStat = stat
	}
	if files, err := wt.ChangedFiles(ctx, defaultBranch); err == nil {
		result.FilesChanged = len(files)
	}
}

func (e *Executor) writeAudit(task *domain.Task, result *domain.ExecutionResult) {
	if err := e.auditLog.WriteWorkerLog(task, result); err != nil {
		log.Printf("[executor] audit write failed for task %s: %v", task.ID, err)
	}
}
