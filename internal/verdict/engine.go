// Package verdict evaluates finished task executions. It runs the project's
// automated checks on the task branch, gathers diff and scope context, and
// asks an external reviewer to decide pass or fail according to the project's
// verdict policy.
package verdict

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"github.com/driftworks/cycle-orchestrator/internal/audit"
	"github.com/driftworks/cycle-orchestrator/internal/collab"
	"github.com/driftworks/cycle-orchestrator/internal/config"
	"github.com/driftworks/cycle-orchestrator/internal/domain"
	"github.com/driftworks/cycle-orchestrator/internal/prompts"
	"github.com/driftworks/cycle-orchestrator/internal/vcs"
)

// Engine evaluates execution results in the project's primary checkout.
// Evaluations must run one at a time per project: the engine checks out the
// task branch in the shared repository while judging.
type Engine struct {
	project  config.ProjectConfig
	reviewer collab.Reviewer
	repo     *vcs.Repo
	auditLog *audit.Log
	prompts  *prompts.Loader
}

// NewEngine creates a verdict engine for one project
func NewEngine(project config.ProjectConfig, reviewer collab.Reviewer) *Engine {
	return &Engine{
		project:  project,
		reviewer: reviewer,
		repo:     vcs.Open(project.Path),
		auditLog: audit.New(project.Path),
		prompts:  prompts.NewLoader(filepath.Join(project.Path, ".orch", "prompts")),
	}
}

// Evaluate judges one execution result. Failures inside the evaluation
// pipeline produce a failed verdict with diagnostic notes rather than an
// error; the cycle runner treats every verdict uniformly.
func (e *Engine) Evaluate(ctx context.Context, task *domain.Task, result *domain.ExecutionResult) *domain.Verdict {
	dir := e.project.Path

	// Baseline lint on the default branch so pre-existing warnings do not
	// count against the worker.
	baseline := RunLint(ctx, dir, e.project.LintCommand)
	baselineWarnings := CountLintWarnings(baseline.Output)

	defaultBranch, err := e.repo.DefaultBranch(ctx)
	if err != nil {
		defaultBranch = "main"
	}
	if err := e.repo.Checkout(ctx, task.Branch); err != nil {
		log.Printf("[verdict] cannot checkout %s, judging current branch: %v", task.Branch, err)
	}
	defer func() {
		if err := e.repo.Checkout(ctx, defaultBranch); err != nil {
			log.Printf("[verdict] failed to restore %s: %v", defaultBranch, err)
		}
	}()

	tests := RunTests(ctx, dir, e.project.TestCommand)
	testsPassed, testsFailed := ParseTestCounts(tests.Output)

	lint := RunLint(ctx, dir, e.project.LintCommand)
	branchWarnings := CountLintWarnings(lint.Output)
	lintDelta := branchWarnings - baselineWarnings

	changedFiles, err := e.repo.ChangedFilesBetween(ctx, defaultBranch, task.Branch)
	if err != nil {
		log.Printf("[verdict] task %s: cannot determine changed files: %v", task.ID, err)
	}

	scopeWarnings := CheckScope(task, changedFiles)
	for _, w := range scopeWarnings {
		log.Printf("[verdict] task %s: %s", task.ID, w)
	}

	v := &domain.Verdict{
		TaskID:      task.ID,
		TestsPassed: testsPassed,
		TestsFailed: testsFailed,
		LintOK:      lint.OK,
	}

	policy := e.project.VerdictPolicy
	checksOK := tests.OK && lintDelta <= 0

	if policy == config.PolicyChecksOnly && !checksOK {
		v.Passed = false
		v.Notes = fmt.Sprintf("automated checks failed (tests ok=%v, lint delta=%+d); reviewer skipped under checks-first policy", tests.OK, lintDelta)
	} else {
		system, err := e.prompts.Load("reviewer")
		if err != nil {
			log.Printf("[verdict] %v", err)
		}
		prompt := e.reviewPrompt(task, result, tests, lint, changedFiles, scopeWarnings, lintDelta, baselineWarnings, branchWarnings)
		review, err := e.reviewer.Review(ctx, collab.ReviewRequest{
			Dir:          dir,
			Model:        e.project.ReviewModel,
			SystemPrompt: system,
			Prompt:       prompt,
			BudgetUSD:    e.project.MaxBudgetPerTask,
		})
		if review != nil {
			v.CostUSD = review.CostUSD
		}
		if err != nil {
			v.Passed = false
			v.Notes = fmt.Sprintf("review failed: %v", err)
		} else {
			v.Passed = review.Passed
			v.Notes = review.Reasoning
			if policy == config.PolicyStrict && !checksOK {
				v.Passed = false
				v.Notes = fmt.Sprintf("strict policy: automated checks failed (tests ok=%v, lint delta=%+d); reviewer said passed=%v: %s",
					tests.OK, lintDelta, review.Passed, review.Reasoning)
			}
		}
	}

	if err := e.auditLog.WriteVerdictLog(task.ID, v, tests.Output, lint.Output, baselineWarnings, branchWarnings); err != nil {
		log.Printf("[verdict] audit write failed for task %s: %v", task.ID, err)
	}
	return v
}

func (e *Engine) reviewPrompt(task *domain.Task, result *domain.ExecutionResult, tests, lint CheckResult, changedFiles, scopeWarnings []string, lintDelta, baselineWarnings, branchWarnings int) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Worker Output Evaluation\n\n")
	fmt.Fprintf(&b, "## Task\nTitle: %s\nDescription: %s\nType: %s\n\n", task.Title, task.Description, task.Type)

	testStatus := "PASSED (exit code 0)"
	if !tests.OK {
		testStatus = "FAILED (exit code non-zero, determine if failures are pre-existing or caused by the worker)"
	}
	testsPassed, testsFailed := ParseTestCounts(tests.Output)
	fmt.Fprintf(&b, "## Automated Checks\nTests: %s (%d passed, %d failed)\n", testStatus, testsPassed, testsFailed)
	fmt.Fprintf(&b, "Lint: %d warnings on the default branch, %d on the task branch (delta: %+d)\n\n", baselineWarnings, branchWarnings, lintDelta)

	fmt.Fprintf(&b, "## Files Changed\n")
	if len(changedFiles) == 0 {
		b.WriteString("(none detected)\n")
	} else {
		for _, f := range changedFiles {
			fmt.Fprintf(&b, "%s\n", f)
		}
	}

	if len(scopeWarnings) > 0 {
		b.WriteString("\n## Scope Violations (Automated)\n")
		for _, w := range scopeWarnings {
			fmt.Fprintf(&b, "- %s\n", w)
		}
	}

	fmt.Fprintf(&b, "\n## Worker Output\n%s\n", truncate(result.Output, 2000))
	fmt.Fprintf(&b, "\n## Diff Stats\n%s\nFiles changed: %d\n", result.DiffStat, result.FilesChanged)
	fmt.Fprintf(&b, "\n## Test Output\n%s\n", truncate(tests.Output, 1500))
	fmt.Fprintf(&b, "\n## Lint Output\n%s\n", truncate(lint.Output, 500))

	b.WriteString(`
Evaluate the worker's changes. Pay special attention to:
- Whether new test files appear in the test output
- Whether the changes match the task description
- Code quality and correctness of the actual diff

Set "passed" to true when the code correctly implements the task and does not
introduce new problems. Pre-existing test failures and lint warnings do NOT
block approval. Fail only for new test failures caused by the worker, an
incorrect or incomplete implementation, scope violations, or new lint
warnings (a positive delta).

Respond with JSON: {"passed": bool, "reasoning": "..."}
`)
	return b.String()
}
