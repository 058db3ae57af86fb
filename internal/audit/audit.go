// Package audit writes human-readable records of worker output, verdicts, and
// cycle plans under the project's .orch directory. These are operator-facing
// side effects; a write failure is reported but never blocks orchestration.
package audit

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/driftworks/cycle-orchestrator/internal/domain"
)

const (
	workersDir  = "workers"
	verdictsDir = "verdicts"
	plansDir    = "plans"

	outputLimit = 5000
)

// Log writes audit records under <projectDir>/.orch
type Log struct {
	projectDir string
}

// New returns an audit log rooted at the project directory
func New(projectDir string) *Log {
	return &Log{projectDir: projectDir}
}

func (l *Log) write(subdir, name, content string) error {
	dir := filepath.Join(l.projectDir, ".orch", subdir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, name), []byte(content), 0644)
}

// WriteWorkerLog records one executor attempt for operator inspection
func (l *Log) WriteWorkerLog(task *domain.Task, result *domain.ExecutionResult) error {
	content := fmt.Sprintf(
		"# Worker Log: %s\n\n"+
			"- **Task ID**: %s\n"+
			"- **Branch**: %s\n"+
			"- **Type**: %s\n"+
			"- **Success**: %t\n"+
			"- **Cost**: $%.4f\n"+
			"- **Duration**: %.1fs\n\n",
		task.Title, task.ID, task.Branch, task.Type, result.Success,
		result.CostUSD, result.DurationSeconds,
	)
	if result.Error != "" {
		content += fmt.Sprintf("## Error\n%s\n\n", result.Error)
	}
	content += fmt.Sprintf("## Diff\n```\n%s\n```\n\n## Output\n%s\n",
		result.DiffStat, Truncate(result.Output, outputLimit))
	return l.write(workersDir, task.ID+".md", content)
}

// WriteVerdictLog records one verdict with the check output that informed it
func (l *Log) WriteVerdictLog(taskID string, verdict *domain.Verdict, testOutput, lintOutput string, baselineWarnings, branchWarnings int) error {
	content := fmt.Sprintf(
		"# Verdict: %s\n\n"+
			"- **Passed**: %t\n"+
			"- **Tests**: %d passed, %d failed\n"+
			"- **Lint**: %d warnings on default branch, %d on task branch (delta %+d)\n"+
			"- **Cost**: $%.4f\n\n"+
			"## Notes\n%s\n\n"+
			"## Test Output\n```\n%s\n```\n\n"+
			"## Lint Output\n```\n%s\n```\n",
		taskID, verdict.Passed, verdict.TestsPassed, verdict.TestsFailed,
		baselineWarnings, branchWarnings, branchWarnings-baselineWarnings,
		verdict.CostUSD, verdict.Notes,
		Truncate(testOutput, 3000), Truncate(lintOutput, 2000),
	)
	return l.write(verdictsDir, taskID+".md", content)
}

// WritePlanLog records the planner's reasoning for one cycle
func (l *Log) WritePlanLog(cycleID, reasoning string, taskCount int) error {
	content := fmt.Sprintf(
		"# Plan: cycle %s\n\n- **Tasks proposed**: %d\n\n## Reasoning\n%s\n",
		cycleID, taskCount, Truncate(reasoning, outputLimit),
	)
	return l.write(plansDir, "cycle_"+cycleID+".md", content)
}

// Truncate caps s at n bytes, marking the cut
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "\n... (truncated)"
}
