package verdict

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

const (
	testTimeout = 120 * time.Second
	lintTimeout = 60 * time.Second

	testOutputLimit = 3000
	lintOutputLimit = 2000
)

// CheckResult is the outcome of one shell check
type CheckResult struct {
	OK     bool
	Output string
}

// runCheck executes a configured shell command in dir. An empty command is an
// automatic pass so projects can opt out of a check.
func runCheck(ctx context.Context, dir, command string, timeout time.Duration, limit int) CheckResult {
	if command == "" {
		return CheckResult{OK: true, Output: "no command configured"}
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, "sh", "-c", command)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	output := truncate(string(out), limit)

	if errors.Is(cctx.Err(), context.DeadlineExceeded) {
		return CheckResult{OK: false, Output: fmt.Sprintf("command timed out after %s", timeout)}
	}
	return CheckResult{OK: err == nil, Output: output}
}

// RunTests runs the project's test command in dir
func RunTests(ctx context.Context, dir, command string) CheckResult {
	return runCheck(ctx, dir, command, testTimeout, testOutputLimit)
}

// RunLint runs the project's lint command in dir
func RunLint(ctx context.Context, dir, command string) CheckResult {
	return runCheck(ctx, dir, command, lintTimeout, lintOutputLimit)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
