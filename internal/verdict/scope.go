package verdict

import (
	"fmt"
	"strings"

	"github.com/driftworks/cycle-orchestrator/internal/domain"
)

const (
	maxFilesChanged = 15
	maxDirsTouched  = 5
)

var testFilePatterns = []string{
	"spec.", ".test.", "_test.", "test_", "/tests/", "/__tests__/",
}

// CheckScope flags changes that look out of bounds for the task. The warnings
// are advisory; they feed into the review prompt rather than failing the task
// outright.
func CheckScope(task *domain.Task, changedFiles []string) []string {
	if len(changedFiles) == 0 {
		return nil
	}

	var warnings []string

	if task.Type == domain.TypeTest {
		var nonTest []string
		for _, f := range changedFiles {
			if !isTestFile(f) {
				nonTest = append(nonTest, f)
			}
		}
		if len(nonTest) > 0 {
			warnings = append(warnings, fmt.Sprintf(
				"SCOPE VIOLATION: test task modified %d non-test files: %s",
				len(nonTest), strings.Join(nonTest, ", ")))
		}
	}

	if len(changedFiles) > maxFilesChanged {
		warnings = append(warnings, fmt.Sprintf(
			"SCOPE WARNING: %d files changed, which seems excessive for a single task",
			len(changedFiles)))
	}

	dirs := map[string]struct{}{}
	for _, f := range changedFiles {
		dir := "."
		if i := strings.LastIndex(f, "/"); i >= 0 {
			dir = f[:i]
		}
		dirs[dir] = struct{}{}
	}
	if len(dirs) > maxDirsTouched {
		warnings = append(warnings, fmt.Sprintf(
			"SCOPE WARNING: changes span %d directories, expected focused changes in 1-3",
			len(dirs)))
	}

	return warnings
}

func isTestFile(path string) bool {
	for _, p := range testFilePatterns {
		if strings.Contains(path, p) {
			return true
		}
	}
	return false
}
