package verdict

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	passedRe = regexp.MustCompile(`(\d+) passed`)
	failedRe = regexp.MustCompile(`(\d+) (?:failed|errors?)`)
)

// ParseTestCounts extracts pass/fail counts from pytest-style summary lines
// such as "3 passed, 1 failed". Unparseable output yields zeros; the counts
// are advisory context for the reviewer, not the pass signal.
func ParseTestCounts(output string) (passed, failed int) {
	for _, line := range strings.Split(output, "\n") {
		if m := passedRe.FindStringSubmatch(line); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				passed = n
			}
		}
		if m := failedRe.FindStringSubmatch(line); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				failed = n
			}
		}
	}
	return passed, failed
}

// CountLintWarnings counts individual warning lines in lint output. Matches
// ESLint-style per-finding lines while skipping summary lines like
// "5 warnings".
func CountLintWarnings(output string) int {
	count := 0
	for _, line := range strings.Split(output, "\n") {
		lower := strings.ToLower(line)
		if !strings.Contains(lower, "warning") {
			continue
		}
		if strings.Contains(line, "warning ") || strings.Contains(line, "warning\t") ||
			!strings.Contains(lower, "warnings") {
			count++
		}
	}
	return count
}
