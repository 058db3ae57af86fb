package verdict

import (
	"fmt"
	"strings"
	"testing"

	"github.com/driftworks/cycle-orchestrator/internal/domain"
)

func TestCheckScope_TestTaskTouchingProductionCode(t *testing.T) {
	task := domain.NewTask("demo", "add tests", "cover the parser", domain.TypeTest)

	warnings := CheckScope(task, []string{"internal/parser/parser_test.go", "internal/parser/parser.go"})
	if len(warnings) != 1 {
		t.Fatalf("warnings = %v, want one scope violation", warnings)
	}
	if !strings.Contains(warnings[0], "parser.go") {
		t.Errorf("violation should name the offending file: %s", warnings[0])
	}

	// Test-only changes are clean.
	if w := CheckScope(task, []string{"internal/parser/parser_test.go", "internal/tests/fixtures.json"}); len(w) != 0 {
		t.Errorf("test-only changes flagged: %v", w)
	}
}

func TestCheckScope_TooManyFiles(t *testing.T) {
	task := domain.NewTask("demo", "refactor", "small tweak", domain.TypeCode)

	var files []string
	for i := 0; i < 16; i++ {
		files = append(files, fmt.Sprintf("pkg/a/file%d.go", i))
	}
	warnings := CheckScope(task, files)
	if len(warnings) != 1 || !strings.Contains(warnings[0], "16 files") {
		t.Errorf("warnings = %v, want one file-count warning", warnings)
	}
}

func TestCheckScope_TooManyDirectories(t *testing.T) {
	task := domain.NewTask("demo", "tweak", "focused change", domain.TypeCode)

	files := []string{"a/x.go", "b/x.go", "c/x.go", "d/x.go", "e/x.go", "f/x.go"}
	warnings := CheckScope(task, files)
	if len(warnings) != 1 || !strings.Contains(warnings[0], "6 directories") {
		t.Errorf("warnings = %v, want one directory-spread warning", warnings)
	}
}

func TestCheckScope_CleanChange(t *testing.T) {
	task := domain.NewTask("demo", "fix bug", "off by one", domain.TypeFix)

	if w := CheckScope(task, []string{"internal/x/y.go", "internal/x/y_test.go"}); len(w) != 0 {
		t.Errorf("clean change flagged: %v", w)
	}
	if w := CheckScope(task, nil); len(w) != 0 {
		t.Errorf("empty change flagged: %v", w)
	}
}
