package prompts

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/driftworks/cycle-orchestrator/internal/domain"
)

func TestLoader_EmbeddedTemplates(t *testing.T) {
	l := NewLoader()
	for _, name := range []string{
		"worker_code", "worker_test", "worker_fix", "worker_review",
		"planner", "reviewer",
	} {
		body, err := l.Load(name)
		if err != nil {
			t.Fatalf("Load(%q): %v", name, err)
		}
		if body == "" {
			t.Errorf("Load(%q) returned empty body", name)
		}
		if strings.Contains(body, "---") {
			t.Errorf("Load(%q) leaked frontmatter", name)
		}

		meta, err := l.Meta(name)
		if err != nil {
			t.Fatal(err)
		}
		if meta.ID != name {
			t.Errorf("Meta(%q).ID = %q", name, meta.ID)
		}
	}
}

func TestLoader_OverrideWins(t *testing.T) {
	dir := t.TempDir()
	custom := "---\nid: worker_code\n---\ncustom instructions\n"
	if err := os.WriteFile(filepath.Join(dir, "worker_code.md"), []byte(custom), 0644); err != nil {
		t.Fatal(err)
	}

	l := NewLoader(dir)
	body, err := l.Load("worker_code")
	if err != nil {
		t.Fatal(err)
	}
	if body != "custom instructions" {
		t.Errorf("body = %q, want override content", body)
	}

	// Templates missing from the override dir fall back to embedded.
	if _, err := l.Load("planner"); err != nil {
		t.Errorf("fallback failed: %v", err)
	}
}

func TestLoader_UnknownTemplate(t *testing.T) {
	if _, err := NewLoader().Load("nope"); err == nil {
		t.Error("expected error for unknown template")
	}
}

func TestSplitFrontmatter_NoHeader(t *testing.T) {
	meta, body, err := splitFrontmatter([]byte("just a prompt\n"))
	if err != nil {
		t.Fatal(err)
	}
	if meta.ID != "" || body != "just a prompt" {
		t.Errorf("meta=%+v body=%q", meta, body)
	}
}

func TestForTaskType(t *testing.T) {
	tests := []struct {
		typ  domain.TaskType
		want string
	}{
		{domain.TypeCode, "worker_code"},
		{domain.TypeTest, "worker_test"},
		{domain.TypeFix, "worker_fix"},
		{domain.TypeReview, "worker_review"},
	}
	for _, tt := range tests {
		if got := ForTaskType(tt.typ); got != tt.want {
			t.Errorf("ForTaskType(%q) = %q, want %q", tt.typ, got, tt.want)
		}
	}
}
