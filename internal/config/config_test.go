package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Web.Port != 8080 {
		t.Errorf("Web.Port = %d, want 8080", cfg.Web.Port)
	}
	if len(cfg.Projects) != 0 {
		t.Errorf("Projects = %d, want 0", len(cfg.Projects))
	}
}

func TestLoad_ProjectDefaults(t *testing.T) {
	path := writeConfig(t, `
name = "test-portfolio"

[[projects]]
name = "demo"
path = "/tmp/demo"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Projects) != 1 {
		t.Fatalf("Projects = %d, want 1", len(cfg.Projects))
	}
	p := cfg.Projects[0]
	if !p.IsEnabled() {
		t.Error("project should default to enabled")
	}
	if p.MaxWorkers != 3 {
		t.Errorf("MaxWorkers = %d, want 3", p.MaxWorkers)
	}
	if p.WorkerTimeoutSeconds != 300 {
		t.Errorf("WorkerTimeoutSeconds = %d, want 300", p.WorkerTimeoutSeconds)
	}
	if p.BranchPrefix != "orch" {
		t.Errorf("BranchPrefix = %q, want orch", p.BranchPrefix)
	}
	if p.VerdictPolicy != PolicyReviewer {
		t.Errorf("VerdictPolicy = %q, want reviewer", p.VerdictPolicy)
	}
	if p.CycleIntervalMinutes != 30 {
		t.Errorf("CycleIntervalMinutes = %d, want 30", p.CycleIntervalMinutes)
	}
}

func TestLoad_ExplicitValues(t *testing.T) {
	path := writeConfig(t, `
[[projects]]
name = "demo"
path = "/tmp/demo"
enabled = false
max_workers = 5
worker_timeout_seconds = 120
test_command = "go test ./..."
lint_command = "golangci-lint run"
verdict_policy = "strict"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	p := cfg.Projects[0]
	if p.IsEnabled() {
		t.Error("project should be disabled")
	}
	if p.MaxWorkers != 5 {
		t.Errorf("MaxWorkers = %d, want 5", p.MaxWorkers)
	}
	if p.TestCommand != "go test ./..." {
		t.Errorf("TestCommand = %q", p.TestCommand)
	}
	if p.VerdictPolicy != PolicyStrict {
		t.Errorf("VerdictPolicy = %q, want strict", p.VerdictPolicy)
	}
}

func TestLoad_RejectsBadVerdictPolicy(t *testing.T) {
	path := writeConfig(t, `
[[projects]]
name = "demo"
path = "/tmp/demo"
verdict_policy = "vibes"
`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown verdict_policy")
	}
}

func TestLoad_RejectsDuplicateProjects(t *testing.T) {
	path := writeConfig(t, `
[[projects]]
name = "demo"
path = "/tmp/a"

[[projects]]
name = "demo"
path = "/tmp/b"
`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for duplicate project name")
	}
}

func TestEnabledProjects(t *testing.T) {
	path := writeConfig(t, `
[[projects]]
name = "on"
path = "/tmp/on"

[[projects]]
name = "off"
path = "/tmp/off"
enabled = false
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	enabled := cfg.EnabledProjects()
	if len(enabled) != 1 || enabled[0].Name != "on" {
		t.Errorf("EnabledProjects = %+v", enabled)
	}
}

func TestGetProject(t *testing.T) {
	cfg := &Config{Projects: []ProjectConfig{{Name: "demo"}}}
	if cfg.GetProject("demo") == nil {
		t.Error("GetProject(demo) = nil")
	}
	if cfg.GetProject("other") != nil {
		t.Error("GetProject(other) should be nil")
	}
}
