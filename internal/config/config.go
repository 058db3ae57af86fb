package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Verdict policies for combining automated checks with the external review.
// The reviewer-as-sole-arbiter policy is the default; the alternatives are
// configuration, not code forks.
const (
	PolicyReviewer   = "reviewer"     // reviewer decides, checks are advisory
	PolicyStrict     = "strict"       // checks must pass AND reviewer must pass
	PolicyChecksOnly = "checks-first" // failing checks fail without consulting the reviewer
)

// Config holds the portfolio configuration
type Config struct {
	Name          string              `toml:"name"`
	DataDir       string              `toml:"data_dir"`
	WorktreeDir   string              `toml:"worktree_dir"`
	Web           WebConfig           `toml:"web"`
	Notifications NotificationsConfig `toml:"notifications"`
	Projects      []ProjectConfig     `toml:"projects"`
}

// WebConfig holds web API settings
type WebConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// NotificationsConfig holds notification settings
type NotificationsConfig struct {
	Desktop      bool   `toml:"desktop"`
	SlackWebhook string `toml:"slack_webhook"`
}

// ProjectConfig holds per-project settings
type ProjectConfig struct {
	Name                 string   `toml:"name"`
	Path                 string   `toml:"path"`
	Enabled              *bool    `toml:"enabled"`
	MaxWorkers           int      `toml:"max_workers"`
	WorkerTimeoutSeconds int      `toml:"worker_timeout_seconds"`
	Model                string   `toml:"model"`
	PlannerModel         string   `toml:"planner_model"`
	ReviewModel          string   `toml:"review_model"`
	MaxBudgetPerTask     float64  `toml:"max_budget_per_task"`
	BranchPrefix         string   `toml:"branch_prefix"`
	PlannerContextFiles  []string `toml:"planner_context_files"`
	CycleIntervalMinutes int      `toml:"cycle_interval_minutes"`
	TestCommand          string   `toml:"test_command"`
	LintCommand          string   `toml:"lint_command"`
	VerdictPolicy        string   `toml:"verdict_policy"`
}

// IsEnabled reports whether the project participates in scheduling.
// Projects are enabled unless the config says otherwise.
func (p *ProjectConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Name:        "portfolio",
		DataDir:     filepath.Join(home, ".cycle-orchestrator", "data"),
		WorktreeDir: filepath.Join(home, ".cycle-orchestrator", "worktrees"),
		Web: WebConfig{
			Port: 8080,
			Host: "127.0.0.1",
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	cfg.DataDir = ExpandPath(cfg.DataDir)
	cfg.WorktreeDir = ExpandPath(cfg.WorktreeDir)
	for i := range cfg.Projects {
		applyProjectDefaults(&cfg.Projects[i])
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyProjectDefaults(p *ProjectConfig) {
	p.Path = ExpandPath(p.Path)
	if p.MaxWorkers == 0 {
		p.MaxWorkers = 3
	}
	if p.WorkerTimeoutSeconds == 0 {
		p.WorkerTimeoutSeconds = 300
	}
	if p.Model == "" {
		p.Model = "sonnet"
	}
	if p.PlannerModel == "" {
		p.PlannerModel = "opus"
	}
	if p.ReviewModel == "" {
		p.ReviewModel = "haiku"
	}
	if p.MaxBudgetPerTask == 0 {
		p.MaxBudgetPerTask = 0.50
	}
	if p.BranchPrefix == "" {
		p.BranchPrefix = "orch"
	}
	if p.CycleIntervalMinutes == 0 {
		p.CycleIntervalMinutes = 30
	}
	if p.VerdictPolicy == "" {
		p.VerdictPolicy = PolicyReviewer
	}
}

func validate(cfg *Config) error {
	seen := make(map[string]bool)
	for _, p := range cfg.Projects {
		if p.Name == "" {
			return fmt.Errorf("project with empty name")
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate project name %q", p.Name)
		}
		seen[p.Name] = true
		if p.Path == "" {
			return fmt.Errorf("project %q: path is required", p.Name)
		}
		switch p.VerdictPolicy {
		case PolicyReviewer, PolicyStrict, PolicyChecksOnly:
		default:
			return fmt.Errorf("project %q: unknown verdict_policy %q", p.Name, p.VerdictPolicy)
		}
	}
	return nil
}

// GetProject returns the config for a named project, or nil
func (c *Config) GetProject(name string) *ProjectConfig {
	for i := range c.Projects {
		if c.Projects[i].Name == name {
			return &c.Projects[i]
		}
	}
	return nil
}

// EnabledProjects returns the projects that participate in scheduling
func (c *Config) EnabledProjects() []ProjectConfig {
	var enabled []ProjectConfig
	for _, p := range c.Projects {
		if p.IsEnabled() {
			enabled = append(enabled, p)
		}
	}
	return enabled
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "cycle-orchestrator", "config.toml")
}
