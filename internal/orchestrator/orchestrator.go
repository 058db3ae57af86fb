// Package orchestrator wires the whole system together: per-project state
// stores, cycle scheduling, the patrol, and operator controls. It owns the
// long-running loop the daemon runs.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/driftworks/cycle-orchestrator/internal/collab"
	"github.com/driftworks/cycle-orchestrator/internal/config"
	"github.com/driftworks/cycle-orchestrator/internal/domain"
	"github.com/driftworks/cycle-orchestrator/internal/executor"
	"github.com/driftworks/cycle-orchestrator/internal/notify"
	"github.com/driftworks/cycle-orchestrator/internal/planner"
	"github.com/driftworks/cycle-orchestrator/internal/runner"
	"github.com/driftworks/cycle-orchestrator/internal/statestore"
	"github.com/driftworks/cycle-orchestrator/internal/verdict"
	"github.com/driftworks/cycle-orchestrator/internal/watchdog"
	"github.com/driftworks/cycle-orchestrator/internal/workspace"
)

// ProjectStatus is one row of the operator-facing status report
type ProjectStatus struct {
	Name         string          `json:"name"`
	Paused       bool            `json:"paused"`
	Running      bool            `json:"running"`
	PendingTasks int             `json:"pending_tasks"`
	TotalCycles  int             `json:"total_cycles"`
	TasksDone    int             `json:"tasks_done"`
	TotalCostUSD float64         `json:"total_cost_usd"`
	LastCycleAt  *time.Time      `json:"last_cycle_at,omitempty"`
	RecentCycles []*domain.Cycle `json:"recent_cycles,omitempty"`
}

// Orchestrator runs cycles for every enabled project on a schedule
type Orchestrator struct {
	registry *Registry
	client   *collab.CLIClient
	notifier notify.Notifier
	hub      *eventHub

	mu      sync.Mutex
	cfg     *config.Config
	cron    *cron.Cron
	running map[string]bool
}

// New creates an Orchestrator from configuration
func New(cfg *config.Config) *Orchestrator {
	return &Orchestrator{
		registry: NewRegistry(cfg.DataDir),
		client:   collab.NewCLIClient(),
		notifier: notify.FromConfig(cfg.Notifications.Desktop, cfg.Notifications.SlackWebhook),
		hub:      newEventHub(),
		cfg:      cfg,
		running:  make(map[string]bool),
	}
}

// Start sweeps stale workspaces and begins the cycle schedule. Each enabled
// project gets its own interval job; overlapping runs of the same project are
// skipped, not queued.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, p := range o.cfg.EnabledProjects() {
		iso := workspace.NewIsolator(p.Path, o.worktreeDirLocked(p.Name))
		iso.SweepOrphans(ctx)
	}
	return o.scheduleLocked(ctx)
}

// scheduleLocked builds and starts the cron. Callers hold o.mu.
func (o *Orchestrator) scheduleLocked(ctx context.Context) error {
	c := cron.New()
	for _, p := range o.cfg.EnabledProjects() {
		spec := fmt.Sprintf("@every %dm", p.CycleIntervalMinutes)
		if _, err := c.AddFunc(spec, func() { o.runProject(ctx, p.Name) }); err != nil {
			return fmt.Errorf("schedule %s: %w", p.Name, err)
		}
		log.Printf("[orchestrator] scheduled %s every %dm", p.Name, p.CycleIntervalMinutes)
	}
	c.Start()
	o.cron = c
	return nil
}

// Stop halts the schedule, waits for in-flight jobs, and closes the stores
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	c := o.cron
	o.cron = nil
	o.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
	if err := o.registry.CloseAll(); err != nil {
		log.Printf("[orchestrator] close stores: %v", err)
	}
}

// Reload swaps the configuration and reschedules every project
func (o *Orchestrator) Reload(ctx context.Context, cfg *config.Config) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.cron != nil {
		<-o.cron.Stop().Done()
		o.cron = nil
	}
	o.cfg = cfg
	log.Printf("[orchestrator] configuration reloaded, %d projects enabled", len(cfg.EnabledProjects()))
	return o.scheduleLocked(ctx)
}

// TriggerNow runs one cycle for a project immediately, outside the schedule
func (o *Orchestrator) TriggerNow(ctx context.Context, project string) error {
	o.mu.Lock()
	p := o.cfg.GetProject(project)
	o.mu.Unlock()
	if p == nil {
		return fmt.Errorf("unknown project %q", project)
	}
	o.runProject(ctx, project)
	return nil
}

// runProject executes patrol plus one cycle for a single project
func (o *Orchestrator) runProject(ctx context.Context, name string) {
	o.mu.Lock()
	if o.running[name] {
		o.mu.Unlock()
		log.Printf("[orchestrator] %s still running, skipping this tick", name)
		return
	}
	o.running[name] = true
	p := o.cfg.GetProject(name)
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.running[name] = false
		o.mu.Unlock()
	}()

	if p == nil {
		log.Printf("[orchestrator] unknown project %s", name)
		return
	}

	store, err := o.registry.Store(name)
	if err != nil {
		log.Printf("[orchestrator] %v", err)
		return
	}

	// Patrol before the cycle so stuck tasks re-enter the backlog this run
	// and broken projects stop before burning more budget.
	report, err := watchdog.New(*p, store).Run()
	if err != nil {
		log.Printf("[orchestrator] patrol failed for %s: %v", name, err)
	} else {
		if len(report.Stuck) > 0 {
			o.hub.publish(Event{Type: EventTasksStuck, Project: name,
				Message: fmt.Sprintf("%d stuck tasks handled", len(report.Stuck))})
		}
		if report.Paused {
			o.hub.publish(Event{Type: EventProjectPaused, Project: name,
				Message: "paused after repeated failures"})
			o.sendNotification(notify.Notification{
				Title:   "Project paused",
				Message: fmt.Sprintf("%s paused after repeated task failures", name),
				Type:    notify.NotifyWarning,
				Project: name,
			})
			return
		}
	}

	o.hub.publish(Event{Type: EventCycleStarted, Project: name})
	cycle, err := o.buildRunner(*p, store).RunCycle(ctx)
	if err != nil {
		log.Printf("[orchestrator] cycle error for %s: %v", name, err)
		o.hub.publish(Event{Type: EventCycleFailed, Project: name, Message: err.Error()})
		return
	}

	if cycle.Status == domain.CycleFailed {
		o.hub.publish(Event{Type: EventCycleFailed, Project: name, Message: cycle.Error})
		o.sendNotification(notify.Notification{
			Title:   "Cycle failed",
			Message: fmt.Sprintf("%s: %s", name, cycle.Error),
			Type:    notify.NotifyError,
			Project: name,
		})
		return
	}
	o.hub.publish(Event{Type: EventCycleFinished, Project: name,
		Message: fmt.Sprintf("%d done, %d failed", cycle.TasksCompleted, cycle.TasksFailed)})
}

// buildRunner assembles the per-project pipeline around the shared CLI client
func (o *Orchestrator) buildRunner(p config.ProjectConfig, store *statestore.Store) *runner.Runner {
	iso := workspace.NewIsolator(p.Path, o.worktreeDir(p.Name))
	return runner.New(p, store,
		planner.New(p, store, o.client),
		executor.New(p, iso, o.client),
		verdict.NewEngine(p, o.client),
	)
}

func (o *Orchestrator) worktreeDir(project string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.worktreeDirLocked(project)
}

// worktreeDirLocked reads the configured worktree root. Callers hold o.mu.
func (o *Orchestrator) worktreeDirLocked(project string) string {
	return filepath.Join(o.cfg.WorktreeDir, project)
}

// PauseProject stops scheduling work for a project until resumed
func (o *Orchestrator) PauseProject(project string) error {
	store, err := o.registry.Store(project)
	if err != nil {
		return err
	}
	return store.SetPaused(project, true)
}

// ResumeProject re-enables a paused project
func (o *Orchestrator) ResumeProject(project string) error {
	store, err := o.registry.Store(project)
	if err != nil {
		return err
	}
	return store.SetPaused(project, false)
}

// Status reports every enabled project's current state
func (o *Orchestrator) Status(recentCycles int) ([]ProjectStatus, error) {
	o.mu.Lock()
	projects := o.cfg.EnabledProjects()
	running := make(map[string]bool, len(o.running))
	for k, v := range o.running {
		running[k] = v
	}
	o.mu.Unlock()

	statuses := make([]ProjectStatus, 0, len(projects))
	for _, p := range projects {
		store, err := o.registry.Store(p.Name)
		if err != nil {
			return nil, err
		}
		state, err := store.ProjectState(p.Name)
		if err != nil {
			return nil, err
		}
		pending, err := store.PendingCount(p.Name)
		if err != nil {
			return nil, err
		}
		st := ProjectStatus{
			Name:         p.Name,
			Paused:       state.Paused,
			Running:      running[p.Name],
			PendingTasks: pending,
			TotalCycles:  state.TotalCycles,
			TasksDone:    state.TotalTasksCompleted,
			TotalCostUSD: state.TotalCostUSD,
			LastCycleAt:  state.LastCycleAt,
		}
		if recentCycles > 0 {
			cycles, err := store.RecentCycles(p.Name, recentCycles)
			if err != nil {
				return nil, err
			}
			st.RecentCycles = cycles
		}
		statuses = append(statuses, st)
	}
	return statuses, nil
}

// Store exposes a project's state store to the web layer
func (o *Orchestrator) Store(project string) (*statestore.Store, error) {
	return o.registry.Store(project)
}

// Subscribe returns a channel of orchestrator events. Callers must
// Unsubscribe when done.
func (o *Orchestrator) Subscribe() chan Event {
	return o.hub.subscribe()
}

// Unsubscribe releases an event channel
func (o *Orchestrator) Unsubscribe(ch chan Event) {
	o.hub.unsubscribe(ch)
}

func (o *Orchestrator) sendNotification(n notify.Notification) {
	if err := o.notifier.Send(n); err != nil {
		log.Printf("[orchestrator] notification failed: %v", err)
	}
}
