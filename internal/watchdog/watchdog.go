// Package watchdog patrols the task backlog between cycles. It recovers tasks
// that exceeded their timeout and pauses projects that fail repeatedly, using
// only the persisted state.
package watchdog

import (
	"log"
	"sort"
	"time"

	"github.com/driftworks/cycle-orchestrator/internal/config"
	"github.com/driftworks/cycle-orchestrator/internal/domain"
	"github.com/driftworks/cycle-orchestrator/internal/statestore"
)

// DefaultFailureStreak is how many consecutive failed tasks pause a project
const DefaultFailureStreak = 5

// Report summarizes one patrol pass
type Report struct {
	Stuck  []string
	Paused bool
}

// Patrol watches one project's backlog for stuck work and failure streaks
type Patrol struct {
	project config.ProjectConfig
	store   *statestore.Store

	// FailureStreak overrides DefaultFailureStreak when positive
	FailureStreak int

	now func() time.Time
}

// New creates a Patrol for one project
func New(project config.ProjectConfig, store *statestore.Store) *Patrol {
	return &Patrol{project: project, store: store, now: time.Now}
}

// Run performs all patrol checks
func (p *Patrol) Run() (*Report, error) {
	stuck, err := p.CheckStuck()
	if err != nil {
		return nil, err
	}
	paused, err := p.CheckFailureStreak()
	if err != nil {
		return nil, err
	}
	return &Report{Stuck: stuck, Paused: paused}, nil
}

// CheckStuck handles in-progress tasks past their timeout. A stuck task is
// re-queued while retries remain, failed otherwise. Returns the IDs handled.
func (p *Patrol) CheckStuck() ([]string, error) {
	inProgress, err := p.store.ListTasks(statestore.ListOptions{
		Project: p.project.Name,
		Status:  domain.StatusInProgress,
	})
	if err != nil {
		return nil, err
	}

	timeout := time.Duration(p.project.WorkerTimeoutSeconds) * time.Second
	now := p.now().UTC()

	var handled []string
	for _, task := range inProgress {
		if task.StartedAt == nil {
			continue
		}
		elapsed := now.Sub(*task.StartedAt)
		if elapsed <= timeout {
			continue
		}
		log.Printf("[watchdog] task %s stuck for %s (timeout %s)", task.ID, elapsed.Round(time.Second), timeout)
		if task.RetriesLeft() {
			if _, err := p.store.IncrementRetry(task.ID); err != nil {
				return handled, err
			}
			log.Printf("[watchdog] re-queued stuck task %s (retry %d)", task.ID, task.RetryCount+1)
		} else {
			if err := p.store.UpdateTaskStatus(task.ID, domain.StatusFailed); err != nil {
				return handled, err
			}
			log.Printf("[watchdog] failed stuck task %s, no retries left", task.ID)
		}
		handled = append(handled, task.ID)
	}
	return handled, nil
}

// CheckFailureStreak pauses the project when its most recent tasks all
// failed. Returns true if the project was paused by this call.
func (p *Patrol) CheckFailureStreak() (bool, error) {
	streak := p.FailureStreak
	if streak <= 0 {
		streak = DefaultFailureStreak
	}

	all, err := p.store.ListTasks(statestore.ListOptions{Project: p.project.Name})
	if err != nil {
		return false, err
	}
	if len(all) < streak {
		return false, nil
	}

	// Newest first by creation time.
	recent := make([]*domain.Task, len(all))
	copy(recent, all)
	sort.Slice(recent, func(i, j int) bool {
		return recent[i].CreatedAt.After(recent[j].CreatedAt)
	})

	for _, task := range recent[:streak] {
		if task.Status != domain.StatusFailed {
			return false, nil
		}
	}

	log.Printf("[watchdog] project %s has %d consecutive failures, pausing", p.project.Name, streak)
	if err := p.store.SetPaused(p.project.Name, true); err != nil {
		return false, err
	}
	return true, nil
}
