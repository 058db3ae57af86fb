// Package collab defines the contracts for the external collaborators the
// orchestrator consumes: a planner that proposes tasks, an agent that performs
// the work, and a reviewer that judges the outcome. The orchestrator never
// looks inside these calls; it only consumes their structured results.
package collab

import (
	"context"

	"github.com/driftworks/cycle-orchestrator/internal/domain"
)

// TaskProposal is one task suggested by the planner
type TaskProposal struct {
	Title       string
	Description string
	Type        domain.TaskType
	Priority    int
}

// PlanRequest carries the context for a planning call
type PlanRequest struct {
	Dir          string
	Model        string
	SystemPrompt string
	Prompt       string
	MaxTasks     int
	BudgetUSD    float64
}

// PlanResponse is the planner's structured answer
type PlanResponse struct {
	Proposals []TaskProposal
	Reasoning string
	CostUSD   float64
}

// Planner proposes new tasks for a project. May fail or return malformed
// output; callers treat that as zero tasks for the cycle, never as fatal.
type Planner interface {
	Plan(ctx context.Context, req PlanRequest) (*PlanResponse, error)
}

// WorkRequest carries one task's prompt into the executing agent
type WorkRequest struct {
	Dir          string
	Model        string
	SystemPrompt string
	Prompt       string
	BudgetUSD    float64
}

// WorkResponse reports what the agent did
type WorkResponse struct {
	Output   string
	CostUSD  float64
	Messages int
}

// Agent performs the actual work of a task inside its workspace directory
type Agent interface {
	Work(ctx context.Context, req WorkRequest) (*WorkResponse, error)
}

// ReviewRequest carries the full evaluation context to the reviewer
type ReviewRequest struct {
	Dir          string
	Model        string
	SystemPrompt string
	Prompt       string
	BudgetUSD    float64
}

// ReviewResponse is the reviewer's verdict: the boolean is authoritative
type ReviewResponse struct {
	Passed    bool
	Reasoning string
	CostUSD   float64
}

// Reviewer judges one execution result. Its pass/fail decision is the sole
// arbiter under the default verdict policy.
type Reviewer interface {
	Review(ctx context.Context, req ReviewRequest) (*ReviewResponse, error)
}
