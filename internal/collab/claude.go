package collab

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
)

// CLIClient implements all three collaborator contracts by shelling out to
// the claude CLI in non-interactive mode with stream-json output.
type CLIClient struct {
	Binary string
}

// NewCLIClient returns a client using the claude binary on PATH
func NewCLIClient() *CLIClient {
	return &CLIClient{Binary: "claude"}
}

// streamMessage is one line of stream-json output. Only result messages
// carry cost and the final answer text.
type streamMessage struct {
	Type         string  `json:"type"`
	Result       string  `json:"result,omitempty"`
	CostUSD      float64 `json:"cost_usd,omitempty"`
	TotalCostUSD float64 `json:"total_cost_usd,omitempty"`
}

// invocation is the distilled outcome of one CLI run
type invocation struct {
	Result   string
	CostUSD  float64
	Messages int
}

func (c *CLIClient) run(ctx context.Context, dir, model, systemPrompt, prompt string) (*invocation, error) {
	args := []string{
		"--print",
		"--verbose",
		"--dangerously-skip-permissions",
		"--output-format", "stream-json",
	}
	if model != "" {
		args = append(args, "--model", model)
	}
	if systemPrompt != "" {
		args = append(args, "--append-system-prompt", systemPrompt)
	}
	args = append(args, "-p", prompt)

	cmd := exec.CommandContext(ctx, c.Binary, args...)
	cmd.Dir = dir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", c.Binary, err)
	}

	inv := &invocation{}
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		var msg streamMessage
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			continue // non-JSON noise on stdout
		}
		inv.Messages++
		if msg.Type == "result" {
			if msg.Result != "" {
				inv.Result = msg.Result
			}
			if msg.TotalCostUSD > 0 {
				inv.CostUSD = msg.TotalCostUSD
			} else if msg.CostUSD > 0 {
				inv.CostUSD = msg.CostUSD
			}
		}
	}

	if err := cmd.Wait(); err != nil {
		return inv, fmt.Errorf("%s exited: %s: %w", c.Binary, strings.TrimSpace(stderr.String()), err)
	}
	if err := scanner.Err(); err != nil {
		return inv, fmt.Errorf("reading %s output: %w", c.Binary, err)
	}
	return inv, nil
}

// Plan asks the CLI to propose tasks and parses the structured answer
func (c *CLIClient) Plan(ctx context.Context, req PlanRequest) (*PlanResponse, error) {
	inv, err := c.run(ctx, req.Dir, req.Model, req.SystemPrompt, req.Prompt)
	if err != nil {
		return nil, err
	}
	proposals, reasoning, err := ParsePlanPayload(inv.Result)
	if err != nil {
		return nil, err
	}
	if req.MaxTasks > 0 && len(proposals) > req.MaxTasks {
		proposals = proposals[:req.MaxTasks]
	}
	return &PlanResponse{Proposals: proposals, Reasoning: reasoning, CostUSD: inv.CostUSD}, nil
}

// Work runs the agent on a task prompt inside its workspace
func (c *CLIClient) Work(ctx context.Context, req WorkRequest) (*WorkResponse, error) {
	inv, err := c.run(ctx, req.Dir, req.Model, req.SystemPrompt, req.Prompt)
	if inv == nil {
		inv = &invocation{}
	}
	// Partial signals still matter to the caller's bookkeeping on failure.
	return &WorkResponse{Output: inv.Result, CostUSD: inv.CostUSD, Messages: inv.Messages}, err
}

// Review asks the CLI for a verdict and parses the strict payload
func (c *CLIClient) Review(ctx context.Context, req ReviewRequest) (*ReviewResponse, error) {
	inv, err := c.run(ctx, req.Dir, req.Model, req.SystemPrompt, req.Prompt)
	if err != nil {
		return nil, err
	}
	passed, reasoning, err := ParseReviewPayload(inv.Result)
	if err != nil {
		return nil, err
	}
	return &ReviewResponse{Passed: passed, Reasoning: reasoning, CostUSD: inv.CostUSD}, nil
}
