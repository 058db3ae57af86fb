package collab

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/driftworks/cycle-orchestrator/internal/domain"
)

// The collaborators answer through a text channel, so their structured output
// arrives as JSON embedded in free text. Parsing is strict: a payload that
// does not conform is a parse error, never a guessed-at result.

type planPayload struct {
	Tasks     []proposalPayload `json:"tasks"`
	Reasoning string            `json:"reasoning"`
}

type proposalPayload struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	TaskType    string `json:"task_type"`
	Priority    int    `json:"priority"`
}

type reviewPayload struct {
	Passed    *bool  `json:"passed"`
	Reasoning string `json:"reasoning"`
}

// ParsePlanPayload parses a planner answer into task proposals.
// Every proposal needs a title and description; an unknown task_type is
// rejected rather than coerced.
func ParsePlanPayload(text string) ([]TaskProposal, string, error) {
	raw, err := extractJSON(text)
	if err != nil {
		return nil, "", fmt.Errorf("plan payload: %w", err)
	}

	var payload planPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, "", fmt.Errorf("plan payload: %w", err)
	}
	if payload.Tasks == nil {
		return nil, "", fmt.Errorf("plan payload: missing tasks field")
	}

	proposals := make([]TaskProposal, 0, len(payload.Tasks))
	for i, item := range payload.Tasks {
		if item.Title == "" || item.Description == "" {
			return nil, "", fmt.Errorf("plan payload: task %d missing title or description", i)
		}
		taskType := item.TaskType
		if taskType == "" {
			taskType = string(domain.TypeCode)
		}
		if !domain.ValidTaskType(taskType) {
			return nil, "", fmt.Errorf("plan payload: task %d has unknown type %q", i, item.TaskType)
		}
		proposals = append(proposals, TaskProposal{
			Title:       item.Title,
			Description: item.Description,
			Type:        domain.TaskType(taskType),
			Priority:    item.Priority,
		})
	}
	return proposals, payload.Reasoning, nil
}

// ParseReviewPayload parses a reviewer answer. The passed field must be
// present and boolean; anything else is a parse error.
func ParseReviewPayload(text string) (passed bool, reasoning string, err error) {
	raw, err := extractJSON(text)
	if err != nil {
		return false, "", fmt.Errorf("review payload: %w", err)
	}

	var payload reviewPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return false, "", fmt.Errorf("review payload: %w", err)
	}
	if payload.Passed == nil {
		return false, "", fmt.Errorf("review payload: missing passed field")
	}
	return *payload.Passed, payload.Reasoning, nil
}

// extractJSON pulls the outermost JSON object out of a text answer that may
// wrap it in prose or a code fence
func extractJSON(text string) (string, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return "", fmt.Errorf("no JSON object in %q", truncate(text, 80))
	}
	return text[start : end+1], nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
