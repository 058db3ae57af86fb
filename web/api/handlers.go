package api

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/driftworks/cycle-orchestrator/internal/domain"
	"github.com/driftworks/cycle-orchestrator/internal/statestore"
)

// TaskResponse is the API shape of a task
type TaskResponse struct {
	ID          string  `json:"id"`
	Project     string  `json:"project"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Type        string  `json:"type"`
	Status      string  `json:"status"`
	Branch      string  `json:"branch"`
	Priority    int     `json:"priority"`
	RetryCount  int     `json:"retry_count"`
	CreatedAt   string  `json:"created_at"`
	StartedAt   *string `json:"started_at,omitempty"`
	CompletedAt *string `json:"completed_at,omitempty"`
	CycleID     string  `json:"cycle_id,omitempty"`
}

// TaskDetailResponse adds execution and review outcomes to a task
type TaskDetailResponse struct {
	TaskResponse
	Result  *ResultResponse  `json:"result,omitempty"`
	Verdict *VerdictResponse `json:"verdict,omitempty"`
}

// ResultResponse is the API shape of an execution result
type ResultResponse struct {
	Success         bool    `json:"success"`
	Output          string  `json:"output,omitempty"`
	Error           string  `json:"error,omitempty"`
	DiffStat        string  `json:"diff_stat,omitempty"`
	FilesChanged    int     `json:"files_changed"`
	CostUSD         float64 `json:"cost_usd"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// VerdictResponse is the API shape of a verdict
type VerdictResponse struct {
	Passed      bool    `json:"passed"`
	TestsPassed int     `json:"tests_passed"`
	TestsFailed int     `json:"tests_failed"`
	LintOK      bool    `json:"lint_ok"`
	Notes       string  `json:"notes,omitempty"`
	CostUSD     float64 `json:"cost_usd"`
}

func taskToResponse(t *domain.Task) TaskResponse {
	resp := TaskResponse{
		ID:          t.ID,
		Project:     t.Project,
		Title:       t.Title,
		Description: t.Description,
		Type:        string(t.Type),
		Status:      string(t.Status),
		Branch:      t.Branch,
		Priority:    t.Priority,
		RetryCount:  t.RetryCount,
		CreatedAt:   t.CreatedAt.Format(time.RFC3339),
		CycleID:     t.CycleID,
	}
	if t.StartedAt != nil {
		s := t.StartedAt.Format(time.RFC3339)
		resp.StartedAt = &s
	}
	if t.CompletedAt != nil {
		s := t.CompletedAt.Format(time.RFC3339)
		resp.CompletedAt = &s
	}
	return resp
}

func (s *Server) statusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		statuses, err := s.ctrl.Status(5)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, statuses)
	}
}

// projectHandler routes /api/projects/{name}/... subresources
func (s *Server) projectHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/api/projects/")
		parts := strings.SplitN(rest, "/", 3)
		if parts[0] == "" {
			writeError(w, http.StatusNotFound, "project name required")
			return
		}
		project := parts[0]

		action := ""
		if len(parts) > 1 {
			action = parts[1]
		}

		switch {
		case action == "tasks" && len(parts) == 2:
			s.listTasks(w, r, project)
		case action == "tasks" && len(parts) == 3:
			s.getTask(w, r, project, parts[2])
		case action == "pause":
			s.control(w, r, project, s.ctrl.PauseProject)
		case action == "resume":
			s.control(w, r, project, s.ctrl.ResumeProject)
		case action == "trigger":
			s.trigger(w, r, project)
		default:
			writeError(w, http.StatusNotFound, "not found")
		}
	}
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request, project string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	store, err := s.ctrl.Store(project)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	opts := statestore.ListOptions{Project: project}
	if status := r.URL.Query().Get("status"); status != "" {
		opts.Status = domain.TaskStatus(status)
	}
	tasks, err := store.ListTasks(opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := make([]TaskResponse, 0, len(tasks))
	for _, t := range tasks {
		resp = append(resp, taskToResponse(t))
	}
	writeJSON(w, resp)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request, project, id string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	store, err := s.ctrl.Store(project)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	task, err := store.GetTask(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if task == nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}

	detail := TaskDetailResponse{TaskResponse: taskToResponse(task)}
	if result, err := store.GetResult(id); err == nil && result != nil {
		detail.Result = &ResultResponse{
			Success:         result.Success,
			Output:          result.Output,
			Error:           result.Error,
			DiffStat:        result.DiffStat,
			FilesChanged:    result.FilesChanged,
			CostUSD:         result.CostUSD,
			DurationSeconds: result.DurationSeconds,
		}
	}
	if verdict, err := store.GetVerdict(id); err == nil && verdict != nil {
		detail.Verdict = &VerdictResponse{
			Passed:      verdict.Passed,
			TestsPassed: verdict.TestsPassed,
			TestsFailed: verdict.TestsFailed,
			LintOK:      verdict.LintOK,
			Notes:       verdict.Notes,
			CostUSD:     verdict.CostUSD,
		}
	}
	writeJSON(w, detail)
}

func (s *Server) control(w http.ResponseWriter, r *http.Request, project string, fn func(string) error) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := fn(project); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]string{"project": project, "status": "ok"})
}

func (s *Server) trigger(w http.ResponseWriter, r *http.Request, project string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	// Cycles can take minutes; run detached and confirm receipt.
	go func() {
		if err := s.ctrl.TriggerNow(context.Background(), project); err != nil {
			log.Printf("[api] trigger %s: %v", project, err)
		}
	}()
	writeJSON(w, map[string]string{"project": project, "status": "triggered"})
}
