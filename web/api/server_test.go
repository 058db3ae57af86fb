package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/driftworks/cycle-orchestrator/internal/domain"
	"github.com/driftworks/cycle-orchestrator/internal/orchestrator"
	"github.com/driftworks/cycle-orchestrator/internal/statestore"
)

// fakeController backs the API with one in-memory registry and canned status
type fakeController struct {
	registry  *orchestrator.Registry
	paused    []string
	resumed   []string
	triggered chan string
	events    chan orchestrator.Event
}

func newFakeController(t *testing.T) *fakeController {
	t.Helper()
	reg := orchestrator.NewRegistry(t.TempDir())
	t.Cleanup(func() { reg.CloseAll() })
	return &fakeController{
		registry:  reg,
		triggered: make(chan string, 1),
		events:    make(chan orchestrator.Event, 16),
	}
}

func (f *fakeController) Status(recentCycles int) ([]orchestrator.ProjectStatus, error) {
	return []orchestrator.ProjectStatus{{Name: "demo", PendingTasks: 2}}, nil
}

func (f *fakeController) Store(project string) (*statestore.Store, error) {
	return f.registry.Store(project)
}

func (f *fakeController) PauseProject(project string) error {
	f.paused = append(f.paused, project)
	return nil
}

func (f *fakeController) ResumeProject(project string) error {
	f.resumed = append(f.resumed, project)
	return nil
}

func (f *fakeController) TriggerNow(ctx context.Context, project string) error {
	f.triggered <- project
	return nil
}

func (f *fakeController) Subscribe() chan orchestrator.Event     { return f.events }
func (f *fakeController) Unsubscribe(ch chan orchestrator.Event) {}

func newTestServer(t *testing.T) (*Server, *fakeController) {
	t.Helper()
	ctrl := newFakeController(t)
	return NewServer(ctrl, "127.0.0.1:0"), ctrl
}

func TestStatusEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var statuses []orchestrator.ProjectStatus
	if err := json.NewDecoder(rec.Body).Decode(&statuses); err != nil {
		t.Fatal(err)
	}
	if len(statuses) != 1 || statuses[0].Name != "demo" {
		t.Errorf("statuses = %+v", statuses)
	}
}

func TestListAndGetTasks(t *testing.T) {
	srv, ctrl := newTestServer(t)

	store, err := ctrl.Store("demo")
	if err != nil {
		t.Fatal(err)
	}
	task := domain.NewTask("demo", "build parser", "d", domain.TypeCode)
	if err := store.CreateTask(task); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveResult(&domain.ExecutionResult{TaskID: task.ID, Success: true, CostUSD: 0.25}); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveVerdict(&domain.Verdict{TaskID: task.ID, Passed: true, Notes: "solid"}); err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/projects/demo/tasks", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var tasks []TaskResponse
	if err := json.NewDecoder(rec.Body).Decode(&tasks); err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 1 || tasks[0].Title != "build parser" {
		t.Fatalf("tasks = %+v", tasks)
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/projects/demo/tasks/"+task.ID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var detail TaskDetailResponse
	if err := json.NewDecoder(rec.Body).Decode(&detail); err != nil {
		t.Fatal(err)
	}
	if detail.Result == nil || detail.Result.CostUSD != 0.25 {
		t.Errorf("Result = %+v", detail.Result)
	}
	if detail.Verdict == nil || !detail.Verdict.Passed {
		t.Errorf("Verdict = %+v", detail.Verdict)
	}
}

func TestGetTask_NotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/projects/demo/tasks/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestPauseResumeTrigger(t *testing.T) {
	srv, ctrl := newTestServer(t)

	for _, action := range []string{"pause", "resume", "trigger"} {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/projects/demo/"+action, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s status = %d", action, rec.Code)
		}
	}
	if len(ctrl.paused) != 1 || len(ctrl.resumed) != 1 {
		t.Errorf("paused=%v resumed=%v", ctrl.paused, ctrl.resumed)
	}
	select {
	case p := <-ctrl.triggered:
		if p != "demo" {
			t.Errorf("triggered %q", p)
		}
	case <-time.After(2 * time.Second):
		t.Error("trigger did not reach the controller")
	}

	// Controls reject GET.
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/projects/demo/pause", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET pause status = %d, want 405", rec.Code)
	}
}

func TestEventsWebsocket(t *testing.T) {
	srv, ctrl := newTestServer(t)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	ctrl.events <- orchestrator.Event{Type: orchestrator.EventCycleFinished, Project: "demo", Message: "1 done, 0 failed"}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev orchestrator.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatal(err)
	}
	if ev.Type != orchestrator.EventCycleFinished || ev.Project != "demo" {
		t.Errorf("event = %+v", ev)
	}
}
