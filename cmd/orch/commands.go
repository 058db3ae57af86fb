package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/driftworks/cycle-orchestrator/internal/config"
	"github.com/driftworks/cycle-orchestrator/internal/domain"
	"github.com/driftworks/cycle-orchestrator/internal/merge"
	"github.com/driftworks/cycle-orchestrator/internal/observer"
	"github.com/driftworks/cycle-orchestrator/internal/orchestrator"
	"github.com/driftworks/cycle-orchestrator/internal/statestore"
	"github.com/driftworks/cycle-orchestrator/web/api"
)

var (
	tasksStatus  string
	tasksProject string
	addType      string
	addDesc      string
	addPriority  int
	statusCycles int
)

func init() {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the orchestrator daemon",
		Long:  "Runs cycles for every enabled project on its schedule, with the web API and config hot-reload.",
		RunE:  runDaemon,
	}
	rootCmd.AddCommand(runCmd)

	cycleCmd := &cobra.Command{
		Use:   "cycle PROJECT",
		Short: "Run one cycle for a project immediately",
		Args:  cobra.ExactArgs(1),
		RunE:  runCycle,
	}
	rootCmd.AddCommand(cycleCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show per-project status",
		RunE:  runStatus,
	}
	statusCmd.Flags().IntVar(&statusCycles, "cycles", 3, "recent cycles to show per project")
	rootCmd.AddCommand(statusCmd)

	tasksCmd := &cobra.Command{
		Use:   "tasks",
		Short: "List tasks",
		RunE:  runTasks,
	}
	tasksCmd.Flags().StringVar(&tasksStatus, "status", "", "filter by status")
	tasksCmd.Flags().StringVar(&tasksProject, "project", "", "filter by project")
	rootCmd.AddCommand(tasksCmd)

	taskCmd := &cobra.Command{
		Use:   "task",
		Short: "Task operations",
	}
	addCmd := &cobra.Command{
		Use:   "add PROJECT TITLE",
		Short: "Queue a task manually",
		Args:  cobra.ExactArgs(2),
		RunE:  runTaskAdd,
	}
	addCmd.Flags().StringVar(&addDesc, "description", "", "task description")
	addCmd.Flags().StringVar(&addType, "type", "code", "task type (code, test, fix, review)")
	addCmd.Flags().IntVar(&addPriority, "priority", 0, "task priority, higher runs first")
	taskCmd.AddCommand(addCmd)
	rootCmd.AddCommand(taskCmd)

	pauseCmd := &cobra.Command{
		Use:   "pause PROJECT",
		Short: "Pause a project",
		Args:  cobra.ExactArgs(1),
		RunE:  runPause,
	}
	rootCmd.AddCommand(pauseCmd)

	resumeCmd := &cobra.Command{
		Use:   "resume PROJECT",
		Short: "Resume a paused project",
		Args:  cobra.ExactArgs(1),
		RunE:  runResume,
	}
	rootCmd.AddCommand(resumeCmd)

	mergeCmd := &cobra.Command{
		Use:   "merge PROJECT",
		Short: "Merge approved task branches into the default branch",
		Args:  cobra.ExactArgs(1),
		RunE:  runMerge,
	}
	rootCmd.AddCommand(mergeCmd)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the web API without the cycle schedule",
		RunE:  runServe,
	}
	rootCmd.AddCommand(serveCmd)
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	return config.Load(path)
}

func prepareDirs(cfg *config.Config) error {
	for _, dir := range []string{cfg.DataDir, cfg.WorktreeDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := prepareDirs(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	orch := orchestrator.New(cfg)
	if err := orch.Start(ctx); err != nil {
		return err
	}
	defer orch.Stop()

	// Hot-reload on config changes.
	cfgPath := configPath
	if cfgPath == "" {
		cfgPath = config.DefaultConfigPath()
	}
	watcher, err := observer.NewConfigWatcher(cfgPath, func(path string) {
		newCfg, err := config.Load(path)
		if err != nil {
			log.Printf("[orch] config reload rejected: %v", err)
			return
		}
		if err := orch.Reload(ctx, newCfg); err != nil {
			log.Printf("[orch] config reload failed: %v", err)
		}
	})
	if err != nil {
		return err
	}
	if err := watcher.Start(ctx); err != nil {
		return err
	}
	defer watcher.Stop()

	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port)
	server := api.NewServer(orch, addr)
	go func() {
		log.Printf("[orch] web API on http://%s", addr)
		if err := server.Start(); err != nil {
			log.Printf("[orch] web server: %v", err)
		}
	}()

	log.Printf("[orch] daemon started, %d projects enabled", len(cfg.EnabledProjects()))
	<-ctx.Done()
	log.Printf("[orch] shutting down")
	return nil
}

func runCycle(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := prepareDirs(cfg); err != nil {
		return err
	}
	project := args[0]

	orch := orchestrator.New(cfg)
	defer orch.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := orch.TriggerNow(ctx, project); err != nil {
		return err
	}

	store, err := orch.Store(project)
	if err != nil {
		return err
	}
	cycles, err := store.RecentCycles(project, 1)
	if err != nil {
		return err
	}
	if len(cycles) == 0 {
		fmt.Println("No cycle ran (project paused?)")
		return nil
	}
	c := cycles[0]
	fmt.Printf("Cycle %s: %s\n", c.ID, c.Status)
	fmt.Printf("  created: %d  completed: %d  failed: %d  cost: $%.4f\n",
		c.TasksCreated, c.TasksCompleted, c.TasksFailed, c.TotalCostUSD)
	if c.Error != "" {
		fmt.Printf("  error: %s\n", c.Error)
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := prepareDirs(cfg); err != nil {
		return err
	}

	orch := orchestrator.New(cfg)
	defer orch.Stop()

	statuses, err := orch.Status(statusCycles)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PROJECT\tPAUSED\tPENDING\tCYCLES\tDONE\tCOST\tLAST CYCLE")
	for _, st := range statuses {
		last := "-"
		if st.LastCycleAt != nil {
			last = st.LastCycleAt.Local().Format(time.DateTime)
		}
		fmt.Fprintf(w, "%s\t%v\t%d\t%d\t%d\t$%.2f\t%s\n",
			st.Name, st.Paused, st.PendingTasks, st.TotalCycles, st.TasksDone, st.TotalCostUSD, last)
	}
	w.Flush()
	return nil
}

func runTasks(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := prepareDirs(cfg); err != nil {
		return err
	}

	projects := cfg.EnabledProjects()
	if tasksProject != "" {
		p := cfg.GetProject(tasksProject)
		if p == nil {
			return fmt.Errorf("unknown project %q", tasksProject)
		}
		projects = []config.ProjectConfig{*p}
	}

	reg := orchestrator.NewRegistry(cfg.DataDir)
	defer reg.CloseAll()

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPROJECT\tSTATUS\tTYPE\tPRIO\tRETRY\tTITLE")
	for _, p := range projects {
		store, err := reg.Store(p.Name)
		if err != nil {
			return err
		}
		tasks, err := store.ListTasks(statestore.ListOptions{
			Project: p.Name,
			Status:  domain.TaskStatus(tasksStatus),
		})
		if err != nil {
			return err
		}
		for _, t := range tasks {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d/%d\t%s\n",
				t.ID, t.Project, t.Status, t.Type, t.Priority, t.RetryCount, t.MaxRetries, t.Title)
		}
	}
	w.Flush()
	return nil
}

func runTaskAdd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := prepareDirs(cfg); err != nil {
		return err
	}

	project, title := args[0], args[1]
	p := cfg.GetProject(project)
	if p == nil {
		return fmt.Errorf("unknown project %q", project)
	}
	if !domain.ValidTaskType(addType) {
		return fmt.Errorf("invalid task type %q", addType)
	}

	task := domain.NewTask(project, title, addDesc, domain.TaskType(addType))
	task.Priority = addPriority
	task.Branch = domain.BranchName(p.BranchPrefix, task.ID)

	reg := orchestrator.NewRegistry(cfg.DataDir)
	defer reg.CloseAll()
	store, err := reg.Store(project)
	if err != nil {
		return err
	}
	if err := store.CreateTask(task); err != nil {
		return err
	}
	fmt.Printf("Queued task %s on branch %s\n", task.ID, task.Branch)
	return nil
}

func runPause(cmd *cobra.Command, args []string) error {
	return setPaused(args[0], true)
}

func runResume(cmd *cobra.Command, args []string) error {
	return setPaused(args[0], false)
}

func setPaused(project string, paused bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := prepareDirs(cfg); err != nil {
		return err
	}
	if cfg.GetProject(project) == nil {
		return fmt.Errorf("unknown project %q", project)
	}

	reg := orchestrator.NewRegistry(cfg.DataDir)
	defer reg.CloseAll()
	store, err := reg.Store(project)
	if err != nil {
		return err
	}
	if err := store.SetPaused(project, paused); err != nil {
		return err
	}
	if paused {
		fmt.Printf("Paused %s\n", project)
	} else {
		fmt.Printf("Resumed %s\n", project)
	}
	return nil
}

func runMerge(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := prepareDirs(cfg); err != nil {
		return err
	}

	project := args[0]
	p := cfg.GetProject(project)
	if p == nil {
		return fmt.Errorf("unknown project %q", project)
	}

	reg := orchestrator.NewRegistry(cfg.DataDir)
	defer reg.CloseAll()
	store, err := reg.Store(project)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	outcomes, err := merge.New(*p).MergeDone(ctx, store)
	if err != nil {
		return err
	}
	if len(outcomes) == 0 {
		fmt.Println("Nothing to merge")
		return nil
	}
	for _, out := range outcomes {
		marker := "ok"
		if !out.Merged {
			marker = "SKIPPED"
		}
		fmt.Printf("[%s] %s %s: %s\n", marker, out.TaskID, out.Branch, out.Message)
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := prepareDirs(cfg); err != nil {
		return err
	}

	orch := orchestrator.New(cfg)
	defer orch.Stop()

	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port)
	log.Printf("[orch] web API on http://%s", addr)
	return api.NewServer(orch, addr).Start()
}
