package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	rootCmd    = &cobra.Command{
		Use:   "orch",
		Short: "Cycle Orchestrator - Autonomous task lifecycle manager",
		Long: `Cycle Orchestrator plans, executes, and reviews development tasks across
configured projects. Each task runs in an isolated git worktree, results are
judged before acceptance, and cycles repeat on a schedule.`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
