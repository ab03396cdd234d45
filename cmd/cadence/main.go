package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fentz26/cadence/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "cadence",
	Short: "cadence - autonomous scheduling and agentic execution host",
	Long: `cadence runs a heartbeat that wakes on a fixed interval, runs due scheduled
jobs, picks the most important pending task from its task sources and executes
it, either with a single reasoning call or a multi-step agent session.`,
	SilenceUsage: true,
	// No RunE - defaults to showing help when no subcommand is provided
}

var (
	apiAddr    string
	configPath string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&apiAddr, "api", "http://"+config.DefaultListen, "API server address")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath(), "Path to config.yaml")

	// Add subcommands
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(jobCmd)
	rootCmd.AddCommand(goalCmd)
	rootCmd.AddCommand(curiosityCmd)
	rootCmd.AddCommand(topicCmd)
	rootCmd.AddCommand(decisionsCmd)
	rootCmd.AddCommand(activityCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(tickCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
