package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fentz26/cadence/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the daemon configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config.yaml",
	RunE:  runConfigInit,
}

var configForce bool

func init() {
	configCmd.AddCommand(configInitCmd)
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite an existing file")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(configPath); err == nil && !configForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", configPath)
	}
	if err := config.Save(configPath, config.DefaultConfig()); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", configPath)
	return nil
}
