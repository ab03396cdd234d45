package main

import (
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/cobra"

	"github.com/fentz26/cadence/internal/tui"
)

var noSpawn bool

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Open the terminal monitor",
	RunE:  runWatch,
}

func init() {
	watchCmd.Flags().BoolVar(&noSpawn, "no-spawn", false, "Do not start a daemon when none is running")
}

func runWatch(cmd *cobra.Command, args []string) error {
	if !isDaemonRunning() {
		if noSpawn {
			return fmt.Errorf("no daemon reachable at %s", apiAddr)
		}
		fmt.Println("cadence daemon not running. Starting background service...")
		if err := startDaemon(); err != nil {
			return fmt.Errorf("failed to start daemon: %w", err)
		}
	}

	app := tui.New(apiAddr)
	if err := app.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

func isDaemonRunning() bool {
	_, err := CheckHealth()
	return err == nil
}

func startDaemon() error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}

	// The daemon writes its own log file; detach it from this terminal.
	cmd := exec.Command(exe, "daemon", "--config", configPath)
	configureDaemonProc(cmd)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return err
	}

	fmt.Print("   Waiting for daemon...")
	for i := 0; i < 20; i++ {
		if isDaemonRunning() {
			fmt.Println(" Done.")
			return nil
		}
		time.Sleep(250 * time.Millisecond)
		fmt.Print(".")
	}
	fmt.Println(" Timeout!")
	return fmt.Errorf("daemon started but API not reachable at %s", apiAddr)
}
