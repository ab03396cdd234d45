package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon health, heartbeat counters and drive state",
	RunE:  runStatus,
}

var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Trigger a heartbeat tick now",
	RunE:  runTick,
}

var activityCmd = &cobra.Command{
	Use:   "activity",
	Short: "Show recent activity",
	RunE:  runActivity,
}

var activityLimit int

func init() {
	activityCmd.Flags().IntVarP(&activityLimit, "limit", "n", 20, "Number of entries to show")
}

func runStatus(cmd *cobra.Command, args []string) error {
	health, err := CheckHealth()
	if err != nil {
		return err
	}
	stats, err := apiGet("/stats")
	if err != nil {
		return err
	}
	drive, err := apiGet("/drive")
	if err != nil {
		return err
	}

	fmt.Printf("Daemon:       ok (version %s, db %s)\n", health.Get("version").String(), health.Get("db").String())
	state := "idle"
	if stats.Get("running").Bool() {
		state = "ticking"
	}
	fmt.Printf("Heartbeat:    %s, %d ticks (%d skipped), last %s\n",
		state, stats.Get("ticks").Int(), stats.Get("skipped_ticks").Int(), formatTime(stats.Get("last_tick_at")))
	fmt.Printf("Tasks:        %d executed, %d failed, %d scheduled job runs\n",
		stats.Get("executed").Int(), stats.Get("failed").Int(), stats.Get("jobs_run").Int())
	fmt.Printf("Idle:         %d cycles total, %d in a row\n",
		stats.Get("idle_cycles").Int(), stats.Get("consecutive_idle").Int())
	fmt.Printf("Errors:       %d heartbeat errors\n", stats.Get("heartbeat_errors").Int())
	fmt.Printf("Drive:        tension %.2f, satisfaction %.2f\n",
		drive.Get("tension").Float(), drive.Get("satisfaction").Float())
	drive.Get("urgency_boosts").ForEach(func(goal, boost gjson.Result) bool {
		fmt.Printf("              boost %s %+.2f\n", goal.String(), boost.Float())
		return true
	})
	return nil
}

func runTick(cmd *cobra.Command, args []string) error {
	_, err := apiPost("/tick", struct{}{})
	var apiErr *apiError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict {
		fmt.Println("A tick is already in flight")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Println("Tick triggered")
	return nil
}

func runActivity(cmd *cobra.Command, args []string) error {
	entries, err := apiGet("/activity?limit=" + strconv.Itoa(activityLimit))
	if err != nil {
		return err
	}
	if len(entries.Array()) == 0 {
		fmt.Println("No activity yet")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tSOURCE\tSTATUS\tDURATION\tDESCRIPTION")
	entries.ForEach(func(_, e gjson.Result) bool {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			formatTime(e.Get("ts")),
			e.Get("source").String(),
			e.Get("status").String(),
			time.Duration(e.Get("duration_ms").Int())*time.Millisecond,
			truncate(e.Get("description").String(), 60),
		)
		if msg := e.Get("error").String(); msg != "" {
			fmt.Fprintf(w, "\t\t\t\terror: %s\n", truncate(msg, 60))
		}
		return true
	})
	return w.Flush()
}

// formatTime renders an RFC 3339 timestamp in local time.
func formatTime(v gjson.Result) string {
	if !v.Exists() || v.String() == "" {
		return "never"
	}
	t, err := time.Parse(time.RFC3339Nano, v.String())
	if err != nil {
		return v.String()
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
