package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/fentz26/cadence/internal/models"
)

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Manage scheduled jobs",
}

var jobAddCmd = &cobra.Command{
	Use:   "add [message]",
	Short: "Add a scheduled job",
	Long: `Adds a job whose message is sent to the reasoning oracle when it is due.
Exactly one of --every, --cron or --at is required.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runJobAdd,
}

var jobListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scheduled jobs",
	RunE:  runJobList,
}

var jobRemoveCmd = &cobra.Command{
	Use:     "rm [job-id]",
	Aliases: []string{"remove"},
	Short:   "Remove a scheduled job",
	Args:    cobra.ExactArgs(1),
	RunE:    runJobRemove,
}

var jobEnableCmd = &cobra.Command{
	Use:   "enable [job-id]",
	Short: "Enable a job",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setJobEnabled(args[0], true) },
}

var jobDisableCmd = &cobra.Command{
	Use:   "disable [job-id]",
	Short: "Disable a job",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setJobEnabled(args[0], false) },
}

var (
	jobName   string
	jobEvery  time.Duration
	jobAnchor string
	jobCron   string
	jobAt     string
)

func init() {
	jobCmd.AddCommand(jobAddCmd, jobListCmd, jobRemoveCmd, jobEnableCmd, jobDisableCmd)

	jobAddCmd.Flags().StringVar(&jobName, "name", "", "Job name (defaults to the message)")
	jobAddCmd.Flags().DurationVar(&jobEvery, "every", 0, "Run at a fixed interval, e.g. 30m")
	jobAddCmd.Flags().StringVar(&jobAnchor, "anchor", "", "RFC 3339 time interval boundaries are aligned to")
	jobAddCmd.Flags().StringVar(&jobCron, "cron", "", `Five-field cron expression, e.g. "0 9 * * 1-5"`)
	jobAddCmd.Flags().StringVar(&jobAt, "at", "", "Run once at an RFC 3339 time")
}

// parseSchedule builds a schedule from the job add flags.
func parseSchedule(every time.Duration, anchor, cron, at string) (models.Schedule, error) {
	set := 0
	for _, given := range []bool{every != 0, cron != "", at != ""} {
		if given {
			set++
		}
	}
	if set != 1 {
		return models.Schedule{}, errors.New("exactly one of --every, --cron or --at is required")
	}
	if anchor != "" && every == 0 {
		return models.Schedule{}, errors.New("--anchor only applies to --every")
	}

	switch {
	case every != 0:
		s := models.Schedule{Kind: models.ScheduleEvery, EveryMs: every.Milliseconds()}
		if anchor != "" {
			t, err := time.Parse(time.RFC3339, anchor)
			if err != nil {
				return models.Schedule{}, fmt.Errorf("invalid --anchor: %w", err)
			}
			ms := t.UnixMilli()
			s.AnchorMs = &ms
		}
		return s, nil
	case cron != "":
		return models.Schedule{Kind: models.ScheduleCron, Expr: cron}, nil
	default:
		t, err := time.Parse(time.RFC3339, at)
		if err != nil {
			return models.Schedule{}, fmt.Errorf("invalid --at: %w", err)
		}
		return models.Schedule{Kind: models.ScheduleAt, AtMs: t.UnixMilli()}, nil
	}
}

func runJobAdd(cmd *cobra.Command, args []string) error {
	sched, err := parseSchedule(jobEvery, jobAnchor, jobCron, jobAt)
	if err != nil {
		return err
	}

	job, err := apiPost("/jobs", map[string]any{
		"name":     jobName,
		"message":  strings.Join(args, " "),
		"schedule": sched,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Created job: %s (%s)\n", job.Get("id").String(), job.Get("name").String())
	if next := job.Get("state.next_run_at_ms"); next.Exists() && next.Type != gjson.Null {
		fmt.Printf("Next run:    %s\n", time.UnixMilli(next.Int()).Local().Format(time.RFC1123))
	}
	return nil
}

func runJobList(cmd *cobra.Command, args []string) error {
	jobs, err := apiGet("/jobs")
	if err != nil {
		return err
	}
	if len(jobs.Array()) == 0 {
		fmt.Println("No scheduled jobs")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSCHEDULE\tENABLED\tNEXT RUN\tLAST")
	jobs.ForEach(func(_, job gjson.Result) bool {
		next := "-"
		if ms := job.Get("state.next_run_at_ms"); ms.Type == gjson.Number {
			next = time.UnixMilli(ms.Int()).Local().Format("2006-01-02 15:04")
		}
		last := job.Get("state.last_status").String()
		if last == "" {
			last = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\t%s\n",
			job.Get("id").String(),
			truncate(job.Get("name").String(), 32),
			describeSchedule(job.Get("schedule")),
			job.Get("enabled").Bool(),
			next,
			last,
		)
		return true
	})
	return w.Flush()
}

func describeSchedule(s gjson.Result) string {
	switch models.ScheduleKind(s.Get("kind").String()) {
	case models.ScheduleEvery:
		return "every " + (time.Duration(s.Get("every_ms").Int()) * time.Millisecond).String()
	case models.ScheduleCron:
		return "cron " + s.Get("expr").String()
	case models.ScheduleAt:
		return "at " + time.UnixMilli(s.Get("at_ms").Int()).Local().Format("2006-01-02 15:04")
	default:
		return s.Get("kind").String()
	}
}

func runJobRemove(cmd *cobra.Command, args []string) error {
	if err := apiDelete("/jobs/" + args[0]); err != nil {
		return err
	}
	fmt.Printf("Removed job %s\n", args[0])
	return nil
}

func setJobEnabled(id string, enabled bool) error {
	action := "disable"
	if enabled {
		action = "enable"
	}
	if _, err := apiPost("/jobs/"+id+"/"+action, struct{}{}); err != nil {
		return err
	}
	fmt.Printf("Job %s %sd\n", id, action)
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
