package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
)

var goalCmd = &cobra.Command{
	Use:   "goal",
	Short: "Manage long-running goals",
}

var goalAddCmd = &cobra.Command{
	Use:   "add [title]",
	Short: "Add a goal",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runGoalAdd,
}

var goalListCmd = &cobra.Command{
	Use:   "list",
	Short: "List goals",
	RunE:  runGoalList,
}

var curiosityCmd = &cobra.Command{
	Use:   "curiosity",
	Short: "Manage the curiosity queue",
}

var curiosityAddCmd = &cobra.Command{
	Use:   "add [question]",
	Short: "Queue a question to investigate",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		item, err := apiPost("/curiosity", map[string]string{"question": strings.Join(args, " ")})
		if err != nil {
			return err
		}
		fmt.Printf("Queued question: %s\n", item.Get("id").String())
		return nil
	},
}

var topicCmd = &cobra.Command{
	Use:   "topic",
	Short: "Manage the learning agenda",
}

var topicAddCmd = &cobra.Command{
	Use:   "add [topic]",
	Short: "Add a topic to study",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		topic, err := apiPost("/topics", map[string]string{"topic": strings.Join(args, " ")})
		if err != nil {
			return err
		}
		fmt.Printf("Added topic: %s\n", topic.Get("id").String())
		return nil
	},
}

var decisionsCmd = &cobra.Command{
	Use:   "decisions",
	Short: "Show recent decision records",
	RunE:  runDecisions,
}

var (
	goalDesc       string
	goalPriority   int
	goalStatus     string
	decisionsLimit int
)

func init() {
	goalCmd.AddCommand(goalAddCmd, goalListCmd)
	curiosityCmd.AddCommand(curiosityAddCmd)
	topicCmd.AddCommand(topicAddCmd)

	goalAddCmd.Flags().StringVar(&goalDesc, "desc", "", "Goal description")
	goalAddCmd.Flags().IntVar(&goalPriority, "priority", 50, "Priority from 0 to 100")
	goalListCmd.Flags().StringVar(&goalStatus, "status", "", "Filter by status (pending, active, completed)")
	decisionsCmd.Flags().IntVar(&decisionsLimit, "limit", 20, "Number of records to show")
}

func runGoalAdd(cmd *cobra.Command, args []string) error {
	goal, err := apiPost("/goals", map[string]any{
		"title":       strings.Join(args, " "),
		"description": goalDesc,
		"priority":    goalPriority,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Created goal: %s (priority %d)\n", goal.Get("id").String(), goal.Get("priority").Int())
	return nil
}

func runGoalList(cmd *cobra.Command, args []string) error {
	path := "/goals"
	if goalStatus != "" {
		path += "?status=" + goalStatus
	}
	goals, err := apiGet(path)
	if err != nil {
		return err
	}
	if len(goals.Array()) == 0 {
		fmt.Println("No goals found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tPRIORITY\tPROGRESS\tSTATUS")
	goals.ForEach(func(_, g gjson.Result) bool {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d%%\t%s\n",
			g.Get("id").String(),
			truncate(g.Get("title").String(), 40),
			g.Get("priority").Int(),
			g.Get("progress").Int(),
			g.Get("status").String(),
		)
		return true
	})
	return w.Flush()
}

func runDecisions(cmd *cobra.Command, args []string) error {
	records, err := apiGet("/decisions?limit=" + strconv.Itoa(decisionsLimit))
	if err != nil {
		return err
	}
	if len(records.Array()) == 0 {
		fmt.Println("No decisions recorded")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tACTION\tTASK\tOUTCOME\tDETAILS")
	records.ForEach(func(_, r gjson.Result) bool {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			formatTime(r.Get("timestamp")),
			r.Get("action").String(),
			truncate(r.Get("task_key").String(), 30),
			r.Get("outcome").String(),
			truncate(r.Get("details").String(), 50),
		)
		return true
	})
	return w.Flush()
}
