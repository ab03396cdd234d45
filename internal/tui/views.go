package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/fentz26/cadence/internal/models"
)

var (
	statusSuccess = lipgloss.NewStyle().Foreground(successColor)
	statusFailed  = lipgloss.NewStyle().Foreground(errorColor)
	statusPaused  = lipgloss.NewStyle().Foreground(warningColor)
	statusIdle    = lipgloss.NewStyle().Foreground(mutedColor)
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(cyanColor)
)

func formatStatus(status string) string {
	switch status {
	case models.StatusSuccess:
		return statusSuccess.Render("● success")
	case models.StatusFailed:
		return statusFailed.Render("✗ failed ")
	case models.StatusError:
		return statusFailed.Render("✗ error  ")
	case models.StatusPaused:
		return statusPaused.Render("◐ paused ")
	case models.StatusIdle:
		return statusIdle.Render("○ idle   ")
	case "":
		return statusIdle.Render("-        ")
	default:
		return fmt.Sprintf("%-9s", status)
	}
}

// renderActivity lists entries oldest first, one line each plus an
// indented output or error line.
func renderActivity(entries []models.ActivityEntry, width int) string {
	if len(entries) == 0 {
		return "\n  No activity yet.\n"
	}
	detailWidth := max(width-8, 20)

	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, " %s  %s  %-10s  %s",
			e.TS.Local().Format("15:04:05"),
			formatStatus(e.Status),
			models.Truncate(e.Source, 10),
			e.Description,
		)
		if e.DurationMs > 0 {
			b.WriteString(statusIdle.Render(fmt.Sprintf("  (%s)", time.Duration(e.DurationMs)*time.Millisecond)))
		}
		b.WriteString("\n")

		detail := e.Output
		if e.Error != "" {
			detail = e.Error
		}
		if detail = strings.Join(strings.Fields(detail), " "); detail != "" {
			b.WriteString(statusIdle.Render("      "+models.Truncate(detail, detailWidth)) + "\n")
		}
	}
	return b.String()
}

func renderJobs(jobs []models.ScheduledJob, now time.Time) string {
	if len(jobs) == 0 {
		return "\n  No scheduled jobs. Add one with: cadence job add\n"
	}

	var b strings.Builder
	fmt.Fprintf(&b, " %s  %s  %s  %s  %s\n",
		headerStyle.Render(fmt.Sprintf("%-8s", "ID")),
		headerStyle.Render(fmt.Sprintf("%-24s", "NAME")),
		headerStyle.Render(fmt.Sprintf("%-18s", "SCHEDULE")),
		headerStyle.Render(fmt.Sprintf("%-10s", "NEXT")),
		headerStyle.Render("LAST"),
	)
	for _, job := range jobs {
		next := "-"
		if !job.Enabled {
			next = "disabled"
		} else if job.State.NextRunAtMs != nil {
			next = formatUntil(time.UnixMilli(*job.State.NextRunAtMs).Sub(now))
		}
		id := job.ID
		if len(id) > 8 {
			id = id[:8]
		}
		fmt.Fprintf(&b, " %-8s  %-24s  %-18s  %-10s  %s\n",
			id,
			models.Truncate(job.Name, 24),
			models.Truncate(describeSchedule(job.Schedule), 18),
			next,
			formatStatus(job.State.LastStatus),
		)
		if job.State.LastError != "" {
			b.WriteString(statusFailed.Render("      "+models.Truncate(job.State.LastError, 70)) + "\n")
		}
	}
	return b.String()
}

func describeSchedule(s models.Schedule) string {
	switch s.Kind {
	case models.ScheduleEvery:
		return "every " + (time.Duration(s.EveryMs) * time.Millisecond).String()
	case models.ScheduleCron:
		return s.Expr
	case models.ScheduleAt:
		return "at " + time.UnixMilli(s.AtMs).Local().Format("01-02 15:04")
	default:
		return string(s.Kind)
	}
}

func formatUntil(d time.Duration) string {
	if d <= 0 {
		return "due"
	}
	return "in " + formatAge(d)
}

func formatAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}
}
