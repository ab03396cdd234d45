// Package tui provides the terminal monitor for a running cadence daemon.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fentz26/cadence/internal/drive"
	"github.com/fentz26/cadence/internal/models"
	"github.com/fentz26/cadence/internal/scheduler"
)

// DefaultRefresh is how often the monitor polls the daemon.
const DefaultRefresh = 2 * time.Second

const activityLimit = 100

var (
	// Colors
	primaryColor = lipgloss.Color("#7C3AED")
	successColor = lipgloss.Color("#10B981")
	warningColor = lipgloss.Color("#F59E0B")
	errorColor   = lipgloss.Color("#EF4444")
	mutedColor   = lipgloss.Color("#6B7280")
	fgColor      = lipgloss.Color("#F9FAFB")
	cyanColor    = lipgloss.Color("#06B6D4")

	// Styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#374151")).
			Foreground(fgColor).
			Padding(0, 1)

	activeTabStyle = lipgloss.NewStyle().
			Background(primaryColor).
			Foreground(fgColor).
			Bold(true).
			Padding(0, 2)

	tabStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Padding(0, 2)

	onlineStyle = lipgloss.NewStyle().
			Foreground(successColor).
			Bold(true)

	offlineStyle = lipgloss.NewStyle().
			Foreground(errorColor)
)

type tab int

const (
	tabActivity tab = iota
	tabJobs
)

var tabNames = []string{"Activity", "Jobs"}

// App is the monitor's bubbletea model.
type App struct {
	client   *Client
	refresh  time.Duration
	now      func() time.Time
	viewport viewport.Model
	width    int
	height   int
	tab      tab

	online   bool
	stats    *scheduler.Stats
	drive    *drive.State
	jobs     []models.ScheduledJob
	activity []models.ActivityEntry
	message  string
}

// New creates a monitor for the daemon at apiAddr.
func New(apiAddr string) *App {
	return &App{
		client:   NewClient(apiAddr),
		refresh:  DefaultRefresh,
		now:      time.Now,
		viewport: viewport.New(80, 20),
	}
}

// Run starts the TUI application.
func (a *App) Run() error {
	p := tea.NewProgram(a, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// Init implements tea.Model
func (a *App) Init() tea.Cmd {
	return a.fetch(true)
}

// Update implements tea.Model
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return a, tea.Quit
		case "r":
			a.message = ""
			return a, a.fetch(false)
		case "tab":
			a.tab = (a.tab + 1) % tab(len(tabNames))
			a.syncViewport(true)
			return a, nil
		case "t":
			return a, a.triggerTick()
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.viewport.Width = msg.Width
		a.viewport.Height = max(msg.Height-8, 3)
		a.syncViewport(false)
		return a, nil

	case snapshotMsg:
		a.online = msg.err == nil
		if msg.err != nil {
			a.message = "Error: " + msg.err.Error()
		} else {
			a.stats = msg.stats
			a.drive = msg.drive
			a.jobs = msg.jobs
			a.activity = msg.activity
			a.syncViewport(false)
		}
		if msg.scheduled {
			// the next poll is only scheduled once this one is done
			return a, a.pollCmd()
		}
		return a, nil

	case pollMsg:
		return a, a.fetch(true)

	case tickResultMsg:
		a.message = msg.message
		return a, a.fetch(false)
	}

	var cmd tea.Cmd
	a.viewport, cmd = a.viewport.Update(msg)
	return a, cmd
}

// View implements tea.Model
func (a *App) View() string {
	var b strings.Builder

	daemon := onlineStyle.Render("● DAEMON")
	if !a.online {
		daemon = offlineStyle.Render("○ DAEMON")
	}
	header := titleStyle.Render("cadence") + "  " + daemon
	if a.drive != nil {
		header += "  " + lipgloss.NewStyle().Foreground(cyanColor).Render(
			fmt.Sprintf("tension %.2f  satisfaction %.2f", a.drive.Tension, a.drive.Satisfaction))
	}
	b.WriteString(header + "\n")
	b.WriteString(a.renderStats() + "\n")

	var tabs []string
	for i, name := range tabNames {
		if tab(i) == a.tab {
			tabs = append(tabs, activeTabStyle.Render(name))
		} else {
			tabs = append(tabs, tabStyle.Render(name))
		}
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, tabs...) + "\n")
	b.WriteString(strings.Repeat("─", max(a.width, 1)) + "\n")

	b.WriteString(a.viewport.View() + "\n")

	if a.message != "" {
		msgStyle := lipgloss.NewStyle().Foreground(successColor)
		if strings.HasPrefix(a.message, "Error") {
			msgStyle = lipgloss.NewStyle().Foreground(errorColor)
		}
		b.WriteString(msgStyle.Render(a.message))
	}
	b.WriteString("\n")

	status := fmt.Sprintf(" Jobs: %d | Tab:switch | ↑↓:scroll | r:refresh | t:tick | q:quit", len(a.jobs))
	b.WriteString(statusBarStyle.Width(max(a.width, 1)).Render(status))
	return b.String()
}

func (a *App) renderStats() string {
	if a.stats == nil {
		return lipgloss.NewStyle().Foreground(mutedColor).Render(" waiting for daemon...")
	}
	s := a.stats
	state := "idle"
	if s.Running {
		state = "ticking"
	}
	last := "never"
	if s.LastTickAt != nil {
		last = formatAge(a.now().Sub(*s.LastTickAt))
	}
	return fmt.Sprintf(" ticks %d (skipped %d) | executed %d | failed %s | jobs %d | idle %d | %s | last tick %s",
		s.Ticks, s.SkippedTicks, s.Executed,
		lipgloss.NewStyle().Foreground(errorColor).Render(fmt.Sprintf("%d", s.Failed)),
		s.JobsRun, s.ConsecutiveIdle, state, last)
}

// syncViewport re-renders the active tab. Activity follows the tail unless
// the user scrolled up.
func (a *App) syncViewport(switched bool) {
	atBottom := a.viewport.AtBottom()
	switch a.tab {
	case tabJobs:
		a.viewport.SetContent(renderJobs(a.jobs, a.now()))
		if switched {
			a.viewport.GotoTop()
		}
	default:
		a.viewport.SetContent(renderActivity(a.activity, a.viewport.Width))
		if switched || atBottom {
			a.viewport.GotoBottom()
		}
	}
}

type snapshotMsg struct {
	stats     *scheduler.Stats
	drive     *drive.State
	jobs      []models.ScheduledJob
	activity  []models.ActivityEntry
	err       error
	scheduled bool
}

type pollMsg time.Time

type tickResultMsg struct {
	message string
}

func (a *App) fetch(scheduled bool) tea.Cmd {
	return func() tea.Msg {
		msg := snapshotMsg{scheduled: scheduled}
		if msg.stats, msg.err = a.client.Stats(); msg.err != nil {
			return msg
		}
		if msg.drive, msg.err = a.client.Drive(); msg.err != nil {
			return msg
		}
		if msg.jobs, msg.err = a.client.Jobs(); msg.err != nil {
			return msg
		}
		msg.activity, msg.err = a.client.Activity(activityLimit)
		return msg
	}
}

func (a *App) pollCmd() tea.Cmd {
	return tea.Tick(a.refresh, func(t time.Time) tea.Msg {
		return pollMsg(t)
	})
}

func (a *App) triggerTick() tea.Cmd {
	return func() tea.Msg {
		ran, err := a.client.TriggerTick()
		switch {
		case err != nil:
			return tickResultMsg{"Error: " + err.Error()}
		case !ran:
			return tickResultMsg{"A tick is already in flight"}
		default:
			return tickResultMsg{"✓ Tick triggered"}
		}
	}
}
