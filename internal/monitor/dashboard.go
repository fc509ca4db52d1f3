package monitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fyrsmithlabs/orchestrd/internal/client"
	api "github.com/fyrsmithlabs/orchestrd/internal/http"
	"github.com/fyrsmithlabs/orchestrd/internal/hitl"
	"github.com/fyrsmithlabs/orchestrd/internal/orchestrator"
	"github.com/fyrsmithlabs/orchestrd/internal/runner"
)

const (
	sparklineWidth  = 30
	sparklineHeight = 3
	historySize     = 30

	// finished workflows shown below the running ones
	recentFinished = 5
	taskWidth      = 32
)

// Model is the Bubble Tea dashboard for one orchestrd daemon.
type Model struct {
	client     *client.Client
	interval   time.Duration
	lastUpdate time.Time
	snapshot   Snapshot
	err        error
	quitting   bool

	iterationProgress progress.Model
}

// Snapshot holds what one poll of the daemon returned plus history for the
// sparklines.
type Snapshot struct {
	Health    api.HealthResponse
	Workflows []runner.Workflow
	Pending   []hitl.Request

	RunningHistory []float64
	PendingHistory []float64
}

// Running returns workflows that have not finished, oldest first.
func (s Snapshot) Running() []runner.Workflow {
	var out []runner.Workflow
	for _, w := range s.Workflows {
		if !w.Done() {
			out = append(out, w)
		}
	}
	return out
}

// Finished returns up to n of the most recently finished workflows, newest
// first.
func (s Snapshot) Finished(n int) []runner.Workflow {
	var out []runner.Workflow
	for i := len(s.Workflows) - 1; i >= 0 && len(out) < n; i-- {
		if s.Workflows[i].Done() {
			out = append(out, s.Workflows[i])
		}
	}
	return out
}

// Lipgloss styles (k9s-inspired color scheme)
var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true).
			MarginTop(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	healthyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	containerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(1, 2)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			MarginTop(1)

	footerKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	sparklineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51"))
)

// NewModel creates a dashboard polling c every interval.
func NewModel(c *client.Client, interval time.Duration) Model {
	return Model{
		client:   c,
		interval: interval,
		iterationProgress: progress.New(
			progress.WithGradient("#00ff00", "#ff0000"),
			progress.WithWidth(20),
			progress.WithoutPercentage(),
		),
		snapshot: Snapshot{
			RunningHistory: make([]float64, 0, historySize),
			PendingHistory: make([]float64, 0, historySize),
		},
	}
}

// workflowBadge renders a workflow status
func workflowBadge(status orchestrator.Status) string {
	switch status {
	case orchestrator.StatusCompleted:
		return healthyStyle.Render("✓ completed")
	case orchestrator.StatusFailed:
		return errorStyle.Render("✗ failed")
	case orchestrator.StatusSelfHealing:
		return warningStyle.Render("↻ self_healing")
	default:
		return valueStyle.Render("● " + string(status))
	}
}

// statusBadge returns the overall daemon badge
func statusBadge(h api.HealthResponse, pending int) string {
	switch {
	case h.Status == "":
		return dimStyle.Render("… CONNECTING")
	case h.Status != "ok":
		return errorStyle.Render("✗ " + strings.ToUpper(h.Status))
	case pending > 0:
		return warningStyle.Render("⚠ WAITING")
	}
	return healthyStyle.Render("✓ HEALTHY")
}

// appendToHistory appends a value to history, maintaining max size
func appendToHistory(history []float64, value float64) []float64 {
	history = append(history, value)
	if len(history) > historySize {
		history = history[1:]
	}
	return history
}

// createSparkline creates a sparkline chart from historical data
func createSparkline(data []float64) string {
	if len(data) == 0 {
		return dimStyle.Render(fmt.Sprintf("%*s", sparklineWidth, "no data"))
	}

	spark := sparkline.New(sparklineWidth, sparklineHeight)
	for _, v := range data {
		spark.Push(v)
	}
	spark.Draw()

	return sparklineStyle.Render(spark.View())
}

type tickMsg time.Time
type snapshotMsg Snapshot
type errMsg error

// Init starts polling.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tick(m.interval),
		fetchSnapshot(m.client),
	)
}

func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// fetchSnapshot polls health, workflows and pending requests
func fetchSnapshot(c *client.Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		health, err := c.Health(ctx)
		if err != nil {
			return errMsg(err)
		}
		workflows, err := c.ListWorkflows(ctx)
		if err != nil {
			return errMsg(err)
		}
		pending, err := c.PendingRequests(ctx, "")
		if err != nil {
			return errMsg(err)
		}
		return snapshotMsg{Health: health, Workflows: workflows, Pending: pending}
	}
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, fetchSnapshot(m.client)
		}

	case tickMsg:
		return m, tea.Batch(
			tick(m.interval),
			fetchSnapshot(m.client),
		)

	case snapshotMsg:
		next := Snapshot(msg)
		next.RunningHistory = appendToHistory(m.snapshot.RunningHistory, float64(len(next.Running())))
		next.PendingHistory = appendToHistory(m.snapshot.PendingHistory, float64(len(next.Pending)))
		m.snapshot = next
		m.lastUpdate = time.Now()
		m.err = nil
		return m, nil

	case errMsg:
		m.err = error(msg)
		return m, nil
	}

	return m, nil
}

// View renders the dashboard.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.err != nil {
		return m.renderError()
	}
	return m.renderDashboard()
}

func (m Model) renderError() string {
	header := headerStyle.Render("orchestrd Monitor")

	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(errorStyle.Render("⚠ Cannot reach orchestrd") + "\n\n")
	b.WriteString(dimStyle.Render("URL: ") + valueStyle.Render(m.client.BaseURL()) + "\n")
	b.WriteString(dimStyle.Render("Error: ") + errorStyle.Render(m.err.Error()) + "\n\n")
	b.WriteString(dimStyle.Render("Start the daemon with: orchestrd serve") + "\n")
	b.WriteString(footerStyle.Render("[q] quit  [r] retry") + "\n")

	return containerStyle.Render(header + "\n" + b.String())
}

func (m Model) renderDashboard() string {
	var b strings.Builder
	s := m.snapshot

	lastUpdateStr := "Never"
	if !m.lastUpdate.IsZero() {
		lastUpdateStr = m.lastUpdate.Format("3:04:05 PM")
	}
	version := s.Health.Version
	if version == "" {
		version = "dev"
	}
	b.WriteString(headerStyle.Render(" orchestrd Monitor ") + "\n")
	b.WriteString(fmt.Sprintf("%s   %s %s   %s\n",
		statusBadge(s.Health, len(s.Pending)),
		dimStyle.Render("Version:"),
		valueStyle.Render(version),
		dimStyle.Render(lastUpdateStr)))

	running := s.Running()
	b.WriteString("\n" + sectionStyle.Render("┃ Workflows") + "\n")
	b.WriteString(labelStyle.Render("  Running: ") +
		valueStyle.Render(fmt.Sprintf("%d", len(running))) +
		dimStyle.Render(fmt.Sprintf(" of %d", len(s.Workflows))) +
		"   " + createSparkline(s.RunningHistory) + "\n")
	if len(running) == 0 {
		b.WriteString(dimStyle.Render("  no running workflows") + "\n")
	}
	for _, w := range running {
		b.WriteString(m.renderWorkflow(w))
	}

	if finished := s.Finished(recentFinished); len(finished) > 0 {
		b.WriteString("\n" + sectionStyle.Render("┃ Recent") + "\n")
		for _, w := range finished {
			line := fmt.Sprintf("  %s  %s  %s",
				valueStyle.Render(Truncate(w.ID, 12)),
				workflowBadge(w.Status),
				dimStyle.Render(Truncate(w.Task, taskWidth)))
			if w.Error != "" {
				line += "  " + errorStyle.Render(Truncate(w.Error, 40))
			}
			b.WriteString(line + "\n")
		}
	}

	b.WriteString("\n" + sectionStyle.Render("┃ Human Checkpoints") + "\n")
	b.WriteString(labelStyle.Render("  Pending: ") +
		valueStyle.Render(fmt.Sprintf("%d", len(s.Pending))) +
		"   " + createSparkline(s.PendingHistory) + "\n")
	for _, r := range s.Pending {
		b.WriteString(renderRequest(r))
	}

	footer := footerKeyStyle.Render("[q]") + footerStyle.Render(" quit  ") +
		footerKeyStyle.Render("[r]") + footerStyle.Render(" refresh  ") +
		footerStyle.Render(fmt.Sprintf("Auto: %v", m.interval))
	b.WriteString("\n" + footer)

	return containerStyle.Render(b.String())
}

func (m Model) renderWorkflow(w runner.Workflow) string {
	node := string(w.CurrentNode)
	if node == "" {
		node = "-"
	}
	line := fmt.Sprintf("  %s  %s  %s %s\n",
		valueStyle.Render(Truncate(w.ID, 12)),
		workflowBadge(w.Status),
		labelStyle.Render("node:"),
		valueStyle.Render(node))
	line += fmt.Sprintf("    %s %s %s  %s\n",
		labelStyle.Render("refine:"),
		m.iterationProgress.ViewAs(ratio(w.Iteration, w.MaxIterations)),
		valueStyle.Render(FormatIteration(w.Iteration, w.MaxIterations)),
		dimStyle.Render(FormatDuration(time.Since(w.StartedAt))+"  "+Truncate(w.Task, taskWidth)))
	return line
}

func renderRequest(r hitl.Request) string {
	title := r.Title
	if title == "" {
		title = r.Content
	}
	line := fmt.Sprintf("  %s  %s  %s  %s",
		valueStyle.Render(Truncate(r.ID, 12)),
		warningStyle.Render(string(r.Type)),
		labelStyle.Render(Truncate(r.WorkflowID, 12)),
		dimStyle.Render(Truncate(title, taskWidth)))
	if r.ExpiresAt != nil {
		line += "  " + dimStyle.Render("expires in "+FormatDuration(time.Until(*r.ExpiresAt)))
	}
	return line + "\n"
}
