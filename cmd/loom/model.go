package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/loomwork/loom/internal/board"
	"github.com/loomwork/loom/internal/resilience"
)

// paneID identifies which pane is focused, per the teacher's PaneID.
type paneID int

const (
	paneTasks paneID = iota
	paneAgents
	paneUsage
)

const pollInterval = 2 * time.Second

// model is the root Bubble Tea model for the dashboard. It never mutates
// loomd's state: every refresh is a GET against the admin HTTP surface.
type model struct {
	client  *apiClient
	focused paneID
	width   int
	height  int

	board    boardSummary
	agents   []agentInfo
	usage    resilience.Summary
	lastErr  error
	lastPoll time.Time
	quitting bool
}

func newModel(client *apiClient) model {
	return model{client: client, focused: paneTasks}
}

func (m model) Init() tea.Cmd {
	return m.fetch
}

type pollResultMsg struct {
	board  boardSummary
	agents []agentInfo
	usage  resilience.Summary
	err    error
}

// fetch performs one round of GETs against loomd's admin HTTP surface.
func (m model) fetch() tea.Msg {
	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Second)
	defer cancel()

	b, err := m.client.Board(ctx)
	if err != nil {
		return pollResultMsg{err: err}
	}
	a, err := m.client.Agents(ctx)
	if err != nil {
		return pollResultMsg{err: err}
	}
	u, err := m.client.Usage(ctx)
	if err != nil {
		return pollResultMsg{err: err}
	}
	return pollResultMsg{board: b, agents: a, usage: u}
}

// poll schedules the next refresh after pollInterval.
func (m model) poll() tea.Cmd {
	return tea.Tick(pollInterval, func(time.Time) tea.Msg { return m.fetch() })
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case keyQuit, keyCtrlC:
			m.quitting = true
			return m, tea.Quit
		case keyTab:
			m.focused = (m.focused + 1) % 3
		case keyShiftTab:
			m.focused = (m.focused + 2) % 3
		case keyPane1:
			m.focused = paneTasks
		case keyPane2:
			m.focused = paneAgents
		case keyPane3:
			m.focused = paneUsage
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case pollResultMsg:
		m.lastPoll = time.Now()
		if msg.err != nil {
			m.lastErr = msg.err
		} else {
			m.lastErr = nil
			m.board = msg.board
			m.agents = msg.agents
			m.usage = msg.usage
		}
		return m, m.poll()
	}

	return m, nil
}

func (m model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}
	if m.width == 0 || m.height == 0 {
		return "Connecting to loomd...\n"
	}

	paneWidth := m.width/3 - 2

	tasksPane := m.renderPane("Tasks", paneWidth, m.focused == paneTasks, m.renderTasks())
	agentsPane := m.renderPane("Agents", paneWidth, m.focused == paneAgents, m.renderAgents())
	usagePane := m.renderPane("Usage", paneWidth, m.focused == paneUsage, m.renderUsage())

	row := lipgloss.JoinHorizontal(lipgloss.Top, tasksPane, agentsPane, usagePane)

	status := fmt.Sprintf("polled %s ago", time.Since(m.lastPoll).Round(time.Second))
	if m.lastErr != nil {
		status = styleError.Render("poll error: " + m.lastErr.Error())
	}

	return lipgloss.JoinVertical(lipgloss.Left, row, styleHelp.Render(status), helpView())
}

func (m model) renderPane(title string, width int, focused bool, body string) string {
	style := styleUnfocusedBorder
	if focused {
		style = styleFocusedBorder
	}
	return style.Width(width).Render(styleTitle.Render(title) + "\n" + body)
}

func (m model) renderTasks() string {
	if len(m.board.Tasks) == 0 {
		return "no tasks"
	}
	var b strings.Builder
	for _, t := range m.board.Tasks {
		fmt.Fprintf(&b, "%s %-8s %s\n", statusStyle(t.Status).Render(string(t.Status)), t.AgentID, truncate(t.Description, 40))
	}
	for status, count := range m.board.Counts {
		fmt.Fprintf(&b, "\n%s: %d", status, count)
	}
	return b.String()
}

func (m model) renderAgents() string {
	if len(m.agents) == 0 {
		return "no agents configured"
	}
	var b strings.Builder
	for _, a := range m.agents {
		fmt.Fprintf(&b, "%-12s role=%-10s active=%d\n", a.AgentID, a.Role, a.ActiveTasks)
	}
	return b.String()
}

func (m model) renderUsage() string {
	var b strings.Builder
	fmt.Fprintf(&b, "calls:    %d\n", m.usage.TotalCalls)
	fmt.Fprintf(&b, "ok:       %d\n", m.usage.Successes)
	fmt.Fprintf(&b, "failed:   %d\n", m.usage.Failures)
	fmt.Fprintf(&b, "retries:  %d\n", m.usage.RetryCount)
	fmt.Fprintf(&b, "failover: %d\n", m.usage.FailoverCount)
	fmt.Fprintf(&b, "avg ms:   %.1f\n", m.usage.AvgLatencyMS)
	return b.String()
}

func statusStyle(s board.Status) lipgloss.Style {
	switch s {
	case board.Completed:
		return styleStatusComplete
	case board.Failed, board.Cancelled:
		return styleStatusFailed
	case board.Pending, board.Paused:
		return styleStatusPending
	default:
		return styleStatusRunning
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
