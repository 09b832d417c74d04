package tui

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/carebridge/carebridge/internal/queue"
)

var (
	primaryColor = lipgloss.Color("#0EA5E9") // sky
	mutedColor   = lipgloss.Color("#6B7280") // gray
	successColor = lipgloss.Color("#10B981") // green
	errorColor   = lipgloss.Color("#EF4444") // red
	warnColor    = lipgloss.Color("#F59E0B") // amber

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(primaryColor).
			Padding(0, 1)

	sidebarStyle = lipgloss.NewStyle().
			Width(30).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(1, 1)

	sidebarTitle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			MarginBottom(1)

	metricStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			PaddingLeft(2)

	queueBorder = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor)

	selectedRow = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(primaryColor)

	onlineStyle  = lipgloss.NewStyle().Foreground(successColor).Bold(true)
	offlineStyle = lipgloss.NewStyle().Foreground(errorColor).Bold(true)
	footerStyle  = lipgloss.NewStyle().Foreground(mutedColor)

	priorityStyles = map[queue.Priority]lipgloss.Style{
		queue.PriorityCritical: lipgloss.NewStyle().Foreground(errorColor).Bold(true),
		queue.PriorityHigh:     lipgloss.NewStyle().Foreground(warnColor),
		queue.PriorityMedium:   lipgloss.NewStyle().Foreground(primaryColor),
		queue.PriorityLow:      lipgloss.NewStyle().Foreground(mutedColor),
	}
)

type refreshMsg struct {
	ops    []queue.Operation
	status *Status
	conn   *Connectivity
	err    error
}

type actionResultMsg struct {
	action string
	err    error
}

type tickMsg struct{}

// Model is the Bubble Tea model for the operator terminal.
type Model struct {
	client *Client
	logger *slog.Logger

	ops      []queue.Operation
	status   *Status
	conn     *Connectivity
	selected int
	lastErr  string
	notice   string

	list   viewport.Model
	width  int
	height int
	ready  bool
}

// New creates the TUI model.
func New(client *Client, logger *slog.Logger) Model {
	return Model{
		client: client,
		logger: logger.With("component", "tui"),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.refreshCmd(), tickCmd())
}

func tickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(time.Time) tea.Msg {
		return tickMsg{}
	})
}

func (m Model) refreshCmd() tea.Cmd {
	client := m.client
	return func() tea.Msg {
		ops, err := client.Pending()
		if err != nil {
			return refreshMsg{err: err}
		}
		status, err := client.Status()
		if err != nil {
			return refreshMsg{err: err}
		}
		conn, err := client.Connectivity()
		if err != nil {
			return refreshMsg{err: err}
		}
		return refreshMsg{ops: ops, status: status, conn: conn}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "up", "k":
			if m.selected > 0 {
				m.selected--
			}
		case "down", "j":
			if m.selected < len(m.ops)-1 {
				m.selected++
			}
		case "r":
			if op, ok := m.selectedOp(); ok {
				return m, m.actionCmd("retry "+op.ID, func(c *Client) error { return c.Retry(op.ID) })
			}
		case "x":
			if op, ok := m.selectedOp(); ok {
				return m, m.actionCmd("remove "+op.ID, func(c *Client) error { return c.Remove(op.ID) })
			}
		case "d":
			return m, m.actionCmd("drain", func(c *Client) error { return c.Drain() })
		}

	case tickMsg:
		return m, tea.Batch(m.refreshCmd(), tickCmd())

	case refreshMsg:
		if msg.err != nil {
			m.lastErr = msg.err.Error()
			return m, nil
		}
		m.lastErr = ""
		m.ops = msg.ops
		m.status = msg.status
		m.conn = msg.conn
		if m.selected >= len(m.ops) {
			m.selected = len(m.ops) - 1
		}
		if m.selected < 0 {
			m.selected = 0
		}
		if m.ready {
			m.list.SetContent(m.renderQueue())
		}

	case actionResultMsg:
		if msg.err != nil {
			m.lastErr = fmt.Sprintf("%s failed: %v", msg.action, msg.err)
		} else {
			m.notice = msg.action + " ok"
		}
		return m, m.refreshCmd()

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		listW := m.width - 35
		listH := m.height - 6
		if !m.ready {
			m.list = viewport.New(listW, listH)
			m.ready = true
		} else {
			m.list.Width = listW
			m.list.Height = listH
		}
		m.list.SetContent(m.renderQueue())
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m Model) selectedOp() (queue.Operation, bool) {
	if m.selected < 0 || m.selected >= len(m.ops) {
		return queue.Operation{}, false
	}
	return m.ops[m.selected], true
}

func (m Model) actionCmd(name string, fn func(*Client) error) tea.Cmd {
	client := m.client
	return func() tea.Msg {
		return actionResultMsg{action: name, err: fn(client)}
	}
}

func (m Model) View() string {
	if !m.ready {
		return "Connecting to carebridged..."
	}

	connBadge := offlineStyle.Render("● OFFLINE")
	if m.conn != nil && m.conn.Connected {
		connBadge = onlineStyle.Render("● ONLINE")
	}
	header := headerStyle.Width(m.width).Render("  CareBridge Queue  " + connBadge)

	body := lipgloss.JoinHorizontal(lipgloss.Top,
		m.renderSidebar(),
		" ",
		queueBorder.Width(m.width-33).Render(m.list.View()),
	)

	footer := footerStyle.Render("  ↑↓: select │ r: retry │ x: remove │ d: drain │ q: quit")
	if m.lastErr != "" {
		footer = offlineStyle.Render("  " + m.lastErr)
	} else if m.notice != "" {
		footer = footerStyle.Render("  " + m.notice)
	}

	return lipgloss.JoinVertical(lipgloss.Left, header, body, footer)
}

func (m Model) renderSidebar() string {
	var sb strings.Builder

	sb.WriteString(sidebarTitle.Render("  Daemon"))
	sb.WriteString("\n")

	if m.status == nil {
		sb.WriteString(metricStyle.Render("waiting for status..."))
	} else {
		sb.WriteString(metricStyle.Render(fmt.Sprintf("state: %s", m.status.State)))
		sb.WriteString("\n")
		sb.WriteString(metricStyle.Render(fmt.Sprintf("pending: %d", m.status.Pending)))
		sb.WriteString("\n\n")

		sb.WriteString(sidebarTitle.Render("  Drains"))
		sb.WriteString("\n")
		sb.WriteString(metricStyle.Render(fmt.Sprintf("passes: %d", m.status.Stats.Drains)))
		sb.WriteString("\n")
		sb.WriteString(metricStyle.Render(fmt.Sprintf("completed: %d", m.status.Stats.Completed)))
		sb.WriteString("\n")
		sb.WriteString(metricStyle.Render(fmt.Sprintf("retried: %d", m.status.Stats.Retried)))
		sb.WriteString("\n")
		sb.WriteString(metricStyle.Render(fmt.Sprintf("evicted: %d", m.status.Stats.Evicted)))
		sb.WriteString("\n")
	}

	if m.conn != nil {
		sb.WriteString("\n")
		sb.WriteString(sidebarTitle.Render("  Network"))
		sb.WriteString("\n")
		sb.WriteString(metricStyle.Render(fmt.Sprintf("internet: %s", m.conn.InternetReachable)))
		sb.WriteString("\n")
	}

	return sidebarStyle.Height(m.height - 4).Render(sb.String())
}

func (m Model) renderQueue() string {
	if len(m.ops) == 0 {
		return lipgloss.NewStyle().
			Foreground(mutedColor).
			Padding(1).
			Render("Queue is empty.")
	}

	var sb strings.Builder
	for i, op := range m.ops {
		prio := op.Priority
		style, ok := priorityStyles[prio]
		if !ok {
			style = metricStyle
		}

		line := fmt.Sprintf(" %-10s %-12s %-38s r%d/%d  %s",
			style.Render(string(prio)),
			op.Kind,
			shortID(op.ID),
			op.RetryCount,
			op.MaxRetries,
			op.EnqueuedAt.Local().Format("15:04:05"),
		)
		if i == m.selected {
			line = selectedRow.Render("›" + line)
		} else {
			line = " " + line
		}
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	return sb.String()
}

func shortID(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:12]
}
