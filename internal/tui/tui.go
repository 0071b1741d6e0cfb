// Package tui renders run notifications, either as a Bubble Tea interface or as plain lines.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"audiofetch/internal/consts"
	"audiofetch/internal/entity"
	"audiofetch/pkg/calc"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	historySize  = 8
	minBarWidth  = 20
	maxBarWidth  = 80
	barMargin    = 20
	defaultWidth = 50
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF6B6B")).
			MarginBottom(1)

	subtitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#4ECDC4"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#95E1A3"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFE66D"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6C757D"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#4ECDC4")).
			Padding(1, 2)
)

type (
	// notificationMsg carries one notification read from the run.
	notificationMsg entity.Notification
	// closedMsg is sent when the notification channel is closed.
	closedMsg struct{}
)

// Model is the Bubble Tea model following a single run.
type Model struct {
	url    string
	notes  <-chan entity.Notification
	cancel context.CancelFunc

	spinner  spinner.Model
	progress progress.Model

	percent  int
	message  string
	history  []string
	result   *entity.DownloadResult
	stopping bool

	// itemStarted is when the percent last restarted from below, for the ETA.
	itemStarted time.Time
}

// New creates a model reading notes until the final notification.
// cancel is called when the user interrupts the run.
func New(url string, notes <-chan entity.Notification, cancel context.CancelFunc) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))

	prog := progress.New(progress.WithDefaultGradient())
	prog.Width = defaultWidth

	return Model{
		url:      url,
		notes:    notes,
		cancel:   cancel,
		spinner:  sp,
		progress: prog,
		message:  "Starting...",
	}
}

// Result returns the run result once the final notification arrived.
func (m Model) Result() *entity.DownloadResult {
	return m.result
}

// Init starts the spinner and the notification reader.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForNotification(m.notes))
}

func waitForNotification(notes <-chan entity.Notification) tea.Cmd {
	return func() tea.Msg {
		n, ok := <-notes
		if !ok {
			return closedMsg{}
		}

		return notificationMsg(n)
	}
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.progress.Width = min(max(msg.Width-barMargin, minBarWidth), maxBarWidth)

		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc", "q":
			if m.result != nil {
				return m, tea.Quit
			}

			// the run still owes its final notification; keep reading until it arrives
			if !m.stopping && m.cancel != nil {
				m.cancel()
			}

			m.stopping = true
		}

		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)

		return m, cmd

	case notificationMsg:
		n := entity.Notification(msg)
		if m.itemStarted.IsZero() || n.Percent < m.percent {
			m.itemStarted = time.Now()
		}

		m.percent = n.Percent

		if n.Message != m.message {
			m.message = n.Message
			m.history = append(m.history, n.Message)

			if len(m.history) > historySize {
				m.history = m.history[len(m.history)-historySize:]
			}
		}

		if n.IsFinal() {
			m.result = n.Result

			return m, tea.Quit
		}

		return m, waitForNotification(m.notes)

	case closedMsg:
		return m, tea.Quit
	}

	return m, nil
}

// View renders the UI.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("audiofetch"))
	b.WriteString("\n")
	b.WriteString(dimStyle.Render(m.url))
	b.WriteString("\n\n")

	if m.result != nil {
		b.WriteString(m.viewResult())
		b.WriteString("\n")

		return b.String()
	}

	b.WriteString(m.spinner.View())
	b.WriteString(" ")
	b.WriteString(subtitleStyle.Render(m.message))
	b.WriteString("\n\n")
	b.WriteString(m.progress.ViewAs(float64(m.percent) / 100)) //nolint:mnd

	if eta := m.eta(); eta > 0 {
		b.WriteString(dimStyle.Render(" ETA " + eta.Round(time.Second).String()))
	}

	b.WriteString("\n\n")
	b.WriteString(m.renderHistory())
	b.WriteString("\n")

	help := "esc: cancel"
	if m.stopping {
		help = "cancelling, waiting for running items..."
	}

	b.WriteString(dimStyle.Render(help))

	return b.String()
}

// eta estimates the time left for the current item; zero when there is nothing to estimate.
func (m Model) eta() time.Duration {
	if m.itemStarted.IsZero() {
		return 0
	}

	return calc.ETA(float64(m.percent)/100, m.itemStarted) //nolint:mnd
}

func (m Model) viewResult() string {
	res := m.result

	style := successStyle

	switch res.Outcome {
	case entity.OutcomePartialFailure:
		style = warningStyle
	case entity.OutcomeTotalFailure:
		style = errorStyle
	case entity.OutcomeAllSucceeded:
	}

	var body strings.Builder

	body.WriteString(style.Render(m.message))
	fmt.Fprintf(&body, "\n\nItems: %d\nSucceeded: %d\nFailed: %d", res.TotalItems, res.Succeeded, len(res.Failed))

	for _, item := range res.Failed {
		body.WriteString("\n")
		body.WriteString(errorStyle.Render("  ✗ " + item.Title))
	}

	return boxStyle.Render(body.String())
}

func (m Model) renderHistory() string {
	var b strings.Builder

	for _, line := range m.history {
		b.WriteString(styleFor(line).Render("› " + line))
		b.WriteString("\n")
	}

	return b.String()
}

func styleFor(message string) lipgloss.Style {
	switch {
	case strings.HasPrefix(message, consts.MsgErrorPrefix):
		return errorStyle
	case strings.HasPrefix(message, "Finished"):
		return successStyle
	default:
		return dimStyle
	}
}

// Run shows the interface until the run's final notification and returns its result.
// The remaining notifications are drained so the run never blocks on its channel.
func Run(url string, notes <-chan entity.Notification, cancel context.CancelFunc) (*entity.DownloadResult, error) {
	final, err := tea.NewProgram(New(url, notes, cancel)).Run()

	var res *entity.DownloadResult
	if m, ok := final.(Model); ok {
		res = m.Result()
	}

	for n := range notes {
		if n.IsFinal() {
			res = n.Result
		}
	}

	if err != nil {
		return res, fmt.Errorf("run tui: %w", err)
	}

	return res, nil
}
