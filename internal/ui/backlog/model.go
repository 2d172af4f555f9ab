// Package backlog is a terminal view that follows the annotation backlog
// until it drains.
package backlog

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/mailpipe/internal/keys"
	"github.com/nhle/mailpipe/internal/theme"
)

// Counter reports how many messages still await annotation.
// *annotate.Orchestrator implements it.
type Counter interface {
	Backlog(ctx context.Context) (int, error)
}

// CountMsg carries a fresh backlog count.
type CountMsg struct {
	Remaining int
	Err       error
}

type tickMsg time.Time

// Model is the backlog watcher.
type Model struct {
	counter  Counter
	keys     *keys.KeyMap
	help     help.Model
	progress progress.Model
	spinner  spinner.Model
	interval time.Duration

	initial   int
	remaining int
	polled    bool
	err       error
	width     int
}

// New creates the watcher, polling counter every interval.
func New(counter Counter, k *keys.KeyMap, interval time.Duration) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(theme.ColorBlue)

	return Model{
		counter:  counter,
		keys:     k,
		help:     help.New(),
		progress: progress.New(progress.WithDefaultGradient()),
		spinner:  s,
		interval: interval,
	}
}

// Init starts the spinner and the first count.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.count())
}

// Update handles messages for the watcher.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case CountMsg:
		m.polled = true
		m.err = msg.Err
		if msg.Err != nil {
			return m, m.tick()
		}
		m.remaining = msg.Remaining
		if m.remaining > m.initial {
			m.initial = m.remaining
		}
		return m, tea.Batch(m.progress.SetPercent(Completion(m.initial, m.remaining)), m.tick())

	case tickMsg:
		return m, m.count()

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Refresh):
			return m, m.count()
		case key.Matches(msg, m.keys.Help):
			m.help.ShowAll = !m.help.ShowAll
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.progress.Width = max(msg.Width-4, 10)
		m.help.Width = msg.Width
		return m, nil

	case progress.FrameMsg:
		pm, cmd := m.progress.Update(msg)
		m.progress = pm.(progress.Model)
		return m, cmd

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the watcher.
func (m Model) View() string {
	title := theme.HeaderStyle.Render("Annotation backlog")

	var status string
	switch {
	case m.err != nil:
		status = theme.ErrorStyle.Render("error: " + m.err.Error())
	case !m.polled:
		status = m.spinner.View() + " counting..."
	case m.remaining == 0:
		status = lipgloss.NewStyle().Foreground(theme.ColorGreen).Render("✓ everything is annotated")
	default:
		status = fmt.Sprintf("%s %d of %d messages awaiting annotation",
			m.spinner.View(), m.remaining, m.initial)
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		title,
		"",
		status,
		m.progress.View(),
		"",
		theme.HelpStyle.Render(m.help.View(m.keys)),
	)
}

// Remaining is the last observed backlog.
func (m Model) Remaining() int { return m.remaining }

func (m Model) count() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		n, err := m.counter.Backlog(ctx)
		return CountMsg{Remaining: n, Err: err}
	}
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Completion is the drained fraction of a backlog that started at
// initial and now has remaining items.
func Completion(initial, remaining int) float64 {
	if initial <= 0 || remaining <= 0 {
		return 1
	}
	if remaining >= initial {
		return 0
	}
	return float64(initial-remaining) / float64(initial)
}
