package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/lupppig/notifysender/internal/domain"
	"github.com/lupppig/notifysender/internal/events"
	"github.com/lupppig/notifysender/internal/logging"
	"github.com/lupppig/notifysender/internal/runner"
)

const maxLogLines = 5

type eventMsg events.DeliveryEvent
type logMsg string
type runDoneMsg struct {
	res *runner.Result
	err error
}

// RunModel renders a run in progress: live delivery events, recent warnings
// and, once finished, the outcome summary.
type RunModel struct {
	runID   string
	mode    runner.Mode
	spinner spinner.Model
	events  []events.DeliveryEvent
	logs    []string
	height  int

	result   *runner.Result
	err      error
	done     bool
	quitting bool
}

func NewRunModel(runID string, mode runner.Mode) *RunModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return &RunModel{runID: runID, mode: mode, spinner: s}
}

func (m *RunModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m *RunModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || (m.done && msg.String() == "q") {
			m.quitting = true
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.height = msg.Height
	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case eventMsg:
		m.events = append(m.events, events.DeliveryEvent(msg))
		// Keep only the last N events that fit in the view
		maxEvents := m.height - 12
		if maxEvents > 0 && len(m.events) > maxEvents {
			m.events = m.events[len(m.events)-maxEvents:]
		}
	case logMsg:
		m.logs = append(m.logs, string(msg))
		if len(m.logs) > maxLogLines {
			m.logs = m.logs[len(m.logs)-maxLogLines:]
		}
	case runDoneMsg:
		m.result, m.err = msg.res, msg.err
		m.done = true
	}
	return m, nil
}

func (m *RunModel) View() string {
	if m.quitting {
		return ""
	}

	var s strings.Builder
	s.WriteString(titleStyle.Render("Notification Sender"))
	s.WriteString(fmt.Sprintf(" %s  %s\n\n", m.mode, idStyle.Render(m.runID)))

	s.WriteString(headerStyle.Render(fmt.Sprintf("%-20s %-8s %-14s %-30s", "NOTIFICATION", "CHANNEL", "STATUS", "MESSAGE")))
	s.WriteString("\n")
	for _, e := range m.events {
		s.WriteString(fmt.Sprintf("%-20s %-8s %-14s %-30s\n",
			truncate(e.NotificationID, 19),
			e.Channel,
			styleStatus(e.Status),
			truncate(e.Message, 40),
		))
	}
	if len(m.events) == 0 {
		s.WriteString("\n  Waiting for events...\n")
	}

	if len(m.logs) > 0 {
		s.WriteString("\n")
		for _, l := range m.logs {
			s.WriteString("  " + idStyle.Render(truncate(l, 100)) + "\n")
		}
	}

	s.WriteString("\n")
	switch {
	case !m.done:
		s.WriteString(fmt.Sprintf("  %s Running...\n", m.spinner.View()))
	case m.err != nil:
		s.WriteString(fmt.Sprintf("  %s %s\n", errorStyle.Render("FAILED"), m.err.Error()))
	default:
		s.WriteString(fmt.Sprintf("  %s %s\n", successStyle.Render("DONE"), summarize(m.result)))
	}
	if m.done {
		s.WriteString("\n  (Press q to exit)")
	}
	return s.String()
}

func styleStatus(st events.Status) string {
	label := fmt.Sprintf("%-14s", st)
	switch st {
	case events.StatusDelivered, events.StatusRemoved:
		return deliveredStyle.Render(label)
	case events.StatusFailed, events.StatusRemoveFailed:
		return failedStyle.Render(label)
	case events.StatusSkipped:
		return skippedStyle.Render(label)
	case events.StatusDelivering:
		return pendingStyle.Render(label)
	default:
		return label
	}
}

// summarize counts outcomes and removals for the footer line.
func summarize(res *runner.Result) string {
	if res == nil {
		return ""
	}
	var parts []string
	if res.Dispatch != nil {
		counts := make(map[domain.Outcome]int)
		for _, r := range res.Dispatch.Results {
			counts[r.Outcome]++
		}
		for _, o := range []domain.Outcome{
			domain.OutcomeFullyDelivered,
			domain.OutcomePartiallyDelivered,
			domain.OutcomePending,
			domain.OutcomeUndeliverable,
		} {
			if counts[o] > 0 {
				parts = append(parts, fmt.Sprintf("%s=%d", strings.ToLower(string(o)), counts[o]))
			}
		}
	}
	if res.Removal != nil {
		parts = append(parts, fmt.Sprintf("removed=%d", len(res.Removal.Removed)))
		if n := len(res.Removal.Failed); n > 0 {
			parts = append(parts, fmt.Sprintf("remove_failed=%d", n))
		}
	}
	if len(parts) == 0 {
		return "nothing to do"
	}
	return strings.Join(parts, " ")
}

// runRunUI runs the progress view while the run executes in the background.
// Quitting the view cancels the run.
func runRunUI(ctx context.Context, m *RunModel, s *session) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(m, tea.WithContext(ctx))

	sub := &events.Subscriber{
		ID:     m.runID,
		RunID:  m.runID,
		Events: make(chan events.DeliveryEvent, 256),
	}
	s.hub.Subscribe(sub)
	defer s.hub.Unsubscribe(sub.ID)
	go func() {
		for e := range sub.Events {
			p.Send(eventMsg(e))
		}
	}()

	logs := logging.GetHub()
	lines := logs.Subscribe(m.runID)
	defer logs.Unsubscribe(m.runID)
	go func() {
		for l := range lines {
			p.Send(logMsg(l))
		}
	}()

	finished := make(chan runDoneMsg, 1)
	go func() {
		res, err := s.runner.Run(ctx, m.mode)
		done := runDoneMsg{res: res, err: err}
		finished <- done
		p.Send(done)
	}()

	_, uiErr := p.Run()
	cancel()
	run := <-finished
	if run.err != nil {
		return run.err
	}
	return uiErr
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
