package ui

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Spin runs fn behind a spinner on stderr that shows how long it has been
// waiting. Waking a host takes a while and the count reassures. Without a
// terminal fn just runs. Ctrl+C cancels the context given to fn.
func Spin(ctx context.Context, msg string, fn func(ctx context.Context) error) error {
	if !IsInteractive() {
		return fn(ctx)
	}

	fnCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := &waitModel{
		spinner: spinner.New(
			spinner.WithSpinner(spinner.MiniDot),
			spinner.WithStyle(lipgloss.NewStyle().Foreground(purple)),
		),
		msg:   msg,
		start: time.Now(),
	}
	p := tea.NewProgram(m, tea.WithOutput(os.Stderr), tea.WithContext(ctx))

	go func() {
		err := fn(fnCtx)
		p.Send(waitDoneMsg{err: err})
	}()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("spinner: %w", err)
	}
	if m.cancelled {
		return ErrCancelled
	}
	return m.err
}

type waitDoneMsg struct{ err error }

type waitModel struct {
	spinner   spinner.Model
	msg       string
	start     time.Time
	err       error
	done      bool
	cancelled bool
}

func (m *waitModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m *waitModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.cancelled = true
			return m, tea.Quit
		}
	case waitDoneMsg:
		m.done = true
		m.err = msg.err
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *waitModel) View() string {
	if m.done || m.cancelled {
		return ""
	}
	elapsed := time.Since(m.start).Truncate(time.Second)
	return m.spinner.View() + " " + m.msg + " " + Muted(elapsed.String()) + "\n"
}
