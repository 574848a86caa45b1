package ui

import (
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
)

// Confirm asks a yes/no question on stderr. The default is no. hint tells a
// non-interactive caller how to skip the question.
func Confirm(question, hint string) (bool, error) {
	if err := requireInteraction(hint); err != nil {
		return false, fmt.Errorf("confirmation required: %w", err)
	}

	m := &confirmModel{question: question}
	if _, err := tea.NewProgram(m, tea.WithOutput(os.Stderr)).Run(); err != nil {
		return false, fmt.Errorf("confirm prompt: %w", err)
	}
	if m.cancelled {
		return false, ErrCancelled
	}
	return m.yes, nil
}

type confirmModel struct {
	question  string
	yes       bool
	answered  bool
	cancelled bool
}

func (m *confirmModel) Init() tea.Cmd { return nil }

func (m *confirmModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch key.String() {
	case "y", "Y":
		m.yes, m.answered = true, true
	case "n", "N", "enter":
		m.answered = true
	case "ctrl+c", "esc":
		m.cancelled = true
	default:
		return m, nil
	}
	return m, tea.Quit
}

func (m *confirmModel) View() string {
	if m.answered || m.cancelled {
		return ""
	}
	return AccentStyle.Render("?") + " " + m.question + " " + Muted("[y/N]") + " "
}
