package ui

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// ErrCancelled is returned when the user aborts a prompt or spinner.
var ErrCancelled = errors.New("cancelled")

var interactive atomic.Bool

// ConfigureTerminal decides once whether prompts and animation are allowed
// and picks the color profile to match. NO_INTERACTION, CI and TERM=dumb all
// force plain output, as does a stderr that is not a terminal.
func ConfigureTerminal(noInteraction bool) {
	on := !noInteraction &&
		!truthy(os.Getenv("NO_INTERACTION")) &&
		!truthy(os.Getenv("CI")) &&
		!strings.EqualFold(strings.TrimSpace(os.Getenv("TERM")), "dumb") &&
		isTerminal(os.Stderr)

	interactive.Store(on)
	if on {
		lipgloss.SetColorProfile(termenv.ColorProfile())
	} else {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
}

func IsInteractive() bool {
	return interactive.Load()
}

// requireInteraction fails with hint when prompting is not possible.
func requireInteraction(hint string) error {
	if IsInteractive() {
		return nil
	}
	return fmt.Errorf("not running interactively (%s)", hint)
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
