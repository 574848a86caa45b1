// Package ui renders dozer CLI output: styled messages, tables, key/value
// blocks and a spinner for long waits.
package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"dozer/internal/lifecycle"
)

var (
	purple = lipgloss.Color("99")
	green  = lipgloss.Color("76")
	red    = lipgloss.Color("204")
	yellow = lipgloss.Color("214")
	dim    = lipgloss.Color("243")
	faint  = lipgloss.Color("238")
)

var (
	AccentStyle  = lipgloss.NewStyle().Foreground(purple)
	SuccessStyle = lipgloss.NewStyle().Foreground(green)
	ErrorStyle   = lipgloss.NewStyle().Foreground(red)
	WarnStyle    = lipgloss.NewStyle().Foreground(yellow)
	MutedStyle   = lipgloss.NewStyle().Foreground(dim)
	BoldStyle    = lipgloss.NewStyle().Bold(true)
)

func Bold(s string) string  { return BoldStyle.Render(s) }
func Muted(s string) string { return MutedStyle.Render(s) }

func SuccessMsg(format string, a ...any) string {
	return SuccessStyle.Render("✓") + " " + fmt.Sprintf(format, a...)
}

func WarnMsg(format string, a ...any) string {
	return WarnStyle.Render("!") + " " + fmt.Sprintf(format, a...)
}

func ErrorMsg(format string, a ...any) string {
	return ErrorStyle.Render("✗") + " " + fmt.Sprintf(format, a...)
}

func InfoMsg(format string, a ...any) string {
	return AccentStyle.Render("●") + " " + fmt.Sprintf(format, a...)
}

// ResultMsg renders the daemon's answer to an intent. Accepted intents are
// green, capacity and unreachable are warnings, the rest are errors.
func ResultMsg(res lifecycle.Result) string {
	switch {
	case res.OK():
		return SuccessMsg("%s", res.Message)
	case res.Kind == lifecycle.ResultCapacity || res.Kind == lifecycle.ResultUnreachable:
		return WarnMsg("%s", res.Message)
	default:
		return ErrorMsg("%s", res.Message)
	}
}

// Phase colors a host phase name.
func Phase(name string) string {
	switch name {
	case "awake_busy":
		return SuccessStyle.Render(name)
	case "awake_idle":
		return AccentStyle.Render(name)
	case "waking":
		return WarnStyle.Render(name)
	default:
		return MutedStyle.Render(name)
	}
}

// List joins names, or renders a muted "none".
func List(names []string) string {
	if len(names) == 0 {
		return Muted("none")
	}
	return strings.Join(names, ", ")
}

type Pair struct {
	key   string
	value string
}

func KV(key, value string) Pair {
	return Pair{key: key, value: value}
}

// KeyValues renders aligned "key:  value" lines, each ending in a newline.
func KeyValues(indent string, pairs ...Pair) string {
	width := 0
	for _, p := range pairs {
		width = max(width, len(p.key))
	}
	var sb strings.Builder
	for _, p := range pairs {
		label := fmt.Sprintf("%-*s", width+1, p.key+":")
		sb.WriteString(indent + MutedStyle.Render(label) + " " + p.value + "\n")
	}
	return sb.String()
}

// Table renders rows under headers with rounded borders.
func Table(headers []string, rows [][]string) string {
	header := lipgloss.NewStyle().Foreground(purple).Bold(true).Padding(0, 1)
	cell := lipgloss.NewStyle().Padding(0, 1)

	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(faint)).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return header
			}
			return cell
		}).
		Headers(headers...).
		Rows(rows...).
		String()
}
