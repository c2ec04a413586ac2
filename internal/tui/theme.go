package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/interpretive-systems/branchview/internal/status"
)

// Theme defines the colors used for status markers and chrome.
type Theme struct {
	AddColor      string
	ModColor      string
	DelColor      string
	UntrackColor  string
	IgnoreColor   string
	ConflictColor string
	DividerColor  string
	SelectBg      string
}

func darkTheme() Theme {
	return Theme{
		AddColor:      "34",
		ModColor:      "178",
		DelColor:      "196",
		UntrackColor:  "39",
		IgnoreColor:   "240",
		ConflictColor: "201",
		DividerColor:  "240",
		SelectBg:      "236",
	}
}

func (t Theme) statusColor(k status.Kind) string {
	switch k {
	case status.Added, status.Copied:
		return t.AddColor
	case status.Modified, status.Renamed:
		return t.ModColor
	case status.Deleted:
		return t.DelColor
	case status.Untracked:
		return t.UntrackColor
	case status.Ignored:
		return t.IgnoreColor
	case status.Conflicted:
		return t.ConflictColor
	default:
		return ""
	}
}

// StatusText colors s according to the node status.
func (t Theme) StatusText(k status.Kind, s string) string {
	c := t.statusColor(k)
	if c == "" {
		return s
	}
	return lipgloss.NewStyle().Foreground(lipgloss.Color(c)).Render(s)
}

// SelectedLine highlights the cursor row.
func (t Theme) SelectedLine(s string) string {
	return lipgloss.NewStyle().Background(lipgloss.Color(t.SelectBg)).Render(s)
}

// DividerText renders chrome like rules and separators.
func (t Theme) DividerText(s string) string {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(t.DividerColor)).Render(s)
}
