package components

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/interpretive-systems/branchview/internal/refresh"
	"github.com/interpretive-systems/branchview/internal/status"
)

// StatusBar manages the bottom status bar.
type StatusBar struct {
	branch      string
	source      string
	changedOnly bool
	lastRefresh time.Time
	lastError   string
	metrics     refresh.Snapshot
	counts      string
}

// NewStatusBar creates a new status bar.
func NewStatusBar() *StatusBar {
	return &StatusBar{}
}

// SetBranches updates the current and source branch names.
func (s *StatusBar) SetBranches(current, source string) {
	s.branch = current
	s.source = source
}

// SetChangedOnly updates the view-mode indicator.
func (s *StatusBar) SetChangedOnly(v bool) {
	s.changedOnly = v
}

// SetLastRefresh updates the refresh timestamp.
func (s *StatusBar) SetLastRefresh(t time.Time) {
	s.lastRefresh = t
}

// SetLastError updates the error display; empty clears it.
func (s *StatusBar) SetLastError(msg string) {
	s.lastError = msg
}

// SetMetrics updates the refresh counters display.
func (s *StatusBar) SetMetrics(m refresh.Snapshot) {
	s.metrics = m
}

// SetStatusMap recomputes the per-kind file counts from a published map.
// Directory entries are derived, not changes, and stay out of the tally.
func (s *StatusBar) SetStatusMap(m status.Map) {
	counts := map[status.Kind]int{}
	for _, e := range m {
		if e.Dir {
			continue
		}
		counts[e.Kind]++
	}
	order := []status.Kind{
		status.Conflicted, status.Deleted, status.Added, status.Renamed,
		status.Copied, status.Modified, status.Untracked, status.Ignored,
	}
	parts := make([]string, 0, len(order))
	for _, k := range order {
		if n := counts[k]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s:%d", StatusLabel(k), n))
		}
	}
	s.counts = strings.Join(parts, " ")
}

// Render renders the status bar.
func (s *StatusBar) Render(width int) string {
	mode := "all"
	if s.changedOnly {
		mode = "changed"
	}
	leftText := fmt.Sprintf("%s → %s  |  view: %s  |  h: help", s.branch, s.source, mode)
	if s.counts != "" {
		leftText += "  |  " + s.counts
	}
	if s.lastError != "" {
		leftText = "error: " + s.lastError
	}

	rightText := fmt.Sprintf("refreshes: %d (deduped %d)", s.metrics.TotalRefreshes, s.metrics.TotalDeduplicated)
	if !s.lastRefresh.IsZero() {
		rightText += "  " + s.lastRefresh.Format("15:04:05")
	}

	leftStyled := lipgloss.NewStyle().Faint(true).Render(leftText)
	right := lipgloss.NewStyle().Faint(true).Render(rightText)

	// Right part stays visible even on narrow terminals
	rightW := lipgloss.Width(right)
	if rightW >= width {
		return ansi.Truncate(right, width, "…")
	}

	avail := width - rightW - 1
	leftRendered := leftStyled
	if lipgloss.Width(leftRendered) > avail {
		leftRendered = ansi.Truncate(leftRendered, avail, "…")
	} else if lipgloss.Width(leftRendered) < avail {
		leftRendered = leftRendered + strings.Repeat(" ", avail-lipgloss.Width(leftRendered))
	}

	return leftRendered + " " + right
}
