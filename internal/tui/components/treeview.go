package components

import (
	"github.com/interpretive-systems/branchview/internal/status"
	"github.com/interpretive-systems/branchview/internal/tree"
)

// Row is one visible line of the flattened tree.
type Row struct {
	Node  *tree.Node
	Depth int
}

// TreeView manages the scrollable tree listing.
type TreeView struct {
	rows     []Row
	selected int
	offset   int
}

// NewTreeView creates a new tree view.
func NewTreeView() *TreeView {
	return &TreeView{}
}

// SetRows updates the visible rows, clamping the selection.
func (t *TreeView) SetRows(rows []Row) {
	t.rows = rows
	if t.selected >= len(rows) {
		t.selected = len(rows) - 1
	}
	if t.selected < 0 {
		t.selected = 0
	}
}

// SelectedNode returns the node under the cursor, or nil.
func (t *TreeView) SelectedNode() *tree.Node {
	if len(t.rows) == 0 || t.selected < 0 || t.selected >= len(t.rows) {
		return nil
	}
	return t.rows[t.selected].Node
}

// MoveSelection moves the selection by delta.
func (t *TreeView) MoveSelection(delta int) bool {
	if len(t.rows) == 0 {
		return false
	}
	newSel := t.selected + delta
	if newSel < 0 {
		newSel = 0
	}
	if newSel >= len(t.rows) {
		newSel = len(t.rows) - 1
	}
	changed := newSel != t.selected
	t.selected = newSel
	return changed
}

// GoToTop moves selection to the first row.
func (t *TreeView) GoToTop() bool {
	if len(t.rows) == 0 || t.selected == 0 {
		return false
	}
	t.selected = 0
	return true
}

// GoToBottom moves selection to the last row.
func (t *TreeView) GoToBottom() bool {
	if len(t.rows) == 0 {
		return false
	}
	last := len(t.rows) - 1
	if t.selected == last {
		return false
	}
	t.selected = last
	return true
}

// EnsureVisible keeps the selected row inside the viewport.
func (t *TreeView) EnsureVisible(visibleCount int) {
	if len(t.rows) == 0 || visibleCount <= 0 {
		return
	}
	if t.offset < 0 {
		t.offset = 0
	}
	maxStart := len(t.rows) - visibleCount
	if maxStart < 0 {
		maxStart = 0
	}
	if t.offset > maxStart {
		t.offset = maxStart
	}
	if t.selected < t.offset {
		t.offset = t.selected
	} else if t.selected >= t.offset+visibleCount {
		t.offset = t.selected - visibleCount + 1
		if t.offset < 0 {
			t.offset = 0
		}
	}
	if t.offset > maxStart {
		t.offset = maxStart
	}
}

// Visible returns the rows in the current viewport together with the
// index of the selected row within it.
func (t *TreeView) Visible(visibleCount int) ([]Row, int) {
	if len(t.rows) == 0 {
		return nil, -1
	}
	t.EnsureVisible(visibleCount)
	start := t.offset
	end := start + visibleCount
	if end > len(t.rows) {
		end = len(t.rows)
	}
	return t.rows[start:end], t.selected - start
}

// StatusLabel returns the one-letter marker for a node status.
func StatusLabel(k status.Kind) string {
	switch k {
	case status.Added:
		return "A"
	case status.Modified:
		return "M"
	case status.Deleted:
		return "D"
	case status.Renamed:
		return "R"
	case status.Copied:
		return "C"
	case status.Untracked:
		return "U"
	case status.Ignored:
		return "I"
	case status.Conflicted:
		return "!"
	default:
		return " "
	}
}
