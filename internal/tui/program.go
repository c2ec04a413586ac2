package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"go.uber.org/zap"

	"github.com/interpretive-systems/branchview/internal/gitx"
	"github.com/interpretive-systems/branchview/internal/prefs"
	"github.com/interpretive-systems/branchview/internal/refresh"
	"github.com/interpretive-systems/branchview/internal/tree"
	"github.com/interpretive-systems/branchview/internal/tui/components"
)

// Deps wires the engine into the UI. The TUI only consumes: it calls
// Children, triggers refreshes, and re-renders on tree events.
type Deps struct {
	Scheduler *refresh.Scheduler
	Cache     *tree.Cache
	Git       *gitx.Client
	Log       *zap.Logger
}

type model struct {
	deps     Deps
	theme    Theme
	keys     KeyMap
	treeCh   chan string
	tv       *components.TreeView
	bar      *components.StatusBar
	expanded map[string]bool
	width    int
	height   int
	showHelp bool
	branch   string

	// branch picker state
	pickerOpen  bool
	pickerItems []string
	pickerIndex int
}

// messages
type treeChangedMsg struct{ target string }

type rowsMsg struct {
	rows []components.Row
}

type refreshDoneMsg struct {
	err error
	at  time.Time
}

type branchesMsg struct {
	names []string
	err   error
}

type currentBranchMsg struct{ name string }

// Run instantiates and runs the Bubble Tea program.
func Run(d Deps) error {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	ch := make(chan string, 16)
	d.Cache.SetNotifier(func(target string) {
		select {
		case ch <- target:
		default:
		}
	})
	m := model{
		deps:     d,
		theme:    darkTheme(),
		keys:     defaultKeyMap(),
		treeCh:   ch,
		tv:       components.NewTreeView(),
		bar:      components.NewStatusBar(),
		expanded: map[string]bool{},
	}
	m.bar.SetChangedOnly(d.Cache.Mode() == tree.ViewChanged)
	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return err
	}
	return nil
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		m.waitTree(),
		m.loadCurrentBranch(),
		m.refreshCmd(refresh.SourceStartup),
	)
}

func (m model) waitTree() tea.Cmd {
	ch := m.treeCh
	return func() tea.Msg {
		return treeChangedMsg{target: <-ch}
	}
}

func (m model) loadCurrentBranch() tea.Cmd {
	git := m.deps.Git
	return func() tea.Msg {
		name, err := git.CurrentBranch(context.Background())
		if err != nil {
			return currentBranchMsg{name: "?"}
		}
		return currentBranchMsg{name: name}
	}
}

func (m model) refreshCmd(src refresh.Source) tea.Cmd {
	sched := m.deps.Scheduler
	return func() tea.Msg {
		err := sched.Refresh(context.Background(), src)
		return refreshDoneMsg{err: err, at: time.Now()}
	}
}

func (m model) buildRows() tea.Cmd {
	cache := m.deps.Cache
	exp := make(map[string]bool, len(m.expanded))
	for k, v := range m.expanded {
		exp[k] = v
	}
	return func() tea.Msg {
		var rows []components.Row
		var walk func(dir string, depth int)
		walk = func(dir string, depth int) {
			nodes, err := cache.Children(dir)
			if err != nil {
				return
			}
			for _, n := range nodes {
				rows = append(rows, components.Row{Node: n, Depth: depth})
				if n.IsDir && exp[n.Path] {
					walk(n.Path, depth+1)
				}
			}
		}
		walk(cache.Root(), 0)
		return rowsMsg{rows: rows}
	}
}

func (m model) loadBranches() tea.Cmd {
	git := m.deps.Git
	return func() tea.Msg {
		names, err := git.Branches(context.Background())
		return branchesMsg{names: names, err: err}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case treeChangedMsg:
		m.bar.SetMetrics(m.deps.Scheduler.Metrics())
		m.bar.SetStatusMap(m.deps.Scheduler.Current())
		return m, tea.Batch(m.buildRows(), m.waitTree())

	case rowsMsg:
		m.tv.SetRows(msg.rows)
		return m, nil

	case refreshDoneMsg:
		m.bar.SetMetrics(m.deps.Scheduler.Metrics())
		if msg.err != nil {
			var bnf *refresh.BranchNotFoundError
			if errors.As(msg.err, &bnf) {
				m.bar.SetLastError(bnf.Error() + "; pick another (b) or retry (r)")
				return m, m.loadBranches()
			}
			m.bar.SetLastError(msg.err.Error())
			return m, nil
		}
		m.bar.SetLastError("")
		m.bar.SetLastRefresh(msg.at)
		return m, nil

	case branchesMsg:
		if msg.err != nil {
			m.bar.SetLastError(msg.err.Error())
			return m, nil
		}
		m.pickerOpen = true
		m.pickerItems = msg.names
		m.pickerIndex = 0
		return m, nil

	case currentBranchMsg:
		m.branch = msg.name
		m.bar.SetBranches(m.branch, m.deps.Scheduler.SourceBranch())
		return m, nil

	case tea.KeyMsg:
		if m.pickerOpen {
			return m.updatePicker(msg)
		}
		return m.updateKeys(msg)
	}
	return m, nil
}

func (m model) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.showHelp {
		m.showHelp = false
		return m, nil
	}
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Help):
		m.showHelp = true
		return m, nil
	case key.Matches(msg, m.keys.Refresh):
		return m, m.refreshCmd(refresh.SourceManual)
	case key.Matches(msg, m.keys.View):
		changed := m.deps.Cache.Mode() != tree.ViewChanged
		mode := tree.ViewAll
		if changed {
			mode = tree.ViewChanged
		}
		m.deps.Cache.SetViewMode(mode)
		m.bar.SetChangedOnly(changed)
		if err := prefs.SaveChangedOnly(m.deps.Cache.Root(), changed); err != nil {
			m.deps.Log.Warn("saving view mode failed", zap.Error(err))
		}
		return m, m.buildRows()
	case key.Matches(msg, m.keys.Branch):
		return m, m.loadBranches()
	case key.Matches(msg, m.keys.Down):
		m.tv.MoveSelection(1)
		return m, nil
	case key.Matches(msg, m.keys.Up):
		m.tv.MoveSelection(-1)
		return m, nil
	case key.Matches(msg, m.keys.Top):
		m.tv.GoToTop()
		return m, nil
	case key.Matches(msg, m.keys.Bottom):
		m.tv.GoToBottom()
		return m, nil
	case key.Matches(msg, m.keys.Expand):
		if n := m.tv.SelectedNode(); n != nil && n.IsDir && !m.expanded[n.Path] {
			m.expanded[n.Path] = true
			return m, m.buildRows()
		}
		return m, nil
	case key.Matches(msg, m.keys.Collapse):
		if n := m.tv.SelectedNode(); n != nil && n.IsDir && m.expanded[n.Path] {
			delete(m.expanded, n.Path)
			return m, m.buildRows()
		}
		return m, nil
	case key.Matches(msg, m.keys.Toggle):
		if n := m.tv.SelectedNode(); n != nil && n.IsDir {
			if m.expanded[n.Path] {
				delete(m.expanded, n.Path)
			} else {
				m.expanded[n.Path] = true
			}
			return m, m.buildRows()
		}
		return m, nil
	}
	return m, nil
}

func (m model) updatePicker(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc", "q":
		m.pickerOpen = false
		return m, nil
	case "j", "down":
		if m.pickerIndex < len(m.pickerItems)-1 {
			m.pickerIndex++
		}
		return m, nil
	case "k", "up":
		if m.pickerIndex > 0 {
			m.pickerIndex--
		}
		return m, nil
	case "enter":
		if len(m.pickerItems) == 0 {
			m.pickerOpen = false
			return m, nil
		}
		name := m.pickerItems[m.pickerIndex]
		m.pickerOpen = false
		m.deps.Scheduler.SetSourceBranch(name)
		m.bar.SetBranches(m.branch, name)
		if err := prefs.SaveSourceBranch(m.deps.Cache.Root(), name); err != nil {
			m.deps.Log.Warn("saving source branch failed", zap.Error(err))
		}
		return m, m.refreshCmd(refresh.SourceManual)
	}
	return m, nil
}

func (m model) View() string {
	if m.width == 0 || m.height == 0 {
		return "loading..."
	}
	if m.showHelp {
		return m.helpView()
	}

	var b strings.Builder
	title := "branchview: " + m.deps.Cache.Root()
	b.WriteString(ansi.Truncate(title, m.width, "…"))
	b.WriteByte('\n')
	b.WriteString(m.theme.DividerText(strings.Repeat("─", m.width)))
	b.WriteByte('\n')

	contentHeight := m.height - 4
	if contentHeight < 1 {
		contentHeight = 1
	}

	if m.pickerOpen {
		b.WriteString(m.pickerView(contentHeight))
	} else {
		b.WriteString(m.treeView(contentHeight))
	}

	b.WriteByte('\n')
	b.WriteString(m.theme.DividerText(strings.Repeat("─", m.width)))
	b.WriteByte('\n')
	b.WriteString(m.bar.Render(m.width))
	return b.String()
}

func (m model) treeView(height int) string {
	rows, selected := m.tv.Visible(height)
	lines := make([]string, 0, height)
	if len(rows) == 0 {
		lines = append(lines, "No changes detected")
	}
	for i, r := range rows {
		n := r.Node
		indent := strings.Repeat("  ", r.Depth)
		arrow := "  "
		if n.IsDir {
			if m.expanded[n.Path] {
				arrow = "▾ "
			} else {
				arrow = "▸ "
			}
		}
		name := n.Name
		if n.IsDir {
			name += "/"
		}
		label := components.StatusLabel(n.Status)
		line := fmt.Sprintf("%s %s%s%s", m.theme.StatusText(n.Status, label), indent, arrow, m.theme.StatusText(n.Status, name))
		line = ansi.Truncate(line, m.width, "…")
		if i == selected {
			pad := m.width - lipgloss.Width(line)
			if pad > 0 {
				line += strings.Repeat(" ", pad)
			}
			line = m.theme.SelectedLine(line)
		}
		lines = append(lines, line)
	}
	for len(lines) < height {
		lines = append(lines, "")
	}
	return strings.Join(lines, "\n")
}

func (m model) pickerView(height int) string {
	lines := make([]string, 0, height)
	lines = append(lines, "Select source branch (enter to confirm, esc to cancel):")
	for i, name := range m.pickerItems {
		marker := "  "
		if i == m.pickerIndex {
			marker = "> "
		}
		lines = append(lines, marker+name)
		if len(lines) >= height {
			break
		}
	}
	for len(lines) < height {
		lines = append(lines, "")
	}
	return strings.Join(lines, "\n")
}

func (m model) helpView() string {
	lines := []string{
		"branchview keys",
		"",
		"  j/k, arrows   move selection",
		"  g / G         top / bottom",
		"  enter, space  expand or collapse directory",
		"  v             toggle changed-only view",
		"  r             refresh now",
		"  b             pick source branch",
		"  h, ?          toggle this help",
		"  q, ctrl+c     quit",
		"",
		"press any key to close",
	}
	return strings.Join(lines, "\n")
}
