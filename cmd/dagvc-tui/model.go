package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/dd0wney/cluso-dagvc/pkg/algorithms"
	"github.com/dd0wney/cluso-dagvc/pkg/diff"
	"github.com/dd0wney/cluso-dagvc/pkg/graph"
	"github.com/dd0wney/cluso-dagvc/pkg/versionstore"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF00FF")).
			MarginLeft(2).
			MarginTop(1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#00FFFF")).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#00FFFF")).
			Padding(0, 1)

	activeTabStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(lipgloss.Color("#FF00FF")).
			Padding(0, 2)

	inactiveTabStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#666666")).
				Padding(0, 2)

	contentStyle = lipgloss.NewStyle().
			MarginLeft(2).
			MarginTop(1)

	boxStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#00FF00")).
			Padding(1, 2).
			MarginRight(2)

	addStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00"))
	modifyStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00"))
	removeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")).Bold(true)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888")).
			MarginTop(1).
			MarginLeft(2)
)

type view int

const (
	versionsView view = iota
	detailView
	diffView
	bundlesView
	viewCount
)

var viewNames = [viewCount]string{"Versions", "Detail", "Diff", "Bundles"}

type keyMap struct {
	Tab      key.Binding
	ShiftTab key.Binding
	Enter    key.Binding
	Diff     key.Binding
	Back     key.Binding
	Refresh  key.Binding
	Quit     key.Binding
}

var keys = keyMap{
	Tab: key.NewBinding(
		key.WithKeys("tab"),
		key.WithHelp("tab", "next view"),
	),
	ShiftTab: key.NewBinding(
		key.WithKeys("shift+tab"),
		key.WithHelp("shift+tab", "prev view"),
	),
	Enter: key.NewBinding(
		key.WithKeys("enter"),
		key.WithHelp("enter", "open version"),
	),
	Diff: key.NewBinding(
		key.WithKeys("d"),
		key.WithHelp("d", "diff with previous"),
	),
	Back: key.NewBinding(
		key.WithKeys("esc"),
		key.WithHelp("esc", "back"),
	),
	Refresh: key.NewBinding(
		key.WithKeys("r"),
		key.WithHelp("r", "refresh"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Tab, k.Enter, k.Diff, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Tab, k.ShiftTab, k.Back},
		{k.Enter, k.Diff, k.Refresh},
		{k.Quit},
	}
}

type model struct {
	store    *versionstore.Store
	current  view
	versions []versionstore.VersionInfo

	versionTable table.Model
	nodeTable    table.Model
	bundleTable  table.Model
	help         help.Model
	keys         keyMap

	selected *graph.Snapshot
	diff     *diff.Diff
	message  string
	width    int
	height   int
}

func newTable(cols []table.Column, focused bool) table.Model {
	t := table.New(
		table.WithColumns(cols),
		table.WithFocused(focused),
		table.WithHeight(12),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("#00FFFF")).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(lipgloss.Color("#FF00FF")).
		Bold(false)
	t.SetStyles(s)
	return t
}

func newModel(store *versionstore.Store) model {
	m := model{
		store: store,
		versionTable: newTable([]table.Column{
			{Title: "Version", Width: 10},
			{Title: "Hash", Width: 22},
			{Title: "Nodes", Width: 6},
			{Title: "Edges", Width: 6},
			{Title: "Status", Width: 8},
			{Title: "Updated", Width: 20},
		}, true),
		nodeTable: newTable([]table.Column{
			{Title: "ID", Width: 16},
			{Title: "Kind", Width: 10},
			{Title: "Role", Width: 14},
			{Title: "Status", Width: 9},
			{Title: "Depends on", Width: 30},
		}, false),
		bundleTable: newTable([]table.Column{
			{Title: "Bundle", Width: 38},
			{Title: "Version", Width: 10},
			{Title: "Agents", Width: 7},
			{Title: "Created", Width: 20},
		}, false),
		help: help.New(),
		keys: keys,
	}
	m.refresh()
	return m
}

func (m *model) refresh() {
	m.versions = m.store.List()
	rows := make([]table.Row, 0, len(m.versions))
	for _, v := range m.versions {
		rows = append(rows, table.Row{
			v.Version,
			shortHash(v.Hash),
			fmt.Sprint(v.Nodes),
			fmt.Sprint(v.Edges),
			string(v.ValidationStatus),
			v.UpdatedAt.Format("2006-01-02 15:04:05"),
		})
	}
	m.versionTable.SetRows(rows)

	bundles := m.store.ListBundles()
	sort.Slice(bundles, func(i, j int) bool { return bundles[i].CreatedAt.After(bundles[j].CreatedAt) })
	brows := make([]table.Row, 0, len(bundles))
	for _, b := range bundles {
		brows = append(brows, table.Row{
			b.ID,
			b.Version,
			fmt.Sprint(b.Agents),
			b.CreatedAt.Format("2006-01-02 15:04:05"),
		})
	}
	m.bundleTable.SetRows(brows)
}

// shortHash keeps the algorithm prefix and the first twelve hex digits.
func shortHash(h string) string {
	alg, hex, ok := strings.Cut(h, ":")
	if !ok || len(hex) <= 12 {
		return h
	}
	return alg + ":" + hex[:12]
}

func (m model) Init() tea.Cmd {
	return nil
}

func (m *model) setView(v view) {
	m.current = v
	m.versionTable.Blur()
	m.nodeTable.Blur()
	m.bundleTable.Blur()
	switch v {
	case versionsView:
		m.versionTable.Focus()
	case detailView:
		m.nodeTable.Focus()
	case bundlesView:
		m.bundleTable.Focus()
	}
}

// open loads the version under the cursor into the detail view.
func (m *model) open() {
	i := m.versionTable.Cursor()
	if i < 0 || i >= len(m.versions) {
		return
	}
	snap, ok := m.store.Retrieve(m.versions[i].Hash)
	if !ok {
		m.message = "version no longer stored"
		return
	}
	m.selected = snap
	m.message = ""

	order, err := algorithms.TopologicalOrder(snap)
	if err != nil {
		m.message = err.Error()
		order = nil
	}
	byID := make(map[string]graph.Node, len(snap.Nodes))
	for _, n := range snap.Nodes {
		byID[n.ID] = n
	}
	ids := order
	if ids == nil {
		for _, n := range snap.Nodes {
			ids = append(ids, n.ID)
		}
	}
	rows := make([]table.Row, 0, len(ids))
	for _, id := range ids {
		n := byID[id]
		rows = append(rows, table.Row{
			n.ID,
			string(n.Kind),
			n.Role,
			string(n.Status),
			strings.Join(n.Dependencies, ", "),
		})
	}
	m.nodeTable.SetRows(rows)
	m.nodeTable.SetCursor(0)
	m.setView(detailView)
}

// diffPrevious diffs the version under the cursor against the next older
// one in the list.
func (m *model) diffPrevious() {
	i := m.versionTable.Cursor()
	if i < 0 || i >= len(m.versions) {
		return
	}
	if i+1 >= len(m.versions) {
		m.message = "oldest version has nothing to diff against"
		return
	}
	d, err := m.store.DiffVersions(m.versions[i+1].Hash, m.versions[i].Hash)
	if err != nil {
		m.message = err.Error()
		return
	}
	m.diff = &d
	m.message = ""
	m.setView(diffView)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Tab):
			m.setView((m.current + 1) % viewCount)
			return m, nil
		case key.Matches(msg, m.keys.ShiftTab):
			m.setView((m.current + viewCount - 1) % viewCount)
			return m, nil
		case key.Matches(msg, m.keys.Back):
			m.setView(versionsView)
			return m, nil
		case key.Matches(msg, m.keys.Refresh):
			m.refresh()
			return m, nil
		case m.current == versionsView && key.Matches(msg, m.keys.Enter):
			m.open()
			return m, nil
		case m.current == versionsView && key.Matches(msg, m.keys.Diff):
			m.diffPrevious()
			return m, nil
		}
	}

	switch m.current {
	case versionsView:
		m.versionTable, cmd = m.versionTable.Update(msg)
	case detailView:
		m.nodeTable, cmd = m.nodeTable.Update(msg)
	case bundlesView:
		m.bundleTable, cmd = m.bundleTable.Update(msg)
	}
	return m, cmd
}

func (m model) View() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render("dagvc - version history"))
	s.WriteString("\n\n")
	s.WriteString(m.renderTabs())
	s.WriteString("\n\n")

	switch m.current {
	case versionsView:
		s.WriteString(m.renderVersions())
	case detailView:
		s.WriteString(m.renderDetail())
	case diffView:
		s.WriteString(m.renderDiff())
	case bundlesView:
		s.WriteString(m.renderBundles())
	}

	if m.message != "" {
		s.WriteString("\n\n")
		s.WriteString(errorStyle.Render("✗ " + m.message))
	}

	s.WriteString("\n\n")
	s.WriteString(helpStyle.Render(m.help.ShortHelpView(m.keys.ShortHelp())))
	return s.String()
}

func (m model) renderTabs() string {
	tabs := make([]string, 0, viewCount)
	for i, name := range viewNames {
		if view(i) == m.current {
			tabs = append(tabs, activeTabStyle.Render(name))
		} else {
			tabs = append(tabs, inactiveTabStyle.Render(name))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, tabs...)
}

func (m model) renderVersions() string {
	var s strings.Builder
	s.WriteString(headerStyle.Render(fmt.Sprintf("%d versions", len(m.versions))))
	s.WriteString("\n\n")
	if len(m.versions) == 0 {
		s.WriteString("archive is empty")
	} else {
		s.WriteString(m.versionTable.View())
	}
	return contentStyle.Render(s.String())
}

func (m model) renderDetail() string {
	if m.selected == nil {
		return contentStyle.Render("select a version and press enter")
	}
	snap := m.selected
	summary := fmt.Sprintf("Topology:  %s\nVersion:   %s\nHash:      %s\nStatus:    %s\nNodes:     %d\nEdges:     %d",
		snap.ID, snap.Version, snap.IntegrityHash, snap.ValidationStatus, len(snap.Nodes), len(snap.Edges))

	meta := "no metadata"
	if len(snap.Metadata) > 0 {
		keys := make([]string, 0, len(snap.Metadata))
		for k := range snap.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		lines := make([]string, 0, len(keys))
		for _, k := range keys {
			lines = append(lines, fmt.Sprintf("%s: %v", k, snap.Metadata[k]))
		}
		meta = strings.Join(lines, "\n")
	}

	top := lipgloss.JoinHorizontal(lipgloss.Top, boxStyle.Render(summary), boxStyle.Render(meta))
	return contentStyle.Render(top + "\n\n" + headerStyle.Render("Nodes in start order") + "\n\n" + m.nodeTable.View())
}

func (m model) renderDiff() string {
	if m.diff == nil {
		return contentStyle.Render("select a version and press d")
	}
	d := m.diff
	st := d.Stats()

	var s strings.Builder
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s → %s", d.FromVersion, d.ToVersion)))
	s.WriteString("\n\n")
	s.WriteString(fmt.Sprintf("%d added, %d modified, %d removed\n\n", st.Added, st.Modified, st.Removed))
	if d.IsEmpty() {
		s.WriteString("no changes")
	}
	for _, c := range d.Changes {
		line := c.String()
		switch c.Kind {
		case diff.Add:
			line = addStyle.Render("+ " + line)
		case diff.Modify:
			line = modifyStyle.Render("~ " + line)
		case diff.Remove:
			line = removeStyle.Render("- " + line)
		}
		s.WriteString(line)
		s.WriteString("\n")
	}
	return contentStyle.Render(s.String())
}

func (m model) renderBundles() string {
	var s strings.Builder
	s.WriteString(headerStyle.Render("Recovery bundles"))
	s.WriteString("\n\n")
	if len(m.bundleTable.Rows()) == 0 {
		s.WriteString("no bundles")
	} else {
		s.WriteString(m.bundleTable.View())
	}
	return contentStyle.Render(s.String())
}
