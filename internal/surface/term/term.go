// Package term renders an attached in-memory surface on the terminal.
// It is a view over the surface, not a second surface: row data and
// column state stay in surface.Memory, and the terminal model re-reads
// them on every refresh tick or status notification.
package term

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/leapstack-labs/gridstream/internal/engine"
	"github.com/leapstack-labs/gridstream/internal/surface"
	"github.com/leapstack-labs/gridstream/pkg/core"
)

// refreshInterval paces row re-reads between status notifications.
const refreshInterval = 500 * time.Millisecond

// UI runs the terminal grid view.
type UI struct {
	eng  *engine.Engine
	surf *surface.Memory
}

// New creates a terminal view over the engine's surface.
func New(eng *engine.Engine, surf *surface.Memory) *UI {
	return &UI{eng: eng, surf: surf}
}

// Run blocks until the user quits or the context is cancelled. The
// surface is marked ready while the program runs; pending profile
// applications flush on startup.
func (u *UI) Run(ctx context.Context) error {
	u.surf.SetReady(true)
	defer u.surf.SetReady(false)
	u.eng.OnSurfaceReady()

	program := tea.NewProgram(newModel(u.eng, u.surf), tea.WithAltScreen(), tea.WithContext(ctx))

	statsCh, unsubscribe := u.eng.Notifier().Subscribe()
	defer unsubscribe()
	go func() {
		for stats := range statsCh {
			program.Send(statsMsg(stats))
		}
	}()

	_, err := program.Run()
	return err
}

type statsMsg core.StreamStats

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	statusStyle = lipgloss.NewStyle().Faint(true).Padding(0, 1)

	// cellStyles maps formatting rule style names to render styles.
	cellStyles = map[string]lipgloss.Style{
		"error":     lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
		"warn":      lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		"ok":        lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		"highlight": lipgloss.NewStyle().Bold(true),
		"muted":     lipgloss.NewStyle().Faint(true),
	}
)

type model struct {
	eng  *engine.Engine
	surf *surface.Memory

	table  table.Model
	stats  core.StreamStats
	keys   []string
	width  int
	height int
}

func newModel(eng *engine.Engine, surf *surface.Memory) *model {
	t := table.New(table.WithFocused(true))
	styles := table.DefaultStyles()
	styles.Header = styles.Header.Bold(true).BorderBottom(true)
	t.SetStyles(styles)
	m := &model{eng: eng, surf: surf, table: t}
	m.refresh()
	return m
}

func (m *model) Init() tea.Cmd {
	return tick()
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetHeight(max(3, msg.Height-4))
		m.refresh()
		return m, nil

	case statsMsg:
		m.stats = core.StreamStats(msg)
		m.refresh()
		return m, nil

	case tickMsg:
		m.refresh()
		return m, tick()

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "R":
			m.eng.ResetState(context.Background())
			m.refresh()
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	m.syncSelection()
	return m, cmd
}

func (m *model) View() string {
	title := "gridstream"
	if p := m.eng.ActiveProfile(); p != nil {
		title = fmt.Sprintf("gridstream | %s", p.Name)
	}
	status := fmt.Sprintf("%s | rows %d | messages %d",
		m.stats.Mode, m.stats.RowCount, m.stats.MessageCount)
	if !m.stats.Connected {
		status = "disconnected | " + status
	}
	return titleStyle.Render(title) + "\n" +
		m.table.View() + "\n" +
		statusStyle.Render(status)
}

// refresh re-reads visible columns and rows from the surface.
func (m *model) refresh() {
	// A view over a fresh stream has no layout until data arrives; derive
	// base columns from the first record.
	if len(m.surf.Columns()) == 0 {
		if recs := m.surf.Rows(); len(recs) > 0 {
			_ = m.surf.SetColumns(deriveLayout(recs[0]))
			m.eng.OnSurfaceReady()
		}
	}

	labels := make(map[string]string)
	for _, c := range m.surf.Columns() {
		labels[c.ID] = c.Label
	}
	widths := make(map[string]int)
	for _, st := range m.surf.ColumnState() {
		widths[st.ColID] = st.Width
	}

	visible := m.surf.VisibleColumns()
	cols := make([]table.Column, 0, len(visible))
	for _, id := range visible {
		width := widths[id]
		if width <= 0 {
			width = 12
		}
		title := labels[id]
		if title == "" {
			title = id
		}
		cols = append(cols, table.Column{Title: title, Width: width})
	}

	records := m.surf.Rows()
	rows := make([]table.Row, 0, len(records))
	m.keys = m.keys[:0]
	for _, rec := range records {
		key, _ := rec.Key(m.surf.KeyColumn())
		m.keys = append(m.keys, key)
		styles := m.eng.RowStyles(rec)
		row := make(table.Row, 0, len(visible))
		for _, id := range visible {
			row = append(row, renderCell(rec[id], id, styles))
		}
		rows = append(rows, row)
	}

	// SetRows before SetColumns panics on width mismatch in bubbles;
	// clear first when the column set shrinks.
	if len(cols) < len(m.table.Columns()) {
		m.table.SetRows(nil)
	}
	m.table.SetColumns(cols)
	m.table.SetRows(rows)
}

// syncSelection writes the cursor position back to the surface so a
// profile save captures it.
func (m *model) syncSelection() {
	cursor := m.table.Cursor()
	if cursor < 0 || cursor >= len(m.keys) {
		return
	}
	_ = m.surf.SelectRows([]string{m.keys[cursor]})
	_ = m.surf.SetScrollPosition(core.ScrollPosition{Top: cursor})
}

func renderCell(value any, colID string, styles map[string][]string) string {
	text := ""
	if value != nil {
		text = fmt.Sprint(value)
	}
	if styles == nil {
		return text
	}
	for _, name := range append(styles[colID], styles[""]...) {
		if style, ok := cellStyles[name]; ok {
			text = style.Render(text)
		}
	}
	return text
}

func deriveLayout(rec core.RowRecord) []core.ColumnNode {
	ids := make([]string, 0, len(rec))
	for id := range rec {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	layout := make([]core.ColumnNode, 0, len(ids))
	for _, id := range ids {
		col := core.Column{ID: id}
		layout = append(layout, core.ColumnNode{Column: &col})
	}
	return layout
}
