// Package tui renders the live agent table for `perch agents --watch`.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/perchtools/perch/internal/tracker"
	"github.com/perchtools/perch/pkg/daemon"
	"github.com/perchtools/perch/tui/theme"
)

type frameMsg daemon.StreamFrame
type streamClosedMsg struct{}
type refreshMsg []tracker.AgentSnapshot
type errMsg struct{ err error }

// watchModel is the bubbletea model behind the live agent view. It keeps the
// agent table in sync by replaying engine events onto the last snapshot,
// falling back to a full refetch when an event is not enough.
type watchModel struct {
	client *daemon.Client
	ctx    context.Context
	frames <-chan daemon.StreamFrame

	table  table.Model
	theme  *theme.Theme
	agents []tracker.AgentSnapshot
	err    error
}

// Watch runs the live agent view until the user quits.
func Watch(ctx context.Context, client *daemon.Client) error {
	frames, err := client.Stream(ctx)
	if err != nil {
		return err
	}

	t := theme.Default()
	columns := []table.Column{
		{Title: "ID", Width: 4},
		{Title: "Node", Width: 10},
		{Title: "Project", Width: 28},
		{Title: "State", Width: 8},
		{Title: "Doing", Width: 40},
		{Title: "Last Activity", Width: 14},
	}
	tbl := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(16),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(t.Border).
		BorderBottom(true).
		Bold(true).
		Foreground(t.Accent)
	styles.Selected = styles.Selected.
		Foreground(t.Text).
		Background(t.SelectedBg).
		Bold(false)
	tbl.SetStyles(styles)

	m := watchModel{
		client: client,
		ctx:    ctx,
		frames: frames,
		table:  tbl,
		theme:  t,
	}
	_, err = tea.NewProgram(m, tea.WithAltScreen()).Run()
	return err
}

func (m watchModel) Init() tea.Cmd {
	return m.nextFrame()
}

func (m watchModel) nextFrame() tea.Cmd {
	return func() tea.Msg {
		select {
		case frame, ok := <-m.frames:
			if !ok {
				return streamClosedMsg{}
			}
			return frameMsg(frame)
		case <-m.ctx.Done():
			return streamClosedMsg{}
		}
	}
}

func (m watchModel) refetch() tea.Cmd {
	return func() tea.Msg {
		agents, err := m.client.Agents(m.ctx)
		if err != nil {
			return errMsg{err}
		}
		return refreshMsg(agents)
	}
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			return m, m.refetch()
		}

	case tea.WindowSizeMsg:
		m.table.SetHeight(msg.Height - 4)

	case frameMsg:
		switch msg.FrameType {
		case "snapshot":
			m.agents = msg.Agents
			m.syncRows()
			return m, m.nextFrame()
		case "event":
			// Events carry deltas; the snapshot endpoint is the source of
			// truth, so refetch and keep streaming.
			return m, tea.Batch(m.refetch(), m.nextFrame())
		}
		return m, m.nextFrame()

	case refreshMsg:
		m.agents = msg
		m.syncRows()

	case streamClosedMsg:
		return m, tea.Quit

	case errMsg:
		m.err = msg.err
		return m, tea.Quit
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m *watchModel) syncRows() {
	rows := make([]table.Row, 0, len(m.agents))
	for _, a := range m.agents {
		rows = append(rows, table.Row{
			fmt.Sprintf("%d", a.ID),
			a.Node,
			trimLeft(tracker.DecodeProjectKey(a.ProjectKey), 28),
			string(a.Activity),
			currentLabel(a),
			relTime(a.LastActivityAt),
		})
	}
	m.table.SetRows(rows)
}

func (m watchModel) View() string {
	if m.err != nil {
		return lipgloss.NewStyle().Foreground(m.theme.Error).Render("error: "+m.err.Error()) + "\n"
	}
	help := lipgloss.NewStyle().Foreground(m.theme.Muted).Render("q quit · r refresh")
	return m.table.View() + "\n" + help + "\n"
}

// currentLabel shows the newest in-flight operation, or a dash when idle.
func currentLabel(a tracker.AgentSnapshot) string {
	if len(a.Operations) == 0 {
		return "—"
	}
	label := a.Operations[len(a.Operations)-1].Label
	if len(a.Operations) > 1 {
		label = fmt.Sprintf("%s (+%d)", label, len(a.Operations)-1)
	}
	return label
}

// trimLeft keeps the tail of s, which for paths is the interesting part.
func trimLeft(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return "…" + s[len(s)-max+1:]
}

func relTime(t time.Time) string {
	if t.IsZero() {
		return "—"
	}
	d := time.Since(t).Round(time.Second)
	if d < time.Minute {
		return d.String()
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return strings.TrimSuffix(d.Round(time.Minute).String(), "0s")
}
