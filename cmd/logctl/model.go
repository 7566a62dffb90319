package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"physlog/pkg/logmanager"
	"physlog/pkg/primitives"
)

const refreshInterval = 2 * time.Second

type tickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// model is the whole inspector: a left-hand list of known logs and a
// right-hand stream table for whichever log is currently selected.
type model struct {
	mgr *logmanager.LogManager

	logIds []primitives.LogId
	cursor int

	streams table.Model
	stats   string

	width, height int
	err           error
}

func newModel(mgr *logmanager.LogManager) model {
	columns := []table.Column{
		{Title: "Stream", Width: 36},
		{Title: "Lowest ASN", Width: 12},
		{Title: "Highest ASN", Width: 12},
		{Title: "Truncated", Width: 12},
		{Title: "Reserved", Width: 10},
	}
	t := table.New(table.WithColumns(columns), table.WithFocused(false), table.WithHeight(12))
	return model{mgr: mgr, streams: t}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(tickCmd(), m.refresh())
}

// refresh re-reads the log directory and the selected log's stream
// accounting. It is run on a ticker rather than an fs watcher, since a
// plain poll is good enough for a read-only inspector and matches the
// checkpoint daemon's own interval-trigger style.
func (m model) refresh() tea.Cmd {
	return func() tea.Msg {
		ids, err := m.mgr.EnumerateLogs()
		if err != nil {
			return refreshErrMsg{err}
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

		if len(ids) == 0 {
			return refreshedMsg{ids: ids}
		}

		selected := ids[0]
		if m.cursor < len(ids) {
			selected = ids[m.cursor]
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		log, err := m.mgr.OpenLog(ctx, selected)
		if err != nil {
			return refreshErrMsg{err}
		}

		streams := log.Streams()
		sort.Slice(streams, func(i, j int) bool { return streams[i].Id().String() < streams[j].Id().String() })

		rows := make([]table.Row, 0, len(streams))
		for _, s := range streams {
			rng := s.QueryRecordRange()
			rows = append(rows, table.Row{
				s.Id().String(),
				fmt.Sprintf("%d", rng.LowestAsn),
				fmt.Sprintf("%d", rng.HighestAsn),
				fmt.Sprintf("%d", rng.TruncationAsn),
				fmt.Sprintf("%d", s.Reservation()),
			})
		}

		space := log.QuerySpace()
		cp := log.CheckpointStats()
		stats := fmt.Sprintf(
			"space: %d/%d bytes free | checkpoints: %d total (%d time, %d size, %d manual, %d failed) | last lsn %s",
			space.Free, space.Total, cp.TotalCheckpoints, cp.TimeBasedTriggers, cp.SizeBasedTriggers, cp.ManualTriggers, cp.FailedCheckpoints, cp.LastCheckpointLsn,
		)

		return refreshedMsg{ids: ids, rows: rows, stats: stats}
	}
}

type refreshedMsg struct {
	ids   []primitives.LogId
	rows  []table.Row
	stats string
}

type refreshErrMsg struct{ err error }

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
			return m, m.refresh()
		case "down", "j":
			if m.cursor < len(m.logIds)-1 {
				m.cursor++
			}
			return m, m.refresh()
		}

	case tickMsg:
		return m, tea.Batch(tickCmd(), m.refresh())

	case refreshedMsg:
		m.logIds = msg.ids
		m.stats = msg.stats
		m.err = nil
		if len(m.logIds) == 0 {
			m.cursor = 0
		} else if m.cursor >= len(m.logIds) {
			m.cursor = len(m.logIds) - 1
		}
		m.streams.SetRows(msg.rows)
		return m, nil

	case refreshErrMsg:
		m.err = msg.err
		return m, nil
	}
	return m, nil
}

func (m model) View() string {
	header := titleStyle.Render("logctl — physical log inspector")

	var logList string
	if len(m.logIds) == 0 {
		logList = plainLogStyle.Render("(no logs found)")
	} else {
		for i, id := range m.logIds {
			line := id.String()
			if i == m.cursor {
				logList += selectedLogStyle.Render("> "+line) + "\n"
			} else {
				logList += plainLogStyle.Render("  "+line) + "\n"
			}
		}
	}
	leftPane := paneStyle.Width(40).Render("Logs\n\n" + logList)
	rightPane := paneStyle.Render(m.streams.View())

	body := lipgloss.JoinHorizontal(lipgloss.Top, leftPane, rightPane)

	footer := statStyle.Render(m.stats)
	if m.err != nil {
		footer = errStyle.Render("error: " + m.err.Error())
	}

	return lipgloss.JoinVertical(lipgloss.Left, header, body, footer, statStyle.Render("↑/↓ select log · q quit"))
}
