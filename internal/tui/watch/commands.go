package watch

import (
	"encoding/json"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/foreman/internal/events"
)

// CommandEntry is one row of control-command activity.
type CommandEntry struct {
	At      time.Time
	Command string
	Status  string
}

const maxCommandEntries = 20

// newCommandTable builds the command activity table.
func newCommandTable() table.Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Time", Width: 8},
			{Title: "Command", Width: 20},
			{Title: "Status", Width: 10},
		}),
		table.WithFocused(true),
		table.WithHeight(6),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	return t
}

// updateCommandLog folds command events into the activity log, newest first.
func updateCommandLog(log []CommandEntry, e events.Event) []CommandEntry {
	var status string
	switch e.Type {
	case events.CommandReceived:
		status = "ok"
	case events.CommandUnknown:
		status = "unknown"
	case events.CommandFailed:
		status = "failed"
	default:
		return log
	}

	data := make(map[string]any)
	_ = json.Unmarshal(e.Data, &data)
	command, _ := data["command"].(string)
	if command == "" {
		command = "?"
	}

	log = append([]CommandEntry{{At: e.At, Command: command, Status: status}}, log...)
	if len(log) > maxCommandEntries {
		log = log[:maxCommandEntries]
	}
	return log
}

func commandRows(log []CommandEntry) []table.Row {
	rows := make([]table.Row, 0, len(log))
	for _, entry := range log {
		rows = append(rows, table.Row{
			entry.At.Format("15:04:05"),
			entry.Command,
			entry.Status,
		})
	}
	return rows
}

func renderCommands(t table.Model, theme Theme, width int) string {
	innerWidth := width - 4

	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("CONTROL COMMANDS"),
		t.View(),
	)
	return theme.Border.Width(innerWidth).Render(content)
}
