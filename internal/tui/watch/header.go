package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// HealthState tracks API reachability from /v1/health polling.
type HealthState struct {
	Status        string
	UptimeSeconds int64
	Connected     bool
	LastCheck     time.Time
}

// WorkerState mirrors the worker stats reported by /v1/status.
type WorkerState struct {
	Hostname string
	PoolSize int
	Active   int
	Clock    int64
	State    string
	Revoked  int
}

// updateWorkerState folds a /v1/status payload into the view state.
func updateWorkerState(w *WorkerState, stats map[string]any) {
	if v, ok := stats["hostname"].(string); ok {
		w.Hostname = v
	}
	if v, ok := stats["pool_size"].(float64); ok {
		w.PoolSize = int(v)
	}
	if v, ok := stats["active"].(float64); ok {
		w.Active = int(v)
	}
	if v, ok := stats["clock"].(float64); ok {
		w.Clock = int64(v)
	}
	if v, ok := stats["state"].(string); ok {
		w.State = v
	}
	if v, ok := stats["revoked"].(float64); ok {
		w.Revoked = int(v)
	}
}

func renderHeader(health HealthState, worker WorkerState, ticker Ticker, spinner Spinner, theme Theme, width int) string {
	innerWidth := width - 4

	// Status
	statusText := theme.StatusOK.Render("HEALTHY")
	statusIcon := "✅"
	if !health.Connected {
		statusText = theme.StatusFailed.Render("CONNECTING")
		statusIcon = "🔌"
	} else if health.Status != "ok" && health.Status != "" {
		statusText = theme.StatusFailed.Render("DEGRADED")
		statusIcon = "⚠️"
	}

	// Uptime
	uptime := time.Duration(health.UptimeSeconds) * time.Second
	uptimeStr := formatDuration(uptime)

	// Last event
	lastEventStr := "never"
	if !spinner.LastEvent().IsZero() {
		ago := time.Since(spinner.LastEvent()).Round(time.Second)
		lastEventStr = fmt.Sprintf("%s ago", ago)
	}

	// Title line with ticker and clock
	tickerStr := theme.Highlight.Render(ticker.Current())
	clock := theme.Dim.Render(time.Now().Format("15:04:05"))
	title := " FOREMAN WATCH"
	if worker.Hostname != "" {
		title = fmt.Sprintf(" FOREMAN WATCH · %s", worker.Hostname)
	}
	titleText := fmt.Sprintf("%s %s", title, tickerStr)

	// Calculate padding between title and clock
	titleWidth := lipgloss.Width(titleText)
	clockWidth := lipgloss.Width(clock)
	pad := innerWidth - titleWidth - clockWidth - 4
	if pad < 1 {
		pad = 1
	}
	titleLine := titleText + strings.Repeat(" ", pad) + clock + " "

	// Stats line
	statsLine := fmt.Sprintf(" %s %s  ⏱ %s  Pool: %d  Active: %d  Clock: %d  Revoked: %d",
		statusIcon, statusText,
		uptimeStr,
		worker.PoolSize,
		worker.Active,
		worker.Clock,
		worker.Revoked,
	)

	// Activity line
	activityLine := fmt.Sprintf(" Last event: %s %s",
		lastEventStr,
		spinner.Render(theme),
	)

	content := lipgloss.JoinVertical(lipgloss.Left,
		titleLine,
		statsLine,
		activityLine,
	)

	return theme.Border.Width(innerWidth).Render(content)
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
