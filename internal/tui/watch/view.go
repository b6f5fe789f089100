package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/extinit/internal/api"
)

const eventStreamRows = 8

func renderHeader(health HealthState, o outcomes, spin string, theme Theme, width int) string {
	innerWidth := width - 4

	statusText := theme.StatusOK.Render("CONNECTED")
	if !health.Connected {
		statusText = theme.StatusFailed.Render("CONNECTING")
	} else if health.Status != "ok" && health.Status != "" {
		statusText = theme.StatusFailed.Render("DEGRADED")
	}

	state := health.State
	if state == "" {
		state = "unknown"
	}
	stateStyle := theme.StatusIdle
	if state == "initialized" {
		stateStyle = theme.StatusOK
	}

	titleText := fmt.Sprintf(" EXTINIT WATCH %s", spin)
	clock := theme.Dim.Render(time.Now().Format("15:04:05"))
	pad := max(innerWidth-lipgloss.Width(titleText)-lipgloss.Width(clock)-4, 1)
	titleLine := titleText + strings.Repeat(" ", pad) + clock + " "

	statsLine := fmt.Sprintf(" %s  State: %s  ⏱ %s",
		statusText,
		stateStyle.Render(state),
		formatDuration(time.Duration(health.UptimeSeconds)*time.Second),
	)

	runLine := theme.Dim.Render(" Waiting for init.completed...")
	if s := o.summary; s != nil {
		failed := theme.StatusOK.Render("0 failed")
		if len(s.Failed) > 0 {
			failed = theme.StatusFailed.Render(fmt.Sprintf("%d failed", len(s.Failed)))
		}
		runLine = fmt.Sprintf(" Run %s  %d/%d loaded  %s  in %s",
			theme.Highlight.Render(shortID(s.RunID)),
			len(s.Loaded), s.Attempted, failed,
			s.Duration.Round(time.Millisecond),
		)
	}

	return theme.Border.Width(innerWidth).Render(
		lipgloss.JoinVertical(lipgloss.Left, titleLine, statsLine, runLine),
	)
}

func renderEventStream(eventLog []api.Event, theme Theme, width int) string {
	innerWidth := width - 4

	if len(eventLog) == 0 {
		return theme.Border.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("EVENT STREAM"),
			theme.Dim.Render("  Waiting for events..."),
		))
	}

	var lines []string
	for i, e := range eventLog {
		if i >= eventStreamRows {
			break
		}
		lines = append(lines, formatEvent(e, theme))
	}

	return theme.Border.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("EVENT STREAM"),
		lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n")),
	))
}

func formatEvent(e api.Event, theme Theme) string {
	var typeStyle lipgloss.Style
	switch e.Type {
	case api.EventExtensionLoaded, api.EventInitCompleted:
		typeStyle = theme.StatusOK
	case api.EventExtensionFailed:
		typeStyle = theme.StatusFailed
	default:
		typeStyle = theme.Dim
	}

	return fmt.Sprintf("%s %s %s",
		theme.Dim.Render(e.At.Format("15:04:05")),
		typeStyle.Render(fmt.Sprintf("%-18s", e.Type)),
		eventDesc(e),
	)
}

func eventDesc(e api.Event) string {
	o := newOutcomes()
	if o.apply(e) {
		if o.summary != nil {
			return fmt.Sprintf("run %s", shortID(o.summary.RunID))
		}
		out := o.byValue[o.order[0]]
		if out.Failed {
			return fmt.Sprintf("%s %s", out.Value, out.Kind)
		}
		return fmt.Sprintf("%s %s", out.Value, out.Detail)
	}
	raw := string(e.Data)
	if len(raw) > 60 {
		raw = raw[:60] + "..."
	}
	return raw
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
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
