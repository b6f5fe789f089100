package watch

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/extinit/internal/api"
)

const (
	eventLogSize   = 50
	healthInterval = 5 * time.Second
	reconnectDelay = 3 * time.Second
)

// HealthState tracks server health from /healthz polling.
type HealthState struct {
	Status        string
	State         string
	UptimeSeconds int64
	Connected     bool
	LastCheck     time.Time
}

// Model is the BubbleTea model for the watch TUI.
type Model struct {
	apiURL string
	token  string

	width  int
	height int

	health   HealthState
	outcomes outcomes
	eventLog []api.Event
	lastID   uint64

	table   table.Model
	spinner spinner.Model
	theme   Theme

	hubEvents chan api.Event
	lastError string
}

// New creates a watch model for the server at apiURL. token may be empty when
// the API is open.
func New(apiURL, token string) *Model {
	theme := NewDefaultTheme()

	t := table.New(
		table.WithColumns(columns(80)),
		table.WithFocused(true),
		table.WithHeight(10),
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

	return &Model{
		apiURL:    apiURL,
		token:     token,
		outcomes:  newOutcomes(),
		eventLog:  make([]api.Event, 0),
		table:     t,
		spinner:   spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(theme.Highlight)),
		theme:     theme,
		hubEvents: make(chan api.Event, 100),
	}
}

// columns sizes the outcome table for a terminal width.
func columns(width int) []table.Column {
	detail := max(width-4-6-28-12-20-10, 16)
	return []table.Column{
		{Title: "ST", Width: 4},
		{Title: "Extension", Width: 28},
		{Title: "Dist", Width: 12},
		{Title: "Kind", Width: 20},
		{Title: "Detail", Width: detail},
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribeToEvents(m.apiURL, m.token, m.lastID, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		func() tea.Msg { return fetchHealth(m.apiURL, m.token) },
		m.spinner.Tick,
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.table, cmd = m.table.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetColumns(columns(msg.Width))
		m.table.SetHeight(max(msg.Height-22, 5))

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case eventMsg:
		e := api.Event(msg)
		// Replays after a reconnect can repeat events already shown.
		if e.ID != 0 && e.ID <= m.lastID {
			return m, receiveNextEvent(m.hubEvents)
		}
		m.lastID = max(m.lastID, e.ID)

		m.eventLog = append([]api.Event{e}, m.eventLog...)
		if len(m.eventLog) > eventLogSize {
			m.eventLog = m.eventLog[:eventLogSize]
		}
		if m.outcomes.apply(e) {
			m.table.SetRows(m.outcomes.rows())
		}

		m.health.Connected = true
		m.lastError = ""
		return m, receiveNextEvent(m.hubEvents)

	case healthMsg:
		// A shorter uptime means the server restarted and event IDs start over.
		if !m.health.LastCheck.IsZero() && msg.UptimeSeconds < m.health.UptimeSeconds {
			m.lastID = 0
			m.outcomes = newOutcomes()
			m.table.SetRows(nil)
		}
		m.health.Status = msg.Status
		m.health.State = msg.State
		m.health.UptimeSeconds = msg.UptimeSeconds
		m.health.Connected = true
		m.health.LastCheck = time.Now()
		m.lastError = ""

		return m, tea.Tick(healthInterval, func(time.Time) tea.Msg {
			return fetchHealth(m.apiURL, m.token)
		})

	case sseDisconnectedMsg:
		m.health.Connected = false
		m.lastError = "event stream disconnected, reconnecting..."
		if msg.err != nil {
			m.lastError = msg.err.Error()
		}
		// The pending receiveNextEvent keeps reading the shared channel, so
		// the new subscription only needs to be started.
		return m, tea.Tick(reconnectDelay, func(time.Time) tea.Msg {
			return reconnectMsg{}
		})

	case reconnectMsg:
		return m, subscribeToEvents(m.apiURL, m.token, m.lastID, m.hubEvents)

	case errMsg:
		m.lastError = msg.Error()
		return m, tea.Tick(healthInterval, func(time.Time) tea.Msg {
			return fetchHealth(m.apiURL, m.token)
		})
	}

	return m, nil
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting to extinit..."
	}

	header := renderHeader(m.health, m.outcomes, m.spinner.View(), m.theme, m.width)
	extensions := m.theme.Border.Width(m.width - 4).Render(lipgloss.JoinVertical(lipgloss.Left,
		m.theme.Title.Render("EXTENSIONS"),
		m.table.View(),
	))
	eventStream := renderEventStream(m.eventLog, m.theme, m.width)

	parts := []string{header, extensions, eventStream}
	if m.lastError != "" {
		parts = append(parts, m.theme.StatusFailed.Render(fmt.Sprintf(" ⚠ %s", m.lastError)))
	}
	parts = append(parts, lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render(" [q] Quit • [↑/↓] Scroll extensions"))

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}
