package watch

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/extinit/internal/api"
)

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	out, ok := next.(Model)
	require.True(t, ok)
	return out
}

func event(t *testing.T, id uint64, typ string, payload any) eventMsg {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return eventMsg(api.Event{ID: id, Type: typ, At: time.Now(), Data: data})
}

func TestReadSSE(t *testing.T) {
	stream := strings.Join([]string{
		": ping",
		"",
		"id: 1",
		"event: extension.loaded",
		`data: {"value":"pkgA:setup"}`,
		"",
		"id: 2",
		"event: init.completed",
		`data: {"run_id":`,
		`data: "r1"}`,
		"",
		"id: 3",
		"event: truncated",
	}, "\n")

	var got []api.Event
	require.NoError(t, readSSE(strings.NewReader(stream), func(ev api.Event) { got = append(got, ev) }))

	require.Len(t, got, 2)
	assert.Equal(t, uint64(1), got[0].ID)
	assert.Equal(t, api.EventExtensionLoaded, got[0].Type)
	assert.JSONEq(t, `{"value":"pkgA:setup"}`, string(got[0].Data))
	assert.Equal(t, api.EventInitCompleted, got[1].Type)
	assert.Equal(t, "{\"run_id\":\n\"r1\"}", string(got[1].Data))
}

func TestModelTracksOutcomes(t *testing.T) {
	m := *New("http://example.invalid", "")

	m = update(t, m, event(t, 1, api.EventExtensionLoaded, map[string]string{"value": "pkgA:setup", "elapsed": "2ms"}))
	m = update(t, m, event(t, 2, api.EventExtensionFailed, map[string]string{
		"value": "pkgMissing:setup", "dist": "broken", "kind": "NotFoundError", "message": "no resolver",
	}))
	m = update(t, m, event(t, 3, api.EventInitCompleted, map[string]any{
		"run_id": "0123456789", "attempted": 2, "loaded": []string{"pkgA:setup"},
		"failed": []map[string]string{{"value": "pkgMissing:setup"}}, "duration": int64(5 * time.Millisecond),
	}))
	// A replay after reconnecting repeats IDs already applied.
	m = update(t, m, event(t, 2, api.EventExtensionFailed, map[string]string{"value": "pkgReplayed:setup"}))

	rows := m.table.Rows()
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"ok", "pkgA:setup", "", "", "2ms"}, []string(rows[0]))
	assert.Equal(t, []string{"FAIL", "pkgMissing:setup", "broken", "NotFoundError", "no resolver"}, []string(rows[1]))

	require.NotNil(t, m.outcomes.summary)
	assert.Equal(t, 2, m.outcomes.summary.Attempted)
	assert.Len(t, m.outcomes.summary.Failed, 1)
	assert.Equal(t, uint64(3), m.lastID)
	assert.Len(t, m.eventLog, 3)
	assert.True(t, m.health.Connected)
}

func TestModelResetsAfterServerRestart(t *testing.T) {
	m := *New("http://example.invalid", "")
	m = update(t, m, healthMsg{Status: "ok", State: "initialized", UptimeSeconds: 120})
	m = update(t, m, event(t, 7, api.EventExtensionLoaded, map[string]string{"value": "pkgA:setup"}))
	require.Equal(t, uint64(7), m.lastID)

	m = update(t, m, healthMsg{Status: "ok", State: "uninitialized", UptimeSeconds: 3})
	assert.Zero(t, m.lastID)
	assert.Empty(t, m.table.Rows())

	m = update(t, m, event(t, 1, api.EventExtensionLoaded, map[string]string{"value": "pkgB:setup"}))
	require.Len(t, m.table.Rows(), 1)
	assert.Equal(t, "pkgB:setup", m.table.Rows()[0][1])
}

func TestModelDisconnectReportsError(t *testing.T) {
	m := *New("http://example.invalid", "")
	m = update(t, m, sseDisconnectedMsg{err: fmt.Errorf("GET /events: 401 Unauthorized")})
	assert.False(t, m.health.Connected)
	assert.Contains(t, m.lastError, "401")

	m = update(t, m, sseDisconnectedMsg{})
	assert.Contains(t, m.lastError, "reconnecting")
}

func TestViewRendersOutcomes(t *testing.T) {
	m := *New("http://example.invalid", "")
	assert.Equal(t, "Connecting to extinit...", m.View())

	m = update(t, m, tea.WindowSizeMsg{Width: 140, Height: 40})
	m = update(t, m, healthMsg{Status: "ok", State: "initialized", UptimeSeconds: 65})
	m = update(t, m, event(t, 1, api.EventExtensionFailed, map[string]string{
		"value": "pkgMissing:setup", "kind": "NotFoundError",
	}))

	view := m.View()
	assert.Contains(t, view, "EXTINIT WATCH")
	assert.Contains(t, view, "initialized")
	assert.Contains(t, view, "1m 5s")
	assert.Contains(t, view, "pkgMissing:setup")
	assert.Contains(t, view, "NotFoundError")
	assert.Contains(t, view, "Waiting for init.completed")
}

func TestSubscribeSendsCursorAndToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/events", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "4", r.Header.Get("Last-Event-ID"))
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "id: 5\nevent: extension.loaded\ndata: {\"value\":\"pkgA:setup\"}\n\n")
	}))
	defer srv.Close()

	ch := make(chan api.Event, 4)
	msg := subscribeToEvents(srv.URL+"/", "tok", 4, ch)()

	assert.Equal(t, sseDisconnectedMsg{}, msg)
	require.Len(t, ch, 1)
	ev := <-ch
	assert.Equal(t, uint64(5), ev.ID)
	assert.Equal(t, api.EventExtensionLoaded, ev.Type)
}

func TestSubscribeRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	msg := subscribeToEvents(srv.URL, "", 0, make(chan api.Event, 1))()

	disc, ok := msg.(sseDisconnectedMsg)
	require.True(t, ok)
	require.Error(t, disc.err)
	assert.Contains(t, disc.err.Error(), "401")
}

func TestFetchHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"), "healthz needs no token when none is set")
		_ = json.NewEncoder(w).Encode(api.HealthzResponse{Status: "ok", UptimeSeconds: 9, State: "initializing"})
	}))
	defer srv.Close()

	msg := fetchHealth(srv.URL, "")
	assert.Equal(t, healthMsg{Status: "ok", UptimeSeconds: 9, State: "initializing"}, msg)

	_, isErr := fetchHealth("http://127.0.0.1:0", "").(errMsg)
	assert.True(t, isErr)
}
