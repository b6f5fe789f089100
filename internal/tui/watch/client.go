package watch

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/extinit/internal/api"
)

// --- Message types ---

type eventMsg api.Event

type healthMsg api.HealthzResponse

type errMsg error

// sseDisconnectedMsg reports that the stream ended. err is set when the
// server refused the subscription.
type sseDisconnectedMsg struct{ err error }

type reconnectMsg struct{}

// --- Commands ---

func newRequest(apiURL, token, path string) (*http.Request, error) {
	req, err := http.NewRequest(http.MethodGet, strings.TrimRight(apiURL, "/")+path, nil)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

// subscribeToEvents streams /events into ch until the connection drops.
// after is the last event ID already seen; the server replays anything newer.
func subscribeToEvents(apiURL, token string, after uint64, ch chan<- api.Event) tea.Cmd {
	return func() tea.Msg {
		req, err := newRequest(apiURL, token, "/events")
		if err != nil {
			return errMsg(err)
		}
		if after > 0 {
			req.Header.Set("Last-Event-ID", strconv.FormatUint(after, 10))
		}

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return sseDisconnectedMsg{}
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return sseDisconnectedMsg{err: fmt.Errorf("GET /events: %s", resp.Status)}
		}

		_ = readSSE(resp.Body, func(ev api.Event) { ch <- ev })
		return sseDisconnectedMsg{}
	}
}

// readSSE decodes an event stream, calling emit once per complete event.
// Comment lines such as keep-alive pings are skipped.
func readSSE(r io.Reader, emit func(api.Event)) error {
	scanner := bufio.NewScanner(r)
	var (
		ev   api.Event
		data []string
	)

	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			if len(data) > 0 {
				ev.At = time.Now()
				ev.Data = json.RawMessage(strings.Join(data, "\n"))
				emit(ev)
			}
			ev, data = api.Event{}, nil
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "id":
			if id, err := strconv.ParseUint(value, 10, 64); err == nil {
				ev.ID = id
			}
		case "event":
			ev.Type = value
		case "data":
			data = append(data, value)
		}
	}
	return scanner.Err()
}

// receiveNextEvent waits for the next event from the channel.
func receiveNextEvent(ch <-chan api.Event) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-ch)
	}
}

// fetchHealth queries the /healthz endpoint.
func fetchHealth(apiURL, token string) tea.Msg {
	client := &http.Client{Timeout: 2 * time.Second}
	req, err := newRequest(apiURL, token, "/healthz")
	if err != nil {
		return errMsg(err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return errMsg(err)
	}
	defer resp.Body.Close()

	var h healthMsg
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return errMsg(err)
	}
	return h
}
