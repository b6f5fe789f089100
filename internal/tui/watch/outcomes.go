package watch

import (
	"encoding/json"
	"time"

	"github.com/charmbracelet/bubbles/table"

	"github.com/mattjoyce/extinit/internal/api"
)

// Outcome is the latest reported result for one extension.
type Outcome struct {
	Value  string
	Dist   string
	Failed bool
	Kind   string
	Detail string
}

// RunSummary is decoded from init.completed.
type RunSummary struct {
	RunID     string        `json:"run_id"`
	Attempted int           `json:"attempted"`
	Loaded    []string      `json:"loaded"`
	Failed    []any         `json:"failed"`
	Duration  time.Duration `json:"duration"`
}

type outcomePayload struct {
	Value   string `json:"value"`
	Dist    string `json:"dist"`
	Elapsed string `json:"elapsed"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// outcomes keeps extension results in arrival order, one row per value.
type outcomes struct {
	order   []string
	byValue map[string]Outcome
	summary *RunSummary
}

func newOutcomes() outcomes {
	return outcomes{byValue: make(map[string]Outcome)}
}

// apply folds one stream event in. It reports whether anything changed.
func (o *outcomes) apply(e api.Event) bool {
	switch e.Type {
	case api.EventExtensionLoaded, api.EventExtensionFailed:
		var p outcomePayload
		if err := json.Unmarshal(e.Data, &p); err != nil || p.Value == "" {
			return false
		}
		out := Outcome{Value: p.Value, Dist: p.Dist, Detail: p.Elapsed}
		if e.Type == api.EventExtensionFailed {
			out.Failed = true
			out.Kind = p.Kind
			out.Detail = p.Message
		}
		if _, seen := o.byValue[p.Value]; !seen {
			o.order = append(o.order, p.Value)
		}
		o.byValue[p.Value] = out
		return true
	case api.EventInitCompleted:
		var s RunSummary
		if err := json.Unmarshal(e.Data, &s); err != nil {
			return false
		}
		o.summary = &s
		return true
	}
	return false
}

func (o *outcomes) rows() []table.Row {
	rows := make([]table.Row, 0, len(o.order))
	for _, v := range o.order {
		out := o.byValue[v]
		status := "ok"
		if out.Failed {
			status = "FAIL"
		}
		rows = append(rows, table.Row{status, out.Value, out.Dist, out.Kind, out.Detail})
	}
	return rows
}
