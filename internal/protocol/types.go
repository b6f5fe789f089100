package protocol

import "time"

// Version is the envelope version extinit speaks to executable entrypoints.
const Version = 2

// Request is the envelope written to an executable entrypoint's stdin.
type Request struct {
	Protocol   int       `json:"protocol"`
	RunID      string    `json:"run_id,omitempty"`
	Command    string    `json:"command"` // init unless the entry names another attr
	Group      string    `json:"group"`
	Entry      string    `json:"entry"` // declared entry point value
	Dist       string    `json:"dist,omitempty"`
	DistDir    string    `json:"dist_dir,omitempty"`
	DeadlineAt time.Time `json:"deadline_at"`
}

// Response is the envelope read from an executable entrypoint's stdout.
type Response struct {
	Status string     `json:"status"` // ok | error
	Error  string     `json:"error,omitempty"`
	Logs   []LogEntry `json:"logs,omitempty"`
}

// LogEntry represents a log message from an extension.
type LogEntry struct {
	Level   string `json:"level"` // info | warn | error | debug
	Message string `json:"message"`
}

// OK reports whether the extension finished its command successfully.
func (r *Response) OK() bool {
	return r != nil && r.Status == "ok"
}
