package api

import "github.com/mattjoyce/extinit/pkg/extinit"

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	State         string `json:"state"`
}

// EntryPointView is one entry point as reported by GET /entrypoints.
type EntryPointView struct {
	Group       string `json:"group"`
	Name        string `json:"name"`
	Value       string `json:"value"`
	Dist        string `json:"dist,omitempty"`
	DistVersion string `json:"dist_version,omitempty"`
}

// EntryPointsResponse is returned by GET /entrypoints.
type EntryPointsResponse struct {
	Group       string           `json:"group"`
	Name        string           `json:"name"`
	EntryPoints []EntryPointView `json:"entry_points"`
}

// StatusResponse is returned by GET /status and POST /init.
type StatusResponse struct {
	State  string          `json:"state"`
	Result *extinit.Result `json:"result,omitempty"`
}
