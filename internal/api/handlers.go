package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/mattjoyce/extinit/pkg/entrypoint"
)

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		State:         s.init.State().String(),
	})
}

// handleEntryPoints handles GET /entrypoints.
// The listing is the exact set InitAll runs, in run order.
func (s *Server) handleEntryPoints(w http.ResponseWriter, r *http.Request) {
	eps, err := s.init.EntryPoints(r.Context())
	if err != nil {
		s.logger.Error("failed to list entry points", "error", err)
		s.writeError(w, http.StatusBadGateway, "entry point metadata unavailable")
		return
	}
	if s.metrics != nil {
		s.metrics.SetEntryPoints(s.config.Group, s.config.Name, len(eps))
	}

	resp := EntryPointsResponse{
		Group:       s.config.Group,
		Name:        s.config.Name,
		EntryPoints: make([]EntryPointView, 0, len(eps)),
	}
	for _, ep := range eps {
		resp.EntryPoints = append(resp.EntryPoints, viewOf(ep))
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleStatus handles GET /status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, StatusResponse{
		State:  s.init.State().String(),
		Result: s.lastResult(),
	})
}

// handleInit handles POST /init. Only the first successful call runs
// extensions; later calls report the recorded result. The run outlives the
// request: a client hanging up must not cancel extensions mid-init.
func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	res, err := s.init.InitAll(context.WithoutCancel(r.Context()))
	if err != nil {
		s.logger.Error("extension initialization failed", "error", err)
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	status := http.StatusOK
	if !res.Skipped {
		s.RecordResult(res)
		status = http.StatusCreated
	}
	respondJSON(w, status, StatusResponse{
		State:  s.init.State().String(),
		Result: s.lastResult(),
	})
}

func viewOf(ep entrypoint.EntryPoint) EntryPointView {
	v := EntryPointView{Group: ep.Group, Name: ep.Name, Value: ep.Value}
	if ep.Dist != nil {
		v.Dist = ep.Dist.Name
		v.DistVersion = ep.Dist.Version
	}
	return v
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
