package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// handleHealth handles GET /v1/health (no auth).
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	})
}

// handleStatus handles GET /v1/status. Reports the local worker only;
// use POST /v1/control/stats for a cluster-wide view.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, StatusResponse{Worker: s.worker.Stats()})
}

// handleControl handles POST /v1/control/{command}.
// Broadcasts the command to every listening worker on the control
// channel; with a non-zero replies count it waits for answers.
func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	command := chi.URLParam(r, "command")

	var req ControlRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	if req.Replies <= 0 {
		if err := s.client.Broadcast(command, req.Arguments); err != nil {
			s.logger.Error("control broadcast failed", "command", command, "error", err)
			s.writeError(w, http.StatusInternalServerError, "broadcast failed")
			return
		}
		s.writeJSON(w, http.StatusAccepted, ControlResponse{
			Command: command,
			Status:  "broadcast",
		})
		return
	}

	timeout := time.Duration(req.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = time.Second
	}

	replies, err := s.client.BroadcastReply(r.Context(), command, req.Arguments, req.Replies, timeout)
	if err != nil {
		s.logger.Error("control broadcast failed", "command", command, "error", err)
		s.writeError(w, http.StatusInternalServerError, "broadcast failed")
		return
	}

	s.writeJSON(w, http.StatusOK, ControlResponse{
		Command: command,
		Status:  "ok",
		Replies: replies,
	})
}

// handleRevoked handles GET /v1/revoked.
func (s *Server) handleRevoked(w http.ResponseWriter, r *http.Request) {
	ids, err := s.worker.Revoked()
	if err != nil {
		s.logger.Error("failed to list revoked tasks", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list revoked tasks")
		return
	}

	s.writeJSON(w, http.StatusOK, RevokedResponse{TaskIDs: ids, Count: len(ids)})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, ErrorResponse{Error: message})
}
