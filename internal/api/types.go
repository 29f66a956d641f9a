package api

import "github.com/mattjoyce/foreman/internal/control"

// ControlRequest is the JSON body for POST /v1/control/{command}.
type ControlRequest struct {
	Arguments map[string]any `json:"arguments,omitempty"`
	// Replies is how many worker replies to wait for. Zero means
	// fire-and-forget.
	Replies int `json:"replies,omitempty"`
	// TimeoutMS bounds the reply wait. Defaults to 1000.
	TimeoutMS int `json:"timeout_ms,omitempty"`
}

// ControlResponse is returned by POST /v1/control/{command}.
type ControlResponse struct {
	Command string          `json:"command"`
	Status  string          `json:"status"`
	Replies []control.Reply `json:"replies,omitempty"`
}

// StatusResponse is returned by GET /v1/status.
type StatusResponse struct {
	Worker map[string]any `json:"worker"`
}

// RevokedResponse is returned by GET /v1/revoked.
type RevokedResponse struct {
	TaskIDs []string `json:"task_ids"`
	Count   int      `json:"count"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is returned by GET /v1/health.
type HealthResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}
