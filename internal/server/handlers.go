package server

import (
	"encoding/json"
	"net/http"
	"time"
)

type healthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	State     string `json:"state"`
	SocketID  string `json:"socket_id,omitempty"`
	Channels  int    `json:"channels"`
}

// handleHealth answers 200 while connected and 503 otherwise so it can back
// a readiness probe.
func (s *HealthServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	st := s.status()

	code, status := http.StatusOK, "ok"
	if !st.Connected {
		code, status = http.StatusServiceUnavailable, "degraded"
	}

	writeJSON(w, code, healthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		State:     st.State,
		SocketID:  st.SocketID,
		Channels:  len(st.Channels),
	})
}

func (s *HealthServer) handleChannels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.status().Channels)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
