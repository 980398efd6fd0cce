package gateway

import (
	"encoding/json"
	"net/http"
	"time"
)

// StatusResponse is the JSON body returned by GET /api/v1/status.
type StatusResponse struct {
	Name          string     `json:"name"`
	Version       string     `json:"version"`
	UptimeSeconds int64      `json:"uptime_seconds"`
	Clients       int        `json:"clients"`
	Session       SessionRow `json:"session"`
}

// SessionRow summarizes the chat session.
type SessionRow struct {
	Mode         string `json:"mode"`
	Processing   bool   `json:"processing"`
	RetryAttempt int    `json:"retry_attempt"`
	Messages     int    `json:"messages"`
	PoolImages   int    `json:"pool_images"`
	Editing      bool   `json:"editing"`
}

// StatusHandler returns an HTTP handler for GET /api/v1/status.
func StatusHandler(s *Server, session Session, version string) http.Handler {
	startTime := time.Now()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		resp := StatusResponse{
			Name:          "pixelchat",
			Version:       version,
			UptimeSeconds: int64(time.Since(startTime).Seconds()),
			Clients:       s.ClientCount(),
			Session: SessionRow{
				Mode:         string(session.Mode()),
				Processing:   session.Processing(),
				RetryAttempt: session.RetryAttempt(),
				Messages:     len(session.Messages()),
				PoolImages:   session.PoolSnapshot().Total(),
				Editing:      session.EditState().Editing,
			},
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})
}
