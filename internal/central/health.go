package central

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rickgao/central/internal/version"
)

// Pinger checks a dependency. *pgxpool.Pool satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves /health and /debug/channels. audit may be nil.
func (c *Central) HealthHandler(audit Pinger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		stats := c.Stats()
		health := struct {
			Status     string         `json:"status"`
			Version    version.Info   `json:"version"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Version:    version.Get(),
			Components: make(map[string]any),
		}

		if audit != nil {
			if err := audit.Ping(ctx); err != nil {
				health.Status = "unhealthy"
				health.Components["audit_db"] = map[string]string{
					"status": "disconnected",
					"error":  err.Error(),
				}
			} else {
				health.Components["audit_db"] = "connected"
			}
		}

		health.Components["coordinator"] = stats
		// No channel connected yet: nothing to coordinate.
		if stats.Channels == 0 && health.Status == "healthy" {
			health.Status = "degraded"
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		if err := json.NewEncoder(w).Encode(health); err != nil {
			c.logger.Debug("health response write failed", "error", err)
		}
	})

	mux.HandleFunc("/debug/channels", func(w http.ResponseWriter, r *http.Request) {
		channels := c.ChannelList()
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]any{
			"count":    len(channels),
			"channels": channels,
		}); err != nil {
			c.logger.Debug("debug response write failed", "error", err)
		}
	})

	return mux
}
