package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/banglalekha/backend/internal/services"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Health reports liveness of the store and optional dependencies.
func Health(store Pinger, optional map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		checks := map[string]string{"store": "ok"}
		status, code := "healthy", http.StatusOK
		if err := store.Ping(ctx); err != nil {
			checks["store"] = err.Error()
			status, code = "unhealthy", http.StatusServiceUnavailable
		}
		for name, p := range optional {
			checks[name] = "ok"
			if err := p.Ping(ctx); err != nil {
				checks[name] = err.Error()
				if code == http.StatusOK {
					status = "degraded"
				}
			}
		}

		services.SendJSON(w, code, map[string]any{"status": status, "checks": checks})
	}
}
