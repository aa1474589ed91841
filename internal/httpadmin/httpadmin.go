// Package httpadmin mounts the operational side-channel HTTP surface:
// health probes and the Prometheus scrape endpoint. It never carries
// commands — those go over internal/transport.
package httpadmin

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthFunc reports whether the process is ready to accept commands
// and, if not, why.
type HealthFunc func() (ready bool, detail string)

// Mount wires /healthz, /readyz and /metrics onto r. healthy is called
// per-request, never cached, so it reflects supervisor shutdown/drain
// state immediately.
func Mount(r chi.Router, healthy HealthFunc) {
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		jsonResponse(w, http.StatusOK, map[string]any{
			"status": "ok",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	})

	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		ready, detail := healthy()
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		jsonResponse(w, status, map[string]any{
			"ready":  ready,
			"detail": detail,
		})
	})

	r.Handle("/metrics", promhttp.Handler())
}

func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
