package metrics

import (
	"encoding/json"
	"net/http"

	"github.com/kestrelqueue/taskqueue/internal/health"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewServer builds the operational HTTP surface for a worker/scheduler
// process: Prometheus scrape endpoint plus the liveness/readiness
// checks from SPEC_FULL.md §4. This is ops-facing, not the CLI/HTTP
// surface spec.md places out of scope.
func NewServer(addr string, checker *health.Checker) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, checker.Liveness(r.Context()))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		result := checker.Readiness(r.Context())
		status := http.StatusOK
		if result.Status != "up" {
			status = http.StatusServiceUnavailable
		}
		w.WriteHeader(status)
		writeHealth(w, result)
	})
	return &http.Server{Addr: addr, Handler: mux}
}

func writeHealth(w http.ResponseWriter, result health.HealthResult) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}
