package registry

import (
	"encoding/json"
	"net/http"

	"github.com/itsneelabh/workforce/core"
)

// StatusHandler serves GetRegistryStatus as JSON. A critical registry
// answers 503 so load balancers can act on it.
func StatusHandler(reg *Registry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		status := reg.GetRegistryStatus()
		code := http.StatusOK
		if status.Health.Status == HealthCritical {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, status)
	})
}

// MetricsHandler serves performance snapshots as JSON: all workers, or the
// one named by the id query parameter.
func MetricsHandler(reg *Registry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		id := req.URL.Query().Get("id")
		if id == "" {
			writeJSON(w, http.StatusOK, reg.GetAllPerformanceMetrics())
			return
		}

		snap, err := reg.GetPerformanceMetrics(id)
		if err != nil {
			if core.IsNotFound(err) {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
				return
			}
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, snap)
	})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
