package orchestration

import (
	"encoding/json"
	"net/http"
)

// StatsHandler serves Executor.Stats as JSON keyed by strategy kind.
func StatsHandler(e *Executor) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(e.Stats())
	})
}
