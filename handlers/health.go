package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/switchboard-ai/switchboard/manager"
)

// HealthCheck returns a simple health check handler
func HealthCheck() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}

// ReadinessCheck reports ready once at least one provider is registered
// and healthy enough to serve.
func ReadinessCheck(m *manager.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := map[string]interface{}{
			"status": "ready",
			"checks": map[string]string{},
		}
		checks := response["checks"].(map[string]string)

		names := m.ListProviders()
		if len(names) == 0 {
			response["status"] = "not_ready"
			checks["providers"] = "none_registered"
		} else {
			healthy := 0
			for _, name := range names {
				if _, health, err := m.ProviderInfo(name); err == nil && health.Status != manager.StatusUnhealthy {
					healthy++
				}
			}
			if healthy == 0 {
				response["status"] = "not_ready"
				checks["providers"] = "all_unhealthy"
			} else {
				checks["providers"] = "configured"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if response["status"] == "ready" {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(response)
	}
}

// StatusHandler returns application status information
func StatusHandler(m *manager.Manager, environment string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := map[string]interface{}{
			"version":     "0.1.0",
			"environment": environment,
			"providers":   m.ListProviders(),
			"default":     m.DefaultProvider(),
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(response)
	}
}
