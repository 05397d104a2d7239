package main

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"marketgateway/internal/marketdata"
	"marketgateway/internal/observ"
	"marketgateway/internal/service"
)

// routes wires the observability surface. Domain data endpoints belong
// to the application embedding the gateway, not here.
func routes(svc *service.DataService) http.Handler {
	r := mux.NewRouter()

	r.Handle("/metrics", observ.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/api/health", func(w http.ResponseWriter, _ *http.Request) {
		status := svc.Status()
		code := http.StatusOK
		if !status.OverallHealthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]any{
			"healthy":   status.OverallHealthy,
			"timestamp": status.Timestamp,
		})
	}).Methods(http.MethodGet)

	r.HandleFunc("/api/status", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, svc.Status())
	}).Methods(http.MethodGet)

	r.HandleFunc("/api/providers/{provider}/health", func(w http.ResponseWriter, req *http.Request) {
		p, err := marketdata.ParseProviderType(mux.Vars(req)["provider"])
		if err != nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, svc.HealthSnapshot(p))
	}).Methods(http.MethodGet)

	r.HandleFunc("/api/cost/reset", func(w http.ResponseWriter, req *http.Request) {
		if name := req.URL.Query().Get("provider"); name != "" {
			p, err := marketdata.ParseProviderType(name)
			if err != nil {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
				return
			}
			svc.ResetCostTracking(p)
		} else {
			svc.ResetAllCostTracking()
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
	}).Methods(http.MethodPost)

	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
