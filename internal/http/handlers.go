package httpapi

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) routes() {
	s.mux.HandleFunc("/ws", s.handleWS)
	s.mux.HandleFunc("/api/v1/dispatch/riders", s.handleRiderSnapshot).Methods("GET")
	s.mux.HandleFunc("/api/v1/dispatch/deliveries", s.handleDeliverySnapshot).Methods("GET")
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

// handleRiderSnapshot serves riderId -> {status, location, lastSeen} for the
// admin dashboard.
func (s *Server) handleRiderSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.tracker.Snapshot())
}

// handleDeliverySnapshot serves every delivery record with its current state,
// oldest first.
func (s *Server) handleDeliverySnapshot(w http.ResponseWriter, r *http.Request) {
	deliveries := s.ledger.Snapshot()
	sort.Slice(deliveries, func(i, j int) bool {
		return deliveries[i].CreatedAt.Before(deliveries[j].CreatedAt)
	})
	writeJSON(w, deliveries)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
